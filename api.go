package matchlstm

import (
	"context"

	"github.com/lth/go-matchlstm/pkg/ggufqa"
)

// Option configures the runtime.
type Option = ggufqa.Option

// Options helpers for configuring the runtime.
var (
	WithThreads    = ggufqa.WithThreads
	WithBatchSize  = ggufqa.WithBatchSize
	WithVerbose    = ggufqa.WithVerbose
	WithLogger     = ggufqa.WithLogger
	WithSeed       = ggufqa.WithSeed
	WithAttention  = ggufqa.WithAttention
	WithMaxWordLen = ggufqa.WithMaxWordLen
)

// Query is a question asked against a passage.
type Query = ggufqa.Query

// Answer is an extracted answer span.
type Answer = ggufqa.Answer

// Config is the model configuration.
type Config = ggufqa.Config

// Errors re-exported for errors.Is checks.
var (
	ErrInvalidConfig = ggufqa.ErrInvalidConfig
	ErrShape         = ggufqa.ErrShape
	ErrEmptySequence = ggufqa.ErrEmptySequence
)

// Runtime wraps the underlying reader runtime and exposes a simplified API.
type Runtime struct {
	inner ggufqa.Runtime
}

// Open loads a GGUF model from disk and returns a Runtime.
func Open(path string, opts ...Option) (*Runtime, error) {
	rt, err := ggufqa.Open(path, opts...)
	if err != nil {
		return nil, err
	}
	return &Runtime{inner: rt}, nil
}

// OpenBytes loads a GGUF model directly from an in-memory byte slice.
func OpenBytes(data []byte, opts ...Option) (*Runtime, error) {
	rt, err := ggufqa.OpenBytes(data, opts...)
	if err != nil {
		return nil, err
	}
	return &Runtime{inner: rt}, nil
}

// Close releases resources associated with the runtime.
func (r *Runtime) Close() error {
	return r.inner.Close()
}

// Config reports the configuration of the loaded model.
func (r *Runtime) Config() Config {
	return r.inner.Config()
}

// Ask answers a single question about a passage and returns the answer text.
func (r *Runtime) Ask(ctx context.Context, passage, question string) (string, error) {
	a, err := r.inner.AnswerSingle(ctx, passage, question)
	if err != nil {
		return "", err
	}
	return a.Text, nil
}

// Answer answers a batch of queries.
func (r *Runtime) Answer(ctx context.Context, queries []Query) ([]Answer, error) {
	return r.inner.Answer(ctx, queries)
}

// Inner exposes the underlying runtime for advanced integrations.
func (r *Runtime) Inner() ggufqa.Runtime {
	return r.inner
}
