// Package ggufqa provides a high-level API for GGUF Match-LSTM reader models
package ggufqa

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/lth/go-matchlstm/internal/answer"
	"github.com/lth/go-matchlstm/internal/kernels"
	modelrt "github.com/lth/go-matchlstm/internal/runtime"
)

// Errors returned by the runtime. Use errors.Is to test for them.
var (
	ErrInvalidConfig = modelrt.ErrInvalidConfig
	ErrShape         = modelrt.ErrShape
	ErrEmptySequence = modelrt.ErrEmptySequence
)

// Config is the model configuration stored in the model file.
type Config = modelrt.Config

// Runtime is the main interface for the question answering runtime
type Runtime interface {
	// Answer extracts an answer span for every query
	Answer(ctx context.Context, queries []Query) ([]Answer, error)

	// AnswerSingle answers one question about one passage
	AnswerSingle(ctx context.Context, passage, question string) (Answer, error)

	// Close releases resources
	Close() error

	// Config returns the model configuration
	Config() Config

	// VocabSize returns the number of word ids, reserved ids included
	VocabSize() int

	// NumParams returns the number of scalar model parameters
	NumParams() int
}

// Answer is the extracted span for one query. Start and End index the
// passage words; End is inclusive.
type Answer struct {
	Text  string
	Words []string
	Start int
	End   int
	Score float64

	// Boundary distributions over the passage words.
	StartProbs []float64
	EndProbs   []float64

	// Attention maps, filled when WithAttention is set.
	MatchAttention         [][]float64
	MatchAttentionBackward [][]float64
	SelfAttention          [][]float64
}

// qaRuntime implements Runtime
type qaRuntime struct {
	model   *modelrt.Model
	options Options
	logger  *log.Logger
}

// Options configures the runtime
type Options struct {
	// NumThreads bounds how many batches run concurrently. 0 uses GOMAXPROCS.
	NumThreads int

	// BatchSize is the number of queries padded into one forward pass
	// (default: 16). Larger batches amortise per-step overhead; smaller ones
	// waste less work on padding when passage lengths vary.
	BatchSize int

	// Verbose enables verbose logging
	Verbose bool

	// Logger receives verbose output. Defaults to the standard logger.
	Logger *log.Logger

	// Seed seeds the per-request inference context.
	Seed uint64

	// KeepAttention returns attention maps with every answer.
	KeepAttention bool

	// MaxWordLen truncates words to this many characters for the character
	// encoder. 0 keeps whole words.
	MaxWordLen int
}

// Option is a functional option for configuring the runtime
type Option func(*Options)

// WithThreads sets the number of threads
func WithThreads(n int) Option {
	return func(o *Options) {
		o.NumThreads = n
	}
}

// WithBatchSize sets the batch size
func WithBatchSize(n int) Option {
	return func(o *Options) {
		o.BatchSize = n
	}
}

// WithVerbose enables verbose logging
func WithVerbose(v bool) Option {
	return func(o *Options) {
		o.Verbose = v
	}
}

// WithLogger sets the destination for verbose logging
func WithLogger(l *log.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithSeed sets the inference seed
func WithSeed(seed uint64) Option {
	return func(o *Options) {
		o.Seed = seed
	}
}

// WithAttention requests attention maps in every Answer
func WithAttention(keep bool) Option {
	return func(o *Options) {
		o.KeepAttention = keep
	}
}

// WithMaxWordLen truncates words for the character encoder
func WithMaxWordLen(n int) Option {
	return func(o *Options) {
		o.MaxWordLen = n
	}
}

func resolveOptions(opts []Option) Options {
	options := Options{
		BatchSize: 16,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.BatchSize <= 0 {
		options.BatchSize = 1
	}
	return options
}

// Open opens a GGUF model file and returns a Runtime
func Open(path string, opts ...Option) (Runtime, error) {
	options := resolveOptions(opts)
	start := time.Now()
	model, err := modelrt.LoadModel(path, modelrt.LoadOptions{Threads: options.NumThreads})
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return newRuntime(model, options, path, time.Since(start)), nil
}

// OpenBytes loads a GGUF model from an in-memory image and returns a Runtime
func OpenBytes(data []byte, opts ...Option) (Runtime, error) {
	options := resolveOptions(opts)
	start := time.Now()
	model, err := modelrt.LoadModelFromBytes(data, modelrt.LoadOptions{Threads: options.NumThreads})
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return newRuntime(model, options, "<memory>", time.Since(start)), nil
}

func newRuntime(model *modelrt.Model, options Options, source string, elapsed time.Duration) *qaRuntime {
	logger := options.Logger
	if logger == nil {
		logger = log.Default()
	}
	if !options.Verbose {
		logger = log.New(io.Discard, "", 0)
	}
	r := &qaRuntime{model: model, options: options, logger: logger}

	cfg := model.Config()
	r.logger.Printf("loaded %s in %v: %d parameters, vocab %d, hidden %d, cell %s, seed %s",
		source, elapsed.Round(time.Millisecond), model.NumParams(), model.Vocab().Size(),
		cfg.HiddenSize, cfg.Cell, cfg.DecoderSeed)
	r.logger.Printf("stages: %v", model.StageNames())
	r.logger.Printf("cpu: %s", kernels.CPUFeatures())
	return r
}

// Answer extracts an answer for every query. All queries are validated
// before any computation; the context is checked between batches.
func (r *qaRuntime) Answer(ctx context.Context, queries []Query) ([]Answer, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: no queries", ErrEmptySequence)
	}

	examples := make([]modelrt.Example, len(queries))
	passages := make([][]string, len(queries))
	for i, q := range queries {
		ex, words, err := q.example(r.model.Vocab(), r.model.CharVocab(), r.options.MaxWordLen)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		examples[i] = ex
		passages[i] = words
	}

	start := time.Now()
	ic := modelrt.NewInferenceContext(r.options.Seed, false)
	results, err := r.model.ForwardBatches(ctx, ic, examples, r.options.BatchSize,
		modelrt.ForwardOptions{KeepAttention: r.options.KeepAttention})
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	r.logger.Printf("answered %d queries in %v (batch size %d)", len(queries), time.Since(start), r.options.BatchSize)

	answers := make([]Answer, len(results))
	for i, res := range results {
		answers[i] = Answer{
			Text:                   answer.Text(passages[i], res.Span),
			Words:                  answer.Extract(passages[i], res.Span),
			Start:                  res.Span.Start,
			End:                    res.Span.End,
			Score:                  res.Span.Score,
			StartProbs:             res.StartProbs,
			EndProbs:               res.EndProbs,
			MatchAttention:         res.MatchAttention,
			MatchAttentionBackward: res.MatchAttentionBackward,
			SelfAttention:          res.SelfAttention,
		}
	}
	return answers, nil
}

// AnswerSingle answers one question about one passage
func (r *qaRuntime) AnswerSingle(ctx context.Context, passage, question string) (Answer, error) {
	answers, err := r.Answer(ctx, []Query{{Passage: passage, Question: question}})
	if err != nil {
		return Answer{}, err
	}
	return answers[0], nil
}

// Close releases resources
func (r *qaRuntime) Close() error {
	return r.model.Close()
}

// Config returns the model configuration
func (r *qaRuntime) Config() Config {
	return r.model.Config()
}

// VocabSize returns the number of word ids
func (r *qaRuntime) VocabSize() int {
	return r.model.Vocab().Size()
}

// NumParams returns the number of scalar model parameters
func (r *qaRuntime) NumParams() int {
	return r.model.NumParams()
}
