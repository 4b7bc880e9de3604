package runtime

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"

	"github.com/lth/go-matchlstm/internal/answer"
	"github.com/lth/go-matchlstm/internal/gguf"
	"github.com/lth/go-matchlstm/internal/nn"
	"github.com/lth/go-matchlstm/internal/vocab"
)

// Parameter names. Layer-internal names hang off these prefixes.
const (
	tensorTokenEmbd = "token_embd.weight"
	tensorCharEmbd  = "char_embd.weight"
	prefixCharEnc   = "char_enc"
	prefixEncoder   = "enc"
	prefixMatch     = "match"
	prefixSelf      = "self"
	prefixRefine    = "refine"
	prefixSeedPool  = "seed.pool"
	prefixSeedProj  = "seed.proj"
	prefixPointer   = "ptr"
)

// Model is a constructed Match-LSTM reader. It is immutable after
// construction and safe for concurrent Forward calls with distinct
// InferenceContexts.
type Model struct {
	config   Config
	seedMode SeedMode

	words *vocab.Vocab
	chars *vocab.Vocab // nil without character encoding

	embed     *Embedding
	charEmbed *Embedding
	charEnc   *nn.Encoder
	encoder   *nn.Encoder
	match     *nn.MatchLayer
	self      *nn.MatchLayer
	refine    *nn.Encoder
	seedPool  *nn.AttentionPooling
	seedProj  *nn.Linear
	pointer   *nn.BoundaryPointer

	stages  []stage
	tensors []nn.Tensor
	reader  *gguf.Reader
	workers *workerPool
}

// LoadOptions controls model loading.
type LoadOptions struct {
	// Threads bounds the number of batches run concurrently by
	// ForwardBatches. Zero means GOMAXPROCS.
	Threads int
}

// ForwardOptions controls what a forward pass returns.
type ForwardOptions struct {
	// KeepAttention copies the per-example attention matrices into Result.
	KeepAttention bool
}

// Result is the reader output for one example. Distributions and attention
// cover the example's own positions only.
type Result struct {
	StartProbs []float64
	EndProbs   []float64
	Span       answer.Span

	// Filled when ForwardOptions.KeepAttention is set. MatchAttention is
	// [context][question]; SelfAttention is [context][context].
	MatchAttention         [][]float64
	MatchAttentionBackward [][]float64
	SelfAttention          [][]float64
}

// LoadModel loads a model from a GGUF file.
func LoadModel(path string, opts LoadOptions) (*Model, error) {
	reader, err := gguf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gguf: %w", err)
	}

	model, err := loadModel(reader, opts)
	if err != nil {
		reader.Close()
		return nil, err
	}

	return model, nil
}

// LoadModelFromBytes loads a GGUF model directly from an in-memory image.
func LoadModelFromBytes(data []byte, opts LoadOptions) (*Model, error) {
	reader, err := gguf.OpenBytes(data)
	if err != nil {
		return nil, fmt.Errorf("open gguf: %w", err)
	}

	model, err := loadModel(reader, opts)
	if err != nil {
		reader.Close()
		return nil, err
	}

	return model, nil
}

func loadModel(reader *gguf.Reader, opts LoadOptions) (*Model, error) {
	config, err := parseConfig(reader)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	words, chars, err := loadVocab(reader, config.CharEncoding)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}

	params := newGGUFParams(reader)
	model, err := newModel(config, params, words, chars, opts.Threads)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}
	if extra := params.unused(); len(extra) > 0 {
		model.Close()
		return nil, fmt.Errorf("%w: tensors not used by this configuration: %s", ErrInvalidConfig, strings.Join(extra, ", "))
	}
	model.reader = reader
	return model, nil
}

func loadVocab(r *gguf.Reader, chars bool) (*vocab.Vocab, *vocab.Vocab, error) {
	tokens, ok := r.Strings(keyTokens)
	if !ok {
		return nil, nil, fmt.Errorf("%s not found", keyTokens)
	}
	def := vocab.DefaultNormalizer()
	lower, accents, nfkc := def.Flags()
	if v, ok := r.Bool(keyLowercase); ok {
		lower = v
	}
	if v, ok := r.Bool(keyAccents); ok {
		accents = v
	}
	if v, ok := r.Bool(keyNFKC); ok {
		nfkc = v
	}
	words, err := vocab.FromTokens(tokens, vocab.NewNormalizer(lower, accents, nfkc))
	if err != nil {
		return nil, nil, err
	}
	if !chars {
		return words, nil, nil
	}
	charTokens, ok := r.Strings(keyCharTokens)
	if !ok {
		return nil, nil, fmt.Errorf("%s not found", keyCharTokens)
	}
	charVocab, err := vocab.FromTokens(charTokens, vocab.Normalizer{})
	if err != nil {
		return nil, nil, fmt.Errorf("characters: %w", err)
	}
	return words, charVocab, nil
}

// InitModel builds a model with parameters drawn uniformly from
// ±1/√hidden_size. chars is required iff cfg.CharEncoding is set.
func InitModel(cfg Config, words, chars *vocab.Vocab, seed uint64) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bound := 1 / math.Sqrt(float64(cfg.HiddenSize))
	return newModel(cfg, nn.NewRandomParams(seed, bound), words, chars, 0)
}

// newModel validates cfg and constructs every layer from p. Nothing is
// returned on failure.
func newModel(cfg Config, p paramSource, words, chars *vocab.Vocab, threads int) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if words == nil {
		return nil, fmt.Errorf("%w: word vocabulary is required", ErrInvalidConfig)
	}
	if cfg.CharEncoding && chars == nil {
		return nil, fmt.Errorf("%w: char_encoding requires a character vocabulary", ErrInvalidConfig)
	}
	if !cfg.CharEncoding {
		chars = nil
	}
	kind, _ := cfg.CellKind()
	seedMode, _ := cfg.SeedMode()
	h := cfg.HiddenSize

	m := &Model{config: cfg, seedMode: seedMode, words: words, chars: chars}
	var err error
	if m.embed, err = NewEmbedding(p, tensorTokenEmbd, words.Size(), cfg.EmbeddingSize); err != nil {
		return nil, err
	}

	charWidth := 0
	if cfg.CharEncoding {
		if m.charEmbed, err = NewEmbedding(p, tensorCharEmbd, chars.Size(), cfg.CharEmbeddingSize); err != nil {
			return nil, err
		}
		if m.charEnc, err = nn.NewEncoder(kind, p, prefixCharEnc, cfg.CharEmbeddingSize, cfg.CharHiddenSize, 1, true); err != nil {
			return nil, err
		}
		charWidth = m.charEnc.OutputSize()
	}

	encIn := cfg.EmbeddingSize
	if cfg.CharBeforeEncode {
		encIn += charWidth
	}
	if m.encoder, err = nn.NewEncoder(kind, p, prefixEncoder, encIn, h, cfg.EncoderLayers, cfg.EncoderBidirectional); err != nil {
		return nil, err
	}
	repr := m.encoder.OutputSize()
	if cfg.CharEncoding && !cfg.CharBeforeEncode {
		repr += charWidth
	}

	if m.match, err = nn.NewMatchLayer(kind, p, prefixMatch, repr, h, cfg.MatchBidirectional, cfg.GatedAttention); err != nil {
		return nil, err
	}
	width := m.match.OutputSize()
	if cfg.SelfMatch {
		if m.self, err = nn.NewMatchLayer(kind, p, prefixSelf, width, h, cfg.SelfMatchBidirectional, cfg.GatedAttention); err != nil {
			return nil, err
		}
		width = m.self.OutputSize()
	}
	if cfg.PostSelfRefine {
		if m.refine, err = nn.NewEncoder(kind, p, prefixRefine, width, h, 1, true); err != nil {
			return nil, err
		}
		width = m.refine.OutputSize()
	}

	switch seedMode {
	case SeedPooled, SeedSplitPooled:
		out := h
		if seedMode == SeedSplitPooled {
			out = 2 * h
		}
		if m.seedPool, err = nn.NewAttentionPooling(p, prefixSeedPool, repr, h); err != nil {
			return nil, err
		}
		if m.seedProj, err = nn.NewLinear(p, prefixSeedProj, repr, out, true); err != nil {
			return nil, err
		}
	case SeedLinear:
		if m.seedProj, err = nn.NewLinear(p, prefixSeedProj, m.match.OutputSize(), h, true); err != nil {
			return nil, err
		}
	}

	if m.pointer, err = nn.NewBoundaryPointer(kind, p, prefixPointer, width, h, cfg.PointerBidirectional); err != nil {
		return nil, err
	}

	m.stages = buildStages(cfg)
	m.tensors = p.Tensors()
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	m.workers = newWorkerPool(threads)
	return m, nil
}

// Close releases the worker pool and the underlying file mapping.
func (m *Model) Close() error {
	if m.workers != nil {
		m.workers.Close()
		m.workers = nil
	}
	if m.reader != nil {
		err := m.reader.Close()
		m.reader = nil
		return err
	}
	return nil
}

// Config returns the model configuration.
func (m *Model) Config() Config { return m.config }

// Vocab returns the word vocabulary.
func (m *Model) Vocab() *vocab.Vocab { return m.words }

// CharVocab returns the character vocabulary, or nil without character
// encoding.
func (m *Model) CharVocab() *vocab.Vocab { return m.chars }

// NumParams reports the number of scalar parameters.
func (m *Model) NumParams() int {
	n := 0
	for _, t := range m.tensors {
		n += len(t.Data)
	}
	return n
}

// Tensors returns the model parameters in construction order.
func (m *Model) Tensors() []nn.Tensor { return m.tensors }

func (m *Model) writer() (*gguf.Writer, error) {
	w := gguf.NewWriter()
	writeConfig(w, m.config)
	w.SetStrings(keyTokens, m.words.Tokens())
	lower, accents, nfkc := m.words.Normalizer().Flags()
	w.SetBool(keyLowercase, lower)
	w.SetBool(keyAccents, accents)
	w.SetBool(keyNFKC, nfkc)
	if m.chars != nil {
		w.SetStrings(keyCharTokens, m.chars.Tokens())
	}
	for _, t := range m.tensors {
		if err := w.AddTensor(t.Name, t.Shape, t.Data); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Save writes the model (configuration, vocabularies and parameters) to path.
func (m *Model) Save(path string) error {
	w, err := m.writer()
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	return w.WriteFile(path)
}

// Bytes returns the model encoded as a GGUF image.
func (m *Model) Bytes() ([]byte, error) {
	w, err := m.writer()
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	return w.Bytes()
}

// Forward runs the reader over one batch. Every example is validated before
// any computation; a nil ic means inference mode with seed 0.
func (m *Model) Forward(ic *InferenceContext, examples []Example, opts ForwardOptions) ([]Result, error) {
	b, err := makeBatch(examples, m.config.CharEncoding)
	if err != nil {
		return nil, err
	}
	if ic == nil {
		ic = NewInferenceContext(0, false)
	}

	s := &forwardState{ic: ic, b: b}
	for _, st := range m.stages {
		if err := st.run(m, s); err != nil {
			return nil, fmt.Errorf("%s: %w", st.name, err)
		}
	}

	results := make([]Result, b.size())
	for i := range results {
		n := b.lengths[i]
		r := Result{
			StartProbs: append([]float64(nil), s.pointer.Start.RawRowView(i)[:n]...),
			EndProbs:   append([]float64(nil), s.pointer.End.RawRowView(i)[:n]...),
		}
		if r.Span, err = answer.Decode(r.StartProbs, r.EndProbs, m.config.AnswerSearch); err != nil {
			return nil, fmt.Errorf("answer: example %d: %w", i, err)
		}
		if opts.KeepAttention {
			lq := len(examples[i].Question)
			r.MatchAttention = clipAttention(s.match.Forward[i], n, lq)
			if s.match.Backward != nil {
				r.MatchAttentionBackward = clipAttention(s.match.Backward[i], n, lq)
			}
			if s.self != nil {
				r.SelfAttention = clipAttention(s.self.Forward[i], n, n)
			}
		}
		results[i] = r
	}
	return results, nil
}

// ForwardBatches splits examples into batches of batchSize and runs them on
// the model's worker pool. Batch i uses ic.Derive(i), so results do not
// depend on scheduling. Results are returned in input order.
func (m *Model) ForwardBatches(ctx context.Context, ic *InferenceContext, examples []Example, batchSize int, opts ForwardOptions) ([]Result, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("%w: no examples", ErrEmptySequence)
	}
	if batchSize <= 0 {
		batchSize = len(examples)
	}
	if ic == nil {
		ic = NewInferenceContext(0, false)
	}
	n := (len(examples) + batchSize - 1) / batchSize
	results := make([]Result, len(examples))
	err := runBatches(ctx, m.workers, n, func(i int) error {
		lo := i * batchSize
		hi := min(lo+batchSize, len(examples))
		out, err := m.Forward(ic.Derive(i), examples[lo:hi], opts)
		if err != nil {
			if i > 0 || hi < len(examples) {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			return err
		}
		copy(results[lo:hi], out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func clipAttention(a [][]float64, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = append([]float64(nil), a[i][:cols]...)
	}
	return out
}
