// Package runtime provides the execution engine for Match-LSTM reader models
package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/lth/go-matchlstm/internal/gguf"
	"github.com/lth/go-matchlstm/internal/nn"
)

var (
	// ErrInvalidConfig reports an unknown option value or an invalid
	// combination of options. It is raised before any parameter is loaded.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrShape reports inconsistent input lengths (sequence vs mask, words vs
	// character sequences) or parameter shapes.
	ErrShape = nn.ErrShape
	// ErrEmptySequence reports an example with no valid context or question
	// position.
	ErrEmptySequence = errors.New("sequence has no valid positions")
)

// SeedMode selects how the pointer decoder's initial state is produced.
type SeedMode int

const (
	// SeedPooled pools the question representation and projects it.
	SeedPooled SeedMode = iota
	// SeedLinear projects the match layer's final state.
	SeedLinear
	// SeedNone starts the decoder from a zero state.
	SeedNone
	// SeedSplitPooled pools the question and projects it to two halves: the
	// left seeds the forward pointer pass, the right seeds the reverse pass.
	SeedSplitPooled
)

var seedModeNames = []string{"pooled", "linear", "none", "split-pooled"}

// String returns the configuration name of the mode.
func (s SeedMode) String() string {
	if s >= 0 && int(s) < len(seedModeNames) {
		return seedModeNames[s]
	}
	return fmt.Sprintf("seed(%d)", int(s))
}

// ParseSeedMode maps a configuration string to a SeedMode.
func ParseSeedMode(s string) (SeedMode, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for i, name := range seedModeNames {
		if v == name {
			return SeedMode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown decoder seed %q (allowed: %s)", ErrInvalidConfig, s, strings.Join(seedModeNames, ", "))
}

// ParseCellKind maps a configuration string to a recurrent cell kind.
func ParseCellKind(s string) (nn.CellKind, error) {
	k, err := nn.ParseCellKind(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return k, nil
}

// Config holds model hyperparameters
type Config struct {
	EmbeddingSize int    `json:"embedding_size"`
	HiddenSize    int    `json:"hidden_size"`
	Cell          string `json:"cell"`

	EncoderBidirectional bool `json:"encoder_bidirectional"`
	EncoderLayers        int  `json:"encoder_layers"`

	MatchBidirectional     bool `json:"match_bidirectional"`
	GatedAttention         bool `json:"gated_attention"`
	SelfMatch              bool `json:"self_match"`
	SelfMatchBidirectional bool `json:"self_match_bidirectional"`
	PostSelfRefine         bool `json:"post_self_refine"`

	PointerBidirectional bool   `json:"pointer_bidirectional"`
	DecoderSeed          string `json:"decoder_seed"`

	CharEncoding      bool `json:"char_encoding"`
	CharBeforeEncode  bool `json:"char_before_encode"`
	CharEmbeddingSize int  `json:"char_embedding_size"`
	CharHiddenSize    int  `json:"char_hidden_size"`

	Dropout      float64 `json:"dropout"`
	AnswerSearch bool    `json:"answer_search"`
}

// DefaultConfig returns the unidirectional baseline: LSTM cells, pooled
// decoder seed, answer search enabled.
func DefaultConfig() Config {
	return Config{
		EmbeddingSize:     300,
		HiddenSize:        150,
		Cell:              "lstm",
		EncoderLayers:     1,
		DecoderSeed:       "pooled",
		CharEmbeddingSize: 32,
		CharHiddenSize:    50,
		AnswerSearch:      true,
	}
}

// LoadConfig reads a JSON configuration file. Fields missing from the file
// keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CellKind returns the parsed cell kind.
func (c Config) CellKind() (nn.CellKind, error) { return ParseCellKind(c.Cell) }

// SeedMode returns the parsed decoder seed mode.
func (c Config) SeedMode() (SeedMode, error) { return ParseSeedMode(c.DecoderSeed) }

// Validate checks option values and combinations. All failures wrap
// ErrInvalidConfig.
func (c Config) Validate() error {
	if _, err := c.CellKind(); err != nil {
		return err
	}
	seed, err := c.SeedMode()
	if err != nil {
		return err
	}
	if c.EmbeddingSize <= 0 || c.HiddenSize <= 0 {
		return fmt.Errorf("%w: embedding_size and hidden_size must be positive (got %d, %d)", ErrInvalidConfig, c.EmbeddingSize, c.HiddenSize)
	}
	if c.EncoderLayers <= 0 {
		return fmt.Errorf("%w: encoder_layers must be positive, got %d", ErrInvalidConfig, c.EncoderLayers)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("%w: dropout must be in [0, 1), got %v", ErrInvalidConfig, c.Dropout)
	}
	if c.CharEncoding && (c.CharEmbeddingSize <= 0 || c.CharHiddenSize <= 0) {
		return fmt.Errorf("%w: char_embedding_size and char_hidden_size must be positive with char_encoding", ErrInvalidConfig)
	}
	if c.SelfMatchBidirectional && !c.SelfMatch {
		return fmt.Errorf("%w: self_match_bidirectional requires self_match", ErrInvalidConfig)
	}
	if c.PostSelfRefine && !c.SelfMatch {
		return fmt.Errorf("%w: post_self_refine requires self_match", ErrInvalidConfig)
	}
	if c.CharBeforeEncode && !c.CharEncoding {
		return fmt.Errorf("%w: char_before_encode requires char_encoding", ErrInvalidConfig)
	}
	switch seed {
	case SeedPooled:
		if c.PointerBidirectional {
			return fmt.Errorf("%w: decoder seed %q requires a unidirectional pointer", ErrInvalidConfig, seed)
		}
	case SeedSplitPooled:
		if !c.PointerBidirectional || !c.CharEncoding {
			return fmt.Errorf("%w: decoder seed %q requires pointer_bidirectional and char_encoding", ErrInvalidConfig, seed)
		}
	}
	return nil
}

const (
	archName   = "matchlstm"
	metaPrefix = archName + "."

	keyArchitecture = "general.architecture"
	keyTokens       = "tokenizer.ggml.tokens"
	keyCharTokens   = metaPrefix + "char_tokens"
	keyLowercase    = metaPrefix + "vocab.lowercase"
	keyAccents      = metaPrefix + "vocab.remove_accents"
	keyNFKC         = metaPrefix + "vocab.nfkc"
)

// writeConfig stores cfg as GGUF metadata.
func writeConfig(w *gguf.Writer, c Config) {
	w.SetString(keyArchitecture, archName)
	w.SetUint32(metaPrefix+"embedding_size", uint32(c.EmbeddingSize))
	w.SetUint32(metaPrefix+"hidden_size", uint32(c.HiddenSize))
	w.SetString(metaPrefix+"cell", c.Cell)
	w.SetBool(metaPrefix+"encoder_bidirectional", c.EncoderBidirectional)
	w.SetUint32(metaPrefix+"encoder_layers", uint32(c.EncoderLayers))
	w.SetBool(metaPrefix+"match_bidirectional", c.MatchBidirectional)
	w.SetBool(metaPrefix+"gated_attention", c.GatedAttention)
	w.SetBool(metaPrefix+"self_match", c.SelfMatch)
	w.SetBool(metaPrefix+"self_match_bidirectional", c.SelfMatchBidirectional)
	w.SetBool(metaPrefix+"post_self_refine", c.PostSelfRefine)
	w.SetBool(metaPrefix+"pointer_bidirectional", c.PointerBidirectional)
	w.SetString(metaPrefix+"decoder_seed", c.DecoderSeed)
	w.SetBool(metaPrefix+"char_encoding", c.CharEncoding)
	w.SetBool(metaPrefix+"char_before_encode", c.CharBeforeEncode)
	w.SetUint32(metaPrefix+"char_embedding_size", uint32(c.CharEmbeddingSize))
	w.SetUint32(metaPrefix+"char_hidden_size", uint32(c.CharHiddenSize))
	w.SetFloat32(metaPrefix+"dropout", float32(c.Dropout))
	w.SetBool(metaPrefix+"answer_search", c.AnswerSearch)
}

// parseConfig extracts model configuration from GGUF metadata
func parseConfig(r *gguf.Reader) (Config, error) {
	cfg := DefaultConfig()

	if arch, ok := r.String(keyArchitecture); !ok || arch != archName {
		return cfg, fmt.Errorf("%w: architecture %q, expected %q", ErrInvalidConfig, arch, archName)
	}

	required := []struct {
		key string
		dst *int
	}{
		{"embedding_size", &cfg.EmbeddingSize},
		{"hidden_size", &cfg.HiddenSize},
	}
	for _, f := range required {
		v, ok := r.Uint32(metaPrefix + f.key)
		if !ok {
			return cfg, fmt.Errorf("%s%s not found", metaPrefix, f.key)
		}
		*f.dst = int(v)
	}

	optionalInts := map[string]*int{
		"encoder_layers":      &cfg.EncoderLayers,
		"char_embedding_size": &cfg.CharEmbeddingSize,
		"char_hidden_size":    &cfg.CharHiddenSize,
	}
	for key, dst := range optionalInts {
		if v, ok := r.Uint32(metaPrefix + key); ok {
			*dst = int(v)
		}
	}

	optionalBools := map[string]*bool{
		"encoder_bidirectional":    &cfg.EncoderBidirectional,
		"match_bidirectional":      &cfg.MatchBidirectional,
		"gated_attention":          &cfg.GatedAttention,
		"self_match":               &cfg.SelfMatch,
		"self_match_bidirectional": &cfg.SelfMatchBidirectional,
		"post_self_refine":         &cfg.PostSelfRefine,
		"pointer_bidirectional":    &cfg.PointerBidirectional,
		"char_encoding":            &cfg.CharEncoding,
		"char_before_encode":       &cfg.CharBeforeEncode,
		"answer_search":            &cfg.AnswerSearch,
	}
	for key, dst := range optionalBools {
		if v, ok := r.Bool(metaPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := r.String(metaPrefix + "cell"); ok {
		cfg.Cell = v
	}
	if v, ok := r.String(metaPrefix + "decoder_seed"); ok {
		cfg.DecoderSeed = v
	}
	if v, ok := r.Float32(metaPrefix + "dropout"); ok {
		cfg.Dropout = float64(v)
	}

	return cfg, cfg.Validate()
}
