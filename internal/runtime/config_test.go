package runtime

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lth/go-matchlstm/internal/gguf"
	"github.com/lth/go-matchlstm/internal/nn"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"default", func(c *Config) {}, ""},
		{"gru cell", func(c *Config) { c.Cell = "GRU" }, ""},
		{"linear seed with bidirectional pointer", func(c *Config) {
			c.DecoderSeed = "linear"
			c.PointerBidirectional = true
		}, ""},
		{"split-pooled with bidirectional pointer and chars", func(c *Config) {
			c.DecoderSeed = "split-pooled"
			c.PointerBidirectional = true
			c.CharEncoding = true
		}, ""},
		{"unknown cell", func(c *Config) { c.Cell = "transformer" }, "unknown cell kind"},
		{"unknown seed", func(c *Config) { c.DecoderSeed = "mean" }, "unknown decoder seed"},
		{"pooled with bidirectional pointer", func(c *Config) { c.PointerBidirectional = true }, "unidirectional pointer"},
		{"split-pooled without bidirectional pointer", func(c *Config) {
			c.DecoderSeed = "split-pooled"
			c.CharEncoding = true
		}, "requires pointer_bidirectional"},
		{"split-pooled without chars", func(c *Config) {
			c.DecoderSeed = "split-pooled"
			c.PointerBidirectional = true
		}, "requires pointer_bidirectional and char_encoding"},
		{"zero hidden", func(c *Config) { c.HiddenSize = 0 }, "must be positive"},
		{"zero encoder layers", func(c *Config) { c.EncoderLayers = 0 }, "encoder_layers"},
		{"dropout of one", func(c *Config) { c.Dropout = 1 }, "dropout"},
		{"negative dropout", func(c *Config) { c.Dropout = -0.1 }, "dropout"},
		{"chars without char sizes", func(c *Config) {
			c.CharEncoding = true
			c.CharHiddenSize = 0
		}, "char_hidden_size"},
		{"bidirectional self match without self match", func(c *Config) { c.SelfMatchBidirectional = true }, "requires self_match"},
		{"refine without self match", func(c *Config) { c.PostSelfRefine = true }, "requires self_match"},
		{"char before encode without chars", func(c *Config) { c.CharBeforeEncode = true }, "requires char_encoding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %q, expected it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseSeedModeAndCellKind(t *testing.T) {
	for _, name := range []string{"pooled", "linear", "none", "split-pooled"} {
		mode, err := ParseSeedMode(" " + strings.ToUpper(name) + " ")
		if err != nil {
			t.Fatalf("ParseSeedMode(%q): %v", name, err)
		}
		if mode.String() != name {
			t.Errorf("ParseSeedMode(%q).String() = %q", name, mode.String())
		}
	}
	if _, err := ParseSeedMode("pool"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ParseSeedMode(pool) err = %v, want ErrInvalidConfig", err)
	}

	if k, err := ParseCellKind("gru"); err != nil || k != nn.GRU {
		t.Errorf("ParseCellKind(gru) = %v, %v", k, err)
	}
	if _, err := ParseCellKind("rnn"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ParseCellKind(rnn) err = %v, want ErrInvalidConfig", err)
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `{
		"hidden_size": 64,
		"cell": "gru",
		"match_bidirectional": true,
		"pointer_bidirectional": true,
		"decoder_seed": "linear"
	}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := DefaultConfig()
	want.HiddenSize = 64
	want.Cell = "gru"
	want.MatchBidirectional = true
	want.PointerBidirectional = true
	want.DecoderSeed = "linear"
	if cfg != want {
		t.Errorf("LoadConfig =\n%+v\nexpected\n%+v", cfg, want)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("rejected combination", func(t *testing.T) {
		path := writeConfigFile(t, `{"decoder_seed": "split-pooled", "pointer_bidirectional": true}`)
		if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("err = %v, want ErrInvalidConfig", err)
		}
	})
	t.Run("malformed json", func(t *testing.T) {
		path := writeConfigFile(t, `{"hidden_size": `)
		_, err := LoadConfig(path)
		if err == nil || errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("err = %v, want a parse error", err)
		}
	})
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("err = %v, want os.ErrNotExist", err)
		}
	})
}

func openMetadata(t *testing.T, w *gguf.Writer) *gguf.Reader {
	t.Helper()
	data, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	r, err := gguf.OpenBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestParseConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cell = "gru"
	cfg.SelfMatch = true
	cfg.PostSelfRefine = true
	cfg.Dropout = 0.25

	w := gguf.NewWriter()
	writeConfig(w, cfg)
	got, err := parseConfig(openMetadata(t, w))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if got != cfg {
		t.Errorf("parseConfig =\n%+v\nexpected\n%+v", got, cfg)
	}
}

func TestParseConfigRejectsBadMetadata(t *testing.T) {
	tests := []struct {
		name   string
		modify func(w *gguf.Writer)
	}{
		{"wrong architecture", func(w *gguf.Writer) { w.SetString(keyArchitecture, "gemma") }},
		{"unknown cell", func(w *gguf.Writer) { w.SetString(metaPrefix+"cell", "rnn") }},
		{"unknown seed", func(w *gguf.Writer) { w.SetString(metaPrefix+"decoder_seed", "mean") }},
		{"pooled seed with bidirectional pointer", func(w *gguf.Writer) {
			w.SetBool(metaPrefix+"pointer_bidirectional", true)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := gguf.NewWriter()
			writeConfig(w, DefaultConfig())
			tt.modify(w)
			if _, err := parseConfig(openMetadata(t, w)); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
