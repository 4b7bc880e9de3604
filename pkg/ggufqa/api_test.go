package ggufqa

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"path/filepath"
	"strings"
	"testing"

	modelrt "github.com/lth/go-matchlstm/internal/runtime"
	"github.com/lth/go-matchlstm/internal/vocab"
)

const (
	testPassage  = "Tesla went to school in Karlovac, then studied in Graz."
	testQuestion = "Where did Tesla go to school?"
)

// writeTestModel saves a small randomly initialised model and returns its path.
func writeTestModel(t *testing.T, modify func(*modelrt.Config)) string {
	t.Helper()
	cfg := modelrt.DefaultConfig()
	cfg.EmbeddingSize = 8
	cfg.HiddenSize = 6
	cfg.CharEmbeddingSize = 4
	cfg.CharHiddenSize = 3
	if modify != nil {
		modify(&cfg)
	}

	text := testPassage + " " + testQuestion
	words := vocab.SplitWords(text)
	m, err := modelrt.InitModel(cfg, vocab.New(words, vocab.DefaultNormalizer()), vocab.CharVocab(words), 7)
	if err != nil {
		t.Fatalf("InitModel: %v", err)
	}
	defer m.Close()

	path := filepath.Join(t.TempDir(), "reader.gguf")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func checkAnswer(t *testing.T, a Answer, passageWords int) {
	t.Helper()
	if a.Start < 0 || a.Start > a.End || a.End >= passageWords {
		t.Fatalf("span [%d, %d] outside passage of %d words", a.Start, a.End, passageWords)
	}
	if len(a.Words) != a.End-a.Start+1 {
		t.Fatalf("answer has %d words for span [%d, %d]", len(a.Words), a.Start, a.End)
	}
	if a.Text != strings.Join(a.Words, " ") {
		t.Fatalf("Text = %q, Words = %q", a.Text, a.Words)
	}
	for _, p := range [][]float64{a.StartProbs, a.EndProbs} {
		if len(p) != passageWords {
			t.Fatalf("distribution has %d entries, want %d", len(p), passageWords)
		}
		sum := 0.0
		for _, v := range p {
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("distribution sums to %v", sum)
		}
	}
}

func TestAnswerSingle(t *testing.T) {
	path := writeTestModel(t, nil)

	var logs bytes.Buffer
	rt, err := Open(path, WithVerbose(true), WithLogger(log.New(&logs, "", 0)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rt.Close()

	a, err := rt.AnswerSingle(context.Background(), testPassage, testQuestion)
	if err != nil {
		t.Fatal(err)
	}
	checkAnswer(t, a, len(vocab.SplitWords(testPassage)))

	if !strings.Contains(logs.String(), "parameters") {
		t.Errorf("verbose log missing load summary: %q", logs.String())
	}
	if rt.NumParams() == 0 || rt.VocabSize() < 3 {
		t.Errorf("NumParams = %d, VocabSize = %d", rt.NumParams(), rt.VocabSize())
	}
}

func TestAnswerBatchesMatchSingle(t *testing.T) {
	path := writeTestModel(t, func(c *modelrt.Config) {
		c.CharEncoding = true
		c.MatchBidirectional = true
		c.SelfMatch = true
		c.DecoderSeed = "linear"
	})

	queries := []Query{
		{Passage: testPassage, Question: testQuestion},
		{Passage: "Tesla studied in Graz.", Question: "Where did Tesla study?"},
		{PassageWords: []string{"then", "Karlovac"}, QuestionWords: []string{"Where", "?"}},
	}

	batched, err := Open(path, WithBatchSize(3), WithThreads(1), WithAttention(true))
	if err != nil {
		t.Fatal(err)
	}
	defer batched.Close()
	single, err := Open(path, WithBatchSize(1), WithThreads(2), WithAttention(true))
	if err != nil {
		t.Fatal(err)
	}
	defer single.Close()

	a, err := batched.Answer(context.Background(), queries)
	if err != nil {
		t.Fatal(err)
	}
	b, err := single.Answer(context.Background(), queries)
	if err != nil {
		t.Fatal(err)
	}
	for i := range queries {
		if a[i].Start != b[i].Start || a[i].End != b[i].End {
			t.Errorf("query %d: batched span [%d, %d], single [%d, %d]", i, a[i].Start, a[i].End, b[i].Start, b[i].End)
		}
		for j := range a[i].StartProbs {
			if math.Abs(a[i].StartProbs[j]-b[i].StartProbs[j]) > 1e-9 {
				t.Fatalf("query %d: start distribution depends on batching", i)
			}
		}
		if a[i].SelfAttention == nil || a[i].MatchAttentionBackward == nil {
			t.Errorf("query %d: attention maps missing", i)
		}
	}
	checkAnswer(t, a[2], 2)
}

func TestAnswerErrors(t *testing.T) {
	path := writeTestModel(t, nil)
	rt, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	_, err = rt.Answer(context.Background(), []Query{
		{Passage: testPassage, Question: testQuestion},
		{Passage: testPassage, Question: "   "},
	})
	if !errors.Is(err, ErrEmptySequence) {
		t.Fatalf("err = %v, want ErrEmptySequence", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rt.AnswerSingle(ctx, testPassage, testQuestion); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if out, err := rt.Answer(context.Background(), nil); !errors.Is(err, ErrEmptySequence) || out != nil {
		t.Fatalf("Answer(nil) = %v, %v, want ErrEmptySequence", out, err)
	}
}

func TestOpenErrors(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.gguf")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := OpenBytes([]byte("not a model")); err == nil {
		t.Fatal("expected error for garbage input")
	}
}
