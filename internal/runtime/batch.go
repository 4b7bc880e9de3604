package runtime

import (
	"fmt"

	"github.com/lth/go-matchlstm/internal/vocab"
)

// Example is one question asked against one context, as token ids.
type Example struct {
	Context  []int
	Question []int

	// Optional validity masks. When nil, a position is valid iff its id is
	// not vocab.PadID. When set, the length must match the id sequence.
	ContextMask  []bool
	QuestionMask []bool

	// Per-word character ids, required when the model uses character
	// encoding: one entry per word of Context / Question.
	ContextChars  [][]int
	QuestionChars [][]int
}

// batch is a padded, validated group of examples.
type batch struct {
	ctxIDs, qIDs     [][]int
	ctxMask, qMask   [][]bool
	ctxChars, qChars [][][]int
	T, Lq            int
	lengths          []int // unpadded context length per example
}

func (b *batch) size() int { return len(b.ctxIDs) }

// makeBatch validates examples and post-pads them to common lengths. No
// computation happens if any example is malformed.
func makeBatch(examples []Example, chars bool) (*batch, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrEmptySequence)
	}
	b := &batch{lengths: make([]int, len(examples))}
	for i, ex := range examples {
		if err := validateExample(ex, chars); err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		b.T = max(b.T, len(ex.Context))
		b.Lq = max(b.Lq, len(ex.Question))
		b.lengths[i] = len(ex.Context)
	}

	for _, ex := range examples {
		ids, mask := padIDs(ex.Context, ex.ContextMask, b.T)
		b.ctxIDs = append(b.ctxIDs, ids)
		b.ctxMask = append(b.ctxMask, mask)
		ids, mask = padIDs(ex.Question, ex.QuestionMask, b.Lq)
		b.qIDs = append(b.qIDs, ids)
		b.qMask = append(b.qMask, mask)
		if chars {
			b.ctxChars = append(b.ctxChars, padWords(ex.ContextChars, b.T))
			b.qChars = append(b.qChars, padWords(ex.QuestionChars, b.Lq))
		}
	}
	return b, nil
}

func validateExample(ex Example, chars bool) error {
	if ex.ContextMask != nil && len(ex.ContextMask) != len(ex.Context) {
		return fmt.Errorf("%w: context has %d ids but %d mask entries", ErrShape, len(ex.Context), len(ex.ContextMask))
	}
	if ex.QuestionMask != nil && len(ex.QuestionMask) != len(ex.Question) {
		return fmt.Errorf("%w: question has %d ids but %d mask entries", ErrShape, len(ex.Question), len(ex.QuestionMask))
	}
	if countValid(ex.Context, ex.ContextMask) == 0 {
		return fmt.Errorf("%w: context", ErrEmptySequence)
	}
	if countValid(ex.Question, ex.QuestionMask) == 0 {
		return fmt.Errorf("%w: question", ErrEmptySequence)
	}
	if chars {
		if len(ex.ContextChars) != len(ex.Context) {
			return fmt.Errorf("%w: context has %d words but %d character sequences", ErrShape, len(ex.Context), len(ex.ContextChars))
		}
		if len(ex.QuestionChars) != len(ex.Question) {
			return fmt.Errorf("%w: question has %d words but %d character sequences", ErrShape, len(ex.Question), len(ex.QuestionChars))
		}
	}
	return nil
}

func countValid(ids []int, mask []bool) int {
	n := 0
	for i, id := range ids {
		if mask != nil {
			if mask[i] {
				n++
			}
		} else if id != vocab.PadID {
			n++
		}
	}
	return n
}

func padIDs(ids []int, mask []bool, n int) ([]int, []bool) {
	outIDs := make([]int, n)
	outMask := make([]bool, n)
	copy(outIDs, ids)
	for i, id := range ids {
		if mask != nil {
			outMask[i] = mask[i]
		} else {
			outMask[i] = id != vocab.PadID
		}
	}
	return outIDs, outMask
}

func padWords(words [][]int, n int) [][]int {
	out := make([][]int, n)
	copy(out, words)
	return out
}
