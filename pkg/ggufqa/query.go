package ggufqa

import (
	"fmt"
	"strings"

	modelrt "github.com/lth/go-matchlstm/internal/runtime"
	"github.com/lth/go-matchlstm/internal/vocab"
)

// Query is a single question asked against a passage.
//
// Passage and Question are split into words with vocab.SplitWords. Callers
// that already tokenise their text can set PassageWords / QuestionWords
// instead; a non-nil word slice takes precedence over the raw string.
type Query struct {
	Passage  string
	Question string

	PassageWords  []string
	QuestionWords []string
}

// words returns the passage and question words, or an error wrapping
// ErrEmptySequence when either side has nothing to read.
func (q Query) words() (passage, question []string, err error) {
	passage = q.PassageWords
	if passage == nil {
		passage = vocab.SplitWords(strings.TrimSpace(q.Passage))
	}
	question = q.QuestionWords
	if question == nil {
		question = vocab.SplitWords(strings.TrimSpace(q.Question))
	}
	if len(passage) == 0 {
		return nil, nil, fmt.Errorf("%w: passage has no words", ErrEmptySequence)
	}
	if len(question) == 0 {
		return nil, nil, fmt.Errorf("%w: question has no words", ErrEmptySequence)
	}
	return passage, question, nil
}

// example converts q into model input. Characters are truncated to
// maxWordLen runes per word when maxWordLen > 0.
func (q Query) example(words, chars *vocab.Vocab, maxWordLen int) (modelrt.Example, []string, error) {
	passage, question, err := q.words()
	if err != nil {
		return modelrt.Example{}, nil, err
	}
	ex := modelrt.Example{
		Context:  words.Encode(passage),
		Question: words.Encode(question),
	}
	if chars != nil {
		ex.ContextChars = chars.EncodeChars(passage, maxWordLen)
		ex.QuestionChars = chars.EncodeChars(question, maxWordLen)
	}
	return ex, passage, nil
}
