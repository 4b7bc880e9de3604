package runtime

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/lth/go-matchlstm/internal/kernels"
	"github.com/lth/go-matchlstm/internal/nn"
)

// forwardState is threaded through the stages of one forward pass.
type forwardState struct {
	ic *InferenceContext
	b  *batch

	ctx, q         nn.Seq // current context / question representations
	ctxChar, qChar nn.Seq // per-word character vectors

	match *nn.MatchResult
	self  *nn.MatchResult
	hr    nn.Seq // decoder input

	seedFw, seedBw *mat.Dense
	pointer        nn.PointerResult
}

// stage is one step of the forward pipeline.
type stage struct {
	name string
	run  func(m *Model, s *forwardState) error
}

// buildStages lists the enabled stages in execution order. cfg must be valid.
func buildStages(cfg Config) []stage {
	stages := []stage{{"embed", (*Model).embedStage}}
	if cfg.CharEncoding {
		stages = append(stages, stage{"char", (*Model).charStage})
	}
	stages = append(stages,
		stage{"encode", (*Model).encodeStage},
		stage{"match", (*Model).matchStage},
	)
	if cfg.SelfMatch {
		stages = append(stages, stage{"self-match", (*Model).selfMatchStage})
	}
	if cfg.PostSelfRefine {
		stages = append(stages, stage{"refine", (*Model).refineStage})
	}
	return append(stages,
		stage{"seed", (*Model).seedStage},
		stage{"pointer", (*Model).pointerStage},
	)
}

// StageNames returns the enabled pipeline stages in order.
func (m *Model) StageNames() []string {
	names := make([]string, len(m.stages))
	for i, st := range m.stages {
		names[i] = st.name
	}
	return names
}

func (m *Model) dropoutSeq(ic *InferenceContext, s nn.Seq) {
	for _, step := range s.Steps {
		ic.dropout(step, m.config.Dropout)
	}
}

func (m *Model) embedStage(s *forwardState) error {
	s.ctx = m.embed.Lookup(s.b.ctxIDs, s.b.ctxMask, s.b.T)
	s.q = m.embed.Lookup(s.b.qIDs, s.b.qMask, s.b.Lq)
	m.dropoutSeq(s.ic, s.ctx)
	m.dropoutSeq(s.ic, s.q)
	return nil
}

func (m *Model) charStage(s *forwardState) error {
	var err error
	if s.ctxChar, err = m.encodeChars(s.b.ctxChars, s.b.ctxMask, s.b.T); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if s.qChar, err = m.encodeChars(s.b.qChars, s.b.qMask, s.b.Lq); err != nil {
		return fmt.Errorf("question: %w", err)
	}
	if m.config.CharBeforeEncode {
		s.ctx = nn.ConcatSeq(s.ctx, s.ctxChar)
		s.q = nn.ConcatSeq(s.q, s.qChar)
	}
	return nil
}

// encodeChars runs the character encoder over every word of a batch and
// returns one vector per word position (time-major, batch × 2·char_hidden).
// Words at masked positions encode to zero.
func (m *Model) encodeChars(words [][][]int, mask [][]bool, T int) (nn.Seq, error) {
	batch := len(words)
	maxLen := 1
	for b := range words {
		for t := 0; t < T; t++ {
			if mask[b][t] {
				maxLen = max(maxLen, len(words[b][t]))
			}
		}
	}

	rows := batch * T
	in := nn.Seq{Steps: make([]*mat.Dense, maxLen), Mask: make([][]bool, rows)}
	for r := range in.Mask {
		in.Mask[r] = make([]bool, maxLen)
	}
	for c := 0; c < maxLen; c++ {
		step := mat.NewDense(rows, m.charEmbed.Dim(), nil)
		for b := range words {
			for t := 0; t < T; t++ {
				word := words[b][t]
				if !mask[b][t] || c >= len(word) {
					continue
				}
				r := b*T + t
				copy(step.RawRowView(r), m.charEmbed.Vector(word[c]))
				in.Mask[r][c] = true
			}
		}
		in.Steps[c] = step
	}

	res, err := m.charEnc.Forward(in)
	if err != nil {
		return nn.Seq{}, err
	}
	_, width := res.Final.Dims()
	out := nn.Seq{Steps: make([]*mat.Dense, T), Mask: mask}
	for t := 0; t < T; t++ {
		step := mat.NewDense(batch, width, nil)
		for b := 0; b < batch; b++ {
			copy(step.RawRowView(b), res.Final.RawRowView(b*T+t))
		}
		out.Steps[t] = step
	}
	return out, nil
}

func (m *Model) encodeStage(s *forwardState) error {
	ctx, err := m.encoder.Forward(s.ctx)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	q, err := m.encoder.Forward(s.q)
	if err != nil {
		return fmt.Errorf("question: %w", err)
	}
	s.ctx, s.q = ctx.Out, q.Out
	m.dropoutSeq(s.ic, s.ctx)
	m.dropoutSeq(s.ic, s.q)
	if m.config.CharEncoding && !m.config.CharBeforeEncode {
		s.ctx = nn.ConcatSeq(s.ctx, s.ctxChar)
		s.q = nn.ConcatSeq(s.q, s.qChar)
	}
	return nil
}

func (m *Model) matchStage(s *forwardState) error {
	res, err := m.match.Forward(s.ctx, s.q)
	if err != nil {
		return err
	}
	s.match = &res
	s.hr = res.Out
	return nil
}

func (m *Model) selfMatchStage(s *forwardState) error {
	res, err := m.self.Forward(s.hr, s.hr)
	if err != nil {
		return err
	}
	s.self = &res
	s.hr = res.Out
	return nil
}

func (m *Model) refineStage(s *forwardState) error {
	res, err := m.refine.Forward(s.hr)
	if err != nil {
		return err
	}
	s.hr = res.Out
	return nil
}

func (m *Model) seedStage(s *forwardState) error {
	switch m.seedMode {
	case SeedNone:
		return nil
	case SeedLinear:
		seed := m.seedProj.Forward(s.match.Final)
		kernels.TanhInPlace(seed)
		s.seedFw = seed
		return nil
	}

	pooled, _, err := m.seedPool.Pool(s.q)
	if err != nil {
		return err
	}
	seed := m.seedProj.Forward(pooled)
	kernels.TanhInPlace(seed)
	if m.seedMode == SeedSplitPooled {
		s.seedFw, s.seedBw = kernels.Split(seed, m.pointer.HiddenSize())
		return nil
	}
	s.seedFw = seed
	return nil
}

func (m *Model) pointerStage(s *forwardState) error {
	res, err := m.pointer.Decode(s.hr, s.seedFw, s.seedBw)
	if err != nil {
		return err
	}
	s.pointer = res
	return nil
}
