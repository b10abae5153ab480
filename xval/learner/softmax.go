// Package learner provides the reference Learner used by the foldrun CLI:
// a linear softmax classifier trained with Adam.
package learner

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/foldrun/foldrun/xval/dataset"
	"github.com/foldrun/foldrun/xval/trainer"
)

// Softmax is a linear classifier: scores = W·x + b, loss = cross-entropy of
// softmax(scores). Parameters are stored flat: W row-major, then b.
type Softmax struct {
	dim     int
	classes int
	params  []float64
	opt     Optimizer
}

var _ trainer.Learner = (*Softmax)(nil)

// NewSoftmax creates a classifier with weights drawn uniformly from
// ±1/sqrt(dim) using rng. opt may be nil for inference-only use; otherwise
// its gradient buffer must hold NumSoftmaxParams(dim, classes) entries.
func NewSoftmax(dim, classes int, opt Optimizer, rng *rand.Rand) (*Softmax, error) {
	if dim <= 0 || classes < 2 {
		return nil, fmt.Errorf("softmax needs dim > 0 and classes >= 2, got dim=%d classes=%d", dim, classes)
	}
	n := NumSoftmaxParams(dim, classes)
	if opt != nil && len(opt.Grad()) != n {
		return nil, fmt.Errorf("optimizer tracks %d parameters, softmax %dx%d has %d", len(opt.Grad()), classes, dim, n)
	}
	s := &Softmax{dim: dim, classes: classes, params: make([]float64, n), opt: opt}
	bound := 1 / math.Sqrt(float64(dim))
	for i := range s.params {
		s.params[i] = (rng.Float64()*2 - 1) * bound
	}
	return s, nil
}

// NumSoftmaxParams returns the parameter count of a dim x classes model,
// for sizing its optimizer.
func NumSoftmaxParams(dim, classes int) int { return classes*dim + classes }

func (s *Softmax) weights(c int) []float64 {
	return s.params[c*s.dim : (c+1)*s.dim]
}

func (s *Softmax) bias() []float64 {
	return s.params[s.classes*s.dim:]
}

func (s *Softmax) logits(x []float64) []float64 {
	out := make([]float64, s.classes)
	b := s.bias()
	for c := range out {
		out[c] = floats.Dot(s.weights(c), x) + b[c]
	}
	return out
}

// forward returns scores, the mean loss and the per-sample softmax probabilities.
func (s *Softmax) forward(b dataset.Batch) (trainer.Output, [][]float64, error) {
	out := trainer.Output{Scores: make([][]float64, b.Len())}
	probs := make([][]float64, b.Len())
	total := 0.0
	for i, x := range b.Features {
		if len(x) != s.dim {
			return trainer.Output{}, nil, fmt.Errorf("sample %d has %d features, model expects %d", i, len(x), s.dim)
		}
		y := b.Labels[i]
		if y < 0 || y >= s.classes {
			return trainer.Output{}, nil, fmt.Errorf("sample %d label %d outside [0, %d)", i, y, s.classes)
		}
		z := s.logits(x)
		p := make([]float64, s.classes)
		copy(p, z)
		floats.AddConst(-floats.Max(p), p)
		for c := range p {
			p[c] = math.Exp(p[c])
		}
		sum := floats.Sum(p)
		floats.Scale(1/sum, p)
		total += -math.Log(math.Max(p[y], 1e-300))
		out.Scores[i] = z
		probs[i] = p
	}
	if b.Len() > 0 {
		out.Loss = total / float64(b.Len())
	}
	return out, probs, nil
}

func (s *Softmax) Predict(ctx context.Context, b dataset.Batch) (trainer.Output, error) {
	out, _, err := s.forward(b)
	return out, err
}

func (s *Softmax) TrainStep(ctx context.Context, b dataset.Batch) (trainer.Output, error) {
	if s.opt == nil {
		return trainer.Output{}, fmt.Errorf("softmax: no optimizer configured")
	}
	out, probs, err := s.forward(b)
	if err != nil || b.Len() == 0 {
		return out, err
	}

	s.opt.ZeroGrad()
	grads := s.opt.Grad()
	inv := 1 / float64(b.Len())
	gb := grads[s.classes*s.dim:]
	for i, x := range b.Features {
		for c := 0; c < s.classes; c++ {
			d := probs[i][c]
			if c == b.Labels[i] {
				d -= 1
			}
			floats.AddScaled(grads[c*s.dim:(c+1)*s.dim], d*inv, x)
			gb[c] += d * inv
		}
	}
	s.opt.Step(s.params)
	return out, nil
}

type softmaxState struct {
	Dim     int
	Classes int
	Params  []float64
}

// State gob-encodes the shape and parameters.
func (s *Softmax) State() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(softmaxState{Dim: s.dim, Classes: s.classes, Params: s.params}); err != nil {
		return nil, fmt.Errorf("encoding softmax state: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadState restores parameters saved by State. The shape must match.
func (s *Softmax) LoadState(state []byte) error {
	var st softmaxState
	if err := gob.NewDecoder(bytes.NewReader(state)).Decode(&st); err != nil {
		return fmt.Errorf("decoding softmax state: %w", err)
	}
	if st.Dim != s.dim || st.Classes != s.classes || len(st.Params) != len(s.params) {
		return fmt.Errorf("softmax state shape %dx%d (%d params) does not match model %dx%d",
			st.Classes, st.Dim, len(st.Params), s.classes, s.dim)
	}
	copy(s.params, st.Params)
	return nil
}
