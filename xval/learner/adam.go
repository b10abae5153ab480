package learner

import "math"

// Optimizer owns the gradient buffer of a parameter vector and applies
// updates from it.
type Optimizer interface {
	// Grad returns the gradient buffer, one entry per parameter.
	Grad() []float64
	// ZeroGrad clears the gradient buffer.
	ZeroGrad()
	// Step updates params in place from the gradient buffer.
	Step(params []float64)
}

// AdamConfig holds Adam hyperparameters. WeightDecay is an L2 penalty added
// to the gradient before the moment updates.
type AdamConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
}

// DefaultAdamConfig returns lr 1e-4, weight decay 1e-3 and the usual betas.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{LR: 1e-4, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, WeightDecay: 1e-3}
}

// Adam implements the Adam optimizer with bias correction.
type Adam struct {
	cfg  AdamConfig
	m, v []float64
	t    int
	g    []float64
}

// NewAdam creates an Adam optimizer for n parameters.
func NewAdam(cfg AdamConfig, n int) *Adam {
	return &Adam{cfg: cfg, m: make([]float64, n), v: make([]float64, n), g: make([]float64, n)}
}

func (a *Adam) Grad() []float64 { return a.g }

func (a *Adam) ZeroGrad() {
	for i := range a.g {
		a.g[i] = 0
	}
}

func (a *Adam) Step(params []float64) {
	a.t++
	c1 := 1 - math.Pow(a.cfg.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.cfg.Beta2, float64(a.t))
	for i, p := range params {
		g := a.g[i] + a.cfg.WeightDecay*p
		a.m[i] = a.cfg.Beta1*a.m[i] + (1-a.cfg.Beta1)*g
		a.v[i] = a.cfg.Beta2*a.v[i] + (1-a.cfg.Beta2)*g*g
		mHat := a.m[i] / c1
		vHat := a.v[i] / c2
		params[i] = p - a.cfg.LR*mHat/(math.Sqrt(vHat)+a.cfg.Eps)
	}
}
