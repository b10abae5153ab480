package trainer

import (
	"context"

	"github.com/foldrun/foldrun/xval/dataset"
)

// Output is the Learner's answer for one batch: one score row per sample and
// the mean loss over the batch.
type Output struct {
	Scores [][]float64
	Loss   float64
}

// Learner is the opaque model plus its optimizer. The trainer never looks
// inside the parameter state it persists.
type Learner interface {
	// TrainStep runs a forward pass, then one parameter update.
	TrainStep(ctx context.Context, b dataset.Batch) (Output, error)
	// Predict runs a forward pass without touching parameters.
	Predict(ctx context.Context, b dataset.Batch) (Output, error)
	// State serializes the current parameters.
	State() ([]byte, error)
	// LoadState replaces the parameters with a previously serialized state.
	LoadState(state []byte) error
}
