package learner

import (
	"github.com/foldrun/foldrun/xval"
	"github.com/foldrun/foldrun/xval/trainer"
)

// SoftmaxFactory returns a constructor of freshly initialized softmax
// learners, one per fold. Initial weights of fold N are drawn from the
// init_N subsystem of seed, so a fold always starts from the same point.
func SoftmaxFactory(dim, classes int, cfg AdamConfig, seed int64) func(foldID int) (trainer.Learner, error) {
	return func(foldID int) (trainer.Learner, error) {
		rng := xval.NewPartitionedRNG(xval.NewRunKey(seed)).ForSubsystem(xval.SubsystemInit(foldID))
		s, err := NewSoftmax(dim, classes, NewAdam(cfg, NumSoftmaxParams(dim, classes)), rng)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
