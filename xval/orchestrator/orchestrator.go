// Package orchestrator runs the fold loop: it splits the dataset, builds one
// FoldTrainer per fold, dispatches the train and test phases, and isolates
// per-fold failures into a run report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/foldrun/foldrun/xval"
	"github.com/foldrun/foldrun/xval/checkpoint"
	"github.com/foldrun/foldrun/xval/dataset"
	"github.com/foldrun/foldrun/xval/internal/fsutil"
	"github.com/foldrun/foldrun/xval/split"
	"github.com/foldrun/foldrun/xval/trainer"
)

// LearnerFactory builds a freshly initialized Learner for one fold.
type LearnerFactory func(foldID int) (trainer.Learner, error)

// Config holds every run parameter. There is no ambient state: device,
// batch size and paths all travel through this struct.
type Config struct {
	Epochs    int    // validation epochs per fold when Train is set (>= 1)
	TrainPath string // artifact root
	Train     bool   // run the Training/Validating cycle
	Test      bool   // run the Testing phase; also runs when Train is false

	Folds     int    // k (>= 2)
	Shuffle   bool   // shuffle groups before splitting and batches during training
	Seed      int64  // master seed for splitting, shuffling and initialization
	SplitPath string // split manifest directory ("" = do not persist)

	BatchSize int // samples per batch (>= 1)
	Prefetch  int // batches assembled ahead (>= 0)
}

// NewConfig returns the defaults of the original experiment: 5 folds,
// shuffled with seed 10, batch size 256.
func NewConfig(epochs int, trainPath string) Config {
	return Config{
		Epochs:    epochs,
		TrainPath: trainPath,
		Folds:     5,
		Shuffle:   true,
		Seed:      10,
		BatchSize: 256,
		Prefetch:  2,
	}
}

// Validate reports the first invalid field as an ErrConfig.
func (c Config) Validate() error {
	if c.Epochs < 1 {
		return xval.Configf("epochs must be >= 1, got %d", c.Epochs)
	}
	if c.TrainPath == "" {
		return xval.Configf("train path is required")
	}
	if c.Folds < 2 {
		return xval.Configf("folds must be >= 2, got %d", c.Folds)
	}
	if c.BatchSize < 1 {
		return xval.Configf("batch size must be >= 1, got %d", c.BatchSize)
	}
	if c.Prefetch < 0 {
		return xval.Configf("prefetch must be >= 0, got %d", c.Prefetch)
	}
	return nil
}

// RunsTest reports whether the Testing phase runs for each fold.
func (c Config) RunsTest() bool {
	return c.Test || !c.Train
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver attaches obs to every FoldTrainer.
func WithObserver(obs trainer.Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// Orchestrator runs all folds of one experiment sequentially.
type Orchestrator struct {
	cfg        Config
	ds         dataset.Dataset
	newLearner LearnerFactory
	observer   trainer.Observer
	runID      string
	rng        *xval.PartitionedRNG
	log        *logrus.Entry
}

// New validates cfg and prepares a run.
func New(cfg Config, ds dataset.Dataset, newLearner LearnerFactory, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ds == nil || newLearner == nil {
		return nil, xval.Configf("dataset and learner factory are required")
	}
	o := &Orchestrator{
		cfg:        cfg,
		ds:         ds,
		newLearner: newLearner,
		runID:      uuid.NewString(),
		rng:        xval.NewPartitionedRNG(xval.NewRunKey(cfg.Seed)),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logrus.WithField("run_id", o.runID)
	return o, nil
}

// RunID returns the identifier stamped on logs and the report.
func (o *Orchestrator) RunID() string { return o.runID }

// Run processes every fold. Per-fold failures are recorded in the report and
// never stop the loop. The returned error is non-nil only when the run could
// not start (artifact root, split) or ctx was cancelled; the report is
// returned in every case once folds exist.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	if err := fsutil.EnsureDir(o.cfg.TrainPath); err != nil {
		return nil, fmt.Errorf("creating artifact root %s: %w", o.cfg.TrainPath, err)
	}
	store, err := checkpoint.NewStore(o.cfg.TrainPath)
	if err != nil {
		return nil, err
	}

	splitter, err := split.New(o.cfg.Folds, o.cfg.Shuffle, o.cfg.Seed, split.WithSplitPath(o.cfg.SplitPath))
	if err != nil {
		return nil, err
	}
	folds, err := splitter.Split(o.ds)
	if err != nil {
		return nil, err
	}

	report := NewReport(o.runID, o.cfg)
	o.log.Infof("Starting run: %d folds, train=%v test=%v epochs=%d, artifacts in %s",
		len(folds), o.cfg.Train, o.cfg.RunsTest(), o.cfg.Epochs, o.cfg.TrainPath)

	var runErr error
	for i, f := range folds {
		if err := ctx.Err(); err != nil {
			for _, rest := range folds[i:] {
				report.recordFailure(xval.NewFoldError(rest.ID, xval.PhaseInit, err))
			}
			runErr = err
			break
		}
		o.log.Infof("Processing fold %d/%d (train=%d, validation=%d samples)",
			i+1, len(folds), f.Train.Len(), f.Validation.Len())

		if ferr := o.runFold(ctx, store, f); ferr != nil {
			report.recordFailure(ferr)
			o.log.WithField("fold", f.ID).Errorf("Fold %d failed: %v", f.ID, ferr)
			continue
		}
		report.recordSuccess(f.ID)
	}
	if runErr == nil {
		runErr = ctx.Err()
	}

	report.WallTime = time.Since(start)
	if len(report.Failed) > 0 {
		o.log.Warnf("Run finished with %d/%d failed folds: %v", len(report.Failed), len(folds), report.FailedIDs())
	} else {
		o.log.Info("Run complete.")
	}
	return report, runErr
}

// runFold returns nil or a *xval.FoldError.
func (o *Orchestrator) runFold(ctx context.Context, store *checkpoint.Store, f split.Fold) *xval.FoldError {
	l, err := o.newLearner(f.ID)
	if err != nil {
		return xval.NewFoldError(f.ID, xval.PhaseInit, fmt.Errorf("building learner: %w", err))
	}

	opts := []trainer.Option{trainer.WithLogger(o.log.WithField("fold", f.ID))}
	if o.observer != nil {
		opts = append(opts, trainer.WithObserver(o.observer))
	}
	if o.cfg.Shuffle {
		opts = append(opts, trainer.WithShuffle(o.rng.ForSubsystem(xval.SubsystemShuffle(f.ID))))
	}

	tr, err := trainer.New(o.cfg.TrainPath,
		trainer.Fold{ID: f.ID, Train: f.Train, Validation: f.Validation},
		l, store,
		trainer.Config{BatchSize: o.cfg.BatchSize, Prefetch: o.cfg.Prefetch},
		opts...)
	if err != nil {
		return xval.NewFoldError(f.ID, xval.PhaseInit, err)
	}

	if o.cfg.Train {
		if err := tr.Fit(ctx, o.cfg.Epochs); err != nil {
			return xval.NewFoldError(f.ID, xval.PhaseTrain, err)
		}
	}
	if o.cfg.RunsTest() {
		if err := tr.Test(ctx); err != nil {
			return xval.NewFoldError(f.ID, xval.PhaseTest, err)
		}
	}
	return nil
}

// IsConfigError reports whether err stems from invalid configuration.
func IsConfigError(err error) bool {
	return errors.Is(err, xval.ErrConfig)
}
