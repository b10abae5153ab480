// Package trainer drives one fold through its train/validate/test lifecycle.
//
// A FoldTrainer owns the fold directory for its lifetime: the checkpoint,
// the scalar stream, the prediction dump and the step counters. Numeric work
// is delegated to a Learner; lifecycle callbacks go to an Observer.
package trainer

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/foldrun/foldrun/xval"
	"github.com/foldrun/foldrun/xval/checkpoint"
	"github.com/foldrun/foldrun/xval/dataset"
	"github.com/foldrun/foldrun/xval/internal/fsutil"
	"github.com/foldrun/foldrun/xval/logsink"
	"github.com/foldrun/foldrun/xval/metrics"
)

// State is the lifecycle position of a FoldTrainer.
//
//	Initialized -> {Training <-> Validating} -> Completed
//	Initialized -> Testing -> Completed
//
// Any fatal error moves the trainer to Failed.
type State int

const (
	StateInitialized State = iota
	StateTraining
	StateValidating
	StateTesting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateTraining:
		return "training"
	case StateValidating:
		return "validating"
	case StateTesting:
		return "testing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Fold is the data a trainer works on.
type Fold struct {
	ID         int
	Train      dataset.Dataset
	Validation dataset.Dataset
}

// Config holds per-fold loop parameters.
type Config struct {
	BatchSize int // samples per batch (must be > 0)
	Prefetch  int // batches assembled ahead of the learner (0 = none)
}

// Option configures a FoldTrainer.
type Option func(*FoldTrainer)

// WithObserver sets the lifecycle observer (default LogObserver).
func WithObserver(o Observer) Option {
	return func(t *FoldTrainer) { t.observer = o }
}

// WithShuffle shuffles training batches with rng each epoch.
func WithShuffle(rng *rand.Rand) Option {
	return func(t *FoldTrainer) { t.rng = rng }
}

// WithLogger sets the log entry used for this fold.
func WithLogger(entry *logrus.Entry) Option {
	return func(t *FoldTrainer) { t.log = entry }
}

// FoldTrainer runs the epochs of one fold.
type FoldTrainer struct {
	root     string
	fold     Fold
	learner  Learner
	store    *checkpoint.Store
	cfg      Config
	rng      *rand.Rand
	observer Observer
	log      *logrus.Entry

	state      State
	resumed    bool
	epoch      int
	globalStep int
	steps      logsink.StepCounters

	train metrics.PhaseMetrics
	val   metrics.PhaseMetrics
	test  metrics.PhaseMetrics
}

// New prepares a trainer for fold under root. It restores the fold's
// checkpoint when one exists; an absent checkpoint leaves the learner's fresh
// parameters in place. A checkpoint that exists but cannot be read or decoded
// is returned as an error and the fold must not run.
func New(root string, fold Fold, learner Learner, store *checkpoint.Store, cfg Config, opts ...Option) (*FoldTrainer, error) {
	if cfg.BatchSize <= 0 {
		return nil, xval.Configf("batch size must be > 0, got %d", cfg.BatchSize)
	}
	t := &FoldTrainer{
		root:    root,
		fold:    fold,
		learner: learner,
		store:   store,
		cfg:     cfg,
		log:     logrus.WithField("fold", fold.ID),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.observer == nil {
		t.observer = LogObserver{Log: t.log}
	}

	if err := fsutil.EnsureDir(xval.FoldDir(root, fold.ID)); err != nil {
		return nil, fmt.Errorf("creating fold dir: %w: %w", xval.ErrLogWrite, err)
	}

	state, found, err := store.Load(fold.ID)
	if err != nil {
		return nil, err
	}
	if found {
		if err := learner.LoadState(state); err != nil {
			return nil, fmt.Errorf("restoring %s: %w: %v", store.Path(fold.ID), xval.ErrCheckpointCorrupt, err)
		}
		t.resumed = true
		t.log.Infof("Resuming fold %d from %s", fold.ID, store.Path(fold.ID))
	} else {
		t.log.Debugf("No checkpoint for fold %d, starting from fresh parameters", fold.ID)
	}

	t.steps, err = logsink.LoadCounters(xval.StepsPath(root, fold.ID))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// State returns the current lifecycle state.
func (t *FoldTrainer) State() State { return t.state }

// Resumed reports whether parameters were restored from a checkpoint.
func (t *FoldTrainer) Resumed() bool { return t.resumed }

// Epoch returns the number of epochs completed by the last Fit.
func (t *FoldTrainer) Epoch() int { return t.epoch }

// Steps returns the current step counters.
func (t *FoldTrainer) Steps() logsink.StepCounters { return t.steps }

func (t *FoldTrainer) ready() error {
	if t.state != StateInitialized && t.state != StateCompleted {
		return fmt.Errorf("fold %d: cannot start a phase from state %s", t.fold.ID, t.state)
	}
	return nil
}

// Fit alternates training and validation epochs until epochs validation
// epochs have completed. Each validation epoch saves the checkpoint and
// emits one loss and one accuracy record.
func (t *FoldTrainer) Fit(ctx context.Context, epochs int) (err error) {
	if epochs < 1 {
		return xval.Configf("epochs must be >= 1, got %d", epochs)
	}
	if err := t.ready(); err != nil {
		return err
	}

	sw, err := logsink.OpenScalarWriter(xval.ScalarDir(t.root, t.fold.ID))
	if err != nil {
		t.state = StateFailed
		return err
	}
	defer func() {
		if cerr := sw.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			t.state = StateFailed
		}
	}()

	t.train.Reset()
	t.epoch = 0
	for t.epoch < epochs {
		t.state = StateTraining
		if err := t.trainEpoch(ctx, epochs); err != nil {
			return err
		}
		t.state = StateValidating
		if err := t.validateEpoch(ctx, sw, epochs); err != nil {
			return err
		}
	}
	t.state = StateCompleted
	return nil
}

func (t *FoldTrainer) loaderOpts(shuffle bool) []dataset.LoaderOption {
	opts := []dataset.LoaderOption{dataset.WithPrefetch(t.cfg.Prefetch)}
	if shuffle && t.rng != nil {
		opts = append(opts, dataset.WithShuffle(t.rng))
	}
	return opts
}

func (t *FoldTrainer) trainEpoch(ctx context.Context, epochs int) error {
	loader := dataset.NewLoader(t.fold.Train, t.cfg.BatchSize, t.loaderOpts(true)...)
	numBatches := loader.NumBatches()
	i := 0
	for b, err := range loader.Batches(ctx) {
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("epoch %d/%d train batch %d: %w", t.epoch+1, epochs, i, err)
		}
		out, err := t.learner.TrainStep(ctx, b)
		if err == nil {
			err = checkOutput(out, b)
		}
		if err != nil {
			return fmt.Errorf("epoch %d/%d train batch %d: %w", t.epoch+1, epochs, i, err)
		}
		acc := metrics.Accuracy(out.Scores, b.Labels)
		t.train.Observe(out.Loss, acc, b.Len())
		t.observer.OnStep(StepEvent{
			FoldID:     t.fold.ID,
			Epoch:      t.epoch,
			Batch:      i,
			NumBatches: numBatches,
			GlobalStep: t.globalStep,
			Loss:       out.Loss,
			Accuracy:   acc,
		})
		t.globalStep++
		i++
	}
	return nil
}

func (t *FoldTrainer) validateEpoch(ctx context.Context, sw *logsink.ScalarWriter, epochs int) error {
	t.val.Reset()
	err := t.evaluate(ctx, &t.val, func(out Output, b dataset.Batch) error { return nil })
	if err != nil {
		return fmt.Errorf("epoch %d/%d validation: %w", t.epoch+1, epochs, err)
	}

	state, err := t.learner.State()
	if err != nil {
		return fmt.Errorf("serializing parameters: %w", err)
	}
	if err := t.store.Save(t.fold.ID, state); err != nil {
		return err
	}

	step := t.steps.TrainStep
	loss := t.collect(map[string]*metrics.Mean{"train": &t.train.Loss, "validation": &t.val.Loss}, 1)
	acc := t.collect(map[string]*metrics.Mean{"train": &t.train.Accuracy, "validation": &t.val.Accuracy}, 100)
	if err := sw.AddScalars("loss", loss, step); err != nil {
		return err
	}
	if err := sw.AddScalars("accuracy", acc, step); err != nil {
		return err
	}

	t.train.Reset()
	t.epoch++
	t.steps.TrainStep++
	if err := logsink.SaveCounters(xval.StepsPath(t.root, t.fold.ID), t.steps); err != nil {
		return err
	}
	t.observer.OnValidationEpochEnd(EpochSummary{
		FoldID:   t.fold.ID,
		Epoch:    t.epoch - 1,
		Step:     step,
		Loss:     loss,
		Accuracy: acc,
	})
	return nil
}

// Test evaluates the current parameters on the validation partition,
// appending every prediction to the fold's dump and emitting one test loss
// and one test accuracy record.
func (t *FoldTrainer) Test(ctx context.Context) (err error) {
	if err := t.ready(); err != nil {
		return err
	}
	t.state = StateTesting

	dump, err := logsink.OpenPredictionDump(xval.PredictionPath(t.root, t.fold.ID))
	if err != nil {
		t.state = StateFailed
		return err
	}
	sw, err := logsink.OpenScalarWriter(xval.ScalarDir(t.root, t.fold.ID))
	if err != nil {
		_ = dump.Close()
		t.state = StateFailed
		return err
	}
	defer func() {
		if cerr := dump.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if cerr := sw.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			t.state = StateFailed
		}
	}()

	t.test.Reset()
	err = t.evaluate(ctx, &t.test, func(out Output, b dataset.Batch) error {
		for i, scores := range out.Scores {
			if err := dump.Append(scores, b.Labels[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("test: %w", err)
	}

	summary := TestSummary{FoldID: t.fold.ID, Step: t.steps.TestStep, Samples: dump.Lines()}
	if loss, err := t.test.Loss.Compute(); err == nil {
		acc, _ := t.test.Accuracy.Compute()
		summary.Loss, summary.Accuracy = loss, acc*100
		if err := sw.AddScalar("loss/test", summary.Loss, summary.Step); err != nil {
			return err
		}
		if err := sw.AddScalar("accuracy/test", summary.Accuracy, summary.Step); err != nil {
			return err
		}
	} else {
		t.log.Warnf("fold %d test: validation partition is empty, no test metrics emitted", t.fold.ID)
	}

	t.steps.TestStep++
	if err := logsink.SaveCounters(xval.StepsPath(t.root, t.fold.ID), t.steps); err != nil {
		return err
	}
	t.observer.OnTestEpochEnd(summary)
	t.state = StateCompleted
	return nil
}

// evaluate runs Predict over the validation partition, folding results into
// pm and handing each batch to sink.
func (t *FoldTrainer) evaluate(ctx context.Context, pm *metrics.PhaseMetrics, sink func(Output, dataset.Batch) error) error {
	loader := dataset.NewLoader(t.fold.Validation, t.cfg.BatchSize, t.loaderOpts(false)...)
	i := 0
	for b, err := range loader.Batches(ctx) {
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		out, err := t.learner.Predict(ctx, b)
		if err == nil {
			err = checkOutput(out, b)
		}
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		if err := sink(out, b); err != nil {
			return err
		}
		pm.Observe(out.Loss, metrics.Accuracy(out.Scores, b.Labels), b.Len())
		i++
	}
	return nil
}

// collect computes every named mean, scaled, skipping series with no data.
func (t *FoldTrainer) collect(series map[string]*metrics.Mean, scale float64) map[string]float64 {
	out := make(map[string]float64, len(series))
	for name, m := range series {
		v, err := m.Compute()
		if err != nil {
			t.log.Warnf("fold %d epoch %d: no %s observations, series omitted", t.fold.ID, t.epoch, name)
			continue
		}
		out[name] = v * scale
	}
	return out
}

func checkOutput(out Output, b dataset.Batch) error {
	if len(out.Scores) != b.Len() {
		return fmt.Errorf("learner returned %d score rows for %d samples", len(out.Scores), b.Len())
	}
	return nil
}
