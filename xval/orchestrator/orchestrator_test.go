package orchestrator_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldrun/foldrun/xval"
	"github.com/foldrun/foldrun/xval/checkpoint"
	"github.com/foldrun/foldrun/xval/dataset"
	"github.com/foldrun/foldrun/xval/internal/testutil"
	"github.com/foldrun/foldrun/xval/logsink"
	"github.com/foldrun/foldrun/xval/orchestrator"
	"github.com/foldrun/foldrun/xval/split"
	"github.com/foldrun/foldrun/xval/trainer"
)

// learners records the FakeLearner handed to each fold.
type learners map[int]*testutil.FakeLearner

func (ls learners) factory(foldID int) (trainer.Learner, error) {
	l := &testutil.FakeLearner{Classes: 3}
	ls[foldID] = l
	return l, nil
}

func testConfig(t *testing.T) orchestrator.Config {
	t.Helper()
	cfg := orchestrator.NewConfig(2, t.TempDir())
	cfg.Folds = 3
	cfg.BatchSize = 4
	cfg.Prefetch = 0
	return cfg
}

func runOnce(t *testing.T, cfg orchestrator.Config, ls learners) (*orchestrator.Report, error) {
	t.Helper()
	o, err := orchestrator.New(cfg, testutil.GroupedDataset(6, 3, 3), ls.factory)
	require.NoError(t, err)
	return o.Run(context.Background())
}

func TestRun_TrainOnly_AllFoldsCheckpointed(t *testing.T) {
	// GIVEN 6 groups split into 3 folds, train only
	cfg := testConfig(t)
	cfg.Train = true
	ls := learners{}

	// WHEN the run completes
	report, err := runOnce(t, cfg, ls)
	require.NoError(t, err)

	// THEN every fold succeeded and owns a checkpoint
	assert.Equal(t, []int{0, 1, 2}, report.Succeeded)
	assert.Empty(t, report.Failed)
	assert.True(t, report.OK())
	assert.NoError(t, report.Err())
	store, err := checkpoint.NewStore(cfg.TrainPath)
	require.NoError(t, err)
	for id := 0; id < 3; id++ {
		state, found, err := store.Load(id)
		require.NoError(t, err)
		assert.True(t, found, "fold %d", id)
		assert.Equal(t, "6", string(state), "fold %d: 2 epochs x 3 batches of 4", id)
		_, statErr := os.Stat(xval.PredictionPath(cfg.TrainPath, id))
		assert.True(t, os.IsNotExist(statErr), "no test phase ran for fold %d", id)
	}
	assert.Len(t, ls, 3, "one learner per fold")
}

func TestRun_FiveFolds_OneRecordPerEpochPerFold(t *testing.T) {
	// GIVEN 10 groups split into the default 5 folds, trained for 2 epochs
	cfg := testConfig(t)
	cfg.Folds = 5
	cfg.Train = true
	ls := learners{}
	o, err := orchestrator.New(cfg, testutil.GroupedDataset(10, 3, 3), ls.factory)
	require.NoError(t, err)

	// WHEN the run completes
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	// THEN every fold wrote exactly one loss and one accuracy record per epoch
	assert.Equal(t, []int{0, 1, 2, 3, 4}, report.Succeeded)
	for id := 0; id < 5; id++ {
		entries, err := logsink.ReadScalars(xval.ScalarDir(cfg.TrainPath, id))
		require.NoError(t, err)
		loss := logsink.FilterTag(entries, "loss")
		acc := logsink.FilterTag(entries, "accuracy")
		require.Len(t, loss, 2, "fold %d", id)
		require.Len(t, acc, 2, "fold %d", id)
		for epoch := 0; epoch < 2; epoch++ {
			assert.Equal(t, epoch, loss[epoch].Step, "fold %d", id)
			assert.Equal(t, epoch, acc[epoch].Step, "fold %d", id)
			assert.Contains(t, loss[epoch].Values, "train")
			assert.Contains(t, loss[epoch].Values, "validation")
		}
		assert.Equal(t, 12, ls[id].Updates, "fold %d: 2 epochs x 6 batches of 4", id)
	}
}

func TestRun_TestOnlyWithoutCheckpoints_UsesFreshParameters(t *testing.T) {
	// GIVEN neither train nor test requested and no prior checkpoints
	cfg := testConfig(t)
	ls := learners{}

	// WHEN the run completes
	report, err := runOnce(t, cfg, ls)
	require.NoError(t, err)

	// THEN the test phase ran for every fold with one line per validation sample
	assert.Equal(t, []int{0, 1, 2}, report.Succeeded)
	assert.True(t, report.Test)
	for id := 0; id < 3; id++ {
		lines := testutil.ReadLines(t, xval.PredictionPath(cfg.TrainPath, id))
		assert.Len(t, lines, 6, "fold %d: 2 groups x 3 records", id)
		assert.False(t, ls[id].Loaded)
		assert.Zero(t, ls[id].Updates)
	}
}

func TestRun_TrainThenTest_RestoresTrainedParameters(t *testing.T) {
	// GIVEN a completed training run
	cfg := testConfig(t)
	cfg.Train = true
	_, err := runOnce(t, cfg, learners{})
	require.NoError(t, err)

	// WHEN a test-only run follows on the same artifact root
	cfg.Train = false
	cfg.Test = true
	ls := learners{}
	report, err := runOnce(t, cfg, ls)
	require.NoError(t, err)

	// THEN every fold resumed from its checkpoint
	assert.Equal(t, []int{0, 1, 2}, report.Succeeded)
	for id := 0; id < 3; id++ {
		assert.True(t, ls[id].Loaded, "fold %d", id)
		assert.Equal(t, 6, ls[id].Updates)
		steps, err := logsink.LoadCounters(xval.StepsPath(cfg.TrainPath, id))
		require.NoError(t, err)
		assert.Equal(t, logsink.StepCounters{TrainStep: 2, TestStep: 1}, steps)
	}
}

func TestRun_CorruptCheckpoint_IsolatedToItsFold(t *testing.T) {
	// GIVEN fold 1 has an unreadable checkpoint
	cfg := testConfig(t)
	cfg.Train = true
	cfg.Test = true
	path := xval.CheckpointPath(cfg.TrainPath, 1)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("not a checkpoint"), 0o644))

	// WHEN the run completes
	report, err := runOnce(t, cfg, learners{})
	require.NoError(t, err)

	// THEN folds 0 and 2 succeed and fold 1 is reported failed at init
	assert.Equal(t, []int{0, 2}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, 1, report.Failed[0].FoldID)
	assert.Equal(t, xval.PhaseInit, report.Failed[0].Phase)
	assert.Contains(t, report.Failed[0].Error, "checkpoint corrupt")
	assert.ErrorIs(t, report.Err(), xval.ErrCheckpointCorrupt)
	assert.Equal(t, []int{1}, report.FailedIDs())

	// AND the corrupt file is left untouched for inspection
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "not a checkpoint", string(data))
}

func TestRun_LearnerFailure_RecordedAsTrainPhase(t *testing.T) {
	// GIVEN fold 0's learner fails on its second batch
	cfg := testConfig(t)
	cfg.Train = true
	factory := func(foldID int) (trainer.Learner, error) {
		l := &testutil.FakeLearner{Classes: 3}
		if foldID == 0 {
			l.FailTrainAt = 2
		}
		return l, nil
	}
	o, err := orchestrator.New(cfg, testutil.GroupedDataset(6, 3, 3), factory)
	require.NoError(t, err)

	// WHEN the run completes
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	// THEN only fold 0 failed, in the train phase
	assert.Equal(t, []int{1, 2}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, xval.PhaseTrain, report.Failed[0].Phase)
}

func TestRun_FactoryError_RecordedAsInitPhase(t *testing.T) {
	cfg := testConfig(t)
	boom := errors.New("no device")
	o, err := orchestrator.New(cfg, testutil.GroupedDataset(6, 3, 3), func(int) (trainer.Learner, error) {
		return nil, boom
	})
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Succeeded)
	assert.Len(t, report.Failed, 3)
	assert.ErrorIs(t, report.Err(), boom)
}

func TestRun_CancelledContext_MarksRemainingFoldsFailed(t *testing.T) {
	// GIVEN a context cancelled before the run starts
	cfg := testConfig(t)
	cfg.Train = true
	o, err := orchestrator.New(cfg, testutil.GroupedDataset(6, 3, 3), learners{}.factory)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN run
	report, err := o.Run(ctx)

	// THEN the run reports cancellation and no fold ran
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, report.Succeeded)
	assert.Equal(t, []int{0, 1, 2}, report.FailedIDs())
	for _, f := range report.Failed {
		assert.Equal(t, xval.PhaseInit, f.Phase)
	}
}

// cancellingLearner cancels the run from inside its first training step.
type cancellingLearner struct {
	*testutil.FakeLearner
	cancel context.CancelFunc
}

func (l cancellingLearner) TrainStep(ctx context.Context, b dataset.Batch) (trainer.Output, error) {
	l.cancel()
	return l.FakeLearner.TrainStep(ctx, b)
}

func TestRun_CancelledDuringLastFold_ReturnsContextError(t *testing.T) {
	// GIVEN a run whose last fold cancels the context mid-training
	cfg := testConfig(t)
	cfg.Train = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	factory := func(foldID int) (trainer.Learner, error) {
		l := &testutil.FakeLearner{Classes: 3}
		if foldID == 2 {
			return cancellingLearner{FakeLearner: l, cancel: cancel}, nil
		}
		return l, nil
	}
	o, err := orchestrator.New(cfg, testutil.GroupedDataset(6, 3, 3), factory)
	require.NoError(t, err)

	// WHEN run
	report, err := o.Run(ctx)

	// THEN the cancellation surfaces even though no fold was left to skip
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, []int{0, 1}, report.Succeeded)
	assert.Equal(t, []int{2}, report.FailedIDs())
	assert.Equal(t, xval.PhaseTrain, report.Failed[0].Phase)
}

func TestRun_KExceedsGroups_ConfigError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Folds = 7
	o, err := orchestrator.New(cfg, testutil.GroupedDataset(6, 3, 3), learners{}.factory)
	require.NoError(t, err)

	report, err := o.Run(context.Background())

	assert.Nil(t, report)
	assert.True(t, orchestrator.IsConfigError(err))
}

func TestRun_SplitPath_PersistsManifest(t *testing.T) {
	// GIVEN a split directory
	cfg := testConfig(t)
	cfg.SplitPath = t.TempDir()

	// WHEN two runs use it
	_, err := runOnce(t, cfg, learners{})
	require.NoError(t, err)
	first, err := split.LoadManifest(filepath.Join(cfg.SplitPath, split.ManifestFileName))
	require.NoError(t, err)
	_, err = runOnce(t, cfg, learners{})
	require.NoError(t, err)
	second, err := split.LoadManifest(filepath.Join(cfg.SplitPath, split.ManifestFileName))
	require.NoError(t, err)

	// THEN the manifest is stable across runs
	assert.Equal(t, first, second)
	assert.Equal(t, 3, first.K)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*orchestrator.Config)
	}{
		{"zero epochs", func(c *orchestrator.Config) { c.Epochs = 0 }},
		{"one fold", func(c *orchestrator.Config) { c.Folds = 1 }},
		{"zero batch size", func(c *orchestrator.Config) { c.BatchSize = 0 }},
		{"negative prefetch", func(c *orchestrator.Config) { c.Prefetch = -1 }},
		{"empty train path", func(c *orchestrator.Config) { c.TrainPath = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)
			_, err := orchestrator.New(cfg, testutil.GroupedDataset(6, 3, 3), learners{}.factory)
			assert.ErrorIs(t, err, xval.ErrConfig)
		})
	}
}

func TestConfig_RunsTest(t *testing.T) {
	cfg := orchestrator.Config{}
	assert.True(t, cfg.RunsTest(), "neither flag set")
	cfg.Train = true
	assert.False(t, cfg.RunsTest())
	cfg.Test = true
	assert.True(t, cfg.RunsTest())
}

func TestReport_SaveLoadAndPrint(t *testing.T) {
	// GIVEN a run with one failed fold
	cfg := testConfig(t)
	cfg.Train = true
	path := xval.CheckpointPath(cfg.TrainPath, 2)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	o, err := orchestrator.New(cfg, testutil.GroupedDataset(6, 3, 3), learners{}.factory,
		orchestrator.WithRunID("run-under-test"))
	require.NoError(t, err)
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	// WHEN saved and loaded
	out := filepath.Join(cfg.TrainPath, xval.ReportFileName)
	require.NoError(t, report.Save(out))
	loaded, err := orchestrator.LoadReport(out)
	require.NoError(t, err)

	// THEN the outcome round-trips
	assert.Equal(t, "run-under-test", loaded.RunID)
	assert.Equal(t, []int{0, 1}, loaded.Succeeded)
	assert.Equal(t, report.Failed, loaded.Failed)
	assert.Equal(t, report.WallTime, loaded.WallTime)

	// AND the printed summary names the failed fold
	var buf bytes.Buffer
	report.Print(&buf)
	assert.Contains(t, buf.String(), "run-under-test")
	assert.Contains(t, buf.String(), "fold 2 [init]")
}

func TestNew_GeneratesRunID(t *testing.T) {
	cfg := testConfig(t)
	a, err := orchestrator.New(cfg, testutil.GroupedDataset(6, 3, 3), learners{}.factory)
	require.NoError(t, err)
	b, err := orchestrator.New(cfg, testutil.GroupedDataset(6, 3, 3), learners{}.factory)
	require.NoError(t, err)
	assert.Len(t, a.RunID(), 36)
	assert.NotEqual(t, a.RunID(), b.RunID())
}
