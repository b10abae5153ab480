package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldrun/foldrun/xval"
	"github.com/foldrun/foldrun/xval/orchestrator"
)

// withDataset points the --dataset flag variable at path for one test.
func withDataset(t *testing.T, path string) {
	t.Helper()
	old := datasetPath
	datasetPath = path
	t.Cleanup(func() { datasetPath = old })
}

func withConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })
}

func noneChanged(string) bool { return false }

// writeCSV writes 6 groups of 3 records with two features and two classes.
func writeCSV(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("group,label,f0,f1\n")
	for g := 0; g < 6; g++ {
		for i := 0; i < 3; i++ {
			label := g % 2
			fmt.Fprintf(&b, "subject_%d,%d,%d.%d,%d\n", g, label, label*2, i, -label)
		}
	}
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestRootCmd_RequiresTwoArgs(t *testing.T) {
	assert.Error(t, rootCmd.Args(rootCmd, []string{"3"}))
	assert.Error(t, rootCmd.Args(rootCmd, []string{"3", "out", "extra"}))
	assert.NoError(t, rootCmd.Args(rootCmd, []string{"3", "out"}))
}

func TestRootCmd_FlagDefaults(t *testing.T) {
	// GIVEN the registered flags
	flags := rootCmd.Flags()

	// THEN the defaults match the documented experiment
	cases := map[string]string{
		"folds":        "5",
		"seed":         "10",
		"shuffle":      "true",
		"split-path":   "./dataset/splits",
		"batch-size":   "256",
		"prefetch":     "2",
		"lr":           "0.0001",
		"weight-decay": "0.001",
		"log":          "info",
		"train":        "false",
		"test":         "false",
	}
	for name, want := range cases {
		f := flags.Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, want, f.DefValue, name)
	}
	assert.Equal(t, "a", flags.Lookup("train").Shorthand)
	assert.Equal(t, "t", flags.Lookup("test").Shorthand)
}

func TestResolveSettings_InvalidEpochs(t *testing.T) {
	withDataset(t, "data.csv")
	for _, arg := range []string{"zero", "0", "-2", "1.5"} {
		_, err := resolveSettings([]string{arg, "out"}, noneChanged)
		assert.ErrorIs(t, err, xval.ErrConfig, arg)
	}
}

func TestResolveSettings_MissingDataset(t *testing.T) {
	withDataset(t, "")
	_, err := resolveSettings([]string{"3", "out"}, noneChanged)
	assert.ErrorIs(t, err, xval.ErrConfig)
}

func TestResolveSettings_FlagValues(t *testing.T) {
	// GIVEN only --dataset set
	withDataset(t, "data.csv")

	// WHEN resolved
	s, err := resolveSettings([]string{"3", "runs/exp1"}, noneChanged)
	require.NoError(t, err)

	// THEN positional args and flag defaults are carried through
	assert.Equal(t, 3, s.Epochs)
	assert.Equal(t, "runs/exp1", s.TrainPath)
	assert.Equal(t, 5, s.Folds)
	assert.Equal(t, int64(10), s.Seed)
	cfg := s.orchestratorConfig()
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.RunsTest(), "test runs when --train is absent")
}

func TestResolveSettings_ConfigFileFillsUnsetFlags(t *testing.T) {
	// GIVEN a run config and an explicit --folds on the command line
	withDataset(t, "")
	withConfig(t, "dataset: from-file.csv\nfolds: 8\nseed: 99\ntrain: true\nbatch_size: 32\n")
	changed := func(flag string) bool { return flag == "folds" }

	// WHEN resolved
	s, err := resolveSettings([]string{"2", "out"}, changed)
	require.NoError(t, err)

	// THEN the file supplies unset values and the explicit flag wins
	assert.Equal(t, "from-file.csv", s.Dataset)
	assert.Equal(t, 5, s.Folds, "explicit flag overrides file")
	assert.Equal(t, int64(99), s.Seed)
	assert.True(t, s.Train)
	assert.Equal(t, 32, s.BatchSize)
	assert.Equal(t, 2, s.Prefetch, "absent from file keeps flag default")
}

func TestResolveSettings_ConfigUnknownField(t *testing.T) {
	withDataset(t, "data.csv")
	withConfig(t, "folds: 3\nepochz: 4\n")

	_, err := resolveSettings([]string{"2", "out"}, noneChanged)

	assert.ErrorIs(t, err, xval.ErrConfig)
	assert.Contains(t, err.Error(), "epochz")
}

func TestResolveSettings_InvalidLearningRate(t *testing.T) {
	withDataset(t, "data.csv")
	withConfig(t, "lr: 0\n")

	_, err := resolveSettings([]string{"2", "out"}, noneChanged)

	assert.ErrorIs(t, err, xval.ErrConfig)
}

func TestRun_EndToEnd_WritesReport(t *testing.T) {
	// GIVEN a small CSV dataset and train+test mode
	s := settings{
		Epochs:      2,
		TrainPath:   t.TempDir(),
		Dataset:     writeCSV(t),
		Train:       true,
		Test:        true,
		Folds:       3,
		Seed:        10,
		Shuffle:     true,
		BatchSize:   4,
		Prefetch:    1,
		LR:          0.01,
		WeightDecay: 1e-3,
		Log:         "error",
	}
	var out bytes.Buffer

	// WHEN the run executes
	report, err := run(context.Background(), s, &out)
	require.NoError(t, err)

	// THEN all folds succeed and the report is printed and persisted
	assert.Equal(t, []int{0, 1, 2}, report.Succeeded)
	assert.Contains(t, out.String(), "Cross-Validation Report")
	saved, err := orchestrator.LoadReport(filepath.Join(s.TrainPath, xval.ReportFileName))
	require.NoError(t, err)
	assert.Equal(t, report.RunID, saved.RunID)
	for id := 0; id < 3; id++ {
		_, err := os.Stat(xval.CheckpointPath(s.TrainPath, id))
		assert.NoError(t, err, "fold %d checkpoint", id)
		_, err = os.Stat(xval.PredictionPath(s.TrainPath, id))
		assert.NoError(t, err, "fold %d prediction dump", id)
	}
}

func TestRun_MissingDataset_ReturnsError(t *testing.T) {
	s := settings{Epochs: 1, TrainPath: t.TempDir(), Dataset: filepath.Join(t.TempDir(), "nope.csv"),
		Folds: 2, BatchSize: 4, LR: 1e-4}

	report, err := run(context.Background(), s, &bytes.Buffer{})

	assert.Error(t, err)
	assert.Nil(t, report)
}

func TestRunConfig_Apply_ExplicitFlagsWinForEveryType(t *testing.T) {
	// GIVEN a file setting fields of every kind
	seedVal, lrVal, shuffleVal, logVal, foldsVal := int64(7), 0.5, false, "debug", 9
	rc := &RunConfig{Seed: &seedVal, LR: &lrVal, Shuffle: &shuffleVal, Log: &logVal, Folds: &foldsVal}
	base := settings{Seed: 10, LR: 1e-4, Shuffle: true, Log: "info", Folds: 5}

	// WHEN nothing was set on the command line
	fromFile := base
	rc.apply(&fromFile, noneChanged)

	// THEN the file wins
	assert.Equal(t, settings{Seed: 7, LR: 0.5, Shuffle: false, Log: "debug", Folds: 9}, fromFile)

	// WHEN every flag was set explicitly
	explicit := base
	rc.apply(&explicit, func(string) bool { return true })

	// THEN the flags win
	assert.Equal(t, base, explicit)
}
