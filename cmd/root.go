package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/foldrun/foldrun/xval"
	"github.com/foldrun/foldrun/xval/dataset"
	"github.com/foldrun/foldrun/xval/learner"
	"github.com/foldrun/foldrun/xval/orchestrator"
)

var (
	// CLI flags for the run mode
	trainFlag bool // Run the training/validation cycle
	testFlag  bool // Run the test phase (implied when --train is absent)

	// CLI flags for the dataset and its split
	datasetPath string // CSV file with header group,label,f0..fn
	folds       int    // Number of cross-validation folds
	seed        int64  // Master seed for splitting, shuffling and initialization
	shuffle     bool   // Shuffle groups before splitting
	splitPath   string // Directory holding the persisted split manifest

	// CLI flags for the learner
	batchSize   int     // Samples per batch
	prefetch    int     // Batches assembled ahead of the learner
	lr          float64 // Adam learning rate
	weightDecay float64 // L2 weight decay

	configPath string // Optional YAML run config
	logLevel   string // Log verbosity level
)

// rootCmd runs the cross-validation experiment
var rootCmd = &cobra.Command{
	Use:   "foldrun <epochs> <train_path>",
	Short: "Grouped k-fold cross-validation training with resumable folds",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		s, err := resolveSettings(args, cmd.Flags().Changed)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		level, err := logrus.ParseLevel(s.Log)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", s.Log)
		}
		logrus.SetLevel(level)
		logrus.Debugf("Resolved settings: %s", s)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := run(ctx, s, os.Stdout)
		if err != nil {
			logrus.Fatalf("Run aborted: %v", err)
		}
		if !report.OK() {
			logrus.Warnf("%d fold(s) failed; rerun to resume them", len(report.Failed))
		}
	},
}

// resolveSettings merges positional args, flags and the optional run config.
// changed reports whether a flag was set explicitly on the command line.
func resolveSettings(args []string, changed func(flag string) bool) (settings, error) {
	epochs, err := strconv.Atoi(args[0])
	if err != nil {
		return settings{}, xval.Configf("epochs must be an integer, got %q", args[0])
	}
	if epochs < 1 {
		return settings{}, xval.Configf("epochs must be >= 1, got %d", epochs)
	}
	s := settings{
		Epochs:      epochs,
		TrainPath:   args[1],
		Dataset:     datasetPath,
		Train:       trainFlag,
		Test:        testFlag,
		Folds:       folds,
		Seed:        seed,
		Shuffle:     shuffle,
		SplitPath:   splitPath,
		BatchSize:   batchSize,
		Prefetch:    prefetch,
		LR:          lr,
		WeightDecay: weightDecay,
		Log:         logLevel,
	}
	if configPath != "" {
		rc, err := LoadRunConfig(configPath)
		if err != nil {
			return settings{}, err
		}
		rc.apply(&s, changed)
	}
	if err := s.validate(); err != nil {
		return settings{}, err
	}
	return s, nil
}

func (s settings) orchestratorConfig() orchestrator.Config {
	cfg := orchestrator.NewConfig(s.Epochs, s.TrainPath)
	cfg.Train = s.Train
	cfg.Test = s.Test
	cfg.Folds = s.Folds
	cfg.Seed = s.Seed
	cfg.Shuffle = s.Shuffle
	cfg.SplitPath = s.SplitPath
	cfg.BatchSize = s.BatchSize
	cfg.Prefetch = s.Prefetch
	return cfg
}

// run loads the dataset, runs every fold, prints the report to out and saves
// it under the artifact root. Fold failures are reported, not returned.
func run(ctx context.Context, s settings, out io.Writer) (*orchestrator.Report, error) {
	ds, err := dataset.LoadCSV(s.Dataset)
	if err != nil {
		return nil, err
	}
	logrus.Infof("Loaded %d records (%d features, %d classes) from %s", ds.Len(), ds.FeatureDim(), ds.NumClasses(), s.Dataset)

	adam := learner.DefaultAdamConfig()
	adam.LR = s.LR
	adam.WeightDecay = s.WeightDecay
	factory := learner.SoftmaxFactory(ds.FeatureDim(), ds.NumClasses(), adam, s.Seed)

	o, err := orchestrator.New(s.orchestratorConfig(), ds, factory)
	if err != nil {
		return nil, err
	}
	report, runErr := o.Run(ctx)
	if report == nil {
		return nil, runErr
	}
	report.Print(out)
	path := filepath.Join(s.TrainPath, xval.ReportFileName)
	if err := report.Save(path); err != nil {
		logrus.Errorf("Could not save report: %v", err)
	} else {
		fmt.Fprintf(out, "Report written to %s\n", path)
	}
	return report, runErr
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVarP(&trainFlag, "train", "a", false, "Run the training/validation cycle")
	rootCmd.Flags().BoolVarP(&testFlag, "test", "t", false, "Run the test phase (runs by default when --train is absent)")

	rootCmd.Flags().StringVar(&datasetPath, "dataset", "", "CSV dataset with header group,label,f0..fn")
	rootCmd.Flags().IntVar(&folds, "folds", 5, "Number of cross-validation folds")
	rootCmd.Flags().Int64Var(&seed, "seed", 10, "Seed for splitting, shuffling and initialization")
	rootCmd.Flags().BoolVar(&shuffle, "shuffle", true, "Shuffle groups before splitting")
	rootCmd.Flags().StringVar(&splitPath, "split-path", "./dataset/splits", "Directory for the persisted split manifest (empty disables)")

	rootCmd.Flags().IntVar(&batchSize, "batch-size", 256, "Samples per batch")
	rootCmd.Flags().IntVar(&prefetch, "prefetch", 2, "Batches prepared ahead of the learner (0 disables)")
	rootCmd.Flags().Float64Var(&lr, "lr", 1e-4, "Adam learning rate")
	rootCmd.Flags().Float64Var(&weightDecay, "weight-decay", 1e-3, "L2 weight decay")

	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML run config; explicit flags override its values")
	rootCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
}
