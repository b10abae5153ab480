package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/foldrun/foldrun/xval"
)

// RunConfig is the optional YAML run configuration passed with --config.
// Every field is optional; an explicitly set CLI flag wins over the file.
type RunConfig struct {
	Dataset     *string  `yaml:"dataset"`
	Train       *bool    `yaml:"train"`
	Test        *bool    `yaml:"test"`
	Folds       *int     `yaml:"folds"`
	Seed        *int64   `yaml:"seed"`
	Shuffle     *bool    `yaml:"shuffle"`
	SplitPath   *string  `yaml:"split_path"`
	BatchSize   *int     `yaml:"batch_size"`
	Prefetch    *int     `yaml:"prefetch"`
	LR          *float64 `yaml:"lr"`
	WeightDecay *float64 `yaml:"weight_decay"`
	Log         *string  `yaml:"log"`
}

// LoadRunConfig reads a run config with strict field checking.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xval.Configf("reading run config %s: %v", path, err)
	}
	var rc RunConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&rc); err != nil {
		return nil, xval.Configf("parsing run config %s: %v", path, err)
	}
	return &rc, nil
}

// settings is the fully resolved invocation.
type settings struct {
	Epochs      int
	TrainPath   string
	Dataset     string
	Train       bool
	Test        bool
	Folds       int
	Seed        int64
	Shuffle     bool
	SplitPath   string
	BatchSize   int
	Prefetch    int
	LR          float64
	WeightDecay float64
	Log         string
}

// apply copies file values into s for every flag the user did not set.
func (rc *RunConfig) apply(s *settings, changed func(flag string) bool) {
	setIfUnchanged(&s.Dataset, rc.Dataset, changed("dataset"))
	setIfUnchanged(&s.Train, rc.Train, changed("train"))
	setIfUnchanged(&s.Test, rc.Test, changed("test"))
	setIfUnchanged(&s.Folds, rc.Folds, changed("folds"))
	setIfUnchanged(&s.Seed, rc.Seed, changed("seed"))
	setIfUnchanged(&s.Shuffle, rc.Shuffle, changed("shuffle"))
	setIfUnchanged(&s.SplitPath, rc.SplitPath, changed("split-path"))
	setIfUnchanged(&s.BatchSize, rc.BatchSize, changed("batch-size"))
	setIfUnchanged(&s.Prefetch, rc.Prefetch, changed("prefetch"))
	setIfUnchanged(&s.LR, rc.LR, changed("lr"))
	setIfUnchanged(&s.WeightDecay, rc.WeightDecay, changed("weight-decay"))
	setIfUnchanged(&s.Log, rc.Log, changed("log"))
}

// setIfUnchanged stores *v into dst when the file set v and the flag was not
// given explicitly.
func setIfUnchanged[T any](dst *T, v *T, flagChanged bool) {
	if v != nil && !flagChanged {
		*dst = *v
	}
}

// validate checks the fields the orchestrator does not own.
func (s settings) validate() error {
	if s.Dataset == "" {
		return xval.Configf("--dataset is required")
	}
	if s.LR <= 0 {
		return xval.Configf("--lr must be > 0, got %g", s.LR)
	}
	if s.WeightDecay < 0 {
		return xval.Configf("--weight-decay must be >= 0, got %g", s.WeightDecay)
	}
	return nil
}

func (s settings) String() string {
	return fmt.Sprintf("epochs=%d train_path=%s dataset=%s train=%v test=%v folds=%d seed=%d shuffle=%v batch_size=%d lr=%g",
		s.Epochs, s.TrainPath, s.Dataset, s.Train, s.Test, s.Folds, s.Seed, s.Shuffle, s.BatchSize, s.LR)
}
