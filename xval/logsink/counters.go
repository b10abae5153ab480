package logsink

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/foldrun/foldrun/xval"
	"github.com/foldrun/foldrun/xval/internal/fsutil"
)

// StepCounters are the x-axis positions of the next scalar records.
// Persisting them lets a resumed fold continue its series instead of
// rewriting steps that already exist in the stream.
type StepCounters struct {
	TrainStep int `yaml:"train_step"`
	TestStep  int `yaml:"test_step"`
}

// LoadCounters reads counters from path. A missing file yields zero counters.
func LoadCounters(path string) (StepCounters, error) {
	var c StepCounters
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("reading step counters %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return c, nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&c); err != nil {
		return StepCounters{}, fmt.Errorf("parsing step counters %s: %w", path, err)
	}
	if c.TrainStep < 0 || c.TestStep < 0 {
		return StepCounters{}, fmt.Errorf("step counters %s: negative value", path)
	}
	return c, nil
}

// SaveCounters atomically replaces the counter file.
func SaveCounters(path string, c StepCounters) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding step counters: %w: %w", xval.ErrLogWrite, err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing step counters %s: %w: %w", path, xval.ErrLogWrite, err)
	}
	return nil
}
