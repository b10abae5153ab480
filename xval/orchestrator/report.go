package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foldrun/foldrun/xval"
	"github.com/foldrun/foldrun/xval/internal/fsutil"
)

// FoldFailure records why one fold did not complete.
type FoldFailure struct {
	FoldID int        `yaml:"fold_id"`
	Phase  xval.Phase `yaml:"phase"`
	Error  string     `yaml:"error"`
}

// Report summarizes one run. Succeeded and Failed together list every fold.
type Report struct {
	RunID     string        `yaml:"run_id"`
	TrainPath string        `yaml:"train_path"`
	Folds     int           `yaml:"folds"`
	Epochs    int           `yaml:"epochs"`
	Train     bool          `yaml:"train"`
	Test      bool          `yaml:"test"`
	Succeeded []int         `yaml:"succeeded"`
	Failed    []FoldFailure `yaml:"failed"`
	WallTime  time.Duration `yaml:"wall_time"`

	errs []error
}

// NewReport returns an empty report for cfg.
func NewReport(runID string, cfg Config) *Report {
	return &Report{
		RunID:     runID,
		TrainPath: cfg.TrainPath,
		Folds:     cfg.Folds,
		Epochs:    cfg.Epochs,
		Train:     cfg.Train,
		Test:      cfg.RunsTest(),
		Succeeded: []int{},
		Failed:    []FoldFailure{},
	}
}

func (r *Report) recordSuccess(foldID int) {
	r.Succeeded = append(r.Succeeded, foldID)
}

func (r *Report) recordFailure(ferr *xval.FoldError) {
	r.Failed = append(r.Failed, FoldFailure{FoldID: ferr.FoldID, Phase: ferr.Phase, Error: ferr.Err.Error()})
	r.errs = append(r.errs, ferr)
}

// FailedIDs returns the ids of failed folds in run order.
func (r *Report) FailedIDs() []int {
	ids := make([]int, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.FoldID
	}
	return ids
}

// OK reports whether every fold succeeded.
func (r *Report) OK() bool { return len(r.Failed) == 0 }

// Err joins the fold errors recorded during Run. It is nil when every fold
// succeeded and supports errors.Is against the xval sentinels.
func (r *Report) Err() error {
	return errors.Join(r.errs...)
}

// Print writes a human-readable summary to w.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Cross-Validation Report ===")
	fmt.Fprintf(w, "Run ID          : %s\n", r.RunID)
	fmt.Fprintf(w, "Artifacts       : %s\n", r.TrainPath)
	fmt.Fprintf(w, "Folds           : %d (train=%v, test=%v, epochs=%d)\n", r.Folds, r.Train, r.Test, r.Epochs)
	fmt.Fprintf(w, "Succeeded       : %d %v\n", len(r.Succeeded), r.Succeeded)
	fmt.Fprintf(w, "Failed          : %d\n", len(r.Failed))
	for _, f := range r.Failed {
		fmt.Fprintf(w, "  fold %d [%s]: %s\n", f.FoldID, f.Phase, f.Error)
	}
	fmt.Fprintf(w, "Wall time       : %s\n", r.WallTime.Round(time.Millisecond))
}

// Save writes the report as YAML to path atomically.
func (r *Report) Save(path string) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}

// LoadReport reads a report written by Save.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report %s: %w", path, err)
	}
	var r Report
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&r); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	return &r, nil
}
