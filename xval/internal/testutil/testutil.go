// Package testutil provides shared fixtures for the xval test packages:
// grouped synthetic datasets, a deterministic fake Learner and file helpers.
package testutil

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"testing"

	"github.com/foldrun/foldrun/xval/dataset"
	"github.com/foldrun/foldrun/xval/trainer"
)

// GroupedDataset returns groups*perGroup records. Group g is named
// "trial_gg", has label g%classes and single-feature values equal to its label.
func GroupedDataset(groups, perGroup, classes int) *dataset.InMemory {
	records := make([]dataset.Record, 0, groups*perGroup)
	for g := 0; g < groups; g++ {
		for i := 0; i < perGroup; i++ {
			records = append(records, dataset.Record{
				Features: []float64{float64(g % classes)},
				Label:    g % classes,
				Group:    fmt.Sprintf("trial_%02d", g),
			})
		}
	}
	return dataset.NewInMemory(records)
}

// FakeLearner is a deterministic Learner. Its "parameters" are the number of
// updates applied; its scores favour the class nearest to feature 0.
type FakeLearner struct {
	Classes  int
	Updates  int
	Predicts int
	Loaded   bool

	// FailTrainAt makes the n-th TrainStep call (1-based) fail. 0 disables.
	FailTrainAt int
	trainCalls  int
}

var _ trainer.Learner = (*FakeLearner)(nil)

func (f *FakeLearner) TrainStep(ctx context.Context, b dataset.Batch) (trainer.Output, error) {
	f.trainCalls++
	if f.FailTrainAt > 0 && f.trainCalls == f.FailTrainAt {
		return trainer.Output{}, fmt.Errorf("fake learner: injected failure at call %d", f.trainCalls)
	}
	f.Updates++
	return f.output(b), nil
}

func (f *FakeLearner) Predict(ctx context.Context, b dataset.Batch) (trainer.Output, error) {
	f.Predicts++
	return f.output(b), nil
}

func (f *FakeLearner) State() ([]byte, error) {
	return []byte(strconv.Itoa(f.Updates)), nil
}

func (f *FakeLearner) LoadState(state []byte) error {
	n, err := strconv.Atoi(string(state))
	if err != nil {
		return fmt.Errorf("fake learner state %q: %w", state, err)
	}
	f.Updates = n
	f.Loaded = true
	return nil
}

func (f *FakeLearner) output(b dataset.Batch) trainer.Output {
	out := trainer.Output{Scores: make([][]float64, b.Len()), Loss: 1 / float64(1+f.Updates)}
	for i, x := range b.Features {
		row := make([]float64, f.Classes)
		for c := range row {
			row[c] = -math.Abs(x[0] - float64(c))
		}
		out.Scores[i] = row
	}
	return out
}

// ReadLines returns the lines of path, or nil when it does not exist.
func ReadLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return lines
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
