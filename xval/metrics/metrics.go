// Package metrics provides running-mean accumulators reset at epoch boundaries.
package metrics

import (
	"gonum.org/v1/gonum/floats"

	"github.com/foldrun/foldrun/xval"
)

// Mean is a running weighted mean. The zero value is ready to use.
// Not safe for concurrent use.
type Mean struct {
	sum    float64
	weight float64
	count  int
}

// Update folds one observation with weight 1.
func (m *Mean) Update(v float64) {
	m.UpdateWeighted(v, 1)
}

// UpdateWeighted folds an observation that stands for w samples.
// Non-positive weights are ignored.
func (m *Mean) UpdateWeighted(v, w float64) {
	if w <= 0 {
		return
	}
	m.sum += v * w
	m.weight += w
	m.count++
}

// Compute returns the mean, or xval.ErrNoData when nothing was observed
// since the last Reset.
func (m *Mean) Compute() (float64, error) {
	if m.weight == 0 {
		return 0, xval.ErrNoData
	}
	return m.sum / m.weight, nil
}

// Count returns the number of updates since the last Reset.
func (m *Mean) Count() int { return m.count }

// Reset clears all observations.
func (m *Mean) Reset() {
	*m = Mean{}
}

// PhaseMetrics groups the loss and accuracy accumulators of one fold phase.
type PhaseMetrics struct {
	Loss     Mean
	Accuracy Mean
}

// Observe records one batch: its mean loss and its accuracy, both weighted
// by the batch size so the epoch value is a per-sample mean.
func (p *PhaseMetrics) Observe(loss, accuracy float64, n int) {
	p.Loss.UpdateWeighted(loss, float64(n))
	p.Accuracy.UpdateWeighted(accuracy, float64(n))
}

// Reset clears both accumulators.
func (p *PhaseMetrics) Reset() {
	p.Loss.Reset()
	p.Accuracy.Reset()
}

// Accuracy returns the fraction of rows whose argmax matches the label.
// Returns 0 for an empty batch.
func Accuracy(scores [][]float64, labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	correct := 0
	for i, row := range scores {
		if i < len(labels) && len(row) > 0 && floats.MaxIdx(row) == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}
