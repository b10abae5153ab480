package trainer

import (
	"github.com/sirupsen/logrus"
)

// StepEvent describes one completed training batch.
type StepEvent struct {
	FoldID     int
	Epoch      int
	Batch      int
	NumBatches int
	GlobalStep int
	Loss       float64
	Accuracy   float64
}

// EpochSummary describes one completed validation epoch. A series with no
// observations is absent from its map. Accuracy is in percent.
type EpochSummary struct {
	FoldID   int
	Epoch    int
	Step     int
	Loss     map[string]float64
	Accuracy map[string]float64
}

// TestSummary describes one completed test epoch. Accuracy is in percent.
// Loss and Accuracy are meaningful only when Samples > 0.
type TestSummary struct {
	FoldID   int
	Step     int
	Samples  int
	Loss     float64
	Accuracy float64
}

// Observer receives lifecycle callbacks from a FoldTrainer.
type Observer interface {
	OnStep(StepEvent)
	OnValidationEpochEnd(EpochSummary)
	OnTestEpochEnd(TestSummary)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) OnStep(StepEvent)                  {}
func (NopObserver) OnValidationEpochEnd(EpochSummary) {}
func (NopObserver) OnTestEpochEnd(TestSummary)        {}

// LogObserver reports progress through logrus: batches at debug level,
// epoch results at info level.
type LogObserver struct {
	Log *logrus.Entry
}

func (o LogObserver) OnStep(e StepEvent) {
	o.Log.Debugf("fold %d epoch %d batch %d/%d: loss=%.4f acc=%.2f%%",
		e.FoldID, e.Epoch, e.Batch+1, e.NumBatches, e.Loss, e.Accuracy*100)
}

func (o LogObserver) OnValidationEpochEnd(s EpochSummary) {
	o.Log.WithFields(logrus.Fields{
		"epoch": s.Epoch,
		"step":  s.Step,
	}).Infof("fold %d validation: loss=%v accuracy=%v", s.FoldID, s.Loss, s.Accuracy)
}

func (o LogObserver) OnTestEpochEnd(s TestSummary) {
	if s.Samples == 0 {
		o.Log.Warnf("fold %d test: no samples", s.FoldID)
		return
	}
	o.Log.WithField("step", s.Step).Infof("fold %d test: loss=%.4f accuracy=%.2f%% (%d samples)",
		s.FoldID, s.Loss, s.Accuracy, s.Samples)
}
