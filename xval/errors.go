package xval

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	// ErrConfig marks invalid run configuration. Raised before any fold runs.
	ErrConfig = errors.New("invalid configuration")

	// ErrCheckpointCorrupt marks a checkpoint file that exists but cannot be decoded.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	// ErrCheckpointIO marks a checkpoint read or write failure other than absence.
	ErrCheckpointIO = errors.New("checkpoint I/O failure")

	// ErrLogWrite marks a failed write to a metric stream, prediction dump or counter file.
	ErrLogWrite = errors.New("log write failure")

	// ErrNoData is returned when a mean is requested over zero observations.
	ErrNoData = errors.New("no data")
)

// Phase names the stage of a fold in which a failure occurred.
type Phase string

const (
	PhaseInit  Phase = "init"
	PhaseTrain Phase = "train"
	PhaseTest  Phase = "test"
)

// FoldError labels a fatal error with the fold and phase it belongs to.
type FoldError struct {
	FoldID int
	Phase  Phase
	Err    error
}

// NewFoldError wraps err for the given fold and phase.
func NewFoldError(foldID int, phase Phase, err error) *FoldError {
	return &FoldError{FoldID: foldID, Phase: phase, Err: err}
}

func (e *FoldError) Error() string {
	return fmt.Sprintf("fold %d (%s): %v", e.FoldID, e.Phase, e.Err)
}

func (e *FoldError) Unwrap() error {
	return e.Err
}

// Configf returns an ErrConfig-wrapped error with a formatted message.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
