package xval

import (
	"fmt"
	"path/filepath"
)

// Per-fold artifact layout under the run root:
//
//	train_{id}/model.pth           checkpoint
//	train_{id}/loss/events.jsonl   scalar stream
//	train_{id}/steps               step counters
//	train_{id}/metrics_{id}        prediction dump
const (
	CheckpointFileName = "model.pth"
	ScalarDirName      = "loss"
	ScalarFileName     = "events.jsonl"
	StepsFileName      = "steps"
	ReportFileName     = "report.yaml"
)

// FoldDir returns the directory that holds every artifact of one fold.
func FoldDir(root string, foldID int) string {
	return filepath.Join(root, fmt.Sprintf("train_%d", foldID))
}

// CheckpointPath returns the checkpoint file of a fold.
func CheckpointPath(root string, foldID int) string {
	return filepath.Join(FoldDir(root, foldID), CheckpointFileName)
}

// ScalarDir returns the scalar stream directory of a fold.
func ScalarDir(root string, foldID int) string {
	return filepath.Join(FoldDir(root, foldID), ScalarDirName)
}

// StepsPath returns the step counter file of a fold.
func StepsPath(root string, foldID int) string {
	return filepath.Join(FoldDir(root, foldID), StepsFileName)
}

// PredictionPath returns the prediction dump of a fold.
func PredictionPath(root string, foldID int) string {
	return filepath.Join(FoldDir(root, foldID), fmt.Sprintf("metrics_%d", foldID))
}
