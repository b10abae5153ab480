// Package xval provides the core of foldrun: a k-fold cross-validation
// experiment runner with per-fold checkpoints, running metrics and
// structured metric logs.
//
// # Reading Guide
//
// Start with these files to understand the run lifecycle:
//   - split/split.go: group-aware fold assignment and the split manifest
//   - trainer/trainer.go: the per-fold state machine (train, validate, test)
//   - orchestrator/orchestrator.go: the fold loop and the run report
//
// # Architecture
//
// The xval package holds the shared error kinds and the partitioned RNG;
// components live in sub-packages:
//   - xval/dataset/: Dataset interface, subsets, CSV provider, batch loader
//   - xval/checkpoint/: atomic per-fold checkpoint persistence
//   - xval/metrics/: running-mean accumulators
//   - xval/logsink/: scalar event stream, prediction dump, step counters
//   - xval/learner/: reference Learner (softmax regression with Adam)
//
// # Key Interfaces
//
// The model is opaque to the core and reached through trainer.Learner.
// Lifecycle callbacks are delivered through trainer.Observer, supplied by
// composition.
package xval
