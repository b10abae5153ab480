// Package logsink writes the per-fold artifacts that outlive a run: the
// scalar metric stream, the raw prediction dump and the step counters.
//
// All writers are append-only. Each is opened for one fold phase and must be
// closed when the phase ends, on success or failure.
package logsink
