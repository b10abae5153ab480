package logsink

import "time"

// SetClock replaces the wall clock stamped on entries written by w.
func SetClock(w *ScalarWriter, now func() time.Time) { w.now = now }
