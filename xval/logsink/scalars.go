package logsink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/foldrun/foldrun/xval"
)

// Entry is one record of the scalar stream. Value is set by AddScalar,
// Values by AddScalars. Its JSON form is entryJSON.
type Entry struct {
	Tag      string
	Step     int
	Value    *float64
	Values   map[string]float64
	WallTime float64
}

// scalar is a float64 whose JSON form spells non-finite values as the
// strings "NaN", "Inf" and "-Inf", so a diverging run still logs.
type scalar float64

func (v scalar) MarshalJSON() ([]byte, error) {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(f)
}

func (v *scalar) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch s {
		case "NaN":
			*v = scalar(math.NaN())
		case "Inf":
			*v = scalar(math.Inf(1))
		case "-Inf":
			*v = scalar(math.Inf(-1))
		default:
			return fmt.Errorf("invalid scalar %q", s)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = scalar(f)
	return nil
}

// entryJSON is the on-disk form of Entry.
type entryJSON struct {
	Tag      string            `json:"tag"`
	Step     int               `json:"step"`
	Value    *scalar           `json:"value,omitempty"`
	Values   map[string]scalar `json:"values,omitempty"`
	WallTime float64           `json:"wall_time"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{Tag: e.Tag, Step: e.Step, WallTime: e.WallTime}
	if e.Value != nil {
		v := scalar(*e.Value)
		out.Value = &v
	}
	if e.Values != nil {
		out.Values = make(map[string]scalar, len(e.Values))
		for k, v := range e.Values {
			out.Values[k] = scalar(v)
		}
	}
	return json.Marshal(out)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var in entryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Entry{Tag: in.Tag, Step: in.Step, WallTime: in.WallTime}
	if in.Value != nil {
		v := float64(*in.Value)
		e.Value = &v
	}
	if in.Values != nil {
		e.Values = make(map[string]float64, len(in.Values))
		for k, v := range in.Values {
			e.Values[k] = float64(v)
		}
	}
	return nil
}

// ScalarWriter appends JSON lines to <dir>/events.jsonl.
type ScalarWriter struct {
	path string
	file *os.File
	now  func() time.Time
}

// OpenScalarWriter creates dir if needed and opens the stream for appending.
func OpenScalarWriter(dir string) (*ScalarWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scalar dir %s: %w: %w", dir, xval.ErrLogWrite, err)
	}
	path := filepath.Join(dir, xval.ScalarFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w: %w", path, xval.ErrLogWrite, err)
	}
	return &ScalarWriter{path: path, file: f, now: time.Now}, nil
}

// AddScalars records several named series under one tag at step,
// e.g. tag "loss" with {"train": .., "validation": ..}.
func (w *ScalarWriter) AddScalars(tag string, values map[string]float64, step int) error {
	return w.write(Entry{Tag: tag, Step: step, Values: values})
}

// AddScalar records a single value under tag at step.
func (w *ScalarWriter) AddScalar(tag string, value float64, step int) error {
	return w.write(Entry{Tag: tag, Step: step, Value: &value})
}

func (w *ScalarWriter) write(e Entry) error {
	e.WallTime = float64(w.now().UnixNano()) / 1e9
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s entry: %w: %w", e.Tag, xval.ErrLogWrite, err)
	}
	line = append(line, '\n')
	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("writing %s: %w: %w", w.path, xval.ErrLogWrite, err)
	}
	return nil
}

// Close releases the file handle.
func (w *ScalarWriter) Close() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w: %w", w.path, xval.ErrLogWrite, err)
	}
	return nil
}

// ReadScalars parses every entry of the stream in dir. A missing stream
// yields no entries.
func ReadScalars(dir string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(dir, xval.ScalarFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only file

	var entries []Entry
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var e Entry
		if err := dec.Decode(&e); err == io.EOF {
			break
		} else if err != nil {
			return entries, fmt.Errorf("parsing scalar entry %d: %w", len(entries), err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// FilterTag returns the entries whose tag equals tag, in stream order.
func FilterTag(entries []Entry, tag string) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Tag == tag {
			out = append(out, e)
		}
	}
	return out
}
