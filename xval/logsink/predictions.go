package logsink

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/foldrun/foldrun/xval"
)

// PredictionDump appends one line per test sample:
// the comma-separated score vector followed by the true label.
type PredictionDump struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	lines  int
}

// OpenPredictionDump opens path for appending, creating it if needed.
func OpenPredictionDump(path string) (*PredictionDump, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w: %w", path, xval.ErrLogWrite, err)
	}
	return &PredictionDump{path: path, file: f, writer: bufio.NewWriter(f)}, nil
}

// Append writes one prediction record.
func (d *PredictionDump) Append(scores []float64, label int) error {
	var sb strings.Builder
	for _, s := range scores {
		sb.WriteString(strconv.FormatFloat(s, 'g', -1, 64))
		sb.WriteString(", ")
	}
	sb.WriteString(strconv.Itoa(label))
	sb.WriteByte('\n')
	if _, err := d.writer.WriteString(sb.String()); err != nil {
		return fmt.Errorf("writing %s: %w: %w", d.path, xval.ErrLogWrite, err)
	}
	d.lines++
	return nil
}

// Lines returns the number of records appended through this handle.
func (d *PredictionDump) Lines() int { return d.lines }

// Close flushes buffered records and releases the file. The file is closed
// even when the flush fails.
func (d *PredictionDump) Close() error {
	flushErr := d.writer.Flush()
	closeErr := d.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flushing %s: %w: %w", d.path, xval.ErrLogWrite, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w: %w", d.path, xval.ErrLogWrite, closeErr)
	}
	return nil
}

// ParsePredictionLine splits a dump line back into scores and label.
func ParsePredictionLine(line string) ([]float64, int, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < 2 {
		return nil, 0, fmt.Errorf("prediction line needs at least one score and a label: %q", line)
	}
	scores := make([]float64, len(fields)-1)
	for i, f := range fields[:len(fields)-1] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, 0, fmt.Errorf("score %d: %w", i, err)
		}
		scores[i] = v
	}
	label, err := strconv.Atoi(strings.TrimSpace(fields[len(fields)-1]))
	if err != nil {
		return nil, 0, fmt.Errorf("label: %w", err)
	}
	return scores, label, nil
}
