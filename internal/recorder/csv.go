package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// csvHeader is the audit-file column contract. Consumers parse by
// position; the order must never change.
var csvHeader = []string{
	"timestamp", "clientId", "inputKind", "status", "reason", "behaviorType",
	"verticalScore", "verticalCount", "totalVerticalMovement",
	"avgSpeed", "stdSpeed", "accelerationChanges",
	"maxSpeed", "lastSpeed", "speedStability", "movementTime",
	"speedSeries", "decelerationRate", "speedVariance", "mlScore",
	"pageUrl", "userAgent", "boxIndexes", "attemptId",
}

// CSVRecorder appends one line per attempt to a local file. Text fields
// are quoted with doubled internal quotes; numeric fields use a fixed
// two-decimal, dot-decimal format; absent optionals serialize as empty
// fields. encoding/csv is deliberately not used: it applies its own
// quoting rules and the line format here is a byte-level contract with
// existing consumers of the file.
type CSVRecorder struct {
	path string
	mu   sync.Mutex
}

// NewCSVRecorder creates a recorder writing to path.
func NewCSVRecorder(path string) *CSVRecorder {
	return &CSVRecorder{path: path}
}

func (c *CSVRecorder) Name() string { return "csv" }

// Start creates the containing directory and the header line if the file
// does not exist yet.
func (c *CSVRecorder) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("csv: create log directory: %w", err)
		}
	}
	if _, err := os.Stat(c.path); err == nil {
		return nil
	}
	return c.appendLine(strings.Join(csvHeader, ","))
}

func (c *CSVRecorder) Append(rec AttemptRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLine(formatLine(rec))
}

func (c *CSVRecorder) Close() error { return nil }

func (c *CSVRecorder) appendLine(line string) error {
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("csv: open %s: %w", c.path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("csv: write: %w", err)
	}
	return nil
}

// List returns every line of the audit file, header included.
func (c *CSVRecorder) List() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	return lines, nil
}

// DeleteLine removes the line at the given zero-based position and
// rewrites the file. This is an administrative operation, not part of the
// append-only audit path.
func (c *CSVRecorder) DeleteLine(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if index < 0 || index >= len(lines) {
		return fmt.Errorf("csv: line index %d out of range", index)
	}
	lines = append(lines[:index], lines[index+1:]...)

	out := strings.Join(lines, "\n")
	if out != "" {
		out += "\n"
	}
	return os.WriteFile(c.path, []byte(out), 0o644)
}

// formatLine renders one record in column order.
func formatLine(rec AttemptRecord) string {
	fields := []string{
		quote(rec.Timestamp.Format("2006-01-02T15:04:05")),
		quote(rec.ClientID),
		quote(rec.InputKind),
		quote(rec.Status),
		quote(rec.Reason),
		quote(rec.Behavior),

		f2(rec.VerticalScore),
		i0(rec.VerticalCount),
		f2(rec.TotalVerticalMovement),

		f2(rec.AvgSpeed),
		f2(rec.StdSpeed),
		i0(rec.AccelerationChanges),

		f2(rec.MaxSpeed),
		f2(rec.LastSpeed),
		f2(rec.SpeedStability),
		i0(rec.MovementTime),

		series(rec.SpeedSeries),
		f2(rec.DecelerationRate),
		f2(rec.SpeedVariance),
		f2(rec.MLScore),

		quote(rec.PageURL),
		quote(rec.UserAgent),
		boxes(rec.BoxIndexes),
		quote(rec.AttemptID),
	}
	return strings.Join(fields, ",")
}

// quote wraps a text field in double quotes, doubling internal quotes.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// f2 formats an optional float with two decimals and a dot decimal point,
// or an empty field when absent. Never the literal "null".
func f2(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func i0(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func series(samples []float64) string {
	if len(samples) == 0 {
		return ""
	}
	parts := make([]string, len(samples))
	for i, s := range samples {
		parts[i] = strconv.FormatFloat(s, 'f', 2, 64)
	}
	return quote(strings.Join(parts, ";"))
}

func boxes(idx []int) string {
	if len(idx) == 0 {
		return ""
	}
	parts := make([]string, len(idx))
	for i, b := range idx {
		parts[i] = strconv.Itoa(b)
	}
	return quote(strings.Join(parts, ";"))
}
