package recorder

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// LogRecorder writes each record as a structured log line. Mostly useful
// in development and as a default when no durable backend is configured.
type LogRecorder struct{}

func NewLogRecorder() *LogRecorder { return &LogRecorder{} }

func (s *LogRecorder) Name() string { return "log" }

func (s *LogRecorder) Start(ctx context.Context) error { return nil }

func (s *LogRecorder) Append(rec AttemptRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	logrus.WithField("attempt", json.RawMessage(b)).Info("audit record")
	return nil
}

func (s *LogRecorder) Close() error { return nil }
