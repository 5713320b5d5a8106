// Package recorder appends immutable audit records of classified attempts.
// Recorders are fan-out targets behind a single ordered writer, so append
// order matches decision order regardless of how many backends are enabled.
package recorder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// AttemptRecord is the union of raw telemetry, derived features and the
// final classification for one attempt. Records are append-only; nothing
// in this package mutates or deletes them (the administrative delete on the
// CSV store is a separate, explicit operation).
type AttemptRecord struct {
	Timestamp time.Time `json:"timestamp"`
	ClientID  string    `json:"clientId"`
	InputKind string    `json:"inputKind"`
	Status    string    `json:"status"` // "accepted" or "banned"
	Reason    string    `json:"reason,omitempty"`
	Behavior  string    `json:"behaviorType"`

	// Touch metrics.
	VerticalScore         *float64 `json:"verticalScore,omitempty"`
	VerticalCount         *int     `json:"verticalCount,omitempty"`
	TotalVerticalMovement *float64 `json:"totalVerticalMovement,omitempty"`

	// Derived kinematics.
	AvgSpeed            *float64 `json:"avgSpeed,omitempty"`
	StdSpeed            *float64 `json:"stdSpeed,omitempty"`
	AccelerationChanges *int     `json:"accelerationChanges,omitempty"`

	// Mouse metrics.
	MaxSpeed       *float64 `json:"maxSpeed,omitempty"`
	LastSpeed      *float64 `json:"lastSpeed,omitempty"`
	SpeedStability *float64 `json:"speedStability,omitempty"`

	MovementTime     *int      `json:"movementTime,omitempty"`
	SpeedSeries      []float64 `json:"speedSeries,omitempty"`
	DecelerationRate *float64  `json:"decelerationRate,omitempty"`
	SpeedVariance    *float64  `json:"speedVariance,omitempty"`
	MLScore          *float64  `json:"mlScore,omitempty"`

	PageURL    string `json:"pageUrl,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
	BoxIndexes []int  `json:"boxIndexes,omitempty"`
	AttemptID  string `json:"attemptId"`

	// Seq is a process-monotonic sequence number assigned by the fan-out
	// writer; it preserves decision order for consumers of the non-CSV
	// backends. Not part of the CSV column contract.
	Seq uint64 `json:"seq,omitempty"`
}

// Recorder is one audit backend.
type Recorder interface {
	Start(ctx context.Context) error
	Append(rec AttemptRecord) error
	Close() error
	Name() string // for metrics and logging
}

// errorCounter lets the fan-out report append failures without importing
// the metrics package.
type errorCounter interface {
	IncrementRecorderErrors(recorder string)
}

// Fanout buffers records through a single goroutine and appends them to
// every enabled recorder in decision order. A full buffer or a failing
// backend never fails the classification path.
type Fanout struct {
	recorders []Recorder
	ch        chan AttemptRecord
	wg        sync.WaitGroup
	seq       atomic.Uint64
	metrics   errorCounter
	closeOnce sync.Once
}

const defaultBuffer = 1024

// NewFanout creates a fan-out over the given recorders. metrics may be nil.
func NewFanout(metrics errorCounter, recorders ...Recorder) *Fanout {
	return &Fanout{
		recorders: recorders,
		ch:        make(chan AttemptRecord, defaultBuffer),
		metrics:   metrics,
	}
}

// Start starts every recorder, then the writer goroutine. A recorder that
// fails to start is skipped with a warning rather than aborting the rest.
func (f *Fanout) Start(ctx context.Context) error {
	started := f.recorders[:0]
	for _, r := range f.recorders {
		if err := r.Start(ctx); err != nil {
			logrus.WithError(err).Warnf("recorder %s failed to start, disabled", r.Name())
			if f.metrics != nil {
				f.metrics.IncrementRecorderErrors(r.Name())
			}
			continue
		}
		started = append(started, r)
	}
	f.recorders = started

	f.wg.Add(1)
	go f.run()
	return nil
}

func (f *Fanout) run() {
	defer f.wg.Done()
	for rec := range f.ch {
		for _, r := range f.recorders {
			if err := r.Append(rec); err != nil {
				logrus.WithError(err).Warnf("recorder %s append failed", r.Name())
				if f.metrics != nil {
					f.metrics.IncrementRecorderErrors(r.Name())
				}
			}
		}
	}
}

// Append stamps the record with the next sequence number and enqueues it.
// If the buffer is full the record is dropped and counted; the caller's
// request must never block on audit persistence.
func (f *Fanout) Append(rec AttemptRecord) {
	rec.Seq = f.seq.Add(1)
	select {
	case f.ch <- rec:
	default:
		logrus.Warn("audit buffer full, dropping record")
		if f.metrics != nil {
			f.metrics.IncrementRecorderErrors("fanout")
		}
	}
}

// Close drains the buffer, then closes every recorder. Repeated calls
// are no-ops; the backends see exactly one Close.
func (f *Fanout) Close() error {
	f.closeOnce.Do(func() {
		close(f.ch)
		f.wg.Wait()
		for _, r := range f.recorders {
			if err := r.Close(); err != nil {
				logrus.WithError(err).Warnf("recorder %s close failed", r.Name())
			}
		}
	})
	return nil
}
