package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memRecorder captures appends for assertions.
type memRecorder struct {
	mu      sync.Mutex
	name    string
	records []AttemptRecord
	failOn  string // attempt id that should fail
	started bool
	closes  int
}

func (m *memRecorder) Name() string { return m.name }

func (m *memRecorder) Start(ctx context.Context) error {
	m.started = true
	return nil
}

func (m *memRecorder) Append(rec AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && rec.AttemptID == m.failOn {
		return errors.New("append failed")
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memRecorder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *memRecorder) snapshot() []AttemptRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AttemptRecord, len(m.records))
	copy(out, m.records)
	return out
}

type failingStarter struct{ memRecorder }

func (f *failingStarter) Start(ctx context.Context) error {
	return errors.New("backend down")
}

func TestFanout(t *testing.T) {
	t.Run("preserves decision order and stamps sequence", func(t *testing.T) {
		mem := &memRecorder{name: "mem"}
		f := NewFanout(nil, mem)
		if err := f.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}

		for _, id := range []string{"a", "b", "c"} {
			f.Append(AttemptRecord{AttemptID: id, Timestamp: time.Now()})
		}
		_ = f.Close()

		got := mem.snapshot()
		if len(got) != 3 {
			t.Fatalf("expected 3 records, got %d", len(got))
		}
		for i, id := range []string{"a", "b", "c"} {
			if got[i].AttemptID != id {
				t.Errorf("record %d: expected %s, got %s", i, id, got[i].AttemptID)
			}
			if got[i].Seq != uint64(i+1) {
				t.Errorf("record %d: expected seq %d, got %d", i, i+1, got[i].Seq)
			}
		}
	})

	t.Run("one failing backend does not stop the others", func(t *testing.T) {
		bad := &memRecorder{name: "bad", failOn: "b"}
		good := &memRecorder{name: "good"}
		f := NewFanout(nil, bad, good)
		_ = f.Start(context.Background())

		for _, id := range []string{"a", "b", "c"} {
			f.Append(AttemptRecord{AttemptID: id})
		}
		_ = f.Close()

		if len(good.snapshot()) != 3 {
			t.Errorf("healthy backend expected 3 records, got %d", len(good.snapshot()))
		}
		if len(bad.snapshot()) != 2 {
			t.Errorf("failing backend expected 2 records, got %d", len(bad.snapshot()))
		}
	})

	t.Run("recorder that fails to start is disabled", func(t *testing.T) {
		broken := &failingStarter{memRecorder{name: "broken"}}
		ok := &memRecorder{name: "ok"}
		f := NewFanout(nil, broken, ok)
		if err := f.Start(context.Background()); err != nil {
			t.Fatalf("start should not fail: %v", err)
		}

		f.Append(AttemptRecord{AttemptID: "a"})
		_ = f.Close()

		if len(broken.snapshot()) != 0 {
			t.Error("disabled recorder should receive nothing")
		}
		if len(ok.snapshot()) != 1 {
			t.Errorf("healthy recorder expected 1 record, got %d", len(ok.snapshot()))
		}
	})

	t.Run("close is idempotent and backends close once", func(t *testing.T) {
		mem := &memRecorder{name: "mem"}
		f := NewFanout(nil, mem)
		_ = f.Start(context.Background())
		_ = f.Close()
		_ = f.Close()

		mem.mu.Lock()
		defer mem.mu.Unlock()
		if mem.closes != 1 {
			t.Errorf("backend expected exactly 1 close, got %d", mem.closes)
		}
	})
}
