package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nstogner/contextharness/pkg/domain"
	"github.com/nstogner/contextharness/pkg/store"
	"github.com/nstogner/contextharness/pkg/store/sqlite"
)

func TestRecord(t *testing.T) {
	s, err := sqlite.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	if err := s.CreateRun(ctx, &domain.RunRecord{ID: "r"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	ch := make(chan domain.TraceEvent, 3)
	ch <- domain.TraceEvent{Event: "init", Time: time.Now()}
	ch <- domain.TraceEvent{Event: "turn_start", Time: time.Now()}
	ch <- domain.TraceEvent{Event: "complete", Time: time.Now()}
	close(ch)

	if err := store.Record(ctx, s, "r", ch); err != nil {
		t.Fatalf("Record: %v", err)
	}
	events, err := s.ListEvents(ctx, "r")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 3 || events[2].Event != "complete" {
		t.Errorf("events = %+v", events)
	}
}

type failingStore struct {
	store.RunStore
	mu    sync.Mutex
	calls int
}

func (f *failingStore) AppendEvent(context.Context, string, domain.TraceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("disk full")
}

func TestRecordStopsOnError(t *testing.T) {
	f := &failingStore{}
	ch := make(chan domain.TraceEvent, 2)
	ch <- domain.TraceEvent{Event: "init"}
	ch <- domain.TraceEvent{Event: "complete"}

	err := store.Record(context.Background(), f, "r", ch)
	if err == nil {
		t.Fatal("expected error")
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1", f.calls)
	}
}

func TestRecordStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.Record(ctx, &failingStore{}, "r", make(chan domain.TraceEvent))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
