package controller

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nstogner/contextharness/pkg/domain"
)

// Trace event names.
const (
	EventInit                = "init"
	EventSkillLoaded         = "skill_loaded"
	EventTurnStart           = "turn_start"
	EventCompactionTriggered = "compaction_triggered"
	EventCompacted           = "compacted"
	EventToolCall            = "tool_call"
	EventToolResult          = "tool_result"
	EventComplete            = "complete"
	EventMaxTurns            = "max_turns"
	EventError               = "error"
)

// TraceFile is the default trace location relative to the workspace root.
const TraceFile = "trace.json"

// Trace is the append-only event log of a run. It is written by the loop and
// read by observers; nothing in it feeds back into control decisions.
type Trace struct {
	mu          sync.RWMutex
	events      []domain.TraceEvent
	subscribers []chan domain.TraceEvent
	closed      bool
	now         func() time.Time
}

// NewTrace creates an empty trace.
func NewTrace() *Trace {
	return &Trace{now: time.Now}
}

// Log appends an event and fans it out to subscribers.
func (t *Trace) Log(event string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	e := domain.TraceEvent{Event: event, Time: t.now().UTC(), Data: data}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
	if t.closed {
		return
	}
	for _, ch := range t.subscribers {
		select {
		case ch <- e:
		default:
			// Drop if subscriber is not consuming fast enough.
		}
	}
}

// Events returns a copy of the events logged so far.
func (t *Trace) Events() []domain.TraceEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.TraceEvent(nil), t.events...)
}

// Subscribe returns a channel that receives every event logged after the
// call. Slow subscribers miss events rather than blocking the run. The
// channel is closed by Close.
func (t *Trace) Subscribe() <-chan domain.TraceEvent {
	ch := make(chan domain.TraceEvent, 64)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(ch)
		return ch
	}
	t.subscribers = append(t.subscribers, ch)
	return ch
}

// Close closes all subscriber channels. Events logged afterwards are still
// recorded.
func (t *Trace) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, ch := range t.subscribers {
		close(ch)
	}
	t.subscribers = nil
}

// Save writes the trace to path as an indented JSON array.
func (t *Trace) Save(path string) error {
	events := t.Events()
	if events == nil {
		events = []domain.TraceEvent{}
	}
	b, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("writing trace: %w", err)
	}
	return nil
}
