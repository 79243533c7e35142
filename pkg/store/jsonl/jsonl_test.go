package jsonl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/contextharness/pkg/domain"
	"github.com/nstogner/contextharness/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &domain.RunRecord{ID: "r1", Task: "Analyze", Model: "m", Capacity: 25000}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.False(t, run.StartedAt.IsZero())
	assert.Equal(t, domain.RunStatusRunning, run.Status)

	assert.Error(t, s.CreateRun(ctx, &domain.RunRecord{ID: "r1"}), "duplicate id")

	run.Status = domain.RunStatusMaxTurns
	run.Turns = 15
	run.ToolCalls = 30
	run.Result = "[Max turns reached]"
	require.NoError(t, s.FinishRun(ctx, run))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusMaxTurns, got.Status)
	assert.Equal(t, 15, got.Turns)
	assert.Equal(t, 30, got.ToolCalls)
	assert.Equal(t, "Analyze", got.Task)
	assert.Equal(t, 25000, got.Capacity)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.FinishRun(ctx, &domain.RunRecord{ID: "nope"}), store.ErrNotFound)
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 4 {
		require.NoError(t, s.CreateRun(ctx, &domain.RunRecord{
			ID:        fmt.Sprintf("run-%d", i),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	// Same start time as run-3; created later so listed first.
	require.NoError(t, s.CreateRun(ctx, &domain.RunRecord{ID: "run-tie", StartedAt: base.Add(3 * time.Minute)}))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"run-tie", "run-3", "run-2", "run-1", "run-0"}, ids)

	runs, err = s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events, err := s.ListEvents(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, events)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendEvent(ctx, "r1", domain.TraceEvent{Event: "init", Time: now, Data: map[string]any{"task": "t"}}))
	require.NoError(t, s.AppendEvent(ctx, "r1", domain.TraceEvent{Event: "tool_result", Time: now, Data: map[string]any{"raw_len": 2500, "was_offloaded": true}}))
	require.NoError(t, s.AppendEvent(ctx, "r1", domain.TraceEvent{Event: "complete"}))

	events, err = s.ListEvents(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "init", events[0].Event)
	assert.True(t, events[0].Time.Equal(now))
	assert.Equal(t, float64(2500), events[1].Data["raw_len"])
	assert.Equal(t, true, events[1].Data["was_offloaded"])
	assert.False(t, events[2].Time.IsZero())
}

func TestRejectsUnsafeRunID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"", "..", "../escape", "a/b"} {
		assert.Error(t, s.AppendEvent(ctx, id, domain.TraceEvent{Event: "init"}), id)
		assert.Error(t, s.CreateRun(ctx, &domain.RunRecord{ID: id}), id)
	}
}

func TestCorruptEventLog(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "bad.jsonl"), []byte("{\"event\":\"init\"}\nnot json\n"), 0o644))

	_, err := s.ListEvents(context.Background(), "bad")
	assert.ErrorContains(t, err, "decoding event 2")
}
