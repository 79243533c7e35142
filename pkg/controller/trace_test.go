package controller

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/contextharness/pkg/domain"
)

func TestTraceLogAndSave(t *testing.T) {
	tr := NewTrace()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	tr.Log(EventInit, map[string]any{"task": "t"})
	tr.Log(EventComplete, nil)

	events := tr.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventInit, events[0].Event)
	assert.Equal(t, fixed, events[0].Time)
	assert.NotNil(t, events[1].Data)

	path := filepath.Join(t.TempDir(), TraceFile)
	require.NoError(t, tr.Save(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "[\n  {"), "indented JSON array")

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "init", decoded[0]["event"])
	assert.Equal(t, "t", decoded[0]["task"])
	assert.Equal(t, "2026-01-02T03:04:05Z", decoded[0]["time"])
}

func TestTraceSaveEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), TraceFile)
	require.NoError(t, NewTrace().Save(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestTraceSubscribe(t *testing.T) {
	tr := NewTrace()
	tr.Log("before", nil)
	ch := tr.Subscribe()
	tr.Log(EventTurnStart, map[string]any{"turn": 1})

	select {
	case e := <-ch:
		assert.Equal(t, EventTurnStart, e.Event)
		assert.Equal(t, 1, e.Data["turn"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	tr.Close()
	_, ok := <-ch
	assert.False(t, ok, "channel closed")

	// Logging after close still records, and late subscribers get a closed channel.
	tr.Log(EventComplete, nil)
	assert.Len(t, tr.Events(), 3)
	_, ok = <-tr.Subscribe()
	assert.False(t, ok)
}

func TestTraceSlowSubscriberDoesNotBlock(t *testing.T) {
	tr := NewTrace()
	_ = tr.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			tr.Log(EventToolCall, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Log blocked on an unread subscriber")
	}
	assert.Len(t, tr.Events(), 500)
}

func TestSummarize(t *testing.T) {
	events := []domain.TraceEvent{
		{Event: EventSkillLoaded},
		{Event: EventToolCall, Data: map[string]any{"tool": "read_file"}},
		{Event: EventToolResult, Data: map[string]any{"was_offloaded": true}},
		{Event: EventToolCall, Data: map[string]any{"tool": "search_files"}},
		{Event: EventToolResult, Data: map[string]any{"was_offloaded": false}},
		{Event: EventToolCall, Data: map[string]any{"tool": "read_file"}},
		{Event: EventToolResult, Data: map[string]any{}},
		{Event: EventCompactionTriggered},
		// Values that went through JSON decode as float64.
		{Event: EventComplete, Data: map[string]any{"turns": float64(4), "final_budget": float64(1234)}},
	}
	s := Summarize(events)
	assert.Equal(t, 3, s.ToolCalls)
	assert.Equal(t, 1, s.Offloads)
	assert.Equal(t, 1, s.SkillsLoaded)
	assert.Equal(t, 1, s.Compactions)
	assert.Equal(t, 4, s.Turns)
	assert.Equal(t, 1234, s.FinalTokens)
	assert.Equal(t, []ToolCount{{Tool: "read_file", Calls: 2}, {Tool: "search_files", Calls: 1}}, s.Breakdown())
}

func TestIntValue(t *testing.T) {
	assert.Equal(t, 3, IntValue(3))
	assert.Equal(t, 4, IntValue(int64(4)))
	assert.Equal(t, 5, IntValue(float64(5)))
	assert.Equal(t, 0, IntValue("5"))
	assert.Equal(t, 0, IntValue(nil))
}
