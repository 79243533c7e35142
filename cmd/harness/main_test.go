package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/contextharness/pkg/controller"
	"github.com/nstogner/contextharness/pkg/domain"
	"github.com/nstogner/contextharness/pkg/store"
	"github.com/nstogner/contextharness/pkg/store/jsonl"
	"github.com/nstogner/contextharness/pkg/store/sqlite"
)

// fakeAnthropic answers the first request with a write_file call and every
// later one with a final answer.
func fakeAnthropic(t *testing.T) *httptest.Server {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"stop_reason":"tool_use","content":[
				{"type":"text","text":"Writing the plan."},
				{"type":"tool_use","id":"tu_1","name":"write_file","input":{"path":"plans/current.md","content":"1. read\n2. report"}}
			]}`))
			return
		}
		_, _ = w.Write([]byte(`{"stop_reason":"end_turn","content":[{"type":"text","text":"All done."}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunEndToEnd(t *testing.T) {
	srv := fakeAnthropic(t)
	t.Setenv("ANTHROPIC_API_KEY", "secret")
	t.Setenv("ANTHROPIC_BASE_URL", srv.URL)

	dir := t.TempDir()
	cfg, err := parseFlags([]string{
		"--provider", "anthropic",
		"--workspace", filepath.Join(dir, "ws"),
		"--skills", filepath.Join(dir, "skills"),
		"--task", "Write a plan",
		"--log-level", "error",
	})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, &out))

	plan, err := os.ReadFile(filepath.Join(dir, "ws", "plans", "current.md"))
	require.NoError(t, err)
	assert.Equal(t, "1. read\n2. report", string(plan))

	assert.FileExists(t, filepath.Join(dir, "ws", controller.TraceFile))
	assert.Contains(t, out.String(), "write_file: 1")
	assert.Regexp(t, `Tool calls:\s+1`, out.String())

	ledger, err := sqlite.New(filepath.Join(dir, "ws", "memory", store.DefaultFile))
	require.NoError(t, err)
	defer ledger.Close()

	runs, err := ledger.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusComplete, runs[0].Status)
	assert.Equal(t, 2, runs[0].Turns)
	assert.Equal(t, 1, runs[0].ToolCalls)
	assert.Equal(t, "All done.", runs[0].Result)
	assert.False(t, runs[0].FinishedAt.IsZero())

	events, err := ledger.ListEvents(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, controller.EventInit, events[0].Event)
	assert.Equal(t, controller.EventComplete, events[len(events)-1].Event)

	out.Reset()
	cfg.History = true
	require.NoError(t, run(context.Background(), cfg, &out))
	assert.Contains(t, out.String(), runs[0].ID)
}

func TestRunJSONLLedger(t *testing.T) {
	srv := fakeAnthropic(t)
	t.Setenv("ANTHROPIC_API_KEY", "secret")
	t.Setenv("ANTHROPIC_BASE_URL", srv.URL)

	dir := t.TempDir()
	cfg, err := parseFlags([]string{
		"--provider", "anthropic",
		"--workspace", dir,
		"--skills", filepath.Join(dir, "skills"),
		"--ledger", "jsonl",
		"--log-level", "error",
	})
	require.NoError(t, err)
	require.NoError(t, run(context.Background(), cfg, &bytes.Buffer{}))

	ledger, err := jsonl.New(filepath.Join(dir, "memory", jsonlDir))
	require.NoError(t, err)
	runs, err := ledger.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusComplete, runs[0].Status)

	events, err := ledger.ListEvents(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestRunAgentWorkspace(t *testing.T) {
	srv := fakeAnthropic(t)
	t.Setenv("ANTHROPIC_API_KEY", "secret")
	t.Setenv("ANTHROPIC_BASE_URL", srv.URL)

	dir := t.TempDir()
	cfg, err := parseFlags([]string{
		"--provider", "anthropic",
		"--workspace", dir,
		"--skills", filepath.Join(dir, "skills"),
		"--agent", "Researcher",
		"--log-level", "error",
	})
	require.NoError(t, err)

	require.NoError(t, run(context.Background(), cfg, &bytes.Buffer{}))
	assert.FileExists(t, filepath.Join(dir, "agents", "researcher", "plans", "current.md"))
	assert.FileExists(t, filepath.Join(dir, "agents", "researcher", controller.TraceFile))
}
