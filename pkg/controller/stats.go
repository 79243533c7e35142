package controller

import (
	"sort"

	"github.com/nstogner/contextharness/pkg/domain"
)

// Stats summarizes a trace for reporting.
type Stats struct {
	ToolCalls    int
	Offloads     int
	SkillsLoaded int
	Compactions  int
	Errors       int
	PerTool      map[string]int
	FinalTokens  int
	Turns        int
}

// ToolCount is one row of the per-tool breakdown.
type ToolCount struct {
	Tool  string
	Calls int
}

// Summarize counts the events of a trace.
func Summarize(events []domain.TraceEvent) Stats {
	s := Stats{PerTool: map[string]int{}}
	for _, e := range events {
		switch e.Event {
		case EventToolCall:
			s.ToolCalls++
			if name, ok := e.Data["tool"].(string); ok {
				s.PerTool[name]++
			}
		case EventToolResult:
			if off, _ := e.Data["was_offloaded"].(bool); off {
				s.Offloads++
			}
		case EventSkillLoaded:
			s.SkillsLoaded++
		case EventCompactionTriggered:
			s.Compactions++
		case EventError:
			s.Errors++
		case EventComplete:
			s.FinalTokens = IntValue(e.Data["final_budget"])
			s.Turns = IntValue(e.Data["turns"])
		case EventMaxTurns:
			s.Turns = IntValue(e.Data["turns"])
		}
	}
	return s
}

// Breakdown returns per-tool call counts, most used first, ties by name.
func (s Stats) Breakdown() []ToolCount {
	out := make([]ToolCount, 0, len(s.PerTool))
	for tool, n := range s.PerTool {
		out = append(out, ToolCount{Tool: tool, Calls: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Calls != out[j].Calls {
			return out[i].Calls > out[j].Calls
		}
		return out[i].Tool < out[j].Tool
	})
	return out
}

// IntValue reads a trace data number, live (int) or after a JSON round trip
// (float64). Anything else reads as 0.
func IntValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
