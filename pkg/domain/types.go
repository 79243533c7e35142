package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Content is a single block of a message. Exactly one of Text, ToolUse or
// ToolResult is meaningful, selected by Type.
type Content struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolUse    *ToolCall   `json:"tool_use,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// ThoughtSignature is an opaque signature for the model's internal state.
	// Must be round-tripped back to the model on the next request.
	ThoughtSignature []byte `json:"thought_signature,omitempty"`
}

// TextContent returns a text block.
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// ToolUseContent returns a tool invocation block.
func ToolUseContent(call ToolCall) Content {
	return Content{Type: ContentTypeToolUse, ToolUse: &call}
}

// ToolResultContent returns a tool result block.
func ToolResultContent(result ToolResult) Content {
	return Content{Type: ContentTypeToolResult, ToolResult: &result}
}

// Message is one unit of the conversation sent to the model.
type Message struct {
	Role    Role      `json:"role"`
	Content []Content `json:"content"`
}

// Text joins the text blocks of the message with a single space.
func (m Message) Text() string {
	var parts []string
	for _, c := range m.Content {
		if c.Type == ContentTypeText && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, " ")
}

// ToolCalls returns the tool invocation requests of the message in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, c := range m.Content {
		if c.Type == ContentTypeToolUse && c.ToolUse != nil {
			calls = append(calls, *c.ToolUse)
		}
	}
	return calls
}

// Transcript renders every block of the message, tool traffic included, as
// plain text for persistence and summarization.
func (m Message) Transcript() string {
	var parts []string
	for _, c := range m.Content {
		switch c.Type {
		case ContentTypeText:
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		case ContentTypeToolUse:
			if c.ToolUse != nil {
				input, _ := json.Marshal(c.ToolUse.Input)
				parts = append(parts, fmt.Sprintf("(tool call %s %s %s)", c.ToolUse.ID, c.ToolUse.Name, input))
			}
		case ContentTypeToolResult:
			if c.ToolResult != nil {
				parts = append(parts, fmt.Sprintf("(tool result %s) %s", c.ToolResult.ToolCallID, c.ToolResult.Content))
			}
		}
	}
	return strings.Join(parts, " ")
}

// ToolParam describes one named input of a tool.
type ToolParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string" or "integer"
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolDefinition declares a tool to the model.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ToolParam `json:"params"`
}

// InputSchema returns the JSON schema object for the tool's parameters.
func (d ToolDefinition) InputSchema() map[string]any {
	properties := make(map[string]any, len(d.Params))
	required := []string{}
	for _, p := range d.Params {
		properties[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// ToolCall represents a tool invocation by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult represents the outcome of a tool call, correlated by ToolCallID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// TraceEvent is one record of the append-only run trace.
type TraceEvent struct {
	Event string
	Time  time.Time
	Data  map[string]any
}

// MarshalJSON flattens Data next to the event tag and timestamp.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+2)
	for k, v := range e.Data {
		out[k] = v
	}
	out["event"] = e.Event
	out["time"] = e.Time
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (e *TraceEvent) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.Event, _ = raw["event"].(string)
	if ts, ok := raw["time"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("parsing trace time: %w", err)
		}
		e.Time = t
	}
	delete(raw, "event")
	delete(raw, "time")
	e.Data = raw
	return nil
}

// RunStatus is the terminal state of an agent run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusMaxTurns RunStatus = "max_turns"
	RunStatusFailed   RunStatus = "failed"
)

// RunRecord summarizes one agent run in the run ledger.
type RunRecord struct {
	ID          string    `json:"id"`
	Agent       string    `json:"agent,omitempty"`
	Task        string    `json:"task"`
	Model       string    `json:"model"`
	Status      RunStatus `json:"status"`
	Turns       int       `json:"turns"`
	ToolCalls   int       `json:"tool_calls"`
	Offloads    int       `json:"offloads"`
	Compactions int       `json:"compactions"`
	FinalTokens int       `json:"final_tokens"`
	Capacity    int       `json:"capacity"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}
