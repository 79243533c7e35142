// Package model defines the contract between the agent loop and a
// completion service.
package model

import (
	"context"
	"strings"

	"github.com/nstogner/contextharness/pkg/domain"
)

// StopReason reports why the model stopped producing output.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Request is a single completion call.
type Request struct {
	// Model identifies which model to use (e.g. "gemini-2.5-flash").
	Model string
	// System is the system prompt.
	System string
	// Tools are declared to the model; empty for plain text calls.
	Tools []domain.ToolDefinition
	// Messages is the conversation history.
	Messages  []domain.Message
	MaxTokens int
}

// Response is the model's reply.
type Response struct {
	StopReason StopReason
	Content    []domain.Content
}

// Message returns the response as an assistant message.
func (r *Response) Message() domain.Message {
	return domain.Message{Role: domain.RoleAssistant, Content: r.Content}
}

// Text concatenates the text blocks of the response.
func (r *Response) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == domain.ContentTypeText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool invocations requested by the response, in order.
func (r *Response) ToolCalls() []domain.ToolCall {
	return r.Message().ToolCalls()
}

// Provider represents a completion service (e.g. Gemini, Anthropic).
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini").
	Name() string

	// Complete sends the request and blocks until the full response is available.
	Complete(ctx context.Context, req Request) (*Response, error)
}
