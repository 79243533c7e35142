// Package modeltest provides a deterministic model.Provider for tests.
package modeltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/nstogner/contextharness/pkg/domain"
	"github.com/nstogner/contextharness/pkg/model"
)

// Step configures one reply in a scripted sequence. When Err is set it is
// returned instead of Response.
type Step struct {
	Response *model.Response
	Err      error
}

// Text is a step that ends the turn with a text reply.
func Text(text string) Step {
	return Step{Response: &model.Response{
		StopReason: model.StopEndTurn,
		Content:    []domain.Content{domain.TextContent(text)},
	}}
}

// ToolUse is a step that requests the given tool calls after optional text.
func ToolUse(text string, calls ...domain.ToolCall) Step {
	resp := &model.Response{StopReason: model.StopToolUse}
	if text != "" {
		resp.Content = append(resp.Content, domain.TextContent(text))
	}
	for _, c := range calls {
		resp.Content = append(resp.Content, domain.ToolUseContent(c))
	}
	return Step{Response: resp}
}

// Fail is a step that returns err.
func Fail(err error) Step {
	return Step{Err: err}
}

// ScriptedProvider replays steps in order and records every request.
type ScriptedProvider struct {
	mu       sync.Mutex
	index    int
	steps    []Step
	requests []model.Request
}

var _ model.Provider = (*ScriptedProvider)(nil)

func NewScriptedProvider(steps ...Step) *ScriptedProvider {
	cloned := make([]Step, len(steps))
	copy(cloned, steps)
	return &ScriptedProvider{steps: cloned}
}

func (p *ScriptedProvider) Name() string { return "scripted" }

func (p *ScriptedProvider) Complete(_ context.Context, req model.Request) (*model.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req.Messages = append([]domain.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)

	if p.index >= len(p.steps) {
		return nil, fmt.Errorf("script exhausted at step %d", p.index+1)
	}
	current := p.steps[p.index]
	p.index++
	if current.Err != nil {
		return nil, current.Err
	}
	resp := *current.Response
	resp.Content = append([]domain.Content(nil), current.Response.Content...)
	return &resp, nil
}

// Requests returns the requests received so far.
func (p *ScriptedProvider) Requests() []model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Request(nil), p.requests...)
}

// Remaining reports how many steps have not been consumed.
func (p *ScriptedProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps) - p.index
}
