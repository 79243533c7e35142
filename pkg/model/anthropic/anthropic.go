// Package anthropic implements model.Provider for the Anthropic Messages API
// over plain HTTP.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nstogner/contextharness/pkg/domain"
	"github.com/nstogner/contextharness/pkg/model"
)

const (
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultModel   = "claude-sonnet-4-5"
	apiVersion     = "2023-06-01"
	// Used when a request leaves MaxTokens unset; the API requires it.
	defaultMaxTokens = 4096
)

// Provider implements model.Provider for the Anthropic Messages API.
type Provider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates an Anthropic provider. An empty baseURL selects DefaultBaseURL
// and a nil httpClient selects http.DefaultClient.
func New(httpClient *http.Client, baseURL, apiKey string) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Provider{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "anthropic" }

// Complete sends a non-streaming request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	wireRequest := buildRequest(req)
	slog.Debug("Anthropic.Complete", "model", wireRequest.Model, "messageCount", len(wireRequest.Messages))

	body, err := json.Marshal(wireRequest)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshaling request: %w", err)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("x-api-key", p.apiKey)
	httpRequest.Header.Set("anthropic-version", apiVersion)

	httpResponse, err := p.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("anthropic: sending request: %w", err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode != http.StatusOK {
		return nil, readError(httpResponse)
	}

	var wireResponse response
	if err := json.NewDecoder(httpResponse.Body).Decode(&wireResponse); err != nil {
		return nil, fmt.Errorf("anthropic: decoding response: %w", err)
	}
	return wireResponse.toResponse()
}

// APIError is a non-200 response from the API.
type APIError struct {
	StatusCode int
	// Type is the API error type (e.g. "rate_limit_error").
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("anthropic: HTTP %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic: HTTP %d: %s", e.StatusCode, e.Message)
}

// readError parses {"error":{"type":"...","message":"..."}}, falling back to
// the raw body.
func readError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		return &APIError{
			StatusCode: httpResponse.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}
	return &APIError{
		StatusCode: httpResponse.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

// --- Wire types ---

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Tools     []tool    `json:"tools,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type response struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

func buildRequest(req model.Request) request {
	wire := request{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
	}
	if wire.Model == "" {
		wire.Model = DefaultModel
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = defaultMaxTokens
	}
	for _, d := range req.Tools {
		wire.Tools = append(wire.Tools, tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema(),
		})
	}
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			continue
		}
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "assistant"
		}
		wireMsg := message{Role: role}
		for _, c := range m.Content {
			if b, ok := toBlock(c); ok {
				wireMsg.Content = append(wireMsg.Content, b)
			}
		}
		if len(wireMsg.Content) > 0 {
			wire.Messages = append(wire.Messages, wireMsg)
		}
	}
	return wire
}

func toBlock(c domain.Content) (contentBlock, bool) {
	switch c.Type {
	case domain.ContentTypeText:
		if c.Text == "" {
			return contentBlock{}, false
		}
		return contentBlock{Type: "text", Text: c.Text}, true
	case domain.ContentTypeToolUse:
		if c.ToolUse == nil {
			return contentBlock{}, false
		}
		input := c.ToolUse.Input
		if input == nil {
			input = map[string]any{}
		}
		raw, _ := json.Marshal(input)
		return contentBlock{Type: "tool_use", ID: c.ToolUse.ID, Name: c.ToolUse.Name, Input: raw}, true
	case domain.ContentTypeToolResult:
		if c.ToolResult == nil {
			return contentBlock{}, false
		}
		return contentBlock{
			Type:      "tool_result",
			ToolUseID: c.ToolResult.ToolCallID,
			Content:   c.ToolResult.Content,
			IsError:   c.ToolResult.IsError,
		}, true
	}
	return contentBlock{}, false
}

func (r *response) toResponse() (*model.Response, error) {
	resp := &model.Response{StopReason: model.StopReason(r.StopReason)}
	for _, b := range r.Content {
		switch b.Type {
		case "text":
			resp.Content = append(resp.Content, domain.TextContent(b.Text))
		case "tool_use":
			input := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &input); err != nil {
					return nil, fmt.Errorf("anthropic: decoding input of tool %s: %w", b.Name, err)
				}
			}
			resp.Content = append(resp.Content, domain.ToolUseContent(domain.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: input,
			}))
		default:
			// Thinking and other block types carry nothing the loop uses.
		}
	}
	return resp, nil
}
