// Package gemini implements model.Provider on the Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/nstogner/contextharness/pkg/domain"
	"github.com/nstogner/contextharness/pkg/model"
)

// DefaultModel is used when a request names no model.
const DefaultModel = "gemini-2.5-flash"

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// Complete streams the response and returns it once fully assembled.
func (p *Provider) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = DefaultModel
	}
	slog.Debug("Gemini.Complete", "model", modelName, "messageCount", len(req.Messages), "tools", len(req.Tools))

	config := &genai.GenerateContentConfig{
		Tools:           toTools(req.Tools),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	return collect(p.client.Models.GenerateContentStream(streamCtx, modelName, toContents(req.Messages), config))
}

// toContents converts the conversation to genai.Content. Assistant turns use
// the "model" role; tool results travel as user FunctionResponse parts.
func toContents(messages []domain.Message) []*genai.Content {
	var contents []*genai.Content
	toolNameMap := make(map[string]string) // tool call ID -> name

	for _, msg := range messages {
		if msg.Role == domain.RoleSystem {
			// System role is handled via SystemInstruction.
			continue
		}

		var parts []*genai.Part
		for _, c := range msg.Content {
			switch c.Type {
			case domain.ContentTypeText:
				if c.Text == "" {
					continue
				}
				parts = append(parts, &genai.Part{
					Text:             c.Text,
					ThoughtSignature: c.ThoughtSignature,
				})
			case domain.ContentTypeToolUse:
				if c.ToolUse != nil {
					toolNameMap[c.ToolUse.ID] = c.ToolUse.Name
					parts = append(parts, &genai.Part{
						FunctionCall: &genai.FunctionCall{
							Name: c.ToolUse.Name,
							Args: c.ToolUse.Input,
							ID:   c.ToolUse.ID,
						},
						ThoughtSignature: c.ThoughtSignature,
					})
				}
			case domain.ContentTypeToolResult:
				if c.ToolResult != nil {
					name := c.ToolResult.Name
					if name == "" {
						name = toolNameMap[c.ToolResult.ToolCallID]
					}
					key := "result"
					if c.ToolResult.IsError {
						key = "error"
					}
					parts = append(parts, &genai.Part{
						FunctionResponse: &genai.FunctionResponse{
							Name:     name,
							ID:       c.ToolResult.ToolCallID,
							Response: map[string]any{key: c.ToolResult.Content},
						},
					})
				}
			}
		}

		role := "user"
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: parts,
			})
		}
	}
	return contents
}

func toTools(defs []domain.ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	var decls []*genai.FunctionDeclaration
	for _, d := range defs {
		props := make(map[string]*genai.Schema, len(d.Params))
		var required []string
		for _, p := range d.Params {
			props[p.Name] = &genai.Schema{Type: toType(p.Type), Description: p.Description}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   required,
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

// collect drains the stream into a single response. The stop reason is
// tool_use whenever a function call was returned.
func collect(stream iter.Seq2[*genai.GenerateContentResponse, error]) (*model.Response, error) {
	var fullText strings.Builder
	var toolCalls []domain.Content
	var textSignature []byte
	stop := model.StopEndTurn

	for resp, err := range stream {
		if err != nil {
			return nil, fmt.Errorf("gemini: generating content: %w", err)
		}
		if resp == nil {
			continue
		}

		for _, cand := range resp.Candidates {
			if cand.FinishReason == genai.FinishReasonMaxTokens {
				stop = model.StopMaxTokens
			}
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Thought {
					continue
				}
				if part.Text != "" {
					if len(part.ThoughtSignature) > 0 {
						textSignature = part.ThoughtSignature
					}
					fullText.WriteString(part.Text)
				}
				if part.FunctionCall != nil {
					fc := part.FunctionCall
					id := fc.ID
					if id == "" {
						id = "call-" + uuid.New().String()
					}
					args := fc.Args
					if args == nil {
						args = map[string]any{}
					}
					call := domain.ToolUseContent(domain.ToolCall{
						ID:    id,
						Name:  fc.Name,
						Input: args,
					})
					call.ThoughtSignature = part.ThoughtSignature
					toolCalls = append(toolCalls, call)
				}
			}
		}
	}

	var content []domain.Content
	if fullText.Len() > 0 {
		text := domain.TextContent(fullText.String())
		text.ThoughtSignature = textSignature
		content = append(content, text)
	}
	content = append(content, toolCalls...)
	if len(toolCalls) > 0 {
		stop = model.StopToolUse
	}

	return &model.Response{StopReason: stop, Content: content}, nil
}
