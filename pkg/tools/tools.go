// Package tools implements the agent's three primitive tools (read, write,
// search) and the executor that dispatches model tool calls to them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nstogner/contextharness/pkg/domain"
)

// Tool names.
const (
	NameReadFile    = "read_file"
	NameWriteFile   = "write_file"
	NameSearchFiles = "search_files"
)

// DefaultSearchTimeout bounds a single search.
const DefaultSearchTimeout = 10 * time.Second

var (
	ErrNotFound         = errors.New("file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTimeout          = errors.New("search timed out")
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// Tool defines the interface that all agent tools must implement.
type Tool interface {
	Name() string
	// Description must tell the model when to use the tool.
	Description() string
	Params() []domain.ToolParam
	Execute(ctx context.Context, input map[string]any) (string, error)
}

// Definition returns the declaration sent to the model for t.
func Definition(t Tool) domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Params:      t.Params(),
	}
}

// Registry manages the available tools in registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a new, empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	list := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, r.tools[name])
	}
	return list
}

// Config configures an Executor.
type Config struct {
	// Root is the workspace root. Relative paths resolve against it and
	// writes never leave it.
	Root string
	// AllowedPaths restricts reads and searches when non-empty.
	AllowedPaths []string
	// SearchTimeout defaults to DefaultSearchTimeout.
	SearchTimeout time.Duration
}

// Executor dispatches tool calls. Every failure is returned as result text so
// the model can see it and adapt.
type Executor struct {
	registry *Registry
}

// NewExecutor builds an Executor with the read, write and search tools.
func NewExecutor(cfg Config) (*Executor, error) {
	paths, err := NewResolver(cfg.Root, cfg.AllowedPaths)
	if err != nil {
		return nil, err
	}
	timeout := cfg.SearchTimeout
	if timeout <= 0 {
		timeout = DefaultSearchTimeout
	}

	reg := NewRegistry()
	reg.Register(&ReadFileTool{paths: paths})
	reg.Register(&WriteFileTool{paths: paths})
	reg.Register(&SearchFilesTool{paths: paths, timeout: timeout})
	return &Executor{registry: reg}, nil
}

// Definitions returns the declarations of all tools.
func (e *Executor) Definitions() []domain.ToolDefinition {
	var defs []domain.ToolDefinition
	for _, t := range e.registry.List() {
		defs = append(defs, Definition(t))
	}
	return defs
}

// Execute runs call and returns its result. It never fails: tool errors,
// including unknown tool names, become "Error: ..." content.
func (e *Executor) Execute(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	result := domain.ToolResult{ToolCallID: call.ID, Name: call.Name}

	t, ok := e.registry.Get(call.Name)
	if !ok {
		slog.Warn("Unknown tool called", "tool", call.Name)
		result.Content = fmt.Sprintf("Error: %v: %s", ErrUnknownTool, call.Name)
		result.IsError = true
		return result
	}

	out, err := t.Execute(ctx, call.Input)
	if err != nil {
		slog.Debug("Tool failed", "tool", call.Name, "error", err)
		result.Content = fmt.Sprintf("Error: %v", err)
		result.IsError = true
		return result
	}
	result.Content = out
	return result
}

func stringArg(input map[string]any, key string, required bool) (string, error) {
	v, ok := input[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%w: '%s' is required", ErrInvalidArgument, key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: '%s' must be a string", ErrInvalidArgument, key)
	}
	if required && s == "" {
		return "", fmt.Errorf("%w: '%s' must not be empty", ErrInvalidArgument, key)
	}
	return s, nil
}

// intArg reads an optional integer. JSON decoding yields float64, so whole
// floats are accepted.
func intArg(input map[string]any, key string) (int, bool, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int32:
		return int(n), true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != float64(int(n)) {
			return 0, false, fmt.Errorf("%w: '%s' must be an integer", ErrInvalidArgument, key)
		}
		return int(n), true, nil
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		if err != nil {
			return 0, false, fmt.Errorf("%w: '%s' must be an integer", ErrInvalidArgument, key)
		}
		return int(i), true, nil
	default:
		return 0, false, fmt.Errorf("%w: '%s' must be an integer", ErrInvalidArgument, key)
	}
}
