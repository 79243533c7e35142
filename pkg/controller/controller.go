// Package controller runs the agent loop: it calls the model, dispatches tool
// calls, masks large observations and compacts the conversation when the
// context budget runs low.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"unicode/utf8"

	"github.com/nstogner/contextharness/pkg/budget"
	"github.com/nstogner/contextharness/pkg/domain"
	"github.com/nstogner/contextharness/pkg/model"
)

const (
	DefaultMaxTurns     = 20
	DefaultMaxTokens    = 4096
	DefaultSkillMatches = 2
	DefaultSkillLines   = 200

	// MaxTurnsText is the result text of a run that ran out of turns.
	MaxTurnsText = "[Max turns reached]"
)

var (
	// ErrModel marks a failed completion or summarization call.
	ErrModel = errors.New("model call failed")
	// ErrStorage marks a failed workspace read or write.
	ErrStorage = errors.New("workspace storage failed")
)

// Tools dispatches tool calls. Execute reports failures as result text.
type Tools interface {
	Definitions() []domain.ToolDefinition
	Execute(ctx context.Context, call domain.ToolCall) domain.ToolResult
}

// Workspace is the durable store a run reads its plan from and offloads to.
type Workspace interface {
	ScratchWriter
	Root() string
	ReadPlan() (string, bool, error)
}

// Config tunes a Controller. Zero values select the defaults.
type Config struct {
	// Model is the model used for agent turns.
	Model string
	// CompactionModel summarizes history; defaults to Model.
	CompactionModel string

	MaxTurns         int
	MaxTokens        int
	SummaryMaxTokens int
	SkillMatches     int
	SkillLines       int

	// TracePath defaults to <workspace root>/trace.json.
	TracePath string
}

func (c Config) withDefaults() Config {
	if c.CompactionModel == "" {
		c.CompactionModel = c.Model
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.SummaryMaxTokens <= 0 {
		c.SummaryMaxTokens = DefaultSummaryMaxTokens
	}
	if c.SkillMatches <= 0 {
		c.SkillMatches = DefaultSkillMatches
	}
	if c.SkillLines <= 0 {
		c.SkillLines = DefaultSkillLines
	}
	return c
}

// Result is the outcome of a run.
type Result struct {
	Status domain.RunStatus
	// Text is the final answer, MaxTurnsText, or empty on failure.
	Text  string
	Turns int
}

// Controller owns one agent run. It is not safe for concurrent use and must
// not be reused across runs.
type Controller struct {
	provider  model.Provider
	workspace Workspace
	tools     Tools
	skills    SkillIndex
	budget    *budget.Tracker
	compactor *Compactor
	trace     *Trace
	cfg       Config

	messages []domain.Message
}

// New creates a Controller. skills may be nil.
func New(
	provider model.Provider,
	workspace Workspace,
	tools Tools,
	skills SkillIndex,
	tracker *budget.Tracker,
	cfg Config,
) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		provider:  provider,
		workspace: workspace,
		tools:     tools,
		skills:    skills,
		budget:    tracker,
		compactor: NewCompactor(provider, workspace, cfg.CompactionModel, cfg.SummaryMaxTokens),
		trace:     NewTrace(),
		cfg:       cfg,
	}
}

// Trace returns the run's event log.
func (c *Controller) Trace() *Trace { return c.trace }

// Budget returns the run's budget tracker.
func (c *Controller) Budget() *budget.Tracker { return c.budget }

// Messages returns a copy of the live conversation.
func (c *Controller) Messages() []domain.Message {
	return append([]domain.Message(nil), c.messages...)
}

// Run executes task until the model stops calling tools or MaxTurns is
// reached. Model and storage failures end the run with StatusFailed and an
// error wrapping ErrModel or ErrStorage. The trace is saved and closed when
// Run returns.
func (c *Controller) Run(ctx context.Context, task string) (Result, error) {
	defer c.finish()

	res, err := c.run(ctx, task)
	if err != nil {
		slog.Error("Run failed", "turns", res.Turns, "error", err)
		c.trace.Log(EventError, map[string]any{"error": err.Error(), "turns": res.Turns})
		res.Status = domain.RunStatusFailed
		res.Text = ""
	}
	return res, err
}

func (c *Controller) run(ctx context.Context, task string) (Result, error) {
	system := c.buildSystemPrompt(task)
	c.budget.Track(domain.RoleSystem, system)

	plan, _, err := c.workspace.ReadPlan()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	first := initialMessage(task, plan)
	c.messages = []domain.Message{first}
	c.budget.Track(domain.RoleUser, first.Text())

	c.trace.Log(EventInit, map[string]any{
		"task":          task,
		"budget":        c.budget.Current(),
		"skills_loaded": c.skills != nil,
	})

	defs := c.tools.Definitions()
	for turn := 1; turn <= c.cfg.MaxTurns; turn++ {
		c.trace.Log(EventTurnStart, map[string]any{
			"turn":        turn,
			"budget":      c.budget.Current(),
			"utilization": c.budget.Utilization(),
		})

		if c.budget.NeedsCompaction() {
			if err := c.compact(ctx); err != nil {
				return Result{Turns: turn}, err
			}
		}

		slog.Info("Calling model", "turn", turn, "messages", len(c.messages), "budget", c.budget.Current())
		resp, err := c.provider.Complete(ctx, model.Request{
			Model:     c.cfg.Model,
			System:    system,
			Tools:     defs,
			Messages:  c.messages,
			MaxTokens: c.cfg.MaxTokens,
		})
		if err != nil {
			return Result{Turns: turn}, fmt.Errorf("%w: turn %d: %w", ErrModel, turn, err)
		}

		assistant := resp.Message()
		c.budget.Track(domain.RoleAssistant, assistant.Transcript())
		c.messages = append(c.messages, assistant)

		calls := assistant.ToolCalls()
		if len(calls) == 0 {
			c.trace.Log(EventComplete, map[string]any{
				"turns":        turn,
				"final_budget": c.budget.Current(),
				"stop_reason":  string(resp.StopReason),
			})
			slog.Info("Run complete", "turns", turn, "budget", c.budget.Current())
			return Result{Status: domain.RunStatusComplete, Text: assistant.Text(), Turns: turn}, nil
		}

		results, err := c.dispatch(ctx, calls)
		if err != nil {
			return Result{Turns: turn}, err
		}
		c.messages = append(c.messages, domain.Message{Role: domain.RoleUser, Content: results})
	}

	c.trace.Log(EventMaxTurns, map[string]any{"turns": c.cfg.MaxTurns})
	slog.Warn("Max turns reached", "turns", c.cfg.MaxTurns)
	return Result{Status: domain.RunStatusMaxTurns, Text: MaxTurnsText, Turns: c.cfg.MaxTurns}, nil
}

// dispatch executes calls in order and returns one masked result block per
// call.
func (c *Controller) dispatch(ctx context.Context, calls []domain.ToolCall) ([]domain.Content, error) {
	results := make([]domain.Content, 0, len(calls))
	for _, call := range calls {
		c.trace.Log(EventToolCall, map[string]any{
			"tool":   call.Name,
			"id":     call.ID,
			"inputs": call.Input,
		})

		res := c.tools.Execute(ctx, call)
		masked, err := Mask(call.Name, res.Content, c.workspace)
		if err != nil {
			return nil, err
		}
		c.budget.Track(domain.RoleTool, masked)

		rawLen := utf8.RuneCountInString(res.Content)
		c.trace.Log(EventToolResult, map[string]any{
			"tool":          call.Name,
			"id":            call.ID,
			"raw_len":       rawLen,
			"masked_len":    utf8.RuneCountInString(masked),
			"was_offloaded": rawLen > MaskThreshold,
			"is_error":      res.IsError,
		})

		res.Content = masked
		results = append(results, domain.ToolResultContent(res))
	}
	return results, nil
}

// compact replaces the conversation with a summary and rebases the budget on
// the replacement message.
func (c *Controller) compact(ctx context.Context) error {
	c.trace.Log(EventCompactionTriggered, map[string]any{
		"utilization": c.budget.Utilization(),
		"budget":      c.budget.Current(),
		"messages":    len(c.messages),
	})

	compaction, err := c.compactor.Compact(ctx, c.messages)
	if err != nil {
		return err
	}
	c.messages = []domain.Message{compaction.Message}
	c.budget.Reset(c.budget.Estimate(compaction.Message.Text()))

	c.trace.Log(EventCompacted, map[string]any{
		"transcript":  c.workspace.Rel(compaction.TranscriptPath),
		"summary_len": utf8.RuneCountInString(compaction.Summary),
		"budget":      c.budget.Current(),
	})
	return nil
}

func (c *Controller) finish() {
	path := c.cfg.TracePath
	if path == "" {
		path = filepath.Join(c.workspace.Root(), TraceFile)
	}
	if err := c.trace.Save(path); err != nil {
		slog.Warn("Failed to save trace", "path", path, "error", err)
	}
	c.trace.Close()
}
