package main

import (
	"fmt"
	"slices"

	"github.com/spf13/pflag"

	"github.com/nstogner/contextharness/pkg/budget"
	"github.com/nstogner/contextharness/pkg/controller"
)

const (
	providerGemini    = "gemini"
	providerAnthropic = "anthropic"

	estimatorChars    = "chars"
	estimatorTiktoken = "tiktoken"

	ledgerSQLite = "sqlite"
	ledgerJSONL  = "jsonl"

	defaultTurns = 15
)

const defaultTask = "Analyze the skill collection in the skills/ directory. For each skill:\n" +
	"1. Read the SKILL.md file\n" +
	"2. Evaluate: Is the content actionable? Does it provide concrete guidance?\n" +
	"3. Rate quality on a 1-5 scale\n" +
	"4. Note any gaps or missing guidance\n\n" +
	"Write your analysis plan to plans/current.md first.\n" +
	"Write final results to scratch/skill_analysis.md.\n" +
	"Be efficient: don't read entire files if a section sample suffices."

type config struct {
	Budget          int
	Model           string
	CompactionModel string
	Provider        string
	Turns           int
	MaxTokens       int
	Task            string
	Workspace       string
	Skills          string
	Allow           []string
	Agent           string
	Estimator       string
	Ledger          string
	Serve           string
	TUI             bool
	History         bool
	LogLevel        string
	LogFormat       string
}

func parseFlags(args []string) (config, error) {
	var cfg config
	fs := pflag.NewFlagSet("harness", pflag.ContinueOnError)
	fs.IntVar(&cfg.Budget, "budget", budget.DefaultCapacity, "Context budget in tokens")
	fs.StringVar(&cfg.Model, "model", "", "Model to use (default depends on --provider)")
	fs.StringVar(&cfg.CompactionModel, "compaction-model", "", "Model used to summarize history (default: --model)")
	fs.StringVar(&cfg.Provider, "provider", providerGemini, "Completion provider: gemini or anthropic")
	fs.IntVar(&cfg.Turns, "turns", defaultTurns, "Max agent turns")
	fs.IntVar(&cfg.MaxTokens, "max-tokens", controller.DefaultMaxTokens, "Max output tokens per model call")
	fs.StringVar(&cfg.Task, "task", "", "Custom task (default: skill collection analysis)")
	fs.StringVar(&cfg.Workspace, "workspace", "./workspace", "Workspace directory")
	fs.StringVar(&cfg.Skills, "skills", "./skills", "Skills directory")
	fs.StringArrayVar(&cfg.Allow, "allow", nil, "Directory the agent may read and search (repeatable; default: skills dir and workspace)")
	fs.StringVar(&cfg.Agent, "agent", "", "Run in the agents/<name> sub-workspace")
	fs.StringVar(&cfg.Estimator, "estimator", estimatorChars, "Token estimator: chars or tiktoken")
	fs.StringVar(&cfg.Ledger, "ledger", ledgerSQLite, "Run ledger backend under memory/: sqlite or jsonl")
	fs.StringVar(&cfg.Serve, "serve", "", "Address for the run API and live trace stream, e.g. :8080")
	fs.BoolVar(&cfg.TUI, "tui", false, "Show a live terminal view of the run")
	fs.BoolVar(&cfg.History, "history", false, "Print recent runs and exit")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", "text", "Log format: text or json")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if cfg.Task == "" {
		cfg.Task = defaultTask
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	if c.Budget <= 0 {
		return fmt.Errorf("--budget must be positive, got %d", c.Budget)
	}
	if c.Turns <= 0 {
		return fmt.Errorf("--turns must be positive, got %d", c.Turns)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("--max-tokens must be positive, got %d", c.MaxTokens)
	}
	if !slices.Contains([]string{providerGemini, providerAnthropic}, c.Provider) {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if !slices.Contains([]string{estimatorChars, estimatorTiktoken}, c.Estimator) {
		return fmt.Errorf("unknown estimator %q", c.Estimator)
	}
	if !slices.Contains([]string{ledgerSQLite, ledgerJSONL}, c.Ledger) {
		return fmt.Errorf("unknown ledger %q", c.Ledger)
	}
	if !slices.Contains([]string{"text", "json"}, c.LogFormat) {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}
