// Command harness runs a single context-budgeted agent over a workspace.
//
// Usage:
//
//	export GEMINI_API_KEY="your-api-key"
//	go run ./cmd/harness --budget 20000 --turns 10
//
//	# Anthropic instead of Gemini:
//	export ANTHROPIC_API_KEY="your-api-key"
//	go run ./cmd/harness --provider anthropic
//
//	# Recent runs from the ledger:
//	go run ./cmd/harness --history
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/nstogner/contextharness/pkg/budget"
	"github.com/nstogner/contextharness/pkg/controller"
	"github.com/nstogner/contextharness/pkg/domain"
	"github.com/nstogner/contextharness/pkg/server"
	"github.com/nstogner/contextharness/pkg/skills"
	"github.com/nstogner/contextharness/pkg/store"
	"github.com/nstogner/contextharness/pkg/store/jsonl"
	"github.com/nstogner/contextharness/pkg/store/sqlite"
	"github.com/nstogner/contextharness/pkg/tools"
	"github.com/nstogner/contextharness/pkg/workspace"
)

const (
	historyLimit    = 20
	jsonlDir        = "runs"
	logFile         = "harness.log"
	shutdownTimeout = 5 * time.Second
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, os.Stdout)
	stop()
	if err != nil {
		slog.Error("Harness failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, stdout io.Writer) error {
	logger, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat, term.IsTerminal(int(os.Stderr.Fd())))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ws, err := openWorkspace(cfg.Workspace, cfg.Agent)
	if err != nil {
		return err
	}

	ledger, err := openLedger(cfg.Ledger, ws)
	if err != nil {
		return fmt.Errorf("opening run ledger: %w", err)
	}
	defer ledger.Close()

	if cfg.History {
		return history(ctx, cfg, ledger, stdout)
	}

	if cfg.TUI {
		// The TUI owns the terminal, so logs go to a file in the workspace.
		f, err := os.OpenFile(filepath.Join(ws.Root(), logFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		fileLogger, err := newLogger(f, cfg.LogLevel, cfg.LogFormat, false)
		if err != nil {
			return err
		}
		slog.SetDefault(fileLogger)
	}

	skillsDir, err := filepath.Abs(cfg.Skills)
	if err != nil {
		return fmt.Errorf("resolving skills dir: %w", err)
	}
	var skillIndex controller.SkillIndex
	if idx, err := skills.Load(skillsDir); err != nil {
		slog.Warn("Skills unavailable", "dir", skillsDir, "error", err)
	} else {
		skillIndex = idx
	}

	allowed := cfg.Allow
	if len(allowed) == 0 {
		allowed = []string{skillsDir, ws.Root()}
	}
	executor, err := tools.NewExecutor(tools.Config{Root: ws.Root(), AllowedPaths: allowed})
	if err != nil {
		return fmt.Errorf("initializing tools: %w", err)
	}

	provider, modelName, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}

	tracker := budget.NewWithEstimator(cfg.Budget, newEstimator(cfg.Estimator, budget.DefaultEncoding))
	ctrl := controller.New(provider, ws, executor, skillIndex, tracker, controller.Config{
		Model:           modelName,
		CompactionModel: cfg.CompactionModel,
		MaxTurns:        cfg.Turns,
		MaxTokens:       cfg.MaxTokens,
	})

	rec := &domain.RunRecord{
		ID:       uuid.New().String(),
		Agent:    cfg.Agent,
		Task:     cfg.Task,
		Model:    modelName,
		Capacity: cfg.Budget,
	}
	if err := ledger.CreateRun(ctx, rec); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	// Subscriptions must exist before the run starts logging.
	var observers errgroup.Group
	recorded := ctrl.Trace().Subscribe()
	observers.Go(func() error {
		return store.Record(context.WithoutCancel(ctx), ledger, rec.ID, recorded)
	})

	if cfg.Serve != "" {
		hub, metrics := server.NewHub(), server.NewMetrics()
		live, observed := ctrl.Trace().Subscribe(), ctrl.Trace().Subscribe()
		observers.Go(func() error {
			hub.Run(ctx, live)
			return nil
		})
		observers.Go(func() error {
			metrics.Run(ctx, observed)
			return nil
		})
		srv := server.New(cfg.Serve, ledger, hub, metrics)
		go serve(srv)
		defer shutdown(srv)
	}

	var (
		res    controller.Result
		runErr error
	)
	if cfg.TUI {
		res, runErr = runWithTUI(ctx, ctrl, cfg)
	} else {
		printHeader(stdout, cfg, ws.Root(), skillsDir, modelName)
		res, runErr = ctrl.Run(ctx, cfg.Task)
	}
	if err := observers.Wait(); err != nil {
		slog.Warn("Run ledger stopped recording events", "run", rec.ID, "error", err)
	}

	stats := controller.Summarize(ctrl.Trace().Events())
	rec.Status = res.Status
	rec.Turns = res.Turns
	rec.ToolCalls = stats.ToolCalls
	rec.Offloads = stats.Offloads
	rec.Compactions = stats.Compactions
	rec.FinalTokens = tracker.Current()
	rec.Result = res.Text
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := ledger.FinishRun(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("Failed to finish run record", "run", rec.ID, "error", err)
	}

	printResult(stdout, newRenderer(100), res, runErr)
	printSummary(stdout, stats, tracker, filepath.Join(ws.Root(), controller.TraceFile))
	return runErr
}

type runLedger interface {
	store.RunStore
	io.Closer
}

func openLedger(kind string, ws *workspace.Workspace) (runLedger, error) {
	if kind == ledgerJSONL {
		s, err := jsonl.New(ws.MemoryPath(jsonlDir))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := sqlite.New(ws.MemoryPath(store.DefaultFile))
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openWorkspace(root, agent string) (*workspace.Workspace, error) {
	ws, err := workspace.New(root)
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}
	if agent == "" {
		return ws, nil
	}
	child, err := ws.Child(agent)
	if err != nil {
		return nil, fmt.Errorf("opening agent workspace: %w", err)
	}
	return child, nil
}

// runWithTUI runs the controller in the background while the TUI renders its
// trace. Quitting the TUI cancels the run.
func runWithTUI(ctx context.Context, ctrl *controller.Controller, cfg config) (controller.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newTUI(ctrl.Trace().Subscribe(), cfg.Budget, cancel), tea.WithAltScreen())

	var (
		res    controller.Result
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, runErr = ctrl.Run(runCtx, cfg.Task)
		p.Send(runDoneMsg{result: res, err: runErr})
	}()

	_, err := p.Run()
	if err != nil {
		cancel()
	}
	<-done
	if err != nil {
		return res, errors.Join(runErr, fmt.Errorf("running TUI: %w", err))
	}
	return res, runErr
}

// history prints recent runs. With --serve it then keeps serving the ledger
// until interrupted.
func history(ctx context.Context, cfg config, ledger store.RunStore, stdout io.Writer) error {
	runs, err := ledger.ListRuns(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	printHistory(stdout, runs)

	if cfg.Serve == "" {
		return nil
	}
	srv := server.New(cfg.Serve, ledger, nil, nil)
	go serve(srv)
	<-ctx.Done()
	shutdown(srv)
	return nil
}

func serve(srv *server.Server) {
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Trace server failed", "error", err)
	}
}

func shutdown(srv *server.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("Trace server shutdown", "error", err)
	}
}
