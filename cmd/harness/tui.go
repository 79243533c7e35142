package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nstogner/contextharness/pkg/controller"
	"github.com/nstogner/contextharness/pkg/domain"
)

type traceMsg domain.TraceEvent

type traceClosedMsg struct{}

type runDoneMsg struct {
	result controller.Result
	err    error
}

// tuiModel shows a live view of one run, driven entirely by trace events.
type tuiModel struct {
	events   <-chan domain.TraceEvent
	cancel   context.CancelFunc
	capacity int

	spinner  spinner.Model
	progress progress.Model
	viewport viewport.Model

	lines       []string
	turn        int
	tokens      int
	compactions int
	done        bool
	err         error
}

func newTUI(events <-chan domain.TraceEvent, capacity int, cancel context.CancelFunc) tuiModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = labelStyle

	return tuiModel{
		events:   events,
		cancel:   cancel,
		capacity: capacity,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		viewport: viewport.New(80, 20),
	}
}

func waitForEvent(events <-chan domain.TraceEvent) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return traceClosedMsg{}
		}
		return traceMsg(e)
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.done && m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(0, msg.Height-4)
		m.progress.Width = min(60, max(10, msg.Width-30))
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		return m, nil

	case traceMsg:
		m.apply(domain.TraceEvent(msg))
		return m, waitForEvent(m.events)

	case traceClosedMsg:
		return m, nil

	case runDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *tuiModel) apply(e domain.TraceEvent) {
	switch e.Event {
	case controller.EventTurnStart:
		m.turn = controller.IntValue(e.Data["turn"])
		m.tokens = controller.IntValue(e.Data["budget"])
	case controller.EventCompacted:
		m.compactions++
		m.tokens = controller.IntValue(e.Data["budget"])
	case controller.EventComplete:
		m.tokens = controller.IntValue(e.Data["final_budget"])
	}
	m.lines = append(m.lines, describe(e))
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m tuiModel) utilization() float64 {
	if m.capacity <= 0 {
		return 0
	}
	return min(1, float64(m.tokens)/float64(m.capacity))
}

func (m tuiModel) View() string {
	status := m.spinner.View() + " running"
	if m.done {
		status = "done"
		if m.err != nil {
			status = errorStyle.Render("failed")
		}
	}
	header := fmt.Sprintf("%s  turn %d  %s  %d/%d tokens  compactions %d",
		titleStyle.Render("Context harness"), m.turn, status, m.tokens, m.capacity, m.compactions)
	return header + "\n" +
		m.progress.ViewAs(m.utilization()) + "\n" +
		m.viewport.View() + "\n" +
		dimStyle.Render("q: quit  ↑/↓: scroll")
}

// describe renders one trace event as a single line.
func describe(e domain.TraceEvent) string {
	switch e.Event {
	case controller.EventTurnStart:
		return fmt.Sprintf("── turn %d  (%d tokens)", controller.IntValue(e.Data["turn"]), controller.IntValue(e.Data["budget"]))
	case controller.EventSkillLoaded:
		return fmt.Sprintf("skill   %v (%d lines)", e.Data["skill"], controller.IntValue(e.Data["lines"]))
	case controller.EventToolCall:
		input, _ := json.Marshal(e.Data["inputs"])
		return fmt.Sprintf("call    %v %s", e.Data["tool"], input)
	case controller.EventToolResult:
		line := fmt.Sprintf("result  %v %d chars", e.Data["tool"], controller.IntValue(e.Data["raw_len"]))
		if off, _ := e.Data["was_offloaded"].(bool); off {
			line += " (offloaded)"
		}
		return line
	case controller.EventCompactionTriggered:
		return fmt.Sprintf("compact at %d tokens", controller.IntValue(e.Data["budget"]))
	case controller.EventCompacted:
		return fmt.Sprintf("compacted to %d tokens, transcript %v", controller.IntValue(e.Data["budget"]), e.Data["transcript"])
	case controller.EventComplete:
		return fmt.Sprintf("complete after %d turns", controller.IntValue(e.Data["turns"]))
	case controller.EventMaxTurns:
		return fmt.Sprintf("max turns (%d) reached", controller.IntValue(e.Data["turns"]))
	case controller.EventError:
		return errorStyle.Render(fmt.Sprintf("error   %v", e.Data["error"]))
	}
	return e.Event
}
