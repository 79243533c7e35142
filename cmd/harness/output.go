package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nstogner/contextharness/pkg/budget"
	"github.com/nstogner/contextharness/pkg/controller"
	"github.com/nstogner/contextharness/pkg/domain"
)

// resultPreview is how much of the final answer is printed.
const resultPreview = 2000

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func field(label string, value any) string {
	return labelStyle.Render(fmt.Sprintf("%-15s", label+":")) + " " + fmt.Sprint(value)
}

func printHeader(w io.Writer, cfg config, root, skillsDir, modelName string) {
	task := cfg.Task
	if utf8.RuneCountInString(task) > 80 {
		task = string([]rune(task)[:80]) + "..."
	}
	task = strings.ReplaceAll(task, "\n", " ")

	fmt.Fprintln(w, titleStyle.Render("Context harness"))
	fmt.Fprintln(w, field("Workspace", root))
	fmt.Fprintln(w, field("Skills", skillsDir))
	fmt.Fprintln(w, field("Budget", fmt.Sprintf("%d tokens", cfg.Budget)))
	fmt.Fprintln(w, field("Model", modelName))
	fmt.Fprintln(w, field("Max turns", cfg.Turns))
	fmt.Fprintln(w, field("Task", task))
	fmt.Fprintln(w, dimStyle.Render(strings.Repeat("─", 60)))
}

// printResult renders the head of the final answer as markdown, falling back
// to plain text when rendering fails.
func printResult(w io.Writer, r *glamour.TermRenderer, res controller.Result, runErr error) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Result"))
	if runErr != nil {
		fmt.Fprintln(w, errorStyle.Render("Run failed: "+runErr.Error()))
		return
	}

	text := res.Text
	total := utf8.RuneCountInString(text)
	if total > resultPreview {
		text = string([]rune(text)[:resultPreview])
	}
	out := text
	if r != nil {
		if rendered, err := r.Render(text); err == nil {
			out = rendered
		}
	}
	fmt.Fprintln(w, strings.TrimRight(out, "\n"))
	if total > resultPreview {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("... (%d chars total)", total)))
	}
}

func printSummary(w io.Writer, stats controller.Stats, tracker *budget.Tracker, tracePath string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Trace summary"))
	fmt.Fprintln(w, field("Tool calls", stats.ToolCalls))
	fmt.Fprintln(w, field("Offloaded", fmt.Sprintf("%d observations masked to scratch/", stats.Offloads)))
	fmt.Fprintln(w, field("Skills loaded", stats.SkillsLoaded))
	fmt.Fprintln(w, field("Compactions", stats.Compactions))
	fmt.Fprintln(w, field("Final budget", fmt.Sprintf("%d/%d tokens", tracker.Current(), tracker.Capacity())))
	fmt.Fprintln(w, field("Utilization", fmt.Sprintf("%.0f%%", tracker.Utilization()*100)))
	fmt.Fprintln(w, field("Trace saved", tracePath))

	if breakdown := stats.Breakdown(); len(breakdown) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, labelStyle.Render("Tool usage breakdown:"))
		for _, tc := range breakdown {
			fmt.Fprintf(w, "  %s: %d\n", tc.Tool, tc.Calls)
		}
	}
}

func printHistory(w io.Writer, runs []domain.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No runs recorded."))
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			string(r.Status),
			fmt.Sprint(r.Turns),
			fmt.Sprint(r.ToolCalls),
			fmt.Sprintf("%d/%d", r.FinalTokens, r.Capacity),
			r.Model,
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "STARTED", "STATUS", "TURNS", "TOOLS", "TOKENS", "MODEL").
		Rows(rows...)
	fmt.Fprintln(w, t.String())
}

func newRenderer(width int) *glamour.TermRenderer {
	// A fixed standard style avoids terminal background queries.
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}
