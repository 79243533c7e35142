package controller

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/contextharness/pkg/domain"
)

// staticInstructions opens every system prompt.
var staticInstructions = []string{
	"You are a context-aware agent. Your workspace is a filesystem.",
	"Write plans to plans/current.md. Write analysis to scratch/.",
	"Be thorough but concise. Prefer reading specific file sections over full files.",
	"",
}

// SkillIndex is the skill catalog the prompt is built from.
type SkillIndex interface {
	// Catalog returns one line per available skill.
	Catalog() string
	// Match returns skill IDs ranked by relevance to the task.
	Match(task string, topN int) []string
	// Load returns the full text of a skill.
	Load(id string) (string, bool)
}

// buildSystemPrompt assembles the fixed system prompt for a run: static
// instructions, the skill catalog, the best matching skills in full (each cut
// to SkillLines lines) and the remaining budget.
func (c *Controller) buildSystemPrompt(task string) string {
	parts := append([]string(nil), staticInstructions...)

	if c.skills != nil {
		parts = append(parts, c.skills.Catalog(), "")

		for _, id := range c.skills.Match(task, c.cfg.SkillMatches) {
			content, ok := c.skills.Load(id)
			if !ok || content == "" {
				continue
			}
			lines := strings.Split(strings.TrimSuffix(strings.ReplaceAll(content, "\r\n", "\n"), "\n"), "\n")
			if len(lines) > c.cfg.SkillLines {
				lines = lines[:c.cfg.SkillLines]
			}
			body := strings.Join(lines, "\n")
			parts = append(parts, "## Loaded Skill: "+id, body, "")

			tokens := c.budget.Estimate(body)
			slog.Debug("Loaded skill", "skill", id, "lines", len(lines), "tokens", tokens)
			c.trace.Log(EventSkillLoaded, map[string]any{
				"skill":  id,
				"lines":  len(lines),
				"tokens": tokens,
			})
		}
	}

	parts = append(parts, fmt.Sprintf("\nContext budget: %d tokens remaining. Be efficient with tool calls.", c.budget.Remaining()))
	return strings.Join(parts, "\n")
}

// initialMessage is the task, followed by the persisted plan when one exists.
func initialMessage(task, plan string) domain.Message {
	text := task
	if plan != "" {
		text += "\n\n[Existing plan loaded from filesystem:]\n" + plan
	}
	return domain.Message{Role: domain.RoleUser, Content: []domain.Content{domain.TextContent(text)}}
}
