package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/nstogner/contextharness/pkg/domain"
	"github.com/nstogner/contextharness/pkg/workspace"
)

// --- Read File Tool ---

type ReadFileTool struct {
	paths *Resolver
}

func (t *ReadFileTool) Name() string { return NameReadFile }

func (t *ReadFileTool) Description() string {
	return "Read a file's contents. Use when you need to examine a file. " +
		"Supports optional line range to read specific sections without " +
		"loading the entire file. Returns the file content as text."
}

func (t *ReadFileTool) Params() []domain.ToolParam {
	return []domain.ToolParam{
		{Name: "path", Type: "string", Description: "Absolute or workspace-relative file path", Required: true},
		{Name: "start_line", Type: "integer", Description: "First line to read (1-indexed). Omit for full file."},
		{Name: "end_line", Type: "integer", Description: "Last line to read (inclusive). Omit for full file."},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	raw, err := stringArg(input, "path", true)
	if err != nil {
		return "", err
	}
	start, _, err := intArg(input, "start_line")
	if err != nil {
		return "", err
	}
	end, _, err := intArg(input, "end_line")
	if err != nil {
		return "", err
	}

	path, err := t.paths.Resolve(raw)
	if err != nil {
		return "", err
	}

	slog.Debug("Reading file", "path", path, "start", start, "end", end)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	text := string(data)

	// Zero means "not given" for either bound.
	if start <= 0 && end <= 0 {
		return text, nil
	}
	lines := splitLines(text)
	s := max(start, 1) - 1
	e := len(lines)
	if end > 0 {
		e = end
	}
	s = min(s, len(lines))
	e = min(max(e, s), len(lines))
	return strings.Join(lines[s:e], "\n"), nil
}

// splitLines splits on newlines without producing a trailing empty line.
func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// --- Write File Tool ---

type WriteFileTool struct {
	paths *Resolver
}

func (t *WriteFileTool) Name() string { return NameWriteFile }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace. Creates parent " +
		"directories if needed. Use for saving plans, notes, analysis " +
		"results, or any persistent output."
}

func (t *WriteFileTool) Params() []domain.ToolParam {
	return []domain.ToolParam{
		{Name: "path", Type: "string", Description: "Workspace-relative file path to write", Required: true},
		{Name: "content", Type: "string", Description: "Content to write to the file", Required: true},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	raw, err := stringArg(input, "path", true)
	if err != nil {
		return "", err
	}
	if _, ok := input["content"]; !ok {
		return "", fmt.Errorf("%w: 'content' is required", ErrInvalidArgument)
	}
	content, err := stringArg(input, "content", false)
	if err != nil {
		return "", err
	}

	path, err := t.paths.ResolveWrite(raw)
	if err != nil {
		return "", err
	}

	slog.Debug("Writing file", "path", path, "size", len(content))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("Written %d chars to %s", utf8.RuneCountInString(content), workspace.Rel(t.paths.Root(), path)), nil
}
