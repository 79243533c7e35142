package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/nstogner/contextharness/pkg/domain"
)

// NoMatches is returned by search_files when nothing matched.
const NoMatches = "(no matches)"

// SearchFilesTool runs a recursive grep bounded by a timeout.
type SearchFilesTool struct {
	paths   *Resolver
	timeout time.Duration
}

func (t *SearchFilesTool) Name() string { return NameSearchFiles }

func (t *SearchFilesTool) Description() string {
	return "Search for a pattern across files. Returns matching lines with " +
		"file paths and line numbers. Use for finding specific content, " +
		"understanding code structure, or locating relevant files. " +
		"Searches workspace by default; set path to search elsewhere."
}

func (t *SearchFilesTool) Params() []domain.ToolParam {
	return []domain.ToolParam{
		{Name: "pattern", Type: "string", Description: "Regex pattern to search for", Required: true},
		{Name: "path", Type: "string", Description: "Directory to search. Defaults to workspace root."},
		{Name: "glob", Type: "string", Description: "File glob filter, e.g. '*.md' or '**/*.py'"},
	}
}

func (t *SearchFilesTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	pattern, err := stringArg(input, "pattern", true)
	if err != nil {
		return "", err
	}
	raw, err := stringArg(input, "path", false)
	if err != nil {
		return "", err
	}
	glob, err := stringArg(input, "glob", false)
	if err != nil {
		return "", err
	}
	if raw == "" {
		raw = t.paths.Root()
	}

	path, err := t.paths.Resolve(raw)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("failed to stat search path: %w", err)
	}

	args := []string{"-r", "-n", "-E"}
	if glob != "" {
		// grep matches --include against base names only.
		args = append(args, "--include="+strings.TrimPrefix(glob, "**/"))
	}
	args = append(args, "-e", pattern, path)

	timeoutCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	slog.Debug("Searching files", "pattern", pattern, "path", path, "glob", glob)
	cmd := exec.CommandContext(timeoutCtx, "grep", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w after %s", ErrTimeout, t.timeout)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return "", fmt.Errorf("failed to run search: %w", runErr)
		}
		// Exit status 1 means no lines matched. Status 2 with output means
		// some files could not be read; the matches are still useful.
		if exitErr.ExitCode() == 1 {
			return NoMatches, nil
		}
		if stdout.Len() == 0 {
			return "", fmt.Errorf("search failed: %s", strings.TrimSpace(stderr.String()))
		}
	}
	if stdout.Len() == 0 {
		return NoMatches, nil
	}
	return stdout.String(), nil
}
