// Package workspace manages the directory tree that holds an agent's durable
// state: scratch outputs, the current plan, memory, and sub-agent trees.
//
// Layout:
//
//	<root>/
//		scratch/        offloaded tool output and compacted transcripts
//		plans/          plans/current.md
//		memory/         cross-run state
//		agents/<name>/  sub-agent workspaces with the same layout
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

const (
	ScratchDir = "scratch"
	PlansDir   = "plans"
	MemoryDir  = "memory"
	AgentsDir  = "agents"

	planFile = "current.md"
)

var unsafeLabelChars = regexp.MustCompile(`[^a-z0-9_-]`)

// Workspace is a filesystem-rooted store. Instances share nothing; a child
// workspace is an independent Workspace rooted under agents/<name>.
type Workspace struct {
	root    string
	counter atomic.Uint64
	now     func() time.Time
}

// New creates the workspace layout under root (if absent) and returns it.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	w := &Workspace{root: abs, now: time.Now}
	if err := w.Ensure(); err != nil {
		return nil, err
	}
	return w, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// Ensure creates the fixed subdirectories. It is idempotent.
func (w *Workspace) Ensure() error {
	for _, d := range []string{ScratchDir, PlansDir, MemoryDir} {
		if err := os.MkdirAll(filepath.Join(w.root, d), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}

// ScratchPath returns a fresh path under scratch/ named after label. The
// name carries a millisecond timestamp and a per-workspace counter, so two
// calls never return the same path.
func (w *Workspace) ScratchPath(label string) string {
	n := w.counter.Add(1)
	return filepath.Join(w.root, ScratchDir, fmt.Sprintf("%s_%d_%d.txt", SanitizeLabel(label), w.now().UnixMilli(), n))
}

// WriteScratch writes content to a new scratch file and returns its path. An
// existing file is never overwritten; a name taken by another Workspace over
// the same root is skipped.
func (w *Workspace) WriteScratch(label, content string) (string, error) {
	for {
		p := w.ScratchPath(label)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating scratch file: %w", err)
		}
		_, err = f.WriteString(content)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", fmt.Errorf("writing scratch file: %w", err)
		}
		return p, nil
	}
}

// SanitizeLabel lowercases label and replaces every character outside
// [a-z0-9_-] with an underscore.
func SanitizeLabel(label string) string {
	return unsafeLabelChars.ReplaceAllString(strings.ToLower(label), "_")
}

// PlanPath returns the fixed location of the current plan.
func (w *Workspace) PlanPath() string {
	return filepath.Join(w.root, PlansDir, planFile)
}

// ReadPlan returns the current plan. ok is false when no plan has been written.
func (w *Workspace) ReadPlan() (plan string, ok bool, err error) {
	b, err := os.ReadFile(w.PlanPath())
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading plan: %w", err)
	}
	return string(b), true, nil
}

// WritePlan replaces the current plan with content and returns its path.
func (w *Workspace) WritePlan(content string) (string, error) {
	p := w.PlanPath()
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing plan: %w", err)
	}
	return p, nil
}

// MemoryPath returns a path under memory/.
func (w *Workspace) MemoryPath(name string) string {
	return filepath.Join(w.root, MemoryDir, name)
}

// Child returns an independently initialized workspace rooted at
// <root>/agents/<name>.
func (w *Workspace) Child(name string) (*Workspace, error) {
	clean := SanitizeLabel(name)
	if clean == "" || strings.Trim(clean, "_") == "" {
		return nil, fmt.Errorf("invalid agent name %q", name)
	}
	return New(filepath.Join(w.root, AgentsDir, clean))
}

// Rel returns path relative to the workspace root, or path unchanged if it is
// not under the root.
func (w *Workspace) Rel(path string) string {
	return Rel(w.root, path)
}

// Rel returns path relative to root, or path unchanged if it is not under
// root.
func Rel(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}
