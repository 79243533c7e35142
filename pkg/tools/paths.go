package tools

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Resolver turns tool path arguments into absolute, canonical paths and
// enforces the read allow-list and the write confinement.
type Resolver struct {
	root    string
	allowed []string
}

// NewResolver canonicalizes root and every allowed directory.
func NewResolver(root string, allowed []string) (*Resolver, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	r := &Resolver{}
	var err error
	if r.root, err = canonical(root); err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	for _, a := range allowed {
		c, err := canonical(a)
		if err != nil {
			return nil, fmt.Errorf("resolving allowed path %q: %w", a, err)
		}
		r.allowed = append(r.allowed, c)
	}
	return r, nil
}

// Root returns the canonical workspace root.
func (r *Resolver) Root() string { return r.root }

// Resolve resolves raw for reading: relative paths join the workspace root,
// absolute paths are used as-is, and the result must sit inside an allowed
// directory when an allow-list is configured.
func (r *Resolver) Resolve(raw string) (string, error) {
	p, err := r.abs(raw)
	if err != nil {
		return "", err
	}
	if len(r.allowed) == 0 {
		return p, nil
	}
	for _, a := range r.allowed {
		if within(a, p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: path %s not in allowed paths", ErrPermissionDenied, p)
}

// ResolveWrite resolves raw for writing. The result must be inside the
// workspace root regardless of the allow-list.
func (r *Resolver) ResolveWrite(raw string) (string, error) {
	p, err := r.abs(raw)
	if err != nil {
		return "", err
	}
	if !within(r.root, p) || p == r.root {
		return "", fmt.Errorf("%w: path %s is outside the workspace", ErrPermissionDenied, raw)
	}
	return p, nil
}

func (r *Resolver) abs(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidArgument)
	}
	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.root, p)
	}
	return canonical(p)
}

// canonical makes p absolute and resolves symlinks in its longest existing
// prefix, so paths that do not exist yet still canonicalize.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			rel, err := filepath.Rel(current, abs)
			if err != nil {
				return "", err
			}
			return filepath.Clean(filepath.Join(resolved, rel)), nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Clean(abs), nil
		}
		current = parent
	}
}

// within reports whether candidate is root or nested under it.
func within(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
