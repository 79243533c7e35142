// Package skills indexes SKILL.md documents so the agent can see a cheap
// catalog up front and pull full skill text only when a task calls for it.
package skills

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the document each skill directory must contain.
const FileName = "SKILL.md"

const catalogHeader = "Available skills (load when relevant):"

var frontmatterRe = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---`)

// Skill is the indexed metadata of one skill.
type Skill struct {
	// ID is the skill's directory name.
	ID          string `yaml:"-"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Path        string `yaml:"-"`
}

// Index is a read-only skill collection built once from a directory.
type Index struct {
	dir    string
	skills []Skill
}

// Load builds an index from dir/*/SKILL.md in path order. A missing dir
// yields an empty index. Files without frontmatter are skipped.
func Load(dir string) (*Index, error) {
	idx := &Index{dir: dir}
	matches, err := filepath.Glob(filepath.Join(dir, "*", FileName))
	if err != nil {
		return nil, fmt.Errorf("listing skills: %w", err)
	}
	sort.Strings(matches)

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading skill %s: %w", path, err)
		}
		s, ok := parse(string(data))
		if !ok {
			slog.Debug("Skipping skill without frontmatter", "path", path)
			continue
		}
		s.ID = filepath.Base(filepath.Dir(path))
		s.Path = path
		idx.skills = append(idx.skills, s)
	}
	slog.Debug("Indexed skills", "dir", dir, "count", len(idx.skills))
	return idx, nil
}

// parse reads the frontmatter block. YAML is tried first; descriptions often
// contain bare colons, so invalid YAML falls back to "key: value" lines.
func parse(text string) (Skill, bool) {
	m := frontmatterRe.FindStringSubmatch(text)
	if m == nil {
		return Skill{}, false
	}
	var s Skill
	if err := yaml.Unmarshal([]byte(m[1]), &s); err == nil {
		return s, s.Name != "" || s.Description != "" || hasKeyLine(m[1])
	}

	found := false
	for _, line := range strings.Split(strings.TrimSpace(m[1]), "\n") {
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		found = true
		switch strings.TrimSpace(key) {
		case "name":
			s.Name = strings.TrimSpace(val)
		case "description":
			s.Description = strings.TrimSpace(val)
		}
	}
	return s, found
}

func hasKeyLine(block string) bool {
	for _, line := range strings.Split(block, "\n") {
		if strings.Contains(line, ":") {
			return true
		}
	}
	return false
}

// Skills returns the indexed skills in index order.
func (x *Index) Skills() []Skill {
	return append([]Skill(nil), x.skills...)
}

// Catalog returns the compact listing shown in every system prompt.
func (x *Index) Catalog() string {
	lines := []string{catalogHeader}
	for _, s := range x.skills {
		desc := s.Description
		if desc == "" {
			desc = "No description"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", s.ID, desc))
	}
	return strings.Join(lines, "\n")
}

// Match ranks skills by how many distinct lowercase words of query appear in
// their description. Only positive overlaps are returned, best first, ties in
// index order, at most topN.
func (x *Index) Match(query string, topN int) []string {
	queryWords := wordSet(query)

	type scored struct {
		id      string
		overlap int
	}
	var hits []scored
	for _, s := range x.skills {
		overlap := 0
		for w := range wordSet(s.Description) {
			if _, ok := queryWords[w]; ok {
				overlap++
			}
		}
		if overlap > 0 {
			hits = append(hits, scored{id: s.ID, overlap: overlap})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].overlap > hits[j].overlap })

	var ids []string
	for i := 0; i < len(hits) && i < topN; i++ {
		ids = append(ids, hits[i].id)
	}
	return ids
}

// Load returns the full SKILL.md text of the skill with the given id.
func (x *Index) Load(id string) (string, bool) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(x.dir, id, FileName))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to load skill", "id", id, "error", err)
		}
		return "", false
	}
	return string(data), true
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}
