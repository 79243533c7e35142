// Package jsonl implements store.RunStore on plain files: an index.json of
// run records and one append-only <run id>.jsonl event log per run.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nstogner/contextharness/pkg/domain"
	"github.com/nstogner/contextharness/pkg/store"
)

const (
	indexFile = "index.json"

	// maxLine bounds a single encoded event.
	maxLine = 4 << 20
)

// Store implements store.RunStore using JSON and JSONL files under a
// directory. It is safe for concurrent use within one process.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// Verify interface compliance.
var _ store.RunStore = (*Store)(nil)

// New creates dir if needed and returns a store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op; every operation opens and closes its own files.
func (s *Store) Close() error { return nil }

// index is the on-disk shape of index.json. Runs are kept in creation order.
type index struct {
	Runs []domain.RunRecord `json:"runs"`
}

func (s *Store) readIndex() ([]domain.RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	return idx.Runs, nil
}

// writeIndex replaces index.json through a rename so readers never see a
// partial file.
func (s *Store) writeIndex(runs []domain.RunRecord) error {
	data, err := json.MarshalIndent(index{Runs: runs}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	tmp := filepath.Join(s.dir, indexFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, indexFile)); err != nil {
		return fmt.Errorf("replacing index: %w", err)
	}
	return nil
}

func (s *Store) eventsPath(runID string) (string, error) {
	if runID == "" || runID != filepath.Base(runID) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(s.dir, runID+".jsonl"), nil
}

func find(runs []domain.RunRecord, id string) int {
	return slices.IndexFunc(runs, func(r domain.RunRecord) bool { return r.ID == id })
}

func (s *Store) CreateRun(_ context.Context, run *domain.RunRecord) error {
	if _, err := s.eventsPath(run.ID); err != nil {
		return err
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := s.readIndex()
	if err != nil {
		return err
	}
	if find(runs, run.ID) >= 0 {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	return s.writeIndex(append(runs, *run))
}

func (s *Store) FinishRun(_ context.Context, run *domain.RunRecord) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := s.readIndex()
	if err != nil {
		return err
	}
	i := find(runs, run.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, run.ID)
	}
	r := &runs[i]
	r.Status = run.Status
	r.Turns = run.Turns
	r.ToolCalls = run.ToolCalls
	r.Offloads = run.Offloads
	r.Compactions = run.Compactions
	r.FinalTokens = run.FinalTokens
	r.Result = run.Result
	r.Error = run.Error
	r.FinishedAt = run.FinishedAt
	return s.writeIndex(runs)
}

func (s *Store) GetRun(_ context.Context, id string) (*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	i := find(runs, id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return &runs[i], nil
}

func (s *Store) ListRuns(_ context.Context, limit int) ([]domain.RunRecord, error) {
	s.mu.RLock()
	runs, err := s.readIndex()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	// Newest first; among equal start times the later-created run wins.
	slices.Reverse(runs)
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) AppendEvent(_ context.Context, runID string, event domain.TraceEvent) error {
	path, err := s.eventsPath(runID)
	if err != nil {
		return err
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(_ context.Context, runID string) ([]domain.TraceEvent, error) {
	path, err := s.eventsPath(runID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	var events []domain.TraceEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e domain.TraceEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decoding event %d: %w", len(events)+1, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}
	return events, nil
}
