// Package budget tracks estimated context consumption against a fixed
// capacity and decides when the conversation must be compacted.
package budget

import (
	"unicode/utf8"

	"github.com/nstogner/contextharness/pkg/domain"
)

const (
	// DefaultCapacity is the effective reliable context size in tokens,
	// regardless of a model's advertised window.
	DefaultCapacity = 25_000

	// CompactionThreshold is the utilization above which compaction is required.
	CompactionThreshold = 0.8
)

// Estimator converts text into token-equivalent units.
type Estimator interface {
	Estimate(text string) int
}

// CharEstimator estimates one unit per four characters, truncating.
type CharEstimator struct{}

// Estimate returns the number of characters in text divided by four.
func (CharEstimator) Estimate(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// Entry is one tracked addition.
type Entry struct {
	Role   domain.Role `json:"role"`
	Tokens int         `json:"tokens"`
	Total  int         `json:"total"`
}

// Tracker is a running consumption counter for a single agent run. It is not
// safe for concurrent use.
type Tracker struct {
	capacity  int
	current   int
	history   []Entry
	estimator Estimator
}

// New returns a Tracker with the given capacity and the character estimator.
func New(capacity int) *Tracker {
	return NewWithEstimator(capacity, CharEstimator{})
}

// NewWithEstimator returns a Tracker that estimates with est.
func NewWithEstimator(capacity int, est Estimator) *Tracker {
	if est == nil {
		est = CharEstimator{}
	}
	return &Tracker{capacity: capacity, estimator: est}
}

// Estimate returns the cost of text without tracking it.
func (t *Tracker) Estimate(text string) int {
	return t.estimator.Estimate(text)
}

// Track adds the estimated cost of text to consumption, logs it under role
// and returns the amount added.
func (t *Tracker) Track(role domain.Role, text string) int {
	tokens := t.estimator.Estimate(text)
	t.current += tokens
	t.history = append(t.history, Entry{Role: role, Tokens: tokens, Total: t.current})
	return tokens
}

// Reset sets consumption to baseline and clears the log.
func (t *Tracker) Reset(baseline int) {
	t.current = baseline
	t.history = nil
}

// Capacity returns the fixed capacity.
func (t *Tracker) Capacity() int { return t.capacity }

// Current returns the running consumption.
func (t *Tracker) Current() int { return t.current }

// History returns a copy of the tracking log.
func (t *Tracker) History() []Entry {
	out := make([]Entry, len(t.history))
	copy(out, t.history)
	return out
}

// Remaining returns the unconsumed capacity, never below zero.
func (t *Tracker) Remaining() int {
	return max(0, t.capacity-t.current)
}

// Utilization returns consumption over capacity, or 0 for a zero capacity.
func (t *Tracker) Utilization() float64 {
	if t.capacity <= 0 {
		return 0
	}
	return float64(t.current) / float64(t.capacity)
}

// NeedsCompaction reports whether utilization exceeds CompactionThreshold.
func (t *Tracker) NeedsCompaction() bool {
	return t.Utilization() > CompactionThreshold
}
