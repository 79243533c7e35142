package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/contextharness/pkg/domain"
)

func TestInitialState(t *testing.T) {
	b := New(DefaultCapacity)
	assert.Equal(t, 0, b.Current())
	assert.Equal(t, 0.0, b.Utilization())
	assert.False(t, b.NeedsCompaction())
	assert.Equal(t, DefaultCapacity, b.Remaining())
}

func TestEstimate(t *testing.T) {
	var e CharEstimator
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 0},
		{"abcd", 1},
		{"Hello world", 2},
		{strings.Repeat("x", 3600), 900},
		{"héllo wörld", 2}, // counted in characters, not bytes
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Estimate(tt.text), "%q", tt.text)
	}
}

func TestEstimateMonotonic(t *testing.T) {
	var e CharEstimator
	prev := 0
	for n := 0; n <= 64; n++ {
		got := e.Estimate(strings.Repeat("y", n))
		require.GreaterOrEqual(t, got, prev, "length %d", n)
		prev = got
	}
}

func TestTrack(t *testing.T) {
	b := New(DefaultCapacity)
	tokens := b.Track(domain.RoleUser, "Hello world, this is a message")
	assert.Greater(t, tokens, 0)
	assert.Equal(t, tokens, b.Current())

	more := b.Track(domain.RoleAssistant, strings.Repeat("z", 40))
	assert.Equal(t, 10, more)

	hist := b.History()
	require.Len(t, hist, 2)
	assert.Equal(t, Entry{Role: domain.RoleUser, Tokens: tokens, Total: tokens}, hist[0])
	assert.Equal(t, Entry{Role: domain.RoleAssistant, Tokens: 10, Total: tokens + 10}, hist[1])
}

func TestCompactionTrigger(t *testing.T) {
	b := New(1000)
	b.Track(domain.RoleUser, strings.Repeat("x", 3600))
	assert.Equal(t, 900, b.Current())
	assert.InDelta(t, 0.9, b.Utilization(), 1e-9)
	assert.True(t, b.NeedsCompaction())
}

func TestCompactionBoundary(t *testing.T) {
	b := New(1000)
	b.Track(domain.RoleUser, strings.Repeat("x", 3200)) // exactly 80%
	assert.False(t, b.NeedsCompaction())
	b.Track(domain.RoleUser, "xxxx")
	assert.True(t, b.NeedsCompaction())

	b.Reset(0)
	assert.False(t, b.NeedsCompaction())
}

func TestNoCompactionUnderThreshold(t *testing.T) {
	b := New(1000)
	b.Track(domain.RoleUser, strings.Repeat("x", 2000))
	assert.False(t, b.NeedsCompaction())
	assert.Equal(t, 500, b.Remaining())
}

func TestReset(t *testing.T) {
	b := New(DefaultCapacity)
	b.Track(domain.RoleUser, strings.Repeat("x", 40000))
	b.Reset(100)
	assert.Equal(t, 100, b.Current())
	assert.Empty(t, b.History())
}

func TestRemainingNeverNegative(t *testing.T) {
	b := New(100)
	b.Track(domain.RoleUser, strings.Repeat("x", 10000))
	assert.Equal(t, 2500, b.Current())
	assert.Equal(t, 0, b.Remaining())
}

func TestZeroCapacity(t *testing.T) {
	b := New(0)
	b.Track(domain.RoleUser, strings.Repeat("x", 400))
	assert.Equal(t, 0.0, b.Utilization())
	assert.False(t, b.NeedsCompaction())
	assert.Equal(t, 0, b.Remaining())
}

func TestInvariantsAfterTracking(t *testing.T) {
	b := New(300)
	for i, n := range []int{0, 17, 400, 3, 900, 1} {
		b.Track(domain.RoleTool, strings.Repeat("q", n))
		assert.Equal(t, max(0, 300-b.Current()), b.Remaining(), "step %d", i)
		assert.InDelta(t, float64(b.Current())/300, b.Utilization(), 1e-9, "step %d", i)
	}
}

type fixedEstimator int

func (f fixedEstimator) Estimate(string) int { return int(f) }

func TestCustomEstimator(t *testing.T) {
	b := NewWithEstimator(10, fixedEstimator(3))
	b.Track(domain.RoleUser, "anything")
	b.Track(domain.RoleUser, "")
	b.Track(domain.RoleUser, "x")
	assert.Equal(t, 9, b.Current())
	assert.True(t, b.NeedsCompaction())
	assert.Equal(t, 3, b.Estimate("ignored"))
}
