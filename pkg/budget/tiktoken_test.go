package budget

import (
	"testing"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/contextharness/pkg/domain"
)

func newOfflineTiktoken(t *testing.T) *TiktokenEstimator {
	t.Helper()
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	est, err := NewTiktokenEstimator("")
	require.NoError(t, err)
	return est
}

func TestTiktokenEstimate(t *testing.T) {
	est := newOfflineTiktoken(t)

	assert.Equal(t, 0, est.Estimate(""))
	assert.Equal(t, 2, est.Estimate("hello world"))
	assert.Greater(t, est.Estimate("hello world, this is a longer sentence"), 2)
}

func TestTiktokenTracker(t *testing.T) {
	b := NewWithEstimator(100, newOfflineTiktoken(t))

	assert.Equal(t, 2, b.Track(domain.RoleUser, "hello world"))
	assert.Equal(t, 2, b.Current())
	assert.Equal(t, 98, b.Remaining())
	assert.Equal(t, 0.02, b.Utilization())
}

func TestTiktokenUnknownEncoding(t *testing.T) {
	_, err := NewTiktokenEstimator("no_such_encoding")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading no_such_encoding encoding")
}
