package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigateway/aigateway/internal/unified"
)

func reqWithPrefix(tail string) *unified.Request {
	return &unified.Request{
		Model: "claude-opus",
		Messages: []unified.Message{
			{
				Role: unified.RoleUser,
				Content: []unified.Block{
					{Kind: unified.KindText, Text: "prefix", CacheControl: &unified.CacheControl{TTL: unified.CacheTTL5m}},
					{Kind: unified.KindText, Text: tail},
				},
			},
		},
	}
}

func TestPrefixIndependence(t *testing.T) {
	bpA, _, err := ComputeBreakpoints(reqWithPrefix("tail-A"), nil)
	require.NoError(t, err)
	bpB, _, err := ComputeBreakpoints(reqWithPrefix("tail-B-different"), nil)
	require.NoError(t, err)

	require.Len(t, bpA, 1)
	require.Len(t, bpB, 1)
	assert.Equal(t, bpA[0].Hash, bpB[0].Hash)
	assert.Equal(t, bpA[0].CumulativeTokens, bpB[0].CumulativeTokens)
}

func TestBreakpointsCountsUncachedSuffixInTotal(t *testing.T) {
	_, total, err := ComputeBreakpoints(reqWithPrefix("a longer uncached tail"), nil)
	require.NoError(t, err)
	assert.Greater(t, total, 0)
}

func TestBillingSentinelSkipped(t *testing.T) {
	req := &unified.Request{
		System: []unified.Block{
			{Kind: unified.KindText, Text: billingSentinelPrefix + "internal-only"},
			{Kind: unified.KindText, Text: "real system prompt", CacheControl: &unified.CacheControl{TTL: unified.CacheTTL5m}},
		},
	}
	withSentinel, _, err := ComputeBreakpoints(req, nil)
	require.NoError(t, err)

	reqNoSentinel := &unified.Request{
		System: []unified.Block{
			{Kind: unified.KindText, Text: "real system prompt", CacheControl: &unified.CacheControl{TTL: unified.CacheTTL5m}},
		},
	}
	withoutSentinel, _, err := ComputeBreakpoints(reqNoSentinel, nil)
	require.NoError(t, err)

	require.Len(t, withSentinel, 1)
	require.Len(t, withoutSentinel, 1)
	assert.Equal(t, withoutSentinel[0].Hash, withSentinel[0].Hash)
}

func TestTTLSecondsFromCacheControl(t *testing.T) {
	assert.Equal(t, 3600, ttlSeconds(unified.CacheTTL1h))
	assert.Equal(t, 300, ttlSeconds(unified.CacheTTL5m))
}

func TestSessionIDExtractsEmbeddedUUID(t *testing.T) {
	got := SessionID("abc_session_123e4567-e89b-12d3-a456-426614174000")
	assert.Equal(t, "123e4567-e89b-12d3-a456-426614174000", got)
}

func TestSessionIDFallsBackToSHA256(t *testing.T) {
	got := SessionID("plain-user-id")
	assert.Len(t, got, 64)
}
