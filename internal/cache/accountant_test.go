package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aigateway/aigateway/internal/unified"
)

func newTestStore(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func twoBreakpointRequest() *unified.Request {
	return &unified.Request{
		UserID: "caller_session_123e4567-e89b-12d3-a456-426614174000",
		Messages: []unified.Message{
			{
				Role: unified.RoleUser,
				Content: []unified.Block{
					{Kind: unified.KindText, Text: "first chunk", CacheControl: &unified.CacheControl{TTL: unified.CacheTTL5m}},
					{Kind: unified.KindText, Text: "second chunk", CacheControl: &unified.CacheControl{TTL: unified.CacheTTL5m}},
					{Kind: unified.KindText, Text: "uncached tail"},
				},
			},
		},
	}
}

func TestAccountCacheMissThenHit(t *testing.T) {
	store := newTestStore(t)
	a := New(store, nil, nil)
	ctx := context.Background()

	first := a.Account(ctx, twoBreakpointRequest())
	require.Equal(t, 0, first.ReadTokens)
	require.Greater(t, first.CreationTokens, 0)

	second := a.Account(ctx, twoBreakpointRequest())
	require.Greater(t, second.ReadTokens, 0)
	require.Equal(t, 0, second.CreationTokens)
}

func TestAccountFailsOpenWhenStoreUnavailable(t *testing.T) {
	store := newTestStore(t)
	a := New(store, nil, nil)
	ctx := context.Background()

	req := twoBreakpointRequest()
	_, total, err := ComputeBreakpoints(req, nil)
	require.NoError(t, err)

	store.Close()
	result := a.Account(ctx, req)
	require.Equal(t, 0, result.ReadTokens)
	require.Equal(t, 0, result.CreationTokens)
	require.Equal(t, total, result.UncachedTokens)
}

func TestAccountNoBreakpointsReturnsAllUncached(t *testing.T) {
	store := newTestStore(t)
	a := New(store, nil, nil)
	req := &unified.Request{Messages: []unified.Message{
		{Role: unified.RoleUser, Content: []unified.Block{{Kind: unified.KindText, Text: "no cache control here"}}},
	}}

	result := a.Account(context.Background(), req)
	require.Equal(t, 0, result.ReadTokens)
	require.Equal(t, 0, result.CreationTokens)
	require.Greater(t, result.UncachedTokens, 0)
}
