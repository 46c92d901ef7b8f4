package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aigateway/aigateway/internal/unified"
)

// Result is the cache_read/cache_creation/uncached token breakdown
// (spec §4.5, mirrors unified.Usage's cache fields).
type Result struct {
	ReadTokens     int
	CreationTokens int
	UncachedTokens int
}

// Accountant computes the prompt-cache token breakdown for Anthropic-style
// requests against an external key-value store (spec §4.5).
type Accountant struct {
	store redis.Cmdable
	tok   Tokenizer
	log   *zap.Logger
}

// New builds an Accountant. store may be nil, which behaves as if the store
// were permanently unavailable (fail-open on every call).
func New(store redis.Cmdable, tok Tokenizer, log *zap.Logger) *Accountant {
	return &Accountant{store: store, tok: tok, log: log}
}

func cacheKey(sessionID, hash string) string {
	return fmt.Sprintf("cache:%s:%s", sessionID, hash)
}

// Account runs the lookup/create algorithm in spec §4.5. It never returns an
// error: any key-value store failure degrades to the fail-open result
// {read:0, creation:0, uncached:total} per spec §4.5 "Fail-open" and §7
// "Errors inside … the prefix-cache accountant never propagate verbatim to
// clients".
func (a *Accountant) Account(ctx context.Context, req *unified.Request) Result {
	breakpoints, total, err := ComputeBreakpoints(req, a.tok)
	if err != nil {
		a.warn("compute breakpoints failed", err)
		return Result{UncachedTokens: total}
	}
	if len(breakpoints) == 0 || a.store == nil {
		return Result{UncachedTokens: total}
	}

	sessionID := SessionID(req.UserID)

	hitIdx := -1
	var storedValue int
	for i := len(breakpoints) - 1; i >= 0; i-- {
		key := cacheKey(sessionID, breakpoints[i].Hash)
		val, err := a.store.Get(ctx, key).Result()
		if err != nil {
			if err != redis.Nil {
				a.warn("cache lookup failed", err)
				return Result{UncachedTokens: total}
			}
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			continue
		}
		hitIdx = i
		storedValue = n
		break
	}

	result := Result{}
	if hitIdx >= 0 {
		result.ReadTokens = storedValue
		hitTTL := time.Duration(breakpoints[hitIdx].TTLSeconds) * time.Second
		if err := a.store.Expire(ctx, cacheKey(sessionID, breakpoints[hitIdx].Hash), hitTTL).Err(); err != nil {
			a.warn("cache TTL refresh failed", err)
			return Result{UncachedTokens: total}
		}

		prevTokens := breakpoints[hitIdx].CumulativeTokens
		for i := hitIdx + 1; i < len(breakpoints); i++ {
			bp := breakpoints[i]
			ttl := time.Duration(bp.TTLSeconds) * time.Second
			if err := a.store.Set(ctx, cacheKey(sessionID, bp.Hash), bp.CumulativeTokens, ttl).Err(); err != nil {
				a.warn("cache store failed", err)
				return Result{UncachedTokens: total}
			}
			result.CreationTokens += bp.CumulativeTokens - prevTokens
			prevTokens = bp.CumulativeTokens
		}
	} else {
		prevTokens := 0
		for _, bp := range breakpoints {
			ttl := time.Duration(bp.TTLSeconds) * time.Second
			if err := a.store.Set(ctx, cacheKey(sessionID, bp.Hash), bp.CumulativeTokens, ttl).Err(); err != nil {
				a.warn("cache store failed", err)
				return Result{UncachedTokens: total}
			}
			result.CreationTokens += bp.CumulativeTokens - prevTokens
			prevTokens = bp.CumulativeTokens
		}
	}

	result.UncachedTokens = total - result.ReadTokens - result.CreationTokens
	if result.UncachedTokens < 0 {
		result.UncachedTokens = 0
	}
	return result
}

func (a *Accountant) warn(msg string, err error) {
	if a.log != nil {
		a.log.Warn("prefix cache accountant degraded to fail-open", zap.String("reason", msg), zap.Error(err))
	}
}
