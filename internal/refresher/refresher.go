// Package refresher performs single-flight background refresh of OAuth
// access tokens for credentials in the pool (spec.md §4.3).
package refresher

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/aigateway/aigateway/internal/credential"
)

// Refreshed is what a provider-specific refresh function returns.
type Refreshed struct {
	AccessToken string
	ExpiresAt   time.Time
}

// RefreshFunc performs the provider-specific OAuth refresh HTTP call for one
// credential's refresh token.
type RefreshFunc func(ctx context.Context, c *credential.Credential) (Refreshed, error)

// Refresher coordinates refreshes across every credential, collapsing
// concurrent refresh requests for the same credential into one in-flight
// call (§4.3 "no duplicate refreshes").
type Refresher struct {
	pool    *credential.Manager
	refresh map[credential.Kind]RefreshFunc
	skew    time.Duration
	group   singleflight.Group
	log     *zap.Logger
}

// New builds a Refresher. skew is the near-expiry window (§4.3 isExpiryNear).
func New(pool *credential.Manager, skew time.Duration, log *zap.Logger) *Refresher {
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Refresher{
		pool:    pool,
		refresh: make(map[credential.Kind]RefreshFunc),
		skew:    skew,
		log:     log,
	}
}

// Register installs the refresh implementation for a provider kind.
func (r *Refresher) Register(kind credential.Kind, fn RefreshFunc) {
	r.refresh[kind] = fn
}

// IsExpiryNear reports whether c's TokenExpiry is within the configured skew
// of now (§4.3). Only TokenExpiry is consulted; a credential with a zero
// TokenExpiry is never near expiry.
func (r *Refresher) IsExpiryNear(c *credential.Credential) bool {
	if c.TokenExpiry.IsZero() {
		return false
	}
	return time.Now().Add(r.skew).After(c.TokenExpiry)
}

// Refresh refreshes c's access token if it is near expiry, joining an
// already-in-flight refresh for the same credential if one exists.
func (r *Refresher) Refresh(ctx context.Context, c *credential.Credential) error {
	if !r.IsExpiryNear(c) {
		return nil
	}
	return r.doRefresh(ctx, c)
}

// ForceRefresh refreshes c's access token unconditionally.
func (r *Refresher) ForceRefresh(ctx context.Context, c *credential.Credential) error {
	return r.doRefresh(ctx, c)
}

func (r *Refresher) doRefresh(ctx context.Context, c *credential.Credential) error {
	fn, ok := r.refresh[c.Kind]
	if !ok {
		return nil
	}

	_, err, _ := r.group.Do(c.ID, func() (interface{}, error) {
		result, err := fn(ctx, c)
		if err != nil {
			r.pool.RecordFailure(c, false)
			return nil, err
		}
		c.AccessToken = result.AccessToken
		c.TokenExpiry = result.ExpiresAt
		return nil, nil
	})
	return err
}

// Scheduler periodically sweeps every credential whose expiry is near and
// refreshes them serially per provider kind to avoid upstream rate-limiting
// storms (§4.3 "Scheduling"), pacing calls with a token-bucket limiter.
type Scheduler struct {
	refresher *Refresher
	period    time.Duration
	limiter   *rate.Limiter
	log       *zap.Logger
}

// NewScheduler builds a Scheduler. period defaults to 15 minutes; callsPerSec
// bounds the refresh-call rate of the whole sweep, through one limiter shared
// by every provider kind.
func NewScheduler(r *Refresher, period time.Duration, callsPerSec rate.Limit, log *zap.Logger) *Scheduler {
	if period <= 0 {
		period = 15 * time.Minute
	}
	if callsPerSec <= 0 {
		callsPerSec = 2
	}
	return &Scheduler{
		refresher: r,
		period:    period,
		limiter:   rate.NewLimiter(callsPerSec, 1),
		log:       log,
	}
}

// Run blocks, ticking every period, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, pool *credential.Manager) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, pool)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context, pool *credential.Manager) {
	for _, kind := range pool.AllKinds() {
		for _, c := range pool.Snapshot(kind) {
			if !s.refresher.IsExpiryNear(c) {
				continue
			}
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if err := s.refresher.Refresh(ctx, c); err != nil && s.log != nil {
				s.log.Warn("scheduled token refresh failed",
					zap.String("credential_id", c.ID), zap.String("kind", string(kind)), zap.Error(err))
			}
		}
	}
}
