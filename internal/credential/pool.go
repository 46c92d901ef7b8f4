package credential

import (
	"sync"
	"time"

	"github.com/aigateway/aigateway/internal/gatewayerr"
)

// FallbackRule names an alternate provider kind (and, optionally, a model
// rewrite) to try when a provider kind's pool is empty (§4.2 "fallback chain").
type FallbackRule struct {
	ProviderKind Kind
	ModelRewrite func(model string) string
}

// SelectOptions mirrors the selection-contract inputs in §4.2.
type SelectOptions struct {
	SkipUsageCount bool
	AcquireSlot    bool
}

// Selection is the result of a successful Select call.
type Selection struct {
	Credential     *Credential
	ActualProvider Kind
	ActualModel    string
	IsFallback     bool
}

// Manager owns every credential across every provider kind, plus the
// fallback chains between kinds. Mutations are serialised per provider kind
// via a fair mutex (§4.2 "Concurrency discipline"); readers of a snapshot
// never block writers since Select only ever holds the lock for the
// selection+update itself, never across an upstream call.
type Manager struct {
	locksMu sync.Mutex
	locks   map[Kind]*sync.Mutex

	mu          sync.RWMutex
	byKind      map[Kind][]*Credential
	fallbacks   map[Kind][]FallbackRule
	errorThresh int
	tokenSkew   time.Duration
}

// NewManager creates an empty pool. errorThreshold is the consecutive
// non-fatal error count at which a credential is quarantined (§4.2 "Health").
func NewManager(errorThreshold int) *Manager {
	if errorThreshold <= 0 {
		errorThreshold = 3
	}
	return &Manager{
		locks:       make(map[Kind]*sync.Mutex),
		byKind:      make(map[Kind][]*Credential),
		fallbacks:   make(map[Kind][]FallbackRule),
		errorThresh: errorThreshold,
		tokenSkew:   2 * time.Minute,
	}
}

// SetTokenSkew configures the grace window used by the token-expiry
// eligibility check (§4.2), so it can be kept in lockstep with the
// refresher's own near-expiry skew (refresher.New's skew argument).
func (m *Manager) SetTokenSkew(skew time.Duration) {
	if skew <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenSkew = skew
}

func (m *Manager) lockFor(kind Kind) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[kind]
	if !ok {
		l = &sync.Mutex{}
		m.locks[kind] = l
	}
	return l
}

// Add registers a credential in the pool.
func (m *Manager) Add(c *Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKind[c.Kind] = append(m.byKind[c.Kind], c)
}

// SetFallbacks installs the ordered fallback chain for a provider kind.
func (m *Manager) SetFallbacks(kind Kind, rules []FallbackRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks[kind] = rules
}

// Select implements the §4.2 selection contract: filter ineligible
// credentials, pick least-recently-used, and fall back across provider kinds
// on an empty pool.
func (m *Manager) Select(kind Kind, model string, opts SelectOptions) (*Selection, error) {
	lock := m.lockFor(kind)
	lock.Lock()
	defer lock.Unlock()

	if c := m.pickLRU(kind, model, opts); c != nil {
		return &Selection{Credential: c, ActualProvider: kind, ActualModel: model}, nil
	}

	m.mu.RLock()
	rules := append([]FallbackRule(nil), m.fallbacks[kind]...)
	m.mu.RUnlock()

	for _, rule := range rules {
		altModel := model
		if rule.ModelRewrite != nil {
			altModel = rule.ModelRewrite(model)
		}
		altLock := m.lockFor(rule.ProviderKind)
		altLock.Lock()
		c := m.pickLRU(rule.ProviderKind, altModel, opts)
		altLock.Unlock()
		if c != nil {
			return &Selection{Credential: c, ActualProvider: rule.ProviderKind, ActualModel: altModel, IsFallback: true}, nil
		}
	}

	return nil, gatewayerr.ErrNoHealthyCredential
}

// pickLRU must be called with the lock for kind already held.
func (m *Manager) pickLRU(kind Kind, model string, opts SelectOptions) *Credential {
	m.mu.RLock()
	candidates := m.byKind[kind]
	skew := m.tokenSkew
	m.mu.RUnlock()

	now := time.Now()
	var best *Credential
	for _, c := range candidates {
		if !c.eligible(now, model, skew) {
			continue
		}
		if best == nil || c.Health.LastUsedAt.Before(best.Health.LastUsedAt) {
			best = c
		}
	}
	if best == nil {
		return nil
	}

	if !opts.SkipUsageCount {
		best.Health.LastUsedAt = now
	}
	if opts.AcquireSlot {
		best.inFlight++
	}
	return best
}

// ReleaseSlot returns a concurrency slot acquired via SelectOptions.AcquireSlot.
// Callers must release on success, failure, or cancellation.
func (m *Manager) ReleaseSlot(c *Credential) {
	lock := m.lockFor(c.Kind)
	lock.Lock()
	defer lock.Unlock()
	if c.inFlight > 0 {
		c.inFlight--
	}
}

// RecordSuccess resets a credential's error count (§4.2 "Health").
func (m *Manager) RecordSuccess(c *Credential) {
	lock := m.lockFor(c.Kind)
	lock.Lock()
	defer lock.Unlock()
	c.Health.ErrorCount = 0
	c.Health.ConsecutiveQuarantines = 0
}

// RecordFailure applies the §4.2 health-transition rule: an error that should
// switch credentials quarantines immediately; otherwise the error count
// increments and quarantine begins once it crosses the configured threshold.
func (m *Manager) RecordFailure(c *Credential, shouldSwitchCredential bool) {
	lock := m.lockFor(c.Kind)
	lock.Lock()
	defer lock.Unlock()

	if shouldSwitchCredential {
		m.quarantine(c)
		return
	}

	c.Health.ErrorCount++
	if c.Health.ErrorCount >= m.errorThresh {
		m.quarantine(c)
	}
}

// quarantine must be called with the credential's kind lock held.
func (m *Manager) quarantine(c *Credential) {
	c.Health.Quarantined = true
	c.Health.QuarantineUntil = time.Now().Add(cooldownFor(c.Health.ConsecutiveQuarantines))
	c.Health.ConsecutiveQuarantines++
	c.Health.ErrorCount = 0
}

// Snapshot returns a shallow copy of every credential for a kind, for
// warmup/usage-refresh sweeps that must not hold the selection lock.
func (m *Manager) Snapshot(kind Kind) []*Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Credential, len(m.byKind[kind]))
	copy(out, m.byKind[kind])
	return out
}

// AllKinds returns every provider kind with at least one registered credential.
func (m *Manager) AllKinds() []Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kinds := make([]Kind, 0, len(m.byKind))
	for k := range m.byKind {
		kinds = append(kinds, k)
	}
	return kinds
}
