// Package credential manages the pool of upstream provider credentials: health
// tracking, quarantine/cooldown, least-recently-used selection, and fallback
// chains (spec.md §4.2).
package credential

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the provider family a credential authenticates against.
type Kind string

// ProviderKind is the caller-facing alias used by selection filters; kept
// distinct from Kind so a fallback rule can name a *different* provider kind
// than the credential's own.
type ProviderKind = Kind

// Health is the lifecycle state of one credential.
type Health struct {
	ErrorCount        int
	Quarantined       bool
	QuarantineUntil   time.Time
	ConsecutiveQuarantines int
	LastUsedAt        time.Time
}

// Credential is one authenticated route to an upstream provider: an API key,
// or an OAuth access/refresh token pair, or a web-chat session cookie jar.
type Credential struct {
	ID       string
	Kind     Kind
	Disabled bool

	// SupportedModels is nil when the credential serves every model for its
	// kind; otherwise selection excludes it for any other model (§4.2 Filters).
	SupportedModels map[string]bool

	// AccessToken/RefreshToken/TokenExpiry are only meaningful for OAuth-style
	// credentials; the refresher mutates these under the pool's lock.
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time

	// APIKey holds a direct-API provider's secret key, or (for the reverse
	// web-chat adapter) the serialised cookie pair identifying a browser
	// session.
	APIKey string

	// MaxConcurrency bounds in-flight requests on this credential; 0 means
	// unbounded. Slots are tracked by the pool, not the credential itself.
	MaxConcurrency int
	inFlight       int

	Health Health
}

// New creates a credential with a generated id.
func New(kind Kind, apiKey string) *Credential {
	return &Credential{ID: uuid.NewString(), Kind: kind, APIKey: apiKey}
}

// eligible implements the §4.2 selection filter, including the token-expiry
// clause: a credential is excluded once now reaches TokenExpiry plus
// tokenSkew, so it stays selectable for up to tokenSkew after its token
// expires. refresher.Refresher.IsExpiryNear applies its skew before expiry
// instead.
func (c *Credential) eligible(now time.Time, model string, tokenSkew time.Duration) bool {
	if c.Disabled {
		return false
	}
	if c.Health.Quarantined && now.Before(c.Health.QuarantineUntil) {
		return false
	}
	if !c.TokenExpiry.IsZero() && !now.Before(c.TokenExpiry.Add(tokenSkew)) {
		return false
	}
	if model != "" && c.SupportedModels != nil && !c.SupportedModels[model] {
		return false
	}
	if c.MaxConcurrency > 0 && c.inFlight >= c.MaxConcurrency {
		return false
	}
	return true
}

// baseCooldown is the starting quarantine duration; it doubles per
// consecutive quarantine up to cooldownCap (§4.2 "exponential with a
// 30-second cap").
const (
	baseCooldown = 1 * time.Second
	cooldownCap  = 30 * time.Second
)

func cooldownFor(consecutive int) time.Duration {
	d := baseCooldown
	for i := 0; i < consecutive; i++ {
		d *= 2
		if d >= cooldownCap {
			return cooldownCap
		}
	}
	return d
}
