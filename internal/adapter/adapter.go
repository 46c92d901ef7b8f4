// Package adapter implements upstream provider adapters: the common
// capability set every provider kind exposes to the ingress (spec.md §4.4),
// realised either as a direct-API adapter or the reverse-engineered
// web-chat adapter.
package adapter

import (
	"context"

	"github.com/aigateway/aigateway/internal/credential"
	"github.com/aigateway/aigateway/internal/unified"
)

// ModelInfo describes one model in a provider's catalogue.
type ModelInfo struct {
	ID      string
	Created int64
	OwnedBy string
}

// UsageLimits reports provider-side quota/usage accounting, when available.
type UsageLimits struct {
	Used      int64
	Limit     int64
	ResetsAt  int64
}

// StreamDelta is one event off an adapter's stream, already translated to
// the unified schema and ready for the dialect translator's
// UnifiedToStreamFrames step.
type StreamDelta = unified.StreamEvent

// Stream is a pull-based handle on an in-progress generation. Recv returns
// io.EOF-equivalent by returning ok=false with a nil error once the stream
// has delivered its terminal delta.
type Stream interface {
	Recv(ctx context.Context) (delta StreamDelta, ok bool, err error)
	Close() error
}

// Adapter is the capability set every upstream provider kind implements
// (spec §4.4: "generate, generateStream, listModels, refresh/forceRefresh,
// isExpiryNear, optional getUsageLimits, optional countTokens").
type Adapter interface {
	Kind() credential.Kind

	Generate(ctx context.Context, c *credential.Credential, req *unified.Request) (*unified.Completion, error)
	GenerateStream(ctx context.Context, c *credential.Credential, req *unified.Request) (Stream, error)
	ListModels(ctx context.Context, c *credential.Credential) ([]ModelInfo, error)
}

// UsageLimiter is implemented by adapters that can report provider-side
// usage/quota accounting (optional per spec §4.4).
type UsageLimiter interface {
	GetUsageLimits(ctx context.Context, c *credential.Credential) (*UsageLimits, error)
}

// TokenCounter is implemented by adapters with a provider-native token
// counting endpoint (optional per spec §4.4; backs /v1/messages/count_tokens).
type TokenCounter interface {
	CountTokens(ctx context.Context, c *credential.Credential, req *unified.Request) (int, error)
}
