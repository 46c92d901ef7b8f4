package ingress

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aigateway/aigateway/internal/cache"
	"github.com/aigateway/aigateway/internal/unified"
)

// modelFromPath extracts the model from Gemini's `{model}:verb` path
// segment, e.g. "/v1beta/models/gemini-2.0-flash:generateContent".
func modelFromPath(r *http.Request) string {
	seg := chi.URLParam(r, "model")
	if idx := strings.Index(seg, ":"); idx != -1 {
		return seg[:idx]
	}
	return seg
}

// isGeminiStreamPath reports whether the request path is the streaming verb.
func isGeminiStreamPath(r *http.Request) bool {
	return strings.Contains(r.URL.Path, ":streamGenerateContent")
}

// applyCacheResult folds the prefix-cache accountant's breakdown into a
// completion's usage before it is serialised to the client.
func applyCacheResult(c *unified.Completion, res *cache.Result) {
	if res == nil {
		return
	}
	c.Usage.CacheReadTokens = res.ReadTokens
	c.Usage.CacheCreationTokens = res.CreationTokens
	c.Usage.UncachedTokens = res.UncachedTokens
	if c.Usage.TotalTokens == 0 {
		c.Usage.TotalTokens = res.ReadTokens + res.CreationTokens + res.UncachedTokens
	}
}
