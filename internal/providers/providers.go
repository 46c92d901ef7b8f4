// Package providers wires the gateway's concrete adapter instances: the
// direct-API adapters for the public OpenAI/Anthropic/Gemini-speaking
// providers, and the reverse-engineered web-chat adapter, plus the
// model-prefix routing table that maps a requested model name to a provider
// kind (an Open Question the distilled spec leaves unresolved — see
// DESIGN.md).
package providers

import (
	"strings"

	"github.com/aigateway/aigateway/internal/adapter"
	"github.com/aigateway/aigateway/internal/credential"
	"github.com/aigateway/aigateway/internal/dialect"
)

// Provider kinds the gateway ships with out of the box.
const (
	KindOpenAI   credential.Kind = "openai"
	KindAnthropic credential.Kind = "anthropic"
	KindGemini   credential.Kind = "gemini"
	KindReverse  credential.Kind = "web-chat"
)

// modelPrefixes maps a model-name prefix to the provider kind that serves
// it. Checked longest-prefix-first so e.g. "gpt-4-web" could be routed to
// the reverse adapter ahead of the generic "gpt-" direct-API rule, if such a
// rule were added.
var modelPrefixes = []struct {
	prefix string
	kind   credential.Kind
}{
	{"gpt-", KindOpenAI},
	{"o1", KindOpenAI},
	{"o3", KindOpenAI},
	{"claude-", KindAnthropic},
	{"gemini-", KindGemini},
}

// RouteModel maps a requested model name to the provider kind that should
// serve it, falling back to the reverse web-chat adapter for any model name
// that doesn't match a known direct-API provider's naming convention.
func RouteModel(model string) credential.Kind {
	best, kind := "", KindReverse
	for _, p := range modelPrefixes {
		if strings.HasPrefix(model, p.prefix) && len(p.prefix) > len(best) {
			best, kind = p.prefix, p.kind
		}
	}
	return kind
}

// BuildDirectAdapters constructs the three public direct-API adapters with
// their provider-native endpoints and status classification tables (spec §7
// "implementers must re-derive a complete table" per provider).
func BuildDirectAdapters() (map[credential.Kind]adapter.Adapter, error) {
	out := make(map[credential.Kind]adapter.Adapter, 3)

	openAI, err := adapter.NewDirect(adapter.DirectConfig{
		Kind:       KindOpenAI,
		BaseURL:    "https://api.openai.com",
		Dialect:    dialect.OpenAI,
		ChatPath:   "/v1/chat/completions",
		ModelsPath: "/v1/models",
		Framing:    adapter.FramingSSE,
		AuthHeader: func(c *credential.Credential) (string, string) {
			return "Authorization", "Bearer " + c.APIKey
		},
		Classify: adapter.DefaultStatusClassifier,
	})
	if err != nil {
		return nil, err
	}
	out[KindOpenAI] = openAI

	anthropic, err := adapter.NewDirect(adapter.DirectConfig{
		Kind:       KindAnthropic,
		BaseURL:    "https://api.anthropic.com",
		Dialect:    dialect.Anthropic,
		ChatPath:   "/v1/messages",
		ModelsPath: "/v1/models",
		Framing:    adapter.FramingSSE,
		AuthHeader: func(c *credential.Credential) (string, string) {
			return "x-api-key", c.APIKey
		},
		Classify: adapter.DefaultStatusClassifier,
	})
	if err != nil {
		return nil, err
	}
	out[KindAnthropic] = anthropic

	gemini, err := adapter.NewDirect(adapter.DirectConfig{
		Kind:       KindGemini,
		BaseURL:    "https://generativelanguage.googleapis.com",
		Dialect:    dialect.Gemini,
		ChatPath:   "/v1beta/models",
		ModelsPath: "/v1beta/models",
		Framing:    adapter.FramingNDJSON,
		AuthHeader: func(c *credential.Credential) (string, string) {
			return "x-goog-api-key", c.APIKey
		},
		Classify: adapter.DefaultStatusClassifier,
	})
	if err != nil {
		return nil, err
	}
	out[KindGemini] = gemini

	return out, nil
}

// BuildReverseAdapter constructs the reverse web-chat adapter.
func BuildReverseAdapter(baseURL, assetBaseURL string) adapter.Adapter {
	return adapter.NewReverse(adapter.ReverseConfig{
		Kind:         KindReverse,
		BaseURL:      baseURL,
		ChatPath:     "/api/chat",
		UploadPath:   "/api/upload",
		AssetBaseURL: assetBaseURL,
	})
}
