// Package ingress implements the HTTP router and request pipeline: auth,
// dialect dispatch, credential acquisition, adapter invocation, and
// streaming response forwarding (spec.md §4.6).
package ingress

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aigateway/aigateway/internal/adapter"
	"github.com/aigateway/aigateway/internal/cache"
	"github.com/aigateway/aigateway/internal/credential"
	"github.com/aigateway/aigateway/internal/retrypolicy"
)

// ModelRouter maps a requested model name to the provider kind that should
// serve it.
type ModelRouter func(model string) credential.Kind

// Server holds every component the ingress wires together.
type Server struct {
	Pool        *credential.Manager
	Adapters    map[credential.Kind]adapter.Adapter
	Accountant  *cache.Accountant
	RouteModel  ModelRouter
	APIKey      string
	RetryConfig retrypolicy.Config
	Log         *zap.Logger
	Tracer      trace.Tracer
}

// Router builds the chi router for every endpoint in spec §6.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// No blanket request timeout here: non-streaming calls get a 120s total
	// deadline applied in handleChatLike once the request is known not to be
	// streaming, and streaming calls get a sliding inter-event timer in
	// streamChatLike instead of one absolute cutoff (spec §5 "Timeouts").
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/v1/chat/completions", s.handleOpenAIChat)
		r.Post("/v1/messages", s.handleAnthropicMessages)
		r.Post("/v1/messages/count_tokens", s.handleCountTokens)
		r.Post("/v1beta/models/{model}:generateContent", s.handleGeminiGenerate)
		r.Post("/v1beta/models/{model}:streamGenerateContent", s.handleGeminiStream)
		r.Get("/v1/models", s.handleListModels)
		r.Get("/v1beta/models", s.handleListModels)
	})

	return r
}
