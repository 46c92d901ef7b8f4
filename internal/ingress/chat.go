package ingress

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aigateway/aigateway/internal/cache"
	"github.com/aigateway/aigateway/internal/dialect"
	"github.com/aigateway/aigateway/internal/gatewayerr"
)

// nonStreamingTimeout bounds the total wall-clock time of a non-streaming
// call (spec §5: "total request timeout for non-streaming calls 120s").
// Streaming calls are governed instead by the sliding inter-event timer in
// streamChatLike, never by this absolute deadline.
const nonStreamingTimeout = 120 * time.Second

// handleOpenAIChat implements POST /v1/chat/completions.
func (s *Server) handleOpenAIChat(w http.ResponseWriter, r *http.Request) {
	s.handleChatLike(w, r, dialect.OpenAI, "chatcmpl-")
}

// handleAnthropicMessages implements POST /v1/messages.
func (s *Server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	s.handleChatLike(w, r, dialect.Anthropic, "msg_")
}

// handleGeminiGenerate implements POST /v1beta/models/{model}:generateContent.
func (s *Server) handleGeminiGenerate(w http.ResponseWriter, r *http.Request) {
	s.handleChatLike(w, r, dialect.Gemini, "")
}

// handleGeminiStream implements POST /v1beta/models/{model}:streamGenerateContent.
func (s *Server) handleGeminiStream(w http.ResponseWriter, r *http.Request) {
	s.handleChatLike(w, r, dialect.Gemini, "")
}

// handleChatLike runs the common request pipeline (spec §4.6 points 2-6) for
// any of the three dialects, dispatching to non-streaming or streaming
// response shaping.
func (s *Server) handleChatLike(w http.ResponseWriter, r *http.Request, name dialect.Name, idPrefix string) {
	ctx := r.Context()

	tr, err := dialect.For(name)
	if err != nil {
		writeGatewayErr(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeGatewayErr(w, gatewayerr.NewValidationError("body", "could not read request body"))
		return
	}

	req, err := tr.RequestToUnified(body)
	if err != nil {
		writeGatewayErr(w, gatewayerr.NewValidationError("body", err.Error()))
		return
	}

	// Gemini carries the model in the URL path and streaming in the verb,
	// not the body (spec §6).
	if name == dialect.Gemini {
		req.Model = modelFromPath(r)
		req.Stream = isGeminiStreamPath(r)
	}
	if req.Model == "" {
		writeGatewayErr(w, gatewayerr.NewValidationError("model", "model is required"))
		return
	}

	kind := s.RouteModel(req.Model)

	var cacheResult *cache.Result
	if name == dialect.Anthropic && s.Accountant != nil {
		res := s.Accountant.Account(ctx, req)
		cacheResult = &res
	}

	if req.Stream {
		s.streamChatLike(ctx, w, tr, kind, req, idPrefix, cacheResult)
		return
	}

	nonStreamCtx, cancel := context.WithTimeout(ctx, nonStreamingTimeout)
	defer cancel()
	completion, _, err := s.generate(nonStreamCtx, kind, req)
	if err != nil {
		writeGatewayErr(w, err)
		return
	}
	if completion.ID == "" {
		completion.ID = idPrefix + uuid.NewString()
	}
	applyCacheResult(completion, cacheResult)

	out, err := tr.UnifiedToResponse(completion)
	if err != nil {
		writeGatewayErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}
