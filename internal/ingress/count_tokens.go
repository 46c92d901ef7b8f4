package ingress

import (
	"io"
	"net/http"

	"github.com/aigateway/aigateway/internal/adapter"
	"github.com/aigateway/aigateway/internal/cache"
	"github.com/aigateway/aigateway/internal/credential"
	"github.com/aigateway/aigateway/internal/dialect"
	"github.com/aigateway/aigateway/internal/gatewayerr"
)

// handleCountTokens implements POST /v1/messages/count_tokens: prefers the
// upstream adapter's native counter, falling back to the tokenizer estimate
// used by the prefix-cache accountant so the endpoint never 500s merely
// because a provider lacks native counting (spec §4.5, §4.6).
func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tr, err := dialect.For(dialect.Anthropic)
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
	if req.Model == "" {
		writeGatewayErr(w, gatewayerr.NewValidationError("model", "model is required"))
		return
	}

	kind := s.RouteModel(req.Model)

	if a, ok := s.Adapters[kind]; ok {
		if tc, ok := a.(adapter.TokenCounter); ok {
			if sel, selErr := s.Pool.Select(kind, req.Model, credential.SelectOptions{SkipUsageCount: true}); selErr == nil {
				if n, countErr := tc.CountTokens(ctx, sel.Credential, req); countErr == nil {
					writeJSON(w, http.StatusOK, countTokensBody{InputTokens: n})
					return
				}
			}
		}
	}

	_, total, err := cache.ComputeBreakpoints(req, nil)
	if err != nil {
		writeGatewayErr(w, gatewayerr.NewValidationError("body", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, countTokensBody{InputTokens: total})
}

type countTokensBody struct {
	InputTokens int `json:"input_tokens"`
}
