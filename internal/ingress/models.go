package ingress

import (
	"net/http"
	"strings"

	"github.com/aigateway/aigateway/internal/adapter"
	"github.com/aigateway/aigateway/internal/credential"
)

// handleListModels implements GET /v1/models and GET /v1beta/models: the
// aggregate model catalogue across every configured provider kind.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var all []adapter.ModelInfo
	for _, kind := range s.Pool.AllKinds() {
		a, ok := s.Adapters[kind]
		if !ok {
			continue
		}
		sel, err := s.Pool.Select(kind, "", credential.SelectOptions{SkipUsageCount: true})
		if err != nil {
			continue // no healthy credential for this kind; skip, don't fail the whole listing
		}
		models, err := a.ListModels(ctx, sel.Credential)
		if err != nil {
			s.Pool.RecordFailure(sel.Credential, false)
			continue
		}
		s.Pool.RecordSuccess(sel.Credential)
		all = append(all, models...)
	}

	isGemini := isGeminiModelsPath(r)
	if isGemini {
		writeJSON(w, http.StatusOK, geminiModelsBody(all))
		return
	}
	writeJSON(w, http.StatusOK, openAIModelsBody(all))
}

func isGeminiModelsPath(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/v1beta/")
}

type openAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func openAIModelsBody(models []adapter.ModelInfo) interface{} {
	out := make([]openAIModel, 0, len(models))
	for _, m := range models {
		out = append(out, openAIModel{ID: m.ID, Object: "model", Created: m.Created, OwnedBy: m.OwnedBy})
	}
	return struct {
		Object string        `json:"object"`
		Data   []openAIModel `json:"data"`
	}{Object: "list", Data: out}
}

type geminiModel struct {
	Name string `json:"name"`
}

func geminiModelsBody(models []adapter.ModelInfo) interface{} {
	out := make([]geminiModel, 0, len(models))
	for _, m := range models {
		out = append(out, geminiModel{Name: "models/" + m.ID})
	}
	return struct {
		Models []geminiModel `json:"models"`
	}{Models: out}
}
