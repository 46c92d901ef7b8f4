package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aigateway/aigateway/internal/adapter"
	"github.com/aigateway/aigateway/internal/credential"
	"github.com/aigateway/aigateway/internal/gatewayerr"
	"github.com/aigateway/aigateway/internal/retrypolicy"
	"github.com/aigateway/aigateway/internal/unified"
)

const testKind credential.Kind = "test-provider"

// fakeAdapter drives scripted Generate/GenerateStream outcomes per
// credential id, so tests can simulate one credential failing and a
// fallback credential succeeding.
type fakeAdapter struct {
	generateByCred func(credID string) (*unified.Completion, error)
	streamByCred   func(credID string) (adapter.Stream, error)
}

func (f *fakeAdapter) Kind() credential.Kind { return testKind }

func (f *fakeAdapter) Generate(ctx context.Context, c *credential.Credential, req *unified.Request) (*unified.Completion, error) {
	return f.generateByCred(c.ID)
}

func (f *fakeAdapter) GenerateStream(ctx context.Context, c *credential.Credential, req *unified.Request) (adapter.Stream, error) {
	return f.streamByCred(c.ID)
}

func (f *fakeAdapter) ListModels(ctx context.Context, c *credential.Credential) ([]adapter.ModelInfo, error) {
	return []adapter.ModelInfo{{ID: "test-model"}}, nil
}

// scriptedStream replays a fixed slice of deltas, then errors if errAfter is
// set (used to simulate a mid-stream provider failure after delivery has
// already started, per spec §8 scenario 6).
type scriptedStream struct {
	events  []unified.StreamEvent
	idx     int
	errAfter error
}

func (s *scriptedStream) Recv(ctx context.Context) (unified.StreamEvent, bool, error) {
	if s.idx >= len(s.events) {
		if s.errAfter != nil {
			return unified.StreamEvent{}, false, s.errAfter
		}
		return unified.StreamEvent{}, false, nil
	}
	ev := s.events[s.idx]
	s.idx++
	return ev, true, nil
}

func (s *scriptedStream) Close() error { return nil }

func newTestServer(a adapter.Adapter) (*Server, *credential.Manager) {
	pool := credential.NewManager(3)
	return &Server{
		Pool:        pool,
		Adapters:    map[credential.Kind]adapter.Adapter{testKind: a},
		RouteModel:  func(model string) credential.Kind { return testKind },
		APIKey:      "secret",
		RetryConfig: retrypolicy.DefaultIngressConfig(),
		Log:         zap.NewNop(),
	}, pool
}

func authedRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAuthMiddlewareRejectsBadKey(t *testing.T) {
	s, _ := newTestServer(&fakeAdapter{})
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatCompletionsNonStreaming(t *testing.T) {
	a := &fakeAdapter{
		generateByCred: func(credID string) (*unified.Completion, error) {
			return &unified.Completion{
				Model:   "test-model",
				Choices: []unified.Choice{{Message: unified.Message{Role: unified.RoleAssistant, Content: []unified.Block{{Kind: unified.KindText, Text: "hi"}}}, FinishReason: unified.FinishStop}},
			}, nil
		},
	}
	s, pool := newTestServer(a)
	cred := credential.New(testKind, "key")
	pool.Add(cred)

	body := `{"model":"test-model","messages":[{"role":"user","content":"hello"}]}`
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/chat/completions", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "test-model", out["model"])
}

// TestFailoverOnAuthFailure implements spec §8 scenario 5: a pool of three
// credentials where the first raises an auth error with
// shouldSwitchCredential=true; the ingress must quarantine it and retry with
// the next credential, succeeding.
func TestFailoverOnAuthFailure(t *testing.T) {
	var order []string
	a := &fakeAdapter{
		generateByCred: func(credID string) (*unified.Completion, error) {
			order = append(order, credID)
			if len(order) == 1 {
				return nil, &gatewayerr.ProviderError{
					Provider: "test", StatusCode: 401, Retryable: true, ShouldSwitchCredential: true,
				}
			}
			return &unified.Completion{
				Model:   "test-model",
				Choices: []unified.Choice{{Message: unified.Message{Role: unified.RoleAssistant}, FinishReason: unified.FinishStop}},
			}, nil
		},
	}
	s, pool := newTestServer(a)
	c1, c2, c3 := credential.New(testKind, "k1"), credential.New(testKind, "k2"), credential.New(testKind, "k3")
	pool.Add(c1)
	pool.Add(c2)
	pool.Add(c3)

	body := `{"model":"test-model","messages":[{"role":"user","content":"hello"}]}`
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/chat/completions", body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, order, 2)

	snap := pool.Snapshot(testKind)
	var gotC1, gotC2 *credential.Credential
	for _, c := range snap {
		if c.ID == c1.ID {
			gotC1 = c
		}
		if c.ID == c2.ID {
			gotC2 = c
		}
	}
	require.NotNil(t, gotC1)
	require.NotNil(t, gotC2)
	assert.True(t, gotC1.Health.Quarantined)
	assert.Equal(t, 0, gotC2.Health.ErrorCount)
}

// TestStreamingNeverRetriesAfterPartialDelivery implements spec §8 scenario
// 6: the adapter delivers one delta then errors; the client sees a closed
// partial stream and the credential's error count is incremented, but no
// second credential is tried mid-stream.
func TestStreamingNeverRetriesAfterPartialDelivery(t *testing.T) {
	calls := 0
	a := &fakeAdapter{
		streamByCred: func(credID string) (adapter.Stream, error) {
			calls++
			return &scriptedStream{
				events:   []unified.StreamEvent{{Role: unified.RoleAssistant}, {Content: "partial"}},
				errAfter: errors.New("connection reset"),
			}, nil
		},
	}
	s, pool := newTestServer(a)
	cred := credential.New(testKind, "k1")
	pool.Add(cred)

	body := `{"model":"test-model","messages":[{"role":"user","content":"hello"}],"stream":true}`
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/chat/completions", body))

	assert.Equal(t, 1, calls, "stream must not be retried after bytes were already delivered")
	assert.Contains(t, rec.Body.String(), "partial")

	snap := pool.Snapshot(testKind)
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].Health.ErrorCount)
	assert.False(t, snap[0].Health.Quarantined)
}

func TestListModelsAggregatesAcrossKinds(t *testing.T) {
	a := &fakeAdapter{}
	s, pool := newTestServer(a)
	pool.Add(credential.New(testKind, "k1"))

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/models", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "test-model", out.Data[0].ID)
}

func TestCountTokensFallsBackToEstimate(t *testing.T) {
	a := &fakeAdapter{}
	s, pool := newTestServer(a)
	pool.Add(credential.New(testKind, "k1"))

	body := `{"model":"test-model","messages":[{"role":"user","content":"hello world"}]}`
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/messages/count_tokens", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var out countTokensBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Greater(t, out.InputTokens, 0)
}
