package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/aigateway/aigateway/internal/credential"
	"github.com/aigateway/aigateway/internal/dialect"
	"github.com/aigateway/aigateway/internal/gatewayerr"
	"github.com/aigateway/aigateway/internal/httpclient"
	"github.com/aigateway/aigateway/internal/sse"
	"github.com/aigateway/aigateway/internal/unified"
)

// Framing selects how a direct API adapter's stream is delimited on the wire.
type Framing int

const (
	FramingSSE Framing = iota
	FramingNDJSON
)

// DirectConfig configures a DirectAdapter against one public provider API.
type DirectConfig struct {
	Kind       credential.Kind
	BaseURL    string
	Dialect    dialect.Name // the wire dialect this provider natively speaks
	ChatPath   string
	ModelsPath string
	Framing    Framing

	// AuthHeader builds the header name/value that authenticates c against
	// this provider (e.g. "Authorization": "Bearer <key>").
	AuthHeader func(c *credential.Credential) (name, value string)

	// Classify maps an upstream HTTP status to the retry/failover decision
	// in spec §7 ("Exact classification of every upstream status code per
	// provider … implementers must re-derive a complete table" — §9 open
	// question; each provider wires its own table via this hook).
	Classify func(statusCode int) (retryable, shouldSwitchCredential bool)
}

// DirectAdapter forwards translated requests to a provider's public API and
// parses its SSE or newline-delimited stream back into unified deltas
// (spec §4.4 "Direct API adapters").
type DirectAdapter struct {
	cfg        DirectConfig
	http       *httpclient.Client
	translator dialect.Translator
}

// NewDirect builds a DirectAdapter, resolving cfg.Dialect to its translator.
func NewDirect(cfg DirectConfig) (*DirectAdapter, error) {
	t, err := dialect.For(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	if cfg.Classify == nil {
		cfg.Classify = DefaultStatusClassifier
	}
	return &DirectAdapter{
		cfg:        cfg,
		http:       httpclient.New(httpclient.Config{BaseURL: cfg.BaseURL}),
		translator: t,
	}, nil
}

func (a *DirectAdapter) Kind() credential.Kind { return a.cfg.Kind }

func (a *DirectAdapter) authHeaders(c *credential.Credential) map[string]string {
	name, value := a.cfg.AuthHeader(c)
	return map[string]string{name: value}
}

func (a *DirectAdapter) classifyErr(err error) error {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return &gatewayerr.ProviderError{Provider: string(a.cfg.Kind), Retryable: true, Cause: err}
	}
	retryable, shouldSwitch := a.cfg.Classify(statusErr.StatusCode)
	return &gatewayerr.ProviderError{
		Provider:               string(a.cfg.Kind),
		StatusCode:             statusErr.StatusCode,
		Message:                string(statusErr.Body),
		Retryable:              retryable,
		ShouldSwitchCredential: shouldSwitch,
		Cause:                  err,
	}
}

func (a *DirectAdapter) Generate(ctx context.Context, c *credential.Credential, req *unified.Request) (*unified.Completion, error) {
	body, err := a.translator.UnifiedToRequest(req)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	err = a.http.DoJSON(ctx, httpclient.Request{
		Method:  "POST",
		Path:    a.cfg.ChatPath,
		Headers: a.authHeaders(c),
		Body:    json.RawMessage(body),
	}, &raw)
	if err != nil {
		return nil, a.classifyErr(err)
	}

	return a.translator.ResponseToUnified(raw)
}

// directStream adapts the wire stream to the Stream interface, owning the
// per-response dialect.StreamState for its lifetime.
type directStream struct {
	body    io.ReadCloser
	sseP    *sse.Parser
	lines   *bufio.Scanner
	framing Framing
	state   *dialect.StreamState
	tr      dialect.Translator
	pending []unified.StreamEvent
}

func (s *directStream) Recv(ctx context.Context) (unified.StreamEvent, bool, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, true, nil
		}

		var raw []byte
		var err error
		switch s.framing {
		case FramingSSE:
			var e *sse.Event
			e, err = s.sseP.Next()
			if err == nil {
				if sse.IsDone(e) {
					return unified.StreamEvent{}, false, nil
				}
				raw = []byte(e.Data)
			}
		default:
			if !s.lines.Scan() {
				err = s.lines.Err()
				if err == nil {
					err = io.EOF
				}
			} else {
				raw = s.lines.Bytes()
			}
		}

		if err != nil {
			if err == io.EOF {
				return unified.StreamEvent{}, false, nil
			}
			return unified.StreamEvent{}, false, err
		}
		if len(raw) == 0 {
			continue
		}

		events, err := s.tr.StreamEventToUnified(s.state, raw)
		if err != nil {
			return unified.StreamEvent{}, false, err
		}
		s.pending = events
	}
}

func (s *directStream) Close() error { return s.body.Close() }

func (a *DirectAdapter) GenerateStream(ctx context.Context, c *credential.Credential, req *unified.Request) (Stream, error) {
	body, err := a.translator.UnifiedToRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := a.http.DoStream(ctx, httpclient.Request{
		Method:  "POST",
		Path:    a.cfg.ChatPath,
		Headers: a.authHeaders(c),
		Body:    json.RawMessage(body),
	})
	if err != nil {
		return nil, a.classifyErr(err)
	}

	ds := &directStream{
		body:    resp.Body,
		framing: a.cfg.Framing,
		state:   dialect.NewStreamState(),
		tr:      a.translator,
	}
	if a.cfg.Framing == FramingSSE {
		ds.sseP = sse.NewParser(resp.Body)
	} else {
		ds.lines = bufio.NewScanner(resp.Body)
		ds.lines.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	}
	return ds, nil
}

func (a *DirectAdapter) ListModels(ctx context.Context, c *credential.Credential) ([]ModelInfo, error) {
	var raw struct {
		Data []struct {
			ID      string `json:"id"`
			Created int64  `json:"created"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	if err := a.http.DoJSON(ctx, httpclient.Request{
		Method:  "GET",
		Path:    a.cfg.ModelsPath,
		Headers: a.authHeaders(c),
	}, &raw); err != nil {
		return nil, a.classifyErr(err)
	}

	out := make([]ModelInfo, 0, len(raw.Data))
	for _, m := range raw.Data {
		out = append(out, ModelInfo{ID: m.ID, Created: m.Created, OwnedBy: m.OwnedBy})
	}
	return out, nil
}

// DefaultStatusClassifier implements the baseline §7 taxonomy: 401/403 are
// credential-scoped, 429 and 5xx are retryable, everything else is a
// permanent client/provider error.
func DefaultStatusClassifier(statusCode int) (retryable, shouldSwitchCredential bool) {
	switch {
	case statusCode == 401 || statusCode == 403:
		return true, true
	case statusCode == 429:
		return true, false
	case statusCode >= 500:
		return true, false
	default:
		return false, false
	}
}
