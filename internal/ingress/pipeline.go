package ingress

import (
	"context"

	"github.com/aigateway/aigateway/internal/adapter"
	"github.com/aigateway/aigateway/internal/credential"
	"github.com/aigateway/aigateway/internal/gatewayerr"
	"github.com/aigateway/aigateway/internal/unified"
)

// acquire selects a credential for kind/model and returns the adapter that
// serves it alongside the selection, so the caller can release the slot and
// record the outcome.
func (s *Server) acquire(kind credential.Kind, model string) (adapter.Adapter, *credential.Selection, error) {
	sel, err := s.Pool.Select(kind, model, credential.SelectOptions{AcquireSlot: true})
	if err != nil {
		return nil, nil, err
	}
	a, ok := s.Adapters[sel.ActualProvider]
	if !ok {
		s.Pool.ReleaseSlot(sel.Credential)
		return nil, nil, gatewayerr.ErrNoHealthyCredential
	}
	return a, sel, nil
}

// classify extracts retry/failover signal from an adapter error.
func classify(err error) (retryable, shouldSwitch bool) {
	if pe, ok := gatewayerr.AsProviderError(err); ok {
		return pe.Retryable, pe.ShouldSwitchCredential
	}
	return false, false
}

func (s *Server) maxAttempts() int {
	if s.RetryConfig.MaxAttempts <= 0 {
		return 3
	}
	return s.RetryConfig.MaxAttempts
}

// generate runs a non-streaming completion through the credential-retry
// loop (spec §4.6 point 7): a retryable/shouldSwitchCredential error fails
// the current credential and retries from the beginning, up to max-attempts.
func (s *Server) generate(ctx context.Context, kind credential.Kind, req *unified.Request) (*unified.Completion, *credential.Selection, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts(); attempt++ {
		a, sel, err := s.acquire(kind, req.Model)
		if err != nil {
			return nil, nil, err
		}

		runReq := *req
		runReq.Model = sel.ActualModel
		completion, err := a.Generate(ctx, sel.Credential, &runReq)
		if err == nil {
			s.Pool.RecordSuccess(sel.Credential)
			s.Pool.ReleaseSlot(sel.Credential)
			return completion, sel, nil
		}

		s.Pool.ReleaseSlot(sel.Credential)
		lastErr = err

		// Cancellation is a client event, not a provider event (spec §4.6/§5):
		// it must never count against the credential's health.
		if ctx.Err() != nil {
			return nil, nil, err
		}

		retryable, shouldSwitch := classify(err)
		s.Pool.RecordFailure(sel.Credential, shouldSwitch)

		if !retryable {
			return nil, nil, err
		}
	}
	return nil, nil, lastErr
}

// generateStream acquires a credential and opens the upstream stream. Once
// the stream is open, no retry is attempted on mid-stream failure (scenario
// 6): the caller is expected to forward whatever was delivered and close.
func (s *Server) generateStream(ctx context.Context, kind credential.Kind, req *unified.Request) (adapter.Stream, *credential.Selection, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts(); attempt++ {
		a, sel, err := s.acquire(kind, req.Model)
		if err != nil {
			return nil, nil, err
		}

		runReq := *req
		runReq.Model = sel.ActualModel
		stream, err := a.GenerateStream(ctx, sel.Credential, &runReq)
		if err == nil {
			return stream, sel, nil
		}

		s.Pool.ReleaseSlot(sel.Credential)
		lastErr = err

		// Cancellation is a client event, not a provider event (spec §4.6/§5):
		// it must never count against the credential's health.
		if ctx.Err() != nil {
			return nil, nil, err
		}

		retryable, shouldSwitch := classify(err)
		s.Pool.RecordFailure(sel.Credential, shouldSwitch)

		if !retryable {
			return nil, nil, err
		}
	}
	return nil, nil, lastErr
}
