package ingress

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aigateway/aigateway/internal/adapter"
	"github.com/aigateway/aigateway/internal/cache"
	"github.com/aigateway/aigateway/internal/credential"
	"github.com/aigateway/aigateway/internal/dialect"
	"github.com/aigateway/aigateway/internal/sse"
	"github.com/aigateway/aigateway/internal/unified"
)

// interEventTimeout bounds how long a stream may go silent between deltas
// before it is terminated as a provider error (spec §5: "inter-event timeout
// for streaming 60s"). It is a sliding window, reset after every received
// event, not an absolute cutoff on the whole response.
const interEventTimeout = 60 * time.Second

// streamChatLike opens an upstream stream and forwards translated deltas to
// the client as they arrive (spec §4.6 point 5). Once the stream has been
// opened and any byte written, no retry is attempted on failure (spec §7,
// §8 scenario 6); the credential's slot is released and its error count
// incremented, and the client sees a closed, partial stream.
func (s *Server) streamChatLike(ctx context.Context, w http.ResponseWriter, tr dialect.Translator, kind credential.Kind, req *unified.Request, idPrefix string, cacheResult *cache.Result) {
	upstream, sel, err := s.generateStream(ctx, kind, req)
	if err != nil {
		writeGatewayErr(w, err)
		return
	}
	defer s.Pool.ReleaseSlot(sel.Credential)

	messageID := idPrefix + uuid.NewString()
	clientState := dialect.NewClientStreamState(messageID, req.Model)

	flusher, _ := w.(http.Flusher)
	if tr.Name() == dialect.Gemini {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
	}
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	sink := sse.NewWriter(w)
	success := true

	for {
		delta, ok, recvErr := recvWithDeadline(ctx, upstream, interEventTimeout)
		if recvErr != nil {
			// A client disconnect/cancellation surfaces here as a Recv error
			// too (the read-side twin of the writeFrame case below): it is a
			// client event, not a provider event, and must not count against
			// the credential's health (spec §5 "Cancellation"). A silence
			// timeout, by contrast, is a provider event and does count.
			if ctx.Err() != nil {
				success = false
				break
			}
			_, shouldSwitch := classify(recvErr)
			s.Pool.RecordFailure(sel.Credential, shouldSwitch)
			success = false
			break
		}
		if !ok {
			break
		}

		if delta.IsTerminal() {
			applyCacheResultToEvent(&delta, cacheResult)
		}

		frames, convErr := tr.UnifiedToStreamFrames(clientState, delta)
		if convErr != nil {
			s.Pool.RecordFailure(sel.Credential, false)
			success = false
			break
		}

		for _, f := range frames {
			if writeErr := writeFrame(sink, tr.Name(), f); writeErr != nil {
				// Client disconnected mid-stream: cancellation, not a
				// provider event (spec §5 "Cancellation").
				_ = upstream.Close()
				return
			}
		}
		if flusher != nil {
			flusher.Flush()
		}

		if delta.IsTerminal() {
			break
		}
	}

	_ = upstream.Close()

	if tr.Name() == dialect.OpenAI {
		_ = sink.WriteDone()
		if flusher != nil {
			flusher.Flush()
		}
	}

	if success {
		s.Pool.RecordSuccess(sel.Credential)
	}
}

// recvResult carries one upstream.Recv outcome across the goroutine boundary
// in recvWithDeadline.
type recvResult struct {
	delta unified.StreamEvent
	ok    bool
	err   error
}

// recvWithDeadline waits for upstream.Recv(ctx) with a sliding silence
// timeout, independent of whether the adapter's own Recv implementation
// observes ctx cancellation mid-read (none of the current adapters do,
// since they block on a buffered scanner over the response body). If the
// timeout fires first, Recv is left running in the background; the caller
// is expected to close upstream shortly after, which unblocks the
// abandoned read.
func recvWithDeadline(ctx context.Context, upstream adapter.Stream, timeout time.Duration) (unified.StreamEvent, bool, error) {
	resultCh := make(chan recvResult, 1)
	go func() {
		delta, ok, err := upstream.Recv(ctx)
		resultCh <- recvResult{delta: delta, ok: ok, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.delta, res.ok, res.err
	case <-ctx.Done():
		return unified.StreamEvent{}, false, ctx.Err()
	case <-timer.C:
		return unified.StreamEvent{}, false, fmt.Errorf("stream silent for longer than %s", timeout)
	}
}

// writeFrame writes one translated wire frame in the target dialect's
// framing: typed/anonymous SSE for OpenAI and Anthropic, bare
// newline-delimited JSON for Gemini.
func writeFrame(sink *sse.Writer, name dialect.Name, f sse.Event) error {
	if name == dialect.Gemini {
		return sink.WriteRaw(f.Data)
	}
	if f.Event != "" {
		return sink.WriteEvent(f)
	}
	return sink.WriteData(f.Data)
}

// applyCacheResultToEvent folds the accountant's breakdown into the
// terminal stream event's usage payload.
func applyCacheResultToEvent(ev *unified.StreamEvent, res *cache.Result) {
	if res == nil {
		return
	}
	if ev.Usage == nil {
		ev.Usage = &unified.Usage{}
	}
	ev.Usage.CacheReadTokens = res.ReadTokens
	ev.Usage.CacheCreationTokens = res.CreationTokens
	ev.Usage.UncachedTokens = res.UncachedTokens
	if ev.Usage.TotalTokens == 0 {
		ev.Usage.TotalTokens = res.ReadTokens + res.CreationTokens + res.UncachedTokens
	}
}
