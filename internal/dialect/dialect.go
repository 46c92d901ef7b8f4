// Package dialect implements bidirectional translation between the three
// public wire dialects (spec.md §4.1) and the internal unified schema. Each
// dialect implements the same capability set; runtime dispatch is a small
// factory keyed by Name (spec §9 "Re-architecture for the translator").
package dialect

import (
	"fmt"

	"github.com/aigateway/aigateway/internal/sse"
	"github.com/aigateway/aigateway/internal/unified"
)

// Name identifies a wire dialect.
type Name string

const (
	OpenAI    Name = "openai"
	Anthropic Name = "anthropic"
	Gemini    Name = "gemini"
)

// ToolCallBuffer accumulates incremental JSON-argument fragments for one
// streaming tool call, keyed by its index in the response (spec §4.1 point 3).
type ToolCallBuffer struct {
	ID        string
	Name      string
	Arguments string
	Announced bool // true once id/name have been emitted downstream
}

// StreamState is the per-response accumulation state a translator needs to
// reconstruct a clean unified stream from dialect-native deltas, and to
// re-emit a clean dialect-native stream from unified deltas. It is owned by
// the request's own goroutine and is never shared across streams (spec §9
// "Re-architecture for the reverse adapter's per-stream state" applies the
// same scoping rule here).
type StreamState struct {
	// InitialRoleSent tracks whether the synthetic {role:"assistant"} delta
	// has been emitted yet for this choice (spec §4.1 point 1).
	InitialRoleSent bool

	// ToolCalls is indexed by the upstream's tool-call index.
	ToolCalls map[int]*ToolCallBuffer

	// toolOrder preserves first-seen order so terminal reconstruction is
	// deterministic.
	toolOrder []int

	// pendingText is not read or written by any translator: every unified
	// content event becomes its own wire event, and adjacent content
	// fragments are not coalesced.
	pendingText string
}

// NewStreamState creates empty per-stream state.
func NewStreamState() *StreamState {
	return &StreamState{ToolCalls: make(map[int]*ToolCallBuffer)}
}

// ToolCall returns (creating if needed) the buffer for index.
func (s *StreamState) ToolCall(index int) *ToolCallBuffer {
	tc, ok := s.ToolCalls[index]
	if !ok {
		tc = &ToolCallBuffer{}
		s.ToolCalls[index] = tc
		s.toolOrder = append(s.toolOrder, index)
	}
	return tc
}

// OrderedToolCalls returns accumulated tool calls in first-seen order.
func (s *StreamState) OrderedToolCalls() []unified.Block {
	out := make([]unified.Block, 0, len(s.toolOrder))
	for _, idx := range s.toolOrder {
		tc := s.ToolCalls[idx]
		out = append(out, unified.Block{
			Kind:       unified.KindToolUse,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			ArgsJSON:   tc.Arguments,
		})
	}
	return out
}

// Translator converts between the unified schema and one wire dialect, in
// both directions, for both terminal and streaming responses.
type Translator interface {
	Name() Name

	// RequestToUnified parses a client request body in this dialect.
	RequestToUnified(body []byte) (*unified.Request, error)

	// UnifiedToRequest serializes a unified request into this dialect's
	// wire form (used when the upstream is a "direct API adapter" that
	// natively speaks this dialect, and for round-trip testing).
	UnifiedToRequest(req *unified.Request) ([]byte, error)

	// ResponseToUnified parses a non-streaming response in this dialect.
	ResponseToUnified(body []byte) (*unified.Completion, error)

	// UnifiedToResponse serializes a unified completion into this dialect's
	// wire response shape, for sending back to the client.
	UnifiedToResponse(c *unified.Completion) ([]byte, error)

	// StreamEventToUnified parses one already-demultiplexed wire event (the
	// `data:` payload of an SSE frame, or one line of newline-delimited
	// JSON) in this dialect into zero or more unified stream events.
	StreamEventToUnified(state *StreamState, raw []byte) ([]unified.StreamEvent, error)

	// UnifiedToStreamFrames converts one unified delta into zero or more
	// wire frames for this dialect, honoring the dialect's event framing
	// (typed SSE events for Anthropic, `data:`-only for OpenAI, bare NDJSON
	// objects for Gemini).
	UnifiedToStreamFrames(state *ClientStreamState, ev unified.StreamEvent) ([]sse.Event, error)
}

// ClientStreamState is the outbound counterpart to StreamState: it tracks
// what has already been sent to the client so the translator can honor the
// "exactly once" and "never coalesce across finish_reason" rules in spec
// §4.1 regardless of target dialect.
type ClientStreamState struct {
	RoleSent     bool
	MessageID    string
	Model        string
	ChunkIndex   int
	ContentIndex int
	// Anthropic content-block bookkeeping: which block index is currently
	// open, and whether it was opened as text/thinking/tool_use.
	OpenBlockKind unified.Kind
	OpenBlockIdx  int
	BlockOpen     bool
}

// NewClientStreamState creates fresh outbound stream state.
func NewClientStreamState(messageID, model string) *ClientStreamState {
	return &ClientStreamState{MessageID: messageID, Model: model, OpenBlockIdx: -1}
}

// For creates a Translator for the given dialect name.
func For(name Name) (Translator, error) {
	switch name {
	case OpenAI:
		return &openAITranslator{}, nil
	case Anthropic:
		return &anthropicTranslator{}, nil
	case Gemini:
		return &geminiTranslator{}, nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
}
