package adapter

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigateway/aigateway/internal/unified"
)

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

func newTestReverseStream(t *testing.T, lines []string) *reverseStream {
	t.Helper()
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	s := newReverseStream(nopCloser{&buf}, "https://assets.example.com")
	require.NotNil(t, s)
	return s
}

func drain(t *testing.T, s *reverseStream) []unified.StreamEvent {
	t.Helper()
	var out []unified.StreamEvent
	for {
		ev, ok, err := s.Recv(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func TestReverseStreamToolCallReconstruction(t *testing.T) {
	s := newTestReverseStream(t, []string{
		`{"token":"Hello "}`,
		`{"token":"<tool_call>"}`,
		`{"token":"{\"name\":\"search\",\"arguments\":{\"q\":\"x\"}}"}`,
		`{"token":"</tool_call>"}`,
		`{"token":" done"}`,
		`{"isDone":true}`,
	})

	events := drain(t, s)
	require.Len(t, events, 4)
	assert.Equal(t, unified.RoleAssistant, events[0].Role)
	assert.Equal(t, "Hello ", events[1].Content)
	assert.Equal(t, " done", events[2].Content)
	terminal := events[len(events)-1]
	require.Len(t, terminal.ToolCalls, 1)
	assert.Equal(t, "search", terminal.ToolCalls[0].Name)
	assert.JSONEq(t, `{"q":"x"}`, terminal.ToolCalls[0].Arguments)
	assert.Equal(t, unified.FinishToolCalls, terminal.FinishReason)
}

func TestReverseStreamPlainTextFinishesStop(t *testing.T) {
	s := newTestReverseStream(t, []string{
		`{"token":"just text"}`,
		`{"isDone":true}`,
	})
	events := drain(t, s)
	terminal := events[len(events)-1]
	assert.Equal(t, unified.FinishStop, terminal.FinishReason)
}

func TestReverseStreamThinkingRoutesToReasoning(t *testing.T) {
	s := newTestReverseStream(t, []string{
		`{"token":"pondering","isThinking":true}`,
		`{"isDone":true}`,
	})
	events := drain(t, s)
	assert.Equal(t, "pondering", events[1].Reasoning)
}

func TestReverseStreamImageProgressRoutesSubsequentTextToReasoning(t *testing.T) {
	s := newTestReverseStream(t, []string{
		`{"imageProgress":{"url":"partial.png"}}`,
		`{"token":"still generating"}`,
		`{"videoComplete":{"url":"done.mp4"}}`,
		`{"isDone":true}`,
	})
	events := drain(t, s)
	// role, reasoning(progress), reasoning(token while active), content(video link), terminal
	assert.Equal(t, "generating image...", events[1].Reasoning)
	assert.Equal(t, "still generating", events[2].Reasoning)
	assert.Equal(t, "[video](https://assets.example.com/done.mp4)", events[3].Content)
}

func TestStripInternalTags(t *testing.T) {
	in := `hello <rolloutId id="1"/> world <isThinking value="true">`
	assert.Equal(t, "hello  world ", stripInternalTags(in))
}

func TestTagScannerHandlesSplitOpeningTag(t *testing.T) {
	sc := &tagScanner{}
	out1 := sc.feed("before <tool_")
	out2 := sc.feed(`call>{"name":"x","arguments":{}}</tool_call> after`)
	assert.Equal(t, "before ", out1)
	assert.Equal(t, " after", out2)
	require.Len(t, sc.toolCalls, 1)
	assert.Equal(t, "x", sc.toolCalls[0].ToolName)
}

func TestRewriteAssetURLLeavesAbsoluteURLsAlone(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/a.png", rewriteAssetURL("https://cdn.example.com/a.png", "https://assets.example.com"))
	assert.Equal(t, "https://assets.example.com/a.png", rewriteAssetURL("a.png", "https://assets.example.com"))
}
