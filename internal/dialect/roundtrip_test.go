package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigateway/aigateway/internal/unified"
)

// roundTripRequests returns a set of unified requests exercising text,
// tool-use/tool-result, and system-prompt shapes, for the round-trip
// invariant in spec §8: to_dialect_D then from_dialect_D reproduces the
// original request under canonical ordering.
func roundTripRequests() []*unified.Request {
	temp := 0.5
	maxTok := 512
	return []*unified.Request{
		{
			Model: "m",
			Messages: []unified.Message{
				{Role: unified.RoleUser, Content: []unified.Block{{Kind: unified.KindText, Text: "hello"}}},
			},
		},
		{
			Model:       "m",
			Temperature: &temp,
			MaxTokens:   &maxTok,
			System:      []unified.Block{{Kind: unified.KindText, Text: "be concise"}},
			Messages: []unified.Message{
				{Role: unified.RoleUser, Content: []unified.Block{{Kind: unified.KindText, Text: "what is the weather"}}},
				{
					Role: unified.RoleAssistant,
					Content: []unified.Block{
						{Kind: unified.KindToolUse, ToolCallID: "call_1", ToolName: "get_weather", ArgsJSON: `{"city":"nyc"}`},
					},
				},
				{
					Role:       unified.RoleTool,
					ToolCallID: "call_1",
					Content: []unified.Block{{
						Kind:              unified.KindToolResult,
						ToolCallID:        "call_1",
						ToolResultContent: []unified.Block{{Kind: unified.KindText, Text: "sunny, 72F"}},
					}},
				},
			},
			Tools: []unified.ToolDefinition{
				{Name: "get_weather", Description: "looks up weather", InputSchema: map[string]interface{}{"type": "object"}},
			},
			ToolChoice: unified.NewNamedToolChoice("get_weather"),
		},
	}
}

func TestOpenAIRoundTrip(t *testing.T) {
	tr := openAITranslator{}
	for _, req := range roundTripRequests() {
		wire, err := tr.UnifiedToRequest(req)
		require.NoError(t, err)

		got, err := tr.RequestToUnified(wire)
		require.NoError(t, err)

		assertRequestsEquivalent(t, req, got)
	}
}

func TestAnthropicRoundTrip(t *testing.T) {
	tr := anthropicTranslator{}
	for _, req := range roundTripRequests() {
		wire, err := tr.UnifiedToRequest(req)
		require.NoError(t, err)

		got, err := tr.RequestToUnified(wire)
		require.NoError(t, err)

		assertRequestsEquivalent(t, req, got)
	}
}

// assertRequestsEquivalent compares the fields a round-trip is expected to
// preserve exactly; tool/system/message content is compared structurally
// rather than byte-for-byte since each dialect's wire form may reorder
// object keys.
func assertRequestsEquivalent(t *testing.T, want, got *unified.Request) {
	t.Helper()
	assert.Equal(t, want.Model, got.Model)
	assert.Equal(t, want.Temperature, got.Temperature)
	assert.Equal(t, want.MaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, len(want.Messages))
	for i := range want.Messages {
		assert.Equal(t, want.Messages[i].Role, got.Messages[i].Role, "message %d role", i)
		require.Len(t, got.Messages[i].Content, len(want.Messages[i].Content), "message %d content", i)
		for j := range want.Messages[i].Content {
			wb, gb := want.Messages[i].Content[j], got.Messages[i].Content[j]
			assert.Equal(t, wb.Kind, gb.Kind, "message %d block %d kind", i, j)
			assert.Equal(t, wb.Text, gb.Text, "message %d block %d text", i, j)
			if wb.Kind == unified.KindToolUse {
				assert.Equal(t, wb.ToolName, gb.ToolName, "message %d block %d tool name", i, j)
				assert.JSONEq(t, wb.ArgsJSON, gb.ArgsJSON, "message %d block %d args", i, j)
			}
			if wb.Kind == unified.KindToolResult {
				assert.Equal(t, wb.ToolCallID, gb.ToolCallID, "message %d block %d tool_call_id", i, j)
				require.Len(t, gb.ToolResultContent, len(wb.ToolResultContent))
				for k := range wb.ToolResultContent {
					assert.Equal(t, wb.ToolResultContent[k].Text, gb.ToolResultContent[k].Text, "message %d block %d result %d", i, j, k)
				}
			}
		}
	}
	require.Len(t, got.Tools, len(want.Tools))
	for i := range want.Tools {
		assert.Equal(t, want.Tools[i].Name, got.Tools[i].Name)
		assert.Equal(t, want.Tools[i].Description, got.Tools[i].Description)
	}
	assert.Equal(t, want.ToolChoice, got.ToolChoice)
}
