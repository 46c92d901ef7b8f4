package dialect

import (
	"encoding/json"
	"fmt"

	"github.com/aigateway/aigateway/internal/sse"
	"github.com/aigateway/aigateway/internal/unified"
)

// openAITranslator implements Translator for the OpenAI-style dialect
// (spec.md §4.1 "Dialect A"): flat message sequence, tool_calls on assistant
// messages, separate role:"tool" messages carrying tool_call_id.
type openAITranslator struct{}

func (openAITranslator) Name() Name { return OpenAI }

type oaFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaToolCall struct {
	Index    *int           `json:"index,omitempty"`
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Function oaFunctionCall `json:"function"`
}

type oaMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []oaToolCall    `json:"tool_calls,omitempty"`
}

type oaFunctionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type oaTool struct {
	Type     string        `json:"type"`
	Function oaFunctionDef `json:"function"`
}

type oaRequest struct {
	Model       string          `json:"model"`
	Messages    []oaMessage     `json:"messages"`
	Tools       []oaTool        `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}

type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaChoice struct {
	Index        int        `json:"index"`
	Message      *oaMessage `json:"message,omitempty"`
	Delta        *oaMessage `json:"delta,omitempty"`
	FinishReason *string    `json:"finish_reason"`
}

type oaResponse struct {
	ID      string     `json:"id"`
	Model   string     `json:"model"`
	Choices []oaChoice `json:"choices"`
	Usage   oaUsage    `json:"usage"`
}

// --- content part (de)serialization -----------------------------------

type oaContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

func decodeOAContent(raw json.RawMessage) []unified.Block {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []unified.Block{{Kind: unified.KindText, Text: s}}
	}
	var parts []oaContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	blocks := make([]unified.Block, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, unified.Block{Kind: unified.KindText, Text: p.Text})
		case "image_url":
			url := ""
			if p.ImageURL != nil {
				url = p.ImageURL.URL
			}
			blocks = append(blocks, unified.Block{Kind: unified.KindImage, URL: url})
		}
	}
	return blocks
}

func encodeOAContent(blocks []unified.Block) json.RawMessage {
	if len(blocks) == 1 && blocks[0].Kind == unified.KindText {
		b, _ := json.Marshal(blocks[0].Text)
		return b
	}
	parts := make([]oaContentPart, 0, len(blocks))
	for _, blk := range blocks {
		switch blk.Kind {
		case unified.KindText:
			parts = append(parts, oaContentPart{Type: "text", Text: blk.Text})
		case unified.KindImage:
			part := oaContentPart{Type: "image_url"}
			part.ImageURL = &struct {
				URL string `json:"url"`
			}{URL: blk.URL}
			parts = append(parts, part)
		}
	}
	b, _ := json.Marshal(parts)
	return b
}

// --- request conversion -------------------------------------------------

func (t openAITranslator) RequestToUnified(body []byte) (*unified.Request, error) {
	var req oaRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("openai: decode request: %w", err)
	}

	out := &unified.Request{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			out.System = append(out.System, decodeOAContent(m.Content)...)
			continue
		case "tool":
			out.Messages = append(out.Messages, unified.Message{
				Role:       unified.RoleTool,
				ToolCallID: m.ToolCallID,
				Content: []unified.Block{{
					Kind:       unified.KindToolResult,
					ToolCallID: m.ToolCallID,
					ToolResultContent: decodeOAContent(m.Content),
				}},
			})
			continue
		}

		msg := unified.Message{Role: unified.Role(m.Role), Name: m.Name}
		msg.Content = append(msg.Content, decodeOAContent(m.Content)...)
		for _, tc := range m.ToolCalls {
			msg.Content = append(msg.Content, unified.Block{
				Kind:       unified.KindToolUse,
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
				// Verbatim string preserved (spec §4.1 "preserves the
				// original string verbatim when round-tripping A->A").
				ArgsJSON: tc.Function.Arguments,
			})
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, unified.ToolDefinition{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}

	out.ToolChoice = decodeOAToolChoice(req.ToolChoice)
	return out, nil
}

func decodeOAToolChoice(raw json.RawMessage) unified.ToolChoice {
	if len(raw) == 0 {
		return unified.ToolChoice{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "auto":
			return unified.ToolChoice{Mode: unified.ToolChoiceAuto}
		case "none":
			return unified.ToolChoice{Mode: unified.ToolChoiceNone}
		case "required":
			return unified.ToolChoice{Mode: unified.ToolChoiceRequired}
		}
	}
	var named struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &named); err == nil && named.Function.Name != "" {
		return unified.NewNamedToolChoice(named.Function.Name)
	}
	return unified.ToolChoice{}
}

func encodeOAToolChoice(tc unified.ToolChoice) json.RawMessage {
	switch tc.Mode {
	case unified.ToolChoiceAuto:
		b, _ := json.Marshal("auto")
		return b
	case unified.ToolChoiceNone:
		b, _ := json.Marshal("none")
		return b
	case unified.ToolChoiceRequired:
		b, _ := json.Marshal("required")
		return b
	case unified.ToolChoiceNamed:
		b, _ := json.Marshal(map[string]interface{}{
			"type":     "function",
			"function": map[string]string{"name": tc.Name},
		})
		return b
	default:
		return nil
	}
}

func (t openAITranslator) UnifiedToRequest(req *unified.Request) ([]byte, error) {
	out := oaRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if len(req.System) > 0 {
		out.Messages = append(out.Messages, oaMessage{
			Role:    "system",
			Content: encodeOAContent(req.System),
		})
	}

	for _, m := range req.Messages {
		if m.Role == unified.RoleTool {
			var resultBlock *unified.Block
			for i := range m.Content {
				if m.Content[i].Kind == unified.KindToolResult {
					resultBlock = &m.Content[i]
					break
				}
			}
			callID := m.ToolCallID
			var content []unified.Block
			if resultBlock != nil {
				if callID == "" {
					callID = resultBlock.ToolCallID
				}
				content = resultBlock.ToolResultContent
			}
			out.Messages = append(out.Messages, oaMessage{
				Role:       "tool",
				ToolCallID: callID,
				Content:    encodeOAContent(content),
			})
			continue
		}

		var textBlocks []unified.Block
		var toolCalls []oaToolCall
		for _, blk := range m.Content {
			if blk.Kind == unified.KindToolUse {
				idx := len(toolCalls)
				toolCalls = append(toolCalls, oaToolCall{
					ID:       blk.ToolCallID,
					Type:     "function",
					Function: oaFunctionCall{Name: blk.ToolName, Arguments: blk.ArgsJSON},
					Index:    &idx,
				})
				continue
			}
			textBlocks = append(textBlocks, blk)
		}

		msg := oaMessage{Role: string(m.Role), Name: m.Name, ToolCalls: toolCalls}
		if len(textBlocks) > 0 {
			msg.Content = encodeOAContent(textBlocks)
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, oaTool{
			Type: "function",
			Function: oaFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	out.ToolChoice = encodeOAToolChoice(req.ToolChoice)

	return json.Marshal(out)
}

// --- response conversion -------------------------------------------------

func messageFromOA(m *oaMessage) unified.Message {
	if m == nil {
		return unified.Message{Role: unified.RoleAssistant}
	}
	msg := unified.Message{Role: unified.Role(m.Role)}
	if m.Role == "" {
		msg.Role = unified.RoleAssistant
	}
	msg.Content = append(msg.Content, decodeOAContent(m.Content)...)
	for _, tc := range m.ToolCalls {
		msg.Content = append(msg.Content, unified.Block{
			Kind:       unified.KindToolUse,
			ToolCallID: tc.ID,
			ToolName:   tc.Function.Name,
			ArgsJSON:   tc.Function.Arguments,
		})
	}
	return msg
}

func finishReasonFromOA(s *string) unified.FinishReason {
	if s == nil {
		return ""
	}
	switch *s {
	case "length":
		return unified.FinishLength
	case "tool_calls":
		return unified.FinishToolCalls
	case "stop", "":
		return unified.FinishStop
	default:
		return unified.FinishStop
	}
}

func (t openAITranslator) ResponseToUnified(body []byte) (*unified.Completion, error) {
	var resp oaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	out := &unified.Completion{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: unified.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, unified.Choice{
			Message:      messageFromOA(c.Message),
			FinishReason: finishReasonFromOA(c.FinishReason),
		})
	}
	return out, nil
}

func finishReasonToOA(fr unified.FinishReason) *string {
	var s string
	switch fr {
	case unified.FinishLength:
		s = "length"
	case unified.FinishToolCalls:
		s = "tool_calls"
	case unified.FinishError:
		s = "stop"
	default:
		s = "stop"
	}
	return &s
}

func (t openAITranslator) UnifiedToResponse(c *unified.Completion) ([]byte, error) {
	resp := oaResponse{
		ID:    c.ID,
		Model: c.Model,
		Usage: oaUsage{
			PromptTokens:     c.Usage.PromptTokens,
			CompletionTokens: c.Usage.CompletionTokens,
			TotalTokens:      c.Usage.TotalTokens,
		},
	}
	for i, choice := range c.Choices {
		var textBlocks []unified.Block
		var toolCalls []oaToolCall
		for _, blk := range choice.Message.Content {
			if blk.Kind == unified.KindToolUse {
				toolCalls = append(toolCalls, oaToolCall{
					ID:       blk.ToolCallID,
					Type:     "function",
					Function: oaFunctionCall{Name: blk.ToolName, Arguments: blk.ArgsJSON},
				})
				continue
			}
			textBlocks = append(textBlocks, blk)
		}
		msg := &oaMessage{Role: "assistant", ToolCalls: toolCalls}
		if len(textBlocks) > 0 {
			msg.Content = encodeOAContent(textBlocks)
		}
		resp.Choices = append(resp.Choices, oaChoice{
			Index:        i,
			Message:      msg,
			FinishReason: finishReasonToOA(choice.FinishReason),
		})
	}
	return json.Marshal(resp)
}

// --- streaming ------------------------------------------------------------

func (t openAITranslator) StreamEventToUnified(state *StreamState, raw []byte) ([]unified.StreamEvent, error) {
	var chunk oaResponse
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return nil, fmt.Errorf("openai: decode stream chunk: %w", err)
	}

	var events []unified.StreamEvent
	if !state.InitialRoleSent {
		events = append(events, unified.StreamEvent{Role: unified.RoleAssistant})
		state.InitialRoleSent = true
	}

	for _, c := range chunk.Choices {
		if c.Delta == nil {
			continue
		}
		if content, ok := flatContentString(c.Delta.Content); ok && content != "" {
			events = append(events, unified.StreamEvent{Content: content})
		}
		for _, tc := range c.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			buf := state.ToolCall(idx)
			ev := unified.ToolCallDelta{Index: idx, Arguments: tc.Function.Arguments}
			if !buf.Announced {
				buf.ID = tc.ID
				buf.Name = tc.Function.Name
				ev.ID = tc.ID
				ev.Name = tc.Function.Name
				buf.Announced = true
			}
			buf.Arguments += tc.Function.Arguments
			events = append(events, unified.StreamEvent{ToolCalls: []unified.ToolCallDelta{ev}})
		}
		if c.FinishReason != nil {
			fr := finishReasonFromOA(c.FinishReason)
			if len(state.ToolCalls) > 0 && fr == unified.FinishStop {
				fr = unified.FinishToolCalls
			}
			events = append(events, unified.StreamEvent{FinishReason: fr})
		}
	}
	return events, nil
}

func flatContentString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	blocks := decodeOAContent(raw)
	var out string
	for _, b := range blocks {
		if b.Kind == unified.KindText {
			out += b.Text
		}
	}
	return out, out != ""
}

func (t openAITranslator) UnifiedToStreamFrames(state *ClientStreamState, ev unified.StreamEvent) ([]sse.Event, error) {
	chunk := oaResponse{
		ID:    state.MessageID,
		Model: state.Model,
		Choices: []oaChoice{{
			Index: 0,
			Delta: &oaMessage{},
		}},
	}
	delta := chunk.Choices[0].Delta

	switch {
	case ev.Role != "" && !state.RoleSent:
		delta.Role = string(ev.Role)
		state.RoleSent = true
	case ev.Content != "":
		b, _ := json.Marshal(ev.Content)
		delta.Content = b
	case len(ev.ToolCalls) > 0:
		for _, tc := range ev.ToolCalls {
			call := oaToolCall{Function: oaFunctionCall{Arguments: tc.Arguments}}
			idx := tc.Index
			call.Index = &idx
			if tc.ID != "" {
				call.ID = tc.ID
				call.Type = "function"
			}
			if tc.Name != "" {
				call.Function.Name = tc.Name
			}
			delta.ToolCalls = append(delta.ToolCalls, call)
		}
	case ev.IsTerminal():
		fr := finishReasonToOA(ev.FinishReason)
		chunk.Choices[0].FinishReason = fr
		chunk.Choices[0].Delta = &oaMessage{}
	default:
		return nil, nil
	}

	b, err := json.Marshal(chunk)
	if err != nil {
		return nil, err
	}
	frames := []sse.Event{{Data: string(b)}}
	if ev.IsTerminal() {
		frames = append(frames, sse.Event{Data: "[DONE]"})
	}
	return frames, nil
}
