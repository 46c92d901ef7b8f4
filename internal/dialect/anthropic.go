package dialect

import (
	"encoding/json"
	"fmt"

	"github.com/aigateway/aigateway/internal/sse"
	"github.com/aigateway/aigateway/internal/unified"
)

// anthropicTranslator implements Translator for the Anthropic-style dialect
// (spec.md §4.1 "Dialect B"): block-sequence messages, top-level system
// field, cache_control markers on individual blocks.
type anthropicTranslator struct{}

func (anthropicTranslator) Name() Name { return Anthropic }

type anCacheControl struct {
	Type string `json:"type"`
	TTL  string `json:"ttl,omitempty"`
}

type anBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	} `json:"source,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	CacheControl *anCacheControl `json:"cache_control,omitempty"`
}

type anMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      json.RawMessage `json:"system,omitempty"`
	Messages    []anMessage     `json:"messages"`
	Tools       []anTool        `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type anUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

type anResponse struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	Content    []anBlock `json:"content"`
	StopReason string    `json:"stop_reason"`
	Usage      anUsage   `json:"usage"`
}

func decodeAnBlocks(raw json.RawMessage) []unified.Block {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []unified.Block{{Kind: unified.KindText, Text: s}}
	}
	var blocks []anBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	out := make([]unified.Block, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, anBlockToUnified(b))
	}
	return out
}

func anBlockToUnified(b anBlock) unified.Block {
	blk := unified.Block{}
	if b.CacheControl != nil {
		ttl := unified.CacheTTL5m
		if b.CacheControl.TTL == "1h" {
			ttl = unified.CacheTTL1h
		}
		blk.CacheControl = &unified.CacheControl{TTL: ttl}
	}
	switch b.Type {
	case "text":
		blk.Kind = unified.KindText
		blk.Text = b.Text
	case "thinking":
		blk.Kind = unified.KindThinking
		blk.Text = b.Thinking
		blk.Signature = b.Signature
	case "image":
		blk.Kind = unified.KindImage
		if b.Source != nil {
			blk.Mime = b.Source.MediaType
			blk.Data = []byte(b.Source.Data)
		}
	case "tool_use":
		blk.Kind = unified.KindToolUse
		blk.ToolCallID = b.ID
		blk.ToolName = b.Name
		blk.ArgsJSON = string(b.Input)
	case "tool_result":
		blk.Kind = unified.KindToolResult
		blk.ToolCallID = b.ToolUseID
		blk.IsError = b.IsError
		blk.ToolResultContent = decodeAnBlocks(b.Content)
	}
	return blk
}

func unifiedBlockToAn(b unified.Block) anBlock {
	out := anBlock{}
	if b.CacheControl != nil {
		out.CacheControl = &anCacheControl{Type: "ephemeral", TTL: string(b.CacheControl.TTL)}
	}
	switch b.Kind {
	case unified.KindText:
		out.Type = "text"
		out.Text = b.Text
	case unified.KindThinking:
		out.Type = "thinking"
		out.Thinking = b.Text
		out.Signature = b.Signature
	case unified.KindImage:
		out.Type = "image"
		out.Source = &struct {
			Type      string `json:"type"`
			MediaType string `json:"media_type"`
			Data      string `json:"data"`
		}{Type: "base64", MediaType: b.Mime, Data: string(b.Data)}
	case unified.KindToolUse:
		out.Type = "tool_use"
		out.ID = b.ToolCallID
		out.Name = b.ToolName
		if b.ArgsJSON != "" {
			out.Input = json.RawMessage(b.ArgsJSON)
		} else {
			out.Input = json.RawMessage("{}")
		}
	case unified.KindToolResult:
		out.Type = "tool_result"
		out.ToolUseID = b.ToolCallID
		out.IsError = b.IsError
		content := encodeAnBlocks(b.ToolResultContent)
		out.Content = content
	}
	return out
}

func encodeAnBlocks(blocks []unified.Block) json.RawMessage {
	if len(blocks) == 1 && blocks[0].Kind == unified.KindText && blocks[0].CacheControl == nil {
		b, _ := json.Marshal(blocks[0].Text)
		return b
	}
	out := make([]anBlock, 0, len(blocks))
	for _, blk := range blocks {
		out = append(out, unifiedBlockToAn(blk))
	}
	b, _ := json.Marshal(out)
	return b
}

func decodeAnSystem(raw json.RawMessage) []unified.Block {
	return decodeAnBlocks(raw)
}

func encodeAnSystem(blocks []unified.Block) json.RawMessage {
	if len(blocks) == 0 {
		return nil
	}
	return encodeAnBlocks(blocks)
}

func decodeAnToolChoice(raw json.RawMessage) unified.ToolChoice {
	if len(raw) == 0 {
		return unified.ToolChoice{}
	}
	var tc struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &tc); err != nil {
		return unified.ToolChoice{}
	}
	switch tc.Type {
	case "auto":
		return unified.ToolChoice{Mode: unified.ToolChoiceAuto}
	case "none":
		return unified.ToolChoice{Mode: unified.ToolChoiceNone}
	case "any":
		return unified.ToolChoice{Mode: unified.ToolChoiceRequired}
	case "tool":
		return unified.NewNamedToolChoice(tc.Name)
	}
	return unified.ToolChoice{}
}

func encodeAnToolChoice(tc unified.ToolChoice) json.RawMessage {
	switch tc.Mode {
	case unified.ToolChoiceAuto:
		b, _ := json.Marshal(map[string]string{"type": "auto"})
		return b
	case unified.ToolChoiceNone:
		b, _ := json.Marshal(map[string]string{"type": "none"})
		return b
	case unified.ToolChoiceRequired:
		b, _ := json.Marshal(map[string]string{"type": "any"})
		return b
	case unified.ToolChoiceNamed:
		b, _ := json.Marshal(map[string]string{"type": "tool", "name": tc.Name})
		return b
	default:
		return nil
	}
}

func (t anthropicTranslator) RequestToUnified(body []byte) (*unified.Request, error) {
	var req anRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("anthropic: decode request: %w", err)
	}
	out := &unified.Request{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		MaxTokens:   &req.MaxTokens,
		System:      decodeAnSystem(req.System),
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, unified.Message{
			Role:    unified.Role(m.Role),
			Content: decodeAnBlocks(m.Content),
		})
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, unified.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	out.ToolChoice = decodeAnToolChoice(req.ToolChoice)
	return out, nil
}

func (t anthropicTranslator) UnifiedToRequest(req *unified.Request) ([]byte, error) {
	out := anRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		System:      encodeAnSystem(req.System),
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	} else {
		out.MaxTokens = 4096
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, anMessage{
			Role:    string(m.Role),
			Content: encodeAnBlocks(m.Content),
		})
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, anTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	out.ToolChoice = encodeAnToolChoice(req.ToolChoice)
	return json.Marshal(out)
}

func finishReasonFromAn(stop string) unified.FinishReason {
	switch stop {
	case "max_tokens":
		return unified.FinishLength
	case "tool_use":
		return unified.FinishToolCalls
	default:
		return unified.FinishStop
	}
}

func finishReasonToAn(fr unified.FinishReason) string {
	switch fr {
	case unified.FinishLength:
		return "max_tokens"
	case unified.FinishToolCalls:
		return "tool_use"
	default:
		return "end_turn"
	}
}

func (t anthropicTranslator) ResponseToUnified(body []byte) (*unified.Completion, error) {
	var resp anResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}
	msg := unified.Message{Role: unified.RoleAssistant}
	for _, b := range resp.Content {
		msg.Content = append(msg.Content, anBlockToUnified(b))
	}
	return &unified.Completion{
		ID:    resp.ID,
		Model: resp.Model,
		Choices: []unified.Choice{{
			Message:      msg,
			FinishReason: finishReasonFromAn(resp.StopReason),
		}},
		Usage: unified.Usage{
			PromptTokens:        resp.Usage.InputTokens,
			CompletionTokens:    resp.Usage.OutputTokens,
			TotalTokens:         resp.Usage.InputTokens + resp.Usage.OutputTokens,
			CacheReadTokens:     resp.Usage.CacheReadInputTokens,
			CacheCreationTokens: resp.Usage.CacheCreationInputTokens,
		},
	}, nil
}

func (t anthropicTranslator) UnifiedToResponse(c *unified.Completion) ([]byte, error) {
	resp := anResponse{ID: c.ID, Model: c.Model}
	if len(c.Choices) > 0 {
		choice := c.Choices[0]
		for _, b := range choice.Message.Content {
			resp.Content = append(resp.Content, unifiedBlockToAn(b))
		}
		resp.StopReason = finishReasonToAn(choice.FinishReason)
	}
	resp.Usage = anUsage{
		InputTokens:              c.Usage.PromptTokens,
		OutputTokens:             c.Usage.CompletionTokens,
		CacheReadInputTokens:     c.Usage.CacheReadTokens,
		CacheCreationInputTokens: c.Usage.CacheCreationTokens,
	}
	return json.Marshal(resp)
}

// --- streaming -------------------------------------------------------------
//
// Anthropic's wire stream is a sequence of typed SSE events:
// message_start, content_block_start, content_block_delta
// (text_delta|input_json_delta|thinking_delta), content_block_stop,
// message_delta (stop_reason + usage), message_stop. raw here is the `data:`
// payload only; the event name arrives packed into a "type" field as
// Anthropic does on the wire, so a bare envelope carrying "type" is enough.

type anStreamEnvelope struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	ContentBlock *anBlock `json:"content_block"`
	Usage        *anUsage `json:"usage"`
}

func (t anthropicTranslator) StreamEventToUnified(state *StreamState, raw []byte) ([]unified.StreamEvent, error) {
	var env anStreamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("anthropic: decode stream event: %w", err)
	}

	var events []unified.StreamEvent
	switch env.Type {
	case "message_start":
		if !state.InitialRoleSent {
			events = append(events, unified.StreamEvent{Role: unified.RoleAssistant})
			state.InitialRoleSent = true
		}
	case "content_block_start":
		if env.ContentBlock != nil && env.ContentBlock.Type == "tool_use" {
			buf := state.ToolCall(env.Index)
			buf.ID = env.ContentBlock.ID
			buf.Name = env.ContentBlock.Name
			buf.Announced = true
			events = append(events, unified.StreamEvent{
				ToolCalls: []unified.ToolCallDelta{{Index: env.Index, ID: buf.ID, Name: buf.Name}},
			})
		}
	case "content_block_delta":
		switch env.Delta.Type {
		case "text_delta":
			events = append(events, unified.StreamEvent{Content: env.Delta.Text})
		case "thinking_delta":
			events = append(events, unified.StreamEvent{Reasoning: env.Delta.Thinking})
		case "input_json_delta":
			buf := state.ToolCall(env.Index)
			buf.Arguments += env.Delta.PartialJSON
			events = append(events, unified.StreamEvent{
				ToolCalls: []unified.ToolCallDelta{{Index: env.Index, Arguments: env.Delta.PartialJSON}},
			})
		}
	case "message_delta":
		if env.Delta.StopReason != "" {
			fr := finishReasonFromAn(env.Delta.StopReason)
			if len(state.ToolCalls) > 0 && fr == unified.FinishStop {
				fr = unified.FinishToolCalls
			}
			ev := unified.StreamEvent{FinishReason: fr}
			if env.Usage != nil {
				ev.Usage = &unified.Usage{
					CompletionTokens:    env.Usage.OutputTokens,
					CacheReadTokens:     env.Usage.CacheReadInputTokens,
					CacheCreationTokens: env.Usage.CacheCreationInputTokens,
				}
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

func (t anthropicTranslator) UnifiedToStreamFrames(state *ClientStreamState, ev unified.StreamEvent) ([]sse.Event, error) {
	var frames []sse.Event

	switch {
	case ev.Role != "" && !state.RoleSent:
		state.RoleSent = true
		data, _ := json.Marshal(map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id": state.MessageID, "model": state.Model, "role": "assistant",
				"content": []interface{}{}, "usage": map[string]int{"input_tokens": 0, "output_tokens": 0},
			},
		})
		frames = append(frames, sse.Event{Event: "message_start", Data: string(data)})

	case ev.Content != "":
		if !state.BlockOpen || state.OpenBlockKind != unified.KindText {
			frames = append(frames, openAnBlock(state, unified.KindText)...)
		}
		data, _ := json.Marshal(map[string]interface{}{
			"type": "content_block_delta", "index": state.OpenBlockIdx,
			"delta": map[string]string{"type": "text_delta", "text": ev.Content},
		})
		frames = append(frames, sse.Event{Event: "content_block_delta", Data: string(data)})

	case ev.Reasoning != "":
		if !state.BlockOpen || state.OpenBlockKind != unified.KindThinking {
			frames = append(frames, openAnBlock(state, unified.KindThinking)...)
		}
		data, _ := json.Marshal(map[string]interface{}{
			"type": "content_block_delta", "index": state.OpenBlockIdx,
			"delta": map[string]string{"type": "thinking_delta", "thinking": ev.Reasoning},
		})
		frames = append(frames, sse.Event{Event: "content_block_delta", Data: string(data)})

	case len(ev.ToolCalls) > 0:
		tc := ev.ToolCalls[0]
		if !state.BlockOpen || state.OpenBlockKind != unified.KindToolUse {
			frames = append(frames, closeAnBlock(state)...)
			state.ContentIndex++
			state.OpenBlockIdx = state.ContentIndex
			state.OpenBlockKind = unified.KindToolUse
			state.BlockOpen = true
			data, _ := json.Marshal(map[string]interface{}{
				"type": "content_block_start", "index": state.OpenBlockIdx,
				"content_block": map[string]interface{}{"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": map[string]interface{}{}},
			})
			frames = append(frames, sse.Event{Event: "content_block_start", Data: string(data)})
		}
		if tc.Arguments != "" {
			data, _ := json.Marshal(map[string]interface{}{
				"type": "content_block_delta", "index": state.OpenBlockIdx,
				"delta": map[string]string{"type": "input_json_delta", "partial_json": tc.Arguments},
			})
			frames = append(frames, sse.Event{Event: "content_block_delta", Data: string(data)})
		}

	case ev.IsTerminal():
		frames = append(frames, closeAnBlock(state)...)
		deltaData, _ := json.Marshal(map[string]interface{}{
			"type":  "message_delta",
			"delta": map[string]string{"stop_reason": finishReasonToAn(ev.FinishReason)},
			"usage": map[string]int{"output_tokens": 0},
		})
		frames = append(frames, sse.Event{Event: "message_delta", Data: string(deltaData)})
		frames = append(frames, sse.Event{Event: "message_stop", Data: `{"type":"message_stop"}`})
	}

	return frames, nil
}

func openAnBlock(state *ClientStreamState, kind unified.Kind) []sse.Event {
	var frames []sse.Event
	frames = append(frames, closeAnBlock(state)...)
	state.ContentIndex++
	state.OpenBlockIdx = state.ContentIndex
	state.OpenBlockKind = kind
	state.BlockOpen = true

	initial := map[string]interface{}{"type": "text", "text": ""}
	if kind == unified.KindThinking {
		initial = map[string]interface{}{"type": "thinking", "thinking": ""}
	}
	data, _ := json.Marshal(map[string]interface{}{
		"type": "content_block_start", "index": state.OpenBlockIdx, "content_block": initial,
	})
	frames = append(frames, sse.Event{Event: "content_block_start", Data: string(data)})
	return frames
}

func closeAnBlock(state *ClientStreamState) []sse.Event {
	if !state.BlockOpen {
		return nil
	}
	state.BlockOpen = false
	data, _ := json.Marshal(map[string]interface{}{"type": "content_block_stop", "index": state.OpenBlockIdx})
	return []sse.Event{{Event: "content_block_stop", Data: string(data)}}
}
