package dialect

import (
	"encoding/json"
	"fmt"

	"github.com/aigateway/aigateway/internal/sse"
	"github.com/aigateway/aigateway/internal/unified"
)

// geminiTranslator implements Translator for the Gemini-style dialect
// (spec.md §4.1 "Dialect C"): contents/parts, system_instruction top-level
// field, functionCall/functionResponse parts, roles "user"/"model".
type geminiTranslator struct{}

func (geminiTranslator) Name() Name { return Gemini }

type gmFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type gmFunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

type gmPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData,omitempty"`
	FunctionCall     *gmFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *gmFunctionResponse `json:"functionResponse,omitempty"`
}

type gmContent struct {
	Role  string   `json:"role"`
	Parts []gmPart `json:"parts"`
}

type gmFunctionDecl struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type gmTool struct {
	FunctionDeclarations []gmFunctionDecl `json:"functionDeclarations"`
}

type gmGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type gmRequest struct {
	Contents          []gmContent         `json:"contents"`
	SystemInstruction *gmContent          `json:"systemInstruction,omitempty"`
	Tools             []gmTool            `json:"tools,omitempty"`
	ToolConfig        json.RawMessage     `json:"toolConfig,omitempty"`
	GenerationConfig  *gmGenerationConfig `json:"generationConfig,omitempty"`
}

type gmUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type gmCandidate struct {
	Content      gmContent `json:"content"`
	FinishReason string    `json:"finishReason,omitempty"`
}

type gmResponse struct {
	Candidates    []gmCandidate    `json:"candidates"`
	UsageMetadata *gmUsageMetadata `json:"usageMetadata,omitempty"`
}

func partsToBlocks(parts []gmPart) []unified.Block {
	out := make([]unified.Block, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Text != "":
			out = append(out, unified.Block{Kind: unified.KindText, Text: p.Text})
		case p.InlineData != nil:
			out = append(out, unified.Block{Kind: unified.KindImage, Mime: p.InlineData.MimeType, Data: []byte(p.InlineData.Data)})
		case p.FunctionCall != nil:
			args, _ := json.Marshal(p.FunctionCall.Args)
			out = append(out, unified.Block{
				Kind: unified.KindToolUse, ToolName: p.FunctionCall.Name,
				ToolCallID: p.FunctionCall.Name, ArgsJSON: string(args),
			})
		case p.FunctionResponse != nil:
			content, _ := json.Marshal(p.FunctionResponse.Response)
			out = append(out, unified.Block{
				Kind:       unified.KindToolResult,
				ToolCallID: p.FunctionResponse.Name,
				ToolResultContent: []unified.Block{{Kind: unified.KindText, Text: string(content)}},
			})
		}
	}
	return out
}

func blocksToParts(blocks []unified.Block) []gmPart {
	out := make([]gmPart, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case unified.KindText, unified.KindThinking:
			out = append(out, gmPart{Text: b.Text})
		case unified.KindImage:
			part := gmPart{InlineData: &struct {
				MimeType string `json:"mimeType"`
				Data     string `json:"data"`
			}{MimeType: b.Mime, Data: string(b.Data)}}
			out = append(out, part)
		case unified.KindToolUse:
			var args map[string]interface{}
			_ = json.Unmarshal([]byte(b.ArgsJSON), &args)
			out = append(out, gmPart{FunctionCall: &gmFunctionCall{Name: b.ToolName, Args: args}})
		case unified.KindToolResult:
			resp := map[string]interface{}{}
			if len(b.ToolResultContent) > 0 {
				resp["content"] = b.ToolResultContent[0].Text
			}
			if b.IsError {
				resp["error"] = true
			}
			out = append(out, gmPart{FunctionResponse: &gmFunctionResponse{Name: b.ToolCallID, Response: resp}})
		}
	}
	return out
}

func roleToGemini(r unified.Role) string {
	if r == unified.RoleAssistant {
		return "model"
	}
	return "user"
}

func roleFromGemini(r string) unified.Role {
	if r == "model" {
		return unified.RoleAssistant
	}
	return unified.RoleUser
}

func (t geminiTranslator) RequestToUnified(body []byte) (*unified.Request, error) {
	var req gmRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("gemini: decode request: %w", err)
	}
	out := &unified.Request{}
	if req.SystemInstruction != nil {
		out.System = partsToBlocks(req.SystemInstruction.Parts)
	}
	for _, c := range req.Contents {
		out.Messages = append(out.Messages, unified.Message{
			Role:    roleFromGemini(c.Role),
			Content: partsToBlocks(c.Parts),
		})
	}
	for _, tool := range req.Tools {
		for _, fn := range tool.FunctionDeclarations {
			out.Tools = append(out.Tools, unified.ToolDefinition{
				Name: fn.Name, Description: fn.Description, InputSchema: fn.Parameters,
			})
		}
	}
	if req.GenerationConfig != nil {
		out.Temperature = req.GenerationConfig.Temperature
		out.MaxTokens = req.GenerationConfig.MaxOutputTokens
	}
	return out, nil
}

// UnifiedToRequest additionally folds any tool-role message into the
// preceding (or, if none pending, a new) user turn as a functionResponse
// part, since Gemini has no separate tool role (spec §4.1 Role mapping).
func (t geminiTranslator) UnifiedToRequest(req *unified.Request) ([]byte, error) {
	out := gmRequest{}
	if len(req.System) > 0 {
		out.SystemInstruction = &gmContent{Parts: blocksToParts(req.System)}
	}

	for _, m := range req.Messages {
		if m.Role == unified.RoleTool {
			parts := blocksToParts(m.Content)
			if n := len(out.Contents); n > 0 && out.Contents[n-1].Role == "user" {
				out.Contents[n-1].Parts = append(out.Contents[n-1].Parts, parts...)
			} else {
				out.Contents = append(out.Contents, gmContent{Role: "user", Parts: parts})
			}
			continue
		}
		out.Contents = append(out.Contents, gmContent{
			Role:  roleToGemini(m.Role),
			Parts: blocksToParts(m.Content),
		})
	}

	if len(req.Tools) > 0 {
		decls := make([]gmFunctionDecl, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, gmFunctionDecl{Name: tool.Name, Description: tool.Description, Parameters: tool.InputSchema})
		}
		out.Tools = []gmTool{{FunctionDeclarations: decls}}
	}

	if req.Temperature != nil || req.MaxTokens != nil {
		out.GenerationConfig = &gmGenerationConfig{Temperature: req.Temperature, MaxOutputTokens: req.MaxTokens}
	}

	return json.Marshal(out)
}

func finishReasonFromGemini(fr string) unified.FinishReason {
	switch fr {
	case "MAX_TOKENS":
		return unified.FinishLength
	case "STOP", "":
		return unified.FinishStop
	default:
		return unified.FinishStop
	}
}

func finishReasonToGemini(fr unified.FinishReason) string {
	switch fr {
	case unified.FinishLength:
		return "MAX_TOKENS"
	default:
		return "STOP"
	}
}

func candidateHasToolCall(c gmCandidate) bool {
	for _, p := range c.Content.Parts {
		if p.FunctionCall != nil {
			return true
		}
	}
	return false
}

func (t geminiTranslator) ResponseToUnified(body []byte) (*unified.Completion, error) {
	var resp gmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	out := &unified.Completion{}
	if resp.UsageMetadata != nil {
		out.Usage = unified.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	for _, c := range resp.Candidates {
		fr := finishReasonFromGemini(c.FinishReason)
		if candidateHasToolCall(c) {
			fr = unified.FinishToolCalls
		}
		out.Choices = append(out.Choices, unified.Choice{
			Message:      unified.Message{Role: unified.RoleAssistant, Content: partsToBlocks(c.Content.Parts)},
			FinishReason: fr,
		})
	}
	return out, nil
}

func (t geminiTranslator) UnifiedToResponse(c *unified.Completion) ([]byte, error) {
	resp := gmResponse{
		UsageMetadata: &gmUsageMetadata{
			PromptTokenCount:     c.Usage.PromptTokens,
			CandidatesTokenCount: c.Usage.CompletionTokens,
			TotalTokenCount:      c.Usage.TotalTokens,
		},
	}
	for _, choice := range c.Choices {
		resp.Candidates = append(resp.Candidates, gmCandidate{
			Content:      gmContent{Role: "model", Parts: blocksToParts(choice.Message.Content)},
			FinishReason: finishReasonToGemini(choice.FinishReason),
		})
	}
	return json.Marshal(resp)
}

// --- streaming ---------------------------------------------------------
//
// Each streamed chunk is a partial gmResponse (newline-delimited JSON per
// spec §6); there is no separate envelope type to switch on.

func (t geminiTranslator) StreamEventToUnified(state *StreamState, raw []byte) ([]unified.StreamEvent, error) {
	var chunk gmResponse
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return nil, fmt.Errorf("gemini: decode stream chunk: %w", err)
	}

	var events []unified.StreamEvent
	if !state.InitialRoleSent {
		events = append(events, unified.StreamEvent{Role: unified.RoleAssistant})
		state.InitialRoleSent = true
	}

	for _, c := range chunk.Candidates {
		for _, p := range c.Content.Parts {
			switch {
			case p.Text != "":
				events = append(events, unified.StreamEvent{Content: p.Text})
			case p.FunctionCall != nil:
				idx := len(state.ToolCalls)
				buf := state.ToolCall(idx)
				args, _ := json.Marshal(p.FunctionCall.Args)
				buf.ID = p.FunctionCall.Name
				buf.Name = p.FunctionCall.Name
				buf.Arguments = string(args)
				buf.Announced = true
				events = append(events, unified.StreamEvent{
					ToolCalls: []unified.ToolCallDelta{{Index: idx, ID: buf.ID, Name: buf.Name, Arguments: string(args)}},
				})
			}
		}
		if c.FinishReason != "" {
			fr := finishReasonFromGemini(c.FinishReason)
			if len(state.ToolCalls) > 0 {
				fr = unified.FinishToolCalls
			}
			ev := unified.StreamEvent{FinishReason: fr}
			if chunk.UsageMetadata != nil {
				ev.Usage = &unified.Usage{
					PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
					CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
					TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
				}
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

func (t geminiTranslator) UnifiedToStreamFrames(state *ClientStreamState, ev unified.StreamEvent) ([]sse.Event, error) {
	// Gemini streams newline-delimited JSON, not typed SSE; the ingress
	// writes one object per line rather than a named event, so Event is
	// always left blank here.
	chunk := gmResponse{}
	switch {
	case ev.Role != "":
		return nil, nil // no synthetic role chunk in Gemini wire format
	case ev.Content != "":
		chunk.Candidates = []gmCandidate{{Content: gmContent{Role: "model", Parts: []gmPart{{Text: ev.Content}}}}}
	case len(ev.ToolCalls) > 0:
		tc := ev.ToolCalls[0]
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(tc.Arguments), &args)
		chunk.Candidates = []gmCandidate{{Content: gmContent{Role: "model", Parts: []gmPart{
			{FunctionCall: &gmFunctionCall{Name: tc.Name, Args: args}},
		}}}}
	case ev.IsTerminal():
		chunk.Candidates = []gmCandidate{{FinishReason: finishReasonToGemini(ev.FinishReason)}}
		if ev.Usage != nil {
			chunk.UsageMetadata = &gmUsageMetadata{
				PromptTokenCount: ev.Usage.PromptTokens, CandidatesTokenCount: ev.Usage.CompletionTokens,
				TotalTokenCount: ev.Usage.TotalTokens,
			}
		}
	default:
		return nil, nil
	}

	b, err := json.Marshal(chunk)
	if err != nil {
		return nil, err
	}
	return []sse.Event{{Data: string(b)}}, nil
}
