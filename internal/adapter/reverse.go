package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aigateway/aigateway/internal/credential"
	"github.com/aigateway/aigateway/internal/gatewayerr"
	"github.com/aigateway/aigateway/internal/httpclient"
	"github.com/aigateway/aigateway/internal/unified"
)

// ReverseConfig configures the reverse-engineered web-chat adapter
// (spec §4.4 "Reverse web-chat adapter").
type ReverseConfig struct {
	Kind       credential.Kind
	BaseURL    string
	ChatPath   string
	UploadPath string

	// AssetBaseURL is prepended to image/video URLs whose scheme is missing
	// (spec §4.4 "rewritten to an absolute asset URL").
	AssetBaseURL string

	// UsageQueryTotal is the hard-coded "total query" constant the upstream
	// reports usage against; the source fixes it at 80 and whether it
	// should be dynamic is an open question (spec §9).
	UsageQueryTotal int64
}

// ReverseAdapter speaks to a web-chat backend that has no public API: it
// collapses the conversation into one prompt, uploads attachments
// separately, and reconstructs a clean delta stream from a noisy
// token/event sequence (spec §4.4).
type ReverseAdapter struct {
	cfg  ReverseConfig
	http *httpclient.Client
}

// NewReverse builds a ReverseAdapter.
func NewReverse(cfg ReverseConfig) *ReverseAdapter {
	if cfg.UsageQueryTotal == 0 {
		cfg.UsageQueryTotal = 80
	}
	return &ReverseAdapter{cfg: cfg, http: httpclient.New(httpclient.Config{BaseURL: cfg.BaseURL})}
}

func (a *ReverseAdapter) Kind() credential.Kind { return a.cfg.Kind }

// fingerprint builds the browser-fingerprinted header set: a stable cookie
// pair from the credential, user-agent-derived client hints, and a
// deterministic per-request id (spec §4.4 "Builds a browser-fingerprinted
// header set").
func (a *ReverseAdapter) fingerprint(c *credential.Credential, requestID string) map[string]string {
	return map[string]string{
		"Cookie":          c.APIKey,
		"User-Agent":      "Mozilla/5.0 (compatible; aigateway-reverse-adapter/1.0)",
		"Sec-Ch-Ua":       `"Chromium";v="124", "Not-A.Brand";v="99"`,
		"X-Request-Id":    requestID,
		"X-Deterministic": deterministicRequestID(c.ID, requestID),
	}
}

func deterministicRequestID(credentialID, requestID string) string {
	sum := sha256.Sum256([]byte(credentialID + ":" + requestID))
	return hex.EncodeToString(sum[:8])
}

// --- prompt collapsing (spec §4.4 "Collapses the Unified message sequence
// into a single prompt string") ---------------------------------------

type uploadedAttachment struct {
	ID string
}

func (a *ReverseAdapter) buildPrompt(ctx context.Context, c *credential.Credential, req *unified.Request) (string, []string, error) {
	var lines []string

	if len(req.Tools) > 0 || req.ToolChoice.Mode != "" {
		lines = append(lines, systemToolBlock(req))
	}

	var attachmentIDs []string
	lastUserIdx := -1
	for i, m := range req.Messages {
		if m.Role == unified.RoleUser {
			lastUserIdx = i
		}
	}

	for i, m := range req.Messages {
		text, ids, err := a.renderMessage(ctx, c, m)
		if err != nil {
			return "", nil, err
		}
		attachmentIDs = append(attachmentIDs, ids...)

		if i == lastUserIdx {
			lines = append(lines, text) // final user turn: verbatim, no role prefix
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, text))
	}

	return strings.Join(lines, "\n"), attachmentIDs, nil
}

// systemToolBlock renders the available tools as a Markdown schema and
// embeds tool_choice semantics (spec §4.4 point 3).
func systemToolBlock(req *unified.Request) string {
	var b strings.Builder
	b.WriteString("system: You may call the following tools.\n")
	for _, tool := range req.Tools {
		schema, _ := json.Marshal(tool.InputSchema)
		fmt.Fprintf(&b, "### %s\n%s\nschema: %s\n", tool.Name, tool.Description, schema)
	}
	switch req.ToolChoice.Mode {
	case unified.ToolChoiceRequired:
		b.WriteString("You must call a tool in this turn.\n")
	case unified.ToolChoiceNone:
		b.WriteString("Do not call any tool in this turn.\n")
	case unified.ToolChoiceNamed:
		fmt.Fprintf(&b, "You must call the tool %q in this turn.\n", req.ToolChoice.Name)
	}
	return b.String()
}

// renderMessage formats one message per spec §4.4 points 1-2, uploading any
// image/file blocks and returning their attachment ids.
func (a *ReverseAdapter) renderMessage(ctx context.Context, c *credential.Credential, m unified.Message) (string, []string, error) {
	if m.Role == unified.RoleTool {
		var sb strings.Builder
		for _, b := range m.Content {
			if b.Kind == unified.KindToolResult {
				for _, inner := range b.ToolResultContent {
					sb.WriteString(inner.Text)
				}
			}
		}
		return fmt.Sprintf("tool (%s, %s): %s", m.Name, m.ToolCallID, sb.String()), nil, nil
	}

	var sb strings.Builder
	var attachmentIDs []string
	for _, b := range m.Content {
		switch b.Kind {
		case unified.KindText, unified.KindThinking:
			sb.WriteString(b.Text)
		case unified.KindToolUse:
			fmt.Fprintf(&sb, "%s{\"name\":%q,\"arguments\":%s}%s", tagToolCallOpen, b.ToolName, b.ArgsJSON, tagToolCallClose)
		case unified.KindImage, unified.KindFile:
			att, err := a.uploadAttachment(ctx, c, b)
			if err != nil {
				return "", nil, err
			}
			attachmentIDs = append(attachmentIDs, att.ID)
		}
	}
	return sb.String(), attachmentIDs, nil
}

func (a *ReverseAdapter) uploadAttachment(ctx context.Context, c *credential.Credential, b unified.Block) (*uploadedAttachment, error) {
	payload := map[string]string{
		"content_base64": base64.StdEncoding.EncodeToString(b.Data),
		"mime_type":      b.Mime,
	}
	var resp struct {
		AttachmentID string `json:"attachment_id"`
	}
	err := a.http.DoJSON(ctx, httpclient.Request{
		Method:  "POST",
		Path:    a.cfg.UploadPath,
		Headers: a.fingerprint(c, uuid.NewString()),
		Body:    payload,
	}, &resp)
	if err != nil {
		return nil, a.classifyErr(err)
	}
	return &uploadedAttachment{ID: resp.AttachmentID}, nil
}

func (a *ReverseAdapter) classifyErr(err error) error {
	return &gatewayerr.ProviderError{Provider: string(a.cfg.Kind), Retryable: true, Cause: err}
}

// --- generation ---------------------------------------------------------

type rcRequest struct {
	Prompt        string   `json:"prompt"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
	Stream        bool     `json:"stream"`
	Model         string   `json:"model"`
}

func (a *ReverseAdapter) Generate(ctx context.Context, c *credential.Credential, req *unified.Request) (*unified.Completion, error) {
	stream, err := a.GenerateStream(ctx, c, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	completion := &unified.Completion{Model: req.Model}
	choice := unified.Choice{Message: unified.Message{Role: unified.RoleAssistant}}
	var content strings.Builder

	for {
		delta, ok, err := stream.Recv(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		content.WriteString(delta.Content)
		if len(delta.ToolCalls) > 0 {
			for _, tc := range delta.ToolCalls {
				choice.Message.Content = append(choice.Message.Content, unified.Block{
					Kind: unified.KindToolUse, ToolCallID: tc.ID, ToolName: tc.Name, ArgsJSON: tc.Arguments,
				})
			}
		}
		if delta.IsTerminal() {
			choice.FinishReason = delta.FinishReason
			if delta.Usage != nil {
				completion.Usage = *delta.Usage
			}
		}
	}

	if content.Len() > 0 {
		choice.Message.Content = append([]unified.Block{{Kind: unified.KindText, Text: content.String()}}, choice.Message.Content...)
	}
	completion.Choices = []unified.Choice{choice}
	return completion, nil
}

func (a *ReverseAdapter) ListModels(ctx context.Context, c *credential.Credential) ([]ModelInfo, error) {
	var resp struct {
		Models []string `json:"models"`
	}
	if err := a.http.DoJSON(ctx, httpclient.Request{
		Method:  "GET",
		Path:    "/models",
		Headers: a.fingerprint(c, uuid.NewString()),
	}, &resp); err != nil {
		return nil, a.classifyErr(err)
	}
	out := make([]ModelInfo, 0, len(resp.Models))
	for _, id := range resp.Models {
		out = append(out, ModelInfo{ID: id})
	}
	return out, nil
}

// GetUsageLimits reports the reverse provider's hard-coded query budget
// (spec §9 "usage-snapshot total query constant of 80").
func (a *ReverseAdapter) GetUsageLimits(ctx context.Context, c *credential.Credential) (*UsageLimits, error) {
	var resp struct {
		Used int64 `json:"used"`
	}
	if err := a.http.DoJSON(ctx, httpclient.Request{
		Method:  "GET",
		Path:    "/usage",
		Headers: a.fingerprint(c, uuid.NewString()),
	}, &resp); err != nil {
		return nil, a.classifyErr(err)
	}
	return &UsageLimits{Used: resp.Used, Limit: a.cfg.UsageQueryTotal}, nil
}
