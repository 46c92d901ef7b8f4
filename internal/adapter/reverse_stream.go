package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aigateway/aigateway/internal/credential"
	"github.com/aigateway/aigateway/internal/httpclient"
	"github.com/aigateway/aigateway/internal/unified"
)

// rcEvent is one line of the backend's noisy newline-delimited event stream
// (spec §4.4: "a text token, an isThinking flag, a progressive image/video
// generation status, a model metadata record, a card attachment, a
// finalisation marker").
type rcEvent struct {
	ResponseID string `json:"responseId,omitempty"`
	Token      string `json:"token,omitempty"`
	IsThinking bool   `json:"isThinking,omitempty"`

	ImageProgress *struct {
		URL string `json:"url,omitempty"`
	} `json:"imageProgress,omitempty"`

	VideoComplete *struct {
		URL string `json:"url,omitempty"`
	} `json:"videoComplete,omitempty"`

	ModelResponse *struct {
		ImageURLs []string `json:"imageUrls,omitempty"`
	} `json:"modelResponse,omitempty"`

	Card *struct {
		Text string `json:"text,omitempty"`
	} `json:"card,omitempty"`

	IsDone bool `json:"isDone,omitempty"`
	Usage  *struct {
		PromptTokens     int `json:"promptTokens"`
		CompletionTokens int `json:"completionTokens"`
	} `json:"usage,omitempty"`
}

// reverseStream owns per-response-id reconstruction state for the lifetime
// of one stream task; nothing about it is shared across requests (spec §9
// "Re-architecture for the reverse adapter's per-stream state").
type reverseStream struct {
	body        io.ReadCloser
	lines       *bufio.Scanner
	scanner     *tagScanner
	assetBase   string
	imageActive bool
	roleSent    bool
	pending     []unified.StreamEvent
}

func newReverseStream(body io.ReadCloser, assetBase string) *reverseStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &reverseStream{body: body, lines: sc, scanner: &tagScanner{}, assetBase: assetBase}
}

func (s *reverseStream) Close() error { return s.body.Close() }

func (s *reverseStream) Recv(ctx context.Context) (unified.StreamEvent, bool, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, true, nil
		}

		if !s.lines.Scan() {
			if err := s.lines.Err(); err != nil {
				return unified.StreamEvent{}, false, err
			}
			return unified.StreamEvent{}, false, nil
		}
		line := s.lines.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev rcEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return unified.StreamEvent{}, false, err
		}
		s.pending = s.processEvent(ev)
	}
}

func (s *reverseStream) processEvent(ev rcEvent) []unified.StreamEvent {
	var out []unified.StreamEvent
	if !s.roleSent {
		out = append(out, unified.StreamEvent{Role: unified.RoleAssistant})
		s.roleSent = true
	}

	if ev.Token != "" {
		if ev.IsThinking || s.imageActive {
			out = append(out, unified.StreamEvent{Reasoning: stripInternalTags(ev.Token)})
		} else if text := s.scanner.feed(ev.Token); text != "" {
			out = append(out, unified.StreamEvent{Content: text})
		}
	}

	if ev.ImageProgress != nil {
		s.imageActive = true
		out = append(out, unified.StreamEvent{Reasoning: "generating image..."})
	}

	if ev.VideoComplete != nil {
		s.imageActive = false
		url := rewriteAssetURL(ev.VideoComplete.URL, s.assetBase)
		out = append(out, unified.StreamEvent{Content: fmt.Sprintf("[video](%s)", url)})
	}

	if ev.ModelResponse != nil && len(ev.ModelResponse.ImageURLs) > 0 {
		links := make([]string, 0, len(ev.ModelResponse.ImageURLs))
		for _, u := range ev.ModelResponse.ImageURLs {
			links = append(links, fmt.Sprintf("![image](%s)", rewriteAssetURL(u, s.assetBase)))
		}
		out = append(out, unified.StreamEvent{Content: strings.Join(links, "\n")})
	}

	if ev.Card != nil {
		out = append(out, unified.StreamEvent{Content: ev.Card.Text})
	}

	if ev.IsDone {
		final := unified.StreamEvent{FinishReason: unified.FinishStop}
		if len(s.scanner.toolCalls) > 0 {
			final.FinishReason = unified.FinishToolCalls
			for i, tc := range s.scanner.toolCalls {
				final.ToolCalls = append(final.ToolCalls, unified.ToolCallDelta{
					Index: i, ID: tc.ToolCallID, Name: tc.ToolName, Arguments: tc.ArgsJSON,
				})
			}
		}
		if ev.Usage != nil {
			final.Usage = &unified.Usage{
				PromptTokens:     ev.Usage.PromptTokens,
				CompletionTokens: ev.Usage.CompletionTokens,
				TotalTokens:      ev.Usage.PromptTokens + ev.Usage.CompletionTokens,
			}
		}
		out = append(out, final)
	}

	return out
}

// rewriteAssetURL prepends assetBase to any URL that has no scheme (spec
// §4.4 "Image and video URLs whose scheme is missing are rewritten to an
// absolute asset URL").
func rewriteAssetURL(url, assetBase string) string {
	if strings.Contains(url, "://") {
		return url
	}
	return strings.TrimRight(assetBase, "/") + "/" + strings.TrimLeft(url, "/")
}

func (a *ReverseAdapter) GenerateStream(ctx context.Context, c *credential.Credential, req *unified.Request) (Stream, error) {
	prompt, attachmentIDs, err := a.buildPrompt(ctx, c, req)
	if err != nil {
		return nil, err
	}

	resp, err := a.http.DoStream(ctx, httpclient.Request{
		Method:  "POST",
		Path:    a.cfg.ChatPath,
		Headers: a.fingerprint(c, req.Model),
		Body: rcRequest{
			Prompt:        prompt,
			AttachmentIDs: attachmentIDs,
			Stream:        true,
			Model:         req.Model,
		},
	})
	if err != nil {
		return nil, a.classifyErr(err)
	}

	return newReverseStream(resp.Body, a.cfg.AssetBaseURL), nil
}
