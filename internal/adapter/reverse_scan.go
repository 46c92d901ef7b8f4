package adapter

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/aigateway/aigateway/internal/unified"
)

const (
	tagToolCallOpen  = "<tool_call>"
	tagToolCallClose = "</tool_call>"
)

// internalTagPattern strips the backend's internal bookkeeping tags from any
// text before it reaches the translator (spec §4.4: "<xai:tool_usage_card …>,
// <rolloutId …>, <responseId …>, <isThinking …> are stripped from all
// emitted text").
var internalTagPattern = regexp.MustCompile(`<(xai:tool_usage_card|rolloutId|responseId|isThinking)[^>]*>`)

func stripInternalTags(s string) string {
	return internalTagPattern.ReplaceAllString(s, "")
}

// tagScanner reconstructs a response stream's content/tool-call structure
// from a raw token sequence, scanning across token boundaries rather than
// per-token so a <tool_call> tag split across two fragments is still
// detected correctly (spec §9 open question on whole-token substring checks).
type tagScanner struct {
	carry      string
	inToolCall bool
	toolBuf    strings.Builder
	toolCalls  []unified.Block
}

// feed processes one more fragment of visible (non-thinking) text and
// returns the content that should be emitted to the client now. Each
// completed tool-call block is appended to s.toolCalls.
func (s *tagScanner) feed(fragment string) string {
	text := s.carry + stripInternalTags(fragment)
	s.carry = ""

	var out strings.Builder
	i := 0
	for i < len(text) {
		if !s.inToolCall {
			idx := strings.Index(text[i:], tagToolCallOpen)
			if idx < 0 {
				safe, carry := splitTrailingPartialTag(text[i:], tagToolCallOpen)
				out.WriteString(safe)
				s.carry = carry
				break
			}
			out.WriteString(text[i : i+idx])
			i += idx + len(tagToolCallOpen)
			s.inToolCall = true
			continue
		}

		idx := strings.Index(text[i:], tagToolCallClose)
		if idx < 0 {
			safe, carry := splitTrailingPartialTag(text[i:], tagToolCallClose)
			s.toolBuf.WriteString(safe)
			s.carry = carry
			break
		}
		s.toolBuf.WriteString(text[i : i+idx])
		i += idx + len(tagToolCallClose)
		s.inToolCall = false
		s.closeToolCall()
	}
	return out.String()
}

func (s *tagScanner) closeToolCall() {
	raw := s.toolBuf.String()
	s.toolBuf.Reset()

	var parsed struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return
	}
	args, _ := json.Marshal(parsed.Arguments)
	s.toolCalls = append(s.toolCalls, unified.Block{
		Kind:       unified.KindToolUse,
		ToolCallID: "call_" + uuid.NewString(),
		ToolName:   parsed.Name,
		ArgsJSON:   string(args),
	})
}

// splitTrailingPartialTag returns (safe, carry) where carry is the longest
// suffix of s that is also a strict prefix of tag — text that might still
// turn into tag once more fragments arrive — and safe is everything before it.
func splitTrailingPartialTag(s, tag string) (safe, carry string) {
	maxLen := len(tag) - 1
	if maxLen > len(s) {
		maxLen = len(s)
	}
	for n := maxLen; n > 0; n-- {
		suffix := s[len(s)-n:]
		if strings.HasPrefix(tag, suffix) {
			return s[:len(s)-n], suffix
		}
	}
	return s, ""
}
