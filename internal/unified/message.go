// Package unified defines the canonical request/response/message schema that
// sits between the dialect translator and the upstream adapters.
package unified

// Role identifies the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// CacheTTL is the duration a prompt-cache breakpoint is retained for.
type CacheTTL string

const (
	CacheTTL5m CacheTTL = "5m"
	CacheTTL1h CacheTTL = "1h"
)

// CacheControl marks a block as the end of a cacheable prompt prefix.
type CacheControl struct {
	TTL CacheTTL `json:"ttl"`
}

// Block is a tagged variant of message content. Exactly one of the typed
// fields below is populated; Kind says which.
type Block struct {
	Kind Kind `json:"kind"`

	Text string `json:"text,omitempty"`

	// image / file
	URL  string `json:"url,omitempty"`
	Data []byte `json:"data,omitempty"`
	Mime string `json:"mime,omitempty"`

	// thinking
	Signature string `json:"signature,omitempty"`

	// tool_use
	ToolCallID  string `json:"tool_call_id,omitempty"`
	ToolName    string `json:"tool_name,omitempty"`
	ArgsJSON    string `json:"arguments_json,omitempty"`

	// tool_result
	ToolResultContent []Block `json:"tool_result_content,omitempty"`
	IsError           bool    `json:"is_error,omitempty"`

	// CacheControl, when non-nil, marks this block as a cache boundary.
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// Kind enumerates the block variants named in spec.md §3.
type Kind string

const (
	KindText       Kind = "text"
	KindImage      Kind = "image"
	KindInputAudio Kind = "input_audio"
	KindFile       Kind = "file"
	KindThinking   Kind = "thinking"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
)

// Message is one turn in a conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`

	// Name is only meaningful on tool-role messages.
	Name string `json:"name,omitempty"`
	// ToolCallID is only meaningful on tool-role messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// TextOnly reports whether content is a single text block, and returns it.
func (m Message) TextOnly() (string, bool) {
	if len(m.Content) == 1 && m.Content[0].Kind == KindText {
		return m.Content[0].Text, true
	}
	return "", false
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolChoiceMode selects how the model should use tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceNamed    ToolChoiceMode = "named"
)

// ToolChoice selects auto/none/required or a specific named tool.
type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode"`
	Name string         `json:"name,omitempty"`
}

// NewNamedToolChoice builds a ToolChoice that forces a specific tool.
func NewNamedToolChoice(name string) ToolChoice {
	return ToolChoice{Mode: ToolChoiceNamed, Name: name}
}

// Request is the canonical, provider-agnostic chat completion request.
type Request struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	System      []Block          `json:"system,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  ToolChoice       `json:"tool_choice,omitempty"`
	Stream      bool             `json:"stream"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`

	// UserID is the caller-supplied identity used to derive a prefix-cache
	// session id (spec §4.5 "Session identity").
	UserID string `json:"user_id,omitempty"`

	// Extras preserves provider-opaque fields verbatim across translation.
	Extras map[string]interface{} `json:"-"`
}

// FinishReason enumerates the terminal states of a completion.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// Usage carries token accounting, including the prefix-cache breakdown.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	CacheReadTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_input_tokens,omitempty"`
	UncachedTokens      int `json:"uncached_input_tokens,omitempty"`
}

// Choice is one candidate completion.
type Choice struct {
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
}

// Completion is a terminal, non-streaming response.
type Completion struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// ToolCallDelta carries an incremental fragment of a streaming tool call.
// Id and Name are only set on the first fragment for a given Index.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// StreamEvent is one incremental delta in a streaming response.
type StreamEvent struct {
	Role         Role           `json:"role,omitempty"`
	Content      string         `json:"content,omitempty"`
	Reasoning    string         `json:"reasoning,omitempty"`
	ToolCalls    []ToolCallDelta `json:"tool_calls,omitempty"`
	FinishReason FinishReason   `json:"finish_reason,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`

	// Warning carries a non-fatal "dropped content" notice (spec §4.1
	// "dropped with a warning event").
	Warning string `json:"warning,omitempty"`
}

// IsTerminal reports whether this event carries a finish reason.
func (e StreamEvent) IsTerminal() bool { return e.FinishReason != "" }
