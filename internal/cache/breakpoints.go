package cache

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aigateway/aigateway/internal/unified"
)

// billingSentinelPrefix marks a system block that carries gateway-internal
// billing metadata rather than caller-authored prompt content; it must never
// contribute to the cache hash (spec §4.5 point 2).
const billingSentinelPrefix = "__gateway_billing__"

// Breakpoint is a (hash, cumulative_tokens, ttl_seconds) triple marking a
// prompt-cache boundary (spec §4.5 "Breakpoint rule").
type Breakpoint struct {
	Hash             string
	CumulativeTokens int
	TTLSeconds       int
}

func ttlSeconds(ttl unified.CacheTTL) int {
	if ttl == unified.CacheTTL1h {
		return 3600
	}
	return 300
}

// segment is one piece of the prefix in feed order: either a tool
// definition, a system block, or a message block, already reduced to the
// text that gets hashed/token-counted.
type segment struct {
	text         string
	cacheControl *unified.CacheControl
}

// ComputeBreakpoints walks tools, system content, then message blocks in
// that fixed order, feeding each piece into a cumulative hash and token
// count, and emits one Breakpoint at (and only at) every segment carrying a
// cache_control marker. After the last cache-controlled segment, remaining
// segments are not fed to the hasher — the cached prefix's identity is
// independent of the uncached suffix — but they are still token-counted so
// the returned total reflects the whole request (spec §4.5 "Breakpoint
// rule", scenario 2).
func ComputeBreakpoints(req *unified.Request, tok Tokenizer) ([]Breakpoint, int, error) {
	segments, err := buildSegments(req)
	if err != nil {
		return nil, 0, err
	}

	lastCacheControlled := -1
	for i, s := range segments {
		if s.cacheControl != nil {
			lastCacheControlled = i
		}
	}

	h := NewCumulativeHasher()
	var breakpoints []Breakpoint
	cumulative := 0
	totalTokens := 0

	for i, s := range segments {
		n := countTokens(tok, s.text)
		totalTokens += n
		if i > lastCacheControlled {
			continue // uncached suffix: token-counted above, never hashed
		}
		h.Write(s.text)
		cumulative += n
		if s.cacheControl != nil {
			breakpoints = append(breakpoints, Breakpoint{
				Hash:             h.Snapshot(),
				CumulativeTokens: cumulative,
				TTLSeconds:       ttlSeconds(s.cacheControl.TTL),
			})
		}
	}

	return breakpoints, totalTokens, nil
}

func buildSegments(req *unified.Request) ([]segment, error) {
	var segments []segment

	tools := append([]unified.ToolDefinition(nil), req.Tools...)
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	for _, tool := range tools {
		schema, err := CanonicalJSON(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("cache: canonicalize tool schema %q: %w", tool.Name, err)
		}
		segments = append(segments, segment{
			text: fmt.Sprintf("name:%s|desc:%s|schema:%s", tool.Name, tool.Description, schema),
		})
	}

	for _, block := range req.System {
		if strings.HasPrefix(block.Text, billingSentinelPrefix) {
			continue
		}
		segments = append(segments, segment{text: block.Text, cacheControl: block.CacheControl})
	}

	for _, msg := range req.Messages {
		for _, block := range msg.Content {
			stripped := block
			stripped.CacheControl = nil
			serialized, err := CanonicalJSON(blockToMap(stripped))
			if err != nil {
				return nil, fmt.Errorf("cache: canonicalize message block: %w", err)
			}
			segments = append(segments, segment{text: serialized, cacheControl: block.CacheControl})
		}
	}

	return segments, nil
}

func blockToMap(b unified.Block) map[string]interface{} {
	m := map[string]interface{}{"kind": string(b.Kind)}
	if b.Text != "" {
		m["text"] = b.Text
	}
	if b.URL != "" {
		m["url"] = b.URL
	}
	if b.Mime != "" {
		m["mime"] = b.Mime
	}
	if b.ToolCallID != "" {
		m["tool_call_id"] = b.ToolCallID
	}
	if b.ToolName != "" {
		m["tool_name"] = b.ToolName
	}
	if b.ArgsJSON != "" {
		m["arguments_json"] = b.ArgsJSON
	}
	return m
}
