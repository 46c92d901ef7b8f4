// Package cache implements the prefix-cache accountant (spec.md §4.5): it
// reconstructs the cache_read/cache_creation/uncached token breakdown for
// Anthropic-style requests whose upstream does not itself report prompt
// caching.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"sort"
)

// CumulativeHasher is a running hash over a prefix, with support for
// snapshotting the hash "so far" without consuming it (spec §9
// "Re-architecture for cumulative hashing"). crypto/sha256's hash.Hash
// already has this property: Sum(nil) appends the digest to a copy of its
// internal state rather than finalising it, so repeated Write/Sum calls
// compose correctly with no extra cloning primitive needed.
type CumulativeHasher struct {
	h hash.Hash
}

// NewCumulativeHasher starts an empty cumulative hash.
func NewCumulativeHasher() *CumulativeHasher {
	return &CumulativeHasher{h: sha256.New()}
}

// Write feeds the next piece of the prefix into the hash.
func (c *CumulativeHasher) Write(s string) {
	_, _ = c.h.Write([]byte(s))
	_, _ = c.h.Write([]byte{0}) // separator, so "ab"+"c" != "a"+"bc"
}

// Snapshot returns the hex digest of everything written so far, without
// resetting or otherwise disturbing the hasher.
func (c *CumulativeHasher) Snapshot() string {
	return hex.EncodeToString(c.h.Sum(nil))
}

// CanonicalJSON recursively sorts object keys so structurally identical
// values serialise identically regardless of field order (spec §4.5
// "canonical_json recursively sorts object keys").
func CanonicalJSON(v interface{}) (string, error) {
	normalized := normalize(v)
	b, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]json.RawMessage, 0, len(keys))
		// Build the object literal by hand, writing keys in sorted order, so
		// output stays valid JSON with a fixed key order.
		buf := []byte("{")
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, _ := json.Marshal(normalize(t[k]))
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		out = append(out, json.RawMessage(buf))
		return out[0]
	case []interface{}:
		norm := make([]interface{}, len(t))
		for i, e := range t {
			norm[i] = normalize(e)
		}
		return norm
	default:
		return t
	}
}
