package cache

// Tokenizer counts tokens in a piece of text. CountTokens returns an error
// when the underlying tokenizer cannot process the input; callers fall back
// to EstimateTokens (spec §4.5 "on tokenizer failure, fall back to
// ceil(len/4)").
type Tokenizer interface {
	CountTokens(text string) (int, error)
}

// EstimateTokens is the byte-length heuristic used when no tokenizer is
// wired in, or the wired tokenizer fails.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// countTokens runs tok if present, otherwise (or on failure) estimates.
func countTokens(tok Tokenizer, text string) int {
	if tok == nil {
		return EstimateTokens(text)
	}
	n, err := tok.CountTokens(text)
	if err != nil {
		return EstimateTokens(text)
	}
	return n
}
