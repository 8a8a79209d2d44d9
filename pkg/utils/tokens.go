// Package utils provides token counting and text trimming helpers shared by
// the prompt builders.
package utils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter handles token counting for a specific model family.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

var (
	// Cache encodings to avoid repeated initialization
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for a specific model.
// Unknown models fall back to the cl100k_base encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	return len(tc.encoding.Encode(text, nil, nil))
}

// GetModel returns the model name this counter is configured for.
func (tc *TokenCounter) GetModel() string {
	return tc.model
}

// EstimateTokens provides a rough token estimation when no counter is at hand.
func EstimateTokens(text string) int {
	// Rough estimation: 4 characters per token
	return len(text) / 4
}

// sentence terminators recognized by TruncateAtSentence. Includes CJK
// terminators since debate topics may be non-Latin.
var sentenceEnders = []string{". ", "! ", "? ", ".\n", "!\n", "?\n", "。", "！", "？"}

// TruncateAtSentence trims text to at most maxTokens tokens, cutting at the
// last complete sentence boundary before the limit. If no boundary is found
// the text is cut at the raw token limit.
func (tc *TokenCounter) TruncateAtSentence(text string, maxTokens int) string {
	if tc.Count(text) <= maxTokens {
		return text
	}

	tc.mu.RLock()
	tokens := tc.encoding.Encode(text, nil, nil)
	cut := tc.encoding.Decode(tokens[:maxTokens])
	tc.mu.RUnlock()

	best := 0
	for _, ender := range sentenceEnders {
		if idx := strings.LastIndex(cut, ender); idx >= 0 && idx+len(ender) > best {
			best = idx + len(ender)
		}
	}
	if best > 0 {
		return strings.TrimSpace(cut[:best])
	}
	return strings.TrimSpace(cut)
}
