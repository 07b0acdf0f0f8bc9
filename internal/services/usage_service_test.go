package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// wordTokenizer stands in for tiktoken: one token per whitespace-separated
// word keeps the arithmetic easy to verify.
type wordTokenizer struct{}

func (wordTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

func TestCountPromptTokens(t *testing.T) {
	svc := NewUsageService(wordTokenizer{})

	assert.Equal(t, 3, svc.CountPromptTokens("what is this", nil))
	assert.Equal(t, 7, svc.CountPromptTokens("what is this", []string{"first question", "an answer"}))
	assert.Equal(t, 0, svc.CountPromptTokens("", []string{}))
}

func TestCreditCosts(t *testing.T) {
	svc := NewUsageService(wordTokenizer{})

	// One credit per thousand generation tokens, embeddings five times
	// cheaper. Costs stay fractional.
	assert.InDelta(t, 1.0, svc.GenerationCost(1000), 1e-9)
	assert.InDelta(t, 0.5, svc.GenerationCost(500), 1e-9)
	assert.InDelta(t, 0.001, svc.GenerationCost(1), 1e-9)
	assert.InDelta(t, 0.2, svc.EmbeddingCost(1000), 1e-9)
	assert.InDelta(t, 0.0002, svc.EmbeddingCost(1), 1e-9)
	assert.Zero(t, svc.GenerationCost(0))
	assert.Zero(t, svc.EmbeddingCost(0))
}
