package services

import (
	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens the way the models will. Deterministic: the
// same text always yields the same count, which is what makes credit
// costs reproducible.
type Tokenizer interface {
	CountTokens(text string) int
}

type tiktokenTokenizer struct {
	encoding *tiktoken.Tiktoken
}

func NewTiktokenTokenizer() (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &tiktokenTokenizer{encoding: enc}, nil
}

func (t *tiktokenTokenizer) CountTokens(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

// UsageService converts token counts into credit costs. One credit is
// roughly a thousand generation tokens; embedding tokens are five times
// cheaper. Costs stay fractional, balances are never rounded.
type UsageService interface {
	CountPromptTokens(question string, chatHistory []string) int
	CountTokens(text string) int
	GenerationCost(tokens int) float64
	EmbeddingCost(tokens int) float64
}

type usageService struct {
	tokenizer Tokenizer
}

func NewUsageService(tokenizer Tokenizer) UsageService {
	return &usageService{tokenizer: tokenizer}
}

func (s *usageService) CountPromptTokens(question string, chatHistory []string) int {
	total := s.tokenizer.CountTokens(question)
	for _, msg := range chatHistory {
		total += s.tokenizer.CountTokens(msg)
	}
	return total
}

func (s *usageService) CountTokens(text string) int {
	return s.tokenizer.CountTokens(text)
}

func (s *usageService) GenerationCost(tokens int) float64 {
	return float64(tokens) / 1000
}

func (s *usageService) EmbeddingCost(tokens int) float64 {
	return float64(tokens) / 5 / 1000
}
