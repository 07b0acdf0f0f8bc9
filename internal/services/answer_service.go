package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"thinkhive-api/internal/config"

	openai "github.com/sashabaranov/go-openai"
)

const defaultSystemMessage = "You are a helpful assistant. Answer the question using only the provided context. If the context does not contain the answer, say you don't know."

// AnswerRequest is a fully authorized retrieval-augmented generation
// request: the namespace and metadata-id scope have already been resolved
// from the assistant, never taken from the wire as-is.
type AnswerRequest struct {
	Question      string
	ChatHistory   []string
	SystemMessage string
	Namespace     string
	MetadataIDs   []string
}

// TokenUsage is what one invocation consumed. Valid even when the
// generation errored part-way: CompletionTokens covers exactly the
// tokens that were emitted before the failure.
type TokenUsage struct {
	EmbeddingTokens  int
	CompletionTokens int
}

type AnswerService interface {
	// StreamAnswer embeds the question, retrieves matching chunks and
	// streams the generated answer token by token through onToken. An
	// error from onToken cancels the generation.
	StreamAnswer(ctx context.Context, req AnswerRequest, onToken func(token string) error) (TokenUsage, error)
}

type answerService struct {
	ai    *openai.Client
	vs    VectorStore
	usage UsageService
	cfg   *config.AIConfig
}

func NewAnswerService(ai *openai.Client, vs VectorStore, usage UsageService, cfg *config.AIConfig) AnswerService {
	return &answerService{
		ai:    ai,
		vs:    vs,
		usage: usage,
		cfg:   cfg,
	}
}

func (s *answerService) StreamAnswer(ctx context.Context, req AnswerRequest, onToken func(token string) error) (TokenUsage, error) {
	var usage TokenUsage

	embedResp, err := s.ai.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{req.Question},
		Model: openai.EmbeddingModel(s.cfg.EmbeddingModel),
	})
	if err != nil {
		return usage, err
	}
	if len(embedResp.Data) == 0 {
		return usage, errors.New("embedding response contained no vectors")
	}
	usage.EmbeddingTokens = embedResp.Usage.TotalTokens

	matches, err := s.vs.Query(ctx, req.Namespace, embedResp.Data[0].Embedding, s.cfg.RetrievalTopK, req.MetadataIDs)
	if err != nil {
		return usage, err
	}

	stream, err := s.ai.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       s.cfg.ChatModel,
		Temperature: 0,
		Stream:      true,
		Messages:    buildMessages(req, matches),
	})
	if err != nil {
		return usage, err
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			usage.CompletionTokens = s.usage.CountTokens(answer.String())
			return usage, err
		}
		if len(resp.Choices) == 0 {
			continue
		}

		token := resp.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		answer.WriteString(token)

		if err := onToken(token); err != nil {
			usage.CompletionTokens = s.usage.CountTokens(answer.String())
			return usage, err
		}
	}

	usage.CompletionTokens = s.usage.CountTokens(answer.String())
	return usage, nil
}

func buildMessages(req AnswerRequest, matches []VectorMatch) []openai.ChatCompletionMessage {
	systemMessage := req.SystemMessage
	if systemMessage == "" {
		systemMessage = defaultSystemMessage
	}

	var contextText strings.Builder
	for _, m := range matches {
		contextText.WriteString(m.Text)
		contextText.WriteString("\n\n")
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemMessage + "\n\nContext:\n" + contextText.String()},
	}

	// History arrives as a flat transcript, user and assistant turns
	// alternating, user first.
	for i, msg := range req.ChatHistory {
		role := openai.ChatMessageRoleUser
		if i%2 == 1 {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg})
	}

	return append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Question})
}
