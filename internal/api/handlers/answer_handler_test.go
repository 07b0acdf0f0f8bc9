package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"thinkhive-api/internal/models"
	"thinkhive-api/internal/pkg/errors"
	"thinkhive-api/internal/repository"
	"thinkhive-api/internal/services"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAssistantRepo struct {
	assistant   *models.Assistant
	metadataIDs []string
	err         error
}

func (s *stubAssistantRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Assistant, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.assistant, nil
}

func (s *stubAssistantRepo) ListMetadataIDs(ctx context.Context, assistantID uuid.UUID) ([]string, error) {
	return s.metadataIDs, nil
}

type stubCreditService struct {
	reserveErr error
	allotment  float64
	resets     []string
	settled    chan float64
	released   chan struct{}
}

func newStubCreditService() *stubCreditService {
	return &stubCreditService{
		settled:  make(chan float64, 1),
		released: make(chan struct{}, 1),
	}
}

func (s *stubCreditService) Reserve(ctx context.Context, userID uuid.UUID, estimate float64) (*services.CreditReservation, error) {
	if s.reserveErr != nil {
		return nil, s.reserveErr
	}
	return &services.CreditReservation{
		UserID:    userID,
		Deduction: &repository.CreditDeduction{FromPlan: estimate},
	}, nil
}

func (s *stubCreditService) Settle(ctx context.Context, reservation *services.CreditReservation, actualCost float64, embeddingTokens, llmTokens int64) error {
	s.settled <- actualCost
	return nil
}

func (s *stubCreditService) Release(ctx context.Context, reservation *services.CreditReservation) error {
	s.released <- struct{}{}
	return nil
}

func (s *stubCreditService) ResetForRenewal(ctx context.Context, userID uuid.UUID, priceID string) error {
	s.resets = append(s.resets, priceID)
	return nil
}
func (s *stubCreditService) RevokeOnCancel(ctx context.Context, userID uuid.UUID) error { return nil }
func (s *stubCreditService) TopUp(ctx context.Context, userID uuid.UUID) error          { return nil }
func (s *stubCreditService) AllotmentForPrice(ctx context.Context, priceID string) (float64, error) {
	return s.allotment, nil
}

type stubAnswerService struct {
	tokens  []string
	usage   services.TokenUsage
	err     error
	lastReq services.AnswerRequest
}

func (s *stubAnswerService) StreamAnswer(ctx context.Context, req services.AnswerRequest, onToken func(string) error) (services.TokenUsage, error) {
	s.lastReq = req
	for _, token := range s.tokens {
		if err := onToken(token); err != nil {
			return s.usage, err
		}
	}
	return s.usage, s.err
}

// one token per word, same shape as the production tokenizer's contract
type stubUsageService struct{}

func (stubUsageService) CountPromptTokens(question string, chatHistory []string) int {
	total := len(strings.Fields(question))
	for _, m := range chatHistory {
		total += len(strings.Fields(m))
	}
	return total
}
func (stubUsageService) CountTokens(text string) int       { return len(strings.Fields(text)) }
func (stubUsageService) GenerationCost(tokens int) float64 { return float64(tokens) / 1000 }
func (stubUsageService) EmbeddingCost(tokens int) float64  { return float64(tokens) / 5 / 1000 }

type nopCache struct{}

func (nopCache) Get(ctx context.Context, key string) (string, error) { return "", errors.ErrNotFound }
func (nopCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}
func (nopCache) Delete(ctx context.Context, key string) error            { return nil }
func (nopCache) DeleteByPattern(ctx context.Context, pattern string) error { return nil }

type answerFixture struct {
	handler     *AnswerHandler
	credits     *stubCreditService
	answers     *stubAnswerService
	assistantID uuid.UUID
	userID      uuid.UUID
}

func newAnswerFixture() *answerFixture {
	assistantID := uuid.New()
	userID := uuid.New()

	credits := newStubCreditService()
	answers := &stubAnswerService{}
	repo := &stubAssistantRepo{
		assistant:   &models.Assistant{ID: assistantID, UserID: userID, SystemPrompt: "be brief"},
		metadataIDs: []string{"doc-1", "doc-2"},
	}

	return &answerFixture{
		handler:     NewAnswerHandler(repo, credits, answers, stubUsageService{}, nopCache{}),
		credits:     credits,
		answers:     answers,
		assistantID: assistantID,
		userID:      userID,
	}
}

func (f *answerFixture) post(t *testing.T, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/answers", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	f.handler.StreamAnswer(rec, req)
	return rec
}

func validBody(assistantID uuid.UUID) map[string]interface{} {
	return map[string]interface{}{
		"question":    "what is the refund policy",
		"chatHistory": []string{},
		"metadataIds": []string{"doc-1"},
		"assistantId": assistantID.String(),
	}
}

func TestStreamAnswerRejectsMalformedPayloads(t *testing.T) {
	f := newAnswerFixture()

	cases := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"missing question", func(b map[string]interface{}) { delete(b, "question") }},
		{"missing chat history", func(b map[string]interface{}) { delete(b, "chatHistory") }},
		{"missing metadata ids", func(b map[string]interface{}) { delete(b, "metadataIds") }},
		{"missing assistant id", func(b map[string]interface{}) { delete(b, "assistantId") }},
		{"malformed assistant id", func(b map[string]interface{}) { b["assistantId"] = "not-a-uuid" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := validBody(f.assistantID)
			tc.mutate(body)
			rec := f.post(t, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStreamAnswerUnknownAssistant(t *testing.T) {
	f := newAnswerFixture()
	f.handler.assistantRepo = &stubAssistantRepo{err: errors.ErrAssistantNotFound}

	rec := f.post(t, validBody(f.assistantID))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamAnswerInsufficientCredits(t *testing.T) {
	f := newAnswerFixture()
	f.credits.reserveErr = errors.ErrInsufficientCredits

	rec := f.post(t, validBody(f.assistantID))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Header().Get("Content-Type"), "text/event-stream")
}

func TestStreamAnswerRejectsOutOfScopeMetadataIDs(t *testing.T) {
	f := newAnswerFixture()

	body := validBody(f.assistantID)
	body["metadataIds"] = []string{"someone-elses-doc"}

	rec := f.post(t, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamAnswerHappyPathEndsWithSentinel(t *testing.T) {
	f := newAnswerFixture()
	f.answers.tokens = []string{"The", " refund", " policy"}
	f.answers.usage = services.TokenUsage{EmbeddingTokens: 10, CompletionTokens: 3}

	rec := f.post(t, validBody(f.assistantID))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	assert.Contains(t, body, "data: The\n\n")
	assert.Contains(t, body, "data:  refund\n\n")
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	// Settlement happens off the request path with the actual cost:
	// prompt (5 words) + completion tokens at 1/1000 each, plus the
	// embedding tokens at a fifth of that.
	select {
	case cost := <-f.credits.settled:
		assert.InDelta(t, 10.0/5/1000+8.0/1000, cost, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("expected credit settlement")
	}
}

func TestStreamAnswerScopesRetrievalToAssistant(t *testing.T) {
	f := newAnswerFixture()
	f.answers.tokens = []string{"ok"}
	f.answers.usage = services.TokenUsage{EmbeddingTokens: 1, CompletionTokens: 1}

	body := validBody(f.assistantID)
	body["metadataIds"] = []string{"doc-1", "stolen-doc"}
	f.post(t, body)

	assert.Equal(t, []string{"doc-1"}, f.answers.lastReq.MetadataIDs)
	assert.Equal(t, f.userID.String(), f.answers.lastReq.Namespace)
	assert.Equal(t, "be brief", f.answers.lastReq.SystemMessage)

	select {
	case <-f.credits.settled:
	case <-time.After(time.Second):
		t.Fatal("expected credit settlement")
	}
}

func TestStreamAnswerFailureOmitsSentinel(t *testing.T) {
	f := newAnswerFixture()
	f.answers.tokens = []string{"partial"}
	f.answers.usage = services.TokenUsage{EmbeddingTokens: 10, CompletionTokens: 1}
	f.answers.err = context.DeadlineExceeded

	rec := f.post(t, validBody(f.assistantID))

	// The stream was already underway, so the status is committed; the
	// missing sentinel is what marks the answer as truncated.
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "data: partial\n\n")
	assert.NotContains(t, body, "[DONE]")

	// Partial generations settle for what was actually consumed.
	select {
	case cost := <-f.credits.settled:
		assert.Greater(t, cost, 0.0)
	case <-time.After(time.Second):
		t.Fatal("expected settlement of partial usage")
	}
}

func TestStreamAnswerFailureBeforeFirstTokenReturnsBadGateway(t *testing.T) {
	f := newAnswerFixture()
	f.answers.err = context.DeadlineExceeded

	rec := f.post(t, validBody(f.assistantID))

	// No token ever went out, so the client gets a real error status
	// instead of an empty event stream.
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "data:")

	select {
	case <-f.credits.released:
	case <-time.After(time.Second):
		t.Fatal("expected reservation release")
	}
}
