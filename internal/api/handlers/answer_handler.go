package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"thinkhive-api/internal/logger"
	"thinkhive-api/internal/pkg/errors"
	"thinkhive-api/internal/repository"
	"thinkhive-api/internal/services"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const answerDoneSentinel = "[DONE]"

// AnswerHandler serves the embeddable widget's question endpoint: resolve
// the assistant, reserve credits, retrieve, stream the generated answer
// as Server-Sent Events, then settle the ledger.
type AnswerHandler struct {
	assistantRepo repository.AssistantRepository
	creditService services.CreditService
	answerService services.AnswerService
	usageService  services.UsageService
	cache         services.CacheService
	scopeTTL      time.Duration
}

func NewAnswerHandler(
	assistantRepo repository.AssistantRepository,
	creditService services.CreditService,
	answerService services.AnswerService,
	usageService services.UsageService,
	cache services.CacheService,
) *AnswerHandler {
	return &AnswerHandler{
		assistantRepo: assistantRepo,
		creditService: creditService,
		answerService: answerService,
		usageService:  usageService,
		cache:         cache,
		scopeTTL:      15 * time.Minute,
	}
}

type answerRequest struct {
	Question      string   `json:"question"`
	ChatHistory   []string `json:"chatHistory"`
	SystemMessage string   `json:"systemMessage,omitempty"`
	MetadataIDs   []string `json:"metadataIds"`
	AssistantID   string   `json:"assistantId"`
}

// assistantScope is the cached authorization view of one assistant: who
// pays for it and which document ids it is allowed to retrieve.
type assistantScope struct {
	UserID       uuid.UUID `json:"user_id"`
	SystemPrompt string    `json:"system_prompt"`
	MetadataIDs  []string  `json:"metadata_ids"`
}

func (h *AnswerHandler) StreamAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Question == "" || req.ChatHistory == nil || req.MetadataIDs == nil || req.AssistantID == "" {
		http.Error(w, "question, chatHistory, metadataIds and assistantId are required", http.StatusBadRequest)
		return
	}

	assistantID, err := uuid.Parse(req.AssistantID)
	if err != nil {
		http.Error(w, "assistantId must be a valid UUID", http.StatusBadRequest)
		return
	}

	scope, err := h.resolveScope(r.Context(), assistantID)
	if err != nil {
		if err == errors.ErrAssistantNotFound {
			http.Error(w, "Assistant not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to resolve assistant", http.StatusInternalServerError)
		return
	}

	// The caller-supplied id list is untrusted; only ids actually
	// attached to the assistant's brains make it into the filter.
	allowed := intersect(req.MetadataIDs, scope.MetadataIDs)
	if len(allowed) < len(req.MetadataIDs) {
		logger.LogEvent(logrus.WarnLevel, "Request included metadata ids outside assistant scope", logrus.Fields{
			"assistant": assistantID,
			"requested": len(req.MetadataIDs),
			"permitted": len(allowed),
		})
	}
	if len(allowed) == 0 {
		http.Error(w, "metadataIds do not belong to this assistant", http.StatusBadRequest)
		return
	}

	promptTokens := h.usageService.CountPromptTokens(req.Question, req.ChatHistory)
	estimate := h.usageService.EmbeddingCost(promptTokens)

	reservation, err := h.creditService.Reserve(r.Context(), scope.UserID, estimate)
	if err != nil {
		if err == errors.ErrInsufficientCredits {
			http.Error(w, "Insufficient credits", http.StatusForbidden)
			return
		}
		http.Error(w, "Failed to reserve credits", http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.releaseAsync(reservation)
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	systemMessage := req.SystemMessage
	if systemMessage == "" {
		systemMessage = scope.SystemPrompt
	}

	streamStarted := false
	usage, streamErr := h.answerService.StreamAnswer(r.Context(), services.AnswerRequest{
		Question:      req.Question,
		ChatHistory:   req.ChatHistory,
		SystemMessage: systemMessage,
		Namespace:     scope.UserID.String(),
		MetadataIDs:   allowed,
	}, func(token string) error {
		streamStarted = true
		if _, err := fmt.Fprintf(w, "data: %s\n\n", token); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	if streamErr != nil {
		logger.LogEvent(logrus.ErrorLevel, "Answer stream aborted", logrus.Fields{
			"assistant": assistantID,
			"error":     streamErr.Error(),
		})
		h.settleAsync(reservation, promptTokens, usage)

		// Nothing has gone over the wire yet, so a real status code is
		// still possible. Once tokens have flowed the only signal left
		// is closing without the sentinel; the client must not treat
		// the truncated stream as a full answer.
		if !streamStarted {
			http.Error(w, "Failed to generate answer", http.StatusBadGateway)
		}
		return
	}

	fmt.Fprintf(w, "data: %s\n\n", answerDoneSentinel)
	flusher.Flush()

	h.settleAsync(reservation, promptTokens, usage)
}

// settleAsync settles the reservation off the request path. A generation
// that died before producing anything is refunded in full; anything that
// consumed tokens is charged for exactly what it consumed.
func (h *AnswerHandler) settleAsync(reservation *services.CreditReservation, promptTokens int, usage services.TokenUsage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if usage.EmbeddingTokens == 0 && usage.CompletionTokens == 0 {
			if err := h.creditService.Release(ctx, reservation); err != nil {
				logger.LogEvent(logrus.ErrorLevel, "Failed to release credit reservation", logrus.Fields{
					"user":  reservation.UserID,
					"error": err.Error(),
				})
			}
			return
		}

		llmTokens := promptTokens + usage.CompletionTokens
		actualCost := h.usageService.EmbeddingCost(usage.EmbeddingTokens) + h.usageService.GenerationCost(llmTokens)

		err := h.creditService.Settle(ctx, reservation, actualCost, int64(usage.EmbeddingTokens), int64(llmTokens))
		if err != nil {
			logger.LogEvent(logrus.ErrorLevel, "Failed to settle credit usage", logrus.Fields{
				"user":  reservation.UserID,
				"error": err.Error(),
			})
		}
	}()
}

func (h *AnswerHandler) releaseAsync(reservation *services.CreditReservation) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.creditService.Release(ctx, reservation); err != nil {
			logger.LogEvent(logrus.ErrorLevel, "Failed to release credit reservation", logrus.Fields{
				"user":  reservation.UserID,
				"error": err.Error(),
			})
		}
	}()
}

func (h *AnswerHandler) resolveScope(ctx context.Context, assistantID uuid.UUID) (*assistantScope, error) {
	cacheKey := "assistant-scope:" + assistantID.String()

	if cached, err := h.cache.Get(ctx, cacheKey); err == nil && cached != "" {
		var scope assistantScope
		if err := json.Unmarshal([]byte(cached), &scope); err == nil {
			return &scope, nil
		}
	}

	assistant, err := h.assistantRepo.GetByID(ctx, assistantID)
	if err != nil {
		return nil, err
	}

	metadataIDs, err := h.assistantRepo.ListMetadataIDs(ctx, assistantID)
	if err != nil {
		return nil, err
	}

	scope := &assistantScope{
		UserID:       assistant.UserID,
		SystemPrompt: assistant.SystemPrompt,
		MetadataIDs:  metadataIDs,
	}

	if err := h.cache.Set(ctx, cacheKey, scope, h.scopeTTL); err != nil {
		logger.LogEvent(logrus.WarnLevel, "Failed to cache assistant scope", logrus.Fields{
			"assistant": assistantID,
			"error":     err.Error(),
		})
	}

	return scope, nil
}

func intersect(requested, permitted []string) []string {
	allowed := make(map[string]bool, len(permitted))
	for _, id := range permitted {
		allowed[id] = true
	}

	result := make([]string, 0, len(requested))
	for _, id := range requested {
		if allowed[id] {
			result = append(result, id)
		}
	}
	return result
}
