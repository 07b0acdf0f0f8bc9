package handlers

import (
	"encoding/json"
	"net/http"
	"thinkhive-api/internal/repository"
	"thinkhive-api/internal/services"
	"time"
)

// UsageHandler reports the authenticated user's balances and token
// counters for the current cycle.
type UsageHandler struct {
	subRepo repository.SubscriptionRepository
}

func NewUsageHandler(subRepo repository.SubscriptionRepository) *UsageHandler {
	return &UsageHandler{subRepo: subRepo}
}

type usageResponse struct {
	Credits           float64    `json:"credits"`
	AdditionalCredits float64    `json:"additional_credits"`
	UploadUsage       int64      `json:"upload_usage"`
	EmbeddingUsage    int64      `json:"embedding_usage"`
	LLMUsage          int64      `json:"llm_usage"`
	LastReset         *time.Time `json:"last_reset,omitempty"`
	PlanStatus        string     `json:"plan_status"`
	PeriodEnd         *time.Time `json:"period_end,omitempty"`
}

func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	user, ok := services.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	resp := usageResponse{
		Credits:           user.Credits,
		AdditionalCredits: user.AdditionalCredits,
		UploadUsage:       user.UploadUsage,
		EmbeddingUsage:    user.EmbeddingUsage,
		LLMUsage:          user.LLMUsage,
		LastReset:         user.LastReset,
		PlanStatus:        "none",
	}

	if subscription, err := h.subRepo.GetActiveByUserID(r.Context(), user.ID); err == nil {
		resp.PlanStatus = string(subscription.Status)
		resp.PeriodEnd = &subscription.CurrentPeriodEnd
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
