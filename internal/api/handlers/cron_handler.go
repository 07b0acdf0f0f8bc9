package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"thinkhive-api/internal/logger"
	"thinkhive-api/internal/repository"
	"thinkhive-api/internal/services"
	"time"

	"github.com/sirupsen/logrus"
)

// CronHandler drives the scheduled credit reset: every user with an
// active subscription whose last reset is over a month old gets a fresh
// allotment. The endpoint is gated by a bearer token shared with the
// scheduler, compared in constant time.
type CronHandler struct {
	userRepo      repository.UserRepository
	subRepo       repository.SubscriptionRepository
	creditService services.CreditService
	cronSecret    string
}

func NewCronHandler(
	userRepo repository.UserRepository,
	subRepo repository.SubscriptionRepository,
	creditService services.CreditService,
	cronSecret string,
) *CronHandler {
	return &CronHandler{
		userRepo:      userRepo,
		subRepo:       subRepo,
		creditService: creditService,
		cronSecret:    cronSecret,
	}
}

func (h *CronHandler) HandleCreditReset(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	cutoff := time.Now().AddDate(0, -1, 0)
	users, err := h.userRepo.FindDueForReset(r.Context(), cutoff)
	if err != nil {
		http.Error(w, "Failed to find users due for reset", http.StatusInternalServerError)
		return
	}

	reset := 0
	failed := 0
	for _, user := range users {
		subscription, err := h.subRepo.GetActiveByUserID(r.Context(), user.ID)
		if err != nil {
			failed++
			continue
		}

		if err := h.creditService.ResetForRenewal(r.Context(), user.ID, subscription.PriceID); err != nil {
			failed++
			logger.LogEvent(logrus.ErrorLevel, "Scheduled credit reset failed for user", logrus.Fields{
				"user":  user.ID,
				"error": err.Error(),
			})
			continue
		}
		reset++
	}

	logger.LogEvent(logrus.InfoLevel, "Scheduled credit reset completed", logrus.Fields{
		"due":    len(users),
		"reset":  reset,
		"failed": failed,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"due": len(users), "reset": reset, "failed": failed})
}

func (h *CronHandler) authorized(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}

	bearer := r.Header.Get("Authorization")
	parts := strings.Split(bearer, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.cronSecret)) == 1
}
