package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"thinkhive-api/internal/billing"
	"thinkhive-api/internal/config"
	"thinkhive-api/internal/logger"
	"thinkhive-api/internal/models"
	"thinkhive-api/internal/repository"
	"thinkhive-api/internal/services"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"
)

const (
	PlanTypeMonthly = "monthly"
	PlanTypeAnnual  = "annual"
	PlanTypeTopUp   = "topup"

	ErrInvalidPlanType = "invalid plan type"
	ErrCreateCheckout  = "error creating checkout session"
)

type StripeHandler struct {
	eventService  services.StripeEventService
	creditService services.CreditService
	subRepo       repository.SubscriptionRepository
	catalogRepo   repository.CatalogRepository
	billingCfg    *config.BillingConfig
}

func NewStripeHandler(
	eventService services.StripeEventService,
	creditService services.CreditService,
	subRepo repository.SubscriptionRepository,
	catalogRepo repository.CatalogRepository,
	billingCfg *config.BillingConfig,
) *StripeHandler {
	return &StripeHandler{
		eventService:  eventService,
		creditService: creditService,
		subRepo:       subRepo,
		catalogRepo:   catalogRepo,
		billingCfg:    billingCfg,
	}
}

// HandleStripeWebhook verifies the delivery signature against the shared
// secret and hands the event to the reconciler. Any failure answers 400
// so Stripe redelivers; the idempotency ledger makes redelivery safe.
func (h *StripeHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	const MaxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.billingCfg.WebhookSecret)
	if err != nil {
		logger.LogEvent(logrus.WarnLevel, "Webhook signature verification failed", logrus.Fields{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.eventService.Apply(r.Context(), event); err != nil {
		logger.LogEvent(logrus.ErrorLevel, "Failed to apply Stripe event", logrus.Fields{
			"event_id": event.ID,
			"type":     event.Type,
			"error":    err.Error(),
		})
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

func (h *StripeHandler) HandleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	user, ok := services.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		PlanType string `json:"planType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	priceID, mode, err := h.checkoutParamsForPlan(req.PlanType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sessionID, err := createCheckoutSession(user.StripeCustomerID, priceID, mode)
	if err != nil {
		http.Error(w, ErrCreateCheckout, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"sessionId": sessionID})
}

func (h *StripeHandler) checkoutParamsForPlan(planType string) (string, stripe.CheckoutSessionMode, error) {
	switch planType {
	case PlanTypeMonthly:
		return h.billingCfg.MonthlyPriceID, stripe.CheckoutSessionModeSubscription, nil
	case PlanTypeAnnual:
		return h.billingCfg.AnnualPriceID, stripe.CheckoutSessionModeSubscription, nil
	case PlanTypeTopUp:
		return h.billingCfg.TopUpPriceID, stripe.CheckoutSessionModePayment, nil
	default:
		return "", "", errors.New(ErrInvalidPlanType)
	}
}

func createCheckoutSession(customerID, priceID string, mode stripe.CheckoutSessionMode) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(os.Getenv("CHECKOUT_SUCCESS_URL")),
		CancelURL:  stripe.String(os.Getenv("CHECKOUT_CANCEL_URL")),
	}

	s, err := session.New(params)
	if err != nil {
		return "", err
	}

	return s.ID, nil
}

// HandleProrationPreview quotes what a plan change would cost right now:
// the unused part of the current allotment is valued against the current
// plan's price and credited toward the target plan.
func (h *StripeHandler) HandleProrationPreview(w http.ResponseWriter, r *http.Request) {
	user, ok := services.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	targetPriceID := r.URL.Query().Get("price_id")
	if targetPriceID == "" {
		http.Error(w, "price_id is required", http.StatusBadRequest)
		return
	}

	subscription, err := h.subRepo.GetActiveByUserID(r.Context(), user.ID)
	if err != nil {
		http.Error(w, "No active subscription", http.StatusNotFound)
		return
	}

	currentPrice, err := h.catalogRepo.GetPrice(r.Context(), subscription.PriceID)
	if err != nil {
		http.Error(w, "Current price not found", http.StatusInternalServerError)
		return
	}

	targetPrice, err := h.catalogRepo.GetPrice(r.Context(), targetPriceID)
	if err != nil {
		http.Error(w, "Target price not found", http.StatusNotFound)
		return
	}

	if currentPrice.Interval != targetPrice.Interval {
		http.Error(w, "Plan changes must keep the billing interval", http.StatusBadRequest)
		return
	}

	tierCredits, err := h.creditService.AllotmentForPrice(r.Context(), subscription.PriceID)
	if err != nil {
		http.Error(w, "Failed to resolve tier allotment", http.StatusInternalServerError)
		return
	}

	var amounts billing.ProrationAmounts
	if currentPrice.Interval == models.IntervalYear {
		amounts = billing.GetProrationAmountsAnnual(
			user.Credits, tierCredits,
			currentPrice.UnitAmountDollars(), targetPrice.UnitAmountDollars(),
			time.Now(), subscription.CurrentPeriodEnd,
		)
	} else {
		amounts = billing.GetProrationAmountsMonthly(
			user.Credits, tierCredits,
			currentPrice.UnitAmountDollars(), targetPrice.UnitAmountDollars(),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(amounts)
}
