package services

import (
	"context"
	"thinkhive-api/internal/config"
	"thinkhive-api/internal/logger"
	"thinkhive-api/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CreditReservation is an estimated-cost hold taken before generation
// starts. It is settled to the actual cost once the answer is complete,
// or released in full when generation aborts before producing anything.
type CreditReservation struct {
	UserID    uuid.UUID
	Deduction *repository.CreditDeduction
}

func (r *CreditReservation) Amount() float64 {
	return r.Deduction.Total()
}

type CreditService interface {
	// Reserve charges the estimated cost up front. ErrInsufficientCredits
	// means the combined balances cannot cover the estimate and nothing
	// was charged.
	Reserve(ctx context.Context, userID uuid.UUID, estimate float64) (*CreditReservation, error)

	// Settle adjusts the reservation to the actual cost and records the
	// token counters. When the answer ran longer than estimated, the
	// difference is deducted unconditionally: the tokens were already
	// generated, so additional credits may dip below zero by at most one
	// answer's overrun.
	Settle(ctx context.Context, reservation *CreditReservation, actualCost float64, embeddingTokens, llmTokens int64) error

	// Release refunds the whole reservation.
	Release(ctx context.Context, reservation *CreditReservation) error

	// ResetForRenewal restores the plan allotment for the given price and
	// zeroes the cycle's usage counters. Invoked on invoice.paid and from
	// the scheduled reset.
	ResetForRenewal(ctx context.Context, userID uuid.UUID, priceID string) error

	// RevokeOnCancel zeroes the plan balance and counters; purchased
	// additional credits survive cancellation.
	RevokeOnCancel(ctx context.Context, userID uuid.UUID) error

	// TopUp adds the configured one-time purchase amount to additional
	// credits.
	TopUp(ctx context.Context, userID uuid.UUID) error

	AllotmentForPrice(ctx context.Context, priceID string) (float64, error)
}

type creditService struct {
	userRepo    repository.UserRepository
	catalogRepo repository.CatalogRepository
	cfg         *config.BillingConfig
}

func NewCreditService(userRepo repository.UserRepository, catalogRepo repository.CatalogRepository, cfg *config.BillingConfig) CreditService {
	return &creditService{
		userRepo:    userRepo,
		catalogRepo: catalogRepo,
		cfg:         cfg,
	}
}

func (s *creditService) Reserve(ctx context.Context, userID uuid.UUID, estimate float64) (*CreditReservation, error) {
	deduction, err := s.userRepo.DeductCredits(ctx, userID, estimate)
	if err != nil {
		return nil, err
	}

	return &CreditReservation{UserID: userID, Deduction: deduction}, nil
}

func (s *creditService) Settle(ctx context.Context, reservation *CreditReservation, actualCost float64, embeddingTokens, llmTokens int64) error {
	delta := actualCost - reservation.Amount()

	switch {
	case delta > 0:
		if _, err := s.userRepo.ForceDeductCredits(ctx, reservation.UserID, delta); err != nil {
			return err
		}
	case delta < 0:
		// Refund the overestimate, additional credits first so the plan
		// balance ends up exactly where a perfect estimate would have
		// left it.
		refund := -delta
		fromAdditional := reservation.Deduction.FromAdditional
		if fromAdditional > refund {
			fromAdditional = refund
		}
		err := s.userRepo.RefundCredits(ctx, reservation.UserID, &repository.CreditDeduction{
			FromPlan:       refund - fromAdditional,
			FromAdditional: fromAdditional,
		})
		if err != nil {
			return err
		}
	}

	if err := s.userRepo.IncrementUsage(ctx, reservation.UserID, embeddingTokens, llmTokens); err != nil {
		logger.LogEvent(logrus.WarnLevel, "Failed to record usage counters", logrus.Fields{
			"user":  reservation.UserID,
			"error": err.Error(),
		})
	}

	return nil
}

func (s *creditService) Release(ctx context.Context, reservation *CreditReservation) error {
	return s.userRepo.RefundCredits(ctx, reservation.UserID, reservation.Deduction)
}

func (s *creditService) ResetForRenewal(ctx context.Context, userID uuid.UUID, priceID string) error {
	allotment, err := s.AllotmentForPrice(ctx, priceID)
	if err != nil {
		return err
	}
	return s.userRepo.ResetCredits(ctx, userID, allotment)
}

func (s *creditService) RevokeOnCancel(ctx context.Context, userID uuid.UUID) error {
	return s.userRepo.ResetCredits(ctx, userID, 0)
}

func (s *creditService) TopUp(ctx context.Context, userID uuid.UUID) error {
	return s.userRepo.AddAdditionalCredits(ctx, userID, s.cfg.TopUpCredits)
}

func (s *creditService) AllotmentForPrice(ctx context.Context, priceID string) (float64, error) {
	price, err := s.catalogRepo.GetPrice(ctx, priceID)
	if err != nil {
		return 0, err
	}

	product, err := s.catalogRepo.GetProduct(ctx, price.ProductID)
	if err != nil {
		return 0, err
	}

	if product.Credits > 0 {
		return product.Credits, nil
	}
	return s.cfg.CreditsForTier(product.Tier), nil
}
