package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"thinkhive-api/internal/config"
	"thinkhive-api/internal/logger"
	"thinkhive-api/internal/models"
	"thinkhive-api/internal/repository"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v72"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StripeEventService reconciles inbound Stripe events against the local
// mirrors and the credit ledger. Each event's idempotency record and its
// effects commit in a single transaction, so a redelivered event either
// replays as a no-op or, after a mid-flight failure, retries cleanly —
// never half-applies twice.
type StripeEventService interface {
	Apply(ctx context.Context, event stripe.Event) error
}

type stripeEventService struct {
	db               *gorm.DB
	userRepo         repository.UserRepository
	subscriptionRepo repository.SubscriptionRepository
	catalogRepo      repository.CatalogRepository
	billingCfg       *config.BillingConfig
}

func NewStripeEventService(
	db *gorm.DB,
	userRepo repository.UserRepository,
	subscriptionRepo repository.SubscriptionRepository,
	catalogRepo repository.CatalogRepository,
	billingCfg *config.BillingConfig,
) StripeEventService {
	return &stripeEventService{
		db:               db,
		userRepo:         userRepo,
		subscriptionRepo: subscriptionRepo,
		catalogRepo:      catalogRepo,
		billingCfg:       billingCfg,
	}
}

func (s *stripeEventService) Apply(ctx context.Context, event stripe.Event) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := models.WebhookEvent{
			StripeEventID: event.ID,
			Type:          string(event.Type),
			ProcessedAt:   time.Now(),
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			logger.LogEvent(logrus.InfoLevel, "Skipping already-applied Stripe event", logrus.Fields{
				"event_id": event.ID,
				"type":     event.Type,
			})
			return nil
		}

		return s.dispatch(ctx, tx, event)
	})
}

func (s *stripeEventService) dispatch(ctx context.Context, tx *gorm.DB, event stripe.Event) error {
	users := s.userRepo.WithTx(tx)
	subscriptions := s.subscriptionRepo.WithTx(tx)
	catalog := s.catalogRepo.WithTx(tx)

	switch event.Type {
	case "product.created", "product.updated":
		var product stripe.Product
		if err := json.Unmarshal(event.Data.Raw, &product); err != nil {
			return fmt.Errorf("parsing product payload: %w", err)
		}
		return catalog.UpsertProduct(ctx, productRow(product))

	case "price.created", "price.updated":
		var price stripe.Price
		if err := json.Unmarshal(event.Data.Raw, &price); err != nil {
			return fmt.Errorf("parsing price payload: %w", err)
		}
		return catalog.UpsertPrice(ctx, priceRow(price))

	case "customer.subscription.created", "customer.subscription.updated":
		var subscription stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
			return fmt.Errorf("parsing subscription payload: %w", err)
		}
		_, err := upsertSubscription(ctx, users, subscriptions, subscription)
		return err

	case "customer.subscription.deleted":
		var subscription stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
			return fmt.Errorf("parsing subscription payload: %w", err)
		}
		subscription.Status = stripe.SubscriptionStatusCanceled
		userID, err := upsertSubscription(ctx, users, subscriptions, subscription)
		if err != nil {
			return err
		}
		// Plan credits and counters go away with the subscription;
		// purchased additional credits stay.
		return users.ResetCredits(ctx, userID, 0)

	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("parsing checkout session payload: %w", err)
		}
		return s.handleCheckoutCompleted(ctx, users, session)

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("parsing invoice payload: %w", err)
		}
		return s.handleInvoicePaid(ctx, users, subscriptions, catalog, inv)

	case "invoice.payment_failed", "payment_intent.payment_failed":
		// Dunning hook. Recorded for idempotency, no ledger effect yet.
		logger.LogEvent(logrus.WarnLevel, "Payment failed event received", logrus.Fields{
			"event_id": event.ID,
			"type":     event.Type,
		})
		return nil

	default:
		logger.LogEvent(logrus.InfoLevel, "Unhandled Stripe event type", logrus.Fields{
			"event_id": event.ID,
			"type":     event.Type,
		})
		return nil
	}
}

func productRow(product stripe.Product) *models.Product {
	credits, _ := strconv.ParseFloat(product.Metadata["credits"], 64)

	return &models.Product{
		ID:          product.ID,
		Name:        product.Name,
		Active:      product.Active,
		Description: product.Description,
		Tier:        product.Metadata["tier"],
		Credits:     credits,
		UpdatedAt:   time.Now(),
	}
}

func priceRow(price stripe.Price) *models.Price {
	row := &models.Price{
		ID:         price.ID,
		Active:     price.Active,
		UnitAmount: price.UnitAmount,
		Currency:   string(price.Currency),
		UpdatedAt:  time.Now(),
	}
	if price.Product != nil {
		row.ProductID = price.Product.ID
	}
	if price.Recurring != nil {
		row.Interval = models.PriceInterval(price.Recurring.Interval)
	}
	return row
}

func upsertSubscription(
	ctx context.Context,
	users repository.UserRepository,
	subscriptions repository.SubscriptionRepository,
	subscription stripe.Subscription,
) (uuid.UUID, error) {
	user, err := userByCustomer(ctx, users, subscription.Customer)
	if err != nil {
		return uuid.Nil, err
	}

	row := models.Subscription{
		StripeSubscriptionID: subscription.ID,
		UserID:               user.ID,
		Status:               models.SubscriptionStatus(subscription.Status),
		CurrentPeriodStart:   time.Unix(subscription.CurrentPeriodStart, 0),
		CurrentPeriodEnd:     time.Unix(subscription.CurrentPeriodEnd, 0),
		UpdatedAt:            time.Now(),
	}
	if subscription.CancelAt > 0 {
		cancelAt := time.Unix(subscription.CancelAt, 0)
		row.CancelAt = &cancelAt
	}
	if subscription.Items != nil && len(subscription.Items.Data) > 0 && subscription.Items.Data[0].Price != nil {
		row.PriceID = subscription.Items.Data[0].Price.ID
	}

	return user.ID, subscriptions.UpsertByStripeID(ctx, &row)
}

func (s *stripeEventService) handleCheckoutCompleted(ctx context.Context, users repository.UserRepository, session stripe.CheckoutSession) error {
	// Subscription-mode checkouts are reconciled through the subsequent
	// customer.subscription.* and invoice.paid events; only one-time
	// payments (credit top-ups) act here.
	if session.Mode != stripe.CheckoutSessionModePayment {
		return nil
	}

	user, err := userByCustomer(ctx, users, session.Customer)
	if err != nil {
		return err
	}

	return users.AddAdditionalCredits(ctx, user.ID, s.billingCfg.TopUpCredits)
}

// handleInvoicePaid is the renewal trigger: restore the tier allotment
// and start a fresh usage cycle.
func (s *stripeEventService) handleInvoicePaid(
	ctx context.Context,
	users repository.UserRepository,
	subscriptions repository.SubscriptionRepository,
	catalog repository.CatalogRepository,
	inv stripe.Invoice,
) error {
	user, err := userByCustomer(ctx, users, inv.Customer)
	if err != nil {
		return err
	}

	priceID := ""
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Price != nil {
		priceID = inv.Lines.Data[0].Price.ID
	}
	if priceID == "" && inv.Subscription != nil {
		if sub, err := subscriptions.GetByStripeID(ctx, inv.Subscription.ID); err == nil {
			priceID = sub.PriceID
		}
	}

	allotment, err := s.allotmentForPrice(ctx, catalog, priceID)
	if err != nil {
		return err
	}

	return users.ResetCredits(ctx, user.ID, allotment)
}

func (s *stripeEventService) allotmentForPrice(ctx context.Context, catalog repository.CatalogRepository, priceID string) (float64, error) {
	if priceID == "" {
		return 0, fmt.Errorf("invoice without a resolvable price id")
	}

	price, err := catalog.GetPrice(ctx, priceID)
	if err != nil {
		return 0, fmt.Errorf("price %s not mirrored: %w", priceID, err)
	}

	product, err := catalog.GetProduct(ctx, price.ProductID)
	if err != nil {
		return 0, fmt.Errorf("product %s not mirrored: %w", price.ProductID, err)
	}

	if product.Credits > 0 {
		return product.Credits, nil
	}
	return s.billingCfg.CreditsForTier(product.Tier), nil
}

func userByCustomer(ctx context.Context, users repository.UserRepository, customer *stripe.Customer) (*models.User, error) {
	if customer == nil || customer.ID == "" {
		return nil, fmt.Errorf("event payload has no customer")
	}

	user, err := users.GetByStripeCustomerID(ctx, customer.ID)
	if err != nil {
		return nil, fmt.Errorf("no user for Stripe customer %s: %w", customer.ID, err)
	}
	return user, nil
}
