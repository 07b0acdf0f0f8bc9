package services

import (
	"context"
	"encoding/json"
	"testing"
	"thinkhive-api/internal/config"
	"thinkhive-api/internal/models"
	"thinkhive-api/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newEventServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.Product{},
		&models.Price{},
		&models.WebhookEvent{},
	))
	return db
}

func newEventService(db *gorm.DB) StripeEventService {
	return NewStripeEventService(
		db,
		repository.NewUserRepository(db),
		repository.NewSubscriptionRepository(db),
		repository.NewCatalogRepository(db),
		config.NewBillingConfig(),
	)
}

func stripeEvent(t *testing.T, id, eventType string, payload map[string]interface{}) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return stripe.Event{
		ID:   id,
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func eventCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&count).Error)
	return count
}

func TestApplyTopUpEventReplaysAsNoOp(t *testing.T) {
	db := newEventServiceDB(t)
	svc := newEventService(db)

	user := models.User{Email: "buyer@example.com", StripeCustomerID: "cus_topup"}
	require.NoError(t, db.Create(&user).Error)

	event := stripeEvent(t, "evt_topup_1", "checkout.session.completed", map[string]interface{}{
		"id":       "cs_1",
		"mode":     "payment",
		"customer": map[string]interface{}{"id": "cus_topup"},
	})

	require.NoError(t, svc.Apply(context.Background(), event))
	require.NoError(t, svc.Apply(context.Background(), event))

	var got models.User
	require.NoError(t, db.First(&got, "id = ?", user.ID).Error)
	assert.InDelta(t, 1000.0, got.AdditionalCredits, 1e-9, "redelivery must not grant credits twice")
	assert.EqualValues(t, 1, eventCount(t, db))
}

// A delivery that fails mid-flight must leave no idempotency record
// behind, so Stripe's retry of the same event id can apply it for real.
func TestApplyFailedEventRollsBackAndRetriesCleanly(t *testing.T) {
	db := newEventServiceDB(t)
	svc := newEventService(db)

	event := stripeEvent(t, "evt_invoice_1", "invoice.paid", map[string]interface{}{
		"id":       "in_1",
		"customer": map[string]interface{}{"id": "cus_renew"},
		"lines": map[string]interface{}{
			"data": []map[string]interface{}{
				{"price": map[string]interface{}{"id": "price_pro_month"}},
			},
		},
	})

	// No such customer yet: the whole transaction rolls back.
	require.Error(t, svc.Apply(context.Background(), event))
	assert.EqualValues(t, 0, eventCount(t, db))

	user := models.User{
		Email:            "renew@example.com",
		StripeCustomerID: "cus_renew",
		Credits:          3.5,
		EmbeddingUsage:   42,
		LLMUsage:         7,
	}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&models.Product{ID: "prod_pro", Name: "Pro", Tier: "pro"}).Error)
	require.NoError(t, db.Create(&models.Price{ID: "price_pro_month", ProductID: "prod_pro", UnitAmount: 5000, Currency: "usd", Interval: models.IntervalMonth}).Error)

	require.NoError(t, svc.Apply(context.Background(), event))

	var got models.User
	require.NoError(t, db.First(&got, "id = ?", user.ID).Error)
	assert.InDelta(t, 5000.0, got.Credits, 1e-9)
	assert.EqualValues(t, 0, got.EmbeddingUsage)
	assert.EqualValues(t, 0, got.LLMUsage)
	assert.NotNil(t, got.LastReset)
	assert.EqualValues(t, 1, eventCount(t, db))
}

func TestApplyCatalogEventsKeepOneMirrorRow(t *testing.T) {
	db := newEventServiceDB(t)
	svc := newEventService(db)

	created := stripeEvent(t, "evt_prod_1", "product.created", map[string]interface{}{
		"id":       "prod_pro",
		"name":     "Pro",
		"active":   true,
		"metadata": map[string]string{"tier": "pro"},
	})
	updated := stripeEvent(t, "evt_prod_2", "product.updated", map[string]interface{}{
		"id":       "prod_pro",
		"name":     "Pro Plan",
		"active":   true,
		"metadata": map[string]string{"tier": "pro", "credits": "6000"},
	})
	price := stripeEvent(t, "evt_price_1", "price.created", map[string]interface{}{
		"id":          "price_pro_month",
		"product":     map[string]interface{}{"id": "prod_pro"},
		"active":      true,
		"unit_amount": 5000,
		"currency":    "usd",
		"recurring":   map[string]interface{}{"interval": "month"},
	})

	require.NoError(t, svc.Apply(context.Background(), created))
	require.NoError(t, svc.Apply(context.Background(), updated))
	require.NoError(t, svc.Apply(context.Background(), price))

	var count int64
	require.NoError(t, db.Model(&models.Product{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	var product models.Product
	require.NoError(t, db.First(&product, "id = ?", "prod_pro").Error)
	assert.Equal(t, "Pro Plan", product.Name)
	assert.InDelta(t, 6000.0, product.Credits, 1e-9)

	var mirrored models.Price
	require.NoError(t, db.First(&mirrored, "id = ?", "price_pro_month").Error)
	assert.Equal(t, "prod_pro", mirrored.ProductID)
	assert.Equal(t, models.IntervalMonth, mirrored.Interval)
}

func TestApplySubscriptionDeletedRevokesPlanCreditsOnly(t *testing.T) {
	db := newEventServiceDB(t)
	svc := newEventService(db)

	user := models.User{
		Email:             "cancel@example.com",
		StripeCustomerID:  "cus_cancel",
		Credits:           500,
		AdditionalCredits: 200,
	}
	require.NoError(t, db.Create(&user).Error)

	event := stripeEvent(t, "evt_sub_del_1", "customer.subscription.deleted", map[string]interface{}{
		"id":       "sub_1",
		"customer": map[string]interface{}{"id": "cus_cancel"},
		"status":   "active",
	})
	require.NoError(t, svc.Apply(context.Background(), event))

	var got models.User
	require.NoError(t, db.First(&got, "id = ?", user.ID).Error)
	assert.InDelta(t, 0.0, got.Credits, 1e-9)
	assert.InDelta(t, 200.0, got.AdditionalCredits, 1e-9, "purchased credits survive cancellation")

	var sub models.Subscription
	require.NoError(t, db.First(&sub, "stripe_subscription_id = ?", "sub_1").Error)
	assert.Equal(t, models.SubscriptionCanceled, sub.Status)
}
