package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/RentFox/app/models"
	"github.com/ManuelReschke/RentFox/internal/pkg/database"
)

// Repository provides DB operations used by the billing service. Every
// mutation is a single statement keyed on a unique column so concurrent
// deliveries converge.
type Repository interface {
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
	ListFailedWebhookEvents(ctx context.Context, provider string, limit int) ([]models.WebhookEvent, error)

	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	ClaimPendingSubscription(ctx context.Context, checkoutSessionID string, sub *models.Subscription) (bool, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	ExpirePendingSubscription(ctx context.Context, checkoutSessionID string) (bool, error)
	BackfillSubscription(ctx context.Context, stripeSubscriptionID, planType, checkoutSessionID string) error
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	GetSubscriptionForProfile(ctx context.Context, stripeSubscriptionID, profileID string) (*models.Subscription, error)
	MarkSubscriptionCanceled(ctx context.Context, id string, periodEnd *time.Time, canceledAt time.Time) error

	GetPaymentForCheckout(ctx context.Context, id string) (*models.Payment, error)
	AttachCheckout(ctx context.Context, paymentID, stripePaymentID, checkoutSessionID string, platformFee decimal.Decimal) error
	CreatePayment(ctx context.Context, payment *models.Payment) (bool, error)
	TransitionPayment(ctx context.Context, paymentID string, from []string, to, stripePaymentID string) (bool, error)

	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	SetConnectAccount(ctx context.Context, profileID, accountID, status string) error
	UpdateConnectStatus(ctx context.Context, accountID, status string) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
		"attempts":         gorm.Expr("attempts + ?", 1),
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) ListFailedWebhookEvents(ctx context.Context, provider string, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND processing_error <> ''", provider).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *gormRepository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

// ClaimPendingSubscription attaches provider state to the pending row created
// for the same checkout session. It returns false when there is no such row
// or another row already carries the provider id.
func (r *gormRepository) ClaimPendingSubscription(ctx context.Context, checkoutSessionID string, sub *models.Subscription) (bool, error) {
	if checkoutSessionID == "" || sub.StripeSubscriptionID == nil {
		return false, nil
	}
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("stripe_checkout_session_id = ? AND stripe_subscription_id IS NULL", checkoutSessionID).
		Updates(map[string]interface{}{
			"stripe_subscription_id": *sub.StripeSubscriptionID,
			"stripe_customer_id":     sub.StripeCustomerID,
			"status":                 sub.Status,
			"current_period_start":   sub.CurrentPeriodStart,
			"current_period_end":     sub.CurrentPeriodEnd,
			"cancel_at_period_end":   sub.CancelAtPeriodEnd,
			"canceled_at":            sub.CanceledAt,
		})
	if res.Error != nil {
		if database.IsDuplicateKey(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, r.reloadSubscription(ctx, sub)
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "stripe_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"stripe_customer_id",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"canceled_at",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID and immutable columns reflect the stored row after upsert.
	return r.reloadSubscription(ctx, sub)
}

func (r *gormRepository) reloadSubscription(ctx context.Context, sub *models.Subscription) error {
	var stored models.Subscription
	if err := r.db.WithContext(ctx).Where("stripe_subscription_id = ?", *sub.StripeSubscriptionID).
		First(&stored).Error; err != nil {
		return err
	}
	*sub = stored
	return nil
}

func (r *gormRepository) ExpirePendingSubscription(ctx context.Context, checkoutSessionID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("stripe_checkout_session_id = ? AND stripe_subscription_id IS NULL AND status = ?", checkoutSessionID, models.SubscriptionStatusPending).
		Update("status", models.SubscriptionStatusIncompleteExpired)
	return res.RowsAffected > 0, res.Error
}

// BackfillSubscription fills plan type and checkout session on a live row
// only where they are still empty.
func (r *gormRepository) BackfillSubscription(ctx context.Context, stripeSubscriptionID, planType, checkoutSessionID string) error {
	if planType != "" {
		if err := r.db.WithContext(ctx).Model(&models.Subscription{}).
			Where("stripe_subscription_id = ? AND plan_type = ?", stripeSubscriptionID, "").
			Update("plan_type", planType).Error; err != nil {
			return err
		}
	}
	if checkoutSessionID != "" {
		if err := r.db.WithContext(ctx).Model(&models.Subscription{}).
			Where("stripe_subscription_id = ? AND stripe_checkout_session_id IS NULL", stripeSubscriptionID).
			Update("stripe_checkout_session_id", checkoutSessionID).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *gormRepository) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionForProfile(ctx context.Context, stripeSubscriptionID, profileID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ? AND profile_id = ?", stripeSubscriptionID, profileID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) MarkSubscriptionCanceled(ctx context.Context, id string, periodEnd *time.Time, canceledAt time.Time) error {
	updates := map[string]interface{}{
		"status":      models.SubscriptionStatusCanceled,
		"canceled_at": canceledAt,
	}
	if periodEnd != nil {
		updates["current_period_end"] = *periodEnd
	}
	return r.db.WithContext(ctx).Model(&models.Subscription{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) GetPaymentForCheckout(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).
		Preload("Tenant").
		Preload("Property.Owner").
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) AttachCheckout(ctx context.Context, paymentID, stripePaymentID, checkoutSessionID string, platformFee decimal.Decimal) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"stripe_payment_id":          stripePaymentID,
			"stripe_checkout_session_id": checkoutSessionID,
			"platform_fee_amount":        platformFee,
		}).Error
}

// CreatePayment inserts a payment. Payments with a dedup key are inserted at
// most once; the bool reports whether a row was written.
func (r *gormRepository) CreatePayment(ctx context.Context, payment *models.Payment) (bool, error) {
	tx := r.db.WithContext(ctx).Omit(clause.Associations)
	if payment.DedupKey != nil {
		tx = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedup_key"}},
			DoNothing: true,
		})
	}
	res := tx.Create(payment)
	if res.Error != nil {
		if database.IsDuplicateKey(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) TransitionPayment(ctx context.Context, paymentID string, from []string, to, stripePaymentID string) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if stripePaymentID != "" {
		updates["stripe_payment_id"] = stripePaymentID
	}
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", paymentID, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *gormRepository) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) SetConnectAccount(ctx context.Context, profileID, accountID, status string) error {
	return r.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", profileID).
		Updates(map[string]interface{}{
			"stripe_connect_account_id": accountID,
			"stripe_connect_status":     status,
		}).Error
}

func (r *gormRepository) UpdateConnectStatus(ctx context.Context, accountID, status string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Profile{}).
		Where("stripe_connect_account_id = ?", accountID).
		Update("stripe_connect_status", status)
	return res.RowsAffected > 0, res.Error
}
