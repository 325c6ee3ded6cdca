package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SubscriptionStatusPending           = "pending"
	SubscriptionStatusActive            = "active"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusUnpaid            = "unpaid"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusPaused            = "paused"
	SubscriptionStatusCanceled          = "canceled"
)

// Subscription mirrors a provider subscription owned by a profile. Rows are
// never deleted; canceled is terminal.
type Subscription struct {
	ID                      string     `gorm:"type:char(36);primaryKey" json:"id"`
	ProfileID               string     `gorm:"type:char(36);not null;index" json:"profile_id"`
	PlanType                string     `gorm:"type:varchar(50);not null;default:''" json:"plan_type"`
	Status                  string     `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	StripeCustomerID        string     `gorm:"type:varchar(191);not null;default:''" json:"stripe_customer_id"`
	StripeSubscriptionID    *string    `gorm:"type:varchar(191);uniqueIndex" json:"stripe_subscription_id,omitempty"`
	StripeCheckoutSessionID *string    `gorm:"type:varchar(191);index" json:"stripe_checkout_session_id,omitempty"`
	CurrentPeriodStart      *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd        *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd       bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt              *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	CreatedAt               time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = SubscriptionStatusPending
	}
	return nil
}

// IsCanceled reports whether the subscription reached its terminal state.
func (s *Subscription) IsCanceled() bool {
	return s.Status == SubscriptionStatusCanceled
}

// ExternalID returns the provider subscription id or an empty string.
func (s *Subscription) ExternalID() string {
	if s.StripeSubscriptionID == nil {
		return ""
	}
	return *s.StripeSubscriptionID
}
