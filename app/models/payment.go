package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	PaymentTypeRent         = "rent"
	PaymentTypeSubscription = "subscription"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

const DefaultCurrency = "usd"

// ErrInvalidPaymentReference is returned when a payment does not reference
// the records its type requires.
var ErrInvalidPaymentReference = errors.New("payment references do not match its type")

// Payment is a single money movement tracked locally. Amounts are stored in
// major currency units.
type Payment struct {
	ID                      string          `gorm:"type:char(36);primaryKey" json:"id"`
	Amount                  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency                string          `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Type                    string          `gorm:"type:varchar(20);not null;index" json:"type"`
	Status                  string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PropertyID              *string         `gorm:"type:char(36);index" json:"property_id,omitempty"`
	TenantID                *string         `gorm:"type:char(36);index" json:"tenant_id,omitempty"`
	SubscriptionID          *string         `gorm:"type:char(36);index" json:"subscription_id,omitempty"`
	StripePaymentID         *string         `gorm:"type:varchar(191);index" json:"stripe_payment_id,omitempty"`
	StripeCheckoutSessionID *string         `gorm:"type:varchar(191);index" json:"stripe_checkout_session_id,omitempty"`
	DedupKey                *string         `gorm:"type:varchar(191);uniqueIndex" json:"-"`
	PeriodStart             *time.Time      `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd               *time.Time      `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	PlatformFeeAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"platform_fee_amount"`
	CreatedAt               time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Property     *Property     `gorm:"foreignKey:PropertyID" json:"property,omitempty"`
	Tenant       *Tenant       `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
	Subscription *Subscription `gorm:"foreignKey:SubscriptionID" json:"-"`
}

// BeforeCreate assigns an id and defaults, then checks type references.
func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = PaymentStatusPending
	}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	return p.ValidateReferences()
}

// ValidateReferences enforces that rent payments point at a property and a
// tenant while subscription payments point at a subscription.
func (p *Payment) ValidateReferences() error {
	switch p.Type {
	case PaymentTypeRent:
		if isBlank(p.PropertyID) || isBlank(p.TenantID) {
			return ErrInvalidPaymentReference
		}
	case PaymentTypeSubscription:
		if isBlank(p.SubscriptionID) {
			return ErrInvalidPaymentReference
		}
	default:
		return ErrInvalidPaymentReference
	}
	return nil
}

// IsFinal reports whether the payment can no longer move back to pending or failed.
func (p *Payment) IsFinal() bool {
	return p.Status == PaymentStatusCompleted || p.Status == PaymentStatusRefunded
}

func isBlank(s *string) bool {
	return s == nil || *s == ""
}
