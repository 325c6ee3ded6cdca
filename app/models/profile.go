package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ProfileRoleLandlord = "landlord"
	ProfileRoleTenant   = "tenant"
)

const (
	ConnectStatusPending    = "pending"
	ConnectStatusActive     = "active"
	ConnectStatusRestricted = "restricted"
	ConnectStatusUnknown    = "unknown"
)

// Profile is the application user. The id equals the auth subject.
type Profile struct {
	ID                     string    `gorm:"type:char(36);primaryKey" json:"id"`
	Email                  string    `gorm:"type:varchar(255);not null;default:''" json:"email"`
	FullName               string    `gorm:"type:varchar(255);not null;default:''" json:"full_name"`
	Role                   string    `gorm:"type:varchar(20);not null;default:'landlord'" json:"role"`
	StripeConnectAccountID *string   `gorm:"type:varchar(191);uniqueIndex" json:"stripe_connect_account_id,omitempty"`
	StripeConnectStatus    string    `gorm:"type:varchar(20);not null;default:''" json:"stripe_connect_status"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// ConnectAccountID returns the payout account id or an empty string.
func (p *Profile) ConnectAccountID() string {
	if p.StripeConnectAccountID == nil {
		return ""
	}
	return *p.StripeConnectAccountID
}

// CanReceivePayouts reports whether rent can be routed to this profile.
func (p *Profile) CanReceivePayouts() bool {
	return p.ConnectAccountID() != "" && p.StripeConnectStatus == ConnectStatusActive
}
