package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tenant lives in a property and may be linked to a profile for portal access.
type Tenant struct {
	ID         string    `gorm:"type:char(36);primaryKey" json:"id"`
	PropertyID string    `gorm:"type:char(36);not null;index" json:"property_id"`
	ProfileID  *string   `gorm:"type:char(36);index" json:"profile_id,omitempty"`
	FullName   string    `gorm:"type:varchar(255);not null" json:"full_name"`
	Email      string    `gorm:"type:varchar(255);not null;default:''" json:"email"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Property *Property `gorm:"foreignKey:PropertyID" json:"property,omitempty"`
}

func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// IsLinkedTo reports whether the tenant record belongs to the given profile.
func (t *Tenant) IsLinkedTo(profileID string) bool {
	return t.ProfileID != nil && *t.ProfileID == profileID
}
