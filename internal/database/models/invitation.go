package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/hugh/go-shepherd/internal/authz"
)

// InvitationToken admits new principals into a tenant at a fixed role.
// Code is secret and only handed back to the issuer.
type InvitationToken struct {
	Base
	TenantID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Code           string     `gorm:"uniqueIndex;not null" json:"-"`
	CreatedBy      uuid.UUID  `gorm:"type:uuid;not null;index" json:"created_by"`
	TargetRole     authz.Role `gorm:"type:varchar(32);not null" json:"target_role"`
	TargetGroupID  *uuid.UUID `gorm:"type:uuid" json:"target_group_id,omitempty"`
	DefaultStaffID *uuid.UUID `gorm:"type:uuid" json:"default_staff_id,omitempty"`
	Label          string     `json:"label,omitempty"`
	ExpiresAt      time.Time  `gorm:"not null;index" json:"expires_at"`
	MaxUses        int        `gorm:"not null" json:"max_uses"`
	CurrentUses    int        `gorm:"not null" json:"current_uses"`
	Active         bool       `gorm:"not null;index" json:"active"`
	DeactivatedAt  *time.Time `json:"deactivated_at,omitempty"`

	Tenant *Tenant `gorm:"foreignKey:TenantID" json:"-"`
}

func (InvitationToken) TableName() string {
	return "invitation_tokens"
}

// Expired reports whether the token is past its expiry at now. A token is
// usable only while now is strictly before ExpiresAt.
func (t *InvitationToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *InvitationToken) Exhausted() bool {
	return t.CurrentUses >= t.MaxUses
}

func (t *InvitationToken) RemainingUses() int {
	if t.Exhausted() {
		return 0
	}
	return t.MaxUses - t.CurrentUses
}
