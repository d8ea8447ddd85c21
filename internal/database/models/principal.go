package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/hugh/go-shepherd/internal/authz"
)

type PrincipalStatus string

const (
	PrincipalActive    PrincipalStatus = "active"
	PrincipalSuspended PrincipalStatus = "suspended"
)

func (s PrincipalStatus) Valid() bool {
	return s == PrincipalActive || s == PrincipalSuspended
}

// Principal is a user scoped to exactly one tenant. TenantID never changes.
type Principal struct {
	Base
	TenantID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Name           string          `json:"name"`
	Email          string          `gorm:"index" json:"email"`
	Role           authz.Role      `gorm:"type:varchar(32);not null;index" json:"role"`
	ExplicitGrants PermissionList  `gorm:"type:text" json:"explicit_grants"`
	Status         PrincipalStatus `gorm:"type:varchar(16);not null;index" json:"status"`

	// Only set for guests; always a principal of the same tenant.
	AssignedStaffID *uuid.UUID `gorm:"type:uuid;index" json:"assigned_staff_id,omitempty"`

	GroupID          *uuid.UUID `gorm:"type:uuid" json:"group_id,omitempty"`
	InvitedByTokenID *uuid.UUID `gorm:"type:uuid;index" json:"invited_by_token_id,omitempty"`
	SuspendedAt      *time.Time `json:"suspended_at,omitempty"`

	Tenant *Tenant `gorm:"foreignKey:TenantID" json:"-"`
}

func (Principal) TableName() string {
	return "principals"
}

func (p *Principal) Snapshot() authz.Principal {
	return authz.Principal{
		ID:        p.ID,
		TenantID:  p.TenantID,
		Role:      p.Role,
		Grants:    append([]authz.Permission(nil), p.ExplicitGrants...),
		Suspended: p.Status != PrincipalActive,
	}
}
