package models

import (
	"time"

	"github.com/hugh/go-shepherd/internal/authz"
)

// Tenant is an isolated organization. Deactivation flips Active; rows stay.
type Tenant struct {
	Base
	Name          string     `gorm:"not null" json:"name"`
	Slug          string     `gorm:"uniqueIndex;not null" json:"slug"`
	Active        bool       `gorm:"not null" json:"active"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

func (Tenant) TableName() string {
	return "tenants"
}

func (t *Tenant) Snapshot() *authz.Tenant {
	if t == nil {
		return nil
	}
	return &authz.Tenant{ID: t.ID, Active: t.Active}
}
