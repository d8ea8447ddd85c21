// Package directory manages tenants and the principals that belong to them.
package directory

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hugh/go-shepherd/internal/apperr"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database/models"
	"github.com/hugh/go-shepherd/pkg/util"
)

type Service struct {
	db       *gorm.DB
	resolver *authz.Resolver
	clock    util.Clock
	logger   *slog.Logger
}

func NewService(db *gorm.DB, resolver *authz.Resolver, clock util.Clock, logger *slog.Logger) *Service {
	return &Service{db: db, resolver: resolver, clock: clock, logger: logger}
}

type BootstrapInput struct {
	TenantName string
	Slug       string
	OwnerName  string
	OwnerEmail string
}

type BootstrapResult struct {
	Tenant *models.Tenant
	Owner  *models.Principal
}

// BootstrapTenant creates a tenant and its first owner in one transaction.
// This is the only way a tenant comes into existence.
func (s *Service) BootstrapTenant(ctx context.Context, input BootstrapInput) (*BootstrapResult, error) {
	name := strings.TrimSpace(input.TenantName)
	if name == "" {
		return nil, apperr.Validation("tenant name is required")
	}
	if strings.TrimSpace(input.OwnerName) == "" {
		return nil, apperr.Validation("owner name is required")
	}

	slug := input.Slug
	if slug == "" {
		slug = Slugify(name) + "-" + uuid.NewString()[:6]
	} else if !slugPattern.MatchString(slug) {
		return nil, apperr.Validation("slug must be lowercase letters, digits and dashes")
	}

	tenant := &models.Tenant{Name: name, Slug: slug, Active: true}
	owner := &models.Principal{
		Name:   strings.TrimSpace(input.OwnerName),
		Email:  strings.ToLower(strings.TrimSpace(input.OwnerEmail)),
		Role:   authz.RoleOwner,
		Status: models.PrincipalActive,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tenant).Error; err != nil {
			return err
		}
		owner.TenantID = tenant.ID
		return tx.Create(owner).Error
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}

	s.logger.Info("tenant bootstrapped", "tenant_id", tenant.ID, "owner_id", owner.ID)
	return &BootstrapResult{Tenant: tenant, Owner: owner}, nil
}

// GetTenant returns the actor's own tenant.
func (s *Service) GetTenant(ctx context.Context, actorID uuid.UUID) (*models.Tenant, error) {
	actor, err := LoadActor(ctx, s.db, actorID)
	if err != nil {
		return nil, err
	}
	if err := Require(s.resolver, actor, authz.TenantRead, actor.TenantID()); err != nil {
		return nil, err
	}
	return actor.Tenant, nil
}

// DeactivateTenant switches the actor's tenant off. Every later
// authorization inside it is denied, the actor's own included.
func (s *Service) DeactivateTenant(ctx context.Context, actorID uuid.UUID) (*models.Tenant, error) {
	var tenant *models.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actor, err := LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := Require(s.resolver, actor, authz.TenantManage, actor.TenantID()); err != nil {
			return err
		}

		now := s.clock.Now()
		if err := tx.Model(&models.Tenant{}).
			Where("id = ?", actor.TenantID()).
			Updates(map[string]any{"active": false, "deactivated_at": now}).Error; err != nil {
			return err
		}
		tenant = actor.Tenant
		tenant.Active = false
		tenant.DeactivatedAt = &now
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}

	s.logger.Info("tenant deactivated", "tenant_id", tenant.ID, "actor_id", actorID)
	return tenant, nil
}

// ActivateTenant turns a tenant back on. No principal can authorize this
// while the tenant is inactive, so it is reserved for operators.
func (s *Service) ActivateTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	var tenant *models.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := loadTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Tenant{}).
			Where("id = ?", tenantID).
			Updates(map[string]any{"active": true, "deactivated_at": nil}).Error; err != nil {
			return err
		}
		t.Active = true
		t.DeactivatedAt = nil
		tenant = t
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}

	s.logger.Info("tenant activated", "tenant_id", tenantID)
	return tenant, nil
}

// Subject loads the authorization snapshot for a principal.
func (s *Service) Subject(ctx context.Context, principalID uuid.UUID) (authz.Subject, error) {
	actor, err := LoadActor(ctx, s.db, principalID)
	if err != nil {
		return authz.Subject{}, err
	}
	return actor.Subject(), nil
}

// Authorize answers whether principalID may perform action on a resource
// owned by resourceTenant, or on its own tenant when resourceTenant is nil.
func (s *Service) Authorize(ctx context.Context, principalID uuid.UUID, action authz.Permission, resourceTenant *uuid.UUID) (bool, error) {
	subject, err := s.Subject(ctx, principalID)
	if err != nil {
		return false, err
	}
	var res *authz.Resource
	if resourceTenant != nil {
		res = authz.In(*resourceTenant)
	}
	return s.resolver.Authorize(subject, action, res), nil
}

// Permissions resolves the effective permission set of a principal. It is
// empty while the principal or its tenant is switched off.
func (s *Service) Permissions(ctx context.Context, principalID uuid.UUID) (*models.Principal, authz.PermissionSet, error) {
	actor, err := LoadActor(ctx, s.db, principalID)
	if err != nil {
		return nil, nil, err
	}
	sub := actor.Subject()
	if sub.Tenant == nil || !sub.Tenant.Active || sub.Principal.Suspended {
		return actor.Principal, authz.NewPermissionSet(), nil
	}
	return actor.Principal, s.resolver.Resolve(sub.Principal), nil
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and collapses everything else into dashes.
func Slugify(name string) string {
	slug := nonSlug.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "tenant"
	}
	return slug
}
