package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hugh/go-shepherd/internal/apperr"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database/models"
)

// Actor is the principal performing an operation, with its tenant, as read
// inside the operation's unit of work.
type Actor struct {
	Principal *models.Principal
	Tenant    *models.Tenant
}

func (a *Actor) Subject() authz.Subject {
	return authz.Subject{Principal: a.Principal.Snapshot(), Tenant: a.Tenant.Snapshot()}
}

func (a *Actor) TenantID() uuid.UUID {
	return a.Principal.TenantID
}

// LoadActor reads a principal and its tenant. An unknown principal is
// reported as Unauthorized; a missing tenant leaves Tenant nil, which every
// authorization check denies.
func LoadActor(ctx context.Context, db *gorm.DB, principalID uuid.UUID) (*Actor, error) {
	var p models.Principal
	if err := db.WithContext(ctx).Where("id = ?", principalID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Unauthorized("unknown principal")
		}
		return nil, apperr.FromStore(err)
	}

	t, err := loadTenant(ctx, db, p.TenantID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return &Actor{Principal: &p, Tenant: t}, nil
}

// Require returns Unauthorized unless the resolver allows actor to perform
// action on a resource owned by tenantID.
func Require(r *authz.Resolver, a *Actor, action authz.Permission, tenantID uuid.UUID) error {
	if a == nil || !r.Authorize(a.Subject(), action, authz.In(tenantID)) {
		return apperr.Unauthorized(string(action))
	}
	return nil
}

// LoadPrincipal reads one principal. With lock set the row is locked for the
// rest of the transaction where the dialect supports it.
func LoadPrincipal(ctx context.Context, db *gorm.DB, id uuid.UUID, lock bool) (*models.Principal, error) {
	q := db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p models.Principal
	if err := q.Where("id = ?", id).First(&p).Error; err != nil {
		return nil, apperr.FromStore(err)
	}
	return &p, nil
}

func loadTenant(ctx context.Context, db *gorm.DB, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, apperr.FromStore(err)
	}
	return &t, nil
}

// EligibleStaff reports whether p can own follow-ups in tenantID: active,
// in that tenant and ranked staff or above.
func EligibleStaff(roles *authz.Registry, p *models.Principal, tenantID uuid.UUID) bool {
	return p != nil &&
		p.TenantID == tenantID &&
		p.Status == models.PrincipalActive &&
		roles.AtLeast(p.Role, authz.RoleStaff)
}
