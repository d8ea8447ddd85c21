package directory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hugh/go-shepherd/internal/apperr"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database/models"
)

type CreatePrincipalInput struct {
	Name    string
	Email   string
	Role    authz.Role
	GroupID *uuid.UUID
}

// CreatePrincipal admits a principal directly, without an invitation. The
// role must rank strictly below the actor's.
func (s *Service) CreatePrincipal(ctx context.Context, actorID uuid.UUID, input CreatePrincipalInput) (*models.Principal, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, apperr.Validation("name is required")
	}
	if !s.resolver.Roles().Valid(input.Role) {
		return nil, apperr.Validation("unknown role %q", input.Role)
	}

	var created *models.Principal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actor, err := LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := Require(s.resolver, actor, authz.PrincipalCreate, actor.TenantID()); err != nil {
			return err
		}
		if !s.resolver.CanAssignRole(actor.Principal.Snapshot(), input.Role) {
			return apperr.Unauthorized("role " + string(input.Role) + " is not below actor")
		}

		created = &models.Principal{
			TenantID: actor.TenantID(),
			Name:     strings.TrimSpace(input.Name),
			Email:    strings.ToLower(strings.TrimSpace(input.Email)),
			Role:     input.Role,
			Status:   models.PrincipalActive,
			GroupID:  input.GroupID,
		}
		return tx.Create(created).Error
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}

	s.logger.Info("principal created", "tenant_id", created.TenantID, "principal_id", created.ID, "role", created.Role)
	return created, nil
}

// GetPrincipal returns a principal of the actor's tenant. Principals can
// always read themselves.
func (s *Service) GetPrincipal(ctx context.Context, actorID, id uuid.UUID) (*models.Principal, error) {
	actor, err := LoadActor(ctx, s.db, actorID)
	if err != nil {
		return nil, err
	}
	target, err := LoadPrincipal(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}

	if actorID == id {
		if err := Require(s.resolver, actor, authz.TenantRead, target.TenantID); err != nil {
			return nil, err
		}
		return target, nil
	}
	if err := Require(s.resolver, actor, authz.PrincipalRead, target.TenantID); err != nil {
		return nil, err
	}
	return target, nil
}

type PrincipalFilter struct {
	Role   authz.Role
	Status models.PrincipalStatus
	Limit  int
	Offset int
}

func (s *Service) ListPrincipals(ctx context.Context, actorID uuid.UUID, filter PrincipalFilter) ([]models.Principal, int64, error) {
	actor, err := LoadActor(ctx, s.db, actorID)
	if err != nil {
		return nil, 0, err
	}
	if err := Require(s.resolver, actor, authz.PrincipalRead, actor.TenantID()); err != nil {
		return nil, 0, err
	}

	q := s.db.WithContext(ctx).Model(&models.Principal{}).Where("tenant_id = ?", actor.TenantID())
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.FromStore(err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var principals []models.Principal
	if err := q.Order("created_at ASC").Limit(limit).Offset(filter.Offset).Find(&principals).Error; err != nil {
		return nil, 0, apperr.FromStore(err)
	}
	return principals, total, nil
}

// ChangeRole moves a principal to another role. Both the current and the new
// role must rank below the actor. Leaving guest clears the staff assignee and
// completes the open follow-up, since follow-ups only track guests.
func (s *Service) ChangeRole(ctx context.Context, actorID, id uuid.UUID, role authz.Role) (*models.Principal, error) {
	if !s.resolver.Roles().Valid(role) {
		return nil, apperr.Validation("unknown role %q", role)
	}

	var target *models.Principal
	err := s.manage(ctx, actorID, id, func(tx *gorm.DB, actor *Actor, p *models.Principal) error {
		if !s.resolver.CanAssignRole(actor.Principal.Snapshot(), role) {
			return apperr.Unauthorized("role " + string(role) + " is not below actor")
		}
		if p.Role == role {
			target = p
			return nil
		}

		updates := map[string]any{"role": role}
		if p.Role == authz.RoleGuest {
			updates["assigned_staff_id"] = nil
			p.AssignedStaffID = nil
			if err := closeFollowUps(tx, p.ID, s.clock.Now()); err != nil {
				return err
			}
		}
		if err := tx.Model(p).Updates(updates).Error; err != nil {
			return err
		}
		p.Role = role
		target = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("principal role changed", "principal_id", id, "role", role, "actor_id", actorID)
	return target, nil
}

func closeFollowUps(tx *gorm.DB, guestID uuid.UUID, now time.Time) error {
	return tx.Model(&models.FollowUpAssignment{}).
		Where("guest_id = ? AND status NOT IN ?", guestID, models.TerminalFollowUpStatuses).
		Updates(map[string]any{
			"status":    models.FollowUpCompleted,
			"closed_at": now,
			"version":   gorm.Expr("version + 1"),
		}).Error
}

// SetStatus suspends or reactivates a principal. Suspension is soft: the row
// and its history stay.
func (s *Service) SetStatus(ctx context.Context, actorID, id uuid.UUID, status models.PrincipalStatus) (*models.Principal, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown status %q", status)
	}

	var target *models.Principal
	err := s.manage(ctx, actorID, id, func(tx *gorm.DB, _ *Actor, p *models.Principal) error {
		if p.Status == status {
			target = p
			return nil
		}

		updates := map[string]any{"status": status}
		if status == models.PrincipalSuspended {
			now := s.clock.Now()
			updates["suspended_at"] = now
			p.SuspendedAt = &now
		} else {
			updates["suspended_at"] = nil
			p.SuspendedAt = nil
		}
		if err := tx.Model(p).Updates(updates).Error; err != nil {
			return err
		}
		p.Status = status
		target = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("principal status changed", "principal_id", id, "status", status, "actor_id", actorID)
	return target, nil
}

// Grant adds an explicit permission. The actor must hold it already, so
// grants never hand out more than the granter has.
func (s *Service) Grant(ctx context.Context, actorID, id uuid.UUID, perm authz.Permission) (*models.Principal, error) {
	if !authz.Known(perm) {
		return nil, apperr.Validation("unknown permission %q", perm)
	}

	var target *models.Principal
	err := s.manageWith(ctx, actorID, id, authz.PrincipalGrant, func(tx *gorm.DB, actor *Actor, p *models.Principal) error {
		if !s.resolver.Resolve(actor.Principal.Snapshot()).Has(perm) {
			return apperr.Unauthorized("cannot grant " + string(perm) + " without holding it")
		}
		target = p
		if p.ExplicitGrants.Has(perm) {
			return nil
		}

		grants := append(models.PermissionList{}, p.ExplicitGrants...)
		grants = append(grants, perm)
		if err := tx.Model(p).Update("explicit_grants", grants).Error; err != nil {
			return err
		}
		p.ExplicitGrants = grants
		return nil
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

// RevokeGrant removes an explicit grant. Baseline permissions of the role
// cannot be removed; asking to is a no-op.
func (s *Service) RevokeGrant(ctx context.Context, actorID, id uuid.UUID, perm authz.Permission) (*models.Principal, error) {
	var target *models.Principal
	err := s.manageWith(ctx, actorID, id, authz.PrincipalGrant, func(tx *gorm.DB, _ *Actor, p *models.Principal) error {
		target = p
		if !p.ExplicitGrants.Has(perm) {
			return nil
		}

		grants := make(models.PermissionList, 0, len(p.ExplicitGrants))
		for _, g := range p.ExplicitGrants {
			if g != perm {
				grants = append(grants, g)
			}
		}
		if err := tx.Model(p).Update("explicit_grants", grants).Error; err != nil {
			return err
		}
		p.ExplicitGrants = grants
		return nil
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

func (s *Service) manage(ctx context.Context, actorID, id uuid.UUID, fn func(*gorm.DB, *Actor, *models.Principal) error) error {
	return s.manageWith(ctx, actorID, id, authz.PrincipalManage, fn)
}

// manageWith runs fn on a locked target principal once the actor is allowed
// perm on it. Actors never manage themselves or anyone at or above their
// own role.
func (s *Service) manageWith(ctx context.Context, actorID, id uuid.UUID, perm authz.Permission, fn func(*gorm.DB, *Actor, *models.Principal) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actor, err := LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		target, err := LoadPrincipal(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := Require(s.resolver, actor, perm, target.TenantID); err != nil {
			return err
		}
		if actorID == id {
			return apperr.Unauthorized("principals cannot manage themselves")
		}
		if !s.resolver.Roles().Below(target.Role, actor.Principal.Role) {
			return apperr.Unauthorized("target is not below actor")
		}
		return fn(tx, actor, target)
	})
	return apperr.FromStore(err)
}
