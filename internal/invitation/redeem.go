package invitation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hugh/go-shepherd/internal/apperr"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database/models"
	"github.com/hugh/go-shepherd/internal/directory"
	"github.com/hugh/go-shepherd/internal/notify"
)

type NewPrincipalInfo struct {
	Name  string
	Email string
}

type RedeemResult struct {
	Principal  *models.Principal
	Token      *models.InvitationToken
	Assignment *models.FollowUpAssignment
}

// Redeem consumes one use of the token identified by code and admits a new
// principal into the token's tenant at the token's role. Guests admitted
// through a token with a default staff member also get a pending follow-up.
// All of it commits together or not at all.
func (s *Service) Redeem(ctx context.Context, code string, info NewPrincipalInfo) (*RedeemResult, error) {
	name := strings.TrimSpace(info.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}

	var (
		result RedeemResult
		at     time.Time
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tok, err := loadToken(ctx, tx, "code = ?", code)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.ErrTokenNotFound
			}
			return err
		}

		var tenant models.Tenant
		if err := tx.Where("id = ?", tok.TenantID).First(&tenant).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		now := s.clock.Now()
		at = now
		if err := classify(tok, tenantOrNil(&tenant), now); err != nil {
			return err
		}

		if err := consumeUse(ctx, tx, tok, now); err != nil {
			return err
		}

		p := &models.Principal{
			TenantID:         tok.TenantID,
			Name:             name,
			Email:            strings.ToLower(strings.TrimSpace(info.Email)),
			Role:             tok.TargetRole,
			Status:           models.PrincipalActive,
			GroupID:          tok.TargetGroupID,
			InvitedByTokenID: &tok.ID,
		}
		if err := tx.Create(p).Error; err != nil {
			return err
		}

		assignment, err := s.assignDefaultStaff(ctx, tx, tok, p)
		if err != nil {
			return err
		}

		result = RedeemResult{Principal: p, Token: tok, Assignment: assignment}
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}

	s.logger.Info("invitation redeemed",
		"tenant_id", result.Token.TenantID,
		"token_id", result.Token.ID,
		"principal_id", result.Principal.ID,
		"uses", result.Token.CurrentUses,
		"max_uses", result.Token.MaxUses,
	)
	s.emitRedeemed(ctx, &result, at)
	return &result, nil
}

// consumeUse increments the counter only if the token is still active with
// uses left, deactivating it when the last use is taken. Losing the race to
// another redeemer is reported from the token's state after the fact.
func consumeUse(ctx context.Context, tx *gorm.DB, tok *models.InvitationToken, now time.Time) error {
	res := tx.WithContext(ctx).Model(&models.InvitationToken{}).
		Where("id = ? AND active = ? AND current_uses < max_uses", tok.ID, true).
		Updates(map[string]any{
			"current_uses":   gorm.Expr("current_uses + 1"),
			"active":         gorm.Expr("CASE WHEN current_uses + 1 >= max_uses THEN ? ELSE active END", false),
			"deactivated_at": gorm.Expr("CASE WHEN current_uses + 1 >= max_uses THEN ? ELSE deactivated_at END", now),
		})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		current, err := loadToken(ctx, tx, "id = ?", tok.ID)
		if err != nil {
			return err
		}
		switch {
		case current.Exhausted():
			return apperr.ErrTokenExhausted
		case !current.Active:
			return apperr.ErrTokenInactive
		default:
			return apperr.ErrConflict
		}
	}

	tok.CurrentUses++
	if tok.CurrentUses >= tok.MaxUses {
		tok.Active = false
	}
	return nil
}

// assignDefaultStaff opens the initial follow-up for a guest. A staff member
// who has since left, been suspended or demoted is skipped rather than
// failing the redemption.
func (s *Service) assignDefaultStaff(ctx context.Context, tx *gorm.DB, tok *models.InvitationToken, guest *models.Principal) (*models.FollowUpAssignment, error) {
	if guest.Role != authz.RoleGuest || tok.DefaultStaffID == nil {
		return nil, nil
	}

	staff, err := directory.LoadPrincipal(ctx, tx, *tok.DefaultStaffID, false)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if !directory.EligibleStaff(s.resolver.Roles(), staff, tok.TenantID) {
		s.logger.Warn("default staff no longer eligible, skipping follow-up",
			"token_id", tok.ID, "staff_id", *tok.DefaultStaffID, "guest_id", guest.ID)
		return nil, nil
	}

	assignment := &models.FollowUpAssignment{
		TenantID:   tok.TenantID,
		GuestID:    guest.ID,
		StaffID:    staff.ID,
		AssignedBy: &tok.CreatedBy,
		Status:     models.FollowUpPending,
	}
	if err := tx.Create(assignment).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(guest).Update("assigned_staff_id", staff.ID).Error; err != nil {
		return nil, err
	}
	guest.AssignedStaffID = &staff.ID
	return assignment, nil
}

func (s *Service) emitRedeemed(ctx context.Context, r *RedeemResult, at time.Time) {
	s.emitter.Emit(ctx, notify.New(notify.KindPrincipalAdmitted, r.Principal.TenantID, r.Principal.ID, at, r.Token.CreatedBy).
		With("name", r.Principal.Name).
		With("role", string(r.Principal.Role)).
		With("token_id", r.Token.ID.String()))

	if r.Assignment != nil {
		s.emitter.Emit(ctx, notify.New(notify.KindFollowUpAssigned, r.Assignment.TenantID, r.Assignment.ID, at, r.Assignment.StaffID).
			By(r.Token.CreatedBy).
			With("guest_id", r.Principal.ID.String()).
			With("guest_name", r.Principal.Name))
	}
}

func tenantOrNil(t *models.Tenant) *models.Tenant {
	if t.ID == uuid.Nil {
		return nil
	}
	return t
}
