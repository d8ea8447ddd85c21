// Package invitation issues and redeems invitation tokens. Redemption is
// exactly-once per use: the use counter only moves through a conditional
// update, so concurrent redeemers can never overdraw a token.
package invitation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hugh/go-shepherd/internal/apperr"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database/models"
	"github.com/hugh/go-shepherd/internal/directory"
	"github.com/hugh/go-shepherd/internal/notify"
	"github.com/hugh/go-shepherd/pkg/config"
	"github.com/hugh/go-shepherd/pkg/crypto"
	"github.com/hugh/go-shepherd/pkg/util"
)

type Options struct {
	MaxTTL       time.Duration
	DefaultTTL   time.Duration
	MaxUsesLimit int
	CodeBytes    int
}

func OptionsFromConfig(cfg *config.InvitationConfig) Options {
	return Options{
		MaxTTL:       cfg.MaxTTL(),
		DefaultTTL:   cfg.DefaultTTL(),
		MaxUsesLimit: cfg.MaxUsesLimit,
		CodeBytes:    cfg.CodeBytes,
	}
}

type Service struct {
	db       *gorm.DB
	resolver *authz.Resolver
	emitter  notify.Emitter
	clock    util.Clock
	logger   *slog.Logger
	opts     Options
}

// withDefaults fills zero fields with the stock limits. Codes never drop
// below crypto.MinCodeBytes.
func (o Options) withDefaults() Options {
	if o.MaxTTL <= 0 {
		o.MaxTTL = 720 * time.Hour
	}
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = 168 * time.Hour
	}
	if o.DefaultTTL > o.MaxTTL {
		o.DefaultTTL = o.MaxTTL
	}
	if o.MaxUsesLimit <= 0 {
		o.MaxUsesLimit = 1000
	}
	if o.CodeBytes < crypto.MinCodeBytes {
		o.CodeBytes = crypto.MinCodeBytes
	}
	return o
}

func NewService(db *gorm.DB, resolver *authz.Resolver, emitter notify.Emitter, clock util.Clock, logger *slog.Logger, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		db:       db,
		resolver: resolver,
		emitter:  emitter,
		clock:    clock,
		logger:   logger,
		opts:     opts,
	}
}

type IssueInput struct {
	TargetRole     authz.Role
	TargetGroupID  *uuid.UUID
	DefaultStaffID *uuid.UUID
	TTL            time.Duration
	MaxUses        int
	Label          string
}

// Issue creates a token admitting principals at TargetRole, which must rank
// strictly below the issuer. A zero TTL means the configured default and a
// zero MaxUses means a single use.
func (s *Service) Issue(ctx context.Context, issuerID uuid.UUID, input IssueInput) (*models.InvitationToken, error) {
	if !s.resolver.Roles().Valid(input.TargetRole) {
		return nil, apperr.Validation("unknown role %q", input.TargetRole)
	}

	ttl := input.TTL
	switch {
	case ttl == 0:
		ttl = s.opts.DefaultTTL
	case ttl < 0:
		return nil, apperr.Validation("ttl must be positive")
	case ttl > s.opts.MaxTTL:
		return nil, apperr.Validation("ttl %s exceeds maximum %s", ttl, s.opts.MaxTTL)
	}

	maxUses := input.MaxUses
	if maxUses == 0 {
		maxUses = 1
	}
	if maxUses < 0 || maxUses > s.opts.MaxUsesLimit {
		return nil, apperr.Validation("max uses must be between 1 and %d", s.opts.MaxUsesLimit)
	}

	if input.DefaultStaffID != nil && input.TargetRole != authz.RoleGuest {
		return nil, apperr.Validation("a default staff assignee only applies to guest invitations")
	}

	code, err := crypto.GenerateCode(s.opts.CodeBytes)
	if err != nil {
		return nil, err
	}

	var token *models.InvitationToken
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		issuer, err := directory.LoadActor(ctx, tx, issuerID)
		if err != nil {
			return err
		}
		if err := directory.Require(s.resolver, issuer, authz.InviteCreate, issuer.TenantID()); err != nil {
			return err
		}
		if !s.resolver.CanAssignRole(issuer.Principal.Snapshot(), input.TargetRole) {
			return apperr.Unauthorized("cannot invite at or above own role")
		}

		if input.DefaultStaffID != nil {
			staff, err := directory.LoadPrincipal(ctx, tx, *input.DefaultStaffID, false)
			if err != nil && !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
			if !directory.EligibleStaff(s.resolver.Roles(), staff, issuer.TenantID()) {
				return apperr.Validation("default staff must be an active staff member of this tenant")
			}
		}

		token = &models.InvitationToken{
			TenantID:       issuer.TenantID(),
			Code:           code,
			CreatedBy:      issuerID,
			TargetRole:     input.TargetRole,
			TargetGroupID:  input.TargetGroupID,
			DefaultStaffID: input.DefaultStaffID,
			Label:          strings.TrimSpace(input.Label),
			ExpiresAt:      s.clock.Now().Add(ttl),
			MaxUses:        maxUses,
			Active:         true,
		}
		return tx.Create(token).Error
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}

	s.logger.Info("invitation issued",
		"tenant_id", token.TenantID,
		"token_id", token.ID,
		"target_role", token.TargetRole,
		"max_uses", token.MaxUses,
		"expires_at", token.ExpiresAt,
	)
	return token, nil
}

// Deactivate switches a token off. Its creator may always do so; anyone
// else needs invite:revoke.
func (s *Service) Deactivate(ctx context.Context, actorID, tokenID uuid.UUID) (*models.InvitationToken, error) {
	var token *models.InvitationToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actor, err := directory.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		tok, err := loadToken(ctx, tx, "id = ?", tokenID)
		if err != nil {
			return err
		}

		perm := authz.InviteRevoke
		if tok.CreatedBy == actorID {
			perm = authz.InviteCreate
		}
		if err := directory.Require(s.resolver, actor, perm, tok.TenantID); err != nil {
			return err
		}

		token = tok
		if !tok.Active {
			return nil
		}
		now := s.clock.Now()
		if err := tx.Model(tok).Updates(map[string]any{"active": false, "deactivated_at": now}).Error; err != nil {
			return err
		}
		tok.Active = false
		tok.DeactivatedAt = &now
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}

	s.logger.Info("invitation deactivated", "token_id", tokenID, "actor_id", actorID)
	return token, nil
}

func (s *Service) Get(ctx context.Context, actorID, tokenID uuid.UUID) (*models.InvitationToken, error) {
	actor, err := directory.LoadActor(ctx, s.db, actorID)
	if err != nil {
		return nil, err
	}
	tok, err := loadToken(ctx, s.db, "id = ?", tokenID)
	if err != nil {
		return nil, err
	}
	if err := directory.Require(s.resolver, actor, authz.InviteRead, tok.TenantID); err != nil {
		return nil, err
	}
	return tok, nil
}

type ListFilter struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}

func (s *Service) List(ctx context.Context, actorID uuid.UUID, filter ListFilter) ([]models.InvitationToken, int64, error) {
	actor, err := directory.LoadActor(ctx, s.db, actorID)
	if err != nil {
		return nil, 0, err
	}
	if err := directory.Require(s.resolver, actor, authz.InviteRead, actor.TenantID()); err != nil {
		return nil, 0, err
	}

	q := s.db.WithContext(ctx).Model(&models.InvitationToken{}).Where("tenant_id = ?", actor.TenantID())
	if filter.ActiveOnly {
		q = q.Where("active = ?", true)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.FromStore(err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var tokens []models.InvitationToken
	if err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&tokens).Error; err != nil {
		return nil, 0, apperr.FromStore(err)
	}
	return tokens, total, nil
}

// Preview is what an anonymous visitor holding a code may learn about it.
type Preview struct {
	TenantName string     `json:"tenant_name"`
	TargetRole authz.Role `json:"target_role"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Valid      bool       `json:"valid"`
	Reason     string     `json:"reason,omitempty"`
}

// Peek describes a token without consuming it.
func (s *Service) Peek(ctx context.Context, code string) (*Preview, error) {
	tok, err := loadToken(ctx, s.db, "code = ?", code)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrTokenNotFound
		}
		return nil, err
	}
	var tenant models.Tenant
	if err := s.db.WithContext(ctx).Where("id = ?", tok.TenantID).First(&tenant).Error; err != nil {
		return nil, apperr.FromStore(err)
	}

	p := &Preview{
		TenantName: tenant.Name,
		TargetRole: tok.TargetRole,
		ExpiresAt:  tok.ExpiresAt,
		Valid:      true,
	}
	if err := classify(tok, &tenant, s.clock.Now()); err != nil {
		p.Valid = false
		p.Reason = err.Error()
	}
	return p, nil
}

// SweepExpired switches off active tokens whose expiry has passed. Redeem
// never depends on it; expiry is always checked against the clock.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Model(&models.InvitationToken{}).
		Where("active = ? AND expires_at <= ?", true, now).
		Updates(map[string]any{"active": false, "deactivated_at": now})
	if res.Error != nil {
		return 0, apperr.FromStore(res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("expired invitations swept", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

func loadToken(ctx context.Context, db *gorm.DB, query string, arg any) (*models.InvitationToken, error) {
	var tok models.InvitationToken
	if err := db.WithContext(ctx).Where(query, arg).First(&tok).Error; err != nil {
		return nil, apperr.FromStore(err)
	}
	return &tok, nil
}

// classify reports why tok cannot be redeemed at now, or nil if it can.
// Order matters: an expired token reports expiry even when also used up.
func classify(tok *models.InvitationToken, tenant *models.Tenant, now time.Time) error {
	switch {
	case tenant == nil || !tenant.Active:
		return apperr.ErrTokenInactive
	case tok.Expired(now):
		return apperr.ErrTokenExpired
	case tok.Exhausted():
		return apperr.ErrTokenExhausted
	case !tok.Active:
		return apperr.ErrTokenInactive
	}
	return nil
}
