// Package inbox serves the notifications the worker stored for each
// principal.
package inbox

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hugh/go-shepherd/internal/apperr"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database/models"
	"github.com/hugh/go-shepherd/internal/directory"
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

type Filter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// List returns the principal's own notifications, newest first.
func (s *Service) List(ctx context.Context, principalID uuid.UUID, filter Filter) ([]models.Notification, int64, error) {
	actor, err := directory.LoadActor(ctx, s.db, principalID)
	if err != nil {
		return nil, 0, err
	}
	if err := directory.Require(s.resolver, actor, authz.NotificationRead, actor.TenantID()); err != nil {
		return nil, 0, err
	}

	q := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("tenant_id = ? AND recipient_id = ?", actor.TenantID(), principalID)
	if filter.UnreadOnly {
		q = q.Where("read_at IS NULL")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.FromStore(err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []models.Notification
	if err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&out).Error; err != nil {
		return nil, 0, apperr.FromStore(err)
	}
	return out, total, nil
}

// MarkRead stamps a notification as read. Marking it again keeps the first
// timestamp. Other principals' notifications are reported as not found.
func (s *Service) MarkRead(ctx context.Context, principalID, id uuid.UUID) (*models.Notification, error) {
	actor, err := directory.LoadActor(ctx, s.db, principalID)
	if err != nil {
		return nil, err
	}
	if err := directory.Require(s.resolver, actor, authz.NotificationRead, actor.TenantID()); err != nil {
		return nil, err
	}

	var n models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, principalID).
		First(&n).Error; err != nil {
		return nil, apperr.FromStore(err)
	}
	if n.ReadAt != nil {
		return &n, nil
	}

	now := s.clock.Now()
	if err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND read_at IS NULL", n.ID).
		Update("read_at", now).Error; err != nil {
		return nil, apperr.FromStore(err)
	}
	n.ReadAt = &now
	return &n, nil
}
