package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hugh/go-shepherd/internal/database/models"
	"github.com/hugh/go-shepherd/internal/notify"
)

// Sweeper deactivates invitations whose expiry has passed.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// LiveKeyPrefix namespaces the worker's publish claims apart from the API
// dispatcher's enqueue claims.
const LiveKeyPrefix = "shepherd:notify:published:"

type Handler struct {
	db      *gorm.DB
	logger  *slog.Logger
	sweeper Sweeper
	dedup   notify.Deduper
	live    notify.Transport
}

// NewHandler wires the worker. live may be nil, in which case events are
// only stored in the inbox. A nil dedup falls back to an in-process one.
func NewHandler(db *gorm.DB, logger *slog.Logger, sweeper Sweeper, dedup notify.Deduper, live notify.Transport) *Handler {
	if dedup == nil {
		dedup = notify.NewMemoryDeduper(24 * time.Hour)
	}
	return &Handler{
		db:      db,
		logger:  logger,
		sweeper: sweeper,
		dedup:   dedup,
		live:    live,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeNotificationDeliver, h.HandleNotificationDeliver)
	mux.HandleFunc(TypeInvitationSweep, h.HandleInvitationSweep)
}

// HandleNotificationDeliver stores one inbox entry per recipient and then
// publishes the event to live listeners. Redelivery of the same event never
// duplicates an inbox entry or a publish.
func (h *Handler) HandleNotificationDeliver(ctx context.Context, t *asynq.Task) error {
	var payload NotificationDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	ev := payload.Event
	if ev.ID == "" {
		return fmt.Errorf("event without id: %w", asynq.SkipRetry)
	}

	log := h.logger.With("event_id", ev.ID, "kind", ev.Kind, "tenant_id", ev.TenantID)

	if len(ev.Recipients) > 0 {
		rows := make([]models.Notification, 0, len(ev.Recipients))
		for _, r := range ev.Recipients {
			rows = append(rows, models.Notification{
				TenantID:    ev.TenantID,
				RecipientID: r,
				EventID:     ev.ID,
				Kind:        string(ev.Kind),
				Title:       ev.Title(),
				Body:        ev.Body(),
			})
		}
		res := h.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&rows)
		if res.Error != nil {
			log.Error("failed to store notifications", "error", res.Error)
			return fmt.Errorf("store notifications: %w", res.Error)
		}
		log.Info("notifications stored", "recipients", len(ev.Recipients), "inserted", res.RowsAffected)
	}

	if h.live == nil {
		return nil
	}

	claimed, err := h.dedup.Claim(ctx, ev.ID)
	if err != nil {
		log.Warn("publish dedup unavailable", "error", err)
		claimed = true
	}
	if !claimed {
		log.Debug("event already published")
		return nil
	}
	if err := h.live.Send(ctx, ev); err != nil {
		if relErr := h.dedup.Release(ctx, ev.ID); relErr != nil {
			log.Warn("releasing publish claim failed", "error", relErr)
		}
		log.Warn("failed to publish event", "error", err)
		return err
	}
	return nil
}

func (h *Handler) HandleInvitationSweep(ctx context.Context, _ *asynq.Task) error {
	n, err := h.sweeper.SweepExpired(ctx)
	if err != nil {
		h.logger.Error("invitation sweep failed", "error", err)
		return err
	}
	h.logger.Info("invitation sweep finished", "deactivated", n)
	return nil
}
