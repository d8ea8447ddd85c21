// Package followup tracks which staff member is responsible for contacting
// each guest, and how far they got.
package followup

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hugh/go-shepherd/internal/apperr"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database/models"
	"github.com/hugh/go-shepherd/internal/directory"
	"github.com/hugh/go-shepherd/internal/notify"
	"github.com/hugh/go-shepherd/pkg/crypto"
	"github.com/hugh/go-shepherd/pkg/util"
)

type Options struct {
	// NotifyPreviousStaff tells the staff member losing a guest about the
	// reassignment.
	NotifyPreviousStaff bool
}

type Service struct {
	db        *gorm.DB
	resolver  *authz.Resolver
	encryptor *crypto.Encryptor
	emitter   notify.Emitter
	clock     util.Clock
	logger    *slog.Logger
	opts      Options
}

// NewService builds the tracker. Notes are always sealed with encryptor.
func NewService(db *gorm.DB, resolver *authz.Resolver, encryptor *crypto.Encryptor, emitter notify.Emitter, clock util.Clock, logger *slog.Logger, opts Options) *Service {
	return &Service{
		db:        db,
		resolver:  resolver,
		encryptor: encryptor,
		emitter:   emitter,
		clock:     clock,
		logger:    logger,
		opts:      opts,
	}
}

var terminal = models.TerminalFollowUpStatuses

// Assign makes staffID responsible for guestID. Any open assignment for the
// guest is closed as reassigned in the same transaction, so the guest never
// has two open assignments. Assigning the current staff member again returns
// the open assignment unchanged.
func (s *Service) Assign(ctx context.Context, actorID, guestID, staffID uuid.UUID) (*models.FollowUpAssignment, error) {
	var (
		created   *models.FollowUpAssignment
		previous  []models.FollowUpAssignment
		guest     *models.Principal
		unchanged bool
		at        time.Time
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actor, err := directory.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := directory.Require(s.resolver, actor, authz.FollowUpAssign, actor.TenantID()); err != nil {
			return err
		}

		// The guest row lock serializes concurrent Assign calls per guest.
		guest, err = directory.LoadPrincipal(ctx, tx, guestID, true)
		if err != nil {
			return err
		}
		if err := directory.Require(s.resolver, actor, authz.FollowUpAssign, guest.TenantID); err != nil {
			return err
		}
		if guest.Role != authz.RoleGuest {
			return apperr.Validation("only guests receive follow-ups")
		}

		staff, err := directory.LoadPrincipal(ctx, tx, staffID, false)
		if err != nil {
			return err
		}
		if err := directory.Require(s.resolver, actor, authz.FollowUpAssign, staff.TenantID); err != nil {
			return err
		}
		if !directory.EligibleStaff(s.resolver.Roles(), staff, guest.TenantID) {
			return apperr.Validation("assignee must be an active staff member")
		}

		if err := tx.Where("guest_id = ? AND status NOT IN ?", guestID, terminal).Find(&previous).Error; err != nil {
			return err
		}
		if len(previous) == 1 && previous[0].StaffID == staffID {
			created = &previous[0]
			previous = nil
			unchanged = true
			return nil
		}

		now := s.clock.Now()
		at = now
		if len(previous) > 0 {
			ids := make([]uuid.UUID, len(previous))
			for i := range previous {
				ids[i] = previous[i].ID
			}
			if err := tx.Model(&models.FollowUpAssignment{}).
				Where("id IN ? AND status NOT IN ?", ids, terminal).
				Updates(map[string]any{
					"status":    models.FollowUpReassigned,
					"closed_at": now,
					"version":   gorm.Expr("version + 1"),
				}).Error; err != nil {
				return err
			}
		}

		created = &models.FollowUpAssignment{
			TenantID:   guest.TenantID,
			GuestID:    guest.ID,
			StaffID:    staff.ID,
			AssignedBy: &actorID,
			Status:     models.FollowUpPending,
		}
		if err := tx.Create(created).Error; err != nil {
			return err
		}
		return tx.Model(guest).Update("assigned_staff_id", staff.ID).Error
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}
	if unchanged {
		return created, nil
	}

	s.logger.Info("follow-up assigned",
		"tenant_id", created.TenantID,
		"assignment_id", created.ID,
		"guest_id", guestID,
		"staff_id", staffID,
		"reassigned", len(previous),
	)
	s.emitAssigned(ctx, actorID, guest, created, previous, at)
	return created, nil
}

// UpdateStatus moves an assignment along pending, contacted, in_progress
// and completed. The assignee may update their own assignments; anyone else
// needs followup:override. Terminal assignments never change, and
// reassigned is only reachable through Assign.
func (s *Service) UpdateStatus(ctx context.Context, actorID, assignmentID uuid.UUID, status models.FollowUpStatus, notes *string) (*models.FollowUpAssignment, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown status %q", status)
	}
	if status == models.FollowUpReassigned {
		return nil, apperr.ErrInvalidTransition
	}

	var (
		sealed *string
		from   models.FollowUpStatus
		a      *models.FollowUpAssignment
	)
	if notes != nil {
		v, err := s.encryptor.SealNote(*notes)
		if err != nil {
			return nil, err
		}
		sealed = &v
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actor, err := directory.LoadActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		a, err = loadAssignment(ctx, tx, assignmentID)
		if err != nil {
			return err
		}

		perm := authz.FollowUpOverride
		if a.StaffID == actorID {
			perm = authz.FollowUpUpdate
		}
		if err := directory.Require(s.resolver, actor, perm, a.TenantID); err != nil {
			return err
		}
		if a.Status.Terminal() {
			return apperr.ErrInvalidTransition
		}

		from = a.Status
		now := s.clock.Now()
		updates := map[string]any{"status": status}
		if status != from {
			updates["version"] = gorm.Expr("version + 1")
		}
		if from == models.FollowUpPending && status != models.FollowUpPending {
			updates["last_contacted_at"] = now
			a.LastContactedAt = &now
		}
		if status == models.FollowUpCompleted {
			updates["closed_at"] = now
			a.ClosedAt = &now
		}
		if sealed != nil {
			updates["notes"] = *sealed
			a.Notes = *sealed
		}

		res := tx.Model(&models.FollowUpAssignment{}).
			Where("id = ? AND status = ?", a.ID, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrConflict
		}
		if status != from {
			a.Version++
		}
		a.Status = status
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(err)
	}

	if from != status {
		s.logger.Info("follow-up status changed",
			"assignment_id", a.ID, "from", from, "to", status, "actor_id", actorID)
		recipients := []uuid.UUID{a.StaffID}
		if a.AssignedBy != nil {
			recipients = append(recipients, *a.AssignedBy)
		}
		s.emitter.Emit(ctx, notify.New(notify.KindFollowUpStatusChanged, a.TenantID, a.ID, s.clock.Now(), without(recipients, actorID)...).
			By(actorID).
			With("guest_id", a.GuestID.String()).
			With("from", string(from)).
			With("to", string(status)).
			Keyed(strconv.Itoa(a.Version)))
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, actorID, id uuid.UUID) (*models.FollowUpAssignment, error) {
	actor, err := directory.LoadActor(ctx, s.db, actorID)
	if err != nil {
		return nil, err
	}
	a, err := loadAssignment(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := directory.Require(s.resolver, actor, authz.FollowUpRead, a.TenantID); err != nil {
		return nil, err
	}
	return a, nil
}

type Filter struct {
	GuestID  *uuid.UUID
	StaffID  *uuid.UUID
	Status   models.FollowUpStatus
	OpenOnly bool
	Limit    int
	Offset   int
}

func (s *Service) List(ctx context.Context, actorID uuid.UUID, filter Filter) ([]models.FollowUpAssignment, int64, error) {
	actor, err := directory.LoadActor(ctx, s.db, actorID)
	if err != nil {
		return nil, 0, err
	}
	if err := directory.Require(s.resolver, actor, authz.FollowUpRead, actor.TenantID()); err != nil {
		return nil, 0, err
	}

	q := s.db.WithContext(ctx).Model(&models.FollowUpAssignment{}).Where("tenant_id = ?", actor.TenantID())
	if filter.GuestID != nil {
		q = q.Where("guest_id = ?", *filter.GuestID)
	}
	if filter.StaffID != nil {
		q = q.Where("staff_id = ?", *filter.StaffID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.OpenOnly {
		q = q.Where("status NOT IN ?", terminal)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.FromStore(err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var out []models.FollowUpAssignment
	if err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&out).Error; err != nil {
		return nil, 0, apperr.FromStore(err)
	}
	return out, total, nil
}

// Notes opens the sealed notes of an assignment.
func (s *Service) Notes(a *models.FollowUpAssignment) (string, error) {
	return s.encryptor.OpenNote(a.Notes)
}

func (s *Service) emitAssigned(ctx context.Context, actorID uuid.UUID, guest *models.Principal, created *models.FollowUpAssignment, previous []models.FollowUpAssignment, at time.Time) {
	s.emitter.Emit(ctx, notify.New(notify.KindFollowUpAssigned, created.TenantID, created.ID, at, created.StaffID).
		By(actorID).
		With("guest_id", guest.ID.String()).
		With("guest_name", guest.Name))

	for _, prev := range previous {
		var recipients []uuid.UUID
		if s.opts.NotifyPreviousStaff && prev.StaffID != created.StaffID {
			recipients = append(recipients, prev.StaffID)
		}
		s.emitter.Emit(ctx, notify.New(notify.KindFollowUpReassigned, prev.TenantID, prev.ID, at, recipients...).
			By(actorID).
			With("guest_id", guest.ID.String()).
			With("guest_name", guest.Name).
			With("new_assignment_id", created.ID.String()))
	}
}

func loadAssignment(ctx context.Context, db *gorm.DB, id uuid.UUID) (*models.FollowUpAssignment, error) {
	var a models.FollowUpAssignment
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.FromStore(err)
	}
	return &a, nil
}

func without(ids []uuid.UUID, drop uuid.UUID) []uuid.UUID {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
