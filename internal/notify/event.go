// Package notify delivers side effects of domain transitions. Delivery is
// best effort: a failure here never undoes the transition that caused it.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindPrincipalAdmitted     Kind = "principal.admitted"
	KindFollowUpAssigned      Kind = "followup.assigned"
	KindFollowUpReassigned    Kind = "followup.reassigned"
	KindFollowUpStatusChanged Kind = "followup.status_changed"
)

var eventNamespace = uuid.MustParse("0d6c8f0e-5a8b-4c5e-9d4e-2f8a61b7c3a1")

// Event describes one user-visible transition.
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	TenantID   uuid.UUID         `json:"tenant_id"`
	SubjectID  uuid.UUID         `json:"subject_id"`
	ActorID    *uuid.UUID        `json:"actor_id,omitempty"`
	Recipients []uuid.UUID       `json:"recipients"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// EventID derives a stable id from the transition itself, so that emitting
// the same transition twice yields the same id. keys distinguish transitions
// of one subject that share a timestamp, such as a row version.
func EventID(kind Kind, subject uuid.UUID, at time.Time, keys ...string) string {
	name := fmt.Sprintf("%s|%s|%d", kind, subject, at.UTC().UnixNano())
	for _, k := range keys {
		name += "|" + k
	}
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// New builds an event stamped at at, with its id derived from kind, subject
// and time.
func New(kind Kind, tenantID, subjectID uuid.UUID, at time.Time, recipients ...uuid.UUID) Event {
	return Event{
		ID:         EventID(kind, subjectID, at),
		Kind:       kind,
		TenantID:   tenantID,
		SubjectID:  subjectID,
		Recipients: dedupeRecipients(recipients),
		Data:       map[string]string{},
		OccurredAt: at.UTC(),
	}
}

// Keyed re-derives the id with keys mixed in.
func (e Event) Keyed(keys ...string) Event {
	e.ID = EventID(e.Kind, e.SubjectID, e.OccurredAt, keys...)
	return e
}

// By records the principal who caused the event.
func (e Event) By(actor uuid.UUID) Event {
	e.ActorID = &actor
	return e
}

// With adds a data attribute.
func (e Event) With(key, value string) Event {
	data := make(map[string]string, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// Title and Body render the inbox text for an event.
func (e Event) Title() string {
	switch e.Kind {
	case KindPrincipalAdmitted:
		return "New member joined"
	case KindFollowUpAssigned:
		return "New follow-up assigned"
	case KindFollowUpReassigned:
		return "Follow-up reassigned"
	case KindFollowUpStatusChanged:
		return "Follow-up status updated"
	}
	return string(e.Kind)
}

func (e Event) Body() string {
	switch e.Kind {
	case KindPrincipalAdmitted:
		return fmt.Sprintf("%s joined as %s.", orDefault(e.Data["name"], "Someone"), e.Data["role"])
	case KindFollowUpAssigned:
		return fmt.Sprintf("You have been asked to follow up with %s.", orDefault(e.Data["guest_name"], "a guest"))
	case KindFollowUpReassigned:
		return fmt.Sprintf("Follow-up with %s was handed to someone else.", orDefault(e.Data["guest_name"], "a guest"))
	case KindFollowUpStatusChanged:
		return fmt.Sprintf("Status changed from %s to %s.", e.Data["from"], e.Data["to"])
	}
	return ""
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

func dedupeRecipients(in []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(in))
	seen := make(map[uuid.UUID]bool, len(in))
	for _, id := range in {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
