package modality

import (
	"context"
	"time"
)

type EventType string

const (
	EventStatusChanged        EventType = "status_changed"
	EventCancellationRejected EventType = "cancellation_rejected"
	EventDirectorAssigned     EventType = "director_assigned"
	EventDocumentUploaded     EventType = "document_uploaded"
	EventDocumentReviewed     EventType = "document_reviewed"
	EventExaminersAssigned    EventType = "examiners_assigned"
	EventEvaluationRecorded   EventType = "evaluation_recorded"
	EventInvitationSent       EventType = "invitation_sent"
	EventInvitationResolved   EventType = "invitation_resolved"
	EventGroupConfirmed       EventType = "group_confirmed"
)

// Event is a workflow fact, emitted after the change it describes is persisted.
type Event struct {
	Type       EventType `json:"type"`
	ModalityID string    `json:"modality_id"`
	TypeName   string    `json:"type_name"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     Action    `json:"action"`
	FromStatus Status    `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	// SubjectID is the document, evaluation, invitation or user the event is about.
	SubjectID string `json:"subject_id,omitempty"`
	// Recipients are the users concerned by the event.
	Recipients []string  `json:"recipients"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers workflow events to the notification channel.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

func newEvent(typ EventType, snap Snapshot, actor Actor, action Action, now time.Time) Event {
	rec := snap.Record
	return Event{
		Type:       typ,
		ModalityID: rec.ID,
		TypeName:   rec.ModalityTypeName,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		ToStatus:   rec.Status,
		Recipients: recipients(snap, actor),
		OccurredAt: now,
	}
}

func statusEvent(typ EventType, snap Snapshot, actor Actor, action Action, now time.Time, from Status, notes string) Event {
	ev := newEvent(typ, snap, actor, action, now)
	ev.FromStatus = from
	ev.Notes = notes
	return ev
}

// recipients are the members, the director and the assigned examiners, minus the actor.
func recipients(snap Snapshot, actor Actor) []string {
	rec := snap.Record
	out := make([]string, 0, len(rec.MemberIDs)+1+len(snap.Assignments))
	seen := map[string]bool{actor.ID: true, "": true}
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range rec.MemberIDs {
		add(id)
	}
	add(rec.ProjectDirectorID)
	for _, a := range snap.Assignments {
		add(a.ExaminerID)
	}
	return out
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...Event) {}
