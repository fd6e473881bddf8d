package modality

import (
	"strings"

	"github.com/trezcool/masomo-grad/core/user"
)

// MaxGroupSize counts the initiator.
const MaxGroupSize = 3

// Candidate is what the service knows about an invited student.
type Candidate struct {
	ID        string
	IsStudent bool
	// HasPending is true while the candidate holds a PENDING invitation to any group.
	HasPending bool
	// HasActive is true when the candidate belongs to a non terminal record.
	HasActive bool
}

// Start creates a record for the initiating student: MODALITY_SELECTED for an individual
// modality, DRAFT when a group is being formed.
func (eng *Engine) Start(typ ModalityType, actor Actor, group bool) (Snapshot, []Event, error) {
	if actor.Role != user.RoleStudent {
		return Snapshot{}, nil, newError(ErrUnauthorizedTransition, "only students can start a modality")
	}

	now := eng.now()
	snap := Snapshot{
		Type: typ,
		Record: Record{
			ID:               eng.newID(),
			ModalityTypeID:   typ.ID,
			ModalityTypeName: typ.Name,
			Status:           StatusModalitySelected,
			IsGroup:          group,
			MemberIDs:        []string{actor.ID},
			CreatedAt:        now,
			UpdatedAt:        now,
		},
	}
	if group {
		snap.Record.Status = StatusDraft
	} else {
		snap.Submissions = eng.newSubmissions(snap.Record, typ)
	}
	return snap, []Event{statusEvent(EventStatusChanged, snap, actor, ActionStart, now, "", "")}, nil
}

func (eng *Engine) newSubmissions(rec Record, typ ModalityType) []Submission {
	subs := make([]Submission, 0, len(typ.RequiredDocuments))
	for _, doc := range typ.RequiredDocuments {
		subs = append(subs, Submission{
			ID:                 eng.newID(),
			ModalityID:         rec.ID,
			RequiredDocumentID: doc.ID,
			Tier:               TierProgramHead,
			Status:             DocumentPending,
			UpdatedAt:          rec.UpdatedAt,
		})
	}
	return subs
}

func checkDraftInitiator(rec Record, actor Actor) error {
	if rec.Status.IsTerminal() {
		return newError(ErrTerminalState, "modality is %s", rec.Status)
	}
	if rec.Status != StatusDraft {
		return newError(ErrInvalidTransition, "the group is already formed")
	}
	if actor.Role != user.RoleStudent || actor.ID != rec.Initiator() {
		return newError(ErrUnauthorizedTransition, "only the initiator manages the group")
	}
	return nil
}

// Invite creates a PENDING invitation. invitations are those already sent for this record.
func (eng *Engine) Invite(snap Snapshot, actor Actor, invitations []Invitation, cand Candidate) (Invitation, []Event, error) {
	rec := snap.Record
	if err := checkDraftInitiator(rec, actor); err != nil {
		return Invitation{}, nil, err
	}
	if cand.ID == "" || !cand.IsStudent {
		return Invitation{}, nil, newError(ErrInvalidPayload, "only students can be invited")
	}
	if rec.HasMember(cand.ID) {
		return Invitation{}, nil, newError(ErrInvitationConflict, "candidate is already a member")
	}
	if cand.HasPending {
		return Invitation{}, nil, newError(ErrInvitationConflict, "candidate %s", cand.ID)
	}
	if cand.HasActive {
		return Invitation{}, nil, newError(ErrActiveModalityExists, "candidate %s", cand.ID)
	}

	taken := 0
	for _, inv := range invitations {
		if inv.Status == InvitationPending || inv.Status == InvitationAccepted {
			taken++
		}
	}
	if taken >= MaxGroupSize-1 {
		return Invitation{}, nil, newError(ErrInvitationCapacityExceeded, "a group has at most %d members", MaxGroupSize)
	}

	now := eng.now()
	inv := Invitation{
		ID:         eng.newID(),
		ModalityID: rec.ID,
		InviterID:  actor.ID,
		InviteeID:  cand.ID,
		Status:     InvitationPending,
		SentAt:     now,
	}
	ev := newEvent(EventInvitationSent, snap, actor, ActionInvite, now)
	ev.SubjectID = inv.ID
	ev.Recipients = []string{cand.ID}
	return inv, []Event{ev}, nil
}

// RespondInvitation resolves a PENDING invitation. Responding to a resolved one is a no-op.
// hasActive tells whether the invitee joined another record in the meantime.
func (eng *Engine) RespondInvitation(snap Snapshot, actor Actor, inv Invitation, accept, hasActive bool) (Snapshot, Invitation, []Event, error) {
	if actor.ID != inv.InviteeID || actor.Role != user.RoleStudent {
		return snap, inv, nil, newError(ErrUnauthorizedTransition, "only the invitee can respond")
	}
	if inv.Status != InvitationPending {
		return snap, inv, nil, nil
	}

	rec := snap.Record
	if accept {
		if rec.Status.IsTerminal() {
			return snap, inv, nil, newError(ErrTerminalState, "modality is %s", rec.Status)
		}
		if rec.Status != StatusDraft {
			return snap, inv, nil, newError(ErrInvalidTransition, "the group is already formed")
		}
		if len(rec.MemberIDs) >= MaxGroupSize {
			return snap, inv, nil, newError(ErrInvitationCapacityExceeded, "a group has at most %d members", MaxGroupSize)
		}
		if hasActive {
			return snap, inv, nil, newError(ErrActiveModalityExists, "invitee %s", actor.ID)
		}
	}

	now := eng.now()
	next := snap.clone()
	inv.RespondedAt = now
	if accept {
		inv.Status = InvitationAccepted
		next.Record.MemberIDs = append(next.Record.MemberIDs, actor.ID)
		next.Record.UpdatedAt = now
	} else {
		inv.Status = InvitationRejected
	}

	ev := newEvent(EventInvitationResolved, next, actor, ActionRespondInvitation, now)
	ev.SubjectID = inv.ID
	ev.Notes = string(inv.Status)
	return next, inv, []Event{ev}, nil
}

// ConfirmGroup closes the formation: pending invitations are rejected and the record
// enters MODALITY_SELECTED. With proceedWithFewer an initiator left alone gets an
// individual record. It returns the invitations it closed.
func (eng *Engine) ConfirmGroup(snap Snapshot, actor Actor, invitations []Invitation, proceedWithFewer bool) (Snapshot, []Invitation, []Event, error) {
	rec := snap.Record
	if err := checkDraftInitiator(rec, actor); err != nil {
		return snap, nil, nil, err
	}

	now := eng.now()
	var closed []Invitation
	for _, inv := range invitations {
		if inv.Status != InvitationPending {
			continue
		}
		if !proceedWithFewer {
			return snap, nil, nil, newError(ErrInvitationsPending, "invitation %s is still pending", inv.ID)
		}
		inv.Status = InvitationRejected
		inv.RespondedAt = now
		closed = append(closed, inv)
	}
	alone := len(rec.MemberIDs) < 2
	if alone && !proceedWithFewer {
		return snap, nil, nil, newError(ErrGroupTooSmall, "%d member(s)", len(rec.MemberIDs))
	}

	next := snap.clone()
	if alone {
		// nobody joined: the initiator carries on with an individual modality
		next.Record.IsGroup = false
	}
	next.Record.Status = StatusModalitySelected
	next.Record.UpdatedAt = now
	next.Submissions = eng.newSubmissions(next.Record, next.Type)

	events := []Event{
		newEvent(EventGroupConfirmed, next, actor, ActionConfirmGroup, now),
		statusEvent(EventStatusChanged, next, actor, ActionConfirmGroup, now, StatusDraft, ""),
	}
	return next, closed, events, nil
}

// AbandonGroup gives up a group being formed: pending invitations are rejected and the
// DRAFT ends in CANCELLED_WITHOUT_REPROVAL, which frees the initiator.
func (eng *Engine) AbandonGroup(snap Snapshot, actor Actor, invitations []Invitation, notes string) (Snapshot, []Invitation, []Event, error) {
	if err := checkDraftInitiator(snap.Record, actor); err != nil {
		return snap, nil, nil, err
	}

	now := eng.now()
	var closed []Invitation
	for _, inv := range invitations {
		if inv.Status == InvitationPending {
			inv.Status = InvitationRejected
			inv.RespondedAt = now
			closed = append(closed, inv)
		}
	}

	next := snap.clone()
	next.Record.Status = StatusCancelledWithoutReproval
	next.Record.ClosureReason = strings.TrimSpace(notes)
	next.Record.UpdatedAt = now

	ev := statusEvent(EventStatusChanged, next, actor, ActionAbandonGroup, now, StatusDraft, next.Record.ClosureReason)
	for _, inv := range closed {
		ev.Recipients = append(ev.Recipients, inv.InviteeID)
	}
	return next, closed, []Event{ev}, nil
}
