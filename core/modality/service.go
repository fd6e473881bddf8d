package modality

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-grad/core"
	"github.com/trezcool/masomo-grad/core/user"
)

type (
	// UserDirectory resolves the users referenced by workflow operations.
	UserDirectory interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	// TransitionRequest is a role action on a record, as read at Version.
	// A zero Version skips the staleness check.
	TransitionRequest struct {
		ModalityID string  `json:"-"`
		Action     Action  `json:"action"`
		Version    int     `json:"version"`
		Payload    Payload `json:"payload"`
	}

	NewAssignment struct {
		ExaminerID string       `json:"examiner_id"`
		Role       ExaminerRole `json:"role"`
	}

	Service struct {
		repo      Repository
		users     UserDirectory
		engine    *Engine
		publisher Publisher
		logger    core.Logger
	}
)

func NewService(repo Repository, users UserDirectory, engine *Engine, publisher Publisher, logger core.Logger) *Service {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Service{repo: repo, users: users, engine: engine, publisher: publisher, logger: logger}
}

func (svc *Service) Engine() *Engine { return svc.engine }

func (svc *Service) Statuses() []StatusInfo { return Statuses() }

func (svc *Service) CreateType(ctx context.Context, nt NewModalityType) (ModalityType, error) {
	return svc.repo.CreateType(ctx, svc.engine.newType(nt))
}

func (svc *Service) GetType(ctx context.Context, id string) (ModalityType, error) {
	return svc.repo.GetType(ctx, id)
}

func (svc *Service) QueryTypes(ctx context.Context) ([]ModalityType, error) {
	return svc.repo.QueryTypes(ctx)
}

// StartModality creates an individual record in MODALITY_SELECTED.
func (svc *Service) StartModality(ctx context.Context, actor Actor, typeID string) (Snapshot, error) {
	return svc.start(ctx, actor, typeID, false)
}

// StartGroupModality creates a DRAFT group record with the actor as its only member.
func (svc *Service) StartGroupModality(ctx context.Context, actor Actor, typeID string) (Snapshot, error) {
	return svc.start(ctx, actor, typeID, true)
}

func (svc *Service) start(ctx context.Context, actor Actor, typeID string, group bool) (Snapshot, error) {
	typ, err := svc.repo.GetType(ctx, typeID)
	if err != nil {
		return Snapshot{}, svc.fail(err, actor)
	}
	active, err := svc.repo.HasActiveModality(ctx, actor.ID)
	if err != nil {
		return Snapshot{}, svc.fail(err, actor)
	}
	if active {
		return Snapshot{}, newError(ErrActiveModalityExists, "student %s", actor.ID)
	}

	snap, events, err := svc.engine.Start(typ, actor, group)
	if err != nil {
		return Snapshot{}, err
	}
	if snap, err = svc.repo.CreateModality(ctx, snap); err != nil {
		return Snapshot{}, svc.fail(err, actor)
	}
	if err := svc.repo.AddHistory(ctx, svc.history(events)...); err != nil {
		return Snapshot{}, svc.fail(err, actor)
	}
	svc.publish(ctx, events)
	return snap, nil
}

func (svc *Service) InviteStudent(ctx context.Context, actor Actor, modalityID, candidateID string) (Invitation, error) {
	var inv Invitation
	var events []Event
	err := svc.repo.Atomic(ctx, modalityID, func(ctx context.Context, repo Repository) error {
		snap, err := repo.GetSnapshot(ctx, modalityID)
		if err != nil {
			return err
		}
		invitations, err := repo.QueryInvitations(ctx, InvitationFilter{ModalityID: modalityID})
		if err != nil {
			return err
		}
		cand, err := svc.candidate(ctx, repo, candidateID)
		if err != nil {
			return err
		}

		if inv, events, err = svc.engine.Invite(snap, actor, invitations, cand); err != nil {
			return err
		}
		if err := repo.CreateInvitation(ctx, inv); err != nil {
			return err
		}
		_, err = svc.commit(ctx, repo, snap, snap, events)
		return err
	})
	if err != nil {
		return Invitation{}, svc.fail(err, actor)
	}
	svc.publish(ctx, events)
	return inv, nil
}

func (svc *Service) candidate(ctx context.Context, repo Repository, id string) (Candidate, error) {
	usr, err := svc.user(ctx, id)
	if err != nil {
		return Candidate{}, err
	}
	pending, err := repo.QueryInvitations(ctx, InvitationFilter{InviteeID: id, Statuses: []InvitationStatus{InvitationPending}})
	if err != nil {
		return Candidate{}, err
	}
	active, err := repo.HasActiveModality(ctx, id)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{
		ID:         usr.ID,
		IsStudent:  usr.IsActive && usr.HasRole(user.RoleStudent),
		HasPending: len(pending) > 0,
		HasActive:  active,
	}, nil
}

// RespondInvitation accepts or declines an invitation. Responding twice is a no-op.
func (svc *Service) RespondInvitation(ctx context.Context, actor Actor, invitationID string, accept bool) (Invitation, error) {
	inv, err := svc.repo.GetInvitation(ctx, invitationID)
	if err != nil {
		return Invitation{}, svc.fail(err, actor)
	}

	var events []Event
	err = svc.repo.Atomic(ctx, inv.ModalityID, func(ctx context.Context, repo Repository) error {
		if inv, err = repo.GetInvitation(ctx, invitationID); err != nil {
			return err
		}
		snap, err := repo.GetSnapshot(ctx, inv.ModalityID)
		if err != nil {
			return err
		}
		var active bool
		if accept && inv.Status == InvitationPending {
			if active, err = repo.HasActiveModality(ctx, actor.ID); err != nil {
				return err
			}
		}

		next, resolved, evs, err := svc.engine.RespondInvitation(snap, actor, inv, accept, active)
		if err != nil || len(evs) == 0 {
			return err
		}
		if err := repo.UpdateInvitations(ctx, resolved); err != nil {
			return err
		}
		if _, err := svc.commit(ctx, repo, snap, next, evs); err != nil {
			return err
		}
		inv, events = resolved, evs
		return nil
	})
	if err != nil {
		return Invitation{}, svc.fail(err, actor)
	}
	svc.publish(ctx, events)
	return inv, nil
}

// ConfirmGroup moves a DRAFT group to MODALITY_SELECTED.
func (svc *Service) ConfirmGroup(ctx context.Context, actor Actor, modalityID string, proceedWithFewer bool) (Snapshot, error) {
	return svc.mutate(ctx, actor, modalityID, func(ctx context.Context, repo Repository, snap Snapshot) (Snapshot, []Event, error) {
		invitations, err := repo.QueryInvitations(ctx, InvitationFilter{ModalityID: modalityID})
		if err != nil {
			return snap, nil, err
		}
		next, closed, events, err := svc.engine.ConfirmGroup(snap, actor, invitations, proceedWithFewer)
		if err != nil {
			return snap, nil, err
		}
		if len(closed) > 0 {
			if err := repo.UpdateInvitations(ctx, closed...); err != nil {
				return snap, nil, err
			}
		}
		return next, events, nil
	})
}

// AbandonGroup cancels a DRAFT group and closes its pending invitations.
func (svc *Service) AbandonGroup(ctx context.Context, actor Actor, modalityID, notes string) (Snapshot, error) {
	return svc.mutate(ctx, actor, modalityID, func(ctx context.Context, repo Repository, snap Snapshot) (Snapshot, []Event, error) {
		invitations, err := repo.QueryInvitations(ctx, InvitationFilter{ModalityID: modalityID})
		if err != nil {
			return snap, nil, err
		}
		next, closed, events, err := svc.engine.AbandonGroup(snap, actor, invitations, notes)
		if err != nil {
			return snap, nil, err
		}
		if len(closed) > 0 {
			if err := repo.UpdateInvitations(ctx, closed...); err != nil {
				return snap, nil, err
			}
		}
		return next, events, nil
	})
}

// checkVersion rejects a request made against an older read of the record. Zero skips it.
func checkVersion(snap Snapshot, version int) error {
	if version > 0 && version != snap.Record.Version {
		return newError(ErrStaleState, "record is at version %d, got %d", snap.Record.Version, version)
	}
	return nil
}

// Transition applies a role action to the record.
func (svc *Service) Transition(ctx context.Context, actor Actor, req TransitionRequest) (Snapshot, error) {
	return svc.mutate(ctx, actor, req.ModalityID, func(ctx context.Context, repo Repository, snap Snapshot) (Snapshot, []Event, error) {
		if err := checkVersion(snap, req.Version); err != nil {
			return snap, nil, err
		}
		if req.Action == ActionAssignDirector && req.Payload.DirectorID != "" {
			if err := svc.checkRole(ctx, req.Payload.DirectorID, user.RoleProjectDirector); err != nil {
				return snap, nil, err
			}
		}
		return svc.engine.Transition(snap, actor, req.Action, req.Payload)
	})
}

func (svc *Service) UploadDocument(ctx context.Context, actor Actor, modalityID string, version int, requiredDocID, storageRef string) (Submission, error) {
	var sub Submission
	_, err := svc.mutate(ctx, actor, modalityID, func(ctx context.Context, repo Repository, snap Snapshot) (Snapshot, []Event, error) {
		if err := checkVersion(snap, version); err != nil {
			return snap, nil, err
		}
		next, uploaded, events, err := svc.engine.UploadDocument(snap, actor, requiredDocID, storageRef)
		sub = uploaded
		return next, events, err
	})
	return sub, err
}

func (svc *Service) ReviewDocument(ctx context.Context, actor Actor, modalityID string, version int, submissionID string, decision ReviewDecision, notes string) (Submission, error) {
	var sub Submission
	_, err := svc.mutate(ctx, actor, modalityID, func(ctx context.Context, repo Repository, snap Snapshot) (Snapshot, []Event, error) {
		if err := checkVersion(snap, version); err != nil {
			return snap, nil, err
		}
		next, reviewed, events, err := svc.engine.ReviewDocument(snap, actor, submissionID, decision, notes)
		sub = reviewed
		return next, events, err
	})
	return sub, err
}

func (svc *Service) AssignExaminers(ctx context.Context, actor Actor, modalityID string, nas []NewAssignment) (Snapshot, error) {
	return svc.mutate(ctx, actor, modalityID, func(ctx context.Context, repo Repository, snap Snapshot) (Snapshot, []Event, error) {
		assignments := make([]ExaminerAssignment, 0, len(nas))
		for _, na := range nas {
			if err := svc.checkRole(ctx, na.ExaminerID, user.RoleExaminer); err != nil {
				return snap, nil, err
			}
			assignments = append(assignments, ExaminerAssignment{ExaminerID: na.ExaminerID, Role: na.Role})
		}
		next, events, err := svc.engine.AssignExaminers(snap, actor, assignments)
		if err != nil {
			return snap, nil, err
		}
		if err := repo.ReplaceAssignments(ctx, modalityID, next.Assignments); err != nil {
			return snap, nil, err
		}
		return next, events, nil
	})
}

// SubmitEvaluation records the actor's evaluation and aggregates the panel under the record lock.
func (svc *Service) SubmitEvaluation(ctx context.Context, actor Actor, modalityID string, version int, ne NewEvaluation) (Evaluation, error) {
	var ev Evaluation
	_, err := svc.mutate(ctx, actor, modalityID, func(ctx context.Context, repo Repository, snap Snapshot) (Snapshot, []Event, error) {
		if err := checkVersion(snap, version); err != nil {
			return snap, nil, err
		}
		next, recorded, events, err := svc.engine.Evaluate(snap, actor, ne)
		if err != nil {
			return snap, nil, err
		}
		if err := repo.CreateEvaluation(ctx, recorded); err != nil {
			return snap, nil, err
		}
		ev = recorded
		return next, events, nil
	})
	return ev, err
}

// Get returns the record if the actor may see it.
func (svc *Service) Get(ctx context.Context, actor Actor, id string) (Snapshot, error) {
	snap, err := svc.repo.GetSnapshot(ctx, id)
	if err != nil {
		return Snapshot{}, svc.fail(err, actor)
	}
	if !CanView(snap, actor) {
		return Snapshot{}, newError(ErrNotFound, "modality %s", id)
	}
	return snap, nil
}

// Query lists records; students, directors and examiners only see their own.
func (svc *Service) Query(ctx context.Context, actor Actor, filter *QueryFilter, orderings ...core.DBOrdering) ([]Record, error) {
	if filter == nil {
		filter = &QueryFilter{}
	}
	switch actor.Role {
	case user.RoleStudent:
		filter.MemberID = actor.ID
	case user.RoleProjectDirector:
		filter.DirectorID = actor.ID
	case user.RoleExaminer:
		filter.ExaminerID = actor.ID
	}
	recs, err := svc.repo.QueryModalities(ctx, filter, allowedOrderings(orderings)...)
	if err != nil {
		return nil, svc.fail(err, actor)
	}
	return recs, nil
}

func (svc *Service) History(ctx context.Context, actor Actor, id string) ([]HistoryEntry, error) {
	if _, err := svc.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	entries, err := svc.repo.QueryHistory(ctx, id)
	if err != nil {
		return nil, svc.fail(err, actor)
	}
	return entries, nil
}

func (svc *Service) AvailableActions(ctx context.Context, actor Actor, id string) ([]Action, error) {
	snap, err := svc.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return svc.engine.AvailableActions(snap, actor), nil
}

// Invitations lists the invitations received by the actor.
func (svc *Service) Invitations(ctx context.Context, actor Actor, statuses ...InvitationStatus) ([]Invitation, error) {
	invs, err := svc.repo.QueryInvitations(ctx, InvitationFilter{InviteeID: actor.ID, Statuses: statuses})
	if err != nil {
		return nil, svc.fail(err, actor)
	}
	return invs, nil
}

// CanView tells whether the actor takes part in the record. Staff and admins see every record.
func CanView(snap Snapshot, actor Actor) bool {
	switch actor.Role {
	case user.RoleStudent:
		return snap.Record.HasMember(actor.ID)
	case user.RoleProjectDirector:
		return snap.Record.ProjectDirectorID == actor.ID
	case user.RoleExaminer:
		_, ok := snap.assignmentOf(actor.ID)
		return ok
	case user.RoleAdmin, user.RoleProgramHead, user.RoleCurriculumCommittee:
		return true
	}
	return false
}

type mutation func(ctx context.Context, repo Repository, snap Snapshot) (Snapshot, []Event, error)

// mutate runs fn on the locked record, then commits and publishes its result.
func (svc *Service) mutate(ctx context.Context, actor Actor, modalityID string, fn mutation) (Snapshot, error) {
	var next Snapshot
	var events []Event
	err := svc.repo.Atomic(ctx, modalityID, func(ctx context.Context, repo Repository) error {
		snap, err := repo.GetSnapshot(ctx, modalityID)
		if err != nil {
			return err
		}
		changed, evs, err := fn(ctx, repo, snap)
		if err != nil {
			return err
		}
		if next, err = svc.commit(ctx, repo, snap, changed, evs); err != nil {
			return err
		}
		events = evs
		return nil
	})
	if err != nil {
		return Snapshot{}, svc.fail(err, actor)
	}

	for _, ev := range events {
		if ev.Type == EventStatusChanged {
			svc.logger.Info(
				fmt.Sprintf("modality %s: %s -> %s (%s)", ev.ModalityID, ev.FromStatus, ev.ToStatus, ev.Action),
				map[string]interface{}{"actor": ev.ActorID, "role": ev.ActorRole},
			)
		}
	}
	svc.publish(ctx, events)
	return next, nil
}

// commit stores next over prev: the record (compare-and-swap on the version), the changed
// submissions and one history entry per event.
func (svc *Service) commit(ctx context.Context, repo Repository, prev, next Snapshot, events []Event) (Snapshot, error) {
	rec, err := repo.UpdateModality(ctx, next.Record, prev.Record.Version)
	if err != nil {
		return Snapshot{}, err
	}
	next.Record = rec

	if subs := changedSubmissions(prev.Submissions, next.Submissions); len(subs) > 0 {
		if err := repo.SaveSubmissions(ctx, subs...); err != nil {
			return Snapshot{}, err
		}
	}
	if len(events) > 0 {
		if err := repo.AddHistory(ctx, svc.history(events)...); err != nil {
			return Snapshot{}, err
		}
	}
	return next, nil
}

func changedSubmissions(prev, next []Submission) []Submission {
	byID := make(map[string]Submission, len(prev))
	for _, sub := range prev {
		byID[sub.ID] = sub
	}
	var changed []Submission
	for _, sub := range next {
		if old, ok := byID[sub.ID]; !ok || old != sub {
			changed = append(changed, sub)
		}
	}
	return changed
}

func (svc *Service) history(events []Event) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(events))
	for _, ev := range events {
		entry := HistoryEntry{
			ID:         svc.engine.newID(),
			ModalityID: ev.ModalityID,
			ActorID:    ev.ActorID,
			ActorRole:  ev.ActorRole,
			Action:     ev.Action,
			FromStatus: ev.FromStatus,
			ToStatus:   ev.ToStatus,
			Notes:      ev.Notes,
			CreatedAt:  ev.OccurredAt,
		}
		if ev.Type == EventCancellationRejected {
			entry.Action = ActionCancellationDenied
		}
		if entry.FromStatus == "" {
			entry.FromStatus = entry.ToStatus
		}
		entries = append(entries, entry)
	}
	return entries
}

func (svc *Service) publish(ctx context.Context, events []Event) {
	if len(events) > 0 {
		svc.publisher.Publish(ctx, events...)
	}
}

func (svc *Service) user(ctx context.Context, id string) (user.User, error) {
	usr, err := svc.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, newError(ErrNotFound, "user %s", id)
		}
		return user.User{}, err
	}
	return usr, nil
}

func (svc *Service) checkRole(ctx context.Context, userID, role string) error {
	usr, err := svc.user(ctx, userID)
	if err != nil {
		return err
	}
	if !usr.IsActive || !usr.HasRole(role) {
		return newError(ErrInvalidPayload, "user %s is not an active %s", userID, role)
	}
	return nil
}

// fail logs storage failures. Workflow errors are returned as is.
func (svc *Service) fail(err error, actor Actor) error {
	if errors.Is(err, ErrStorageUnavailable) {
		svc.logger.Error(fmt.Sprintf("modality storage: %v", err), err, map[string]interface{}{"actor": actor.ID})
	}
	return err
}
