package modality_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-grad/core/modality"
	"github.com/trezcool/masomo-grad/core/user"
	inmemdb "github.com/trezcool/masomo-grad/storage/database/inmem"
)

type recordingLogger struct {
	sync.Mutex
	errors []string
}

func (*recordingLogger) Debug(string, ...interface{}) {}
func (*recordingLogger) Info(string, ...interface{})  {}
func (*recordingLogger) Warn(string, ...interface{})  {}
func (*recordingLogger) Fatal(string, ...interface{}) {}
func (l *recordingLogger) Error(msg string, _ ...interface{}) {
	l.Lock()
	defer l.Unlock()
	l.errors = append(l.errors, msg)
}

type recordingPublisher struct {
	sync.Mutex
	events []modality.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events ...modality.Event) {
	p.Lock()
	defer p.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) count(typ modality.EventType) int {
	p.Lock()
	defer p.Unlock()
	var n int
	for _, ev := range p.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) find(typ modality.EventType) []modality.Event {
	p.Lock()
	defer p.Unlock()
	var found []modality.Event
	for _, ev := range p.events {
		if ev.Type == typ {
			found = append(found, ev)
		}
	}
	return found
}

type fixture struct {
	svc    *modality.Service
	repo   modality.Repository
	users  user.Repository
	pub    *recordingPublisher
	logger *recordingLogger
	typ    modality.ModalityType

	programHead modality.Actor
	committee   modality.Actor
	director    modality.Actor
	examiners   []modality.Actor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db := inmemdb.Open()
	f := &fixture{
		repo:   inmemdb.NewModalityRepository(db),
		users:  inmemdb.NewUserRepository(db),
		pub:    new(recordingPublisher),
		logger: new(recordingLogger),
	}
	f.svc = modality.NewService(f.repo, user.NewService(f.users), modality.NewEngine(modality.EngineConfig{}), f.pub, f.logger)

	var err error
	f.typ, err = f.svc.CreateType(ctx, modality.NewModalityType{
		Name: "Thesis",
		RequiredDocuments: []modality.NewRequiredDocument{
			{Name: "Proposal", Mandatory: true, ExaminerReviewable: true},
			{Name: "CV"},
		},
	})
	require.NoError(t, err)

	f.programHead = f.actor(t, "Head", user.RoleProgramHead)
	f.committee = f.actor(t, "Committee", user.RoleCurriculumCommittee)
	f.director = f.actor(t, "Director", user.RoleProjectDirector)
	for _, name := range []string{"Examiner One", "Examiner Two", "Examiner Three"} {
		f.examiners = append(f.examiners, f.actor(t, name, user.RoleExaminer))
	}
	return f
}

func (f *fixture) actor(t *testing.T, name, role string) modality.Actor {
	t.Helper()
	usr, err := f.users.CreateUser(context.Background(), user.User{Name: name, IsActive: true, Roles: []string{role}})
	require.NoError(t, err)
	return modality.Actor{ID: usr.ID, Role: role}
}

func (f *fixture) transition(t *testing.T, actor modality.Actor, id string, action modality.Action, payload modality.Payload) modality.Snapshot {
	t.Helper()
	snap, err := f.svc.Transition(context.Background(), actor, modality.TransitionRequest{ModalityID: id, Action: action, Payload: payload})
	require.NoError(t, err)
	return snap
}

func (f *fixture) reviewAll(t *testing.T, actor modality.Actor, snap modality.Snapshot) {
	t.Helper()
	for _, sub := range snap.Submissions {
		if !sub.Uploaded {
			continue
		}
		_, err := f.svc.ReviewDocument(context.Background(), actor, snap.Record.ID, 0, sub.ID, modality.ReviewAccept, "")
		require.NoError(t, err)
	}
}

// defenseCompleted drives a new record of stu up to DEFENSE_COMPLETED with a two examiner panel.
func (f *fixture) defenseCompleted(t *testing.T, stu modality.Actor) modality.Snapshot {
	t.Helper()
	ctx := context.Background()

	snap, err := f.svc.StartModality(ctx, stu, f.typ.ID)
	require.NoError(t, err)
	id := snap.Record.ID
	_, err = f.svc.UploadDocument(ctx, stu, id, 0, f.typ.RequiredDocuments[0].ID, "s3://thesis/proposal.pdf")
	require.NoError(t, err)

	snap = f.transition(t, stu, id, modality.ActionSubmit, modality.Payload{})
	f.reviewAll(t, f.programHead, snap)
	f.transition(t, f.programHead, id, modality.ActionApprove, modality.Payload{})
	snap = f.transition(t, f.committee, id, modality.ActionStartReview, modality.Payload{})
	f.reviewAll(t, f.committee, snap)
	f.transition(t, f.committee, id, modality.ActionApprove, modality.Payload{})
	f.transition(t, f.committee, id, modality.ActionAssignDirector, modality.Payload{DirectorID: f.director.ID})

	_, err = f.svc.AssignExaminers(ctx, f.committee, id, []modality.NewAssignment{
		{ExaminerID: f.examiners[0].ID, Role: modality.ExaminerPrimary1},
		{ExaminerID: f.examiners[1].ID, Role: modality.ExaminerPrimary2},
	})
	require.NoError(t, err)

	f.transition(t, f.director, id, modality.ActionProposeDefense, modality.Payload{DefenseAt: time.Now().Add(48 * time.Hour), Location: "Aula Magna"})
	snap = f.transition(t, f.committee, id, modality.ActionScheduleDefense, modality.Payload{})
	f.reviewAll(t, f.examiners[0], snap)
	snap = f.transition(t, f.committee, id, modality.ActionCompleteDefense, modality.Payload{})
	require.Equal(t, modality.StatusDefenseCompleted, snap.Record.Status)
	return snap
}

func TestService_lifecycle(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	stu := f.actor(t, "Student", user.RoleStudent)
	other := f.actor(t, "Other", user.RoleStudent)

	snap := f.defenseCompleted(t, stu)
	id := snap.Record.ID

	_, err := f.svc.StartModality(ctx, stu, f.typ.ID)
	assert.True(t, errors.Is(err, modality.ErrActiveModalityExists), "got %v", err)

	_, err = f.svc.SubmitEvaluation(ctx, f.examiners[0], id, 0, modality.NewEvaluation{Grade: 4.6, Decision: modality.DecisionApprovedLaureate})
	require.NoError(t, err)
	_, err = f.svc.SubmitEvaluation(ctx, f.examiners[1], id, 0, modality.NewEvaluation{Grade: 4.2, Decision: modality.DecisionApprovedMeritorious})
	require.NoError(t, err)

	snap, err = f.svc.Get(ctx, stu, id)
	require.NoError(t, err)
	assert.Equal(t, modality.StatusGradedApproved, snap.Record.Status)
	assert.Equal(t, modality.DecisionApprovedLaureate, snap.Record.FinalDecision)
	assert.InDelta(t, 4.4, snap.Record.FinalGrade, 1e-9)
	assert.Len(t, snap.Evaluations, 2)

	actions, err := f.svc.AvailableActions(ctx, f.committee, id)
	require.NoError(t, err)
	assert.Equal(t, []modality.Action{modality.ActionClose}, actions)

	snap = f.transition(t, f.committee, id, modality.ActionClose, modality.Payload{})
	assert.Equal(t, modality.StatusModalityClosed, snap.Record.Status)

	history, err := f.svc.History(ctx, f.committee, id)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, modality.ActionStart, history[0].Action)
	assert.Equal(t, modality.StatusModalitySelected, history[0].ToStatus)
	last := history[len(history)-1]
	assert.Equal(t, modality.ActionClose, last.Action)
	assert.Equal(t, modality.StatusGradedApproved, last.FromStatus)
	assert.Equal(t, modality.StatusModalityClosed, last.ToStatus)
	assert.Equal(t, f.committee.ID, last.ActorID)

	assert.Equal(t, 1, f.pub.count(modality.EventExaminersAssigned))
	assert.Equal(t, 2, f.pub.count(modality.EventEvaluationRecorded))

	t.Run("visibility", func(t *testing.T) {
		_, err := f.svc.Get(ctx, other, id)
		assert.True(t, errors.Is(err, modality.ErrNotFound), "got %v", err)

		_, err = f.svc.Get(ctx, f.director, id)
		assert.NoError(t, err)

		recs, err := f.svc.Query(ctx, other, nil)
		require.NoError(t, err)
		assert.Empty(t, recs)

		recs, err = f.svc.Query(ctx, f.examiners[1], &modality.QueryFilter{Statuses: []modality.Status{modality.StatusModalityClosed}})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, id, recs[0].ID)
	})

	t.Run("closed modality frees the student", func(t *testing.T) {
		_, err := f.svc.StartModality(ctx, stu, f.typ.ID)
		assert.NoError(t, err)
	})
}

func TestService_staleVersion(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	stu := f.actor(t, "Student", user.RoleStudent)

	snap, err := f.svc.StartModality(ctx, stu, f.typ.ID)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Record.Version)
	id := snap.Record.ID

	_, err = f.svc.UploadDocument(ctx, stu, id, 0, f.typ.RequiredDocuments[0].ID, "s3://thesis/proposal.pdf")
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, stu, modality.TransitionRequest{ModalityID: id, Action: modality.ActionSubmit, Version: 1})
	assert.True(t, errors.Is(err, modality.ErrStaleState), "got %v", err)

	snap, err = f.svc.Transition(ctx, stu, modality.TransitionRequest{ModalityID: id, Action: modality.ActionSubmit, Version: 2})
	require.NoError(t, err)
	assert.Equal(t, modality.StatusUnderReviewProgramHead, snap.Record.Status)
	assert.Equal(t, 3, snap.Record.Version)

	t.Run("failed transitions are not persisted", func(t *testing.T) {
		_, err := f.svc.Transition(ctx, f.programHead, modality.TransitionRequest{ModalityID: id, Action: modality.ActionReject})
		assert.True(t, errors.Is(err, modality.ErrMissingMandatoryReason), "got %v", err)

		got, err := f.svc.Get(ctx, stu, id)
		require.NoError(t, err)
		assert.Equal(t, snap.Record, got.Record)

		history, err := f.svc.History(ctx, stu, id)
		require.NoError(t, err)
		assert.Len(t, history, 3) // start, upload, submit
	})
}

func TestService_concurrentEvaluations(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	snap := f.defenseCompleted(t, f.actor(t, "Student", user.RoleStudent))
	id := snap.Record.ID

	evaluations := []modality.NewEvaluation{
		{Grade: 3.5, Decision: modality.DecisionApprovedNoDistinction},
		{Grade: 3.7, Decision: modality.DecisionApprovedNoDistinction},
	}
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range evaluations {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.SubmitEvaluation(ctx, f.examiners[i], id, 0, evaluations[i])
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	snap, err := f.svc.Get(ctx, f.committee, id)
	require.NoError(t, err)
	assert.Equal(t, modality.StatusGradedApproved, snap.Record.Status)
	assert.InDelta(t, 3.6, snap.Record.FinalGrade, 1e-9)
	assert.Len(t, snap.Evaluations, 2)

	t.Run("same examiner twice", func(t *testing.T) {
		f := setup(t)
		snap := f.defenseCompleted(t, f.actor(t, "Student", user.RoleStudent))

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.SubmitEvaluation(ctx, f.examiners[0], snap.Record.ID, 0, evaluations[0])
			}(i)
		}
		wg.Wait()

		var failed int
		for _, err := range errs {
			if err != nil {
				assert.True(t, errors.Is(err, modality.ErrEvaluationExists), "got %v", err)
				failed++
			}
		}
		assert.Equal(t, 1, failed)
	})
}

func TestService_groupFormation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	s1 := f.actor(t, "Initiator", user.RoleStudent)
	s2 := f.actor(t, "Second", user.RoleStudent)
	s3 := f.actor(t, "Third", user.RoleStudent)
	s4 := f.actor(t, "Fourth", user.RoleStudent)

	snap, err := f.svc.StartGroupModality(ctx, s1, f.typ.ID)
	require.NoError(t, err)
	require.Equal(t, modality.StatusDraft, snap.Record.Status)
	id := snap.Record.ID

	inv2, err := f.svc.InviteStudent(ctx, s1, id, s2.ID)
	require.NoError(t, err)
	_, err = f.svc.InviteStudent(ctx, s1, id, s2.ID)
	assert.True(t, errors.Is(err, modality.ErrInvitationConflict), "got %v", err)
	_, err = f.svc.InviteStudent(ctx, s1, id, f.programHead.ID)
	assert.True(t, errors.Is(err, modality.ErrInvalidPayload), "got %v", err)
	_, err = f.svc.InviteStudent(ctx, s1, id, "unknown")
	assert.True(t, errors.Is(err, modality.ErrNotFound), "got %v", err)
	_, err = f.svc.InviteStudent(ctx, s1, id, s3.ID)
	require.NoError(t, err)
	_, err = f.svc.InviteStudent(ctx, s1, id, s4.ID)
	assert.True(t, errors.Is(err, modality.ErrInvitationCapacityExceeded), "got %v", err)

	received, err := f.svc.Invitations(ctx, s2, modality.InvitationPending)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, inv2.ID, received[0].ID)

	_, err = f.svc.RespondInvitation(ctx, s3, inv2.ID, true)
	assert.True(t, errors.Is(err, modality.ErrUnauthorizedTransition), "got %v", err)

	accepted, err := f.svc.RespondInvitation(ctx, s2, inv2.ID, true)
	require.NoError(t, err)
	assert.Equal(t, modality.InvitationAccepted, accepted.Status)

	again, err := f.svc.RespondInvitation(ctx, s2, inv2.ID, false)
	require.NoError(t, err)
	assert.Equal(t, modality.InvitationAccepted, again.Status)

	_, err = f.svc.ConfirmGroup(ctx, s1, id, false)
	assert.True(t, errors.Is(err, modality.ErrInvitationsPending), "got %v", err)

	snap, err = f.svc.ConfirmGroup(ctx, s1, id, true)
	require.NoError(t, err)
	assert.Equal(t, modality.StatusModalitySelected, snap.Record.Status)
	assert.Equal(t, []string{s1.ID, s2.ID}, snap.Record.MemberIDs)
	assert.Len(t, snap.Submissions, 2)

	closed, err := f.svc.Invitations(ctx, s3)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, modality.InvitationRejected, closed[0].Status)

	_, err = f.svc.StartModality(ctx, s2, f.typ.ID)
	assert.True(t, errors.Is(err, modality.ErrActiveModalityExists), "got %v", err)
	_, err = f.svc.StartModality(ctx, s3, f.typ.ID)
	assert.NoError(t, err)

	// both members act on the shared record
	_, err = f.svc.UploadDocument(ctx, s2, id, 0, f.typ.RequiredDocuments[0].ID, "s3://group/proposal.pdf")
	require.NoError(t, err)
	snap = f.transition(t, s1, id, modality.ActionSubmit, modality.Payload{})
	assert.Equal(t, modality.StatusUnderReviewProgramHead, snap.Record.Status)
	assert.Equal(t, 1, f.pub.count(modality.EventGroupConfirmed))
}

func TestService_groupFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("declined invitations leave an individual record", func(t *testing.T) {
		f := setup(t)
		s1 := f.actor(t, "Initiator", user.RoleStudent)
		s2 := f.actor(t, "Second", user.RoleStudent)

		snap, err := f.svc.StartGroupModality(ctx, s1, f.typ.ID)
		require.NoError(t, err)
		id := snap.Record.ID
		inv, err := f.svc.InviteStudent(ctx, s1, id, s2.ID)
		require.NoError(t, err)
		_, err = f.svc.RespondInvitation(ctx, s2, inv.ID, false)
		require.NoError(t, err)

		_, err = f.svc.ConfirmGroup(ctx, s1, id, false)
		assert.True(t, errors.Is(err, modality.ErrGroupTooSmall), "got %v", err)

		snap, err = f.svc.ConfirmGroup(ctx, s1, id, true)
		require.NoError(t, err)
		assert.Equal(t, modality.StatusModalitySelected, snap.Record.Status)
		assert.False(t, snap.Record.IsGroup)
		assert.Equal(t, []string{s1.ID}, snap.Record.MemberIDs)
		assert.Len(t, snap.Submissions, 2)

		_, err = f.svc.UploadDocument(ctx, s1, id, snap.Record.Version, f.typ.RequiredDocuments[0].ID, "s3://thesis/proposal.pdf")
		require.NoError(t, err)
		snap = f.transition(t, s1, id, modality.ActionSubmit, modality.Payload{})
		assert.Equal(t, modality.StatusUnderReviewProgramHead, snap.Record.Status)
	})

	t.Run("abandoned draft frees the initiator", func(t *testing.T) {
		f := setup(t)
		s1 := f.actor(t, "Initiator", user.RoleStudent)
		s2 := f.actor(t, "Second", user.RoleStudent)

		snap, err := f.svc.StartGroupModality(ctx, s1, f.typ.ID)
		require.NoError(t, err)
		id := snap.Record.ID
		_, err = f.svc.InviteStudent(ctx, s1, id, s2.ID)
		require.NoError(t, err)

		actions, err := f.svc.AvailableActions(ctx, s1, id)
		require.NoError(t, err)
		assert.Equal(t, []modality.Action{modality.ActionAbandonGroup, modality.ActionConfirmGroup, modality.ActionInvite}, actions)

		_, err = f.svc.StartModality(ctx, s1, f.typ.ID)
		assert.True(t, errors.Is(err, modality.ErrActiveModalityExists), "got %v", err)

		_, err = f.svc.AbandonGroup(ctx, s2, id, "")
		assert.True(t, errors.Is(err, modality.ErrUnauthorizedTransition), "got %v", err)

		snap, err = f.svc.AbandonGroup(ctx, s1, id, "Partner changed programs")
		require.NoError(t, err)
		assert.Equal(t, modality.StatusCancelledWithoutReproval, snap.Record.Status)
		assert.Equal(t, "Partner changed programs", snap.Record.ClosureReason)

		pending, err := f.svc.Invitations(ctx, s2, modality.InvitationPending)
		require.NoError(t, err)
		assert.Empty(t, pending)

		var abandoned []modality.Event
		for _, ev := range f.pub.find(modality.EventStatusChanged) {
			if ev.Action == modality.ActionAbandonGroup {
				abandoned = append(abandoned, ev)
			}
		}
		require.Len(t, abandoned, 1)
		assert.Equal(t, modality.StatusDraft, abandoned[0].FromStatus)
		assert.Equal(t, []string{s2.ID}, abandoned[0].Recipients)

		_, err = f.svc.AbandonGroup(ctx, s1, id, "")
		assert.True(t, errors.Is(err, modality.ErrTerminalState), "got %v", err)

		_, err = f.svc.StartModality(ctx, s1, f.typ.ID)
		assert.NoError(t, err)
		_, err = f.svc.StartModality(ctx, s2, f.typ.ID)
		assert.NoError(t, err)
	})
}

func TestService_staleDocumentRequests(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	stu := f.actor(t, "Student", user.RoleStudent)
	docID := f.typ.RequiredDocuments[0].ID

	snap, err := f.svc.StartModality(ctx, stu, f.typ.ID)
	require.NoError(t, err)
	id := snap.Record.ID

	_, err = f.svc.UploadDocument(ctx, stu, id, 1, docID, "s3://thesis/proposal-v1.pdf")
	require.NoError(t, err)
	_, err = f.svc.UploadDocument(ctx, stu, id, 1, docID, "s3://thesis/proposal-v2.pdf")
	assert.True(t, errors.Is(err, modality.ErrStaleState), "got %v", err)

	snap = f.transition(t, stu, id, modality.ActionSubmit, modality.Payload{})
	var sub modality.Submission
	for _, sub = range snap.Submissions {
		if sub.RequiredDocumentID == docID {
			break
		}
	}

	tests := []struct {
		name    string
		version int
		wantErr error
	}{
		{name: "read before submit", version: snap.Record.Version - 1, wantErr: modality.ErrStaleState},
		{name: "current", version: snap.Record.Version},
	}
	for _, tt := range tests {
		t.Run("review "+tt.name, func(t *testing.T) {
			_, err := f.svc.ReviewDocument(ctx, f.programHead, id, tt.version, sub.ID, modality.ReviewAccept, "")
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}

	t.Run("evaluation after another examiner", func(t *testing.T) {
		f := setup(t)
		snap := f.defenseCompleted(t, f.actor(t, "Student", user.RoleStudent))
		read := snap.Record.Version

		_, err := f.svc.SubmitEvaluation(ctx, f.examiners[0], snap.Record.ID, read, modality.NewEvaluation{Grade: 4.0, Decision: modality.DecisionApprovedNoDistinction})
		require.NoError(t, err)
		_, err = f.svc.SubmitEvaluation(ctx, f.examiners[1], snap.Record.ID, read, modality.NewEvaluation{Grade: 2.0, Decision: modality.DecisionRejected})
		assert.True(t, errors.Is(err, modality.ErrStaleState), "got %v", err)

		got, err := f.svc.Get(ctx, f.committee, snap.Record.ID)
		require.NoError(t, err)
		assert.Len(t, got.Evaluations, 1)
	})
}

func TestService_concurrentTransitions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	stu := f.actor(t, "Student", user.RoleStudent)

	snap, err := f.svc.StartModality(ctx, stu, f.typ.ID)
	require.NoError(t, err)
	id := snap.Record.ID
	_, err = f.svc.UploadDocument(ctx, stu, id, 0, f.typ.RequiredDocuments[0].ID, "s3://thesis/proposal.pdf")
	require.NoError(t, err)
	snap = f.transition(t, stu, id, modality.ActionSubmit, modality.Payload{})
	f.reviewAll(t, f.programHead, snap)

	snap, err = f.svc.Get(ctx, f.programHead, id)
	require.NoError(t, err)
	read := snap.Record.Version

	reqs := []modality.TransitionRequest{
		{ModalityID: id, Action: modality.ActionApprove, Version: read},
		{ModalityID: id, Action: modality.ActionRequestCorrections, Version: read, Payload: modality.Payload{Notes: "Missing CV"}},
	}
	errs := make([]error, len(reqs))
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Transition(ctx, f.programHead, reqs[i])
		}(i)
	}
	wg.Wait()

	var stale int
	for _, err := range errs {
		if err != nil {
			assert.True(t, errors.Is(err, modality.ErrStaleState), "got %v", err)
			stale++
		}
	}
	assert.Equal(t, 1, stale)

	got, err := f.svc.Get(ctx, f.programHead, id)
	require.NoError(t, err)
	assert.Equal(t, read+1, got.Record.Version)
	assert.Contains(t, []modality.Status{modality.StatusReadyForCommittee, modality.StatusCorrectionsRequestedProgramHead}, got.Record.Status)
}

func TestService_eventRecipients(t *testing.T) {
	f := setup(t)
	stu := f.actor(t, "Student", user.RoleStudent)
	f.defenseCompleted(t, stu)

	assigned := f.pub.find(modality.EventExaminersAssigned)
	require.Len(t, assigned, 1)
	assert.Contains(t, assigned[0].Recipients, f.examiners[0].ID)
	assert.Contains(t, assigned[0].Recipients, f.examiners[1].ID)
	assert.Contains(t, assigned[0].Recipients, stu.ID)
	assert.NotContains(t, assigned[0].Recipients, f.committee.ID)

	var completed []modality.Event
	for _, ev := range f.pub.find(modality.EventStatusChanged) {
		if ev.ToStatus == modality.StatusDefenseCompleted {
			completed = append(completed, ev)
		}
	}
	require.Len(t, completed, 1)
	assert.ElementsMatch(t, []string{stu.ID, f.director.ID, f.examiners[0].ID, f.examiners[1].ID}, completed[0].Recipients)
}

type unavailableRepo struct {
	modality.Repository
}

func (unavailableRepo) Atomic(context.Context, string, func(context.Context, modality.Repository) error) error {
	return errors.Wrap(modality.ErrStorageUnavailable, "connection refused")
}

func TestService_storageUnavailable(t *testing.T) {
	f := setup(t)
	logger := new(recordingLogger)
	svc := modality.NewService(unavailableRepo{f.repo}, user.NewService(f.users), modality.NewEngine(modality.EngineConfig{}), f.pub, logger)

	_, err := svc.Transition(context.Background(), f.committee, modality.TransitionRequest{ModalityID: "any", Action: modality.ActionClose})
	assert.True(t, errors.Is(err, modality.ErrStorageUnavailable), "got %v", err)
	assert.Len(t, logger.errors, 1)
}
