package modality

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draftSnapshot(members ...string) Snapshot {
	return Snapshot{
		Type: testType(),
		Record: Record{
			ID:               "mod-g",
			ModalityTypeID:   "type-thesis",
			ModalityTypeName: "Thesis",
			Status:           StatusDraft,
			IsGroup:          true,
			MemberIDs:        append([]string{"s1"}, members...),
			Version:          1,
		},
	}
}

func invitation(id, invitee string, status InvitationStatus) Invitation {
	return Invitation{ID: id, ModalityID: "mod-g", InviterID: "s1", InviteeID: invitee, Status: status}
}

func TestEngine_Start(t *testing.T) {
	eng := newTestEngine(EngineConfig{})

	t.Run("individual", func(t *testing.T) {
		snap, events, err := eng.Start(testType(), student, false)
		require.NoError(t, err)
		assert.Equal(t, StatusModalitySelected, snap.Record.Status)
		assert.False(t, snap.Record.IsGroup)
		assert.Equal(t, []string{"s1"}, snap.Record.MemberIDs)
		assert.Equal(t, testNow, snap.Record.CreatedAt)
		require.Len(t, snap.Submissions, 3)
		for i, sub := range snap.Submissions {
			assert.Equal(t, snap.Type.RequiredDocuments[i].ID, sub.RequiredDocumentID)
			assert.Equal(t, snap.Record.ID, sub.ModalityID)
			assert.Equal(t, TierProgramHead, sub.Tier)
			assert.Equal(t, DocumentPending, sub.Status)
			assert.False(t, sub.Uploaded)
		}
		require.Len(t, events, 1)
		assert.Equal(t, EventStatusChanged, events[0].Type)
		assert.Equal(t, ActionStart, events[0].Action)
		assert.Empty(t, events[0].FromStatus)
		assert.Equal(t, StatusModalitySelected, events[0].ToStatus)
	})

	t.Run("group", func(t *testing.T) {
		snap, _, err := eng.Start(testType(), student, true)
		require.NoError(t, err)
		assert.Equal(t, StatusDraft, snap.Record.Status)
		assert.True(t, snap.Record.IsGroup)
		assert.Empty(t, snap.Submissions)
	})

	t.Run("staff", func(t *testing.T) {
		_, _, err := eng.Start(testType(), programHead, false)
		assert.True(t, errors.Is(err, ErrUnauthorizedTransition), "got %v", err)
	})
}

func TestEngine_Invite(t *testing.T) {
	eng := newTestEngine(EngineConfig{})
	candidate := Candidate{ID: "s2", IsStudent: true}

	tests := []struct {
		name        string
		snap        Snapshot
		actor       Actor
		invitations []Invitation
		cand        Candidate
		wantErr     error
	}{
		{name: "invite", snap: draftSnapshot(), actor: student, cand: candidate},
		{
			name:        "declined invitations free their seat",
			snap:        draftSnapshot(),
			actor:       student,
			invitations: []Invitation{invitation("i1", "s3", InvitationRejected), invitation("i2", "s4", InvitationRejected), invitation("i3", "s5", InvitationPending)},
			cand:        candidate,
		},
		{name: "not the initiator", snap: draftSnapshot("s3"), actor: Actor{ID: "s3", Role: student.Role}, cand: candidate, wantErr: ErrUnauthorizedTransition},
		{name: "not a student", snap: draftSnapshot(), actor: student, cand: Candidate{ID: "ph"}, wantErr: ErrInvalidPayload},
		{name: "already a member", snap: draftSnapshot("s2"), actor: student, cand: candidate, wantErr: ErrInvitationConflict},
		{name: "pending elsewhere", snap: draftSnapshot(), actor: student, cand: Candidate{ID: "s2", IsStudent: true, HasPending: true}, wantErr: ErrInvitationConflict},
		{name: "in another modality", snap: draftSnapshot(), actor: student, cand: Candidate{ID: "s2", IsStudent: true, HasActive: true}, wantErr: ErrActiveModalityExists},
		{
			name:        "group full",
			snap:        draftSnapshot("s3"),
			actor:       student,
			invitations: []Invitation{invitation("i1", "s3", InvitationAccepted), invitation("i2", "s4", InvitationPending)},
			cand:        candidate,
			wantErr:     ErrInvitationCapacityExceeded,
		},
		{
			name:    "group already formed",
			snap:    snapshotAt(StatusModalitySelected, TierProgramHead, DocumentPending),
			actor:   student,
			cand:    candidate,
			wantErr: ErrInvalidTransition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, events, err := eng.Invite(tt.snap, tt.actor, tt.invitations, tt.cand)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Empty(t, events)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, inv.ID)
			assert.Equal(t, tt.snap.Record.ID, inv.ModalityID)
			assert.Equal(t, "s1", inv.InviterID)
			assert.Equal(t, "s2", inv.InviteeID)
			assert.Equal(t, InvitationPending, inv.Status)
			assert.Equal(t, testNow, inv.SentAt)
			require.Len(t, events, 1)
			assert.Equal(t, EventInvitationSent, events[0].Type)
			assert.Equal(t, []string{"s2"}, events[0].Recipients)
		})
	}
}

func TestEngine_RespondInvitation(t *testing.T) {
	eng := newTestEngine(EngineConfig{})
	invitee := Actor{ID: "s2", Role: student.Role}
	pending := invitation("i1", "s2", InvitationPending)

	t.Run("accept", func(t *testing.T) {
		snap := draftSnapshot()
		next, inv, events, err := eng.RespondInvitation(snap, invitee, pending, true, false)
		require.NoError(t, err)
		assert.Equal(t, InvitationAccepted, inv.Status)
		assert.Equal(t, testNow, inv.RespondedAt)
		assert.Equal(t, []string{"s1", "s2"}, next.Record.MemberIDs)
		assert.Equal(t, []string{"s1"}, snap.Record.MemberIDs)
		require.Len(t, events, 1)
		assert.Equal(t, EventInvitationResolved, events[0].Type)
		assert.Equal(t, string(InvitationAccepted), events[0].Notes)
		assert.Equal(t, []string{"s1"}, events[0].Recipients)
	})

	t.Run("decline", func(t *testing.T) {
		next, inv, events, err := eng.RespondInvitation(draftSnapshot(), invitee, pending, false, false)
		require.NoError(t, err)
		assert.Equal(t, InvitationRejected, inv.Status)
		assert.Equal(t, []string{"s1"}, next.Record.MemberIDs)
		assert.Len(t, events, 1)
	})

	t.Run("already resolved", func(t *testing.T) {
		resolved := invitation("i1", "s2", InvitationRejected)
		snap := draftSnapshot()
		next, inv, events, err := eng.RespondInvitation(snap, invitee, resolved, true, false)
		require.NoError(t, err)
		assert.Equal(t, resolved, inv)
		assert.Equal(t, snap, next)
		assert.Empty(t, events)
	})

	tests := []struct {
		name      string
		snap      Snapshot
		actor     Actor
		hasActive bool
		wantErr   error
	}{
		{name: "someone else", snap: draftSnapshot(), actor: Actor{ID: "s3", Role: student.Role}, wantErr: ErrUnauthorizedTransition},
		{name: "group full", snap: draftSnapshot("s3", "s4"), actor: invitee, wantErr: ErrInvitationCapacityExceeded},
		{name: "joined another modality", snap: draftSnapshot(), actor: invitee, hasActive: true, wantErr: ErrActiveModalityExists},
		{name: "group already formed", snap: snapshotAt(StatusModalitySelected, TierProgramHead, DocumentPending), actor: invitee, wantErr: ErrInvalidTransition},
		{name: "group cancelled", snap: snapshotAt(StatusCancelledWithoutReproval, TierProgramHead, DocumentPending), actor: invitee, wantErr: ErrTerminalState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, inv, events, err := eng.RespondInvitation(tt.snap, tt.actor, pending, true, tt.hasActive)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, tt.snap, next)
			assert.Equal(t, pending, inv)
			assert.Empty(t, events)
		})
	}
}

func TestEngine_ConfirmGroup(t *testing.T) {
	eng := newTestEngine(EngineConfig{})
	invitations := []Invitation{
		invitation("i1", "s2", InvitationAccepted),
		invitation("i2", "s3", InvitationPending),
	}

	t.Run("pending invitations", func(t *testing.T) {
		_, _, _, err := eng.ConfirmGroup(draftSnapshot("s2"), student, invitations, false)
		assert.True(t, errors.Is(err, ErrInvitationsPending), "got %v", err)
	})

	t.Run("alone", func(t *testing.T) {
		_, _, _, err := eng.ConfirmGroup(draftSnapshot(), student, nil, false)
		assert.True(t, errors.Is(err, ErrGroupTooSmall), "got %v", err)
	})

	t.Run("alone proceeds individually", func(t *testing.T) {
		next, closed, events, err := eng.ConfirmGroup(draftSnapshot(), student, invitations[1:], true)
		require.NoError(t, err)
		assert.Equal(t, StatusModalitySelected, next.Record.Status)
		assert.False(t, next.Record.IsGroup)
		assert.Equal(t, []string{"s1"}, next.Record.MemberIDs)
		assert.Len(t, next.Submissions, 3)
		require.Len(t, closed, 1)
		assert.Equal(t, InvitationRejected, closed[0].Status)
		assert.Len(t, events, 2)
	})

	t.Run("not the initiator", func(t *testing.T) {
		_, _, _, err := eng.ConfirmGroup(draftSnapshot("s2"), Actor{ID: "s2", Role: student.Role}, nil, true)
		assert.True(t, errors.Is(err, ErrUnauthorizedTransition), "got %v", err)
	})

	t.Run("proceed with fewer", func(t *testing.T) {
		next, closed, events, err := eng.ConfirmGroup(draftSnapshot("s2"), student, invitations, true)
		require.NoError(t, err)
		assert.Equal(t, StatusModalitySelected, next.Record.Status)
		assert.Equal(t, []string{"s1", "s2"}, next.Record.MemberIDs)
		assert.Len(t, next.Submissions, 3)

		require.Len(t, closed, 1)
		assert.Equal(t, "i2", closed[0].ID)
		assert.Equal(t, InvitationRejected, closed[0].Status)
		assert.Equal(t, InvitationPending, invitations[1].Status)

		require.Len(t, events, 2)
		assert.Equal(t, EventGroupConfirmed, events[0].Type)
		assert.Equal(t, EventStatusChanged, events[1].Type)
		assert.Equal(t, StatusDraft, events[1].FromStatus)
		assert.Equal(t, []string{"s2"}, events[1].Recipients)
	})
}

func TestEngine_AbandonGroup(t *testing.T) {
	eng := newTestEngine(EngineConfig{})
	invitations := []Invitation{
		invitation("i1", "s2", InvitationPending),
		invitation("i2", "s3", InvitationRejected),
	}

	tests := []struct {
		name    string
		snap    Snapshot
		actor   Actor
		wantErr error
	}{
		{name: "not the initiator", snap: draftSnapshot(), actor: Actor{ID: "s2", Role: student.Role}, wantErr: ErrUnauthorizedTransition},
		{name: "staff", snap: draftSnapshot(), actor: committeeStaff, wantErr: ErrUnauthorizedTransition},
		{name: "formed", snap: snapshotAt(StatusModalitySelected, TierProgramHead, DocumentPending), actor: student, wantErr: ErrInvalidTransition},
		{name: "closed", snap: snapshotAt(StatusModalityClosed, TierProgramHead, DocumentPending), actor: student, wantErr: ErrTerminalState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := eng.AbandonGroup(tt.snap, tt.actor, invitations, "")
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}

	t.Run("initiator", func(t *testing.T) {
		next, closed, events, err := eng.AbandonGroup(draftSnapshot(), student, invitations, " No partner ")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelledWithoutReproval, next.Record.Status)
		assert.Equal(t, "No partner", next.Record.ClosureReason)
		assert.True(t, next.Record.Status.IsTerminal())

		require.Len(t, closed, 1)
		assert.Equal(t, "i1", closed[0].ID)
		assert.Equal(t, InvitationRejected, closed[0].Status)
		assert.Equal(t, testNow, closed[0].RespondedAt)

		require.Len(t, events, 1)
		assert.Equal(t, EventStatusChanged, events[0].Type)
		assert.Equal(t, ActionAbandonGroup, events[0].Action)
		assert.Equal(t, StatusDraft, events[0].FromStatus)
		assert.Equal(t, []string{"s2"}, events[0].Recipients)
	})
}
