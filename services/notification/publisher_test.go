package notifysvc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-grad/core"
	"github.com/trezcool/masomo-grad/core/modality"
	"github.com/trezcool/masomo-grad/core/user"
	appfs "github.com/trezcool/masomo-grad/fs"
	inmemdb "github.com/trezcool/masomo-grad/storage/database/inmem"
	testutil "github.com/trezcool/masomo-grad/tests"
)

type outbox struct {
	sync.Mutex
	messages []*core.EmailMessage
}

func (o *outbox) SendMessages(messages ...*core.EmailMessage) {
	o.Lock()
	defer o.Unlock()
	o.messages = append(o.messages, messages...)
}

func setup(t *testing.T) (*EmailPublisher, *outbox) {
	t.Helper()
	core.ParseEmailTemplates(appfs.FS, "templates", core.NewTestConfig(), testutil.NopLogger{})

	repo := inmemdb.NewUserRepository(inmemdb.Open())
	for _, usr := range []user.User{
		{ID: "s1", Name: "Amani", Email: "amani@masomo.test", IsActive: true, Roles: []string{user.RoleStudent}},
		{ID: "s2", Name: "Baraka", Email: "baraka@masomo.test", IsActive: true, Roles: []string{user.RoleStudent}},
		{ID: "s3", Name: "Chausiku", Email: "chausiku@masomo.test", Roles: []string{user.RoleStudent}},
		{ID: "s4", Name: "Dalila", IsActive: true, Roles: []string{user.RoleStudent}},
		{ID: "ph", Name: "Head", Email: "head@masomo.test", IsActive: true, Roles: []string{user.RoleProgramHead}},
	} {
		_, err := repo.CreateUser(context.Background(), usr)
		require.NoError(t, err)
	}

	box := new(outbox)
	return NewEmailPublisher(user.NewService(repo), box, testutil.NopLogger{}), box
}

func event(typ modality.EventType, recipients ...string) modality.Event {
	return modality.Event{
		Type:       typ,
		ModalityID: "mod-1",
		TypeName:   "Thesis",
		ActorID:    "ph",
		ActorRole:  user.RoleProgramHead,
		Action:     modality.ActionApprove,
		FromStatus: modality.StatusUnderReviewProgramHead,
		ToStatus:   modality.StatusReadyForCommittee,
		Recipients: recipients,
		OccurredAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestEmailPublisher_Publish(t *testing.T) {
	tests := []struct {
		name     string
		event    modality.Event
		wantTo   []string
		wantTmpl string
		contains []string
	}{
		{
			name:     "status changed",
			event:    event(modality.EventStatusChanged, "s1", "s2"),
			wantTo:   []string{"amani@masomo.test", "baraka@masomo.test"},
			wantTmpl: tmplStatusChanged,
			contains: []string{"Hello Amani", `moved from "Under review by the program head" to "Ready for the curriculum committee"`, "http://localhost:8080/modalities/mod-1"},
		},
		{
			name:   "inactive and unreachable users are skipped",
			event:  event(modality.EventStatusChanged, "s3", "s4", "ghost"),
			wantTo: nil,
		},
		{
			name: "invitation",
			event: func() modality.Event {
				ev := event(modality.EventInvitationSent, "s2")
				ev.ActorID = "s1"
				ev.SubjectID = "inv-1"
				return ev
			}(),
			wantTo:   []string{"baraka@masomo.test"},
			wantTmpl: tmplInvitationSent,
			contains: []string{"Amani invited you", "/invitations/inv-1"},
		},
		{
			name: "invitation answered",
			event: func() modality.Event {
				ev := event(modality.EventInvitationResolved, "s1")
				ev.ActorID = "s2"
				ev.Notes = string(modality.InvitationAccepted)
				return ev
			}(),
			wantTo:   []string{"amani@masomo.test"},
			wantTmpl: tmplModalityEvent,
			contains: []string{"Baraka accepted your invitation on your Thesis modality"},
		},
		{
			name: "rejected cancellation carries the notes",
			event: func() modality.Event {
				ev := event(modality.EventCancellationRejected, "s1")
				ev.Notes = "Defense is next week"
				return ev
			}(),
			wantTo:   []string{"amani@masomo.test"},
			wantTmpl: tmplModalityEvent,
			contains: []string{"The cancellation request was rejected", "Notes: Defense is next week"},
		},
		{name: "uploads are not notified", event: event(modality.EventDocumentUploaded, "s1")},
		{name: "evaluations are not notified", event: event(modality.EventEvaluationRecorded, "s1")},
		{
			name: "creation is not a change",
			event: func() modality.Event {
				ev := event(modality.EventStatusChanged, "s1")
				ev.FromStatus = ""
				return ev
			}(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, box := setup(t)
			pub.Publish(context.Background(), tt.event)

			var to []string
			for _, msg := range box.messages {
				require.Len(t, msg.To, 1)
				to = append(to, msg.To[0].Address)
				assert.Equal(t, tt.wantTmpl, msg.TemplateName)
				assert.NotEmpty(t, msg.Subject)
			}
			assert.Equal(t, tt.wantTo, to)

			if len(box.messages) == 0 {
				return
			}
			msg := box.messages[0]
			require.NoError(t, msg.Render())
			assert.NotEmpty(t, msg.HTMLContent)
			for _, s := range tt.contains {
				assert.Contains(t, msg.TextContent, s)
			}
		})
	}
}

func TestEmailPublisher_Publish_batches(t *testing.T) {
	pub, box := setup(t)
	pub.Publish(context.Background(),
		event(modality.EventDirectorAssigned, "s1"),
		event(modality.EventStatusChanged, "s1", "s2"),
	)
	require.Len(t, box.messages, 3)
	assert.Equal(t, tmplModalityEvent, box.messages[0].TemplateName)
	assert.Equal(t, "A project director was assigned", box.messages[0].Subject)
}
