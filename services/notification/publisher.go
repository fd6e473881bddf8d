package notifysvc

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/trezcool/masomo-grad/core"
	"github.com/trezcool/masomo-grad/core/modality"
	"github.com/trezcool/masomo-grad/core/user"
)

// template names, see fs/templates
const (
	tmplStatusChanged  = "status_changed"
	tmplInvitationSent = "invitation_sent"
	tmplModalityEvent  = "modality_event"
)

// TemplateData is what the notification templates receive as .Data
type TemplateData struct {
	Name      string
	Subject   string
	TypeName  string
	FromLabel string
	ToLabel   string
	ActorName string
	Summary   string
	Event     modality.Event
}

// EmailPublisher e-mails workflow events to their recipients.
type EmailPublisher struct {
	users  modality.UserDirectory
	mailer core.EmailService
	logger core.Logger
}

var _ modality.Publisher = (*EmailPublisher)(nil)

func NewEmailPublisher(users modality.UserDirectory, mailer core.EmailService, logger core.Logger) *EmailPublisher {
	return &EmailPublisher{users: users, mailer: mailer, logger: logger}
}

func (p *EmailPublisher) Publish(ctx context.Context, events ...modality.Event) {
	names := make(map[string]user.User)
	lookup := func(id string) (user.User, bool) {
		if usr, ok := names[id]; ok {
			return usr, true
		}
		usr, err := p.users.GetByID(ctx, id)
		if err != nil {
			p.logger.Warn(fmt.Sprintf("notification: looking up user %s: %v", id, err), err)
			return user.User{}, false
		}
		names[id] = usr
		return usr, true
	}

	var messages []*core.EmailMessage
	for _, ev := range events {
		tmpl, subject, summary, ok := describe(ev)
		if !ok || len(ev.Recipients) == 0 {
			continue
		}

		actorName := "Someone"
		if actor, found := lookup(ev.ActorID); found && actor.Name != "" {
			actorName = actor.Name
		}
		if ev.Type == modality.EventInvitationResolved {
			summary = fmt.Sprintf("%s %s your invitation", actorName, invitationVerb(ev.Notes))
			ev.Notes = ""
		}

		for _, id := range ev.Recipients {
			usr, found := lookup(id)
			if !found || !usr.IsActive || usr.Email == "" {
				continue
			}
			messages = append(messages, &core.EmailMessage{
				To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
				Subject:      subject,
				TemplateName: tmpl,
				TemplateData: TemplateData{
					Name:      usr.Name,
					Subject:   subject,
					TypeName:  ev.TypeName,
					FromLabel: ev.FromStatus.Label(),
					ToLabel:   ev.ToStatus.Label(),
					ActorName: actorName,
					Summary:   summary,
					Event:     ev,
				},
			})
		}
	}

	if len(messages) > 0 {
		p.mailer.SendMessages(messages...)
	}
}

// describe picks the template and subject of an event. Uploads and individual
// evaluations are not notified.
func describe(ev modality.Event) (tmpl, subject, summary string, ok bool) {
	switch ev.Type {
	case modality.EventStatusChanged:
		if ev.FromStatus == "" || ev.FromStatus == ev.ToStatus {
			return "", "", "", false
		}
		return tmplStatusChanged, "Modality update: " + ev.ToStatus.Label(), "", true
	case modality.EventInvitationSent:
		return tmplInvitationSent, "Group modality invitation", "", true
	case modality.EventCancellationRejected:
		summary = "The cancellation request was rejected"
	case modality.EventDirectorAssigned:
		summary = "A project director was assigned"
	case modality.EventDocumentReviewed:
		summary = "A document was reviewed"
	case modality.EventExaminersAssigned:
		summary = "The examiner panel was set"
	case modality.EventGroupConfirmed:
		summary = "The group was confirmed"
	case modality.EventInvitationResolved:
		summary = "An invitation was answered"
	default:
		return "", "", "", false
	}
	return tmplModalityEvent, summary, summary, true
}

func invitationVerb(status string) string {
	if modality.InvitationStatus(status) == modality.InvitationAccepted {
		return "accepted"
	}
	return "declined"
}
