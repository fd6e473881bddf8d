package modality

import (
	"github.com/trezcool/masomo-grad/core/user"
)

// statuses in which students may (re)upload documents of the given tier
var uploadWindows = map[Status]Tier{
	StatusModalitySelected:                TierProgramHead,
	StatusCorrectionsRequestedProgramHead: TierProgramHead,
	StatusCorrectionsRequestedByCommittee: TierCommittee,
	StatusDefenseScheduled:                TierExaminer,
}

// statuses in which a reviewer tier is active
var reviewWindows = map[Status]struct {
	tier Tier
	role string
}{
	StatusUnderReviewProgramHead: {tier: TierProgramHead, role: user.RoleProgramHead},
	StatusUnderReviewCommittee:   {tier: TierCommittee, role: user.RoleCurriculumCommittee},
	StatusDefenseScheduled:       {tier: TierExaminer, role: user.RoleExaminer},
}

// UploadDocument stores a student's (re)submission for a required document.
func (eng *Engine) UploadDocument(snap Snapshot, actor Actor, requiredDocID, storageRef string) (Snapshot, Submission, []Event, error) {
	rec := snap.Record
	if rec.Status.IsTerminal() {
		return snap, Submission{}, nil, newError(ErrTerminalState, "modality is %s", rec.Status)
	}
	tier, ok := uploadWindows[rec.Status]
	if !ok {
		return snap, Submission{}, nil, newError(ErrInvalidTransition, "documents cannot be uploaded while %s", rec.Status)
	}
	if actor.Role != user.RoleStudent || !rec.HasMember(actor.ID) {
		return snap, Submission{}, nil, newError(ErrUnauthorizedTransition, "only members can upload documents")
	}
	i, ok := snap.submissionFor(requiredDocID)
	if !ok {
		return snap, Submission{}, nil, newError(ErrNotFound, "required document %s", requiredDocID)
	}

	next := snap.clone()
	sub := &next.Submissions[i]
	if sub.Locked() {
		return snap, Submission{}, nil, newError(ErrDocumentLocked, "document is %s", sub.Status)
	}
	if sub.Tier != tier {
		return snap, Submission{}, nil, newError(ErrInvalidTransition, "document is not open for %s review", tier)
	}
	now := eng.now()
	if err := sub.Upload(storageRef, now); err != nil {
		return snap, Submission{}, nil, err
	}

	ev := newEvent(EventDocumentUploaded, next, actor, ActionUploadDocument, now)
	ev.SubjectID = sub.ID
	return next, *sub, []Event{ev}, nil
}

// ReviewDocument applies the active tier's decision on one submission.
func (eng *Engine) ReviewDocument(snap Snapshot, actor Actor, submissionID string, decision ReviewDecision, notes string) (Snapshot, Submission, []Event, error) {
	rec := snap.Record
	if rec.Status.IsTerminal() {
		return snap, Submission{}, nil, newError(ErrTerminalState, "modality is %s", rec.Status)
	}
	window, ok := reviewWindows[rec.Status]
	if !ok {
		return snap, Submission{}, nil, newError(ErrInvalidTransition, "documents cannot be reviewed while %s", rec.Status)
	}
	if actor.Role != window.role {
		return snap, Submission{}, nil, newError(ErrUnauthorizedTransition, "%q cannot review documents while %s", actor.Role, rec.Status)
	}
	if window.tier == TierExaminer {
		if _, assigned := snap.assignmentOf(actor.ID); !assigned {
			return snap, Submission{}, nil, newError(ErrUnauthorizedTransition, "actor is not an examiner of this modality")
		}
	}
	i, ok := snap.submission(submissionID)
	if !ok {
		return snap, Submission{}, nil, newError(ErrNotFound, "submission %s", submissionID)
	}

	next := snap.clone()
	sub := &next.Submissions[i]
	now := eng.now()
	if err := sub.Review(window.tier, decision, notes, now); err != nil {
		return snap, Submission{}, nil, err
	}

	ev := newEvent(EventDocumentReviewed, next, actor, ActionReviewDocument, now)
	ev.SubjectID = sub.ID
	ev.Notes = sub.Notes
	return next, *sub, []Event{ev}, nil
}
