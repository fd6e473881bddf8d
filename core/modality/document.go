package modality

import (
	"strings"
	"time"
)

// Tier is a sequential reviewing authority.
type Tier string

const (
	TierProgramHead Tier = "PROGRAM_HEAD"
	TierCommittee   Tier = "PROGRAM_CURRICULUM_COMMITTEE"
	TierExaminer    Tier = "EXAMINER"
)

// DocumentStatus is the review state of a submission at its current tier.
type DocumentStatus string

const (
	DocumentPending               DocumentStatus = "PENDING"
	DocumentCorrectionResubmitted DocumentStatus = "CORRECTION_RESUBMITTED"
)

func AcceptedFor(tier Tier) DocumentStatus {
	return DocumentStatus("ACCEPTED_FOR_" + string(tier) + "_REVIEW")
}

func RejectedFor(tier Tier) DocumentStatus {
	return DocumentStatus("REJECTED_FOR_" + string(tier) + "_REVIEW")
}

func CorrectionsRequestedBy(tier Tier) DocumentStatus {
	return DocumentStatus("CORRECTIONS_REQUESTED_BY_" + string(tier))
}

// ReviewDecision is a reviewer's verdict on a single document.
type ReviewDecision string

const (
	ReviewAccept             ReviewDecision = "accept"
	ReviewReject             ReviewDecision = "reject"
	ReviewRequestCorrections ReviewDecision = "request_corrections"
)

func (d ReviewDecision) Valid() bool {
	switch d {
	case ReviewAccept, ReviewReject, ReviewRequestCorrections:
		return true
	}
	return false
}

// Submission is a student's upload for one required document of a modality record.
type Submission struct {
	ID                 string         `json:"id"`
	ModalityID         string         `json:"modality_id"`
	RequiredDocumentID string         `json:"required_document_id"`
	Uploaded           bool           `json:"uploaded"`
	StorageRef         string         `json:"storage_ref,omitempty"`
	Tier               Tier           `json:"tier"`
	Status             DocumentStatus `json:"status"`
	Notes              string         `json:"notes,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Locked reports whether the submission reached a final outcome at its tier.
func (s Submission) Locked() bool {
	return s.Status == AcceptedFor(s.Tier) || s.Status == RejectedFor(s.Tier)
}

func (s Submission) Accepted() bool { return s.Status == AcceptedFor(s.Tier) }

func (s Submission) AwaitingCorrections() bool { return s.Status == CorrectionsRequestedBy(s.Tier) }

// Review applies a reviewer decision made at `tier`. On failure the submission is left unchanged.
func (s *Submission) Review(tier Tier, decision ReviewDecision, notes string, now time.Time) error {
	if !decision.Valid() {
		return newError(ErrInvalidPayload, "unknown review decision %q", decision)
	}
	if tier != s.Tier {
		return newError(ErrUnauthorizedTransition, "document is under %s review", s.Tier)
	}
	if s.Locked() {
		return newError(ErrDocumentLocked, "document is %s", s.Status)
	}
	if !s.Uploaded {
		return newError(ErrInvalidTransition, "document has not been uploaded")
	}
	if s.AwaitingCorrections() {
		return newError(ErrInvalidTransition, "document is awaiting corrections from the student")
	}
	notes = strings.TrimSpace(notes)
	if decision != ReviewAccept && notes == "" {
		return newError(ErrMissingMandatoryReason, "notes are required to %s a document", decision)
	}

	switch decision {
	case ReviewAccept:
		s.Status = AcceptedFor(tier)
	case ReviewReject:
		s.Status = RejectedFor(tier)
	case ReviewRequestCorrections:
		s.Status = CorrectionsRequestedBy(tier)
	}
	s.Notes = notes
	s.UpdatedAt = now
	return nil
}

// Upload records a (re)submission by the student. It never changes the modality status.
func (s *Submission) Upload(storageRef string, now time.Time) error {
	if strings.TrimSpace(storageRef) == "" {
		return newError(ErrInvalidPayload, "a storage reference is required")
	}
	if s.Locked() {
		return newError(ErrDocumentLocked, "document is %s", s.Status)
	}
	if s.AwaitingCorrections() {
		s.Status = DocumentCorrectionResubmitted
	}
	s.Uploaded = true
	s.StorageRef = storageRef
	s.UpdatedAt = now
	return nil
}

// reopen moves the submission to `tier`, waiting for review.
func (s *Submission) reopen(tier Tier, now time.Time) {
	s.Tier = tier
	s.Status = DocumentPending
	s.Notes = ""
	s.UpdatedAt = now
}
