package modality

import (
	"time"

	"github.com/trezcool/masomo-grad/core"
)

type (
	// ModalityType is a degree-completion path offered by the university (thesis, seminar...).
	ModalityType struct {
		ID                string             `json:"id"`
		Name              string             `json:"name"`
		Description       string             `json:"description"`
		RequiredDocuments []RequiredDocument `json:"required_documents"`
		CreatedAt         time.Time          `json:"created_at"`
	}

	RequiredDocument struct {
		ID                 string `json:"id"`
		ModalityTypeID     string `json:"modality_type_id"`
		Name               string `json:"name"`
		Mandatory          bool   `json:"mandatory"`
		ExaminerReviewable bool   `json:"examiner_reviewable"`
	}

	// Record is the unit of workflow state, shared by every member of a group.
	Record struct {
		ID                 string        `json:"id"`
		ModalityTypeID     string        `json:"modality_type_id"`
		ModalityTypeName   string        `json:"modality_type_name"`
		Status             Status        `json:"status"`
		PreviousStatus     Status        `json:"previous_status,omitempty"`
		IsGroup            bool          `json:"is_group"`
		MemberIDs          []string      `json:"member_ids"`
		ProjectDirectorID  string        `json:"project_director_id,omitempty"`
		DefenseAt          time.Time     `json:"defense_at"`
		DefenseLocation    string        `json:"defense_location,omitempty"`
		FinalGrade         float64       `json:"final_grade"`
		FinalDecision      GradeDecision `json:"final_decision,omitempty"`
		ClosureReason      string        `json:"closure_reason,omitempty"`
		CancellationReason string        `json:"cancellation_reason,omitempty"`
		Version            int           `json:"version"`
		CreatedAt          time.Time     `json:"created_at"`
		UpdatedAt          time.Time     `json:"updated_at"`
	}

	// Snapshot is everything the engine needs to decide on a record.
	Snapshot struct {
		Record      Record               `json:"record"`
		Type        ModalityType         `json:"type"`
		Submissions []Submission         `json:"submissions"`
		Assignments []ExaminerAssignment `json:"assignments"`
		Evaluations []Evaluation         `json:"evaluations"`
	}

	// Actor is the authenticated caller and the role they act with.
	Actor struct {
		ID   string
		Role string
	}

	InvitationStatus string

	// Invitation asks a student to join a DRAFT group record.
	Invitation struct {
		ID          string           `json:"id"`
		ModalityID  string           `json:"modality_id"`
		InviterID   string           `json:"inviter_id"`
		InviteeID   string           `json:"invitee_id"`
		Status      InvitationStatus `json:"status"`
		SentAt      time.Time        `json:"sent_at"`
		RespondedAt time.Time        `json:"responded_at"`
	}

	// HistoryEntry is one row of a record's audit trail.
	HistoryEntry struct {
		ID         string    `json:"id"`
		ModalityID string    `json:"modality_id"`
		ActorID    string    `json:"actor_id"`
		ActorRole  string    `json:"actor_role"`
		Action     Action    `json:"action"`
		FromStatus Status    `json:"from_status"`
		ToStatus   Status    `json:"to_status"`
		Notes      string    `json:"notes,omitempty"`
		CreatedAt  time.Time `json:"created_at"`
	}

	QueryFilter struct {
		Statuses       []Status `query:"status"`
		MemberID       string   `query:"member"`
		DirectorID     string   `query:"director"`
		ExaminerID     string   `query:"examiner"`
		ModalityTypeID string   `query:"type"`
	}

	InvitationFilter struct {
		ModalityID string
		InviteeID  string
		Statuses   []InvitationStatus
	}
)

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationRejected InvitationStatus = "REJECTED"
)

func (r Record) HasMember(userID string) bool {
	for _, id := range r.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Initiator is the student who started the record.
func (r Record) Initiator() string {
	if len(r.MemberIDs) == 0 {
		return ""
	}
	return r.MemberIDs[0]
}

func (t ModalityType) Document(id string) (RequiredDocument, bool) {
	for _, doc := range t.RequiredDocuments {
		if doc.ID == id {
			return doc, true
		}
	}
	return RequiredDocument{}, false
}

func (snap Snapshot) submission(id string) (int, bool) {
	for i, sub := range snap.Submissions {
		if sub.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (snap Snapshot) submissionFor(requiredDocID string) (int, bool) {
	for i, sub := range snap.Submissions {
		if sub.RequiredDocumentID == requiredDocID {
			return i, true
		}
	}
	return -1, false
}

func (snap Snapshot) assignmentOf(examinerID string) (ExaminerAssignment, bool) {
	for _, a := range snap.Assignments {
		if a.ExaminerID == examinerID {
			return a, true
		}
	}
	return ExaminerAssignment{}, false
}

// clone deep copies the slices so that a failed operation never touches the caller's snapshot.
func (snap Snapshot) clone() Snapshot {
	out := snap
	out.Record.MemberIDs = append([]string(nil), snap.Record.MemberIDs...)
	out.Submissions = append([]Submission(nil), snap.Submissions...)
	out.Assignments = append([]ExaminerAssignment(nil), snap.Assignments...)
	out.Evaluations = append([]Evaluation(nil), snap.Evaluations...)
	return out
}

// QueryOrderingFields are the record columns clients may order by.
var QueryOrderingFields = []string{"status", "created_at", "updated_at", "defense_at"}

func allowedOrderings(orderings []core.DBOrdering) []core.DBOrdering {
	return core.AllowedOrderings(orderings, QueryOrderingFields...)
}
