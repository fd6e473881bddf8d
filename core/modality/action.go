package modality

import "time"

// Action is what an actor asks the status machine to do.
type Action string

const (
	ActionSubmit                Action = "submit"
	ActionApprove               Action = "approve"
	ActionRequestCorrections    Action = "request_corrections"
	ActionReject                Action = "reject"
	ActionSubmitCorrections     Action = "submit_corrections"
	ActionStartReview           Action = "start_review"
	ActionAssignDirector        Action = "assign_director"
	ActionProposeDefense        Action = "propose_defense"
	ActionRejectDefenseProposal Action = "reject_defense_proposal"
	ActionScheduleDefense       Action = "schedule_defense"
	ActionCompleteDefense       Action = "complete_defense"
	ActionApproveFinal          Action = "approve_final"
	ActionRejectFinal           Action = "reject_final"
	ActionClose                 Action = "close"
	ActionRequestCancellation   Action = "request_cancellation"
	ActionApproveCancellation   Action = "approve_cancellation"
	ActionRejectCancellation    Action = "reject_cancellation"

	// recorded in history only, never requested through Transition
	ActionStart              Action = "start"
	ActionInvite             Action = "invite"
	ActionRespondInvitation  Action = "respond_invitation"
	ActionConfirmGroup       Action = "confirm_group"
	ActionAbandonGroup       Action = "abandon_group"
	ActionAssignExaminers    Action = "assign_examiners"
	ActionSubmitEvaluation   Action = "submit_evaluation"
	ActionUploadDocument     Action = "upload_document"
	ActionReviewDocument     Action = "review_document"
	ActionCancellationDenied Action = "cancellation_rejected"
)

// Payload carries the action specific inputs.
type Payload struct {
	Notes      string    `json:"notes"`
	DirectorID string    `json:"director_id"`
	DefenseAt  time.Time `json:"defense_at"`
	Location   string    `json:"location"`
}
