package modality

// Status is the lifecycle state of a modality record.
type Status string

const (
	StatusDraft            Status = "DRAFT"
	StatusModalitySelected Status = "MODALITY_SELECTED"

	StatusUnderReviewProgramHead          Status = "UNDER_REVIEW_PROGRAM_HEAD"
	StatusCorrectionsRequestedProgramHead Status = "CORRECTIONS_REQUESTED_PROGRAM_HEAD"

	StatusReadyForCommittee                 Status = "READY_FOR_PROGRAM_CURRICULUM_COMMITTEE"
	StatusUnderReviewCommittee              Status = "UNDER_REVIEW_PROGRAM_CURRICULUM_COMMITTEE"
	StatusCorrectionsRequestedByCommittee   Status = "CORRECTIONS_REQUESTED_PROGRAM_CURRICULUM_COMMITTEE"
	StatusProposalApproved                  Status = "PROPOSAL_APPROVED"
	StatusDefenseRequestedByProjectDirector Status = "DEFENSE_REQUESTED_BY_PROJECT_DIRECTOR"
	StatusDefenseScheduled                  Status = "DEFENSE_SCHEDULED"
	StatusDefenseCompleted                  Status = "DEFENSE_COMPLETED"
	StatusDisagreementRequiresTiebreaker    Status = "DISAGREEMENT_REQUIRES_TIEBREAKER"
	StatusGradedApproved                    Status = "GRADED_APPROVED"
	StatusGradedFailed                      Status = "GRADED_FAILED"

	StatusCancellationRequested                 Status = "CANCELLATION_REQUESTED"
	StatusCancellationApprovedByProjectDirector Status = "CANCELLATION_APPROVED_BY_PROJECT_DIRECTOR"

	StatusModalityClosed           Status = "MODALITY_CLOSED"
	StatusModalityCancelled        Status = "MODALITY_CANCELLED"
	StatusCancelledWithoutReproval Status = "CANCELLED_WITHOUT_REPROVAL"
)

// Stages group statuses by the authority currently holding the record.
const (
	StageFormation    = "formation"
	StageSelection    = "selection"
	StageProgramHead  = "program_head"
	StageCommittee    = "curriculum_committee"
	StageDefense      = "defense"
	StageEvaluation   = "evaluation"
	StageCancellation = "cancellation"
	StageClosed       = "closed"
)

// StatusInfo is the canonical metadata of a Status, shared by every consumer.
type StatusInfo struct {
	Status   Status `json:"status"`
	Label    string `json:"label"`
	Stage    string `json:"stage"`
	Order    int    `json:"order"`
	Terminal bool   `json:"terminal"`
}

var statusTable = []StatusInfo{
	{Status: StatusDraft, Label: "Group formation in progress", Stage: StageFormation, Order: 0},
	{Status: StatusModalitySelected, Label: "Modality selected", Stage: StageSelection, Order: 10},
	{Status: StatusUnderReviewProgramHead, Label: "Under review by the program head", Stage: StageProgramHead, Order: 20},
	{Status: StatusCorrectionsRequestedProgramHead, Label: "Corrections requested by the program head", Stage: StageProgramHead, Order: 21},
	{Status: StatusReadyForCommittee, Label: "Ready for the curriculum committee", Stage: StageCommittee, Order: 30},
	{Status: StatusUnderReviewCommittee, Label: "Under review by the curriculum committee", Stage: StageCommittee, Order: 31},
	{Status: StatusCorrectionsRequestedByCommittee, Label: "Corrections requested by the curriculum committee", Stage: StageCommittee, Order: 32},
	{Status: StatusProposalApproved, Label: "Proposal approved", Stage: StageDefense, Order: 40},
	{Status: StatusDefenseRequestedByProjectDirector, Label: "Defense requested by the project director", Stage: StageDefense, Order: 41},
	{Status: StatusDefenseScheduled, Label: "Defense scheduled", Stage: StageDefense, Order: 50},
	{Status: StatusDefenseCompleted, Label: "Defense completed", Stage: StageEvaluation, Order: 60},
	{Status: StatusDisagreementRequiresTiebreaker, Label: "Examiners disagree, tiebreaker required", Stage: StageEvaluation, Order: 61},
	{Status: StatusGradedApproved, Label: "Approved", Stage: StageEvaluation, Order: 70},
	{Status: StatusGradedFailed, Label: "Failed", Stage: StageEvaluation, Order: 70},
	{Status: StatusCancellationRequested, Label: "Cancellation requested", Stage: StageCancellation, Order: 80},
	{Status: StatusCancellationApprovedByProjectDirector, Label: "Cancellation approved by the project director", Stage: StageCancellation, Order: 81},
	{Status: StatusModalityClosed, Label: "Closed", Stage: StageClosed, Order: 90, Terminal: true},
	{Status: StatusModalityCancelled, Label: "Cancelled", Stage: StageClosed, Order: 90, Terminal: true},
	{Status: StatusCancelledWithoutReproval, Label: "Cancelled without reproval", Stage: StageClosed, Order: 90, Terminal: true},
}

var statusIndex = func() map[Status]StatusInfo {
	idx := make(map[Status]StatusInfo, len(statusTable))
	for _, info := range statusTable {
		idx[info.Status] = info
	}
	return idx
}()

// Statuses returns the metadata of every status, in lifecycle order.
func Statuses() []StatusInfo {
	out := make([]StatusInfo, len(statusTable))
	copy(out, statusTable)
	return out
}

func (s Status) Valid() bool {
	_, ok := statusIndex[s]
	return ok
}

func (s Status) Info() StatusInfo { return statusIndex[s] }
func (s Status) Label() string    { return statusIndex[s].Label }
func (s Status) IsTerminal() bool { return statusIndex[s].Terminal }

// IsActive reports whether a record in this status still occupies its members.
func (s Status) IsActive() bool { return s.Valid() && !s.IsTerminal() }

// cancellable statuses: every active status from selection up to a scheduled defense.
func (s Status) cancellable() bool {
	info, ok := statusIndex[s]
	if !ok || info.Stage == StageCancellation || info.Terminal || s == StatusDraft {
		return false
	}
	return info.Order <= statusIndex[StatusDefenseScheduled].Order
}

// examinationBegun reports whether a defense has been scheduled for a record in this status.
func (s Status) examinationBegun() bool {
	return statusIndex[s].Order >= statusIndex[StatusDefenseScheduled].Order
}
