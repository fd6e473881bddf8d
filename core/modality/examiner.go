package modality

import (
	"math"
	"strings"
	"time"

	"github.com/trezcool/masomo-grad/core/user"
)

type ExaminerRole string

const (
	ExaminerPrimary1   ExaminerRole = "PRIMARY_1"
	ExaminerPrimary2   ExaminerRole = "PRIMARY_2"
	ExaminerTiebreaker ExaminerRole = "TIEBREAKER"
)

func (r ExaminerRole) Valid() bool {
	return r == ExaminerPrimary1 || r == ExaminerPrimary2 || r == ExaminerTiebreaker
}

func (r ExaminerRole) primary() bool { return r == ExaminerPrimary1 || r == ExaminerPrimary2 }

type GradeDecision string

const (
	DecisionRejected              GradeDecision = "REJECTED"
	DecisionApprovedNoDistinction GradeDecision = "APPROVED_NO_DISTINCTION"
	DecisionApprovedMeritorious   GradeDecision = "APPROVED_MERITORIOUS"
	DecisionApprovedLaureate      GradeDecision = "APPROVED_LAUREATE"
)

var decisionRanks = map[GradeDecision]int{
	DecisionRejected:              0,
	DecisionApprovedNoDistinction: 1,
	DecisionApprovedMeritorious:   2,
	DecisionApprovedLaureate:      3,
}

func (d GradeDecision) Approved() bool { return d != DecisionRejected && d.Valid() }

func (d GradeDecision) Valid() bool {
	_, ok := decisionRanks[d]
	return ok
}

type (
	ExaminerAssignment struct {
		ID         string       `json:"id"`
		ModalityID string       `json:"modality_id"`
		ExaminerID string       `json:"examiner_id"`
		Role       ExaminerRole `json:"role"`
		AssignedAt time.Time    `json:"assigned_at"`
	}

	// Evaluation is immutable once recorded.
	Evaluation struct {
		ID           string        `json:"id"`
		AssignmentID string        `json:"assignment_id"`
		ModalityID   string        `json:"modality_id"`
		ExaminerID   string        `json:"examiner_id"`
		Role         ExaminerRole  `json:"role"`
		Grade        float64       `json:"grade"`
		Decision     GradeDecision `json:"decision"`
		Observations string        `json:"observations"`
		SubmittedAt  time.Time     `json:"submitted_at"`
	}

	NewEvaluation struct {
		Grade        float64       `json:"grade"`
		Decision     GradeDecision `json:"decision"`
		Observations string        `json:"observations"`
	}

	// Outcome is the result of aggregating a panel's evaluations.
	Outcome struct {
		Status   Status
		Decision GradeDecision
		Grade    float64
	}
)

const (
	MinGrade = 0.0
	MaxGrade = 5.0
)

// DecisionForGrade maps a grade to the only decision consistent with it.
func DecisionForGrade(grade float64) (GradeDecision, error) {
	if math.IsNaN(grade) || grade < MinGrade || grade > MaxGrade {
		return "", newError(ErrInvalidGrade, "got %v", grade)
	}
	switch {
	case grade < 3.0:
		return DecisionRejected, nil
	case grade < 4.0:
		return DecisionApprovedNoDistinction, nil
	case grade < 4.5:
		return DecisionApprovedMeritorious, nil
	}
	return DecisionApprovedLaureate, nil
}

func CheckGradeDecision(grade float64, decision GradeDecision) error {
	want, err := DecisionForGrade(grade)
	if err != nil {
		return err
	}
	if decision != want {
		return newError(ErrInconsistentGradeDecision, "grade %.2f requires %s, got %q", grade, want, decision)
	}
	return nil
}

// ValidatePanel checks the panel composition against the project director.
func ValidatePanel(directorID string, assignments []ExaminerAssignment) error {
	roles := make(map[ExaminerRole]int, 3)
	people := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		if !a.Role.Valid() {
			return newError(ErrInvalidPayload, "unknown examiner role %q", a.Role)
		}
		if strings.TrimSpace(a.ExaminerID) == "" {
			return newError(ErrInvalidPayload, "examiner_id is required")
		}
		if directorID != "" && a.ExaminerID == directorID {
			return newError(ErrDuplicateExaminerAssignment, "the project director cannot be an examiner")
		}
		if people[a.ExaminerID] {
			return newError(ErrDuplicateExaminerAssignment, "examiner %s holds more than one role", a.ExaminerID)
		}
		people[a.ExaminerID] = true
		roles[a.Role]++
		if roles[a.Role] > 1 {
			return newError(ErrDuplicateExaminerAssignment, "more than one %s", a.Role)
		}
	}
	if roles[ExaminerPrimary1] != 1 || roles[ExaminerPrimary2] != 1 {
		return newError(ErrInvalidPayload, "%s and %s are both required", ExaminerPrimary1, ExaminerPrimary2)
	}
	return nil
}

func agree(policy AgreementPolicy, d1, d2 GradeDecision) bool {
	if policy == AgreementStrict {
		return d1 == d2
	}
	return d1.Approved() == d2.Approved()
}

// Aggregate derives the panel outcome. ok is false while evaluations are missing.
func Aggregate(policy AgreementPolicy, evaluations []Evaluation) (outcome Outcome, ok bool) {
	var p1, p2, tb *Evaluation
	for i := range evaluations {
		switch evaluations[i].Role {
		case ExaminerPrimary1:
			p1 = &evaluations[i]
		case ExaminerPrimary2:
			p2 = &evaluations[i]
		case ExaminerTiebreaker:
			tb = &evaluations[i]
		}
	}

	if tb != nil {
		return graded(tb.Decision, tb.Grade), true
	}
	if p1 == nil || p2 == nil {
		return Outcome{}, false
	}
	if !agree(policy, p1.Decision, p2.Decision) {
		return Outcome{Status: StatusDisagreementRequiresTiebreaker}, true
	}

	decision := p1.Decision
	if decisionRanks[p2.Decision] > decisionRanks[decision] {
		decision = p2.Decision
	}
	return graded(decision, math.Round((p1.Grade+p2.Grade)/2*100)/100), true
}

func graded(decision GradeDecision, grade float64) Outcome {
	status := StatusGradedFailed
	if decision.Approved() {
		status = StatusGradedApproved
	}
	return Outcome{Status: status, Decision: decision, Grade: grade}
}

// AssignExaminers sets the panel. While the examiners disagree, only a missing tiebreaker may be added.
func (eng *Engine) AssignExaminers(snap Snapshot, actor Actor, assignments []ExaminerAssignment) (Snapshot, []Event, error) {
	rec := snap.Record
	if rec.Status.IsTerminal() {
		return snap, nil, newError(ErrTerminalState, "modality is %s", rec.Status)
	}

	var panel []ExaminerAssignment
	switch rec.Status {
	case StatusProposalApproved, StatusDefenseRequestedByProjectDirector:
		if eng.IsSimplified(rec.ModalityTypeName) {
			return snap, nil, newError(ErrInvalidTransition, "simplified modalities have no examiner panel")
		}
	case StatusDisagreementRequiresTiebreaker:
		for _, a := range assignments {
			if a.Role != ExaminerTiebreaker {
				return snap, nil, newError(ErrInvalidTransition, "only a %s can be assigned once examiners disagree", ExaminerTiebreaker)
			}
		}
		panel = append(panel, snap.Assignments...)
	default:
		return snap, nil, newError(ErrInvalidTransition, "cannot assign examiners to a modality in status %s", rec.Status)
	}
	if actor.Role != committee {
		return snap, nil, newError(ErrUnauthorizedTransition, "%q cannot assign examiners", actor.Role)
	}

	now := eng.now()
	for _, a := range assignments {
		a.ID = eng.newID()
		a.ModalityID = rec.ID
		a.AssignedAt = now
		panel = append(panel, a)
	}
	if err := ValidatePanel(rec.ProjectDirectorID, panel); err != nil {
		return snap, nil, err
	}
	for _, a := range panel {
		if rec.HasMember(a.ExaminerID) {
			return snap, nil, newError(ErrDuplicateExaminerAssignment, "a member cannot examine their own modality")
		}
	}

	next := snap.clone()
	next.Assignments = panel
	next.Record.UpdatedAt = now
	return next, []Event{newEvent(EventExaminersAssigned, next, actor, ActionAssignExaminers, now)}, nil
}

// Evaluate records an examiner's evaluation and aggregates the panel, atomically on the snapshot.
func (eng *Engine) Evaluate(snap Snapshot, actor Actor, ne NewEvaluation) (Snapshot, Evaluation, []Event, error) {
	rec := snap.Record
	if rec.Status.IsTerminal() {
		return snap, Evaluation{}, nil, newError(ErrTerminalState, "modality is %s", rec.Status)
	}
	if rec.Status != StatusDefenseCompleted && rec.Status != StatusDisagreementRequiresTiebreaker {
		return snap, Evaluation{}, nil, newError(ErrInvalidTransition, "cannot evaluate a modality in status %s", rec.Status)
	}

	assignment, ok := snap.assignmentOf(actor.ID)
	if actor.Role != user.RoleExaminer || !ok {
		return snap, Evaluation{}, nil, newError(ErrUnauthorizedTransition, "actor is not an examiner of this modality")
	}
	if (rec.Status == StatusDefenseCompleted) != assignment.Role.primary() {
		return snap, Evaluation{}, nil, newError(ErrUnauthorizedTransition, "%s cannot evaluate a modality in status %s", assignment.Role, rec.Status)
	}
	if err := CheckGradeDecision(ne.Grade, ne.Decision); err != nil {
		return snap, Evaluation{}, nil, err
	}
	for _, ev := range snap.Evaluations {
		if ev.AssignmentID == assignment.ID {
			return snap, Evaluation{}, nil, newError(ErrEvaluationExists, "%s already evaluated", assignment.Role)
		}
	}

	now := eng.now()
	ev := Evaluation{
		ID:           eng.newID(),
		AssignmentID: assignment.ID,
		ModalityID:   rec.ID,
		ExaminerID:   actor.ID,
		Role:         assignment.Role,
		Grade:        ne.Grade,
		Decision:     ne.Decision,
		Observations: strings.TrimSpace(ne.Observations),
		SubmittedAt:  now,
	}

	next := snap.clone()
	next.Evaluations = append(next.Evaluations, ev)
	next.Record.UpdatedAt = now

	recorded := newEvent(EventEvaluationRecorded, next, actor, ActionSubmitEvaluation, now)
	recorded.SubjectID = ev.ID
	events := []Event{recorded}

	if outcome, decided := Aggregate(eng.conf.AgreementPolicy, next.Evaluations); decided && outcome.Status != rec.Status {
		next.Record.Status = outcome.Status
		next.Record.FinalDecision = outcome.Decision
		next.Record.FinalGrade = outcome.Grade
		events = append(events, statusEvent(EventStatusChanged, next, actor, ActionSubmitEvaluation, now, rec.Status, ""))
	}
	return next, ev, events, nil
}
