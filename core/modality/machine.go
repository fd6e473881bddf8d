package modality

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-grad/core"
)

type AgreementPolicy string

const (
	// AgreementCategory collapses every APPROVED_* decision into one category.
	AgreementCategory AgreementPolicy = "category"
	AgreementStrict   AgreementPolicy = "strict"
)

// EngineConfig holds the pluggable workflow policies.
type EngineConfig struct {
	RejectPolicy             RejectPolicy
	SimplifiedModalities     []string
	AgreementPolicy          AgreementPolicy
	CancellationFallbackRole string
	Now                      func() time.Time
	NewID                    func() string
}

// NewEngineConfig reads the workflow section of the app config.
func NewEngineConfig(conf *core.Config) (EngineConfig, error) {
	policy, err := LoadRejectPolicyFile(conf.Workflow.PolicyFile)
	if err != nil {
		return EngineConfig{}, err
	}
	return EngineConfig{
		RejectPolicy:             policy,
		SimplifiedModalities:     conf.Workflow.SimplifiedModalities,
		AgreementPolicy:          AgreementPolicy(conf.Workflow.AgreementPolicy),
		CancellationFallbackRole: conf.Workflow.CancellationFallbackRole,
	}, nil
}

// Engine is the stateless modality workflow: every method takes a Snapshot and
// returns the next one, without touching the input.
type Engine struct {
	conf    EngineConfig
	rules   []Rule
	byKey   map[transitionKey][]Rule
	actions map[Status]map[Action]bool
}

func NewEngine(conf EngineConfig) *Engine {
	if conf.RejectPolicy == nil {
		conf.RejectPolicy = DefaultRejectPolicy()
	}
	if conf.AgreementPolicy == "" {
		conf.AgreementPolicy = AgreementCategory
	}
	if conf.CancellationFallbackRole == "" {
		conf.CancellationFallbackRole = committee
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	if conf.NewID == nil {
		conf.NewID = func() string { return uuid.New().String() }
	}

	eng := &Engine{
		conf:    conf,
		byKey:   make(map[transitionKey][]Rule),
		actions: make(map[Status]map[Action]bool),
	}
	for _, rule := range baseRules(conf.CancellationFallbackRole) {
		if rule.target == policyTarget {
			if to, ok := conf.RejectPolicy[PolicyKey{From: rule.From, Action: rule.Action}]; ok {
				rule.To = to
			}
		}
		eng.rules = append(eng.rules, rule)
		key := transitionKey{From: rule.From, Role: rule.Role, Action: rule.Action}
		eng.byKey[key] = append(eng.byKey[key], rule)
		if eng.actions[rule.From] == nil {
			eng.actions[rule.From] = make(map[Action]bool)
		}
		eng.actions[rule.From][rule.Action] = true
	}
	sortRules(eng.rules)
	return eng
}

// Rules returns the transition table in lifecycle order.
func (eng *Engine) Rules() []Rule {
	return append([]Rule(nil), eng.rules...)
}

func (eng *Engine) now() time.Time { return eng.conf.Now().UTC() }
func (eng *Engine) newID() string  { return eng.conf.NewID() }

// IsSimplified matches the type name, both ways, against the configured simplified modalities.
func (eng *Engine) IsSimplified(typeName string) bool {
	name := strings.ToLower(strings.TrimSpace(typeName))
	if name == "" {
		return false
	}
	for _, simplified := range eng.conf.SimplifiedModalities {
		simplified = strings.ToLower(strings.TrimSpace(simplified))
		if simplified == "" {
			continue
		}
		if strings.Contains(name, simplified) || strings.Contains(simplified, name) {
			return true
		}
	}
	return false
}

// AvailableActions lists the actions the actor may attempt on the record right now.
func (eng *Engine) AvailableActions(snap Snapshot, actor Actor) []Action {
	if snap.Record.Status == StatusDraft {
		if checkDraftInitiator(snap.Record, actor) != nil {
			return nil
		}
		return []Action{ActionAbandonGroup, ActionConfirmGroup, ActionInvite}
	}

	var actions []Action
	for _, rule := range eng.rules {
		if rule.From == snap.Record.Status && rule.Role == actor.Role && eng.identityMatches(rule, snap.Record, actor) {
			if rule.simplifiedOnly && !eng.IsSimplified(snap.Record.ModalityTypeName) {
				continue
			}
			actions = append(actions, rule.Action)
		}
	}
	return actions
}

func (eng *Engine) identityMatches(rule Rule, rec Record, actor Actor) bool {
	switch rule.who {
	case member:
		return rec.HasMember(actor.ID)
	case assignedDirector:
		return rec.ProjectDirectorID != "" && rec.ProjectDirectorID == actor.ID
	case withoutDirector:
		return rec.ProjectDirectorID == ""
	}
	return true
}

// lookup applies the check order: terminal, unknown transition, role/identity.
func (eng *Engine) lookup(rec Record, actor Actor, action Action) (Rule, error) {
	if rec.Status.IsTerminal() {
		return Rule{}, newError(ErrTerminalState, "modality is %s", rec.Status)
	}
	if !eng.actions[rec.Status][action] {
		return Rule{}, newError(ErrInvalidTransition, "cannot %s a modality in status %s", action, rec.Status)
	}
	for _, rule := range eng.byKey[transitionKey{From: rec.Status, Role: actor.Role, Action: action}] {
		if eng.identityMatches(rule, rec, actor) {
			return rule, nil
		}
	}
	return Rule{}, newError(ErrUnauthorizedTransition, "%q cannot %s a modality in status %s", actor.Role, action, rec.Status)
}

// Transition applies a role action to the snapshot.
// A failed transition returns the error and leaves snap untouched.
func (eng *Engine) Transition(snap Snapshot, actor Actor, action Action, payload Payload) (Snapshot, []Event, error) {
	rule, err := eng.lookup(snap.Record, actor, action)
	if err != nil {
		return snap, nil, err
	}
	if rule.simplifiedOnly && !eng.IsSimplified(snap.Record.ModalityTypeName) {
		return snap, nil, newError(ErrInvalidTransition, "%s is reserved to simplified modalities", action)
	}

	notes := strings.TrimSpace(payload.Notes)
	if rule.needsNotes && notes == "" {
		return snap, nil, newError(ErrMissingMandatoryReason, "notes are required to %s", action)
	}
	if err := eng.checkGate(snap, rule); err != nil {
		return snap, nil, err
	}

	now := eng.now()
	next := snap.clone()
	rec := &next.Record
	from := rec.Status

	var events []Event
	switch action {
	case ActionAssignDirector:
		if err := eng.assignDirector(next, payload.DirectorID); err != nil {
			return snap, nil, err
		}
		rec.ProjectDirectorID = payload.DirectorID
		ev := newEvent(EventDirectorAssigned, next, actor, action, now)
		ev.SubjectID = payload.DirectorID
		events = append(events, ev)
	case ActionProposeDefense:
		location := strings.TrimSpace(payload.Location)
		if payload.DefenseAt.IsZero() || !payload.DefenseAt.After(now) || location == "" {
			return snap, nil, newError(ErrInvalidPayload, "a future defense date and a location are required")
		}
		rec.DefenseAt = payload.DefenseAt.UTC()
		rec.DefenseLocation = location
	case ActionRejectDefenseProposal:
		rec.DefenseAt = time.Time{}
		rec.DefenseLocation = ""
	case ActionRequestCancellation:
		rec.PreviousStatus = from
		rec.CancellationReason = notes
	case ActionRejectCancellation:
		rec.PreviousStatus = ""
		rec.CancellationReason = ""
	case ActionApproveFinal:
		rec.FinalDecision = DecisionApprovedNoDistinction
	case ActionRejectFinal:
		rec.FinalDecision = DecisionRejected
	}

	to := eng.resolveTarget(rule, snap.Record)
	if err := eng.enter(&next, from, to, now); err != nil {
		return snap, nil, err
	}
	if to.IsTerminal() && notes != "" {
		rec.ClosureReason = notes
	}
	if action == ActionRejectFinal {
		rec.ClosureReason = notes
	}

	if from != to {
		rec.Status = to
		if action == ActionRejectCancellation {
			events = append(events, statusEvent(EventCancellationRejected, next, actor, action, now, from, notes))
		}
		events = append(events, statusEvent(EventStatusChanged, next, actor, action, now, from, notes))
	}
	rec.UpdatedAt = now
	return next, events, nil
}

func (eng *Engine) resolveTarget(rule Rule, rec Record) Status {
	switch rule.target {
	case previousTarget:
		return rec.PreviousStatus
	case cancellationTarget:
		if rec.PreviousStatus.examinationBegun() {
			return StatusModalityCancelled
		}
		return StatusCancelledWithoutReproval
	case sameTarget:
		return rule.From
	}
	return rule.To
}

// enter applies the side effects of reaching `to` on the document tiers.
func (eng *Engine) enter(snap *Snapshot, from, to Status, now time.Time) error {
	if !to.Valid() || to == StatusDraft {
		return newError(ErrInvalidTransition, "cannot move to status %q", to)
	}
	switch {
	case from == StatusUnderReviewProgramHead && to == StatusReadyForCommittee:
		for i := range snap.Submissions {
			snap.Submissions[i].reopen(TierCommittee, now)
		}
	case from == StatusUnderReviewCommittee && to == StatusProposalApproved:
		for i, sub := range snap.Submissions {
			if doc, ok := snap.Type.Document(sub.RequiredDocumentID); ok && doc.ExaminerReviewable {
				snap.Submissions[i].reopen(TierExaminer, now)
			}
		}
	case to == StatusModalitySelected && from.Info().Stage != StageCancellation:
		// a rejection sending the student back to the start
		for i := range snap.Submissions {
			snap.Submissions[i].reopen(TierProgramHead, now)
		}
	}
	return nil
}

func (eng *Engine) assignDirector(snap Snapshot, directorID string) error {
	if strings.TrimSpace(directorID) == "" {
		return newError(ErrInvalidPayload, "director_id is required")
	}
	if snap.Record.HasMember(directorID) {
		return newError(ErrInvalidPayload, "a member cannot direct their own modality")
	}
	if _, ok := snap.assignmentOf(directorID); ok {
		return newError(ErrDuplicateExaminerAssignment, "the project director cannot be an examiner")
	}
	return nil
}

func (eng *Engine) checkGate(snap Snapshot, rule Rule) error {
	var missing []string
	switch rule.gate {
	case gateUploaded:
		for _, doc := range snap.Type.RequiredDocuments {
			if !doc.Mandatory {
				continue
			}
			if i, ok := snap.submissionFor(doc.ID); !ok || !snap.Submissions[i].Uploaded {
				missing = append(missing, doc.ID)
			}
		}
		if len(missing) > 0 {
			return incompleteDocuments("mandatory documents are not uploaded", missing)
		}
	case gateAccepted, gateExaminerDocs:
		for _, doc := range snap.Type.RequiredDocuments {
			if !doc.Mandatory || (rule.gate == gateExaminerDocs && !doc.ExaminerReviewable) {
				continue
			}
			i, ok := snap.submissionFor(doc.ID)
			if !ok || snap.Submissions[i].Status != AcceptedFor(rule.tier) {
				missing = append(missing, doc.ID)
			}
		}
		if len(missing) > 0 {
			return incompleteDocuments("mandatory documents are not accepted for "+string(rule.tier)+" review", missing)
		}
	case gateCorrected:
		for _, sub := range snap.Submissions {
			if sub.Status == CorrectionsRequestedBy(rule.tier) {
				missing = append(missing, sub.RequiredDocumentID)
			}
		}
		if len(missing) > 0 {
			return incompleteDocuments("documents are still awaiting corrections", missing)
		}
	case gatePanel:
		if eng.IsSimplified(snap.Record.ModalityTypeName) {
			return nil
		}
		if err := ValidatePanel(snap.Record.ProjectDirectorID, snap.Assignments); err != nil {
			return err
		}
	}
	return nil
}
