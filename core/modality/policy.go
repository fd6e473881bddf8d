package modality

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/masomo-grad/core/user"
)

// who may act, on top of holding the rule's role
type identity int

const (
	anyone identity = iota
	member
	assignedDirector
	withoutDirector // any holder of the role, only while no director is assigned
)

type gate int

const (
	noGate gate = iota
	gateUploaded
	gateAccepted
	gateCorrected
	gatePanel
	gateExaminerDocs
)

// target resolved by the engine instead of a fixed status
type target int

const (
	fixedTarget target = iota
	policyTarget
	previousTarget
	cancellationTarget
	sameTarget
)

type transitionKey struct {
	From   Status
	Role   string
	Action Action
}

// Rule is one row of the transition table.
type Rule struct {
	From   Status
	Role   string
	Action Action
	To     Status

	who            identity
	target         target
	gate           gate
	tier           Tier
	needsNotes     bool
	simplifiedOnly bool
}

// Target describes where the rule leads.
func (r Rule) Target() string {
	switch r.target {
	case policyTarget:
		return fmt.Sprintf("%s (reject policy)", r.To)
	case previousTarget:
		return "previous status"
	case cancellationTarget:
		return fmt.Sprintf("%s | %s", StatusCancelledWithoutReproval, StatusModalityCancelled)
	case sameTarget:
		return string(r.From)
	}
	return string(r.To)
}

func (r Rule) Who() string {
	switch r.who {
	case member:
		return "member"
	case assignedDirector:
		return "assigned director"
	case withoutDirector:
		return "no director assigned"
	}
	return "any"
}

func (r Rule) NeedsNotes() bool { return r.needsNotes }

var committee = user.RoleCurriculumCommittee

// baseRules lists every role action. Cancellation requests are expanded per cancellable status.
func baseRules(fallbackRole string) []Rule {
	rules := []Rule{
		{From: StatusModalitySelected, Role: user.RoleStudent, Action: ActionSubmit, To: StatusUnderReviewProgramHead, who: member, gate: gateUploaded, tier: TierProgramHead},

		{From: StatusUnderReviewProgramHead, Role: user.RoleProgramHead, Action: ActionApprove, To: StatusReadyForCommittee, gate: gateAccepted, tier: TierProgramHead},
		{From: StatusUnderReviewProgramHead, Role: user.RoleProgramHead, Action: ActionRequestCorrections, To: StatusCorrectionsRequestedProgramHead, needsNotes: true},
		{From: StatusUnderReviewProgramHead, Role: user.RoleProgramHead, Action: ActionReject, To: StatusModalityClosed, target: policyTarget, needsNotes: true},
		{From: StatusCorrectionsRequestedProgramHead, Role: user.RoleStudent, Action: ActionSubmitCorrections, To: StatusUnderReviewProgramHead, who: member, gate: gateCorrected, tier: TierProgramHead},

		{From: StatusReadyForCommittee, Role: committee, Action: ActionStartReview, To: StatusUnderReviewCommittee},
		{From: StatusUnderReviewCommittee, Role: committee, Action: ActionApprove, To: StatusProposalApproved, gate: gateAccepted, tier: TierCommittee},
		{From: StatusUnderReviewCommittee, Role: committee, Action: ActionRequestCorrections, To: StatusCorrectionsRequestedByCommittee, needsNotes: true},
		{From: StatusUnderReviewCommittee, Role: committee, Action: ActionReject, To: StatusModalityClosed, target: policyTarget, needsNotes: true},
		{From: StatusCorrectionsRequestedByCommittee, Role: user.RoleStudent, Action: ActionSubmitCorrections, To: StatusUnderReviewCommittee, who: member, gate: gateCorrected, tier: TierCommittee},

		{From: StatusProposalApproved, Role: committee, Action: ActionAssignDirector, target: sameTarget},
		{From: StatusProposalApproved, Role: user.RoleProjectDirector, Action: ActionProposeDefense, To: StatusDefenseRequestedByProjectDirector, who: assignedDirector},
		{From: StatusDefenseRequestedByProjectDirector, Role: committee, Action: ActionRejectDefenseProposal, To: StatusProposalApproved, needsNotes: true},
		{From: StatusDefenseRequestedByProjectDirector, Role: committee, Action: ActionScheduleDefense, To: StatusDefenseScheduled, gate: gatePanel},
		{From: StatusDefenseScheduled, Role: committee, Action: ActionCompleteDefense, To: StatusDefenseCompleted, gate: gateExaminerDocs, tier: TierExaminer},

		{From: StatusGradedApproved, Role: committee, Action: ActionClose, To: StatusModalityClosed},
		{From: StatusGradedFailed, Role: committee, Action: ActionClose, To: StatusModalityClosed},

		{From: StatusCancellationRequested, Role: user.RoleProjectDirector, Action: ActionApproveCancellation, To: StatusCancellationApprovedByProjectDirector, who: assignedDirector},
		{From: StatusCancellationRequested, Role: user.RoleProjectDirector, Action: ActionRejectCancellation, target: previousTarget, who: assignedDirector, needsNotes: true},
		{From: StatusCancellationRequested, Role: fallbackRole, Action: ActionApproveCancellation, target: cancellationTarget, who: withoutDirector},
		{From: StatusCancellationRequested, Role: fallbackRole, Action: ActionRejectCancellation, target: previousTarget, who: withoutDirector, needsNotes: true},
		{From: StatusCancellationApprovedByProjectDirector, Role: committee, Action: ActionApproveCancellation, target: cancellationTarget},
		{From: StatusCancellationApprovedByProjectDirector, Role: committee, Action: ActionRejectCancellation, target: previousTarget, needsNotes: true},
	}

	for _, from := range []Status{StatusProposalApproved, StatusDefenseScheduled, StatusDefenseCompleted} {
		rules = append(rules,
			Rule{From: from, Role: committee, Action: ActionApproveFinal, To: StatusGradedApproved, simplifiedOnly: true},
			Rule{From: from, Role: committee, Action: ActionRejectFinal, To: StatusGradedFailed, simplifiedOnly: true, needsNotes: true},
		)
	}

	for _, info := range statusTable {
		if info.Status.cancellable() {
			rules = append(rules, Rule{
				From: info.Status, Role: user.RoleStudent, Action: ActionRequestCancellation,
				To: StatusCancellationRequested, who: member, needsNotes: true,
			})
		}
	}
	return rules
}

// RejectPolicy maps (from status, action) to the status reached by a rejection.
type RejectPolicy map[PolicyKey]Status

type PolicyKey struct {
	From   Status `yaml:"from"`
	Action Action `yaml:"action"`
}

// DefaultRejectPolicy closes the modality on any tier rejection.
func DefaultRejectPolicy() RejectPolicy {
	return RejectPolicy{
		{From: StatusUnderReviewProgramHead, Action: ActionReject}: StatusModalityClosed,
		{From: StatusUnderReviewCommittee, Action: ActionReject}:   StatusModalityClosed,
	}
}

type policyFile struct {
	Rules []struct {
		From   Status `yaml:"from"`
		Action Action `yaml:"action"`
		To     Status `yaml:"to"`
	} `yaml:"rules"`
}

// LoadRejectPolicy reads a YAML policy table and merges it over DefaultRejectPolicy.
//
//	rules:
//	  - from: UNDER_REVIEW_PROGRAM_HEAD
//	    action: reject
//	    to: MODALITY_SELECTED
func LoadRejectPolicy(r io.Reader) (RejectPolicy, error) {
	var file policyFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decoding reject policy")
	}

	policy := DefaultRejectPolicy()
	for i, rule := range file.Rules {
		key := PolicyKey{From: rule.From, Action: rule.Action}
		if _, ok := policy[key]; !ok {
			return nil, errors.Errorf("reject policy rule %d: (%s, %s) is not a policy driven transition", i, rule.From, rule.Action)
		}
		if !rule.To.Valid() || rule.To == StatusDraft {
			return nil, errors.Errorf("reject policy rule %d: invalid target status %q", i, rule.To)
		}
		policy[key] = rule.To
	}
	return policy, nil
}

// LoadRejectPolicyFile loads the policy at path, DefaultRejectPolicy when path is empty.
func LoadRejectPolicyFile(path string) (RejectPolicy, error) {
	if path == "" {
		return DefaultRejectPolicy(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening reject policy")
	}
	defer func() { _ = f.Close() }()
	return LoadRejectPolicy(f)
}

// sortRules orders rules by lifecycle then action, for listings.
func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		oi, oj := rules[i].From.Info().Order, rules[j].From.Info().Order
		if oi != oj {
			return oi < oj
		}
		if rules[i].From != rules[j].From {
			return rules[i].From < rules[j].From
		}
		return rules[i].Action < rules[j].Action
	})
}
