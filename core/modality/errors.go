package modality

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotFound                    = errors.New("not found")
	ErrUnauthorizedTransition      = errors.New("unauthorized transition")
	ErrInvalidTransition           = errors.New("invalid transition")
	ErrTerminalState               = errors.New("modality is in a terminal state")
	ErrIncompleteDocuments         = errors.New("incomplete documents")
	ErrMissingMandatoryReason      = errors.New("a reason is required")
	ErrDocumentLocked              = errors.New("document is locked")
	ErrInvalidPayload              = errors.New("invalid payload")
	ErrInvalidGrade                = errors.New("grade must be between 0.0 and 5.0")
	ErrInconsistentGradeDecision   = errors.New("grade and decision are inconsistent")
	ErrEvaluationExists            = errors.New("evaluation already submitted")
	ErrDuplicateExaminerAssignment = errors.New("duplicate examiner assignment")
	ErrInvitationCapacityExceeded  = errors.New("invitation capacity exceeded")
	ErrInvitationConflict          = errors.New("candidate already has a pending invitation")
	ErrInvitationsPending          = errors.New("invitations are still pending")
	ErrGroupTooSmall               = errors.New("a group needs at least 2 members")
	ErrActiveModalityExists        = errors.New("student already has an active modality")
	ErrStaleState                  = errors.New("stale state")
	ErrStorageUnavailable          = errors.New("storage unavailable")
)

// Error is a workflow failure. errors.Is matches it against its sentinel.
type Error struct {
	Err       error
	Msg       string
	Documents []string // unresolved required document ids, for ErrIncompleteDocuments
}

func newError(sentinel error, format string, args ...interface{}) *Error {
	return &Error{Err: sentinel, Msg: fmt.Sprintf(format, args...)}
}

func incompleteDocuments(msg string, docIDs []string) *Error {
	return &Error{Err: ErrIncompleteDocuments, Msg: msg, Documents: docIDs}
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Err.Error())
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if len(e.Documents) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(e.Documents, ", "))
		sb.WriteString("]")
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }
