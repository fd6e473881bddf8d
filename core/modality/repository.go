package modality

import (
	"context"

	"github.com/trezcool/masomo-grad/core"
)

type Repository interface {
	CreateType(ctx context.Context, typ ModalityType) (ModalityType, error)
	GetType(ctx context.Context, id string) (ModalityType, error)
	QueryTypes(ctx context.Context) ([]ModalityType, error)

	// CreateModality persists a new record with its submissions, at version 1.
	CreateModality(ctx context.Context, snap Snapshot) (Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (Snapshot, error)
	// QueryModalities applies AND operation on available QueryFilter fields.
	QueryModalities(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]Record, error)
	// HasActiveModality reports whether the user is a member of a non terminal record.
	HasActiveModality(ctx context.Context, userID string) (bool, error)
	// UpdateModality stores rec only if the stored version is still expectedVersion,
	// and returns it with the bumped version. Otherwise it fails with ErrStaleState.
	UpdateModality(ctx context.Context, rec Record, expectedVersion int) (Record, error)
	// SaveSubmissions inserts or updates submissions by ID.
	SaveSubmissions(ctx context.Context, subs ...Submission) error
	ReplaceAssignments(ctx context.Context, modalityID string, assignments []ExaminerAssignment) error
	CreateEvaluation(ctx context.Context, ev Evaluation) error

	CreateInvitation(ctx context.Context, inv Invitation) error
	GetInvitation(ctx context.Context, id string) (Invitation, error)
	UpdateInvitations(ctx context.Context, invs ...Invitation) error
	QueryInvitations(ctx context.Context, filter InvitationFilter) ([]Invitation, error)

	AddHistory(ctx context.Context, entries ...HistoryEntry) error
	// QueryHistory returns the audit trail of a record, oldest first.
	QueryHistory(ctx context.Context, modalityID string) ([]HistoryEntry, error)

	// Atomic runs fn with exclusive access to the record: concurrent calls on the same
	// modalityID are serialized, and fn's writes are all-or-nothing where the store allows it.
	Atomic(ctx context.Context, modalityID string, fn func(ctx context.Context, repo Repository) error) error
}
