package modality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatuses(t *testing.T) {
	statuses := Statuses()
	assert.Len(t, statuses, 19)

	var terminal []Status
	prev := -1
	for _, info := range statuses {
		assert.NotEmpty(t, info.Label, info.Status)
		assert.NotEmpty(t, info.Stage, info.Status)
		assert.GreaterOrEqual(t, info.Order, prev)
		prev = info.Order
		assert.Equal(t, info, info.Status.Info())
		if info.Terminal {
			terminal = append(terminal, info.Status)
		}
	}
	assert.Equal(t, []Status{StatusModalityClosed, StatusModalityCancelled, StatusCancelledWithoutReproval}, terminal)

	statuses[0].Label = "changed"
	assert.NotEqual(t, "changed", StatusDraft.Label())
}

func TestStatus_IsActive(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{status: StatusDraft, want: true},
		{status: StatusDefenseScheduled, want: true},
		{status: StatusCancellationRequested, want: true},
		{status: StatusGradedFailed, want: true},
		{status: StatusModalityClosed},
		{status: StatusCancelledWithoutReproval},
		{status: Status("ARCHIVED")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.IsActive(), tt.status)
	}
}

func TestStatus_examinationBegun(t *testing.T) {
	assert.False(t, StatusProposalApproved.examinationBegun())
	assert.False(t, StatusDefenseRequestedByProjectDirector.examinationBegun())
	assert.True(t, StatusDefenseScheduled.examinationBegun())
}
