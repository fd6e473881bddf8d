package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-grad/core/modality"
	"github.com/trezcool/masomo-grad/core/user"
)

type (
	DB struct {
		user     *userTable
		modality *modalityTables
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	// modalityRow holds a record and everything owned by it.
	modalityRow struct {
		record      modality.Record
		submissions []modality.Submission
		assignments []modality.ExaminerAssignment
		evaluations []modality.Evaluation
		history     []modality.HistoryEntry
	}

	modalityTables struct {
		sync.RWMutex
		types       map[string]modality.ModalityType
		records     map[string]*modalityRow
		invitations map[string]modality.Invitation
		// per record locks, see modalityRepository.Atomic
		locks map[string]*sync.Mutex
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[string]*user.User)},
		modality: &modalityTables{
			types:       make(map[string]modality.ModalityType),
			records:     make(map[string]*modalityRow),
			invitations: make(map[string]modality.Invitation),
			locks:       make(map[string]*sync.Mutex),
		},
	}
}

func (row *modalityRow) clone() *modalityRow {
	out := *row
	out.record.MemberIDs = append([]string(nil), row.record.MemberIDs...)
	out.submissions = append([]modality.Submission(nil), row.submissions...)
	out.assignments = append([]modality.ExaminerAssignment(nil), row.assignments...)
	out.evaluations = append([]modality.Evaluation(nil), row.evaluations...)
	out.history = append([]modality.HistoryEntry(nil), row.history...)
	return &out
}
