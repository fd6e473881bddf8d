package inmemdb

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-grad/core"
	"github.com/trezcool/masomo-grad/core/modality"
)

type modalityRepository struct {
	db *modalityTables
	// locked is the record held by the enclosing Atomic call, if any
	locked string
}

var _ modality.Repository = (*modalityRepository)(nil) // interface compliance check

func NewModalityRepository(db *DB) modality.Repository {
	return &modalityRepository{db: db.modality}
}

func (repo *modalityRepository) CreateType(_ context.Context, typ modality.ModalityType) (modality.ModalityType, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, t := range repo.db.types {
		if strings.EqualFold(t.Name, typ.Name) {
			return modality.ModalityType{}, core.NewValidationError(
				errors.New("a modality type with this name already exists"),
				core.FieldError{Field: "name", Error: "a modality type with this name already exists"},
			)
		}
	}
	typ.RequiredDocuments = append([]modality.RequiredDocument(nil), typ.RequiredDocuments...)
	repo.db.types[typ.ID] = typ
	return typ, nil
}

func (repo *modalityRepository) GetType(_ context.Context, id string) (modality.ModalityType, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	typ, ok := repo.db.types[id]
	if !ok {
		return modality.ModalityType{}, errors.Wrapf(modality.ErrNotFound, "modality type %s", id)
	}
	return typ, nil
}

func (repo *modalityRepository) QueryTypes(_ context.Context) ([]modality.ModalityType, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	types := make([]modality.ModalityType, 0, len(repo.db.types))
	for _, typ := range repo.db.types {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	return types, nil
}

func (repo *modalityRepository) CreateModality(_ context.Context, snap modality.Snapshot) (modality.Snapshot, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.records[snap.Record.ID]; ok {
		return modality.Snapshot{}, errors.Errorf("modality %s already exists", snap.Record.ID)
	}
	snap.Record.Version = 1
	row := &modalityRow{record: snap.Record, submissions: snap.Submissions}
	repo.db.records[snap.Record.ID] = row.clone()
	return repo.snapshot(row), nil
}

// snapshot must be called with the tables locked.
func (repo *modalityRepository) snapshot(row *modalityRow) modality.Snapshot {
	row = row.clone()
	return modality.Snapshot{
		Record:      row.record,
		Type:        repo.db.types[row.record.ModalityTypeID],
		Submissions: row.submissions,
		Assignments: row.assignments,
		Evaluations: row.evaluations,
	}
}

func (repo *modalityRepository) GetSnapshot(_ context.Context, id string) (modality.Snapshot, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	row, ok := repo.db.records[id]
	if !ok {
		return modality.Snapshot{}, errors.Wrapf(modality.ErrNotFound, "modality %s", id)
	}
	return repo.snapshot(row), nil
}

func (repo *modalityRepository) QueryModalities(_ context.Context, filter *modality.QueryFilter, orderings ...core.DBOrdering) ([]modality.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter == nil {
		filter = &modality.QueryFilter{}
	}
	recs := make([]modality.Record, 0, len(repo.db.records))
	for _, row := range repo.db.records {
		if matchModality(row, filter) {
			recs = append(recs, row.clone().record)
		}
	}
	sortRecords(recs, orderings)
	return recs, nil
}

func matchModality(row *modalityRow, filter *modality.QueryFilter) bool {
	rec := row.record
	if len(filter.Statuses) > 0 {
		var found bool
		for _, s := range filter.Statuses {
			if rec.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.MemberID != "" && !rec.HasMember(filter.MemberID) {
		return false
	}
	if filter.DirectorID != "" && rec.ProjectDirectorID != filter.DirectorID {
		return false
	}
	if filter.ModalityTypeID != "" && rec.ModalityTypeID != filter.ModalityTypeID {
		return false
	}
	if filter.ExaminerID != "" {
		for _, a := range row.assignments {
			if a.ExaminerID == filter.ExaminerID {
				return true
			}
		}
		return false
	}
	return true
}

func sortRecords(recs []modality.Record, orderings []core.DBOrdering) {
	if len(orderings) == 0 {
		orderings = []core.DBOrdering{{Field: "created_at", Ascending: true}}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		for _, ord := range orderings {
			var c int
			switch ord.Field {
			case "status":
				c = strings.Compare(string(recs[i].Status), string(recs[j].Status))
			case "created_at":
				c = compareTimes(recs[i].CreatedAt, recs[j].CreatedAt)
			case "updated_at":
				c = compareTimes(recs[i].UpdatedAt, recs[j].UpdatedAt)
			case "defense_at":
				c = compareTimes(recs[i].DefenseAt, recs[j].DefenseAt)
			}
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return recs[i].ID < recs[j].ID
	})
}

func (repo *modalityRepository) HasActiveModality(_ context.Context, userID string) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, row := range repo.db.records {
		if row.record.HasMember(userID) && !row.record.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (repo *modalityRepository) UpdateModality(_ context.Context, rec modality.Record, expectedVersion int) (modality.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	row, ok := repo.db.records[rec.ID]
	if !ok {
		return modality.Record{}, errors.Wrapf(modality.ErrNotFound, "modality %s", rec.ID)
	}
	if row.record.Version != expectedVersion {
		return modality.Record{}, errors.Wrapf(modality.ErrStaleState, "modality %s is at version %d, expected %d", rec.ID, row.record.Version, expectedVersion)
	}
	rec.Version = expectedVersion + 1
	rec.MemberIDs = append([]string(nil), rec.MemberIDs...)
	row.record = rec
	return rec, nil
}

func (repo *modalityRepository) SaveSubmissions(_ context.Context, subs ...modality.Submission) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, sub := range subs {
		row, ok := repo.db.records[sub.ModalityID]
		if !ok {
			return errors.Wrapf(modality.ErrNotFound, "modality %s", sub.ModalityID)
		}
		var updated bool
		for i := range row.submissions {
			if row.submissions[i].ID == sub.ID {
				row.submissions[i] = sub
				updated = true
				break
			}
		}
		if !updated {
			row.submissions = append(row.submissions, sub)
		}
	}
	return nil
}

func (repo *modalityRepository) ReplaceAssignments(_ context.Context, modalityID string, assignments []modality.ExaminerAssignment) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	row, ok := repo.db.records[modalityID]
	if !ok {
		return errors.Wrapf(modality.ErrNotFound, "modality %s", modalityID)
	}
	row.assignments = append([]modality.ExaminerAssignment(nil), assignments...)
	return nil
}

func (repo *modalityRepository) CreateEvaluation(_ context.Context, ev modality.Evaluation) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	row, ok := repo.db.records[ev.ModalityID]
	if !ok {
		return errors.Wrapf(modality.ErrNotFound, "modality %s", ev.ModalityID)
	}
	for _, e := range row.evaluations {
		if e.AssignmentID == ev.AssignmentID {
			return errors.Wrapf(modality.ErrEvaluationExists, "assignment %s", ev.AssignmentID)
		}
	}
	row.evaluations = append(row.evaluations, ev)
	return nil
}

func (repo *modalityRepository) CreateInvitation(_ context.Context, inv modality.Invitation) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if inv.Status == modality.InvitationPending {
		for _, other := range repo.db.invitations {
			if other.InviteeID == inv.InviteeID && other.Status == modality.InvitationPending {
				return errors.Wrapf(modality.ErrInvitationConflict, "candidate %s", inv.InviteeID)
			}
		}
	}
	repo.db.invitations[inv.ID] = inv
	return nil
}

func (repo *modalityRepository) GetInvitation(_ context.Context, id string) (modality.Invitation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	inv, ok := repo.db.invitations[id]
	if !ok {
		return modality.Invitation{}, errors.Wrapf(modality.ErrNotFound, "invitation %s", id)
	}
	return inv, nil
}

func (repo *modalityRepository) UpdateInvitations(_ context.Context, invs ...modality.Invitation) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, inv := range invs {
		if _, ok := repo.db.invitations[inv.ID]; !ok {
			return errors.Wrapf(modality.ErrNotFound, "invitation %s", inv.ID)
		}
		repo.db.invitations[inv.ID] = inv
	}
	return nil
}

func (repo *modalityRepository) QueryInvitations(_ context.Context, filter modality.InvitationFilter) ([]modality.Invitation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	statuses := make(map[modality.InvitationStatus]bool, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = true
	}

	var invs []modality.Invitation
	for _, inv := range repo.db.invitations {
		if filter.ModalityID != "" && inv.ModalityID != filter.ModalityID {
			continue
		}
		if filter.InviteeID != "" && inv.InviteeID != filter.InviteeID {
			continue
		}
		if len(statuses) > 0 && !statuses[inv.Status] {
			continue
		}
		invs = append(invs, inv)
	}
	sort.Slice(invs, func(i, j int) bool {
		if !invs[i].SentAt.Equal(invs[j].SentAt) {
			return invs[i].SentAt.Before(invs[j].SentAt)
		}
		return invs[i].ID < invs[j].ID
	})
	return invs, nil
}

func (repo *modalityRepository) AddHistory(_ context.Context, entries ...modality.HistoryEntry) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, entry := range entries {
		row, ok := repo.db.records[entry.ModalityID]
		if !ok {
			return errors.Wrapf(modality.ErrNotFound, "modality %s", entry.ModalityID)
		}
		row.history = append(row.history, entry)
	}
	return nil
}

func (repo *modalityRepository) QueryHistory(_ context.Context, modalityID string) ([]modality.HistoryEntry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	row, ok := repo.db.records[modalityID]
	if !ok {
		return nil, errors.Wrapf(modality.ErrNotFound, "modality %s", modalityID)
	}
	return append([]modality.HistoryEntry(nil), row.history...), nil
}

func (repo *modalityRepository) lockFor(id string) *sync.Mutex {
	repo.db.Lock()
	defer repo.db.Unlock()

	lock, ok := repo.db.locks[id]
	if !ok {
		lock = new(sync.Mutex)
		repo.db.locks[id] = lock
	}
	return lock
}

// Atomic serializes fn with a per record mutex. When fn fails, the record and its
// invitations are restored to what they were before the call.
func (repo *modalityRepository) Atomic(ctx context.Context, modalityID string, fn func(ctx context.Context, repo modality.Repository) error) error {
	if repo.locked == modalityID {
		return fn(ctx, repo)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := repo.lockFor(modalityID)
	lock.Lock()
	defer lock.Unlock()

	repo.db.RLock()
	var saved *modalityRow
	if row, ok := repo.db.records[modalityID]; ok {
		saved = row.clone()
	}
	var savedInvs []modality.Invitation
	for _, inv := range repo.db.invitations {
		if inv.ModalityID == modalityID {
			savedInvs = append(savedInvs, inv)
		}
	}
	repo.db.RUnlock()

	if err := fn(ctx, &modalityRepository{db: repo.db, locked: modalityID}); err != nil {
		repo.rollback(modalityID, saved, savedInvs)
		return err
	}
	return nil
}

func (repo *modalityRepository) rollback(modalityID string, saved *modalityRow, invs []modality.Invitation) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if saved != nil {
		repo.db.records[modalityID] = saved
	} else {
		delete(repo.db.records, modalityID)
	}
	for id, inv := range repo.db.invitations {
		if inv.ModalityID == modalityID {
			delete(repo.db.invitations, id)
		}
	}
	for _, inv := range invs {
		repo.db.invitations[inv.ID] = inv
	}
}
