package sqlxrepos

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-grad/core"
	"github.com/trezcool/masomo-grad/core/modality"
)

type (
	typeRow struct {
		ID          string    `db:"id"`
		Name        string    `db:"name"`
		Description string    `db:"description"`
		CreatedAt   time.Time `db:"created_at"`
	}

	requiredDocumentRow struct {
		ID                 string `db:"id"`
		ModalityTypeID     string `db:"modality_type_id"`
		Name               string `db:"name"`
		Mandatory          bool   `db:"mandatory"`
		ExaminerReviewable bool   `db:"examiner_reviewable"`
		Position           int    `db:"position"`
	}

	recordRow struct {
		ID                 string         `db:"id"`
		ModalityTypeID     string         `db:"modality_type_id"`
		ModalityTypeName   string         `db:"modality_type_name"`
		Status             string         `db:"status"`
		PreviousStatus     null.String    `db:"previous_status"`
		IsGroup            bool           `db:"is_group"`
		MemberIDs          pq.StringArray `db:"member_ids"`
		ProjectDirectorID  null.String    `db:"project_director_id"`
		DefenseAt          null.Time      `db:"defense_at"`
		DefenseLocation    null.String    `db:"defense_location"`
		FinalGrade         null.Float64   `db:"final_grade"`
		FinalDecision      null.String    `db:"final_decision"`
		ClosureReason      null.String    `db:"closure_reason"`
		CancellationReason null.String    `db:"cancellation_reason"`
		Version            int            `db:"version"`
		CreatedAt          time.Time      `db:"created_at"`
		UpdatedAt          time.Time      `db:"updated_at"`
	}

	submissionRow struct {
		ID                 string      `db:"id"`
		ModalityID         string      `db:"modality_id"`
		RequiredDocumentID string      `db:"required_document_id"`
		Uploaded           bool        `db:"uploaded"`
		StorageRef         null.String `db:"storage_ref"`
		Tier               string      `db:"tier"`
		Status             string      `db:"status"`
		Notes              null.String `db:"notes"`
		UpdatedAt          time.Time   `db:"updated_at"`
	}

	assignmentRow struct {
		ID         string    `db:"id"`
		ModalityID string    `db:"modality_id"`
		ExaminerID string    `db:"examiner_id"`
		Role       string    `db:"role"`
		AssignedAt time.Time `db:"assigned_at"`
	}

	evaluationRow struct {
		ID           string    `db:"id"`
		AssignmentID string    `db:"assignment_id"`
		ModalityID   string    `db:"modality_id"`
		ExaminerID   string    `db:"examiner_id"`
		Role         string    `db:"role"`
		Grade        float64   `db:"grade"`
		Decision     string    `db:"decision"`
		Observations string    `db:"observations"`
		SubmittedAt  time.Time `db:"submitted_at"`
	}

	invitationRow struct {
		ID          string    `db:"id"`
		ModalityID  string    `db:"modality_id"`
		InviterID   string    `db:"inviter_id"`
		InviteeID   string    `db:"invitee_id"`
		Status      string    `db:"status"`
		SentAt      time.Time `db:"sent_at"`
		RespondedAt null.Time `db:"responded_at"`
	}

	historyRow struct {
		ID         string      `db:"id"`
		ModalityID string      `db:"modality_id"`
		ActorID    string      `db:"actor_id"`
		ActorRole  string      `db:"actor_role"`
		Action     string      `db:"action"`
		FromStatus string      `db:"from_status"`
		ToStatus   string      `db:"to_status"`
		Notes      null.String `db:"notes"`
		CreatedAt  time.Time   `db:"created_at"`
	}
)

func nullString(s string) null.String { return null.NewString(s, s != "") }

func nullTime(t time.Time) null.Time { return null.NewTime(t.UTC(), !t.IsZero()) }

func toRecordRow(rec modality.Record) recordRow {
	return recordRow{
		ID:                 rec.ID,
		ModalityTypeID:     rec.ModalityTypeID,
		ModalityTypeName:   rec.ModalityTypeName,
		Status:             string(rec.Status),
		PreviousStatus:     nullString(string(rec.PreviousStatus)),
		IsGroup:            rec.IsGroup,
		MemberIDs:          pq.StringArray(rec.MemberIDs),
		ProjectDirectorID:  nullString(rec.ProjectDirectorID),
		DefenseAt:          nullTime(rec.DefenseAt),
		DefenseLocation:    nullString(rec.DefenseLocation),
		FinalGrade:         null.NewFloat64(rec.FinalGrade, rec.FinalDecision != ""),
		FinalDecision:      nullString(string(rec.FinalDecision)),
		ClosureReason:      nullString(rec.ClosureReason),
		CancellationReason: nullString(rec.CancellationReason),
		Version:            rec.Version,
		CreatedAt:          rec.CreatedAt.UTC(),
		UpdatedAt:          rec.UpdatedAt.UTC(),
	}
}

func (row recordRow) record() modality.Record {
	return modality.Record{
		ID:                 row.ID,
		ModalityTypeID:     row.ModalityTypeID,
		ModalityTypeName:   row.ModalityTypeName,
		Status:             modality.Status(row.Status),
		PreviousStatus:     modality.Status(row.PreviousStatus.String),
		IsGroup:            row.IsGroup,
		MemberIDs:          []string(row.MemberIDs),
		ProjectDirectorID:  row.ProjectDirectorID.String,
		DefenseAt:          row.DefenseAt.Time,
		DefenseLocation:    row.DefenseLocation.String,
		FinalGrade:         row.FinalGrade.Float64,
		FinalDecision:      modality.GradeDecision(row.FinalDecision.String),
		ClosureReason:      row.ClosureReason.String,
		CancellationReason: row.CancellationReason.String,
		Version:            row.Version,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

func toSubmissionRow(sub modality.Submission) submissionRow {
	return submissionRow{
		ID:                 sub.ID,
		ModalityID:         sub.ModalityID,
		RequiredDocumentID: sub.RequiredDocumentID,
		Uploaded:           sub.Uploaded,
		StorageRef:         nullString(sub.StorageRef),
		Tier:               string(sub.Tier),
		Status:             string(sub.Status),
		Notes:              nullString(sub.Notes),
		UpdatedAt:          sub.UpdatedAt.UTC(),
	}
}

func (row submissionRow) submission() modality.Submission {
	return modality.Submission{
		ID:                 row.ID,
		ModalityID:         row.ModalityID,
		RequiredDocumentID: row.RequiredDocumentID,
		Uploaded:           row.Uploaded,
		StorageRef:         row.StorageRef.String,
		Tier:               modality.Tier(row.Tier),
		Status:             modality.DocumentStatus(row.Status),
		Notes:              row.Notes.String,
		UpdatedAt:          row.UpdatedAt,
	}
}

func toAssignmentRow(a modality.ExaminerAssignment) assignmentRow {
	return assignmentRow{
		ID:         a.ID,
		ModalityID: a.ModalityID,
		ExaminerID: a.ExaminerID,
		Role:       string(a.Role),
		AssignedAt: a.AssignedAt.UTC(),
	}
}

func (row assignmentRow) assignment() modality.ExaminerAssignment {
	return modality.ExaminerAssignment{
		ID:         row.ID,
		ModalityID: row.ModalityID,
		ExaminerID: row.ExaminerID,
		Role:       modality.ExaminerRole(row.Role),
		AssignedAt: row.AssignedAt,
	}
}

func toEvaluationRow(ev modality.Evaluation) evaluationRow {
	return evaluationRow{
		ID:           ev.ID,
		AssignmentID: ev.AssignmentID,
		ModalityID:   ev.ModalityID,
		ExaminerID:   ev.ExaminerID,
		Role:         string(ev.Role),
		Grade:        ev.Grade,
		Decision:     string(ev.Decision),
		Observations: ev.Observations,
		SubmittedAt:  ev.SubmittedAt.UTC(),
	}
}

func (row evaluationRow) evaluation() modality.Evaluation {
	return modality.Evaluation{
		ID:           row.ID,
		AssignmentID: row.AssignmentID,
		ModalityID:   row.ModalityID,
		ExaminerID:   row.ExaminerID,
		Role:         modality.ExaminerRole(row.Role),
		Grade:        row.Grade,
		Decision:     modality.GradeDecision(row.Decision),
		Observations: row.Observations,
		SubmittedAt:  row.SubmittedAt,
	}
}

func toInvitationRow(inv modality.Invitation) invitationRow {
	return invitationRow{
		ID:          inv.ID,
		ModalityID:  inv.ModalityID,
		InviterID:   inv.InviterID,
		InviteeID:   inv.InviteeID,
		Status:      string(inv.Status),
		SentAt:      inv.SentAt.UTC(),
		RespondedAt: nullTime(inv.RespondedAt),
	}
}

func (row invitationRow) invitation() modality.Invitation {
	return modality.Invitation{
		ID:          row.ID,
		ModalityID:  row.ModalityID,
		InviterID:   row.InviterID,
		InviteeID:   row.InviteeID,
		Status:      modality.InvitationStatus(row.Status),
		SentAt:      row.SentAt,
		RespondedAt: row.RespondedAt.Time,
	}
}

const (
	recordColumns = `m.id, m.modality_type_id, t.name AS modality_type_name, m.status, m.previous_status,
		m.is_group, m.member_ids, m.project_director_id, m.defense_at, m.defense_location, m.final_grade,
		m.final_decision, m.closure_reason, m.cancellation_reason, m.version, m.created_at, m.updated_at`
	recordFrom          = ` FROM modality m JOIN modality_type t ON t.id = m.modality_type_id`
	submissionColumns   = `id, modality_id, required_document_id, uploaded, storage_ref, tier, status, notes, updated_at`
	invitationColumns   = `id, modality_id, inviter_id, invitee_id, status, sent_at, responded_at`
	historyColumns      = `id, modality_id, actor_id, actor_role, action, from_status, to_status, notes, created_at`
	documentColumns     = `id, modality_type_id, name, mandatory, examiner_reviewable, position`
	assignmentColumns   = `id, modality_id, examiner_id, role, assigned_at`
	evaluationColumns   = `id, assignment_id, modality_id, examiner_id, role, grade, decision, observations, submitted_at`
	pendingInviteeIndex = "invitation_pending_invitee_idx"
)

type modalityRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
	// locked is the record held by the enclosing Atomic transaction, if any
	locked string
}

var _ modality.Repository = (*modalityRepository)(nil) // interface compliance check

func NewModalityRepository(db *sqlx.DB) modality.Repository {
	return &modalityRepository{db: db, ext: db}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFound(what, id string) error {
	return errors.Wrapf(modality.ErrNotFound, "%s %s", what, id)
}

func (repo *modalityRepository) CreateType(ctx context.Context, typ modality.ModalityType) (modality.ModalityType, error) {
	err := repo.inTx(ctx, func(ext sqlx.ExtContext) error {
		row := typeRow{ID: typ.ID, Name: typ.Name, Description: typ.Description, CreatedAt: typ.CreatedAt.UTC()}
		q := `INSERT INTO modality_type (id, name, description, created_at) VALUES (:id, :name, :description, :created_at)`
		if _, err := sqlx.NamedExecContext(ctx, ext, q, row); err != nil {
			if isUniqueViolation(err, "modality_type_name_key") {
				msg := "a modality type with this name already exists"
				return core.NewValidationError(errors.New(msg), core.FieldError{Field: "name", Error: msg})
			}
			return wrapErr(err, "inserting modality type")
		}
		for i, doc := range typ.RequiredDocuments {
			docRow := requiredDocumentRow{
				ID:                 doc.ID,
				ModalityTypeID:     typ.ID,
				Name:               doc.Name,
				Mandatory:          doc.Mandatory,
				ExaminerReviewable: doc.ExaminerReviewable,
				Position:           i,
			}
			q := `INSERT INTO required_document (` + documentColumns + `)
				VALUES (:id, :modality_type_id, :name, :mandatory, :examiner_reviewable, :position)`
			if _, err := sqlx.NamedExecContext(ctx, ext, q, docRow); err != nil {
				return wrapErr(err, "inserting required document")
			}
		}
		return nil
	})
	if err != nil {
		return modality.ModalityType{}, err
	}
	return typ, nil
}

// inTx runs fn in a transaction, or in the enclosing Atomic one.
func (repo *modalityRepository) inTx(ctx context.Context, fn func(ext sqlx.ExtContext) error) error {
	if repo.locked != "" {
		return fn(repo.ext)
	}
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr(err, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return wrapErr(tx.Commit(), "committing transaction")
}

func (repo *modalityRepository) loadDocuments(ctx context.Context, typeIDs ...string) (map[string][]modality.RequiredDocument, error) {
	var rows []requiredDocumentRow
	q := `SELECT ` + documentColumns + ` FROM required_document WHERE modality_type_id::text = ANY($1) ORDER BY position`
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, q, pq.StringArray(typeIDs)); err != nil {
		return nil, wrapErr(err, "querying required documents")
	}
	docs := make(map[string][]modality.RequiredDocument, len(typeIDs))
	for _, row := range rows {
		docs[row.ModalityTypeID] = append(docs[row.ModalityTypeID], modality.RequiredDocument{
			ID:                 row.ID,
			ModalityTypeID:     row.ModalityTypeID,
			Name:               row.Name,
			Mandatory:          row.Mandatory,
			ExaminerReviewable: row.ExaminerReviewable,
		})
	}
	return docs, nil
}

func (repo *modalityRepository) GetType(ctx context.Context, id string) (modality.ModalityType, error) {
	if !validID(id) {
		return modality.ModalityType{}, notFound("modality type", id)
	}
	var row typeRow
	if err := sqlx.GetContext(ctx, repo.ext, &row, `SELECT id, name, description, created_at FROM modality_type WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return modality.ModalityType{}, notFound("modality type", id)
		}
		return modality.ModalityType{}, wrapErr(err, "finding modality type")
	}
	docs, err := repo.loadDocuments(ctx, id)
	if err != nil {
		return modality.ModalityType{}, err
	}
	return modality.ModalityType{
		ID:                row.ID,
		Name:              row.Name,
		Description:       row.Description,
		RequiredDocuments: docs[id],
		CreatedAt:         row.CreatedAt,
	}, nil
}

func (repo *modalityRepository) QueryTypes(ctx context.Context) ([]modality.ModalityType, error) {
	var rows []typeRow
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, `SELECT id, name, description, created_at FROM modality_type ORDER BY name`); err != nil {
		return nil, wrapErr(err, "querying modality types")
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	docs, err := repo.loadDocuments(ctx, ids...)
	if err != nil {
		return nil, err
	}
	types := make([]modality.ModalityType, 0, len(rows))
	for _, row := range rows {
		types = append(types, modality.ModalityType{
			ID:                row.ID,
			Name:              row.Name,
			Description:       row.Description,
			RequiredDocuments: docs[row.ID],
			CreatedAt:         row.CreatedAt,
		})
	}
	return types, nil
}

func (repo *modalityRepository) CreateModality(ctx context.Context, snap modality.Snapshot) (modality.Snapshot, error) {
	snap.Record.Version = 1
	err := repo.inTx(ctx, func(ext sqlx.ExtContext) error {
		q := `INSERT INTO modality (id, modality_type_id, status, previous_status, is_group, member_ids,
				project_director_id, defense_at, defense_location, final_grade, final_decision, closure_reason,
				cancellation_reason, version, created_at, updated_at)
			VALUES (:id, :modality_type_id, :status, :previous_status, :is_group, :member_ids,
				:project_director_id, :defense_at, :defense_location, :final_grade, :final_decision, :closure_reason,
				:cancellation_reason, :version, :created_at, :updated_at)`
		if _, err := sqlx.NamedExecContext(ctx, ext, q, toRecordRow(snap.Record)); err != nil {
			return wrapErr(err, "inserting modality")
		}
		return saveSubmissions(ctx, ext, snap.Submissions...)
	})
	if err != nil {
		return modality.Snapshot{}, err
	}
	return snap, nil
}

func (repo *modalityRepository) GetSnapshot(ctx context.Context, id string) (modality.Snapshot, error) {
	if !validID(id) {
		return modality.Snapshot{}, notFound("modality", id)
	}
	var row recordRow
	if err := sqlx.GetContext(ctx, repo.ext, &row, `SELECT `+recordColumns+recordFrom+` WHERE m.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return modality.Snapshot{}, notFound("modality", id)
		}
		return modality.Snapshot{}, wrapErr(err, "finding modality")
	}
	snap := modality.Snapshot{Record: row.record()}

	typ, err := repo.GetType(ctx, row.ModalityTypeID)
	if err != nil {
		return modality.Snapshot{}, err
	}
	snap.Type = typ

	var subs []submissionRow
	if err := sqlx.SelectContext(ctx, repo.ext, &subs, `SELECT `+submissionColumns+` FROM submission WHERE modality_id = $1`, id); err != nil {
		return modality.Snapshot{}, wrapErr(err, "querying submissions")
	}
	for _, sub := range subs {
		snap.Submissions = append(snap.Submissions, sub.submission())
	}

	var assignments []assignmentRow
	q := `SELECT ` + assignmentColumns + ` FROM examiner_assignment WHERE modality_id = $1 ORDER BY role`
	if err := sqlx.SelectContext(ctx, repo.ext, &assignments, q, id); err != nil {
		return modality.Snapshot{}, wrapErr(err, "querying examiner assignments")
	}
	for _, a := range assignments {
		snap.Assignments = append(snap.Assignments, a.assignment())
	}

	var evaluations []evaluationRow
	q = `SELECT ` + evaluationColumns + ` FROM evaluation WHERE modality_id = $1 ORDER BY submitted_at`
	if err := sqlx.SelectContext(ctx, repo.ext, &evaluations, q, id); err != nil {
		return modality.Snapshot{}, wrapErr(err, "querying evaluations")
	}
	for _, ev := range evaluations {
		snap.Evaluations = append(snap.Evaluations, ev.evaluation())
	}
	return snap, nil
}

func (repo *modalityRepository) QueryModalities(ctx context.Context, filter *modality.QueryFilter, orderings ...core.DBOrdering) ([]modality.Record, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter != nil {
		if len(filter.Statuses) > 0 {
			statuses := make(pq.StringArray, 0, len(filter.Statuses))
			for _, s := range filter.Statuses {
				statuses = append(statuses, string(s))
			}
			where = append(where, "m.status = ANY("+arg(statuses)+")")
		}
		if filter.MemberID != "" {
			where = append(where, arg(filter.MemberID)+"::uuid = ANY(m.member_ids)")
		}
		if filter.DirectorID != "" {
			where = append(where, "m.project_director_id::text = "+arg(filter.DirectorID))
		}
		if filter.ModalityTypeID != "" {
			where = append(where, "m.modality_type_id::text = "+arg(filter.ModalityTypeID))
		}
		if filter.ExaminerID != "" {
			where = append(where, "EXISTS (SELECT 1 FROM examiner_assignment a WHERE a.modality_id = m.id AND a.examiner_id::text = "+arg(filter.ExaminerID)+")")
		}
	}

	q := `SELECT ` + recordColumns + recordFrom
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += orderBy(orderings, "m", "m.created_at ASC")

	var rows []recordRow
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, q, args...); err != nil {
		return nil, wrapErr(err, "querying modalities")
	}
	recs := make([]modality.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, row.record())
	}
	return recs, nil
}

func terminalStatuses() pq.StringArray {
	var terminal pq.StringArray
	for _, info := range modality.Statuses() {
		if info.Terminal {
			terminal = append(terminal, string(info.Status))
		}
	}
	return terminal
}

func (repo *modalityRepository) HasActiveModality(ctx context.Context, userID string) (bool, error) {
	if !validID(userID) {
		return false, nil
	}
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM modality WHERE $1::uuid = ANY(member_ids) AND NOT (status = ANY($2)))`
	if err := sqlx.GetContext(ctx, repo.ext, &exists, q, userID, terminalStatuses()); err != nil {
		return false, wrapErr(err, "checking active modality")
	}
	return exists, nil
}

func (repo *modalityRepository) UpdateModality(ctx context.Context, rec modality.Record, expectedVersion int) (modality.Record, error) {
	row := toRecordRow(rec)
	q := `UPDATE modality SET status = $3, previous_status = $4, member_ids = $5, project_director_id = $6,
			defense_at = $7, defense_location = $8, final_grade = $9, final_decision = $10, closure_reason = $11,
			cancellation_reason = $12, updated_at = $13, is_group = $14, version = version + 1
		WHERE id = $1 AND version = $2`
	res, err := repo.ext.ExecContext(ctx, q,
		row.ID, expectedVersion, row.Status, row.PreviousStatus, row.MemberIDs, row.ProjectDirectorID,
		row.DefenseAt, row.DefenseLocation, row.FinalGrade, row.FinalDecision, row.ClosureReason,
		row.CancellationReason, row.UpdatedAt, row.IsGroup,
	)
	if err != nil {
		return modality.Record{}, wrapErr(err, "updating modality")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return modality.Record{}, wrapErr(err, "updating modality")
	}
	if n == 0 {
		var exists bool
		if err := sqlx.GetContext(ctx, repo.ext, &exists, `SELECT EXISTS (SELECT 1 FROM modality WHERE id = $1)`, rec.ID); err != nil {
			return modality.Record{}, wrapErr(err, "updating modality")
		}
		if !exists {
			return modality.Record{}, notFound("modality", rec.ID)
		}
		return modality.Record{}, errors.Wrapf(modality.ErrStaleState, "modality %s is no longer at version %d", rec.ID, expectedVersion)
	}
	rec.Version = expectedVersion + 1
	return rec, nil
}

func saveSubmissions(ctx context.Context, ext sqlx.ExtContext, subs ...modality.Submission) error {
	q := `INSERT INTO submission (` + submissionColumns + `)
		VALUES (:id, :modality_id, :required_document_id, :uploaded, :storage_ref, :tier, :status, :notes, :updated_at)
		ON CONFLICT (id) DO UPDATE SET uploaded = EXCLUDED.uploaded, storage_ref = EXCLUDED.storage_ref,
			tier = EXCLUDED.tier, status = EXCLUDED.status, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at`
	for _, sub := range subs {
		if _, err := sqlx.NamedExecContext(ctx, ext, q, toSubmissionRow(sub)); err != nil {
			return wrapErr(err, "saving submission")
		}
	}
	return nil
}

func (repo *modalityRepository) SaveSubmissions(ctx context.Context, subs ...modality.Submission) error {
	return repo.inTx(ctx, func(ext sqlx.ExtContext) error {
		return saveSubmissions(ctx, ext, subs...)
	})
}

func (repo *modalityRepository) ReplaceAssignments(ctx context.Context, modalityID string, assignments []modality.ExaminerAssignment) error {
	return repo.inTx(ctx, func(ext sqlx.ExtContext) error {
		if _, err := ext.ExecContext(ctx, `DELETE FROM examiner_assignment WHERE modality_id = $1`, modalityID); err != nil {
			return wrapErr(err, "deleting examiner assignments")
		}
		q := `INSERT INTO examiner_assignment (` + assignmentColumns + `) VALUES (:id, :modality_id, :examiner_id, :role, :assigned_at)`
		for _, a := range assignments {
			if _, err := sqlx.NamedExecContext(ctx, ext, q, toAssignmentRow(a)); err != nil {
				if isUniqueViolation(err, "") {
					return errors.Wrapf(modality.ErrDuplicateExaminerAssignment, "examiner %s", a.ExaminerID)
				}
				return wrapErr(err, "inserting examiner assignment")
			}
		}
		return nil
	})
}

func (repo *modalityRepository) CreateEvaluation(ctx context.Context, ev modality.Evaluation) error {
	q := `INSERT INTO evaluation (` + evaluationColumns + `)
		VALUES (:id, :assignment_id, :modality_id, :examiner_id, :role, :grade, :decision, :observations, :submitted_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.ext, q, toEvaluationRow(ev)); err != nil {
		if isUniqueViolation(err, "evaluation_assignment_id_key") {
			return errors.Wrapf(modality.ErrEvaluationExists, "assignment %s", ev.AssignmentID)
		}
		return wrapErr(err, "inserting evaluation")
	}
	return nil
}

func (repo *modalityRepository) CreateInvitation(ctx context.Context, inv modality.Invitation) error {
	q := `INSERT INTO invitation (` + invitationColumns + `)
		VALUES (:id, :modality_id, :inviter_id, :invitee_id, :status, :sent_at, :responded_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.ext, q, toInvitationRow(inv)); err != nil {
		if isUniqueViolation(err, pendingInviteeIndex) {
			return errors.Wrapf(modality.ErrInvitationConflict, "candidate %s", inv.InviteeID)
		}
		return wrapErr(err, "inserting invitation")
	}
	return nil
}

func (repo *modalityRepository) GetInvitation(ctx context.Context, id string) (modality.Invitation, error) {
	if !validID(id) {
		return modality.Invitation{}, notFound("invitation", id)
	}
	var row invitationRow
	if err := sqlx.GetContext(ctx, repo.ext, &row, `SELECT `+invitationColumns+` FROM invitation WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return modality.Invitation{}, notFound("invitation", id)
		}
		return modality.Invitation{}, wrapErr(err, "finding invitation")
	}
	return row.invitation(), nil
}

func (repo *modalityRepository) UpdateInvitations(ctx context.Context, invs ...modality.Invitation) error {
	return repo.inTx(ctx, func(ext sqlx.ExtContext) error {
		q := `UPDATE invitation SET status = :status, responded_at = :responded_at WHERE id = :id`
		for _, inv := range invs {
			res, err := sqlx.NamedExecContext(ctx, ext, q, toInvitationRow(inv))
			if err != nil {
				return wrapErr(err, "updating invitation")
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return notFound("invitation", inv.ID)
			}
		}
		return nil
	})
}

func (repo *modalityRepository) QueryInvitations(ctx context.Context, filter modality.InvitationFilter) ([]modality.Invitation, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.ModalityID != "" {
		where = append(where, "modality_id::text = "+arg(filter.ModalityID))
	}
	if filter.InviteeID != "" {
		where = append(where, "invitee_id::text = "+arg(filter.InviteeID))
	}
	if len(filter.Statuses) > 0 {
		statuses := make(pq.StringArray, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}

	q := `SELECT ` + invitationColumns + ` FROM invitation`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY sent_at, id"

	var rows []invitationRow
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, q, args...); err != nil {
		return nil, wrapErr(err, "querying invitations")
	}
	invs := make([]modality.Invitation, 0, len(rows))
	for _, row := range rows {
		invs = append(invs, row.invitation())
	}
	return invs, nil
}

func (repo *modalityRepository) AddHistory(ctx context.Context, entries ...modality.HistoryEntry) error {
	return repo.inTx(ctx, func(ext sqlx.ExtContext) error {
		q := `INSERT INTO modality_history (` + historyColumns + `)
			VALUES (:id, :modality_id, :actor_id, :actor_role, :action, :from_status, :to_status, :notes, :created_at)`
		for _, e := range entries {
			row := historyRow{
				ID:         e.ID,
				ModalityID: e.ModalityID,
				ActorID:    e.ActorID,
				ActorRole:  e.ActorRole,
				Action:     string(e.Action),
				FromStatus: string(e.FromStatus),
				ToStatus:   string(e.ToStatus),
				Notes:      nullString(e.Notes),
				CreatedAt:  e.CreatedAt.UTC(),
			}
			if _, err := sqlx.NamedExecContext(ctx, ext, q, row); err != nil {
				return wrapErr(err, "inserting history entry")
			}
		}
		return nil
	})
}

func (repo *modalityRepository) QueryHistory(ctx context.Context, modalityID string) ([]modality.HistoryEntry, error) {
	if !validID(modalityID) {
		return nil, notFound("modality", modalityID)
	}
	var rows []historyRow
	q := `SELECT ` + historyColumns + ` FROM modality_history WHERE modality_id = $1 ORDER BY created_at, id`
	if err := sqlx.SelectContext(ctx, repo.ext, &rows, q, modalityID); err != nil {
		return nil, wrapErr(err, "querying history")
	}
	entries := make([]modality.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, modality.HistoryEntry{
			ID:         row.ID,
			ModalityID: row.ModalityID,
			ActorID:    row.ActorID,
			ActorRole:  row.ActorRole,
			Action:     modality.Action(row.Action),
			FromStatus: modality.Status(row.FromStatus),
			ToStatus:   modality.Status(row.ToStatus),
			Notes:      row.Notes.String,
			CreatedAt:  row.CreatedAt,
		})
	}
	return entries, nil
}

// Atomic runs fn in a transaction holding the record row lock (SELECT ... FOR UPDATE).
func (repo *modalityRepository) Atomic(ctx context.Context, modalityID string, fn func(ctx context.Context, repo modality.Repository) error) error {
	if repo.locked == modalityID {
		return fn(ctx, repo)
	}
	if !validID(modalityID) {
		return notFound("modality", modalityID)
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr(err, "beginning transaction")
	}
	var id string
	if err := tx.GetContext(ctx, &id, `SELECT id FROM modality WHERE id = $1 FOR UPDATE`, modalityID); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return notFound("modality", modalityID)
		}
		return wrapErr(err, "locking modality")
	}

	if err := fn(ctx, &modalityRepository{db: repo.db, ext: tx, locked: modalityID}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return wrapErr(tx.Commit(), "committing transaction")
}
