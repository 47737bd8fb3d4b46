package sqlxrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core/attendance"
)

const recordColumns = `id, learner_id, date, scan_time, is_present, is_late, justification_status,
	justification_text, document_ref, review_comment, reviewed_by, reviewed_at, created_at, updated_at`

type (
	recordRow struct {
		ID                  string      `db:"id"`
		LearnerID           string      `db:"learner_id"`
		Date                string      `db:"date"`
		ScanTime            null.Time   `db:"scan_time"`
		IsPresent           bool        `db:"is_present"`
		IsLate              bool        `db:"is_late"`
		JustificationStatus string      `db:"justification_status"`
		JustificationText   null.String `db:"justification_text"`
		DocumentRef         null.String `db:"document_ref"`
		ReviewComment       null.String `db:"review_comment"`
		ReviewedBy          null.String `db:"reviewed_by"`
		ReviewedAt          null.Time   `db:"reviewed_at"`
		CreatedAt           time.Time   `db:"created_at"`
		UpdatedAt           time.Time   `db:"updated_at"`
	}

	eventRow struct {
		ID        string      `db:"id"`
		RecordID  string      `db:"record_id"`
		Kind      string      `db:"kind"`
		ActorID   string      `db:"actor_id"`
		Timestamp time.Time   `db:"timestamp"`
		Comment   null.String `db:"comment"`
	}
)

func nullStr(s string) null.String { return null.NewString(s, s != "") }

func toRecordRow(rec attendance.Record) recordRow {
	return recordRow{
		ID:                  rec.ID,
		LearnerID:           rec.LearnerID,
		Date:                rec.Day(),
		ScanTime:            null.TimeFromPtr(rec.ScanTime),
		IsPresent:           rec.IsPresent,
		IsLate:              rec.IsLate,
		JustificationStatus: string(rec.JustificationStatus),
		JustificationText:   nullStr(rec.JustificationText),
		DocumentRef:         nullStr(rec.DocumentRef),
		ReviewComment:       nullStr(rec.ReviewComment),
		ReviewedBy:          nullStr(rec.ReviewedBy),
		ReviewedAt:          null.TimeFromPtr(rec.ReviewedAt),
		CreatedAt:           rec.CreatedAt.UTC(),
		UpdatedAt:           rec.UpdatedAt.UTC(),
	}
}

func timePtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func (r recordRow) toRecord(loc *time.Location) attendance.Record {
	day, _ := time.ParseInLocation(attendance.DateLayout, r.Date, loc)
	return attendance.Record{
		ID:                  r.ID,
		LearnerID:           r.LearnerID,
		Date:                day,
		ScanTime:            timePtr(r.ScanTime),
		IsPresent:           r.IsPresent,
		IsLate:              r.IsLate,
		JustificationStatus: attendance.JustificationStatus(r.JustificationStatus),
		JustificationText:   r.JustificationText.String,
		DocumentRef:         r.DocumentRef.String,
		ReviewComment:       r.ReviewComment.String,
		ReviewedBy:          r.ReviewedBy.String,
		ReviewedAt:          timePtr(r.ReviewedAt),
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
}

type attendanceRepository struct {
	db  *sqlx.DB
	loc *time.Location
}

var _ attendance.Repository = (*attendanceRepository)(nil)

// NewAttendanceRepository returns a repository whose record dates are midnights in loc.
func NewAttendanceRepository(db *sqlx.DB, loc *time.Location) attendance.Repository {
	if loc == nil {
		loc = time.UTC
	}
	return &attendanceRepository{db: db, loc: loc}
}

func (repo *attendanceRepository) CreateRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	q := `INSERT INTO attendance_records (` + recordColumns + `)
		VALUES (:id, :learner_id, :date, :scan_time, :is_present, :is_late, :justification_status,
			:justification_text, :document_ref, :review_comment, :reviewed_by, :reviewed_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, toRecordRow(rec)); err != nil {
		if isUniqueViolation(err, "attendance_records_learner_date_key") {
			return attendance.Record{}, attendance.ErrDuplicateRecord
		}
		return attendance.Record{}, wrap(err, "inserting attendance record")
	}
	return repo.GetRecord(ctx, rec.ID)
}

func (repo *attendanceRepository) UpdateRecord(
	ctx context.Context,
	rec, prev attendance.Record,
	events ...attendance.Event,
) (attendance.Record, error) {
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		row := toRecordRow(rec)
		res, err := tx.ExecContext(ctx, `UPDATE attendance_records SET
				scan_time = $2, is_present = $3, is_late = $4, justification_status = $5,
				justification_text = $6, document_ref = $7, review_comment = $8,
				reviewed_by = $9, reviewed_at = $10, updated_at = $11
			WHERE id = $1 AND is_present = $12 AND justification_status = $13`,
			row.ID, row.ScanTime, row.IsPresent, row.IsLate, row.JustificationStatus,
			row.JustificationText, row.DocumentRef, row.ReviewComment,
			row.ReviewedBy, row.ReviewedAt, row.UpdatedAt,
			prev.IsPresent, string(prev.JustificationStatus))
		if err != nil {
			return wrap(err, "updating attendance record")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err = tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM attendance_records WHERE id = $1)`, rec.ID); err != nil {
				return wrap(err, "checking attendance record")
			}
			if !exists {
				return attendance.ErrRecordNotFound
			}
			return attendance.ErrStaleRecord
		}

		for _, ev := range events {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO justification_events (id, record_id, kind, actor_id, timestamp, comment)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				ev.ID, ev.RecordID, string(ev.Kind), ev.ActorID, ev.Timestamp.UTC(), nullStr(ev.Comment))
			if err != nil {
				return wrap(err, "inserting justification event")
			}
		}
		return nil
	})
	if err != nil {
		return attendance.Record{}, err
	}
	return repo.GetRecord(ctx, rec.ID)
}

func (repo *attendanceRepository) selectQuery() string {
	// render the day as text so that scanning never depends on the session time zone
	return `SELECT ` + strings.Replace(recordColumns, "date,", "to_char(date, 'YYYY-MM-DD') AS date,", 1) + ` FROM attendance_records`
}

func (repo *attendanceRepository) GetRecord(ctx context.Context, id string) (attendance.Record, error) {
	if !isUUID(id) {
		return attendance.Record{}, attendance.ErrRecordNotFound
	}
	var r recordRow
	if err := repo.db.GetContext(ctx, &r, repo.selectQuery()+` WHERE id = $1`, id); err != nil {
		return attendance.Record{}, trapNoRowsErr(err, attendance.ErrRecordNotFound, "getting attendance record")
	}
	return r.toRecord(repo.loc), nil
}

func (repo *attendanceRepository) GetRecordByLearnerAndDate(
	ctx context.Context,
	learnerID string,
	day time.Time,
) (attendance.Record, error) {
	if !isUUID(learnerID) {
		return attendance.Record{}, attendance.ErrRecordNotFound
	}
	var r recordRow
	err := repo.db.GetContext(ctx, &r, repo.selectQuery()+` WHERE learner_id = $1 AND date = $2`,
		learnerID, day.Format(attendance.DateLayout))
	if err != nil {
		return attendance.Record{}, trapNoRowsErr(err, attendance.ErrRecordNotFound, "getting attendance record")
	}
	return r.toRecord(repo.loc), nil
}

func (repo *attendanceRepository) FilterRecords(ctx context.Context, filter attendance.RecordFilter) ([]attendance.Record, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.LearnerIDs) > 0 {
		conds = append(conds, fmt.Sprintf("learner_id::text = ANY(%s)", arg(pq.StringArray(filter.LearnerIDs))))
	}
	if !filter.From.IsZero() {
		conds = append(conds, "date >= "+arg(filter.From.Format(attendance.DateLayout)))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "date <= "+arg(filter.To.Format(attendance.DateLayout)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		conds = append(conds, fmt.Sprintf("justification_status = ANY(%s)", arg(pq.StringArray(statuses))))
	}
	if filter.IsPresent != nil {
		conds = append(conds, "is_present = "+arg(*filter.IsPresent))
	}
	if filter.IsLate != nil {
		conds = append(conds, "is_late = "+arg(*filter.IsLate))
	}

	q := repo.selectQuery()
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY attendance_records.date, learner_id"

	var rows []recordRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, wrap(err, "filtering attendance records")
	}
	recs := make([]attendance.Record, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, r.toRecord(repo.loc))
	}
	return recs, nil
}

func (repo *attendanceRepository) ListEvents(ctx context.Context, recordID string) ([]attendance.Event, error) {
	events := make([]attendance.Event, 0)
	if !isUUID(recordID) {
		return events, nil
	}
	var rows []eventRow
	err := sqlx.SelectContext(ctx, repo.db, &rows,
		`SELECT id, record_id, kind, actor_id, timestamp, comment
		FROM justification_events WHERE record_id = $1 ORDER BY timestamp, id`, recordID)
	if err != nil {
		return nil, wrap(err, "listing justification events")
	}
	for _, r := range rows {
		events = append(events, attendance.Event{
			ID:        r.ID,
			RecordID:  r.RecordID,
			Kind:      attendance.EventKind(r.Kind),
			ActorID:   r.ActorID,
			Timestamp: r.Timestamp.UTC(),
			Comment:   r.Comment.String,
		})
	}
	return events, nil
}
