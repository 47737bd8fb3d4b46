package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/academia/core/attendance"
)

type attendanceRepository struct {
	db *attendanceTable
}

var _ attendance.Repository = (*attendanceRepository)(nil)

func NewAttendanceRepository(db *DB) attendance.Repository {
	return &attendanceRepository{db: db.attendance}
}

func dayKey(learnerID string, day time.Time) string {
	return learnerID + "|" + day.Format(attendance.DateLayout)
}

func (repo *attendanceRepository) CreateRecord(_ context.Context, rec attendance.Record) (attendance.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := dayKey(rec.LearnerID, rec.Date)
	if _, ok := repo.db.byDay[key]; ok {
		return attendance.Record{}, attendance.ErrDuplicateRecord
	}
	stored := copyRecord(rec)
	repo.db.table[rec.ID] = &stored
	repo.db.byDay[key] = rec.ID
	return copyRecord(stored), nil
}

func (repo *attendanceRepository) UpdateRecord(
	_ context.Context,
	rec, prev attendance.Record,
	events ...attendance.Event,
) (attendance.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	current, ok := repo.db.table[rec.ID]
	if !ok {
		return attendance.Record{}, attendance.ErrRecordNotFound
	}
	if current.IsPresent != prev.IsPresent || current.JustificationStatus != prev.JustificationStatus {
		return attendance.Record{}, attendance.ErrStaleRecord
	}

	stored := copyRecord(rec)
	// identity is immutable
	stored.LearnerID = current.LearnerID
	stored.Date = current.Date
	stored.CreatedAt = current.CreatedAt
	repo.db.table[rec.ID] = &stored
	repo.db.events[rec.ID] = append(repo.db.events[rec.ID], events...)
	return copyRecord(stored), nil
}

func (repo *attendanceRepository) GetRecord(_ context.Context, id string) (attendance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if rec, ok := repo.db.table[id]; ok {
		return copyRecord(*rec), nil
	}
	return attendance.Record{}, attendance.ErrRecordNotFound
}

func (repo *attendanceRepository) GetRecordByLearnerAndDate(
	_ context.Context,
	learnerID string,
	day time.Time,
) (attendance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if id, ok := repo.db.byDay[dayKey(learnerID, day)]; ok {
		return copyRecord(*repo.db.table[id]), nil
	}
	return attendance.Record{}, attendance.ErrRecordNotFound
}

func (repo *attendanceRepository) FilterRecords(_ context.Context, filter attendance.RecordFilter) ([]attendance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	recs := make([]attendance.Record, 0)
	for _, rec := range repo.db.table {
		if filter.Matches(*rec) {
			recs = append(recs, copyRecord(*rec))
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].Date.Equal(recs[j].Date) {
			return recs[i].Date.Before(recs[j].Date)
		}
		return recs[i].LearnerID < recs[j].LearnerID
	})
	return recs, nil
}

func (repo *attendanceRepository) ListEvents(_ context.Context, recordID string) ([]attendance.Event, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	events := make([]attendance.Event, len(repo.db.events[recordID]))
	copy(events, repo.db.events[recordID])
	return events, nil
}

func copyRecord(rec attendance.Record) attendance.Record {
	if rec.ScanTime != nil {
		st := *rec.ScanTime
		rec.ScanTime = &st
	}
	if rec.ReviewedAt != nil {
		ra := *rec.ReviewedAt
		rec.ReviewedAt = &ra
	}
	return rec
}
