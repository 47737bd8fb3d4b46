package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SweepSummary reports what closing a day changed.
type SweepSummary struct {
	Date     string `json:"date"`
	Skipped  bool   `json:"skipped"` // not a school day
	Learners int    `json:"learners"`
	Absent   int    `json:"absent"`   // absent records created
	Flagged  int    `json:"flagged"`  // existing absent or late records moved to TO_JUSTIFY
	Conflict int    `json:"conflict"` // records changed concurrently, left for the next sweep
}

func (s SweepSummary) String() string {
	if s.Skipped {
		return fmt.Sprintf("%s: not a school day", s.Date)
	}
	return fmt.Sprintf("%s: %d learners, %d absences recorded, %d records to justify, %d conflicts",
		s.Date, s.Learners, s.Absent, s.Flagged, s.Conflict)
}

// CloseDay runs the end-of-day sweep: every active learner without a record gets an absent one,
// and every absent or late record still in NONE moves to TO_JUSTIFY. Running it twice is harmless.
func (svc *service) CloseDay(ctx context.Context, day time.Time) (SweepSummary, error) {
	day = svc.Day(day)
	summary := SweepSummary{Date: day.Format(DateLayout)}
	if !svc.conf.IsSchoolDay(day) {
		summary.Skipped = true
		return summary, nil
	}

	learners, err := svc.learners.ListLearners(ctx)
	if err != nil {
		return summary, errors.Wrap(err, "listing learners")
	}
	summary.Learners = len(learners)

	records, err := svc.repo.FilterRecords(ctx, RecordFilter{From: day, To: day})
	if err != nil {
		return summary, errors.Wrap(err, "filtering records")
	}
	byLearner := make(map[string]Record, len(records))
	for _, rec := range records {
		byLearner[rec.LearnerID] = rec
	}

	for _, learner := range learners {
		if err = ctx.Err(); err != nil {
			return summary, err
		}
		rec, ok := byLearner[learner.ID]
		if !ok {
			created, err := svc.markAbsent(ctx, learner.ID, day)
			if err != nil {
				return summary, err
			}
			if created {
				summary.Absent++
			} else {
				summary.Conflict++
			}
			continue
		}
		delete(byLearner, learner.ID)
		if flagged, err := svc.flagToJustify(ctx, rec); err != nil {
			return summary, err
		} else if flagged {
			summary.Flagged++
		}
	}

	// records of learners no longer active are still flagged
	for _, rec := range byLearner {
		if flagged, err := svc.flagToJustify(ctx, rec); err != nil {
			return summary, err
		} else if flagged {
			summary.Flagged++
		}
	}
	return summary, nil
}

func (svc *service) markAbsent(ctx context.Context, learnerID string, day time.Time) (bool, error) {
	unlock := svc.locks.Lock(lockKey(learnerID, day))
	defer unlock()

	now := nowFunc().UTC()
	_, err := svc.repo.CreateRecord(ctx, Record{
		ID:                  uuid.NewString(),
		LearnerID:           learnerID,
		Date:                day,
		IsPresent:           false,
		IsLate:              false,
		JustificationStatus: StatusToJustify,
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if errors.Cause(err) == ErrDuplicateRecord {
		// scanned in the meantime
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "creating absent record")
	}
	return true, nil
}

func (svc *service) flagToJustify(ctx context.Context, rec Record) (bool, error) {
	if rec.JustificationStatus != StatusNone || (rec.IsPresent && !rec.IsLate) {
		return false, nil
	}

	unlock := svc.locks.Lock(lockKey(rec.LearnerID, rec.Date))
	defer unlock()

	upd := rec
	upd.JustificationStatus = StatusToJustify
	upd.UpdatedAt = nowFunc().UTC()
	_, err := svc.repo.UpdateRecord(ctx, upd, rec)
	if errors.Cause(err) == ErrStaleRecord {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "flagging record")
	}
	return true, nil
}
