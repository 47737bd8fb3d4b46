package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

// ProcessScan records the check-in of the learner identified by identifier at the given instant.
//
// The first scan of a day creates a present record (late when after the cutoff) or upgrades an absent one.
// Later scans of the same day return the existing record untouched.
// Scans of one (learner, day) are serialized; store-level races are retried before failing with a ConflictError.
func (svc *service) ProcessScan(ctx context.Context, identifier string, at time.Time) (Record, error) {
	learner, err := svc.learners.ResolveLearner(ctx, identifier)
	if err != nil {
		return Record{}, err
	}

	day := svc.Day(at)
	late := svc.isLate(at)
	key := lockKey(learner.ID, day)

	unlock := svc.locks.Lock(key)
	defer unlock()

	for attempt := 1; attempt <= svc.conf.ScanRetries; attempt++ {
		rec, err := svc.repo.GetRecordByLearnerAndDate(ctx, learner.ID, day)
		if err != nil && errors.Cause(err) != ErrRecordNotFound {
			return Record{}, errors.Wrap(err, "finding record")
		}

		if err != nil { // no record yet
			now := nowFunc().UTC()
			scanTime := at
			rec, err = svc.repo.CreateRecord(ctx, Record{
				ID:                  uuid.NewString(),
				LearnerID:           learner.ID,
				Date:                day,
				ScanTime:            &scanTime,
				IsPresent:           true,
				IsLate:              late,
				JustificationStatus: StatusNone,
				CreatedAt:           now,
				UpdatedAt:           now,
			})
			if errors.Cause(err) == ErrDuplicateRecord {
				continue
			}
			if err != nil {
				return Record{}, errors.Wrap(err, "creating record")
			}
			return rec, nil
		}

		if rec.IsPresent {
			return rec, nil
		}

		upd := upgradeToPresent(rec, at, late)
		rec, err = svc.repo.UpdateRecord(ctx, upd, rec)
		if errors.Cause(err) == ErrStaleRecord {
			continue
		}
		if err != nil {
			return Record{}, errors.Wrap(err, "updating record")
		}
		return rec, nil
	}
	return Record{}, core.NewConflictError(key, svc.conf.ScanRetries)
}

// upgradeToPresent turns an absent record into a present one.
// Justification statuses already in the workflow are kept as is.
func upgradeToPresent(rec Record, at time.Time, late bool) Record {
	scanTime := at
	rec.ScanTime = &scanTime
	rec.IsPresent = true
	rec.IsLate = late
	rec.UpdatedAt = nowFunc().UTC()

	switch rec.JustificationStatus {
	case StatusNone, StatusToJustify:
		if late && rec.JustificationStatus == StatusToJustify {
			// the day was already closed: the lateness still needs a justification
			break
		}
		rec.JustificationStatus = StatusNone
	}
	return rec
}
