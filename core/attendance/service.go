package attendance

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/user"
)

var nowFunc = time.Now // mockable

type (
	// LearnerDirectory is the part of the user service the attendance workflow relies on.
	LearnerDirectory interface {
		GetByID(ctx context.Context, id string) (user.User, error)
		ResolveLearner(ctx context.Context, identifier string) (user.User, error)
		ListLearners(ctx context.Context) ([]user.User, error)
		ReviewersFor(ctx context.Context, learner user.User) ([]user.User, error)
	}

	Notifier interface {
		Publish(ctx context.Context, n notification.Notice) ([]notification.Message, error)
	}

	Service interface {
		// Day returns the calendar day of t: local midnight in the academy time zone.
		Day(t time.Time) time.Time
		ProcessScan(ctx context.Context, identifier string, at time.Time) (Record, error)
		SubmitJustification(ctx context.Context, actor user.User, recordID string, sub Submission) (Record, error)
		ReviewJustification(ctx context.Context, actor user.User, recordID string, rv Review) (Record, error)
		CloseDay(ctx context.Context, day time.Time) (SweepSummary, error)
		GetRecord(ctx context.Context, actor user.User, id string) (Record, error)
		QueryRecords(ctx context.Context, actor user.User, filter RecordFilter) ([]Record, error)
		ListEvents(ctx context.Context, actor user.User, recordID string) ([]Event, error)
	}

	service struct {
		repo     Repository
		learners LearnerDirectory
		notifier Notifier
		mailSvc  core.EmailService
		docs     core.DocumentStore
		logger   core.Logger
		conf     core.AttendanceConfig
		locks    *core.KeyedMutex
	}
)

var _ Service = (*service)(nil)

// Option configures optional collaborators of the attendance service.
type Option func(*service)

// WithDocuments lets review emails carry the justification document as an attachment.
func WithDocuments(docs core.DocumentStore) Option {
	return func(svc *service) { svc.docs = docs }
}

func NewService(
	repo Repository,
	learners LearnerDirectory,
	notifier Notifier,
	mailSvc core.EmailService,
	logger core.Logger,
	conf *core.Config,
	opts ...Option,
) Service {
	attConf := conf.Attendance
	if attConf.Location == nil {
		attConf.Location = time.UTC
	}
	if attConf.ScanRetries <= 0 {
		attConf.ScanRetries = 3
	}
	svc := &service{
		repo:     repo,
		learners: learners,
		notifier: notifier,
		mailSvc:  mailSvc,
		logger:   logger,
		conf:     attConf,
		locks:    core.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (svc *service) Day(t time.Time) time.Time {
	t = t.In(svc.conf.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, svc.conf.Location)
}

// isLate reports whether at is strictly after the cutoff of its day.
func (svc *service) isLate(at time.Time) bool {
	day := svc.Day(at)
	hour, min := svc.conf.CutoffOffset()
	cutoff := time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, svc.conf.Location)
	return at.After(cutoff)
}

func lockKey(learnerID string, day time.Time) string {
	return learnerID + "|" + day.Format(DateLayout)
}

func (svc *service) GetRecord(ctx context.Context, actor user.User, id string) (Record, error) {
	rec, err := svc.repo.GetRecord(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if actor.ID == rec.LearnerID {
		return rec, nil
	}
	learner, err := svc.learners.GetByID(ctx, rec.LearnerID)
	if err != nil {
		return Record{}, errors.Wrap(err, "finding learner")
	}
	if !actor.CanView(learner) {
		// do not leak existence
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

// QueryRecords restricts learners to their own records and coaches to the learners of their referential.
func (svc *service) QueryRecords(ctx context.Context, actor user.User, filter RecordFilter) ([]Record, error) {
	switch {
	case actor.IsAdmin():
	case actor.IsCoach():
		if len(filter.LearnerIDs) == 0 {
			learners, err := svc.learners.ListLearners(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "listing learners")
			}
			for _, l := range learners {
				if actor.CanReview(l) {
					filter.LearnerIDs = append(filter.LearnerIDs, l.ID)
				}
			}
			if len(filter.LearnerIDs) == 0 {
				return []Record{}, nil
			}
			break
		}
		for _, id := range filter.LearnerIDs {
			learner, err := svc.learners.GetByID(ctx, id)
			if err != nil && errors.Cause(err) != user.ErrNotFound {
				return nil, errors.Wrap(err, "finding learner")
			}
			if err != nil || !actor.CanReview(learner) {
				return nil, core.ErrPermissionDenied
			}
		}
	default:
		filter.LearnerIDs = []string{actor.ID}
	}

	recs, err := svc.repo.FilterRecords(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "filtering records")
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

func (svc *service) ListEvents(ctx context.Context, actor user.User, recordID string) ([]Event, error) {
	if _, err := svc.GetRecord(ctx, actor, recordID); err != nil {
		return nil, err
	}
	events, err := svc.repo.ListEvents(ctx, recordID)
	if err != nil {
		return nil, errors.Wrap(err, "listing events")
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}
