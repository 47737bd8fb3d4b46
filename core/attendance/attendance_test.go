package attendance_test

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/attendance"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/services/docstore"
	"github.com/trezcool/academia/services/email"
	"github.com/trezcool/academia/storage/database/inmem"
	"github.com/trezcool/academia/tests"
)

// monday is a school day; saturday is not.
var (
	monday   = time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	saturday = time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC)
)

func at(day time.Time, hour, min int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, time.UTC)
}

type fixture struct {
	svc        attendance.Service
	repo       attendance.Repository
	usrRepo    user.Repository
	notifRepo  notification.Repository
	dispatcher *notification.Dispatcher
	docs       core.DocumentStore
	logger     *testutil.Logger

	learner  user.User
	coach    user.User
	coach2   user.User
	outsider user.User // coach of another referential
	admin    user.User
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conf := testutil.NewConfig(t)
	logger := testutil.NewLogger()
	core.ParseEmailTemplates(conf, logger)

	db := inmemdb.Open()
	f := &fixture{
		repo:      inmemdb.NewAttendanceRepository(db),
		usrRepo:   inmemdb.NewUserRepository(db),
		notifRepo: inmemdb.NewNotificationRepository(db),
		logger:    logger,
	}
	usrSvc := user.NewService(f.usrRepo, conf)
	f.dispatcher = notification.NewDispatcher(f.notifRepo, notification.NewHub(conf.Notification.SendBuffer), logger)
	docs, err := docsvc.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	f.docs = docs
	f.svc = attendance.NewService(
		f.repo, usrSvc, f.dispatcher, emailsvc.NewConsoleServiceMock(conf, logger), logger, conf,
		attendance.WithDocuments(docs),
	)

	f.learner = testutil.CreateLearner(t, f.usrRepo, "Awa Diop", "ODC-2024-001", "dev-web")
	f.coach = testutil.CreateCoach(t, f.usrRepo, "Coach One", "coach1", "dev-web")
	f.coach2 = testutil.CreateCoach(t, f.usrRepo, "Coach Two", "coach2", "dev-web")
	f.outsider = testutil.CreateCoach(t, f.usrRepo, "Coach Data", "coach3", "data")
	f.admin = testutil.CreateUser(t, f.usrRepo, "Admin", "admin", "admin@academia.test", "", []string{user.RoleAdmin}, true)
	return f
}

func TestService_ProcessScan(t *testing.T) {
	ctx := context.Background()

	t.Run("on time", func(t *testing.T) {
		f := setup(t)
		rec, err := f.svc.ProcessScan(ctx, f.learner.Matricule, at(monday, 8, 59))
		require.NoError(t, err)
		assert.True(t, rec.IsPresent)
		assert.False(t, rec.IsLate)
		assert.Equal(t, attendance.StatusNone, rec.JustificationStatus)
		assert.Equal(t, "2024-03-04", rec.Day())
	})

	t.Run("late", func(t *testing.T) {
		f := setup(t)
		rec, err := f.svc.ProcessScan(ctx, f.learner.Matricule, at(monday, 9, 5))
		require.NoError(t, err)
		assert.True(t, rec.IsPresent)
		assert.True(t, rec.IsLate)
	})

	t.Run("exactly at cutoff is on time", func(t *testing.T) {
		f := setup(t)
		rec, err := f.svc.ProcessScan(ctx, f.learner.Matricule, at(monday, 9, 0))
		require.NoError(t, err)
		assert.False(t, rec.IsLate)
	})

	t.Run("resolves badge & id", func(t *testing.T) {
		f := setup(t)
		badge, err := user.MakeBadgeToken(f.learner, testutil.SecretKey)
		require.NoError(t, err)
		rec, err := f.svc.ProcessScan(ctx, badge, at(monday, 8, 0))
		require.NoError(t, err)
		assert.Equal(t, f.learner.ID, rec.LearnerID)

		rec2, err := f.svc.ProcessScan(ctx, f.learner.ID, at(monday, 8, 30))
		require.NoError(t, err)
		assert.Equal(t, rec.ID, rec2.ID)
	})

	t.Run("unknown learner", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.ProcessScan(ctx, "ODC-0000", at(monday, 8, 0))
		assert.Equal(t, user.ErrLearnerNotFound, errors.Cause(err))
		var nf *core.NotFoundError
		assert.True(t, errors.As(err, &nf))

		_, err = f.svc.ProcessScan(ctx, f.coach.ID, at(monday, 8, 0))
		assert.Equal(t, user.ErrLearnerNotFound, errors.Cause(err), "non learners cannot be scanned")
	})

	t.Run("idempotent", func(t *testing.T) {
		f := setup(t)
		first, err := f.svc.ProcessScan(ctx, f.learner.Matricule, at(monday, 8, 0))
		require.NoError(t, err)
		second, err := f.svc.ProcessScan(ctx, f.learner.Matricule, at(monday, 10, 0))
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("upgrades an absent record", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.CloseDay(ctx, monday)
		require.NoError(t, err)

		rec, err := f.svc.ProcessScan(ctx, f.learner.Matricule, at(monday, 8, 30))
		require.NoError(t, err)
		assert.True(t, rec.IsPresent)
		assert.False(t, rec.IsLate)
		assert.Equal(t, attendance.StatusNone, rec.JustificationStatus)
	})

	t.Run("late upgrade still needs a justification", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.CloseDay(ctx, monday)
		require.NoError(t, err)

		rec, err := f.svc.ProcessScan(ctx, f.learner.Matricule, at(monday, 21, 0))
		require.NoError(t, err)
		assert.True(t, rec.IsPresent)
		assert.True(t, rec.IsLate)
		assert.Equal(t, attendance.StatusToJustify, rec.JustificationStatus)
	})

	t.Run("concurrent duplicate scans create one record", func(t *testing.T) {
		f := setup(t)
		const n = 50
		ids := make([]string, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec, err := f.svc.ProcessScan(ctx, f.learner.Matricule, at(monday, 8, i%60))
				ids[i], errs[i] = rec.ID, err
			}(i)
		}
		wg.Wait()

		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}
		recs, err := f.repo.FilterRecords(ctx, attendance.RecordFilter{LearnerIDs: []string{f.learner.ID}})
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})
}

// conflictingRepo loses every creation race.
type conflictingRepo struct {
	attendance.Repository
}

func (conflictingRepo) CreateRecord(context.Context, attendance.Record) (attendance.Record, error) {
	return attendance.Record{}, attendance.ErrDuplicateRecord
}

func TestService_ProcessScan_conflict(t *testing.T) {
	conf := testutil.NewConfig(t)
	logger := testutil.NewLogger()
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	learner := testutil.CreateLearner(t, usrRepo, "Awa Diop", "ODC-2024-001", "dev-web")

	svc := attendance.NewService(
		conflictingRepo{inmemdb.NewAttendanceRepository(db)},
		user.NewService(usrRepo, conf),
		nil, nil, logger, conf,
	)
	_, err := svc.ProcessScan(context.Background(), learner.Matricule, at(monday, 8, 0))
	var cErr *core.ConflictError
	require.True(t, errors.As(err, &cErr), "got %v", err)
	assert.Equal(t, conf.Attendance.ScanRetries, cErr.Attempts)
}

func TestService_CloseDay(t *testing.T) {
	ctx := context.Background()

	t.Run("absent & late", func(t *testing.T) {
		f := setup(t)
		late := testutil.CreateLearner(t, f.usrRepo, "Moussa Fall", "ODC-2024-002", "dev-web")
		onTime := testutil.CreateLearner(t, f.usrRepo, "Fatou Ba", "ODC-2024-003", "data")

		_, err := f.svc.ProcessScan(ctx, late.Matricule, at(monday, 9, 30))
		require.NoError(t, err)
		_, err = f.svc.ProcessScan(ctx, onTime.Matricule, at(monday, 8, 30))
		require.NoError(t, err)

		summary, err := f.svc.CloseDay(ctx, at(monday, 20, 0))
		require.NoError(t, err)
		assert.Equal(t, attendance.SweepSummary{Date: "2024-03-04", Learners: 3, Absent: 1, Flagged: 1}, summary)

		absent, err := f.repo.GetRecordByLearnerAndDate(ctx, f.learner.ID, monday)
		require.NoError(t, err)
		assert.False(t, absent.IsPresent)
		assert.False(t, absent.IsLate)
		assert.Equal(t, attendance.StatusToJustify, absent.JustificationStatus)

		lateRec, err := f.repo.GetRecordByLearnerAndDate(ctx, late.ID, monday)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusToJustify, lateRec.JustificationStatus)

		onTimeRec, err := f.repo.GetRecordByLearnerAndDate(ctx, onTime.ID, monday)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusNone, onTimeRec.JustificationStatus)

		again, err := f.svc.CloseDay(ctx, monday)
		require.NoError(t, err)
		assert.Equal(t, attendance.SweepSummary{Date: "2024-03-04", Learners: 3}, again)
	})

	t.Run("not a school day", func(t *testing.T) {
		f := setup(t)
		summary, err := f.svc.CloseDay(ctx, saturday)
		require.NoError(t, err)
		assert.True(t, summary.Skipped)

		recs, err := f.repo.FilterRecords(ctx, attendance.RecordFilter{})
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestService_JustificationWorkflow(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	// Scenario C
	_, err := f.svc.CloseDay(ctx, monday)
	require.NoError(t, err)
	rec, err := f.repo.GetRecordByLearnerAndDate(ctx, f.learner.ID, monday)
	require.NoError(t, err)

	// review before submission
	_, err = f.svc.ReviewJustification(ctx, f.coach, rec.ID, attendance.Review{Decision: attendance.StatusApproved})
	var itErr *core.InvalidTransitionError
	require.True(t, errors.As(err, &itErr), "got %v", err)
	assert.Equal(t, string(attendance.StatusToJustify), itErr.Current)

	// validation
	_, err = f.svc.SubmitJustification(ctx, f.learner, rec.ID, attendance.Submission{})
	var vErr *core.ValidationError
	assert.True(t, errors.As(err, &vErr))

	// someone else's record
	_, err = f.svc.SubmitJustification(ctx, f.coach, rec.ID, attendance.Submission{Text: "sick"})
	assert.Equal(t, attendance.ErrRecordNotFound, errors.Cause(err))

	// refs the document store never issued
	for _, ref := range []string{"doc-1", "../../etc/passwd", "2024/03/certificate.pdf"} {
		_, err = f.svc.SubmitJustification(ctx, f.learner, rec.ID, attendance.Submission{Text: "sick", DocumentRef: ref})
		require.True(t, errors.As(err, &vErr), ref)
		assert.Equal(t, "document_ref", vErr.Fields[0].Field, ref)
	}

	docRef, err := f.docs.Save(ctx, "certificat.pdf", "application/pdf", strings.NewReader("%PDF-1.4 certificate"))
	require.NoError(t, err)

	// Scenario D
	pending, err := f.svc.SubmitJustification(ctx, f.learner, rec.ID, attendance.Submission{Text: "  sick  ", DocumentRef: docRef})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPending, pending.JustificationStatus)
	assert.Equal(t, "sick", pending.JustificationText)
	assert.Equal(t, docRef, pending.DocumentRef)

	events, err := f.svc.ListEvents(ctx, f.learner, rec.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, attendance.EventSubmitted, events[0].Kind)
	assert.Equal(t, f.learner.ID, events[0].ActorID)

	for _, reviewer := range []user.User{f.coach, f.coach2} {
		msgs, err := f.notifRepo.ListUnread(ctx, reviewer.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1, reviewer.Name)
		assert.Equal(t, notification.TypeJustificationSubmitted, msgs[0].Type)
		assert.Equal(t, rec.ID, msgs[0].AttendanceRecordID)
		assert.Equal(t, f.learner.ID, msgs[0].Sender.ID)
		assert.Equal(t, events[0].ID, msgs[0].EventID)
	}
	outsiderMsgs, err := f.notifRepo.ListUnread(ctx, f.outsider.ID)
	require.NoError(t, err)
	assert.Empty(t, outsiderMsgs)

	// resubmission
	_, err = f.svc.SubmitJustification(ctx, f.learner, rec.ID, attendance.Submission{Text: "again"})
	assert.True(t, errors.As(err, &itErr))

	// reviewer of another referential
	_, err = f.svc.ReviewJustification(ctx, f.outsider, rec.ID, attendance.Review{Decision: attendance.StatusApproved})
	assert.Equal(t, core.ErrPermissionDenied, errors.Cause(err))

	_, err = f.svc.ReviewJustification(ctx, f.coach, rec.ID, attendance.Review{Decision: "MAYBE"})
	assert.True(t, errors.As(err, &vErr))

	// Scenario E
	emailsvc.ResetSentMessages()
	approved, err := f.svc.ReviewJustification(ctx, f.coach, rec.ID, attendance.Review{Decision: "approved", Comment: "get well"})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusApproved, approved.JustificationStatus)
	assert.Equal(t, f.coach.ID, approved.ReviewedBy)
	assert.NotNil(t, approved.ReviewedAt)
	assert.Equal(t, "get well", approved.ReviewComment)

	_, err = f.svc.ReviewJustification(ctx, f.coach2, rec.ID, attendance.Review{Decision: attendance.StatusRejected})
	require.True(t, errors.As(err, &itErr))
	assert.Equal(t, string(attendance.StatusApproved), itErr.Current)

	events, err = f.svc.ListEvents(ctx, f.coach, rec.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, attendance.EventApproved, events[1].Kind)

	learnerMsgs, err := f.notifRepo.ListUnread(ctx, f.learner.ID)
	require.NoError(t, err)
	require.Len(t, learnerMsgs, 1)
	assert.Equal(t, notification.TypeJustificationReviewed, learnerMsgs[0].Type)

	sent := emailsvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, f.learner.Email, sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "approved")
	assert.Equal(t, rec.ID, sent[0].Metadata["record_id"])
	assert.Equal(t, "approved", sent[0].Metadata["decision"])
	require.Len(t, sent[0].Attachments, 1)
	assert.Equal(t, "justification-2024-03-04.pdf", sent[0].Attachments[0].Filename)
	assert.Equal(t, "application/pdf", sent[0].Attachments[0].ContentType)
	content, err := base64.StdEncoding.DecodeString(sent[0].Attachments[0].Content.String())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 certificate", string(content))
}

func TestService_ReviewJustification_missingDocument(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.svc.CloseDay(ctx, monday)
	require.NoError(t, err)
	rec, err := f.repo.GetRecordByLearnerAndDate(ctx, f.learner.ID, monday)
	require.NoError(t, err)

	// well-formed but unknown to the store
	ref := "2024/03/00000000-0000-0000-0000-000000000000.pdf"
	_, err = f.svc.SubmitJustification(ctx, f.learner, rec.ID, attendance.Submission{DocumentRef: ref})
	require.NoError(t, err)

	emailsvc.ResetSentMessages()
	_, err = f.svc.ReviewJustification(ctx, f.coach, rec.ID, attendance.Review{Decision: attendance.StatusRejected})
	require.NoError(t, err, "the decision stands when the document cannot be attached")

	sent := emailsvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].Attachments)
	errs := f.logger.Entries("error")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Msg, "attaching document "+ref)
	assert.Equal(t, core.ErrDocumentNotFound, errors.Cause(errs[0].Args[0].(error)))
}

func TestService_ReviewJustification_onNone(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	rec, err := f.svc.ProcessScan(ctx, f.learner.Matricule, at(monday, 8, 0))
	require.NoError(t, err)

	for _, decision := range []attendance.JustificationStatus{attendance.StatusApproved, attendance.StatusRejected} {
		_, err = f.svc.ReviewJustification(ctx, f.admin, rec.ID, attendance.Review{Decision: decision})
		var itErr *core.InvalidTransitionError
		require.True(t, errors.As(err, &itErr), "got %v", err)
		assert.Equal(t, string(attendance.StatusNone), itErr.Current)
	}
	_, err = f.svc.SubmitJustification(ctx, f.learner, rec.ID, attendance.Submission{Text: "nothing to justify"})
	var itErr *core.InvalidTransitionError
	assert.True(t, errors.As(err, &itErr))
}

func TestService_ReviewJustification_concurrent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.svc.CloseDay(ctx, monday)
	require.NoError(t, err)
	rec, err := f.repo.GetRecordByLearnerAndDate(ctx, f.learner.ID, monday)
	require.NoError(t, err)
	_, err = f.svc.SubmitJustification(ctx, f.learner, rec.ID, attendance.Submission{Text: "sick"})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, reviewer := range []user.User{f.coach, f.coach2, f.admin} {
		wg.Add(1)
		go func(reviewer user.User) {
			defer wg.Done()
			_, err := f.svc.ReviewJustification(ctx, reviewer, rec.ID, attendance.Review{Decision: attendance.StatusRejected})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(reviewer)
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)

	events, err := f.repo.ListEvents(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestService_QueryRecords(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	other := testutil.CreateLearner(t, f.usrRepo, "Ibou Sarr", "ODC-2024-009", "data")

	_, err := f.svc.ProcessScan(ctx, f.learner.Matricule, at(monday, 8, 0))
	require.NoError(t, err)
	_, err = f.svc.ProcessScan(ctx, other.Matricule, at(monday, 8, 0))
	require.NoError(t, err)

	all, err := f.svc.QueryRecords(ctx, f.admin, attendance.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := f.svc.QueryRecords(ctx, f.learner, attendance.RecordFilter{LearnerIDs: []string{other.ID}})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, f.learner.ID, own[0].LearnerID)

	coached, err := f.svc.QueryRecords(ctx, f.coach, attendance.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, coached, 1)
	assert.Equal(t, f.learner.ID, coached[0].LearnerID)

	_, err = f.svc.QueryRecords(ctx, f.coach, attendance.RecordFilter{LearnerIDs: []string{other.ID}})
	assert.Equal(t, core.ErrPermissionDenied, errors.Cause(err))

	otherRec, err := f.repo.GetRecordByLearnerAndDate(ctx, other.ID, monday)
	require.NoError(t, err)
	_, err = f.svc.GetRecord(ctx, f.coach, otherRec.ID)
	assert.Equal(t, attendance.ErrRecordNotFound, errors.Cause(err))
	_, err = f.svc.GetRecord(ctx, f.learner, otherRec.ID)
	assert.Equal(t, attendance.ErrRecordNotFound, errors.Cause(err))
}
