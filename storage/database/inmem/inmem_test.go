package inmemdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/attendance"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/storage/database/inmem"
	"github.com/trezcool/academia/tests"
)

var (
	monday  = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	tuesday = monday.AddDate(0, 0, 1)
)

func newRecord(learnerID string, day time.Time, status attendance.JustificationStatus) attendance.Record {
	return attendance.Record{
		ID:                  uuid.NewString(),
		LearnerID:           learnerID,
		Date:                day,
		JustificationStatus: status,
		CreatedAt:           day,
		UpdatedAt:           day,
	}
}

func TestAttendanceRepository_CreateRecord(t *testing.T) {
	ctx := context.Background()
	repo := inmemdb.NewAttendanceRepository(inmemdb.Open())

	first, err := repo.CreateRecord(ctx, newRecord("l1", monday, attendance.StatusToJustify))
	require.NoError(t, err)

	_, err = repo.CreateRecord(ctx, newRecord("l1", monday, attendance.StatusNone))
	assert.Equal(t, attendance.ErrDuplicateRecord, errors.Cause(err))

	_, err = repo.CreateRecord(ctx, newRecord("l1", tuesday, attendance.StatusNone))
	assert.NoError(t, err)

	got, err := repo.GetRecordByLearnerAndDate(ctx, "l1", monday)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = repo.GetRecordByLearnerAndDate(ctx, "l2", monday)
	assert.Equal(t, attendance.ErrRecordNotFound, errors.Cause(err))
}

func TestAttendanceRepository_UpdateRecord(t *testing.T) {
	ctx := context.Background()
	repo := inmemdb.NewAttendanceRepository(inmemdb.Open())

	rec, err := repo.CreateRecord(ctx, newRecord("l1", monday, attendance.StatusToJustify))
	require.NoError(t, err)

	pending := rec
	pending.JustificationStatus = attendance.StatusPending
	pending.JustificationText = "sick"
	pending.LearnerID = "someone-else"
	event := attendance.Event{ID: uuid.NewString(), RecordID: rec.ID, Kind: attendance.EventSubmitted, ActorID: "l1", Timestamp: monday}

	saved, err := repo.UpdateRecord(ctx, pending, rec, event)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPending, saved.JustificationStatus)
	assert.Equal(t, "l1", saved.LearnerID, "identity is kept")

	t.Run("stale", func(t *testing.T) {
		again := rec
		again.JustificationStatus = attendance.StatusPending
		_, err := repo.UpdateRecord(ctx, again, rec, attendance.Event{ID: uuid.NewString(), RecordID: rec.ID})
		assert.Equal(t, attendance.ErrStaleRecord, errors.Cause(err))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := repo.UpdateRecord(ctx, newRecord("l1", tuesday, attendance.StatusNone), attendance.Record{})
		assert.Equal(t, attendance.ErrRecordNotFound, errors.Cause(err))
	})

	events, err := repo.ListEvents(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []attendance.Event{event}, events, "stale updates append nothing")
}

func TestAttendanceRepository_FilterRecords(t *testing.T) {
	ctx := context.Background()
	repo := inmemdb.NewAttendanceRepository(inmemdb.Open())

	var recs []attendance.Record
	for _, r := range []attendance.Record{
		newRecord("l2", tuesday, attendance.StatusNone),
		newRecord("l2", monday, attendance.StatusToJustify),
		newRecord("l1", tuesday, attendance.StatusPending),
		newRecord("l1", monday, attendance.StatusNone),
	} {
		rec, err := repo.CreateRecord(ctx, r)
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	l2Tue, l2Mon, l1Tue, l1Mon := recs[0], recs[1], recs[2], recs[3]

	tests := []struct {
		name   string
		filter attendance.RecordFilter
		want   []attendance.Record
	}{
		{name: "all, by date then learner", want: []attendance.Record{l1Mon, l2Mon, l1Tue, l2Tue}},
		{name: "learner", filter: attendance.RecordFilter{LearnerIDs: []string{"l2"}}, want: []attendance.Record{l2Mon, l2Tue}},
		{name: "one day", filter: attendance.RecordFilter{From: tuesday, To: tuesday}, want: []attendance.Record{l1Tue, l2Tue}},
		{
			name:   "statuses",
			filter: attendance.RecordFilter{Statuses: []attendance.JustificationStatus{attendance.StatusToJustify, attendance.StatusPending}},
			want:   []attendance.Record{l2Mon, l1Tue},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.FilterRecords(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNotificationRepository(t *testing.T) {
	ctx := context.Background()
	repo := inmemdb.NewNotificationRepository(inmemdb.Open())

	newMsg := func(eventID, to string) notification.Message {
		return notification.Message{
			ID:        uuid.NewString(),
			Type:      notification.TypeJustificationSubmitted,
			EventID:   eventID,
			Message:   "justification submitted",
			CreatedAt: time.Now().UTC(),
			Receiver:  notification.Party{ID: to},
		}
	}

	m1, created, err := repo.CreateMessage(ctx, newMsg("e1", "coach"))
	require.NoError(t, err)
	assert.True(t, created)

	dup, created, err := repo.CreateMessage(ctx, newMsg("e1", "coach"))
	require.NoError(t, err)
	assert.False(t, created, "one message per (event, recipient)")
	assert.Equal(t, m1.ID, dup.ID)

	m2, _, err := repo.CreateMessage(ctx, newMsg("e2", "coach"))
	require.NoError(t, err)
	other, _, err := repo.CreateMessage(ctx, newMsg("e1", "admin"))
	require.NoError(t, err)

	unread, err := repo.ListUnread(ctx, "coach")
	require.NoError(t, err)
	assert.Equal(t, []notification.Message{m1, m2}, unread)

	assert.Equal(t, notification.ErrNotFound, errors.Cause(repo.MarkRead(ctx, "coach", other.ID)), "owner only")
	require.NoError(t, repo.MarkRead(ctx, "coach", m1.ID))

	n, err := repo.MarkAllRead(ctx, "coach")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	unread, err = repo.ListUnread(ctx, "coach")
	require.NoError(t, err)
	assert.Empty(t, unread)

	unread, err = repo.ListUnread(ctx, "admin")
	require.NoError(t, err)
	assert.Len(t, unread, 1)
}

func TestUserRepository_CheckUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := inmemdb.NewUserRepository(inmemdb.Open())
	learner := testutil.CreateLearner(t, repo, "Awa Diop", "ODC-2024-001", "dev-web")

	tests := []struct {
		name      string
		uname     string
		email     string
		matricule string
		excl      []user.User
		wantErr   error
	}{
		{name: "free", uname: "moussa", email: "moussa@academia.test", matricule: "ODC-2024-002"},
		{name: "username", uname: learner.Username, wantErr: user.ErrUsernameExists},
		{name: "email", email: learner.Email, wantErr: user.ErrEmailExists},
		{name: "matricule", matricule: learner.Matricule, wantErr: user.ErrMatriculeExists},
		{name: "excluded", uname: learner.Username, matricule: learner.Matricule, excl: []user.User{learner}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.CheckUniqueness(ctx, tt.uname, tt.email, tt.matricule, tt.excl...)
			assert.Equal(t, tt.wantErr, errors.Cause(err))
		})
	}
}
