package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/attendance"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/user"
	alertsvc "github.com/trezcool/academia/services/alert"
	emailsvc "github.com/trezcool/academia/services/email"
	schedsvc "github.com/trezcool/academia/services/scheduler"
	inmemdb "github.com/trezcool/academia/storage/database/inmem"
	"github.com/trezcool/academia/tests"
)

const testPwd = "Bl@ckBird42"

var usrRepo user.Repository

// recordingSweeper keeps the last summary of the wrapped sweeper.
type recordingSweeper struct {
	sweeper
	last attendance.SweepSummary
}

func (s *recordingSweeper) Sweep(ctx context.Context, t time.Time) (attendance.SweepSummary, error) {
	summary, err := s.sweeper.Sweep(ctx, t)
	s.last = summary
	return summary, err
}

func setup(t *testing.T) (*commandLine, *recordingSweeper) {
	t.Helper()
	conf := testutil.NewConfig(t)
	logger := testutil.NewLogger()

	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// set up DB & repos
	db := inmemdb.Open()
	usrRepo = inmemdb.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo, conf)
	dispatcher := notification.NewDispatcher(inmemdb.NewNotificationRepository(db), notification.NewHub(conf.Notification.SendBuffer), logger)
	attSvc := attendance.NewService(inmemdb.NewAttendanceRepository(db), usrSvc, dispatcher, emailsvc.NewConsoleServiceMock(conf, logger), logger, conf)
	sched, err := schedsvc.NewScheduler(attSvc, alertsvc.NewLogAlerter(logger), logger, conf)
	require.NoError(t, err)
	rec := &recordingSweeper{sweeper: sched}

	// start CLI
	return &commandLine{
		usrSvc:     usrSvc,
		sweeper:    rec,
		validate:   validate,
		translator: translator,
		conf:       conf,
	}, rec
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func checkErr(t *testing.T, tt cliTest, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	origRun := gooseRunFunc
	defer func() { gooseRunFunc = origRun }()
	gooseRunFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli, _ := setup(t)
	existing := testutil.CreateCoach(t, usrRepo, "Coach One", "coach1", "dev-web")
	_, err := cli.usrSvc.SetActive(context.Background(), existing, false)
	require.NoError(t, err)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-name", "Root", "-username", "root"}, wantErr: errHelp},
		{name: "unknown flag", args: []string{"adduser", "-lol"}, wantErr: errHelp},
		{
			name: "invalid user", args: []string{"adduser", "-username", "root", "-email", "nope", "-roles", "god:"},
			extra:      extra{pwd: testPwd},
			wantErrStr: "email: email must be a valid email address; name: this field is required; roles: invalid roles",
		},
		{
			name: "weak password", args: []string{"adduser", "-name", "Root", "-username", "root"},
			extra: extra{pwd: "password"}, wantErrStr: "password: password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character",
		},
		{
			name: "learner without matricule", args: []string{"adduser", "-name", "Awa", "-username", "awad", "-roles", user.RoleLearner},
			extra: extra{pwd: testPwd}, wantErrStr: "matricule: learners must have a matricule",
		},
		{name: "create admin", args: []string{"adduser", "-name", "Root", "-username", "Root", "-email", "root@academia.test"}, extra: extra{pwd: testPwd}},
		{
			name: "create learner", extra: extra{pwd: testPwd},
			args: []string{"adduser", "-name", "Awa Diop", "-username", "awad", "-roles", user.RoleLearner, "-matricule", "odc-2024-001", "-referential", "dev-web", "-promotion", "P2024"},
		},
		{name: "update existing", args: []string{"adduser", "-username", "coach1", "-roles", "coach:, scanner:"}, extra: extra{pwd: testPwd}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}
		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}

	ctx := context.Background()

	root, err := cli.usrSvc.GetByUsernameOrEmail(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, []string{user.RoleAdmin}, root.Roles)
	assert.True(t, root.IsActive)
	assert.NoError(t, root.CheckPassword(testPwd))

	learner, err := cli.usrSvc.ResolveLearner(ctx, "ODC-2024-001")
	require.NoError(t, err)
	assert.Equal(t, "dev-web", learner.ReferentialID)
	assert.Equal(t, "P2024", learner.PromotionID)

	updated, err := cli.usrSvc.GetByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{user.RoleCoach, user.RoleScanner}, updated.Roles)
	assert.True(t, updated.IsActive)
	assert.NoError(t, updated.CheckPassword(testPwd))
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, _ := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "User", "awe", "awe@academia.test", "Old#Passw0rd", nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: testPwd}, wantErr: user.ErrNotFound},
		{
			name: "too short", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "A#1b"},
			wantErrStr: "password: password must contain at least 8 characters",
		},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: testPwd}},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: extra{pwd: "Gr33n#Field"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			checkErr(t, tt, err)
			if err == nil {
				refreshedUsr, err := usrRepo.GetUserByID(context.Background(), usr.ID)
				require.NoError(t, err)
				assert.False(t, bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash), "failed to update new password")
				assert.NoError(t, refreshedUsr.CheckPassword(tt.extra.(extra).pwd))
			}
		})
	}
}

func Test_commandLine_sweep(t *testing.T) {
	cli, rec := setup(t)
	testutil.CreateLearner(t, usrRepo, "Awa Diop", "ODC-2024-001", "dev-web")
	testutil.CreateLearner(t, usrRepo, "Moussa Ba", "ODC-2024-002", "dev-web")

	nowFunc = func() time.Time { return time.Date(2024, 3, 5, 21, 0, 0, 0, time.UTC) }
	defer func() { nowFunc = time.Now }()

	tests := []struct {
		cliTest
		want attendance.SweepSummary
	}{
		{cliTest: cliTest{name: "bad date", args: []string{"sweep", "-date", "04/03/2024"}, wantErrStr: `invalid date "04/03/2024": must be formatted as YYYY-MM-DD`}},
		{cliTest: cliTest{name: "unknown flag", args: []string{"sweep", "-lol"}, wantErr: errHelp}},
		{
			cliTest: cliTest{name: "given day", args: []string{"sweep", "-date", "2024-03-04"}},
			want:    attendance.SweepSummary{Date: "2024-03-04", Learners: 2, Absent: 2},
		},
		{
			cliTest: cliTest{name: "given day again", args: []string{"sweep", "-date", "2024-03-04"}},
			want:    attendance.SweepSummary{Date: "2024-03-04", Learners: 2},
		},
		{
			cliTest: cliTest{name: "weekend", args: []string{"sweep", "-date", "2024-03-09"}},
			want:    attendance.SweepSummary{Date: "2024-03-09", Skipped: true},
		},
		{
			cliTest: cliTest{name: "today", args: []string{"sweep"}},
			want:    attendance.SweepSummary{Date: "2024-03-05", Learners: 2, Absent: 2},
		},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		t.Run(tt.name, func(t *testing.T) {
			rec.last = attendance.SweepSummary{}
			err := cli.run(args)
			checkErr(t, tt.cliTest, err)
			if err == nil {
				assert.Equal(t, tt.want, rec.last)
			}
		})
	}
}
