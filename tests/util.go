package testutil

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

const SecretKey = "test-secret-key"

// NewConfig returns a TEST config independent from the environment: UTC, 09:00 cutoff, Mon-Fri.
func NewConfig(t *testing.T) *core.Config {
	t.Helper()
	return &core.Config{
		AppName:          "Academia",
		Env:              "TEST",
		TestMode:         true,
		SecretKey:        SecretKey,
		WorkDir:          core.Getwd(),
		FrontendBaseURL:  "http://localhost:3000",
		DefaultFromEmail: mail.Address{Name: "Academia", Address: "noreply@academia.test"},
		Server: core.ServerConfig{
			ShutdownTimeout:           5 * time.Second,
			JWTExpirationDelta:        15 * time.Minute,
			JWTRefreshExpirationDelta: 24 * time.Hour,
		},
		Attendance: core.AttendanceConfig{
			Timezone:      "UTC",
			Location:      time.UTC,
			LateCutoff:    "09:00",
			SweepSchedule: "0 20 * * 1-5",
			SchoolDays:    []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			ScanRetries:   3,
		},
		Notification: core.NotificationConfig{
			SendBuffer:   16,
			WriteTimeout: time.Second,
			PollInterval: 50 * time.Millisecond,
			RedisChannel: "academia:test:notifications",
		},
		Documents: core.DocumentsConfig{
			Backend: "disk",
			Dir:     t.TempDir(),
			MaxSize: "1M",
		},
	}
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        uuid.NewString(),
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateLearner creates an active learner of referential ref.
func CreateLearner(t *testing.T, repo user.Repository, name, matricule, ref string) user.User {
	t.Helper()
	uname := strings.ToLower(strings.ReplaceAll(matricule, "-", "_"))
	usr := user.User{
		ID:            uuid.NewString(),
		Name:          name,
		Username:      uname,
		Email:         uname + "@academia.test",
		Matricule:     matricule,
		ReferentialID: ref,
		PromotionID:   "P2024",
		IsActive:      true,
		Roles:         []string{user.RoleLearner},
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateLearner() failed: %v", err)
	}
	return usr
}

// CreateCoach creates an active coach of referential ref.
func CreateCoach(t *testing.T, repo user.Repository, name, uname, ref string) user.User {
	t.Helper()
	usr := CreateUser(t, repo, name, uname, uname+"@academia.test", "", []string{user.RoleCoach}, true)
	usr.ReferentialID = ref
	usr, err := repo.UpdateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateCoach() failed: %v", err)
	}
	return usr
}

// LogEntry is a message recorded by Logger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records log entries in memory.
type Logger struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ core.Logger = (*Logger)(nil)

func NewLogger() *Logger { return new(Logger) }

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
	l.mu.Unlock()
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { panic(fmt.Sprintf("fatal: %s", msg)) }

// Entries returns the recorded entries of level, or all of them when level is empty.
func (l *Logger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}
