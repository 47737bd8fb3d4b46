package logsvc

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rollbar/rollbar-go"
	rollbarerrors "github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/attendance"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/user"
)

// RollbarLogger reports to Rollbar and mirrors every entry to a std logger.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(rollbarerrors.StackTracer)
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// entry is a log call broken down into what Rollbar understands.
type entry struct {
	msg    string
	err    error
	person *rollbar.Person
	extras map[string]interface{}
}

// collect breaks args down into an entry.
// expected args: error, map[string]interface{}, user.User, attendance.Record, notification.Message.
// The first user.User becomes the Rollbar person, later ones are kept as extras.
func collect(msg string, args []interface{}) entry {
	e := entry{msg: msg, extras: make(map[string]interface{})}
	for _, arg := range args {
		switch v := arg.(type) {
		case nil:
		case user.User:
			if v.ID == "" {
				continue
			}
			if e.person == nil {
				e.person = &rollbar.Person{Id: v.ID, Username: v.Username, Email: v.Email}
			} else {
				e.extras["user_id"] = v.ID
			}
		case attendance.Record:
			e.extras["record_id"] = v.ID
			e.extras["learner_id"] = v.LearnerID
			e.extras["date"] = v.Day()
			e.extras["justification_status"] = string(v.JustificationStatus)
		case notification.Message:
			e.extras["notification_id"] = v.ID
			e.extras["notification_type"] = string(v.Type)
			e.extras["recipient_id"] = v.Receiver.ID
			if v.AttendanceRecordID != "" {
				e.extras["record_id"] = v.AttendanceRecordID
			}
		case map[string]interface{}:
			for k, val := range v {
				e.extras[k] = val
			}
		case error:
			e.err = v
			var degraded *core.DeliveryDegradedError
			if errors.As(v, &degraded) && degraded.RecipientID != "" {
				e.extras["recipient_id"] = degraded.RecipientID
			}
			var conflict *core.ConflictError
			if errors.As(v, &conflict) {
				e.extras["conflict_key"] = conflict.Key
				e.extras["attempts"] = conflict.Attempts
			}
			var transition *core.InvalidTransitionError
			if errors.As(v, &transition) {
				e.extras["current_status"] = transition.Current
			}
		default:
			e.extras[fmt.Sprintf("%T", v)] = fmt.Sprintf("%+v", v)
		}
	}
	return e
}

func (e entry) rollbarArgs() []interface{} {
	ctx := context.Background()
	if e.person != nil {
		ctx = rollbar.NewPersonContext(ctx, e.person)
	}
	args := []interface{}{ctx, e.msg}
	if e.err != nil {
		args = append(args, e.err)
	}
	if len(e.extras) > 0 {
		args = append(args, e.extras)
	}
	return args
}

// String renders the extras as sorted key=value pairs.
func (e entry) String() string {
	keys := make([]string, 0, len(e.extras))
	for k := range e.extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(e.msg)
	if e.person != nil {
		fmt.Fprintf(&b, " user=%s", e.person.Id)
	}
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.extras[k])
	}
	return b.String()
}

func (l RollbarLogger) log(level, msg string, args []interface{}) {
	e := collect(msg, args)
	rollbar.Log(level, e.rollbarArgs()...)
	l.std.Println(e.String())
	if e.err != nil {
		l.std.Printf("%+v\n", e.err)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) { l.log(rollbar.DEBUG, msg, args) }
func (l RollbarLogger) Info(msg string, args ...interface{})  { l.log(rollbar.INFO, msg, args) }
func (l RollbarLogger) Warn(msg string, args ...interface{})  { l.log(rollbar.WARN, msg, args) }
func (l RollbarLogger) Error(msg string, args ...interface{}) { l.log(rollbar.ERR, msg, args) }

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log(rollbar.CRIT, msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}
