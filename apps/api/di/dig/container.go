package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/academia/apps/api/echo"
	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/attendance"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/user"
	alertsvc "github.com/trezcool/academia/services/alert"
	docsvc "github.com/trezcool/academia/services/docstore"
	emailsvc "github.com/trezcool/academia/services/email"
	logsvc "github.com/trezcool/academia/services/logger"
	metricsvc "github.com/trezcool/academia/services/metrics"
	pubsubsvc "github.com/trezcool/academia/services/pubsub"
	schedsvc "github.com/trezcool/academia/services/scheduler"
	"github.com/trezcool/academia/storage/database"
	inmemdb "github.com/trezcool/academia/storage/database/inmem"
	sqlxrepos "github.com/trezcool/academia/storage/database/sqlx"
)

const engineMemory = "memory"

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// DBCloser releases the database connections.
	DBCloser func() error

	// Relay forwards messages broadcast by other API instances to the local hub until ctx is done.
	Relay func(ctx context.Context) error

	Repositories struct {
		dig.Out
		Users         user.Repository
		Attendance    attendance.Repository
		Notifications notification.Repository
		Close         DBCloser
	}

	ServerParams struct {
		dig.In
		Conf          *core.Config
		Logger        core.Logger
		Validate      *validator.Validate
		Translator    ut.Translator
		UserSvc       user.Service
		AttendanceSvc attendance.Service
		Dispatcher    *notification.Dispatcher
		Documents     core.DocumentStore
		Metrics       *metricsvc.Metrics
	}
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

// newRepositories opens Postgres, or an in-memory store when dbEngine is "memory".
func newRepositories(conf *core.Config, loggerParam DBLoggerParam) Repositories {
	if conf.Database.Engine == engineMemory {
		loggerParam.Logger.Warn("using the in-memory store: data is lost on restart")
		db := inmemdb.Open()
		return Repositories{
			Users:         inmemdb.NewUserRepository(db),
			Attendance:    inmemdb.NewAttendanceRepository(db),
			Notifications: inmemdb.NewNotificationRepository(db),
			Close:         func() error { return nil },
		}
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	if err = database.Migrate(db.DB); err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("migrating database: %v", err), err)
	}
	return Repositories{
		Users:         sqlxrepos.NewUserRepository(db),
		Attendance:    sqlxrepos.NewAttendanceRepository(db, conf.Attendance.Location),
		Notifications: sqlxrepos.NewNotificationRepository(db),
		Close:         db.Close,
	}
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return validate
}

func newHub(conf *core.Config) *notification.Hub {
	return notification.NewHub(conf.Notification.SendBuffer)
}

func newMetrics(hub *notification.Hub) *metricsvc.Metrics {
	return metricsvc.New(hub.Count)
}

// newDispatcher relays messages through Redis when notificationRedisURL is set, so that every API instance
// pushes to its own sessions.
func newDispatcher(
	conf *core.Config,
	repo notification.Repository,
	hub *notification.Hub,
	metrics *metricsvc.Metrics,
	logger core.Logger,
) (*notification.Dispatcher, Relay) {
	opts := []notification.Option{notification.WithMetrics(metrics)}

	var broadcaster *pubsubsvc.RedisBroadcaster
	if conf.Notification.RedisURL != "" {
		var err error
		broadcaster, err = pubsubsvc.NewRedisBroadcaster(context.Background(), conf.Notification.RedisURL, conf.Notification.RedisChannel, logger)
		if err != nil {
			logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
		}
		opts = append(opts, notification.WithBroadcaster(broadcaster))
	}

	dispatcher := notification.NewDispatcher(repo, hub, logger, opts...)
	if broadcaster == nil {
		return dispatcher, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}
	}
	return dispatcher, func(ctx context.Context) error {
		defer broadcaster.Close()
		return broadcaster.Listen(ctx, dispatcher.Deliver)
	}
}

func newUserService(repo user.Repository, conf *core.Config) user.Service {
	return user.NewService(repo, conf)
}

func newAttendanceService(
	repo attendance.Repository,
	usrSvc user.Service,
	dispatcher *notification.Dispatcher,
	mailSvc core.EmailService,
	docs core.DocumentStore,
	logger core.Logger,
	conf *core.Config,
) attendance.Service {
	return attendance.NewService(repo, usrSvc, dispatcher, mailSvc, logger, conf, attendance.WithDocuments(docs))
}

func newDocumentStore(conf *core.Config, logger core.Logger) core.DocumentStore {
	docs, err := docsvc.New(context.Background(), conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up document storage: %v", err), err)
	}
	return docs
}

func newScheduler(attSvc attendance.Service, alerter alertsvc.Alerter, logger core.Logger, conf *core.Config) *schedsvc.Scheduler {
	sched, err := schedsvc.NewScheduler(attSvc, alerter, logger, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up scheduler: %v", err), err)
	}
	return sched
}

func newServer(p ServerParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:          p.Conf,
		Logger:        p.Logger,
		Validate:      p.Validate,
		Translator:    p.Translator,
		UserSvc:       p.UserSvc,
		AttendanceSvc: p.AttendanceSvc,
		Dispatcher:    p.Dispatcher,
		Documents:     p.Documents,
		Metrics:       p.Metrics,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newRepositories))
	must(c.Provide(newEmailService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newHub))
	must(c.Provide(newMetrics))
	must(c.Provide(newDispatcher))
	must(c.Provide(newUserService))
	must(c.Provide(newAttendanceService))
	must(c.Provide(newDocumentStore))
	must(c.Provide(alertsvc.New))
	must(c.Provide(newScheduler))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
