package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/attendance"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/user"
	alertsvc "github.com/trezcool/academia/services/alert"
	emailsvc "github.com/trezcool/academia/services/email"
	logsvc "github.com/trezcool/academia/services/logger"
	schedsvc "github.com/trezcool/academia/services/scheduler"
	"github.com/trezcool/academia/storage/database"
	sqlxrepos "github.com/trezcool/academia/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	stdLogger := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	core.ParseEmailTemplates(conf, logger)

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), conf)
	dispatcher := notification.NewDispatcher(
		sqlxrepos.NewNotificationRepository(db),
		notification.NewHub(conf.Notification.SendBuffer),
		logger,
	)
	mailSvc := emailsvc.NewConsoleService(conf, logger)
	if !conf.Debug {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	attSvc := attendance.NewService(
		sqlxrepos.NewAttendanceRepository(db, conf.Attendance.Location),
		usrSvc, dispatcher, mailSvc, logger, conf,
	)
	sched, err := schedsvc.NewScheduler(attSvc, alertsvc.New(conf, logger), logger, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up scheduler: %v", err), err)
	}

	// start CLI
	cli := commandLine{
		db:         db.DB,
		usrSvc:     usrSvc,
		sweeper:    sched,
		validate:   validate,
		translator: translator,
		conf:       conf,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			stdLogger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
