// Command watch follows the notifications of one reviewer and prints them as they arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/notification"
	logsvc "github.com/trezcool/academia/services/logger"
	"github.com/trezcool/academia/services/notifyclient"
)

func main() {
	conf := core.NewConfig()

	baseURL := flag.String("url", "http://localhost"+conf.Server.Host, "The API base URL.")
	token := flag.String("token", os.Getenv("ACADEMIA_TOKEN"), "A JWT of the watching user (defaults to $ACADEMIA_TOKEN).")
	markRead := flag.Bool("mark-read", false, "Mark every printed notification as read.")
	flag.Parse()

	stdLogger := log.New(os.Stdout, "WATCH : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)

	if *token == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := notifyclient.New(notifyclient.Options{
		BaseURL:      *baseURL,
		Token:        *token,
		PollInterval: conf.Notification.PollInterval,
		OnDegraded: func(err error) {
			logger.Warn(err.Error(), err)
		},
	})

	logger.Info(fmt.Sprintf("watching %s", *baseURL))
	err := client.Run(ctx, func(msg notification.Message) {
		fmt.Printf("[%s] %s (%s)\n", msg.CreatedAt.Local().Format("2006-01-02 15:04"), msg.Message, msg.Type)
		if *markRead {
			if err := client.MarkRead(ctx, msg.ID); err != nil {
				logger.Error(fmt.Sprintf("marking %s as read: %v", msg.ID, err), err)
			}
		}
	})
	if err != nil {
		logger.Error(fmt.Sprintf("watch stopped: %v", err), err)
		os.Exit(1)
	}
	logger.Info("watch stopped")
}
