// Package alertsvc posts operational messages (sweep summaries, failures) to Slack.
package alertsvc

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"

	"github.com/trezcool/academia/core"
)

// Alerter posts operational messages for the staff.
type Alerter interface {
	Info(ctx context.Context, message string) error
	Error(ctx context.Context, message string) error
}

type SlackAlerter struct {
	client       *slack.Client
	infoChannel  string
	errorChannel string
}

var _ Alerter = (*SlackAlerter)(nil)

func NewSlackAlerter(conf core.SlackConfig, opts ...slack.Option) *SlackAlerter {
	return &SlackAlerter{
		client:       slack.New(conf.Token, opts...),
		infoChannel:  conf.InfoChannel,
		errorChannel: conf.ErrorChannel,
	}
}

func (a *SlackAlerter) post(ctx context.Context, channelID, message string) error {
	if channelID == "" {
		return nil
	}
	_, _, err := a.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(message, false))
	return errors.Wrap(err, "posting slack message")
}

func (a *SlackAlerter) Info(ctx context.Context, message string) error {
	return a.post(ctx, a.infoChannel, message)
}

func (a *SlackAlerter) Error(ctx context.Context, message string) error {
	return a.post(ctx, a.errorChannel, message)
}

// LogAlerter writes alerts to the application logger. Used when Slack is not configured.
type LogAlerter struct {
	logger core.Logger
}

var _ Alerter = (*LogAlerter)(nil)

func NewLogAlerter(logger core.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Info(_ context.Context, message string) error {
	a.logger.Info(fmt.Sprintf("alert: %s", message))
	return nil
}

func (a *LogAlerter) Error(_ context.Context, message string) error {
	a.logger.Error(fmt.Sprintf("alert: %s", message))
	return nil
}

// New returns a SlackAlerter when a token is configured, a LogAlerter otherwise.
func New(conf *core.Config, logger core.Logger) Alerter {
	if conf.Slack.Token == "" {
		return NewLogAlerter(logger)
	}
	return NewSlackAlerter(conf.Slack)
}
