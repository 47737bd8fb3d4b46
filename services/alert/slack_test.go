package alertsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/tests"
)

func TestSlackAlerter(t *testing.T) {
	var channels, texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		channels = append(channels, r.Form.Get("channel"))
		texts = append(texts, r.Form.Get("text"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "channel": r.Form.Get("channel"), "ts": "1"})
	}))
	defer srv.Close()

	alerter := NewSlackAlerter(
		core.SlackConfig{Token: "xoxb-test", InfoChannel: "C-INFO", ErrorChannel: "C-ERR"},
		slack.OptionAPIURL(srv.URL+"/"),
	)
	ctx := context.Background()
	require.NoError(t, alerter.Info(ctx, "2024-03-04: 3 learners"))
	require.NoError(t, alerter.Error(ctx, "sweep failed"))

	assert.Equal(t, []string{"C-INFO", "C-ERR"}, channels)
	assert.Equal(t, []string{"2024-03-04: 3 learners", "sweep failed"}, texts)
}

func TestNew(t *testing.T) {
	conf := testutil.NewConfig(t)
	logger := testutil.NewLogger()

	alerter := New(conf, logger)
	_, isLog := alerter.(*LogAlerter)
	assert.True(t, isLog)
	require.NoError(t, alerter.Error(context.Background(), "boom"))
	assert.Len(t, logger.Entries("error"), 1)

	conf.Slack.Token = "xoxb-test"
	_, isSlack := New(conf, logger).(*SlackAlerter)
	assert.True(t, isSlack)
}
