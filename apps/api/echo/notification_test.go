package echoapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/academia/apps/api/echo"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/user"
)

func (app *testApp) notify(t *testing.T, to ...user.User) []notification.Message {
	t.Helper()
	recipients := make([]notification.Party, 0, len(to))
	for _, usr := range to {
		recipients = append(recipients, notification.Party{ID: usr.ID, Email: usr.Email})
	}
	msgs, err := app.dispatcher.Publish(context.Background(), notification.Notice{
		EventID:    uuid.NewString(),
		Type:       notification.TypeJustificationSubmitted,
		RecordID:   uuid.NewString(),
		Message:    "Awa Diop submitted a justification for their absence on 2024-03-04",
		Sender:     notification.Party{ID: app.learner.ID, Email: app.learner.Email},
		Recipients: recipients,
	})
	require.NoError(t, err)
	return msgs
}

func Test_notificationApi_unreadAndRead(t *testing.T) {
	app := setup(t)
	coachToken := getToken(t, app.conf, app.coach)

	first := app.notify(t, app.coach, app.admin)
	second := app.notify(t, app.coach)
	toCoach := func(msgs []notification.Message) notification.Message {
		for _, m := range msgs {
			if m.Receiver.ID == app.coach.ID {
				return m
			}
		}
		t.Fatal("no message for coach")
		return notification.Message{}
	}
	m1, m2 := toCoach(first), toCoach(second)

	runHTTPTests(t, app, []httpTest{
		{name: "auth required", path: "/v1/notifications/unread", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "in creation order", path: "/v1/notifications/unread", token: coachToken, wantCode: http.StatusOK, wantData: marshalObj(t, []notification.Message{m1, m2})},
		{
			name: "not the owner", method: http.MethodPost, path: "/v1/notifications/" + m1.ID + "/read", token: getToken(t, app.conf, app.admin),
			wantCode: http.StatusNotFound, wantData: marshalObj(t, httpErr{Error: "notification not found"}),
		},
		{name: "unknown", method: http.MethodPost, path: "/v1/notifications/" + uuid.NewString() + "/read", token: coachToken, wantCode: http.StatusNotFound},
		{name: "mark read", method: http.MethodPost, path: "/v1/notifications/" + m1.ID + "/read", token: coachToken, wantCode: http.StatusNoContent},
		{name: "read ones are gone", path: "/v1/notifications/unread", token: coachToken, wantCode: http.StatusOK, wantData: marshalObj(t, []notification.Message{m2})},
		{
			name: "read all", method: http.MethodPost, path: "/v1/notifications/read-all", token: coachToken,
			wantCode: http.StatusOK, wantData: marshalObj(t, echoapi.MarkAllReadResponse{Updated: 1}),
		},
		{name: "nothing left", path: "/v1/notifications/unread", token: coachToken, wantCode: http.StatusOK, wantData: []byte(`[]`)},
		{name: "others untouched", path: "/v1/notifications/unread", token: getToken(t, app.conf, app.admin), wantCode: http.StatusOK},
	})

	req, rec := newAuthRequest(http.MethodGet, "/v1/notifications/unread", getToken(t, app.conf, app.admin))
	rec = app.do(req, rec)
	var adminUnread []notification.Message
	decode(t, rec, &adminUnread)
	assert.Len(t, adminUnread, 1)
}

func Test_notificationApi_stream(t *testing.T) {
	app := setup(t)
	srv := httptest.NewServer(app.server)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/notifications/stream"

	t.Run("auth required", func(t *testing.T) {
		_, resp, err := websocket.Dial(ctx, wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	backlog := append(app.notify(t, app.coach), app.notify(t, app.coach)...)

	read := func(t *testing.T, conn *websocket.Conn) notification.Message {
		t.Helper()
		var msg notification.Message
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		return msg
	}

	for name, dial := range map[string]func() (*websocket.Conn, error){
		"token in query": func() (*websocket.Conn, error) {
			conn, _, err := websocket.Dial(ctx, wsURL+"?token="+getToken(t, app.conf, app.coach), nil)
			return conn, err
		},
		"token in header": func() (*websocket.Conn, error) {
			conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
				HTTPHeader: http.Header{"Authorization": []string{"Bearer " + getToken(t, app.conf, app.coach)}},
			})
			return conn, err
		},
	} {
		t.Run(name, func(t *testing.T) {
			conn, err := dial()
			require.NoError(t, err)
			defer conn.Close(websocket.StatusNormalClosure, "")

			// unread backlog first, in order
			for _, want := range backlog {
				got := read(t, conn)
				assert.Equal(t, want.ID, got.ID)
				assert.Equal(t, app.coach.ID, got.Receiver.ID)
			}

			// then live messages
			live := app.notify(t, app.coach)
			got := read(t, conn)
			assert.Equal(t, live[0].ID, got.ID)
			assert.Equal(t, live[0].Message, got.Message)
			assert.Equal(t, live[0].AttendanceRecordID, got.AttendanceRecordID)

			backlog = append(backlog, live...)
		})
	}
}
