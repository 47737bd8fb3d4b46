package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/user"
)

type notificationApi struct {
	dispatcher   *notification.Dispatcher
	usrSvc       user.Service
	logger       core.Logger
	origins      []string
	writeTimeout time.Duration
}

func registerNotificationAPI(
	g *echo.Group,
	jwt, streamJWT echo.MiddlewareFunc,
	dispatcher *notification.Dispatcher,
	usrSvc user.Service,
	logger core.Logger,
	conf *core.Config,
) {
	api := notificationApi{
		dispatcher:   dispatcher,
		usrSvc:       usrSvc,
		logger:       logger,
		origins:      conf.Server.WSAllowedOrigins,
		writeTimeout: conf.Notification.WriteTimeout,
	}
	if api.writeTimeout <= 0 {
		api.writeTimeout = 5 * time.Second
	}

	ng := g.Group("/notifications")
	ng.GET("/stream", api.stream, streamJWT)

	ag := ng.Group("", jwt)
	ag.GET("/unread", api.unread)
	ag.POST("/read-all", api.markAllRead)
	ag.POST("/:id/read", api.markRead)
}

// Handlers

func (api *notificationApi) unread(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	msgs, err := api.dispatcher.ListUnread(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "listing unread notifications")
	}
	return ctx.JSON(http.StatusOK, msgs)
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err := api.dispatcher.MarkRead(ctx.Request().Context(), usr.ID, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "marking notification as read")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *notificationApi) markAllRead(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	n, err := api.dispatcher.MarkAllRead(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "marking all notifications as read")
	}
	return ctx.JSON(http.StatusOK, MarkAllReadResponse{Updated: n})
}

// stream upgrades to a websocket and pushes the unread backlog, then live messages, until either side leaves.
// An evicted session is closed with StatusTryAgainLater: the client resumes from its unread backlog.
func (api *notificationApi) stream(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sess, err := api.dispatcher.Connect(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "connecting notification session")
	}
	defer sess.Close()

	conn, err := websocket.Accept(ctx.Response(), ctx.Request(), &websocket.AcceptOptions{
		OriginPatterns: api.origins,
	})
	if err != nil {
		// Accept has already written the error response
		return nil
	}

	// clients never send data: reading only serves to notice their close frame
	readCtx := conn.CloseRead(ctx.Request().Context())

	for {
		msg, err := sess.Next(readCtx)
		if err != nil {
			if errors.Cause(err) == notification.ErrSessionClosed {
				_ = conn.Close(websocket.StatusTryAgainLater, "session evicted")
			} else {
				_ = conn.Close(websocket.StatusNormalClosure, "")
			}
			return nil
		}

		writeCtx, cancel := context.WithTimeout(readCtx, api.writeTimeout)
		err = wsjson.Write(writeCtx, conn, msg)
		cancel()
		if err != nil {
			dErr := core.NewDeliveryDegradedError(usr.ID, err)
			api.logger.Warn(fmt.Sprintf("notification: %v", dErr), dErr, usr)
			_ = conn.Close(websocket.StatusInternalError, "write failed")
			return nil
		}
	}
}

type MarkAllReadResponse struct {
	Updated int `json:"updated"`
}
