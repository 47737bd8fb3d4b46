package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/academia/apps/api/echo"
	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

// downUserService behaves as if the database was shut down by an operator.
type downUserService struct {
	user.Service
}

func (downUserService) GetByUsernameOrEmail(context.Context, string) (user.User, error) {
	return user.User{}, errors.Wrap(core.NewShutdownError("getting user: pq: terminating connection due to administrator command"), "finding user")
}

func Test_errorHandler_shutdown(t *testing.T) {
	app := setup(t)
	deps := app.deps
	deps.UserSvc = downUserService{deps.UserSvc}
	server := echoapi.NewServer(deps)

	req, rec := newRequest(http.MethodPost, "/v1/users/login", []byte(`{"username":"admin","password":"`+testPwd+`"}`))
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	select {
	case sig := <-server.ShutdownSignal():
		assert.NotNil(t, sig)
	default:
		t.Fatal("a shutdown error must signal the server to stop")
	}
	require.NotEmpty(t, app.logger.Entries("error"))

	// other server errors keep the server up
	req, rec = newRequest(http.MethodPost, "/v1/users/login", []byte(`{"username":"admin","password":"`+testPwd+`"}`))
	deps.UserSvc = brokenUserService{deps.UserSvc}
	server = echoapi.NewServer(deps)
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	select {
	case <-server.ShutdownSignal():
		t.Fatal("unexpected shutdown signal")
	default:
	}
}

type brokenUserService struct {
	user.Service
}

func (brokenUserService) GetByUsernameOrEmail(context.Context, string) (user.User, error) {
	return user.User{}, errors.New("boom")
}
