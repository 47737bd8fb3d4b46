package sqlxrepos

import (
	"database/sql"
	"testing"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/academia/core"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantShutdown bool
	}{
		{name: "admin shutdown", err: &pq.Error{Code: "57P01", Message: "terminating connection due to administrator command"}, wantShutdown: true},
		{name: "crash shutdown", err: &pq.Error{Code: "57P02"}, wantShutdown: true},
		{name: "cannot connect now", err: errors.Wrap(&pq.Error{Code: "57P03"}, "pinging"), wantShutdown: true},
		{name: "query canceled", err: &pq.Error{Code: "57014"}},
		{name: "unique violation", err: &pq.Error{Code: uniqueViolation}},
		{name: "conn done", err: sql.ErrConnDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrap(tt.err, "getting user")
			assert.Equal(t, tt.wantShutdown, core.IsShutdown(err))
			assert.Contains(t, err.Error(), "getting user: ")
			if !tt.wantShutdown {
				assert.Equal(t, errors.Cause(tt.err), errors.Cause(err))
			}
		})
	}

	assert.NoError(t, wrap(nil, "getting user"))
}
