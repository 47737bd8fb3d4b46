package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

const uniqueViolation = "23505"

// postgres went away for good: admin_shutdown, crash_shutdown, cannot_connect_now.
var shutdownCodes = map[pq.ErrorCode]bool{"57P01": true, "57P02": true, "57P03": true}

// wrap annotates err with msg. Errors telling that the database is shutting down
// become core shutdown errors, so that the API stops and gets restarted.
func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok && shutdownCodes[pqErr.Code] {
		return core.NewShutdownError(msg + ": " + pqErr.Error())
	}
	return errors.Wrap(err, msg)
}

// isUniqueViolation reports whether err is a postgres unique constraint violation, optionally on constraint.
func isUniqueViolation(err error, constraint ...string) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	if !ok || pqErr.Code != uniqueViolation {
		return false
	}
	return len(constraint) == 0 || pqErr.Constraint == constraint[0]
}

// trapNoRowsErr maps "no rows" to notFound and wraps anything else with msg.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return wrap(err, msg)
}

// inTx runs fn in a transaction, rolled back when fn fails.
func inTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return wrap(tx.Commit(), "committing transaction")
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
