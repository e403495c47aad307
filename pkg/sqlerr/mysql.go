// Package sqlerr adapts concrete driver errors to retry.SqlError, the
// minimal SQLSTATE-bearing seam the retry policy classifies on. This is
// the MySQL adapter, grounded on the same error-number switch the
// upstream schema-change engine uses to decide if a transaction is worth
// retrying.
package sqlerr

import (
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/dbarchive/sqlbackup/pkg/retry"
)

// MySQL server error numbers this adapter recognizes, matching the set
// the upstream engine's canRetryError switches on.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errCannotConnect   = 2003
	errConnLost        = 2013
)

// mysqlError wraps a *mysql.MySQLError with a synthetic SQLSTATE class so
// it satisfies retry.SqlError. go-sql-driver/mysql does not surface the
// server's real SQLSTATE text, only the numeric error code, so this maps
// the handful of codes the retry policy cares about to their SQLSTATE
// class prefixes.
type mysqlError struct {
	*mysql.MySQLError
	state string
}

func (e *mysqlError) SQLState() string { return e.state }

func (e *mysqlError) Unwrap() error { return e.MySQLError }

// Adapt wraps err in a retry.SqlError if it is a *mysql.MySQLError with a
// recognized error number; otherwise it returns err unchanged (and
// retry.IsTransient will treat it as fatal, which is the safe default
// for an error this adapter does not understand).
func Adapt(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}

	state := classify(myErr.Number)
	if state == "" {
		return err
	}
	return &mysqlError{MySQLError: myErr, state: state}
}

func classify(number uint16) string {
	switch number {
	case errDeadlock, errLockWaitTimeout:
		return "40001"
	case errCannotConnect:
		return "08001"
	case errConnLost:
		return "08S01"
	default:
		return ""
	}
}

var _ retry.SqlError = (*mysqlError)(nil)
