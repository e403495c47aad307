package sqlerr

import (
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbarchive/sqlbackup/pkg/retry"
)

func TestAdaptDeadlockIsTransient(t *testing.T) {
	err := Adapt(&mysql.MySQLError{Number: errDeadlock, Message: "deadlock found"})
	assert.True(t, retry.IsTransient(err))
}

func TestAdaptLockWaitTimeoutIsTransient(t *testing.T) {
	err := Adapt(&mysql.MySQLError{Number: errLockWaitTimeout, Message: "lock wait timeout"})
	assert.True(t, retry.IsTransient(err))
}

func TestAdaptCannotConnectIsTransient(t *testing.T) {
	err := Adapt(&mysql.MySQLError{Number: errCannotConnect, Message: "can't connect"})
	assert.True(t, retry.IsTransient(err))
}

func TestAdaptUnknownNumberIsNotTransient(t *testing.T) {
	err := Adapt(&mysql.MySQLError{Number: 1062, Message: "duplicate entry"})
	assert.False(t, retry.IsTransient(err))
}

func TestAdaptNonMySQLErrorIsReturnedUnchanged(t *testing.T) {
	plain := errors.New("boom")
	assert.Same(t, plain, Adapt(plain))
}

func TestAdaptNilIsNil(t *testing.T) {
	require.NoError(t, Adapt(nil))
}

func TestAdaptedErrorUnwrapsToOriginal(t *testing.T) {
	orig := &mysql.MySQLError{Number: errDeadlock, Message: "deadlock found"}
	adapted := Adapt(orig)
	var target *mysql.MySQLError
	require.ErrorAs(t, adapted, &target)
	assert.Equal(t, orig.Number, target.Number)
}
