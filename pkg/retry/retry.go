// Package retry classifies SQL errors as transient or fatal and wraps an
// operation in a bounded, exponentially-backed-off retry loop tied to
// progress reporting, in the retry idiom this module's upstream uses for
// its own transaction retries (see dbconn.RetryableTransaction in the
// schema-change engine this was adapted from).
package retry

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/dbarchive/sqlbackup/pkg/progress"
)

// SqlError is the minimal surface the retry policy needs from a database
// error, independent of any specific driver. Concrete drivers (e.g. MySQL,
// SQLite) adapt their native error types to this interface at the edge of
// the core, matching the spec's "SQL client layer is out of scope" seam.
type SqlError interface {
	error
	SQLState() string
}

// Settings configures retry attempts and backoff.
type Settings struct {
	MaxRetries        uint
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// DefaultSettings mirrors the defaults from the archive format this
// module implements: 3 retries, 500ms initial delay, 2x backoff, capped
// at 30s.
func DefaultSettings() Settings {
	return Settings{
		MaxRetries:        3,
		InitialDelay:      500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
	}
}

// Delay returns the backoff delay for the given 0-based attempt number:
// min(MaxDelay, InitialDelay * BackoffMultiplier^attempt).
func (s Settings) Delay(attempt uint) time.Duration {
	d := float64(s.InitialDelay) * math.Pow(s.BackoffMultiplier, float64(attempt))
	if d > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(d)
}

const sqliteLockedText = "database is locked"

// IsTransient classifies err as transient: connection-class SQLSTATE (08),
// ODBC timeout classes (HYT00/HYT01), concurrency/serialization failures
// (40), or the SQLite "database is locked" text. Everything else,
// including a plain error with no SqlError adaptation, is fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if strings.Contains(err.Error(), sqliteLockedText) {
		return true
	}
	var sqlErr SqlError
	if !errors.As(err, &sqlErr) {
		return false
	}
	state := sqlErr.SQLState()
	switch {
	case strings.HasPrefix(state, "08"):
		return true
	case state == "HYT00", state == "HYT01":
		return true
	case strings.HasPrefix(state, "40"):
		return true
	default:
		return false
	}
}

// Reporter is the subset of progress.Manager the retry loop needs to
// surface a warning on each retried attempt.
type Reporter interface {
	Update(progress.Event)
}

// On invokes fn; on a transient failure with attempts remaining it emits
// a Warning progress event tagged with tableName, sleeps the backoff
// delay, and retries. On a fatal error, or once MaxRetries is exhausted,
// it returns the error from the final attempt.
func On(ctx context.Context, settings Settings, rep Reporter, tableName string, fn func() error) error {
	var lastErr error
	for attempt := uint(0); attempt <= settings.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == settings.MaxRetries || !IsTransient(lastErr) {
			return lastErr
		}
		if rep != nil {
			rep.Update(progress.Event{
				State:     progress.Warning,
				TableName: tableName,
				Message:   lastErr.Error(),
			})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settings.Delay(attempt)):
		}
	}
	return lastErr
}
