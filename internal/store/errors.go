package store

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUnavailable is returned when a storage operation still fails after
// the configured retry attempts. The caller may safely retry the whole
// publish: TryCommit is idempotent per event identity.
var ErrUnavailable = errors.New("storage unavailable")

// Postgres error codes the gateway reacts to.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
	pgConnectionClass      = "08" // connection exceptions
)

// isRetryable reports whether an error is a transient storage failure
// worth retrying: connection loss, timeouts, serialization failures and
// deadlocks. Uniqueness conflicts are never retried; they are an
// expected outcome, not a failure.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected {
			return true
		}
		return strings.HasPrefix(pgErr.Code, pgConnectionClass)
	}

	if pgconn.Timeout(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// isUniqueViolation reports whether an error is a uniqueness-constraint
// conflict. TryCommit inserts with ON CONFLICT DO NOTHING, so seeing
// one anywhere else signals corruption rather than a duplicate.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
