package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aggrlabs/event-aggregator/internal/logger"
)

func testStore(attempts int) *Store {
	return &Store{
		retryAttempts: attempts,
		retryBackoff:  time.Millisecond,
		log:           logger.Nop(),
	}
}

func TestWithRetryTransientThenSuccess(t *testing.T) {
	s := testStore(3)

	calls := 0
	err := s.withRetry(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryExhaustionSurfacesUnavailable(t *testing.T) {
	s := testStore(3)

	calls := 0
	err := s.withRetry(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return &pgconn.PgError{Code: "08006"}
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, 3, calls)
}

func TestWithRetryNonRetryableFailsImmediately(t *testing.T) {
	s := testStore(3)

	fatal := errors.New("column does not exist")
	calls := 0
	err := s.withRetry(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return fatal
	})

	require.ErrorIs(t, err, fatal)
	assert.False(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, 1, calls)
}

func TestWithRetryStopsOnCanceledContext(t *testing.T) {
	s := testStore(5)

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := s.withRetry(ctx, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return &pgconn.PgError{Code: "40001"}
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
