package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/aggrlabs/event-aggregator/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// Outcome is the result of TryCommit.
type Outcome int

const (
	// Committed: the event identity was new; ledger row, audit entry and
	// stats increment are all durable.
	Committed Outcome = iota
	// AlreadyExists: the identity was already in the ledger; only a
	// duplicate audit entry and stats increment were written.
	AlreadyExists
)

// ProcessedEvent is one ledger row.
type ProcessedEvent struct {
	Topic       string
	EventID     string
	Source      string
	ProcessedAt time.Time
}

// TopicStats are the per-topic counters derived from publish decisions.
type TopicStats struct {
	Topic           string
	ProcessedCount  int64
	DuplicateCount  int64
	LastProcessedAt *time.Time
}

// Snapshot is a consistent view of the statistics tables.
type Snapshot struct {
	TotalProcessed  int64
	TotalDuplicates int64
	PerTopic        []TopicStats
}

// Options tune the gateway's retry behavior for transient failures.
type Options struct {
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Store is the durable persistence gateway over Postgres. All aggregator
// instances share correctness through its uniqueness constraint; no
// in-process state is authoritative.
type Store struct {
	pool          *pgxpool.Pool
	retryAttempts int
	retryBackoff  time.Duration
	log           zerolog.Logger
}

// New creates a connection pool and fails fast if the DB is unreachable.
func New(dbURL string, opts Options, log zerolog.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}

	return &Store{
		pool:          pool,
		retryAttempts: opts.RetryAttempts,
		retryBackoff:  opts.RetryBackoff,
		log:           log.With().Str("component", "store").Logger(),
	}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping is used by the health endpoint to validate DB connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// TryCommit records one publish decision atomically.
//
// A new identity gets a ledger row, a 'processed' audit entry and a
// processed_count increment in one transaction. A known identity gets a
// 'duplicate' audit entry and a duplicate_count increment in a
// transaction of its own. Either way no partial state can remain.
//
// Transient failures are retried with bounded exponential backoff; the
// operation is idempotent per identity, so a retry after an ambiguous
// failure either inserts once or correctly reports AlreadyExists.
func (s *Store) TryCommit(ctx context.Context, ev models.Event) (Outcome, error) {
	var out Outcome
	err := s.withRetry(ctx, "try_commit", func(ctx context.Context) error {
		var err error
		out, err = s.tryCommitOnce(ctx, ev)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			// The conflict-tolerant insert never raises this; a different
			// constraint tripped, which means the schema is damaged.
			s.log.Error().Err(err).
				Str("topic", ev.Topic).
				Str("event_id", ev.EventID).
				Msg("unexpected uniqueness conflict")
			return 0, fmt.Errorf("storage corruption: %w", err)
		}
		return 0, err
	}
	return out, nil
}

func (s *Store) tryCommitOnce(ctx context.Context, ev models.Event) (Outcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Conflict produces no row; pgx.ErrNoRows marks the duplicate path.
	var processedAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO processed_events(topic, event_id, source)
		VALUES ($1, $2, $3)
		ON CONFLICT (topic, event_id) DO NOTHING
		RETURNING processed_at
	`, ev.Topic, ev.EventID, ev.Source).Scan(&processedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Identity already in the ledger. Abandon this transaction and
		// record the duplicate in a fresh one.
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			return 0, fmt.Errorf("rollback: %w", err)
		}
		if err := s.recordDuplicate(ctx, ev); err != nil {
			return 0, err
		}
		return AlreadyExists, nil
	}
	if err != nil {
		return 0, fmt.Errorf("insert ledger row: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO audit_logs(event_topic, event_id, action, source, occurred_at)
		VALUES ($1, $2, 'processed', $3, $4)
	`, ev.Topic, ev.EventID, ev.Source, processedAt); err != nil {
		return 0, fmt.Errorf("insert audit entry: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO event_stats(topic, processed_count, duplicate_count, last_processed_at)
		VALUES ($1, 1, 0, $2)
		ON CONFLICT (topic) DO UPDATE
		SET processed_count   = event_stats.processed_count + 1,
		    last_processed_at = EXCLUDED.last_processed_at
	`, ev.Topic, processedAt); err != nil {
		return 0, fmt.Errorf("update stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return Committed, nil
}

// recordDuplicate writes the duplicate audit entry and counter bump.
// Runs outside the failed insert's transaction by design of TryCommit.
func (s *Store) recordDuplicate(ctx context.Context, ev models.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin duplicate transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO audit_logs(event_topic, event_id, action, source)
		VALUES ($1, $2, 'duplicate', $3)
	`, ev.Topic, ev.EventID, ev.Source); err != nil {
		return fmt.Errorf("insert duplicate audit entry: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO event_stats(topic, processed_count, duplicate_count)
		VALUES ($1, 0, 1)
		ON CONFLICT (topic) DO UPDATE
		SET duplicate_count = event_stats.duplicate_count + 1
	`, ev.Topic); err != nil {
		return fmt.Errorf("update duplicate stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit duplicate: %w", err)
	}
	return nil
}

// Stats returns the committed statistics snapshot: totals plus the
// per-topic breakdown, read in one query so no write is half-reflected.
func (s *Store) Stats(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.withRetry(ctx, "stats", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT topic, processed_count, duplicate_count, last_processed_at
			FROM event_stats
			ORDER BY topic
		`)
		if err != nil {
			return fmt.Errorf("query stats: %w", err)
		}
		defer rows.Close()

		snap = Snapshot{}
		for rows.Next() {
			var ts TopicStats
			if err := rows.Scan(&ts.Topic, &ts.ProcessedCount, &ts.DuplicateCount, &ts.LastProcessedAt); err != nil {
				return fmt.Errorf("scan stats row: %w", err)
			}
			snap.TotalProcessed += ts.ProcessedCount
			snap.TotalDuplicates += ts.DuplicateCount
			snap.PerTopic = append(snap.PerTopic, ts)
		}
		return rows.Err()
	})
	return snap, err
}

// Topics returns the distinct topics with any recorded activity.
func (s *Store) Topics(ctx context.Context) ([]string, error) {
	var topics []string
	err := s.withRetry(ctx, "topics", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT topic
			FROM event_stats
			WHERE processed_count > 0 OR duplicate_count > 0
			ORDER BY topic
		`)
		if err != nil {
			return fmt.Errorf("query topics: %w", err)
		}
		defer rows.Close()

		topics = topics[:0]
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				return fmt.Errorf("scan topic: %w", err)
			}
			topics = append(topics, t)
		}
		return rows.Err()
	})
	return topics, err
}

// RecentEvents lists ledger rows by processed_at descending. topic=""
// means all topics; ties on processed_at break by insertion order so the
// listing stays stable under concurrent writes.
func (s *Store) RecentEvents(ctx context.Context, topic string, limit, offset int) ([]ProcessedEvent, error) {
	query := `
		SELECT topic, event_id, source, processed_at
		FROM processed_events
	`
	args := []any{}
	if topic != "" {
		query += ` WHERE topic = $1`
		args = append(args, topic)
	}
	query += fmt.Sprintf(` ORDER BY processed_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	var events []ProcessedEvent
	err := s.withRetry(ctx, "recent_events", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		defer rows.Close()

		events = events[:0]
		for rows.Next() {
			var ev ProcessedEvent
			if err := rows.Scan(&ev.Topic, &ev.EventID, &ev.Source, &ev.ProcessedAt); err != nil {
				return fmt.Errorf("scan event: %w", err)
			}
			events = append(events, ev)
		}
		return rows.Err()
	})
	return events, err
}

// withRetry runs fn up to the configured attempt count, doubling the
// backoff between attempts. Non-retryable errors return immediately;
// exhausted retries surface as ErrUnavailable.
func (s *Store) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := s.retryBackoff

	var err error
	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !isRetryable(err) {
			return err
		}

		s.log.Warn().Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", s.retryAttempts).
			Msg("transient storage failure")

		if attempt == s.retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%s failed after %d attempts: %w: %s", op, s.retryAttempts, ErrUnavailable, err)
}
