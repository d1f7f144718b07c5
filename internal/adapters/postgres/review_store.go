// Package postgres implements the review queue and session history on
// PostgreSQL for deployments that already run one.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longregen/recite/internal/ports"
)

const defaultQueryTimeout = 30 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS recite_pending_reviews (
	id BIGSERIAL PRIMARY KEY,
	card_id BIGINT NOT NULL,
	ease INTEGER NOT NULL,
	ts TIMESTAMPTZ NOT NULL DEFAULT now(),
	session_id TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	synced_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_recite_pending_unsynced
	ON recite_pending_reviews(ts) WHERE synced_at IS NULL;

CREATE TABLE IF NOT EXISTS recite_sessions (
	id TEXT PRIMARY KEY,
	deck_name TEXT NOT NULL,
	state TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	cards_reviewed INTEGER NOT NULL DEFAULT 0,
	ratings_synced INTEGER NOT NULL DEFAULT 0,
	ratings_failed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_recite_sessions_incomplete
	ON recite_sessions(state) WHERE state NOT IN ('complete', 'idle');
`

// querier is the subset of pgxpool.Pool the store uses. pgxmock
// satisfies it in tests.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ports.ReviewStore on a pgx connection pool.
type Store struct {
	db     querier
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore applies the schema and returns a store bound to the pool.
func NewStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	logger.Info("review store opened", "backend", "postgres")
	return &Store{db: pool, pool: pool, logger: logger}, nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

func (s *Store) SaveReview(ctx context.Context, cardID int64, ease int, sessionID string) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO recite_pending_reviews (card_id, ease, session_id) VALUES ($1, $2, $3) RETURNING id`,
		cardID, ease, sessionID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: save review: %w", err)
	}
	return id, nil
}

func (s *Store) GetPendingReviews(ctx context.Context) ([]ports.PendingReview, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx,
		`SELECT id, card_id, ease, ts, session_id, retry_count, synced_at
		 FROM recite_pending_reviews
		 WHERE synced_at IS NULL
		 ORDER BY ts ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get pending reviews: %w", err)
	}
	defer rows.Close()

	var pending []ports.PendingReview
	for rows.Next() {
		var rev ports.PendingReview
		if err := rows.Scan(&rev.ID, &rev.CardID, &rev.Ease, &rev.Timestamp,
			&rev.SessionID, &rev.RetryCount, &rev.SyncedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan pending review: %w", err)
		}
		pending = append(pending, rev)
	}
	return pending, rows.Err()
}

func (s *Store) MarkSynced(ctx context.Context, reviewID int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.Exec(ctx,
		`UPDATE recite_pending_reviews SET synced_at = now() WHERE id = $1`, reviewID)
	if err != nil {
		return fmt.Errorf("postgres: mark synced: %w", err)
	}
	return nil
}

func (s *Store) IncrementRetry(ctx context.Context, reviewID int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.Exec(ctx,
		`UPDATE recite_pending_reviews SET retry_count = retry_count + 1 WHERE id = $1`, reviewID)
	if err != nil {
		return fmt.Errorf("postgres: increment retry: %w", err)
	}
	return nil
}

func (s *Store) CleanupOldSynced(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx,
		`DELETE FROM recite_pending_reviews WHERE synced_at IS NOT NULL AND synced_at < $1`,
		time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("postgres: cleanup synced: %w", err)
	}
	n := tag.RowsAffected()
	if n > 0 {
		s.logger.Info("cleaned up synced reviews", "count", n)
	}
	return n, nil
}

func (s *Store) PurgeOldUnsynced(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx,
		`DELETE FROM recite_pending_reviews WHERE synced_at IS NULL AND ts < $1`,
		time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("postgres: purge unsynced: %w", err)
	}
	n := tag.RowsAffected()
	if n > 0 {
		s.logger.Warn("purged unsynced reviews past retention", "count", n)
	}
	return n, nil
}

func (s *Store) SaveSession(ctx context.Context, rec ports.SessionRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.Exec(ctx,
		`INSERT INTO recite_sessions (id, deck_name, state, started_at, cards_reviewed, ratings_synced, ratings_failed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			cards_reviewed = EXCLUDED.cards_reviewed,
			ratings_synced = EXCLUDED.ratings_synced,
			ratings_failed = EXCLUDED.ratings_failed`,
		rec.ID, rec.DeckName, rec.State, rec.StartedAt.UTC(),
		rec.CardsReviewed, rec.RatingsSynced, rec.RatingsFailed)
	if err != nil {
		return fmt.Errorf("postgres: save session: %w", err)
	}
	return nil
}

func (s *Store) EndSession(ctx context.Context, sessionID, state string, synced, failed int) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.Exec(ctx,
		`UPDATE recite_sessions SET state = $1, ended_at = now(), ratings_synced = $2, ratings_failed = $3
		 WHERE id = $4`,
		state, synced, failed, sessionID)
	if err != nil {
		return fmt.Errorf("postgres: end session: %w", err)
	}
	return nil
}

func (s *Store) GetIncompleteSessions(ctx context.Context) ([]ports.SessionRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx,
		`SELECT id, deck_name, state, started_at, ended_at, cards_reviewed, ratings_synced, ratings_failed
		 FROM recite_sessions
		 WHERE state NOT IN ('complete', 'idle')
		 ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: get incomplete sessions: %w", err)
	}
	defer rows.Close()

	var recs []ports.SessionRecord
	for rows.Next() {
		var rec ports.SessionRecord
		if err := rows.Scan(&rec.ID, &rec.DeckName, &rec.State, &rec.StartedAt, &rec.EndedAt,
			&rec.CardsReviewed, &rec.RatingsSynced, &rec.RatingsFailed); err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *Store) ResetStaleProcessing(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx,
		`UPDATE recite_sessions SET state = 'crashed', ended_at = now()
		 WHERE state NOT IN ('complete', 'idle', 'crashed') AND ended_at IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("postgres: reset stale sessions: %w", err)
	}
	n := tag.RowsAffected()
	if n > 0 {
		s.logger.Warn("marked stale sessions as crashed", "count", n)
	}
	return n, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
