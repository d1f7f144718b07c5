// Package sqlite persists the crash-safe review queue and session
// history in a local SQLite database using the pure-Go driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/longregen/recite/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_reviews (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	card_id INTEGER NOT NULL,
	ease INTEGER NOT NULL,
	timestamp TEXT NOT NULL,
	session_id TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	synced_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_pending_unsynced
	ON pending_reviews(synced_at) WHERE synced_at IS NULL;

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	deck_name TEXT NOT NULL,
	state TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	cards_reviewed INTEGER NOT NULL DEFAULT 0,
	ratings_synced INTEGER NOT NULL DEFAULT 0,
	ratings_failed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_incomplete
	ON sessions(state) WHERE state NOT IN ('complete', 'idle');
`

// Store implements ports.ReviewStore on a single SQLite file.
// Writes are serialized through a mutex; WAL mode keeps readers
// unblocked while a write is in flight.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore opens (creating if needed) the database at path and applies
// the schema. The DSN pragmas apply to every pooled connection.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-64000)&_pragma=temp_store(MEMORY)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One writer at a time; WAL readers do not need extra connections
	// for this workload.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	logger.Info("review store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) SaveReview(ctx context.Context, cardID int64, ease int, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_reviews (card_id, ease, timestamp, session_id) VALUES (?, ?, ?, ?)`,
		cardID, ease, formatTime(time.Now().UTC()), sessionID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: save review: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: save review id: %w", err)
	}
	return id, nil
}

func (s *Store) GetPendingReviews(ctx context.Context) ([]ports.PendingReview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, card_id, ease, timestamp, session_id, retry_count, synced_at
		 FROM pending_reviews
		 WHERE synced_at IS NULL
		 ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get pending reviews: %w", err)
	}
	defer rows.Close()

	var pending []ports.PendingReview
	for rows.Next() {
		var (
			rev      ports.PendingReview
			ts       string
			syncedAt sql.NullString
		)
		if err := rows.Scan(&rev.ID, &rev.CardID, &rev.Ease, &ts, &rev.SessionID, &rev.RetryCount, &syncedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan pending review: %w", err)
		}
		rev.Timestamp = parseTime(ts)
		if syncedAt.Valid {
			t := parseTime(syncedAt.String)
			rev.SyncedAt = &t
		}
		pending = append(pending, rev)
	}
	return pending, rows.Err()
}

func (s *Store) MarkSynced(ctx context.Context, reviewID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_reviews SET synced_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), reviewID)
	if err != nil {
		return fmt.Errorf("sqlite: mark synced: %w", err)
	}
	return nil
}

func (s *Store) IncrementRetry(ctx context.Context, reviewID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_reviews SET retry_count = retry_count + 1 WHERE id = ?`,
		reviewID)
	if err != nil {
		return fmt.Errorf("sqlite: increment retry: %w", err)
	}
	return nil
}

func (s *Store) CleanupOldSynced(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := formatTime(time.Now().UTC().Add(-retention))
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_reviews WHERE synced_at IS NOT NULL AND synced_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: cleanup synced: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("cleaned up synced reviews", "count", n)
	}
	return n, nil
}

func (s *Store) PurgeOldUnsynced(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := formatTime(time.Now().UTC().Add(-retention))
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_reviews WHERE synced_at IS NULL AND timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge unsynced: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn("purged unsynced reviews past retention", "count", n)
	}
	return n, nil
}

// SaveSession inserts the session row or, when it already exists,
// refreshes its mutable progress columns.
func (s *Store) SaveSession(ctx context.Context, rec ports.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, deck_name, state, started_at, cards_reviewed, ratings_synced, ratings_failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			cards_reviewed = excluded.cards_reviewed,
			ratings_synced = excluded.ratings_synced,
			ratings_failed = excluded.ratings_failed`,
		rec.ID, rec.DeckName, rec.State, formatTime(rec.StartedAt),
		rec.CardsReviewed, rec.RatingsSynced, rec.RatingsFailed)
	if err != nil {
		return fmt.Errorf("sqlite: save session: %w", err)
	}
	return nil
}

func (s *Store) EndSession(ctx context.Context, sessionID, state string, synced, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, ended_at = ?, ratings_synced = ?, ratings_failed = ?
		 WHERE id = ?`,
		state, formatTime(time.Now().UTC()), synced, failed, sessionID)
	if err != nil {
		return fmt.Errorf("sqlite: end session: %w", err)
	}
	return nil
}

func (s *Store) GetIncompleteSessions(ctx context.Context) ([]ports.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deck_name, state, started_at, ended_at, cards_reviewed, ratings_synced, ratings_failed
		 FROM sessions
		 WHERE state NOT IN ('complete', 'idle')
		 ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get incomplete sessions: %w", err)
	}
	defer rows.Close()

	var recs []ports.SessionRecord
	for rows.Next() {
		var (
			rec       ports.SessionRecord
			startedAt string
			endedAt   sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.DeckName, &rec.State, &startedAt, &endedAt,
			&rec.CardsReviewed, &rec.RatingsSynced, &rec.RatingsFailed); err != nil {
			return nil, fmt.Errorf("sqlite: scan session: %w", err)
		}
		rec.StartedAt = parseTime(startedAt)
		if endedAt.Valid {
			t := parseTime(endedAt.String)
			rec.EndedAt = &t
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ResetStaleProcessing marks sessions abandoned by a crashed process.
// Anything not terminal and never ended belonged to a process that is
// gone; its pending reviews stay queued for the recovery replay.
func (s *Store) ResetStaleProcessing(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = 'crashed', ended_at = ?
		 WHERE state NOT IN ('complete', 'idle', 'crashed') AND ended_at IS NULL`,
		formatTime(time.Now().UTC()))
	if err != nil {
		return 0, fmt.Errorf("sqlite: reset stale sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn("marked stale sessions as crashed", "count", n)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Timestamps are stored as RFC 3339 UTC text at fixed millisecond
// precision. The width must not vary (Go's RFC3339Nano drops trailing
// fractional zeros) or lexicographic order in SQL stops matching
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
