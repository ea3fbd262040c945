package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// sqliteTimeLayout matches the created_at column default.
	sqliteTimeLayout = "2006-01-02T15:04:05Z07:00"
	legacyTimeLayout = "2006-01-02 15:04:05"
)

var errNonPositiveAge = errors.New("device: prune age must be positive")

// SQLiteStateHistoryRepository keeps state history in the state_history
// table created by the embedded migrations.
type SQLiteStateHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteStateHistoryRepository wraps an open connection whose schema is
// already migrated.
func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{db: db}
}

// RecordStateChange appends one row. An empty source is stored as push.
func (r *SQLiteStateHistoryRepository) RecordStateChange(ctx context.Context, rec Record, source Source) error {
	if rec.Topic == "" {
		return ErrInvalidTopic
	}
	if source == "" {
		source = SourcePush
	}

	const q = `INSERT INTO state_history (topic, type, raw_state, online, source) VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, rec.Topic, string(rec.Type), rec.RawState, rec.Online, string(source)); err != nil {
		return fmt.Errorf("recording %s state: %w", rec.Topic, err)
	}
	return nil
}

// GetHistory returns up to limit rows for topic, newest first. A limit
// outside 1..200 is replaced by the default or clamped.
func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, topic string, limit int) ([]StateHistoryEntry, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	const q = `SELECT id, topic, type, raw_state, online, source, created_at
		FROM state_history
		WHERE topic = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("loading %s history: %w", topic, err)
	}
	defer rows.Close()

	entries := make([]StateHistoryEntry, 0, limit)
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading %s history: %w", topic, err)
	}
	return entries, nil
}

func scanHistoryEntry(rows *sql.Rows) (StateHistoryEntry, error) {
	var (
		e                      StateHistoryEntry
		typ, source, createdAt string
	)
	if err := rows.Scan(&e.ID, &e.Topic, &typ, &e.RawState, &e.Online, &source, &createdAt); err != nil {
		return e, fmt.Errorf("scanning history row: %w", err)
	}
	e.Type = Type(typ)
	e.Source = Source(source)

	ts, err := parseHistoryTimestamp(createdAt)
	if err != nil {
		return e, fmt.Errorf("history row %d: %w", e.ID, err)
	}
	e.CreatedAt = ts
	return e, nil
}

// PruneHistory deletes rows older than olderThan and reports how many went.
func (r *SQLiteStateHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errNonPositiveAge
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(sqliteTimeLayout)
	res, err := r.db.ExecContext(ctx, `DELETE FROM state_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	return res.RowsAffected()
}

// parseHistoryTimestamp accepts the column default and the space-separated
// form SQLite's datetime() produces.
func parseHistoryTimestamp(value string) (time.Time, error) {
	for _, layout := range []string{sqliteTimeLayout, legacyTimeLayout} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable created_at %q", value)
}
