package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tallyworks/tally/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the SQLite-backed durable cache.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the cache database at dbPath.
// It initializes WAL mode, applies pragmas and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Open returns the SQLite store at dbPath, or the degraded Nop store when
// it cannot be opened. Correctness is preserved either way; only replay
// performance differs.
func Open(dbPath string) Store {
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		return NewNop(err)
	}
	return s
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectCachedSQL = `
	SELECT id, type, payload, creator, ts_seconds, ts_nanos, ts_millis
	FROM cached_actions`

// CachedActions returns every cached action in replay order.
func (s *SQLiteStore) CachedActions(ctx context.Context) ([]types.CachedAction, error) {
	rows, err := s.db.QueryContext(ctx,
		selectCachedSQL+` ORDER BY ts_seconds ASC, ts_nanos ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query cached actions: %w", err)
	}
	defer rows.Close()
	return scanCachedActions(rows)
}

// CachedActionsAfter returns cached actions strictly newer than
// afterMillis, in replay order.
func (s *SQLiteStore) CachedActionsAfter(ctx context.Context, afterMillis int64) ([]types.CachedAction, error) {
	rows, err := s.db.QueryContext(ctx,
		selectCachedSQL+` WHERE ts_millis > ? ORDER BY ts_seconds ASC, ts_nanos ASC, id ASC`,
		afterMillis)
	if err != nil {
		return nil, fmt.Errorf("query cached actions after %d: %w", afterMillis, err)
	}
	defer rows.Close()
	return scanCachedActions(rows)
}

func scanCachedActions(rows *sql.Rows) ([]types.CachedAction, error) {
	actions := make([]types.CachedAction, 0)
	for rows.Next() {
		var (
			c       types.CachedAction
			payload sql.NullString
			seconds int64
			nanos   int32
		)
		if err := rows.Scan(&c.ID, &c.Type, &payload, &c.Creator, &seconds, &nanos, &c.Millis); err != nil {
			return nil, fmt.Errorf("scan cached action: %w", err)
		}
		c.Timestamp = &types.Timestamp{Seconds: seconds, Nanos: nanos}

		var raw json.RawMessage
		if payload.Valid {
			raw = json.RawMessage(payload.String)
		}
		p, err := types.DecodePayload(c.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("decode payload for %s: %w", c.ID, err)
		}
		c.Payload = p

		actions = append(actions, c)
	}
	return actions, rows.Err()
}

// PutCachedActions writes the records in one transaction. Each write is a
// full-record replace keyed by id, so re-fetching the same action twice
// is idempotent. Pending actions are rejected outright.
func (s *SQLiteStore) PutCachedActions(ctx context.Context, actions []types.CachedAction) error {
	if len(actions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO cached_actions
			(id, type, payload, creator, ts_seconds, ts_nanos, ts_millis)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range actions {
		if !c.Confirmed() {
			return fmt.Errorf("refusing to cache pending action %q", c.ID)
		}
		payload, err := marshalPayload(c.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, string(c.Type), payload, c.Creator,
			c.Timestamp.Seconds, c.Timestamp.Nanos, c.Millis,
		); err != nil {
			return fmt.Errorf("insert cached action %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Snapshot returns the persisted snapshot, or nil when none has been
// saved yet.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*types.Snapshot, error) {
	var (
		stateJSON string
		lastID    sql.NullString
		seconds   sql.NullInt64
		nanos     sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT state, last_action_id, last_ts_seconds, last_ts_nanos
		FROM snapshot WHERE id = 1
	`).Scan(&stateJSON, &lastID, &seconds, &nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	var snap types.Snapshot
	if err := json.Unmarshal([]byte(stateJSON), &snap.State); err != nil {
		return nil, fmt.Errorf("decode snapshot state: %w", err)
	}
	if lastID.Valid && lastID.String != "" {
		snap.LastAction = &types.Cursor{
			ID: lastID.String,
			Timestamp: types.Timestamp{
				Seconds: seconds.Int64,
				Nanos:   int32(nanos.Int64),
			},
		}
	}
	return &snap, nil
}

// PutSnapshot replaces the singleton snapshot record.
func (s *SQLiteStore) PutSnapshot(ctx context.Context, snap types.Snapshot) error {
	stateJSON, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("encode snapshot state: %w", err)
	}

	var lastID any
	var seconds, nanos any
	if snap.LastAction != nil {
		lastID = snap.LastAction.ID
		seconds = snap.LastAction.Timestamp.Seconds
		nanos = snap.LastAction.Timestamp.Nanos
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshot
			(id, state, last_action_id, last_ts_seconds, last_ts_nanos, saved_at)
		VALUES (1, ?, ?, ?, ?, ?)
	`, string(stateJSON), lastID, seconds, nanos,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// CompactBefore deletes cached actions strictly older than cutoffMillis
// and records the compaction in cache_meta.
func (s *SQLiteStore) CompactBefore(ctx context.Context, cutoffMillis int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM cached_actions WHERE ts_millis < ?`, cutoffMillis)
	if err != nil {
		return 0, fmt.Errorf("compact cached actions: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	if err := s.setMeta(ctx, "last_compaction_millis", fmt.Sprintf("%d", cutoffMillis)); err != nil {
		return removed, err
	}
	if err := s.setMeta(ctx, "last_compaction_at", time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return removed, err
	}
	return removed, nil
}

// Meta retrieves a cache metadata value by key.
func (s *SQLiteStore) Meta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cache_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("cache meta key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get cache meta: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_meta (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("set cache meta: %w", err)
	}
	return nil
}

// marshalPayload converts a payload to a sql-friendly value. Returns nil
// for empty payloads, string otherwise.
func marshalPayload(p types.Payload) (any, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return string(raw), nil
}
