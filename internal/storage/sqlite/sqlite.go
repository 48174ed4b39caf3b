package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"forestfocus/internal/event"
	"forestfocus/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

const defaultPollInterval = time.Second

// SQLiteStore is the durable key-value backend and session event log.
type SQLiteStore struct {
	db           *sql.DB
	dbPath       string
	quotaBytes   int64
	pollInterval time.Duration
	mu           sync.Mutex
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithQuota limits the total bytes of keys plus values in the kv table.
func WithQuota(bytes int64) Option {
	return func(s *SQLiteStore) { s.quotaBytes = bytes }
}

// WithPollInterval sets how often Watch checks for writes by other connections.
func WithPollInterval(interval time.Duration) Option {
	return func(s *SQLiteStore) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

func NewSQLiteStore(dbPath string, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{dbPath: dbPath, pollInterval: defaultPollInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kv_updated_at ON kv (updated_at);
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	type TEXT NOT NULL,
	mode TEXT,
	value REAL,
	notes TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events (type);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create db directory %s: %w", dir, err)
	}

	log.Printf("Initializing SQLite database at: %s", s.dbPath)
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// One connection keeps PRAGMA data_version meaningful for Watch.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTablesSQL); err != nil {
		db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	log.Println("Database initialized successfully.")
	return nil
}

func (s *SQLiteStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, storage.ErrUnavailable
	}
	return s.db, nil
}

func (s *SQLiteStore) Get(key string) (string, bool, error) {
	db, err := s.conn()
	if err != nil {
		return "", false, err
	}
	var value string
	err = db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(key, value string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin write: %w", err)
	}
	defer tx.Rollback()

	if s.quotaBytes > 0 {
		var used int64
		err := tx.QueryRow(`SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) FROM kv WHERE key <> ?`, key).Scan(&used)
		if err != nil {
			return fmt.Errorf("failed to measure usage: %w", err)
		}
		if used+int64(len(key)+len(value)) > s.quotaBytes {
			return storage.ErrQuotaExceeded
		}
	}

	_, err = tx.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit key %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(key string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove key %q: %w", key, err)
	}
	return nil
}

// Keys returns keys ordered by last write, oldest first.
func (s *SQLiteStore) Keys() ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT key FROM kv ORDER BY updated_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}
	return keys, nil
}

// Watch polls PRAGMA data_version, which only moves when another connection
// commits, and reports the kv rows that changed.
func (s *SQLiteStore) Watch(ctx context.Context, notify func(storage.Change)) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	version, err := dataVersion(ctx, db)
	if err != nil {
		return err
	}
	snapshot, err := s.snapshot(ctx, db)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current, err := dataVersion(ctx, db)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Printf("sqlite watch: %v", err)
				continue
			}
			if current == version {
				continue
			}
			version = current
			next, err := s.snapshot(ctx, db)
			if err != nil {
				log.Printf("sqlite watch: %v", err)
				continue
			}
			for _, change := range storage.Diff(snapshot, next) {
				notify(change)
			}
			snapshot = next
		}
	}
}

func dataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var version int64
	if err := db.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read data_version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) snapshot(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot kv: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan kv row: %w", err)
		}
		snapshot[key] = value
	}
	return snapshot, rows.Err()
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, e event.Event) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	query := `INSERT INTO events (timestamp, type, mode, value, notes) VALUES (?, ?, ?, ?, ?)`
	res, err := db.ExecContext(ctx, query, e.Timestamp, e.Type, e.Mode, e.Value, e.Notes)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetEvents(ctx context.Context, start, end time.Time, eventTypes ...event.EventType) ([]event.Event, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	query := `SELECT id, timestamp, type, mode, value, notes
	          FROM events
	          WHERE timestamp >= ? AND timestamp <= ?`
	args := []interface{}{start, end}

	if len(eventTypes) > 0 {
		placeholders := strings.Repeat("?,", len(eventTypes)-1) + "?"
		query += fmt.Sprintf(" AND type IN (%s)", placeholders)
		for _, et := range eventTypes {
			args = append(args, et)
		}
	}
	query += " ORDER BY timestamp ASC, id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.Event
		var mode sql.NullString
		var value sql.NullFloat64
		var notes sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Type, &mode, &value, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.Mode = mode.String
		e.Value = value.Float64
		e.Notes = notes.String
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	log.Println("Closing database connection.")
	err := s.db.Close()
	s.db = nil
	return err
}
