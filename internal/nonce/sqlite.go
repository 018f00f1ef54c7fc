package nonce

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore keeps nonces in a SQLite database so they survive a relay
// restart on a single node.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration
}

// NewSQLiteStore opens or creates the database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string, retention time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and writes
	// are serialized by SQLite anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if retention <= 0 {
		retention = DefaultTTL
	}
	s := &SQLiteStore{db: db, retention: retention}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS nonces (
			id TEXT PRIMARY KEY,
			value TEXT NOT NULL UNIQUE,
			expires_at INTEGER NOT NULL,
			used INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nonces_expires_at ON nonces(expires_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec Record, now time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM nonces WHERE expires_at < ?`, now.Add(-s.retention).UnixMilli(),
	); err != nil {
		return fmt.Errorf("purge nonces: %w", err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nonces (id, value, expires_at, used) VALUES (?, ?, ?, 0)`,
		rec.ID, rec.Value, rec.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) {
			switch sqliteErr.Code() {
			case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
				return ErrDuplicateID
			case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
				return ErrDuplicateValue
			}
		}
		return fmt.Errorf("insert nonce: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT id, value, expires_at, used FROM nonces WHERE id = ?`, id,
	))
}

func (s *SQLiteStore) Consume(ctx context.Context, id string, now time.Time) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin consume: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT id, value, expires_at, used FROM nonces WHERE id = ?`, id,
	))
	if err != nil {
		return Record{}, err
	}
	if err := checkConsumable(rec, now); err != nil {
		return rec, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE nonces SET used = 1 WHERE id = ? AND used = 0`, id)
	if err != nil {
		return Record{}, fmt.Errorf("mark nonce used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rec, ErrAlreadyUsed
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit consume: %w", err)
	}
	rec.Used = true
	return rec, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecord(row *sql.Row) (Record, error) {
	var (
		rec       Record
		expiresMs int64
		used      int
	)
	err := row.Scan(&rec.ID, &rec.Value, &expiresMs, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get nonce: %w", err)
	}
	rec.ExpiresAt = time.UnixMilli(expiresMs)
	rec.Used = used != 0
	return rec, nil
}
