package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	defaultTableName    = "courier_kv"
	sqlOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type sqlDialect struct {
	driverName  string
	createTable string
	selectValue string
	upsertValue string
	deleteValue string
}

func postgresDialect(table string) sqlDialect {
	quoted := quoteIdentifier(table)
	return sqlDialect{
		driverName: "postgres",
		createTable: fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				key TEXT PRIMARY KEY,
				value BYTEA NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, quoted),
		selectValue: fmt.Sprintf("SELECT value FROM %s WHERE key = $1", quoted),
		upsertValue: fmt.Sprintf(`
			INSERT INTO %s (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key)
			DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, quoted),
		deleteValue: fmt.Sprintf("DELETE FROM %s WHERE key = $1", quoted),
	}
}

func sqliteDialect(table string) sqlDialect {
	quoted := quoteIdentifier(table)
	return sqlDialect{
		driverName: "sqlite",
		createTable: fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				key TEXT PRIMARY KEY,
				value BLOB NOT NULL,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`, quoted),
		selectValue: fmt.Sprintf("SELECT value FROM %s WHERE key = ?", quoted),
		upsertValue: fmt.Sprintf(`
			INSERT INTO %s (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (key)
			DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`, quoted),
		deleteValue: fmt.Sprintf("DELETE FROM %s WHERE key = ?", quoted),
	}
}

// SQLStore is a Store over a single key/value table. The table is created on
// first use.
type SQLStore struct {
	dsn     string
	dialect sqlDialect
	openDB  sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &SQLStore{
		dsn:     dsn,
		dialect: postgresDialect(defaultTableName),
		openDB:  sql.Open,
	}, nil
}

func NewSQLiteStore(path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLStore{
		dsn:     path,
		dialect: sqliteDialect(defaultTableName),
		openDB:  sql.Open,
	}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	var value []byte
	err := s.db.QueryRowContext(ctx, s.dialect.selectValue, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cloneBytes(value), nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, s.dialect.upsertValue, key, cloneBytes(value))
	return err
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, s.dialect.deleteValue, key)
	return err
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driverName, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()
		if _, err := db.ExecContext(ctx, s.dialect.createTable); err != nil {
			_ = db.Close()
			s.initErr = fmt.Errorf("create %s table: %w", s.dialect.driverName, err)
			return
		}
		s.db = db
	})
	return s.initErr
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
