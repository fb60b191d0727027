package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockPostgresStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock failed: %v", err)
	}
	store, err := NewPostgresStore("postgres://localhost/courier?sslmode=disable")
	if err != nil {
		t.Fatalf("new postgres store failed: %v", err)
	}
	store.openDB = func(driverName, dsn string) (*sql.DB, error) {
		if driverName != "postgres" {
			t.Fatalf("expected postgres driver, got %s", driverName)
		}
		return db, nil
	}
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "courier_kv"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	return store, mock
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "courier_kv"`)).
		WithArgs("auth.refresh_token", []byte("refresh-1")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM "courier_kv" WHERE key = $1`)).
		WithArgs("auth.refresh_token").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("refresh-1")))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "courier_kv" WHERE key = $1`)).
		WithArgs("auth.refresh_token").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM "courier_kv" WHERE key = $1`)).
		WithArgs("auth.refresh_token").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	if err := store.Set(ctx, "auth.refresh_token", []byte("refresh-1")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, err := store.Get(ctx, "auth.refresh_token")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(value) != "refresh-1" {
		t.Fatalf("expected refresh-1, got %q", value)
	}
	if err := store.Delete(ctx, "auth.refresh_token"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "auth.refresh_token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreInitFailureIsSticky(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock failed: %v", err)
	}
	store, err := NewPostgresStore("postgres://localhost/courier")
	if err != nil {
		t.Fatalf("new postgres store failed: %v", err)
	}
	opens := 0
	store.openDB = func(string, string) (*sql.DB, error) {
		opens++
		return db, nil
	}
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	mock.ExpectClose()

	if _, err := store.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected init error")
	}
	if err := store.Set(context.Background(), "k", []byte("v")); err == nil {
		t.Fatalf("expected init error to persist")
	}
	if opens != 1 {
		t.Fatalf("expected a single open attempt, got %d", opens)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	if got := quoteIdentifier(`we"ird`); got != `"we""ird"` {
		t.Fatalf("unexpected quoting: %s", got)
	}
	if got := quoteIdentifier(" "); got != `""` {
		t.Fatalf("expected empty quoted identifier, got %s", got)
	}
}
