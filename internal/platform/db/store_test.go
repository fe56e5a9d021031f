package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestWrap(t *testing.T) {
	if Wrap("op", nil) != nil {
		t.Error("expected nil for nil error")
	}
	if !errors.Is(Wrap("op", pgx.ErrNoRows), pgx.ErrNoRows) {
		t.Error("expected ErrNoRows to pass through")
	}
	var se *StorageError
	if errors.As(Wrap("op", pgx.ErrNoRows), &se) {
		t.Error("ErrNoRows must not become a StorageError")
	}

	once := Wrap("inner", errors.New("connection refused"))
	twice := Wrap("outer", once)
	if !errors.As(twice, &se) || se.Op != "inner" {
		t.Errorf("expected existing StorageError to be kept, got %v", twice)
	}
}

func TestDetail(t *testing.T) {
	if Detail(nil) != "" {
		t.Error("expected empty detail for nil")
	}
	plain := Wrap("select", errors.New("dial tcp: connection refused"))
	if Detail(plain) != "dial tcp: connection refused" {
		t.Errorf("unexpected detail %q", Detail(plain))
	}
	wrapped := fmt.Errorf("outer: %w", &pgconn.PgError{Message: "relation does not exist"})
	if Detail(wrapped) != "relation does not exist" {
		t.Errorf("unexpected detail %q", Detail(wrapped))
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := Wrap("insert", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(dup) {
		t.Error("expected unique violation to be detected")
	}
	if IsUniqueViolation(Wrap("insert", &pgconn.PgError{Code: "23502"})) {
		t.Error("not-null violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Error("plain error is not a unique violation")
	}
}
