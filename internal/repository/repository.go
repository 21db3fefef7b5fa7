// Package repository persists the group ledger in PostgreSQL.
//
// Every repository is built on database.PGXDB, so the same code runs against
// the connection pool or inside a ledger unit of work.
package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a lookup matches no row. It wraps pgx.ErrNoRows.
var ErrNotFound = fmt.Errorf("record not found: %w", pgx.ErrNoRows)

// notFoundOr maps pgx.ErrNoRows to ErrNotFound and wraps anything else with msg.
func notFoundOr(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// rowScanner is the subset of pgx.Rows used by the scan helpers.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}
