package database

import (
	"context"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	testPool     *pgxpool.Pool
	testPoolOnce sync.Once
	testPoolErr  error
)

// TestPool returns a shared database connection pool for testing.
// The pool is created once and reused across all tests of a package.
// Migrations are run once when the pool is first created.
// Skips the test if TEST_DATABASE_URL is not set.
func TestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := TestDatabaseURL(t)

	testPoolOnce.Do(func() {
		testPoolErr = RunMigrations(dbURL)
		if testPoolErr != nil {
			return
		}
		testPool, testPoolErr = Connect(context.Background(), dbURL)
	})

	if testPoolErr != nil {
		t.Fatalf("failed to setup test database: %v", testPoolErr)
	}

	return testPool
}

// TestTx returns a database transaction for testing.
// The transaction is rolled back when the test completes, so tests using it
// can run in parallel without table cleanup.
//
// Usage:
//
//	tx := database.TestTx(t)
//	chatRepo := repository.NewChatRepository(tx)
//
// The returned pgx.Tx also satisfies TxBeginner: Begin on it opens a
// savepoint, which lets a ledger.Service run its units of work inside the
// test transaction.
func TestTx(t *testing.T) TestTxDB {
	t.Helper()

	pool := TestPool(t)
	ctx := context.Background()

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}

	t.Cleanup(func() {
		_ = tx.Rollback(context.Background())
	})

	return tx
}

// TestTxDB is a test transaction usable both as PGXDB and as TxBeginner.
type TestTxDB interface {
	PGXDB
	TxBeginner
}
