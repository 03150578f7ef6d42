package snapshot

import (
	"context"
	"fmt"
	"os"

	"actdb/internal/infra/persistence/postgres"
	"actdb/internal/infra/persistence/sqlite"
	"actdb/internal/persistence"
)

// IndexDriver identifies a concrete change-point index implementation.
type IndexDriver string

const (
	IndexMemory   IndexDriver = "memory"   // in-memory only (tests / ephemeral)
	IndexSQLite   IndexDriver = "sqlite"   // embedded sqlite file
	IndexPostgres IndexDriver = "postgres" // PostgreSQL server
)

// OpenIndex selects an index backend using environment variables.
// Defaults to sqlite when unset.
//
//	ACTDB_INDEX_DRIVER: memory|sqlite|postgres (default sqlite)
//	ACTDB_INDEX_SQLITE_PATH: path to sqlite file (default ./actdb.db)
//	ACTDB_INDEX_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenIndex(ctx context.Context) (persistence.Index, error) {
	driver := os.Getenv("ACTDB_INDEX_DRIVER")
	if driver == "" {
		driver = string(IndexSQLite)
	}
	switch IndexDriver(driver) {
	case IndexMemory:
		return persistence.NewMemory(), nil
	case IndexSQLite:
		return sqlite.NewIndex(os.Getenv("ACTDB_INDEX_SQLITE_PATH"))
	case IndexPostgres:
		dsn := os.Getenv("ACTDB_INDEX_POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("ACTDB_INDEX_POSTGRES_DSN required for postgres driver")
		}
		return postgres.NewIndex(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown index driver %s", driver)
	}
}
