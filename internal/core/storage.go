package core

import (
	"fmt"
	"log/slog"
	"os"

	"stocktake/internal/infra/persistence/memory"
	"stocktake/internal/infra/persistence/postgres"
	"stocktake/internal/infra/persistence/sqlite"
	"stocktake/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / degraded sessions)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	STOCKTAKE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	STOCKTAKE_SQLITE_PATH: path to sqlite file (default ./stocktake.db)
//	STOCKTAKE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *domain.RulesEngine) (PersistentStore, error) {
	driver := os.Getenv("STOCKTAKE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		path := os.Getenv("STOCKTAKE_SQLITE_PATH")
		return sqlite.NewStore(path, engine)
	case StoragePostgres:
		dsn := os.Getenv("STOCKTAKE_POSTGRES_DSN")
		return postgres.NewStore(dsn, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenPersistentStoreWithFallback opens the configured backend and, when the
// durable engine is unavailable, degrades to a memory-only store so the
// session can continue. The degradation is warned about exactly once; counts
// recorded in a degraded session do not survive the process.
func OpenPersistentStoreWithFallback(engine *domain.RulesEngine, logger *slog.Logger) (PersistentStore, bool) {
	store, err := OpenPersistentStore(engine)
	if err == nil {
		return store, false
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("persistent store unavailable, continuing memory-only", "error", err)
	return memory.NewStore(engine), true
}
