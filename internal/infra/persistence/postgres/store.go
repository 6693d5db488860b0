// Package postgres provides a Postgres-backed persistent store that mirrors
// the embedded SQLite semantics. It exists for deployments that keep the
// count device's state on a shared server, and for driver parity in tests.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"stocktake/internal/infra/persistence/memory"
	"stocktake/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/stocktake?sslmode=disable"
)

var buckets = []string{"products", "stock", "counts", "locations", "settings", "sequence"}

var sqlOpen = sql.Open

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	prev := sqlOpen
	sqlOpen = fn
	return func() { sqlOpen = prev }
}

// Store persists state to Postgres while reusing the in-memory implementation
// for transactions.
type Store struct {
	*memory.Store
	db      *sql.DB
	mu      sync.Mutex
	version int
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the snapshot tables exist, and hydrates the
// in-memory store from any existing snapshot.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sqlOpen(defaultDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", domain.ErrStoreUnavailable, err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", domain.ErrStoreUnavailable, err)
	}
	version, err := migrate(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrStoreUnavailable, err)
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	if snapshot != nil {
		mem.ImportState(*snapshot)
	}
	return &Store{Store: mem, db: db, version: version}, nil
}

func migrate(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("create state table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_info (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("create schema_info table: %w", err)
	}
	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_info WHERE id = 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		version = 0
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if version >= domain.CurrentSchemaVersion {
		return version, nil
	}
	for _, bucket := range buckets {
		if _, err := db.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO NOTHING`, bucket, []byte("null")); err != nil {
			return 0, fmt.Errorf("seed bucket %s: %w", bucket, err)
		}
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO schema_info(id,version) VALUES(1,$1) ON CONFLICT(id) DO UPDATE SET version=excluded.version`, domain.CurrentSchemaVersion); err != nil {
		return 0, fmt.Errorf("write schema version: %w", err)
	}
	return domain.CurrentSchemaVersion, nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (*memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if err := decodeBucket(&snapshot, bucket, payload); err != nil {
			return nil, err
		}
		loaded = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state: %w", err)
	}
	if !loaded {
		return nil, nil
	}
	return &snapshot, nil
}

func decodeBucket(snapshot *memory.Snapshot, bucket string, payload []byte) error {
	var err error
	switch bucket {
	case "products":
		err = json.Unmarshal(payload, &snapshot.Products)
	case "stock":
		err = json.Unmarshal(payload, &snapshot.Stock)
	case "counts":
		err = json.Unmarshal(payload, &snapshot.Counts)
	case "locations":
		err = json.Unmarshal(payload, &snapshot.Locations)
	case "settings":
		err = json.Unmarshal(payload, &snapshot.Settings)
	case "sequence":
		err = json.Unmarshal(payload, &snapshot.NextCountID)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range buckets {
		var data []byte
		switch bucket {
		case "products":
			data, err = json.Marshal(snapshot.Products)
		case "stock":
			data, err = json.Marshal(snapshot.Stock)
		case "counts":
			data, err = json.Marshal(snapshot.Counts)
		case "locations":
			data, err = json.Marshal(snapshot.Locations)
		case "settings":
			data, err = json.Marshal(snapshot.Settings)
		case "sequence":
			data, err = json.Marshal(snapshot.NextCountID)
		}
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	return tx.Commit()
}

// RunInTransaction applies fn within a transaction, then snapshots to
// Postgres if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(ctx); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// SchemaVersion reports the server-side schema version after migration.
func (s *Store) SchemaVersion() int { return s.version }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
