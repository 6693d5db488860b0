// Package sqlite provides the embedded durable backend. It reuses the
// in-memory store for transactional semantics and snapshots the full state
// into a single SQLite file after every successful transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"stocktake/internal/infra/persistence/memory"
	"stocktake/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is the database file used when no path is configured.
const DefaultPath = "stocktake.db"

// Store persists the in-memory state to SQLite as per-bucket JSON blobs.
type Store struct {
	*memory.Store
	db      *sql.DB
	mu      sync.Mutex
	path    string
	version int
}

var sqliteBuckets = []string{"products", "stock", "counts", "locations", "settings", "sequence"}

// NewStore opens or creates the store at path, runs the idempotent schema
// migration, and hydrates the in-memory engine from any existing snapshot.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", domain.ErrStoreUnavailable, err)
	}
	version, err := migrate(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrStoreUnavailable, err)
	}
	ms := memory.NewStore(engine)
	s := &Store{Store: ms, db: db, path: path, version: version}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates any missing tables and bucket rows and records the schema
// version. It only ever moves the version forward: opening an older store
// upgrades it in place, opening a newer one leaves its version untouched.
func migrate(db *sql.DB) (int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("create state table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_info (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("create schema_info table: %w", err)
	}
	var version int
	err := db.QueryRow(`SELECT version FROM schema_info WHERE id = 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		version = 0
	case err != nil:
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if version >= domain.CurrentSchemaVersion {
		return version, nil
	}
	// Seed empty rows for any bucket the older schema did not know about so
	// a partially-written file never aliases "absent" with "corrupt".
	for _, bucket := range sqliteBuckets {
		if _, err := db.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO NOTHING`, bucket, []byte("null")); err != nil {
			return 0, fmt.Errorf("seed bucket %s: %w", bucket, err)
		}
	}
	if _, err := db.Exec(`INSERT INTO schema_info(id,version) VALUES(1,?) ON CONFLICT(id) DO UPDATE SET version=excluded.version`, domain.CurrentSchemaVersion); err != nil {
		return 0, fmt.Errorf("write schema version: %w", err)
	}
	return domain.CurrentSchemaVersion, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if err := decodeBucket(&snapshot, bucket, payload); err != nil {
			return err
		}
		loaded = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if loaded {
		s.ImportState(snapshot)
	}
	return nil
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

func encodeBucket(snapshot memory.Snapshot, bucket string) ([]byte, error) {
	switch bucket {
	case "products":
		return json.Marshal(snapshot.Products)
	case "stock":
		return json.Marshal(snapshot.Stock)
	case "counts":
		return json.Marshal(snapshot.Counts)
	case "locations":
		return json.Marshal(snapshot.Locations)
	case "settings":
		return json.Marshal(snapshot.Settings)
	case "sequence":
		return json.Marshal(snapshot.NextCountID)
	default:
		return nil, fmt.Errorf("unknown bucket %s", bucket)
	}
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
		data, err := encodeBucket(snapshot, bucket)
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err = tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	return tx.Commit()
}

// RunInTransaction applies fn within a transaction, then snapshots state to
// SQLite if successful. The SQLite write is itself one transaction, so the
// file always holds either the previous or the new state, never a mix.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// SchemaVersion reports the on-disk schema version after migration.
func (s *Store) SchemaVersion() int { return s.version }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
