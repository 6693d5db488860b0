package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"stocktake/pkg/domain"
)

func TestNewStoreSeedsEmptySchema(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if got := store.SchemaVersion(); got != domain.CurrentSchemaVersion {
		t.Fatalf("SchemaVersion = %d, want %d", got, domain.CurrentSchemaVersion)
	}
	var sawDDL bool
	for _, stmt := range conn.recorded() {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE") {
			sawDDL = true
			break
		}
	}
	if !sawDDL {
		t.Fatalf("expected snapshot DDL to be applied, got execs: %v", conn.recorded())
	}
	if got := len(conn.snapshotState()); got != len(buckets) {
		t.Fatalf("seeded buckets = %d, want %d", got, len(buckets))
	}
	if counts := store.ListCounts(); len(counts) != 0 {
		t.Fatalf("fresh store holds %d counts", len(counts))
	}
}

func TestNewStoreHydratesExistingState(t *testing.T) {
	db, conn := newStubDB()
	conn.seedVersion(domain.CurrentSchemaVersion)
	conn.seedBucket(t, "products", map[string]domain.Product{
		"P001": {Code: "P001", Name: "醤油 1L", Barcode: "4901234567890"},
	})
	conn.seedBucket(t, "counts", map[string]domain.CountRecord{
		"1": {ID: 1, Code: "P001", Name: "醤油 1L", Quantity: 3, Unit: domain.DefaultUnit},
	})
	conn.seedBucket(t, "sequence", int64(5))

	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("ignored", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if got := store.SchemaVersion(); got != domain.CurrentSchemaVersion {
		t.Fatalf("SchemaVersion = %d, want %d", got, domain.CurrentSchemaVersion)
	}
	if _, ok := store.GetProduct("P001"); !ok {
		t.Fatal("expected product hydrated from snapshot")
	}
	if got := len(store.ListCounts()); got != 1 {
		t.Fatalf("counts = %d, want 1", got)
	}

	// The restored sequence keeps issuing from where the last session stopped.
	var created domain.CountRecord
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var txErr error
		created, txErr = tx.AppendCount(domain.CountRecord{Code: "P001", Name: "醤油 1L", Quantity: 2})
		return txErr
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if created.ID != 5 {
		t.Fatalf("next count ID = %d, want 5", created.ID)
	}
}

func TestRunInTransactionPersistsSnapshot(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, txErr := tx.AppendCount(domain.CountRecord{Code: "P001", Name: "醤油 1L", Quantity: 3})
		return txErr
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}

	state := conn.snapshotState()
	var counts map[string]domain.CountRecord
	if err := json.Unmarshal(state["counts"], &counts); err != nil {
		t.Fatalf("decode persisted counts: %v", err)
	}
	if len(counts) != 1 || counts["1"].Code != "P001" {
		t.Fatalf("persisted counts = %+v", counts)
	}
	var next int64
	if err := json.Unmarshal(state["sequence"], &next); err != nil {
		t.Fatalf("decode persisted sequence: %v", err)
	}
	if next != 2 {
		t.Fatalf("persisted sequence = %d, want 2", next)
	}
}

// --- stub database/sql driver ---
//
// The stub answers exactly the statements the store issues: snapshot DDL,
// the schema_info read/write, and per-bucket state upserts. It keeps state
// in memory so tests can assert what a real server would have stored.

func newStubDB() (*sql.DB, *stubConn) {
	conn := &stubConn{state: make(map[string][]byte)}
	return sql.OpenDB(stubConnector{conn: conn}), conn
}

type stubConnector struct {
	conn *stubConn
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c stubConnector) Driver() driver.Driver                        { return stubDriver{} }

type stubDriver struct{}

func (stubDriver) Open(string) (driver.Conn, error) {
	return &stubConn{state: make(map[string][]byte)}, nil
}

type stubConn struct {
	mu      sync.Mutex
	execs   []string
	state   map[string][]byte
	version *int64
}

func (c *stubConn) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.execs))
	copy(out, c.execs)
	return out
}

func (c *stubConn) snapshotState() map[string][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]byte, len(c.state))
	for bucket, payload := range c.state {
		out[bucket] = append([]byte(nil), payload...)
	}
	return out
}

func (c *stubConn) seedVersion(v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v64 := int64(v)
	c.version = &v64
}

func (c *stubConn) seedBucket(t *testing.T, bucket string, value any) {
	t.Helper()
	payload, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("seed %s: %v", bucket, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[bucket] = payload
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements not supported by stub")
}

func (c *stubConn) Close() error { return nil }

func (c *stubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

func (c *stubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return stubTx{}, nil
}

func (c *stubConn) Ping(context.Context) error { return nil }

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, query)
	switch {
	case strings.Contains(query, "INSERT INTO state"):
		bucket := args[0].Value.(string)
		payload := append([]byte(nil), args[1].Value.([]byte)...)
		if strings.Contains(query, "DO NOTHING") {
			if _, exists := c.state[bucket]; exists {
				return driver.RowsAffected(0), nil
			}
		}
		c.state[bucket] = payload
	case strings.Contains(query, "INSERT INTO schema_info"):
		v := args[0].Value.(int64)
		c.version = &v
	}
	return driver.RowsAffected(1), nil
}

func (c *stubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case strings.Contains(query, "FROM schema_info"):
		rows := &stubRows{columns: []string{"version"}}
		if c.version != nil {
			rows.data = [][]driver.Value{{*c.version}}
		}
		return rows, nil
	case strings.Contains(query, "FROM state"):
		names := make([]string, 0, len(c.state))
		for bucket := range c.state {
			names = append(names, bucket)
		}
		sort.Strings(names)
		rows := &stubRows{columns: []string{"bucket", "payload"}}
		for _, bucket := range names {
			rows.data = append(rows.data, []driver.Value{bucket, append([]byte(nil), c.state[bucket]...)})
		}
		return rows, nil
	}
	return &stubRows{}, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	columns []string
	data    [][]driver.Value
}

func (r *stubRows) Columns() []string { return r.columns }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if len(r.data) == 0 {
		return io.EOF
	}
	copy(dest, r.data[0])
	r.data = r.data[1:]
	return nil
}
