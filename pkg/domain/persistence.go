package domain

import "context"

// CurrentSchemaVersion is the schema generation this build reads and writes.
// Durable backends migrate older stores forward on open and never downgrade.
const CurrentSchemaVersion = 2

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Either every mutation in the scope
// commits or none does.
type Transaction interface {
	Snapshot() TransactionView
	// ReplaceProducts supersedes the whole catalog collection.
	ReplaceProducts([]Product) int
	// ReplaceStock supersedes the whole stock ledger and unions the distinct
	// locations it mentions into the known-locations list.
	ReplaceStock([]StockRow) int
	AppendCount(CountRecord) (CountRecord, error)
	UpdateCount(id int64, mutator func(*CountRecord) error) (CountRecord, error)
	DeleteCount(id int64) error
	DeleteCounts(ids []int64) int
	DeleteAllCounts() int
	PutSettings(Settings) Settings
	// ClearAll wipes catalog, stock, counts, and known locations. Settings
	// survive; this is the destructive maintenance action behind the
	// settings screen.
	ClearAll()
}

// TransactionView provides read-only access to snapshot data for rules and
// intra-transaction lookups.
type TransactionView interface {
	FindProduct(code string) (Product, bool)
	FindProductsByBarcode(barcode string) []Product
	ListProducts() []Product
	ListStockRows() []StockRow
	ListStockByCode(code string) []StockRow
	FindCount(id int64) (CountRecord, bool)
	ListCounts() []CountRecord
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers. Index-backed
// finders (by barcode, by code, by location, by timestamp) make no ordering
// guarantee unless stated.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetProduct(code string) (Product, bool)
	FindProductsByBarcode(barcode string) []Product
	ListProducts() []Product
	ListStockRows() []StockRow
	ListStockByCode(code string) []StockRow
	ListStockByLocation(location string) []StockRow
	GetCount(id int64) (CountRecord, bool)
	ListCounts() []CountRecord
	ListCountsByCode(code string) []CountRecord
	// RecentCounts returns up to n records, newest first by creation time.
	RecentCounts(n int) []CountRecord
	ListLocations() []string
	ListLots() []string
	GetSettings() (Settings, bool)
	// SchemaVersion reports the on-disk schema version after migration.
	SchemaVersion() int
}
