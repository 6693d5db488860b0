// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by stocktake.
package domain

import "time"

// EntityType identifies the type of record stored in a collection.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityProduct identifies a product catalog record.
	EntityProduct EntityType = "product"
	// EntityStockRow identifies an imported stock ledger row.
	EntityStockRow EntityType = "stock_row"
	// EntityCountRecord identifies a user-entered count observation.
	EntityCountRecord EntityType = "count_record"
	// EntitySettings identifies the singleton settings record.
	EntitySettings EntityType = "settings"
)

// CodeScheme selects how identifiers are captured on the count screen.
type CodeScheme string

// Identifier capture schemes offered in settings.
const (
	SchemeQR     CodeScheme = "qr"
	SchemeManual CodeScheme = "manual"
)

// ExportFormat selects the export serialization.
type ExportFormat string

// Supported export formats.
const (
	FormatCSV      ExportFormat = "csv"
	FormatWorkbook ExportFormat = "xlsx"
)

// Product is a catalog entry: the master record for one product code.
// Products are created and replaced only by bulk imports; within a session
// they are immutable and a re-import supersedes the whole collection.
type Product struct {
	Code     string  `json:"code"`               // internal code, primary key
	Name     string  `json:"name"`               // display name
	Barcode  string  `json:"barcode,omitempty"`  // JAN/EAN, secondary lookup key
	Category string  `json:"category,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Price    float64 `json:"price,omitempty"`
}

// StockRow represents one physical lot of one product at one location as of
// the last stock import. Several rows may share a product code; aggregation
// across them happens at resolution time, not here.
type StockRow struct {
	ID       string     `json:"id"` // synthetic, or composite code|lot in dedupe mode
	Code     string     `json:"code"`
	Name     string     `json:"name,omitempty"`
	Location string     `json:"location,omitempty"` // warehouse name
	Lot      string     `json:"lot,omitempty"`
	Quantity float64    `json:"quantity"` // never negative after import coercion
	Expiry   *time.Time `json:"expiry,omitempty"`
}

// CountRecord is one append-only stocktake fact: the operator observed
// Quantity units of product Code. Name and Barcode are snapshotted at count
// time and never re-resolved against later catalog imports.
type CountRecord struct {
	ID        int64     `json:"id"` // store-assigned, monotonically increasing
	Code      string    `json:"code"`
	Barcode   string    `json:"barcode,omitempty"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"` // positive integer
	Unit      string    `json:"unit"`
	Lot       string    `json:"lot,omitempty"`
	Shelf     string    `json:"shelf,omitempty"`
	Center    string    `json:"center,omitempty"`   // operator's location from settings
	Operator  string    `json:"operator,omitempty"`
	Warehouse string    `json:"warehouse,omitempty"` // ledger warehouse matched at count time
	LedgerQty *float64  `json:"ledger_quantity,omitempty"` // ledger quantity observed at count time
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Settings is the singleton operator configuration record. Last write wins,
// no history is kept.
type Settings struct {
	Operator     string       `json:"operator,omitempty"`
	Center       string       `json:"center,omitempty"` // default location
	CodeScheme   CodeScheme   `json:"code_scheme,omitempty"`
	ExportFormat ExportFormat `json:"export_format,omitempty"`
	ImportFormat string       `json:"import_format,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// DefaultUnit is the count unit applied when the operator leaves it blank.
const DefaultUnit = "個"

// UnresolvedName is the display name used for identifiers that match neither
// a product code nor a barcode.
const UnresolvedName = "未登録商品"

// Change captures one entity mutation within a transaction for rule evaluation.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured per transaction.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionReplaceAll indicates a collection was superseded wholesale.
	ActionReplaceAll Action = "replace_all"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when a transaction is rejected by blocking violations.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "rule violation: " + v.Rule + ": " + v.Message
		}
	}
	return "rule violation"
}
