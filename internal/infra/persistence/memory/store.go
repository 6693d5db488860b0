// Package memory provides an in-memory implementation of the persistence
// store used for tests and for degraded sessions when the durable engine
// cannot be opened. Durable backends embed this store and snapshot its state.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"stocktake/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Product aliases domain.Product for in-memory persistence operations.
	Product = domain.Product
	// StockRow aliases domain.StockRow.
	StockRow = domain.StockRow
	// CountRecord aliases domain.CountRecord.
	CountRecord = domain.CountRecord
	// Settings aliases domain.Settings.
	Settings = domain.Settings
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
)

type state struct {
	products    map[string]Product
	stock       map[string]StockRow
	counts      map[int64]CountRecord
	locations   []string // append-only union of imported locations, insertion order
	settings    *Settings
	nextCountID int64
}

func newState() state {
	return state{
		products:    make(map[string]Product),
		stock:       make(map[string]StockRow),
		counts:      make(map[int64]CountRecord),
		nextCountID: 1,
	}
}

func (s state) clone() state {
	cloned := newState()
	for k, v := range s.products {
		cloned.products[k] = v
	}
	for k, v := range s.stock {
		cloned.stock[k] = cloneStockRow(v)
	}
	for k, v := range s.counts {
		cloned.counts[k] = cloneCount(v)
	}
	cloned.locations = append([]string(nil), s.locations...)
	if s.settings != nil {
		cp := *s.settings
		cloned.settings = &cp
	}
	cloned.nextCountID = s.nextCountID
	return cloned
}

func cloneStockRow(r StockRow) StockRow {
	cp := r
	if r.Expiry != nil {
		t := *r.Expiry
		cp.Expiry = &t
	}
	return cp
}

func cloneCount(c CountRecord) CountRecord {
	cp := c
	if c.LedgerQty != nil {
		q := *c.LedgerQty
		cp.LedgerQty = &q
	}
	return cp
}

// indexes holds the secondary lookup maps derived from committed state.
// They are rebuilt after every successful commit; replace-all imports make
// incremental maintenance pointless.
type indexes struct {
	productsByBarcode map[string][]string // barcode -> product codes
	stockByCode       map[string][]string // product code -> stock row ids
	stockByLocation   map[string][]string // location -> stock row ids
	countsByCode      map[string][]int64  // product code -> count ids
	countsByTime      []int64             // count ids ordered by creation time, oldest first
}

func buildIndexes(st *state) indexes {
	idx := indexes{
		productsByBarcode: make(map[string][]string),
		stockByCode:       make(map[string][]string),
		stockByLocation:   make(map[string][]string),
		countsByCode:      make(map[string][]int64),
	}
	for code, p := range st.products {
		if p.Barcode != "" {
			idx.productsByBarcode[p.Barcode] = append(idx.productsByBarcode[p.Barcode], code)
		}
	}
	for id, r := range st.stock {
		idx.stockByCode[r.Code] = append(idx.stockByCode[r.Code], id)
		if r.Location != "" {
			idx.stockByLocation[r.Location] = append(idx.stockByLocation[r.Location], id)
		}
	}
	for id, c := range st.counts {
		idx.countsByCode[c.Code] = append(idx.countsByCode[c.Code], id)
		idx.countsByTime = append(idx.countsByTime, id)
	}
	counts := st.counts
	sort.Slice(idx.countsByTime, func(i, j int) bool {
		a, b := counts[idx.countsByTime[i]], counts[idx.countsByTime[j]]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return idx
}

// Store provides an in-memory transactional store for the stocktake domain.
type Store struct {
	mu     sync.RWMutex
	state  state
	idx    indexes
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	st := newState()
	return &Store{
		state:  st,
		idx:    buildIndexes(&st),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the transaction clock. Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// Transaction represents a mutation set applied to the store state.
type Transaction struct {
	store   *Store
	state   state
	changes []Change
	now     time.Time
}

var _ domain.Transaction = (*Transaction)(nil)

// view exposes a read-only snapshot of a state to rules and callers.
type view struct {
	state *state
}

var _ domain.TransactionView = view{}
var _ domain.RuleView = view{}

// FindProduct retrieves a catalog entry by internal code.
func (v view) FindProduct(code string) (Product, bool) {
	p, ok := v.state.products[code]
	return p, ok
}

// FindProductsByBarcode scans the snapshot for catalog entries with the barcode.
func (v view) FindProductsByBarcode(barcode string) []Product {
	if barcode == "" {
		return nil
	}
	var out []Product
	for _, p := range v.state.products {
		if p.Barcode == barcode {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ListProducts returns all catalog entries in the snapshot.
func (v view) ListProducts() []Product {
	out := make([]Product, 0, len(v.state.products))
	for _, p := range v.state.products {
		out = append(out, p)
	}
	return out
}

// ListStockRows returns all stock ledger rows in the snapshot.
func (v view) ListStockRows() []StockRow {
	out := make([]StockRow, 0, len(v.state.stock))
	for _, r := range v.state.stock {
		out = append(out, cloneStockRow(r))
	}
	return out
}

// ListStockByCode returns the stock rows recorded for a product code.
func (v view) ListStockByCode(code string) []StockRow {
	var out []StockRow
	for _, r := range v.state.stock {
		if r.Code == code {
			out = append(out, cloneStockRow(r))
		}
	}
	return out
}

// FindCount retrieves a count record by id.
func (v view) FindCount(id int64) (CountRecord, bool) {
	c, ok := v.state.counts[id]
	if !ok {
		return CountRecord{}, false
	}
	return cloneCount(c), true
}

// ListCounts returns all count records in the snapshot.
func (v view) ListCounts() []CountRecord {
	out := make([]CountRecord, 0, len(v.state.counts))
	for _, c := range v.state.counts {
		out = append(out, cloneCount(c))
	}
	return out
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the live state only when fn succeeds and no registered
// rule reports a blocking violation, so a failing batch leaves the previous
// state fully intact.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, view{state: &tx.state}, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	s.idx = buildIndexes(&s.state)
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := s.state.clone()
	return fn(view{state: &snapshot})
}

func (tx *Transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view of the transactional state.
func (tx *Transaction) Snapshot() domain.TransactionView {
	return view{state: &tx.state}
}

// ReplaceProducts supersedes the catalog wholesale. Duplicate codes within
// the batch overwrite earlier entries, keeping code uniqueness structural.
func (tx *Transaction) ReplaceProducts(products []Product) int {
	tx.state.products = make(map[string]Product, len(products))
	for _, p := range products {
		tx.state.products[p.Code] = p
	}
	tx.recordChange(Change{Entity: domain.EntityProduct, Action: domain.ActionReplaceAll, After: len(tx.state.products)})
	return len(tx.state.products)
}

// ReplaceStock supersedes the stock ledger wholesale and unions the distinct
// locations observed into the known-locations list. The union is append-only:
// a later, smaller import never prunes it.
func (tx *Transaction) ReplaceStock(rows []StockRow) int {
	tx.state.stock = make(map[string]StockRow, len(rows))
	known := make(map[string]struct{}, len(tx.state.locations))
	for _, loc := range tx.state.locations {
		known[loc] = struct{}{}
	}
	for _, r := range rows {
		tx.state.stock[r.ID] = cloneStockRow(r)
		if r.Location != "" {
			if _, ok := known[r.Location]; !ok {
				known[r.Location] = struct{}{}
				tx.state.locations = append(tx.state.locations, r.Location)
			}
		}
	}
	tx.recordChange(Change{Entity: domain.EntityStockRow, Action: domain.ActionReplaceAll, After: len(tx.state.stock)})
	return len(tx.state.stock)
}

// AppendCount stores a new count record, assigning the next id in the
// monotonic sequence and stamping creation time.
func (tx *Transaction) AppendCount(c CountRecord) (CountRecord, error) {
	c.ID = tx.state.nextCountID
	tx.state.nextCountID++
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	if c.Unit == "" {
		c.Unit = domain.DefaultUnit
	}
	tx.state.counts[c.ID] = cloneCount(c)
	tx.recordChange(Change{Entity: domain.EntityCountRecord, Action: domain.ActionCreate, After: cloneCount(c)})
	return cloneCount(c), nil
}

// UpdateCount mutates a count record using the provided mutator. Identity
// fields are pinned: id, code, and creation time survive any mutator, and
// the modification time is refreshed.
func (tx *Transaction) UpdateCount(id int64, mutator func(*CountRecord) error) (CountRecord, error) {
	current, ok := tx.state.counts[id]
	if !ok {
		return CountRecord{}, domain.ErrNotFound{Entity: domain.EntityCountRecord, Key: formatID(id)}
	}
	before := cloneCount(current)
	if err := mutator(&current); err != nil {
		return CountRecord{}, err
	}
	current.ID = id
	current.Code = before.Code
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.counts[id] = cloneCount(current)
	tx.recordChange(Change{Entity: domain.EntityCountRecord, Action: domain.ActionUpdate, Before: before, After: cloneCount(current)})
	return cloneCount(current), nil
}

// DeleteCount removes one count record.
func (tx *Transaction) DeleteCount(id int64) error {
	current, ok := tx.state.counts[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityCountRecord, Key: formatID(id)}
	}
	delete(tx.state.counts, id)
	tx.recordChange(Change{Entity: domain.EntityCountRecord, Action: domain.ActionDelete, Before: cloneCount(current)})
	return nil
}

// DeleteCounts removes the listed count records, skipping absent ids, and
// reports how many were deleted.
func (tx *Transaction) DeleteCounts(ids []int64) int {
	deleted := 0
	for _, id := range ids {
		if current, ok := tx.state.counts[id]; ok {
			delete(tx.state.counts, id)
			tx.recordChange(Change{Entity: domain.EntityCountRecord, Action: domain.ActionDelete, Before: cloneCount(current)})
			deleted++
		}
	}
	return deleted
}

// DeleteAllCounts wipes the counts collection and reports how many records
// were removed. The id sequence keeps advancing so ids are never reused.
func (tx *Transaction) DeleteAllCounts() int {
	n := len(tx.state.counts)
	tx.state.counts = make(map[int64]CountRecord)
	tx.recordChange(Change{Entity: domain.EntityCountRecord, Action: domain.ActionReplaceAll, After: 0})
	return n
}

// PutSettings overwrites the singleton settings record, last write wins.
func (tx *Transaction) PutSettings(s Settings) Settings {
	s.UpdatedAt = tx.now
	tx.state.settings = &s
	tx.recordChange(Change{Entity: domain.EntitySettings, Action: domain.ActionUpdate, After: s})
	return s
}

// ClearAll wipes catalog, stock, counts, and known locations. Settings and
// the count id sequence survive.
func (tx *Transaction) ClearAll() {
	tx.state.products = make(map[string]Product)
	tx.state.stock = make(map[string]StockRow)
	tx.state.counts = make(map[int64]CountRecord)
	tx.state.locations = nil
	tx.recordChange(Change{Entity: domain.EntityProduct, Action: domain.ActionReplaceAll, After: 0})
	tx.recordChange(Change{Entity: domain.EntityStockRow, Action: domain.ActionReplaceAll, After: 0})
	tx.recordChange(Change{Entity: domain.EntityCountRecord, Action: domain.ActionReplaceAll, After: 0})
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
