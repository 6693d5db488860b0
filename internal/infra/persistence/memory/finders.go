package memory

import (
	"sort"

	"stocktake/pkg/domain"
)

// GetProduct retrieves a catalog entry by its internal code.
func (s *Store) GetProduct(code string) (Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.products[code]
	return p, ok
}

// FindProductsByBarcode returns catalog entries whose barcode equals the
// argument, via the barcode index. Barcode uniqueness is not enforced, so
// more than one entry may come back.
func (s *Store) FindProductsByBarcode(barcode string) []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := s.idx.productsByBarcode[barcode]
	out := make([]Product, 0, len(codes))
	for _, code := range codes {
		if p, ok := s.state.products[code]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ListProducts returns the whole catalog.
func (s *Store) ListProducts() []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Product, 0, len(s.state.products))
	for _, p := range s.state.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ListStockRows returns the whole stock ledger.
func (s *Store) ListStockRows() []StockRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StockRow, 0, len(s.state.stock))
	for _, r := range s.state.stock {
		out = append(out, cloneStockRow(r))
	}
	return out
}

// ListStockByCode returns the ledger rows for a product code via the code index.
func (s *Store) ListStockByCode(code string) []StockRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stockByIDs(s.idx.stockByCode[code])
}

// ListStockByLocation returns the ledger rows for a location via the location index.
func (s *Store) ListStockByLocation(location string) []StockRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stockByIDs(s.idx.stockByLocation[location])
}

func (s *Store) stockByIDs(ids []string) []StockRow {
	out := make([]StockRow, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.state.stock[id]; ok {
			out = append(out, cloneStockRow(r))
		}
	}
	return out
}

// GetCount retrieves one count record by id.
func (s *Store) GetCount(id int64) (CountRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.counts[id]
	if !ok {
		return CountRecord{}, false
	}
	return cloneCount(c), true
}

// ListCounts returns all count records ordered by id ascending.
func (s *Store) ListCounts() []CountRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CountRecord, 0, len(s.state.counts))
	for _, c := range s.state.counts {
		out = append(out, cloneCount(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListCountsByCode returns the count records for a product code via the code index.
func (s *Store) ListCountsByCode(code string) []CountRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.idx.countsByCode[code]
	out := make([]CountRecord, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.state.counts[id]; ok {
			out = append(out, cloneCount(c))
		}
	}
	return out
}

// RecentCounts returns up to n count records, newest first, using the
// timestamp index.
func (s *Store) RecentCounts(n int) []CountRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := s.idx.countsByTime
	if n <= 0 || n > len(ordered) {
		n = len(ordered)
	}
	out := make([]CountRecord, 0, n)
	for i := len(ordered) - 1; i >= 0 && len(out) < n; i-- {
		if c, ok := s.state.counts[ordered[i]]; ok {
			out = append(out, cloneCount(c))
		}
	}
	return out
}

// ListLocations returns the known-locations union in first-seen order.
func (s *Store) ListLocations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.state.locations...)
}

// ListLots returns the distinct non-empty lots present in the stock ledger,
// sorted for a stable pick list.
func (s *Store) ListLots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, r := range s.state.stock {
		if r.Lot == "" {
			continue
		}
		if _, ok := seen[r.Lot]; !ok {
			seen[r.Lot] = struct{}{}
			out = append(out, r.Lot)
		}
	}
	sort.Strings(out)
	return out
}

// GetSettings returns the singleton settings record if one was ever saved.
func (s *Store) GetSettings() (Settings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.settings == nil {
		return Settings{}, false
	}
	return *s.state.settings, true
}

// SchemaVersion reports the schema generation of an in-memory store, which
// is always current.
func (s *Store) SchemaVersion() int { return domain.CurrentSchemaVersion }
