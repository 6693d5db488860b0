// Package resolve maps a scanned or typed identifier to a catalog entry and
// a lot-aggregated set of stock suggestions.
package resolve

import (
	"context"
	"sort"
	"strings"

	"stocktake/pkg/domain"
)

// Suggestion is one selectable (lot, quantity) pair. Quantity is the sum of
// every ledger row carrying that lot for the resolved code, because a single
// lot is routinely split across locations in the ledger.
type Suggestion struct {
	Lot       string   `json:"lot"`
	Quantity  float64  `json:"quantity"`
	Locations []string `json:"locations,omitempty"` // distinct locations contributing to the sum
}

// Resolution is the outcome of one identifier lookup. An identifier that
// matches nothing is a valid terminal state, not an error: Resolved is false
// and the display name is the unregistered-product placeholder.
type Resolution struct {
	Input       string       `json:"input"`
	Resolved    bool         `json:"resolved"`
	ViaBarcode  bool         `json:"via_barcode"` // resolution went through the barcode index
	Code        string       `json:"code"`        // catalog internal code when resolved, else the input
	Barcode     string       `json:"barcode,omitempty"`
	Name        string       `json:"name"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// Engine resolves identifiers against the catalog and stock ledger.
type Engine struct {
	store domain.PersistentStore
}

// NewEngine constructs a resolution engine over the given store.
func NewEngine(store domain.PersistentStore) *Engine {
	return &Engine{store: store}
}

// Resolve looks the identifier up as an internal code first, then through
// the barcode index. When resolved, the stock ledger is queried by the
// catalog's internal code — not the typed identifier — and the returned rows
// are grouped by lot with quantities summed.
func (e *Engine) Resolve(ctx context.Context, identifier string) Resolution {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Resolution{}
	}

	res := Resolution{Input: identifier, Code: identifier, Name: domain.UnresolvedName}

	product, ok := e.store.GetProduct(identifier)
	if !ok {
		matches := e.store.FindProductsByBarcode(identifier)
		if len(matches) == 0 {
			return res
		}
		product = matches[0]
		res.ViaBarcode = true
	}

	res.Resolved = true
	res.Code = product.Code
	res.Barcode = product.Barcode
	res.Name = product.Name
	res.Suggestions = aggregateByLot(e.store.ListStockByCode(product.Code))
	return res
}

// aggregateByLot groups ledger rows by lot and sums their quantities. Rows
// without a lot aggregate under the empty lot and sort first.
func aggregateByLot(rows []domain.StockRow) []Suggestion {
	if len(rows) == 0 {
		return nil
	}
	byLot := make(map[string]*Suggestion, len(rows))
	for _, row := range rows {
		s, ok := byLot[row.Lot]
		if !ok {
			s = &Suggestion{Lot: row.Lot}
			byLot[row.Lot] = s
		}
		s.Quantity += row.Quantity
		if row.Location != "" && !contains(s.Locations, row.Location) {
			s.Locations = append(s.Locations, row.Location)
		}
	}
	out := make([]Suggestion, 0, len(byLot))
	for _, s := range byLot {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lot < out[j].Lot })
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
