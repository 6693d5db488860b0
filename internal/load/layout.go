// Package load turns untrusted tabular input into validated entity records
// and performs replace-all imports into the persistent store.
package load

import "stocktake/internal/tabular"

// column describes where one canonical field comes from: an ordered list of
// known header aliases for header-bearing feeds, and a fixed position for
// feeds without a usable header.
type column struct {
	aliases  []string // normalized per tabular.NormalizeHeader
	position int      // zero-indexed column; -1 when the feed never carries it
}

// Catalog feed: code, name, barcode. Positions follow the documented master
// feed (code=A, name=B, barcode=W).
var catalogColumns = struct {
	code, name, barcode column
}{
	code:    column{aliases: []string{"商品コード", "商品cd", "コード", "code", "品番"}, position: 0},
	name:    column{aliases: []string{"商品名", "商品名称", "品名", "name"}, position: 1},
	barcode: column{aliases: []string{"janコード", "jan", "barcode", "バーコード"}, position: 22},
}

// Stock feed: code, name, quantity, location, lot. Positions follow the
// documented ledger feed (A, B, C, J, P).
var stockColumns = struct {
	code, name, quantity, location, lot, barcode column
}{
	code:     column{aliases: []string{"商品コード", "商品cd", "コード", "code", "品番"}, position: 0},
	name:     column{aliases: []string{"商品名称", "商品名", "品名", "name"}, position: 1},
	quantity: column{aliases: []string{"データ上の在庫", "在庫数", "在庫", "数量", "quantity", "stock"}, position: 2},
	location: column{aliases: []string{"倉庫名", "倉庫", "warehouse", "location"}, position: 9},
	lot:      column{aliases: []string{"ロット番号", "ロットno", "ロット", "lot"}, position: 15},
	barcode:  column{aliases: []string{"janコード", "jan", "barcode"}, position: 22},
}

// layout maps canonical fields to resolved column positions for one table.
type layout struct {
	positions map[string]int
	dataStart int
}

func (l layout) cell(row tabular.Row, field string) string {
	pos, ok := l.positions[field]
	if !ok {
		return ""
	}
	return row.Cell(pos)
}

// resolveLayout tries header-name matching on row 0 first; when the required
// fields cannot all be located by alias, it falls back to the feed's fixed
// positions. In positional mode a leading row that still looks like a header
// is skipped rather than imported.
func resolveLayout(table tabular.Table, fields map[string]column, required ...string) layout {
	if len(table.Rows) > 0 {
		idx := tabular.HeaderIndex(table.Rows[0])
		positions := make(map[string]int, len(fields))
		for name, col := range fields {
			for _, alias := range col.aliases {
				if pos, ok := idx[alias]; ok {
					positions[name] = pos
					break
				}
			}
		}
		matched := true
		for _, name := range required {
			if _, ok := positions[name]; !ok {
				matched = false
				break
			}
		}
		if matched {
			return layout{positions: positions, dataStart: 1}
		}
	}
	positions := make(map[string]int, len(fields))
	for name, col := range fields {
		if col.position >= 0 {
			positions[name] = col.position
		}
	}
	dataStart := 0
	if len(table.Rows) > 0 && looksLikeHeader(table.Rows[0], fields) {
		dataStart = 1
	}
	return layout{positions: positions, dataStart: dataStart}
}

// looksLikeHeader reports whether any cell of the row equals a known header
// alias, which marks an unparseable header variant rather than data.
func looksLikeHeader(row tabular.Row, fields map[string]column) bool {
	for i := range row {
		cell := tabular.NormalizeHeader(row.Cell(i))
		if cell == "" {
			continue
		}
		for _, col := range fields {
			for _, alias := range col.aliases {
				if cell == alias {
					return true
				}
			}
		}
	}
	return false
}

func catalogFields() map[string]column {
	return map[string]column{
		"code":    catalogColumns.code,
		"name":    catalogColumns.name,
		"barcode": catalogColumns.barcode,
	}
}

func stockFields() map[string]column {
	return map[string]column{
		"code":     stockColumns.code,
		"name":     stockColumns.name,
		"quantity": stockColumns.quantity,
		"location": stockColumns.location,
		"lot":      stockColumns.lot,
		"barcode":  stockColumns.barcode,
	}
}
