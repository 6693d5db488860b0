package load

import (
	"fmt"

	"stocktake/internal/tabular"
	"stocktake/pkg/domain"
)

// Rejection records one skipped input row. Rejections never abort a batch;
// they are tallied and reported alongside the import summary.
type Rejection struct {
	Line   int    `json:"line"` // 1-based position in the input, header included
	Reason string `json:"reason"`
}

// Summary reports the outcome of one replace-all import.
type Summary struct {
	Total      int         `json:"total"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	Rejections []Rejection `json:"rejections,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// normalizeCatalogRow converts one raw row into a Product or a Rejection,
// never both. Downstream code trusts the result and does not re-validate.
func normalizeCatalogRow(row tabular.Row, lay layout, line int) (domain.Product, *Rejection) {
	code := lay.cell(row, "code")
	if code == "" {
		return domain.Product{}, &Rejection{Line: line, Reason: "missing product code"}
	}
	return domain.Product{
		Code:    code,
		Name:    lay.cell(row, "name"),
		Barcode: lay.cell(row, "barcode"),
	}, nil
}

// normalizeStockRow converts one raw row into a StockRow or a Rejection.
// Quantities that do not parse are coerced to zero with a warning rather
// than rejected; a missing code rejects the row.
func normalizeStockRow(row tabular.Row, lay layout, line int) (domain.StockRow, *Rejection, string) {
	code := lay.cell(row, "code")
	if code == "" {
		return domain.StockRow{}, &Rejection{Line: line, Reason: "missing product code"}, ""
	}
	var warning string
	rawQty := lay.cell(row, "quantity")
	qty, ok := tabular.ParseQuantity(rawQty)
	if !ok && rawQty != "" {
		warning = fmt.Sprintf("line %d: unparseable quantity %q coerced to 0", line, rawQty)
		qty = 0
	}
	if qty < 0 {
		warning = fmt.Sprintf("line %d: negative quantity %v coerced to 0", line, qty)
		qty = 0
	}
	return domain.StockRow{
		Code:     code,
		Name:     lay.cell(row, "name"),
		Location: lay.cell(row, "location"),
		Lot:      lay.cell(row, "lot"),
		Quantity: qty,
	}, nil, warning
}
