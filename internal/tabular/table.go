// Package tabular models untrusted spreadsheet input as ordered rows of
// untyped cells and provides the readers and cell parsers the bulk loader
// normalizes from. It knows nothing about catalog or stock shapes.
package tabular

import "strings"

// Row is one ordered sequence of untyped cell values.
type Row []string

// Cell returns the trimmed cell at position i, or "" when the row is shorter.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[i])
}

// Empty reports whether every cell in the row is blank.
func (r Row) Empty() bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Table is an ordered sequence of rows. Row 0 may or may not be a header;
// deciding that is the consumer's concern.
type Table struct {
	Rows []Row
}

// HeaderIndex builds a lookup from normalized header cell to column position
// for the given row. Duplicate headers keep the first occurrence.
func HeaderIndex(header Row) map[string]int {
	idx := make(map[string]int, len(header))
	for i := range header {
		key := NormalizeHeader(header.Cell(i))
		if key == "" {
			continue
		}
		if _, ok := idx[key]; !ok {
			idx[key] = i
		}
	}
	return idx
}

// NormalizeHeader canonicalizes a header cell for alias comparison: trimmed,
// lower-cased, with internal whitespace and full-width spaces removed.
func NormalizeHeader(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "　", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\t", "")
	return strings.ToLower(s)
}
