package tabular

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ReadWorkbook parses the first sheet of an XLSX workbook into a Table.
// A workbook that cannot be opened or has no sheets is a file-level failure.
func ReadWorkbook(r io.Reader) (Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Table{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, fmt.Errorf("workbook has no sheets")
	}
	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	table := Table{Rows: make([]Row, 0, len(raw))}
	for _, cells := range raw {
		table.Rows = append(table.Rows, Row(cells))
	}
	return table, nil
}
