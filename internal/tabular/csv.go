package tabular

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
)

// utf8BOM is stripped before parsing; spreadsheet applications routinely
// prepend it when saving CSV.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV parses CSV text into a Table. Rows may have differing field
// counts; a file that cannot be parsed at all is a file-level failure.
func ReadCSV(r io.Reader) (Table, error) {
	br := bufio.NewReader(r)
	if peek, err := br.Peek(len(utf8BOM)); err == nil && string(peek) == string(utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return Table{}, fmt.Errorf("skip BOM: %w", err)
		}
	}
	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var table Table
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("parse csv: %w", err)
		}
		table.Rows = append(table.Rows, Row(record))
	}
	return table, nil
}
