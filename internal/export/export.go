// Package export serializes count records into downloadable CSV and XLSX
// documents.
package export

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"stocktake/pkg/domain"
)

// Column order is fixed so downstream reconciliation scripts can address
// fields positionally.
var columns = []string{
	"code", "barcode", "name", "quantity", "unit", "lot",
	"shelf", "center", "warehouse", "ledger_quantity", "operator",
	"created_at", "updated_at",
}

const sheetName = "棚卸"

// Filename returns the deterministic download name for an export taken at
// the given instant, e.g. stocktake-20260828-153012.csv.
func Filename(format domain.ExportFormat, at time.Time) string {
	ext := "csv"
	if format == domain.FormatWorkbook {
		ext = "xlsx"
	}
	return fmt.Sprintf("stocktake-%s.%s", at.Format("20060102-150405"), ext)
}

// ToCSV writes the records as UTF-8 CSV with a leading BOM so spreadsheet
// applications pick up the encoding. Every field is quoted, including
// numerics, and an empty record set still produces the header row.
func ToCSV(w io.Writer, records []domain.CountRecord) error {
	var buf bytes.Buffer
	buf.Write([]byte{0xEF, 0xBB, 0xBF})
	writeCSVRow(&buf, columns)
	for _, rec := range records {
		writeCSVRow(&buf, recordFields(rec))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// writeCSVRow quotes every field unconditionally. encoding/csv only quotes
// when it must, which breaks consumers that expect uniformly quoted cells.
func writeCSVRow(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(f))
	}
	buf.WriteString("\r\n")
}

// ToWorkbook writes the records as a single-sheet XLSX workbook.
func ToWorkbook(w io.Writer, records []domain.CountRecord) error {
	wb := excelize.NewFile()
	defer wb.Close()

	idx, err := wb.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	wb.SetActiveSheet(idx)
	if err := wb.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := wb.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		fields := recordFields(rec)
		row := make([]interface{}, len(fields))
		for j, f := range fields {
			row[j] = f
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := wb.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := wb.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func recordFields(rec domain.CountRecord) []string {
	ledger := ""
	if rec.LedgerQty != nil {
		ledger = strconv.FormatFloat(*rec.LedgerQty, 'f', -1, 64)
	}
	return []string{
		rec.Code,
		rec.Barcode,
		rec.Name,
		strconv.Itoa(rec.Quantity),
		rec.Unit,
		rec.Lot,
		rec.Shelf,
		rec.Center,
		rec.Warehouse,
		ledger,
		rec.Operator,
		rec.CreatedAt.Format(time.RFC3339),
		rec.UpdatedAt.Format(time.RFC3339),
	}
}
