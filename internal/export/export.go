// Package export renders ledger entries as spreadsheet files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/xuri/excelize/v2"
)

// Format is a supported export file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// SheetName is the worksheet holding the entries in XLSX exports.
const SheetName = "Ledger"

var header = []string{"Date", "Name", "Category", "Amount", "Account", "Note", "Invoice", "Seller"}

// ParseFormat maps a query value to a Format. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", ledger.Invalid("format", "unsupported export format %q, expected csv or xlsx", s)
	}
}

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Write renders entries in the given format.
func Write(w io.Writer, f Format, entries []ledger.Entry) error {
	if f == FormatXLSX {
		return WriteXLSX(w, entries)
	}
	return WriteCSV(w, entries)
}

func row(e ledger.Entry) []string {
	return []string{
		e.Date.Format(ledger.DateLayout),
		e.Name,
		e.Category,
		e.Amount.String(),
		e.Account,
		e.Note,
		e.InvoiceNumber,
		e.Seller,
	}
}

// WriteCSV writes entries as CSV, prefixed with a UTF-8 BOM so spreadsheet
// apps detect the encoding of non-ASCII names.
func WriteCSV(w io.Writer, entries []ledger.Entry) error {
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("WriteCSV: write BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("WriteCSV: write header: %w", err)
	}
	for _, e := range entries {
		if err := cw.Write(row(e)); err != nil {
			return fmt.Errorf("WriteCSV: write entry %s: %w", e.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("WriteCSV: flush: %w", err)
	}
	return nil
}

// WriteXLSX writes entries as a single-sheet workbook. Amounts are numeric
// cells.
func WriteXLSX(w io.Writer, entries []ledger.Entry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("WriteXLSX: name sheet: %w", err)
	}

	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &headerRow); err != nil {
		return fmt.Errorf("WriteXLSX: write header: %w", err)
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("WriteXLSX: cell name: %w", err)
		}
		values := []interface{}{
			e.Date.Format(ledger.DateLayout),
			e.Name,
			e.Category,
			e.Amount.InexactFloat64(),
			e.Account,
			e.Note,
			e.InvoiceNumber,
			e.Seller,
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("WriteXLSX: write entry %s: %w", e.ID, err)
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 12)
	_ = f.SetColWidth(SheetName, "B", "C", 18)
	_ = f.SetColWidth(SheetName, "D", "D", 12)
	_ = f.SetColWidth(SheetName, "E", "E", 16)
	_ = f.SetColWidth(SheetName, "F", "F", 40)
	_ = f.SetColWidth(SheetName, "G", "H", 16)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("WriteXLSX: write workbook: %w", err)
	}
	return nil
}
