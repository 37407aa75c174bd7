package matrix

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var exportHeader = []string{"Role", "Action", "Status", "Limit", "Conditions", "Category"}

const xlsxSheet = "Matrix"

// CSVFilename names the CSV download for the given day.
func CSVFilename(at time.Time) string {
	return "authorization-matrix-" + at.Format("2006-01-02") + ".csv"
}

// XLSXFilename names the workbook download for the given day.
func XLSXFilename(at time.Time) string {
	return "authorization-matrix-" + at.Format("2006-01-02") + ".xlsx"
}

// PDFFilename names the PDF download for the given day.
func PDFFilename(at time.Time) string {
	return "authorization-matrix-" + at.Format("2006-01-02") + ".pdf"
}

// WriteCSV writes the header unquoted and every data field wrapped in double quotes with
// embedded quotes doubled. encoding/csv only quotes when needed, so fields are quoted here.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(exportHeader, ",") + "\n"); err != nil {
		return err
	}
	for _, r := range rows {
		fields := []string{r.Role, r.Action, r.Status, r.Limit, r.Conditions, r.Category}
		for i, f := range fields {
			if i > 0 {
				if err := bw.WriteByte(','); err != nil {
					return err
				}
			}
			if _, err := bw.WriteString(quote(f)); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func quote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// WriteXLSX writes the same rows as WriteCSV into a single-sheet workbook with a bold header.
func WriteXLSX(w io.Writer, rows []ExportRow) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("matrix: xlsx sheet: %w", err)
	}
	header := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return fmt.Errorf("matrix: xlsx header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("matrix: xlsx style: %w", err)
	}
	if err := f.SetCellStyle(xlsxSheet, "A1", "F1", bold); err != nil {
		return fmt.Errorf("matrix: xlsx style: %w", err)
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{r.Role, r.Action, r.Status, r.Limit, r.Conditions, r.Category}
		if err := f.SetSheetRow(xlsxSheet, cell, &values); err != nil {
			return fmt.Errorf("matrix: xlsx row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(xlsxSheet, "A", "F", 24); err != nil {
		return fmt.Errorf("matrix: xlsx width: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("matrix: xlsx write: %w", err)
	}
	return nil
}
