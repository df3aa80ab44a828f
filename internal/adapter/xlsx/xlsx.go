// Package xlsx exports telemetry tables as Excel workbooks.
package xlsx

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/couchcryptid/soil-telemetry-service/internal/domain"
	"github.com/xuri/excelize/v2"
)

// SheetName is the name of the single worksheet in every export.
const SheetName = "readings"

// TimestampFormat is the number format applied to the timestamp column.
// Cells hold Excel date serials in UTC.
const TimestampFormat = "yyyy-mm-dd hh:mm:ss"

var header = []string{
	domain.FieldTimestamp,
	domain.FieldGravel,
	domain.FieldSand,
	domain.FieldSilt,
}

func cellName(col, row int) string {
	columnName, err := excelize.ColumnNumberToName(col)
	if err != nil {
		return ""
	}
	name, err := excelize.JoinCellName(columnName, row)
	if err != nil {
		return ""
	}
	return name
}

// WriteTable writes the table as a workbook with a bold header row and one
// row per reading. An empty table produces the header and a notice row.
func WriteTable(w io.Writer, table domain.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	_ = f.SetColWidth(SheetName, "A", "A", 28)
	_ = f.SetColWidth(SheetName, "B", "D", 20)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	timestampFormat := TimestampFormat
	timestampStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &timestampFormat})
	if err != nil {
		return fmt.Errorf("create timestamp style: %w", err)
	}

	for i, name := range header {
		_ = f.SetCellValue(SheetName, cellName(i+1, 1), name)
	}
	_ = f.SetCellStyle(SheetName, cellName(1, 1), cellName(len(header), 1), headerStyle)

	if table.Empty() {
		_ = f.SetCellValue(SheetName, cellName(1, 2), domain.ErrNoData.Error())
	}
	for i, r := range table {
		row := i + 2
		_ = f.SetCellValue(SheetName, cellName(1, row), r.Timestamp.UTC())
		_ = f.SetCellValue(SheetName, cellName(2, row), r.GravelPercentage)
		_ = f.SetCellValue(SheetName, cellName(3, row), r.SandPercentage)
		_ = f.SetCellValue(SheetName, cellName(4, row), r.SiltPercentage)
	}
	if !table.Empty() {
		_ = f.SetCellStyle(SheetName, cellName(1, 2), cellName(1, len(table)+1), timestampStyle)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

// FileSink writes each published table to a workbook on disk, replacing the
// previous export.
type FileSink struct {
	path string
}

// NewFileSink creates a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Name() string { return "xlsx" }

// Publish writes to a temporary file in the target directory and renames it
// into place so readers never see a partial workbook.
func (s *FileSink) Publish(_ context.Context, table domain.Table) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".readings-*.xlsx")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteTable(tmp, table); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("move export into place: %w", err)
	}
	return nil
}
