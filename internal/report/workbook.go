// Package report builds Excel workbooks from AWS Config aggregator compliance
// data and Security Hub findings.
package report

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/dev-tams/cloudsweep/internal/storage"
)

// NotAvailable fills cells whose source field is missing.
const NotAvailable = "N/A"

type sheet struct {
	name   string
	header []any
	rows   [][]any
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return NotAvailable
	}
	return *s
}

func strOrNA(s string) string {
	if s == "" {
		return NotAvailable
	}
	return s
}

// newWorkbook lays out one worksheet per sheet, header in bold on row 1.
// The default sheet is renamed to the first one so no empty tab is left.
func newWorkbook(sheets ...sheet) (*excelize.File, error) {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), s.name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return nil, err
		}

		header := s.header
		if err := f.SetSheetRow(s.name, "A1", &header); err != nil {
			return nil, fmt.Errorf("%s header: %w", s.name, err)
		}
		if err := f.SetRowStyle(s.name, 1, 1, bold); err != nil {
			return nil, err
		}
		for r, row := range s.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetSheetRow(s.name, cell, &row); err != nil {
				return nil, fmt.Errorf("%s row %d: %w", s.name, r+2, err)
			}
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

// save streams the workbook to key on st and returns where it landed.
func save(ctx context.Context, st storage.Storage, key string, f *excelize.File) (string, error) {
	defer f.Close()

	w, loc, err := st.OpenWriter(ctx, key)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", key, err)
	}
	if err := f.Write(w); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write %s: %w", loc, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", loc, err)
	}
	return loc, nil
}
