package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"ledgerline/internal/domain"
	"ledgerline/internal/extraction"
)

const (
	itemsSheet   = "Line Items"
	warningSheet = "Warnings"
)

// WriteXLSX writes drafts as a workbook: one sheet of line item rows using the CSV
// columns and one sheet listing extraction warnings.
func WriteXLSX(w io.Writer, drafts []domain.InvoiceDraft) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), itemsSheet); err != nil {
		return fmt.Errorf("export.WriteXLSX: rename sheet: %w", err)
	}
	if err := writeSheetRows(f, itemsSheet, columns, func(emit func([]string) error) error {
		for i := range drafts {
			for _, row := range Rows(&drafts[i]) {
				if err := emit(row); err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if _, err := f.NewSheet(warningSheet); err != nil {
		return fmt.Errorf("export.WriteXLSX: add sheet: %w", err)
	}
	warningColumns := []string{"Document Key", "Kind", "Code", "Source Line", "Raw", "Message"}
	if err := writeSheetRows(f, warningSheet, warningColumns, func(emit func([]string) error) error {
		for i := range drafts {
			for _, wn := range drafts[i].Warnings {
				row := []string{drafts[i].DocumentKey, string(wn.Kind), wn.Code, strconv.Itoa(wn.Line), wn.Raw, wn.Message}
				if err := emit(row); err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("export.WriteXLSX: write workbook: %w", err)
	}
	return nil
}

func writeSheetRows(f *excelize.File, sheet string, header []string, fill func(emit func([]string) error) error) error {
	rowNum := 1
	emit := func(row []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("export: write %s row %d: %w", sheet, rowNum, err)
		}
		rowNum++
		return nil
	}
	if err := emit(header); err != nil {
		return err
	}
	return fill(emit)
}

// ReadExpectationXLSX reads expected line item descriptions from the first column of
// the first sheet of a workbook, such as an exported delivery note. Row 1 is a header
// row; blank cells are skipped.
func ReadExpectationXLSX(r io.Reader) (*extraction.Expectation, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("export.ReadExpectationXLSX: open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("export.ReadExpectationXLSX: read rows: %w", err)
	}

	exp := &extraction.Expectation{Source: domain.AlignmentSourceLayout}
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) == 0 {
			continue
		}
		if desc := strings.TrimSpace(rows[i][0]); desc != "" {
			exp.Descriptions = append(exp.Descriptions, desc)
		}
	}
	exp.Count = len(exp.Descriptions)
	return exp, nil
}
