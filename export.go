package dispatch

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

var (
	MissingColumnErr = errors.New("Column 'mobile_numbers' not found in the first row of the sheet")
	NoNumbersErr     = errors.New("No valid numbers found, numbers must start with a country code (e.g. +91)")
	EmptySheetErr    = errors.New("The sheet appears to be empty")
)

const (
	reportSheet   = "Report"
	importColumn  = "mobile_numbers"
	xlsxMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ExportReport renders the records with the given outcome as a two column
// spreadsheet (number, provider response). Records with other outcomes are skipped.
func ExportReport(jobId uuid.UUID, records []DeliveryRecord, outcome Outcome) (string, []byte, error) {
	numberHeader, prefix := "Delivery Success Number", "Success_Report"
	if outcome == OutcomeFailed {
		numberHeader, prefix = "Delivery Failures Numbers", "Failure_Report"
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	xl.SetSheetName(xl.GetSheetName(0), reportSheet)

	headerStyle, err := xl.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"D3D3D3"}, Pattern: 1},
		Border:    cellBorder(),
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to create header style")
	}

	cellStyle, err := xl.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "left"},
		Border:    cellBorder(),
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to create cell style")
	}

	header := []string{numberHeader, "Api Response"}
	if err := xl.SetSheetRow(reportSheet, "A1", &header); err != nil {
		return "", nil, errors.Wrap(err, "failed to write header")
	}

	if err := xl.SetCellStyle(reportSheet, "A1", "B1", headerStyle); err != nil {
		return "", nil, errors.Wrap(err, "failed to style header")
	}

	if err := xl.SetColWidth(reportSheet, "A", "A", 25); err != nil {
		return "", nil, errors.Wrap(err, "failed to size number column")
	}

	if err := xl.SetColWidth(reportSheet, "B", "B", 60); err != nil {
		return "", nil, errors.Wrap(err, "failed to size response column")
	}

	row := 2
	for _, r := range records {
		if r.Outcome != outcome {
			continue
		}

		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return "", nil, errors.Wrapf(err, "failed to address row %d", row)
		}

		values := []string{r.RecipientNumber, r.ProviderResponse}
		if err := xl.SetSheetRow(reportSheet, cell, &values); err != nil {
			return "", nil, errors.Wrapf(err, "failed to write row %d", row)
		}

		last, err := excelize.CoordinatesToCellName(2, row)
		if err != nil {
			return "", nil, errors.Wrapf(err, "failed to address row %d", row)
		}

		if err := xl.SetCellStyle(reportSheet, cell, last, cellStyle); err != nil {
			return "", nil, errors.Wrapf(err, "failed to style row %d", row)
		}

		row++
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to write workbook")
	}

	return fmt.Sprintf("%s_%s.xlsx", prefix, jobId), buf.Bytes(), nil
}

func cellBorder() []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
}

// ImportNumbers reads the mobile_numbers column of the active sheet of an
// xlsx workbook. Cells without an explicit country code are dropped.
func ImportNumbers(r io.Reader) ([]string, error) {
	xl, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "Could not read the file")
	}
	defer func() { _ = xl.Close() }()

	rows, err := xl.GetRows(xl.GetSheetName(xl.GetActiveSheetIndex()))
	if err != nil {
		return nil, errors.Wrap(err, "Could not read the sheet")
	}

	if len(rows) == 0 {
		return nil, EmptySheetErr
	}

	column := -1
	for i, name := range rows[0] {
		if strings.ToLower(strings.TrimSpace(name)) == importColumn {
			column = i
			break
		}
	}

	if column < 0 {
		return nil, MissingColumnErr
	}

	var numbers []string
	for _, row := range rows[1:] {
		if len(row) <= column {
			continue
		}

		if number, ok := acceptBulkNumber(row[column]); ok {
			numbers = append(numbers, number)
		}
	}

	if len(numbers) == 0 {
		return nil, NoNumbersErr
	}

	return numbers, nil
}
