package exporter

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	api "keygate/pkg/contracts/api/v1"
)

const (
	keysSheet  = "Keys"
	statsSheet = "Stats"
)

// WriteXLSX writes the key list as a workbook with a Keys and a Stats sheet
func WriteXLSX(w io.Writer, list *api.ListResponse, now time.Time) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close workbook: %w", cerr)
		}
	}()

	if err := f.SetSheetName(f.GetSheetName(0), keysSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(statsSheet); err != nil {
		return fmt.Errorf("failed to create stats sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeKeysSheet(f, list, bold); err != nil {
		return err
	}
	if err := writeStatsSheet(f, list.Stats, now, bold); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeKeysSheet(f *excelize.File, list *api.ListResponse, headerStyle int) error {
	sw, err := f.NewStreamWriter(keysSheet)
	if err != nil {
		return fmt.Errorf("failed to open stream writer: %w", err)
	}

	if err := sw.SetRow("A1", toCells(Headers), excelize.RowOpts{StyleID: headerStyle}); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}

	for i, k := range list.Keys {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, toCells(Row(k))); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush keys sheet: %w", err)
	}
	return nil
}

func writeStatsSheet(f *excelize.File, stats api.Stats, now time.Time, headerStyle int) error {
	rows := [][]interface{}{
		{"Metric", "Value"},
		{"Total", stats.Total},
		{"Active", stats.Active},
		{"Expired", stats.Expired},
		{"Revoked", stats.Revoked},
		{"Killed", stats.Killed},
		{"Online", stats.Online},
		{"Generated At", now.UTC().Format(time.RFC3339)},
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(statsSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write stats row %d: %w", i+1, err)
		}
	}
	if err := f.SetCellStyle(statsSheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("failed to style stats header: %w", err)
	}
	return nil
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
