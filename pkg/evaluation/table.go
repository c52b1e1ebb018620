package evaluation

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"mriqa/internal/models"
)

// tableHeader is the metrics table column layout
var tableHeader = []string{"participant_id", "session_id", "group", "EFC", "SNR", "CNR", "CJV", "error"}

// WriteTable writes the metric rows as a CSV file, overwriting any
// previous table at that path
func WriteTable(rows []models.MetricRow, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating metrics table: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(tableHeader); err != nil {
		return fmt.Errorf("writing metrics table header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			row.SubjectID,
			row.SessionID,
			row.Group,
			formatCell(row.EFC),
			formatCell(row.SNR),
			formatCell(row.CNR),
			formatCell(row.CJV),
			row.Error,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing metrics table row for %s: %w", row.SubjectID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing metrics table: %w", err)
	}
	return nil
}

// formatCell renders an optional metric value, leaving the cell empty
// when the metric was not computed
func formatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', 6, 64)
}
