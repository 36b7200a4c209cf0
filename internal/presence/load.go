package presence

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"qcweekly/internal/cohort"
	"qcweekly/internal/services"
)

// LoadCSV reads one or more presence CSVs and concatenates their rows in file
// order. A missing file is an error.
func LoadCSV(paths ...string) ([]Row, error) {
	var rows []Row
	for _, path := range paths {
		loaded, err := loadOne(path)
		if err != nil {
			return nil, err
		}
		rows = append(rows, loaded...)
	}
	return rows, nil
}

func loadOne(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "presence", "load csv", "CSV not found: "+path, err)
		}
		return nil, fmt.Errorf("open presence csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "presence", "load csv", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	columns := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		columns[strings.TrimSpace(name)] = i
	}
	idCol, ok := columns[columnID]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "presence", "load csv", path+": missing ID column", nil)
	}
	mriqcCol, ok := columns[columnMRIQC]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "presence", "load csv", path+": missing MRIQC column", nil)
	}

	source := filepath.Base(path)
	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := Row{Present: make(map[string]bool, len(Modalities)), Source: source}
		row.ID = field(record, idCol)
		row.MRIQC = Status(field(record, mriqcCol))
		for _, m := range Modalities {
			if idx, ok := columns[m.Column]; ok {
				row.Present[m.Column] = isTruthy(field(record, idx))
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func isTruthy(value string) bool {
	switch value {
	case "1", "1.0", "true", "True":
		return true
	default:
		return false
	}
}

// MissingMRIQC returns the numeric labels (no sub- prefix) of rows whose
// MRIQC status is exactly 0, preserving input order.
func MissingMRIQC(rows []Row) []string {
	var labels []string
	for _, row := range rows {
		if strings.TrimSpace(string(row.MRIQC)) != string(StatusMissing) {
			continue
		}
		label, ok := cohort.ExtractLabel(row.ID)
		if !ok {
			continue
		}
		labels = append(labels, label)
	}
	return labels
}
