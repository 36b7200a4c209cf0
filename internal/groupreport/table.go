package groupreport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"qcweekly/internal/services"
)

// Key columns identify a row in every group TSV.
const (
	ColParticipant = "participant_id"
	ColFileName    = "file_name"
	ColSourceJSON  = "source_json"
	ColReadError   = "__read_error__"
	ColPath        = "__path__"

	outlierPrefix = "outlier__"
)

// Table is a tab-separated sheet with ordered columns. Empty cells are
// missing values.
type Table struct {
	Columns []string
	Rows    []map[string]string
}

// Len returns the number of rows; a nil table has none.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether name is one of the table's columns.
func (t *Table) HasColumn(name string) bool {
	return t != nil && slices.Contains(t.Columns, name)
}

// Floats returns the finite values of column name in row order. Blank,
// unparseable, NaN, and infinite cells are dropped.
func (t *Table) Floats(name string) []float64 {
	if t == nil {
		return nil
	}
	var out []float64
	for _, row := range t.Rows {
		raw := strings.TrimSpace(row[name])
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Filter returns a table with the same columns holding rows where keep is true.
func (t *Table) Filter(keep func(row map[string]string) bool) *Table {
	if t == nil {
		return &Table{}
	}
	out := &Table{Columns: append([]string(nil), t.Columns...)}
	for _, row := range t.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// Select returns a table restricted to cols, in the given order.
func (t *Table) Select(cols []string) *Table {
	out := &Table{Columns: append([]string(nil), cols...)}
	for _, row := range t.Rows {
		picked := make(map[string]string, len(cols))
		for _, c := range cols {
			if v, ok := row[c]; ok {
				picked[c] = v
			}
		}
		out.Rows = append(out.Rows, picked)
	}
	return out
}

// ReadTSV loads a group TSV. A missing file is reported as ErrNotFound.
func ReadTSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "group", "read tsv", path, err)
		}
		return nil, services.Wrap(services.ErrValidation, "group", "read tsv", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Table{}, nil
		}
		return nil, services.Wrap(services.ErrValidation, "group", "read tsv header", path, err)
	}
	table := &Table{Columns: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "group", "read tsv row", path, err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// WriteTSV writes the table to path, creating the parent directory.
func (t *Table) WriteTSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "group", "create output dir", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "group", "write tsv", path, err)
	}
	writer := csv.NewWriter(f)
	writer.Comma = '\t'
	if err := writer.Write(t.Columns); err != nil {
		_ = f.Close()
		return fmt.Errorf("write header %s: %w", path, err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			record[i] = row[col]
		}
		if err := writer.Write(record); err != nil {
			_ = f.Close()
			return fmt.Errorf("write row %s: %w", path, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// sortByKey orders rows by participant_id then file_name with missing keys
// last.
func (t *Table) sortByKey() {
	slices.SortStableFunc(t.Rows, func(a, b map[string]string) int {
		if c := compareMissingLast(a[ColParticipant], b[ColParticipant]); c != 0 {
			return c
		}
		return compareMissingLast(a[ColFileName], b[ColFileName])
	})
}

func compareMissingLast(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	default:
		return strings.Compare(a, b)
	}
}

func rowKey(row map[string]string) string {
	return row[ColParticipant] + "\x00" + row[ColFileName]
}
