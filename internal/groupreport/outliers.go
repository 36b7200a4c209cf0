package groupreport

import (
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// OutlierOptions controls z-score flagging.
type OutlierOptions struct {
	ZThreshold float64
	MinSamples int
}

// AddOutlierFlags appends an outlier__<col> column for each numeric column
// with at least MinSamples present values and a non-zero sample standard
// deviation. A row is flagged when |z| >= ZThreshold; missing values are never
// flagged. It returns the names of the added columns.
func AddOutlierFlags(t *Table, numeric []string, opts OutlierOptions) []string {
	if t == nil || len(t.Rows) == 0 {
		return nil
	}
	minSamples := opts.MinSamples
	if minSamples < 2 {
		minSamples = 2
	}
	var added []string
	for _, col := range numeric {
		values := make([]float64, len(t.Rows))
		present := make([]bool, len(t.Rows))
		var sample []float64
		for i, row := range t.Rows {
			raw := strings.TrimSpace(row[col])
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(v) {
				continue
			}
			values[i], present[i] = v, true
			sample = append(sample, v)
		}
		if len(sample) < minSamples {
			continue
		}
		mean, std := stat.MeanStdDev(sample, nil)
		if std == 0 || math.IsNaN(std) {
			continue
		}
		flag := outlierPrefix + col
		for i, row := range t.Rows {
			outlier := present[i] && math.Abs((values[i]-mean)/std) >= opts.ZThreshold
			if outlier {
				row[flag] = "True"
			} else {
				row[flag] = "False"
			}
		}
		added = append(added, flag)
	}
	t.Columns = append(t.Columns, added...)
	return added
}
