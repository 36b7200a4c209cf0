package groupreport_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"qcweekly/internal/cohort"
	"qcweekly/internal/groupreport"
	"qcweekly/internal/services"
	"qcweekly/internal/testsupport"
)

var testDay = time.Date(2026, 10, 19, 12, 0, 0, 0, time.Local)

func writeT1(t *testing.T, deriv, label string, cjv float64) {
	t.Helper()
	testsupport.WriteIQM(t, deriv, label, "sub-"+label+"_T1w.json", map[string]any{
		"cjv": cjv,
		"cnr": 3.1,
		"provenance": map[string]any{
			"version": "24.0.2",
			"md5sum":  "abc",
		},
	})
}

func TestFindIQMJSONsFilters(t *testing.T) {
	deriv := t.TempDir()
	writeT1(t, deriv, "1001", 0.4)
	writeT1(t, deriv, "1002", 0.5)
	testsupport.WriteText(t, filepath.Join(deriv, "sub-10011", "ses-01", "anat", "sub-10011_ses-01_T1w.json"), `{"cjv": 0.6}`)
	testsupport.WriteIQM(t, deriv, "1001", "sub-1001_task-rest_bold.json", map[string]any{"fd_mean": 0.1})

	all, err := groupreport.FindIQMJSONs(deriv, groupreport.ModalityT1w, nil)
	if err != nil {
		t.Fatalf("FindIQMJSONs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected three T1w files including session layout, got %v", all)
	}

	some, err := groupreport.FindIQMJSONs(deriv, groupreport.ModalityT1w, []string{"sub-1002"})
	if err != nil {
		t.Fatalf("FindIQMJSONs: %v", err)
	}
	if len(some) != 1 || filepath.Base(some[0]) != "sub-1002_T1w.json" {
		t.Fatalf("unexpected filtered files %v", some)
	}

	none, err := groupreport.FindIQMJSONs(deriv, groupreport.ModalityT1w, []string{})
	if err != nil {
		t.Fatalf("FindIQMJSONs: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("empty label list must select nothing, got %v", none)
	}

	bold, err := groupreport.FindIQMJSONs(deriv, groupreport.ModalityBold, nil)
	if err != nil {
		t.Fatalf("FindIQMJSONs: %v", err)
	}
	if len(bold) != 1 {
		t.Fatalf("expected one bold file, got %v", bold)
	}
}

func TestAggregateFlattensAndRecordsReadErrors(t *testing.T) {
	deriv := t.TempDir()
	writeT1(t, deriv, "1002", 0.5)
	writeT1(t, deriv, "1001", 0.4)
	testsupport.WriteText(t, filepath.Join(deriv, "sub-1003", "anat", "sub-1003_T1w.json"), "{not json")

	agg, err := groupreport.Aggregate(deriv, groupreport.ModalityT1w, nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if agg.ReadErrors != 1 {
		t.Fatalf("expected one read error, got %d", agg.ReadErrors)
	}
	wantPrefix := []string{"participant_id", "file_name", "source_json", "cjv", "cnr", "provenance.md5sum", "provenance.version"}
	if diff := cmp.Diff(wantPrefix, agg.Table.Columns[:len(wantPrefix)]); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
	if !agg.Table.HasColumn("__read_error__") {
		t.Fatalf("expected __read_error__ column, got %v", agg.Table.Columns)
	}
	if diff := cmp.Diff([]string{"cjv", "cnr"}, agg.Numeric); diff != "" {
		t.Fatalf("numeric mismatch (-want +got):\n%s", diff)
	}
	var ids []string
	for _, row := range agg.Table.Rows {
		ids = append(ids, row["participant_id"])
	}
	if diff := cmp.Diff([]string{"1001", "1002", "1003"}, ids); diff != "" {
		t.Fatalf("row order mismatch (-want +got):\n%s", diff)
	}
	if agg.Table.Rows[2]["__read_error__"] == "" {
		t.Fatal("expected read error text on unreadable row")
	}
}

func TestAddOutlierFlags(t *testing.T) {
	table := &groupreport.Table{Columns: []string{"participant_id", "file_name", "snr", "flat", "sparse"}}
	values := []string{"10", "10", "10", "10", "10", "10", "10", "10", "10", "100"}
	for i, v := range values {
		row := map[string]string{
			"participant_id": string(rune('a' + i)),
			"file_name":      "f",
			"snr":            v,
			"flat":           "1",
		}
		if i < 3 {
			row["sparse"] = v
		}
		table.Rows = append(table.Rows, row)
	}

	added := groupreport.AddOutlierFlags(table, []string{"snr", "flat", "sparse"}, groupreport.OutlierOptions{ZThreshold: 2.5, MinSamples: 5})
	if diff := cmp.Diff([]string{"outlier__snr"}, added); diff != "" {
		t.Fatalf("added mismatch (-want +got):\n%s", diff)
	}
	if table.Rows[9]["outlier__snr"] != "True" {
		t.Fatalf("expected last row flagged, got %q", table.Rows[9]["outlier__snr"])
	}
	if table.Rows[0]["outlier__snr"] != "False" {
		t.Fatalf("expected first row unflagged, got %q", table.Rows[0]["outlier__snr"])
	}
}

func TestUpsertNewRowsWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline_T1w.tsv")
	testsupport.WriteText(t, path, "participant_id\tfile_name\tcjv\told_only\n1002\tsub-1002_T1w.json\t0.9\tx\n1001\tsub-1001_T1w.json\t0.1\ty\n")

	incoming := &groupreport.Table{
		Columns: []string{"participant_id", "file_name", "cjv", "cnr"},
		Rows: []map[string]string{
			{"participant_id": "1002", "file_name": "sub-1002_T1w.json", "cjv": "0.5", "cnr": "3"},
			{"participant_id": "1003", "file_name": "sub-1003_T1w.json", "cjv": "0.6", "cnr": "4"},
		},
	}
	merged, err := groupreport.Upsert(incoming, path)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if diff := cmp.Diff([]string{"participant_id", "file_name", "cjv", "old_only", "cnr"}, merged.Columns); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}

	reread, err := groupreport.ReadTSV(path)
	if err != nil {
		t.Fatalf("ReadTSV: %v", err)
	}
	if reread.Len() != 3 {
		t.Fatalf("expected three rows, got %d", reread.Len())
	}
	got := []string{reread.Rows[0]["participant_id"], reread.Rows[1]["participant_id"], reread.Rows[2]["participant_id"]}
	if diff := cmp.Diff([]string{"1001", "1002", "1003"}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if reread.Rows[1]["cjv"] != "0.5" || reread.Rows[1]["old_only"] != "" {
		t.Fatalf("expected incoming row to replace old row, got %v", reread.Rows[1])
	}
}

func TestReadTSVMissingIsNotFound(t *testing.T) {
	_, err := groupreport.ReadTSV(filepath.Join(t.TempDir(), "absent.tsv"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBuildIncrementalSkipsCohortsWithoutLabels(t *testing.T) {
	deriv := t.TempDir()
	out := t.TempDir()
	for i, label := range []string{"1001", "1002", "1003", "1004", "1005"} {
		writeT1(t, deriv, label, 0.4+float64(i)/10)
	}
	testsupport.WriteIQM(t, deriv, "1001", "sub-1001_task-rest_bold.json", map[string]any{"fd_mean": 0.1, "snr": 5.0})
	writeT1(t, deriv, "10011", 0.3)

	result, err := groupreport.Build(context.Background(), groupreport.Options{
		DerivativesDir: deriv,
		OutputDir:      out,
		Labels:         []string{"1001", "sub-1002"},
		Outliers:       true,
		ZThreshold:     3,
		MinSamples:     5,
		Date:           testDay,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !result.Incremental {
		t.Fatal("expected incremental mode")
	}
	if len(result.Outputs) != 4 {
		t.Fatalf("expected four outputs, got %d", len(result.Outputs))
	}
	byName := map[string]groupreport.Output{}
	for _, o := range result.Outputs {
		byName[string(o.Cohort)+"_"+string(o.Modality)] = o
	}
	if o := byName["scan2_T1w"]; !o.Skipped {
		t.Fatalf("expected scan2 skipped in incremental mode, got %+v", o)
	}
	t1 := byName["baseline_T1w"]
	if t1.Rows != 2 {
		t.Fatalf("expected two baseline T1w rows, got %+v", t1)
	}
	if filepath.Base(t1.SnapshotPath) != "baseline_T1w_2026-10-19.tsv" {
		t.Fatalf("unexpected snapshot path %q", t1.SnapshotPath)
	}
	snapshot, err := groupreport.ReadTSV(t1.SnapshotPath)
	if err != nil {
		t.Fatalf("ReadTSV: %v", err)
	}
	if diff := cmp.Diff([]string{"participant_id", "file_name", "cjv", "cnr"}, snapshot.Columns); diff != "" {
		t.Fatalf("snapshot columns mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(out, "baseline_T1w.tsv")); err != nil {
		t.Fatalf("expected canonical TSV: %v", err)
	}
	if bold := byName["baseline_bold"]; bold.Rows != 1 {
		t.Fatalf("expected one baseline bold row, got %+v", bold)
	}
	if _, err := os.Stat(filepath.Join(out, "scan2_T1w_2026-10-19.tsv")); !os.IsNotExist(err) {
		t.Fatalf("scan2 snapshot must not be written, stat err=%v", err)
	}
}

func TestBuildFullModeDiscoversAndFlags(t *testing.T) {
	deriv := t.TempDir()
	for i, label := range []string{"1001", "1002", "1003", "1004", "1005", "1006"} {
		writeT1(t, deriv, label, 0.4+float64(i)/100)
	}
	writeT1(t, deriv, "10011", 0.3)

	result, err := groupreport.Build(context.Background(), groupreport.Options{
		DerivativesDir: deriv,
		Outliers:       true,
		ZThreshold:     3,
		MinSamples:     5,
		Date:           testDay,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.Incremental {
		t.Fatal("expected full mode")
	}
	if diff := cmp.Diff([]string{"1001", "1002", "1003", "1004", "1005", "1006"}, result.Baseline); diff != "" {
		t.Fatalf("discovered baseline mismatch (-want +got):\n%s", diff)
	}
	first := result.Outputs[0]
	if first.Cohort != cohort.Baseline || first.Modality != groupreport.ModalityT1w {
		t.Fatalf("unexpected output order %+v", first)
	}
	canonical, err := groupreport.ReadTSV(first.CanonicalPath)
	if err != nil {
		t.Fatalf("ReadTSV: %v", err)
	}
	if !canonical.HasColumn("outlier__cjv") {
		t.Fatalf("expected outlier column for varying metric, got %v", canonical.Columns)
	}
	if canonical.HasColumn("outlier__cnr") {
		t.Fatal("constant metric must not get an outlier column")
	}
	if filepath.Dir(first.SnapshotPath) != deriv {
		t.Fatalf("output dir should default to derivatives dir, got %q", first.SnapshotPath)
	}
	scan2 := result.Outputs[1]
	if scan2.Rows != 1 {
		t.Fatalf("expected one scan2 row, got %+v", scan2)
	}
	summary := groupreport.FormatResult(result)
	if !strings.Contains(summary, "Mode: full") || !strings.Contains(summary, "baseline T1w: 6 rows") {
		t.Fatalf("unexpected summary:\n%s", summary)
	}
}

func TestBuildRejectsUnknownLabels(t *testing.T) {
	_, err := groupreport.Build(context.Background(), groupreport.Options{
		DerivativesDir: t.TempDir(),
		Labels:         []string{"12"},
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAggregateReadsNonFiniteLiterals(t *testing.T) {
	deriv := t.TempDir()
	testsupport.WriteText(t, filepath.Join(deriv, "sub-1001", "anat", "sub-1001_T1w.json"),
		`{"cjv": 0.41, "cnr": 3.2, "fwhm_x": NaN, "snr_wm": -Infinity, "note": "NaN stays text", "bids_meta": {"Infinity": Infinity}}`)

	agg, err := groupreport.Aggregate(deriv, groupreport.ModalityT1w, nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if agg.ReadErrors != 0 {
		t.Fatalf("expected no read errors, got %d: %v", agg.ReadErrors, agg.Table.Rows)
	}
	row := agg.Table.Rows[0]
	if row["cjv"] != "0.41" || row["cnr"] != "3.2" {
		t.Fatalf("finite metrics lost: %v", row)
	}
	if row["fwhm_x"] != "" || row["snr_wm"] != "" || row["bids_meta.Infinity"] != "" {
		t.Fatalf("non-finite metrics should be blank: %v", row)
	}
	if row["note"] != "NaN stays text" {
		t.Fatalf("string content must be untouched, got %q", row["note"])
	}
}

func TestBuildFullModeKeepsCanonicalRows(t *testing.T) {
	deriv := t.TempDir()
	out := t.TempDir()
	testsupport.WriteText(t, filepath.Join(out, "baseline_T1w.tsv"),
		"participant_id\tfile_name\tcjv\n1001\tsub-1001_T1w.json\t0.4\n")
	writeT1(t, deriv, "1002", 0.5)

	result, err := groupreport.Build(context.Background(), groupreport.Options{
		DerivativesDir: deriv,
		OutputDir:      out,
		Date:           testDay,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.Incremental {
		t.Fatal("expected full mode")
	}
	canonical, err := groupreport.ReadTSV(filepath.Join(out, "baseline_T1w.tsv"))
	if err != nil {
		t.Fatalf("ReadTSV: %v", err)
	}
	var ids []string
	for _, row := range canonical.Rows {
		ids = append(ids, row["participant_id"])
	}
	if diff := cmp.Diff([]string{"1001", "1002"}, ids); diff != "" {
		t.Fatalf("canonical rows mismatch (-want +got):\n%s", diff)
	}
	if got := result.Outputs[0].CanonicalRows; got != 2 {
		t.Fatalf("expected two canonical rows reported, got %d", got)
	}
}
