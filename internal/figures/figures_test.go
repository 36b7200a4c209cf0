package figures_test

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"qcweekly/internal/config"
	"qcweekly/internal/figures"
	"qcweekly/internal/groupreport"
	"qcweekly/internal/testsupport"
)

var testDay = time.Date(2026, 10, 19, 9, 0, 0, 0, time.Local)

func testOptions(dir string) figures.Options {
	cfg := config.Default()
	opts := figures.OptionsFromConfig(&cfg, testDay)
	opts.OutDir = dir
	opts.DPI = 50
	opts.PanelInches = 2
	return opts
}

func TestPanelsNamesAndTitles(t *testing.T) {
	panels := figures.Panels(testOptions(t.TempDir()))
	var cids []string
	for _, p := range panels {
		cids = append(cids, p.CID)
	}
	want := []string{"baseline_t1", "scan2_t1", "baseline_rest", "scan2_rest", "baseline_ta", "scan2_ta"}
	if diff := cmp.Diff(want, cids); diff != "" {
		t.Fatalf("panel order mismatch (-want +got):\n%s", diff)
	}
	if got := panels[5].Title(); got != "Scan 2 Think Aloud MRIQC Metrics" {
		t.Fatalf("unexpected title %q", got)
	}
	if got := panels[0].FileName(testDay); got != "baseline_T1_MRIQC_metrics_2026-10-19.png" {
		t.Fatalf("unexpected file name %q", got)
	}
	if got := panels[3].FileName(testDay); got != "scan2_rest_MRIQC_metrics_2026-10-19.png" {
		t.Fatalf("unexpected file name %q", got)
	}
}

func TestSplitTaskMatchesEntity(t *testing.T) {
	table := &groupreport.Table{
		Columns: []string{"participant_id", "file_name"},
		Rows: []map[string]string{
			{"participant_id": "1001", "file_name": "sub-1001_task-rest_bold.json"},
			{"participant_id": "1001", "file_name": "sub-1001_task-ta_bold.json"},
			{"participant_id": "1001", "file_name": "sub-1001_task-TA_run-02_bold.json"},
			{"participant_id": "1001", "file_name": "sub-1001_task-me_bold.json"},
		},
	}
	if got := figures.SplitTask(table, "ta").Len(); got != 2 {
		t.Fatalf("expected two ta rows, got %d", got)
	}
	if got := figures.SplitTask(table, "rest").Len(); got != 1 {
		t.Fatalf("expected one rest row, got %d", got)
	}
}

func TestMakeRendersAvailablePanels(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteText(t, filepath.Join(dir, "baseline_T1w_2026-10-19.tsv"),
		"participant_id\tfile_name\tcjv\tcnr\tqi_2\n1007\tsub-1007_T1w.json\t0.41\t3.2\t0.002\n")
	testsupport.WriteText(t, filepath.Join(dir, "baseline_T1w.tsv"),
		"participant_id\tfile_name\tcjv\tcnr\tqi_2\n"+
			"1001\tsub-1001_T1w.json\t0.40\t3.1\t0.001\n"+
			"1002\tsub-1002_T1w.json\t0.45\t3.0\t0.003\n"+
			"1007\tsub-1007_T1w.json\t0.41\t3.2\t0.002\n")
	testsupport.WriteText(t, filepath.Join(dir, "baseline_bold_2026-10-19.tsv"),
		"participant_id\tfile_name\tfd_mean\tsnr\tdvars_nstd\n"+
			"1007\tsub-1007_task-rest_bold.json\t0.12\t5.1\t1.1\n"+
			"1007\tsub-1007_task-ta_bold.json\t0.18\t4.9\t1.3\n")

	art, err := figures.Make(context.Background(), testOptions(dir))
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	wantCounts := map[string]int{
		"baseline_t1": 1, "scan2_t1": 0,
		"baseline_rest": 1, "scan2_rest": 0,
		"baseline_ta": 1, "scan2_ta": 0,
	}
	if diff := cmp.Diff(wantCounts, art.Counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	if len(art.CIDToPath) != 3 {
		t.Fatalf("expected three figures, got %v", art.CIDToPath)
	}
	if _, ok := art.CIDToPath["scan2_t1"]; ok {
		t.Fatal("scan2 has no data and must not produce a figure")
	}

	path := art.CIDToPath["baseline_t1"]
	if filepath.Base(path) != "baseline_T1_MRIQC_metrics_2026-10-19.png" {
		t.Fatalf("unexpected figure path %q", path)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open figure: %v", err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if cfg.Width <= cfg.Height {
		t.Fatalf("expected a wide three-panel figure, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestMakeWithNoTablesProducesNoFigures(t *testing.T) {
	art, err := figures.Make(context.Background(), testOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	if len(art.CIDToPath) != 0 {
		t.Fatalf("expected no figures, got %v", art.CIDToPath)
	}
	if len(art.Counts) != 6 {
		t.Fatalf("expected counts for every panel, got %v", art.Counts)
	}
}

func TestMakeSkipsNonFiniteCells(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteText(t, filepath.Join(dir, "baseline_T1w_2026-10-19.tsv"),
		"participant_id\tfile_name\tcjv\tcnr\tqi_2\n"+
			"1007\tsub-1007_T1w.json\tinf\t3.2\tnan\n"+
			"1008\tsub-1008_T1w.json\t0.42\t-inf\t0.002\n")
	testsupport.WriteText(t, filepath.Join(dir, "baseline_T1w.tsv"),
		"participant_id\tfile_name\tcjv\tcnr\tqi_2\n"+
			"1001\tsub-1001_T1w.json\t0.40\tInfinity\t0.001\n"+
			"1007\tsub-1007_T1w.json\tinf\t3.2\tnan\n")

	art, err := figures.Make(context.Background(), testOptions(dir))
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	if _, ok := art.CIDToPath["baseline_t1"]; !ok {
		t.Fatalf("expected a baseline T1 figure, got %v", art.CIDToPath)
	}
	if got := art.Counts["baseline_t1"]; got != 2 {
		t.Fatalf("expected two this-week rows, got %d", got)
	}
}
