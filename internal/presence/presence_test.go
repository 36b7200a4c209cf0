package presence_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"qcweekly/internal/cohort"
	"qcweekly/internal/presence"
	"qcweekly/internal/services"
	"qcweekly/internal/testsupport"
)

func auditFixture(t *testing.T) (presence.Options, string) {
	t.Helper()
	root := t.TempDir()
	bids := filepath.Join(root, "bids")
	base := filepath.Join(root, "MRIQC")
	deriv := filepath.Join(base, "derivatives", "mriqc")

	testsupport.AddSubject(t, bids, "1001", testsupport.FullScanSet("1001")...)
	testsupport.AddSubject(t, bids, "1002",
		"anat/sub-1002_T1w.nii.gz",
		"func/sub-1002_task-rest_bold.nii.gz",
	)
	testsupport.AddSubject(t, bids, "1003", testsupport.FullScanSet("1003")...)
	testsupport.AddSubject(t, bids, "10011", testsupport.FullScanSet("10011")...)
	testsupport.AddSubject(t, bids, "12", "anat/sub-12_T1w.nii.gz")
	testsupport.WriteText(t, filepath.Join(bids, "sub-9999"), "not a directory")

	testsupport.WriteText(t, filepath.Join(base, "group_T1w.tsv"),
		"bids_name\tcjv\nsub-1001_T1w\t0.4\nsub-1002_T1w\t0.5\n")
	testsupport.WriteText(t, filepath.Join(base, "group_bold.tsv"),
		"bids_name\tfd_mean\nsub-1001_task-rest_bold\t0.1\n")
	testsupport.WriteText(t, filepath.Join(deriv, "sub-10011_task-rest_bold.html"), "<html/>")

	return presence.Options{
		BidsFolder:     bids,
		MRIQCRoot:      base,
		DerivativesDir: deriv,
		OutputDir:      base,
	}, base
}

func TestAuditWritesTrackersAndReports(t *testing.T) {
	opts, base := auditFixture(t)
	var progress []string
	opts.Progress = func(c cohort.Cohort, done, total int) {
		progress = append(progress, string(c))
	}

	result, err := presence.Audit(context.Background(), opts)
	if err != nil {
		t.Fatalf("Audit returned error: %v", err)
	}
	if len(result.Cohorts) != 2 {
		t.Fatalf("expected two cohorts, got %d", len(result.Cohorts))
	}
	if len(progress) != 4 {
		t.Fatalf("expected progress per subject, got %v", progress)
	}

	baselineCSV := testsupport.ReadText(t, filepath.Join(base, "scan_presence_baseline_qc.csv"))
	wantBaseline := strings.Join([]string{
		"ID,hippocampus,dwi,resting_state,think_aloud,minds_eye,MRIQC",
		"sub-1001,1,1,1,1,1,1",
		"sub-1002,0,0,1,0,0,no_bold",
		"sub-1003,1,1,1,1,1,0",
		"",
	}, "\n")
	if diff := cmp.Diff(wantBaseline, baselineCSV); diff != "" {
		t.Fatalf("baseline csv mismatch (-want +got):\n%s", diff)
	}

	scan2CSV := testsupport.ReadText(t, filepath.Join(base, "scan_presence_scan2_qc.csv"))
	if !strings.Contains(scan2CSV, "sub-10011,1,1,1,1,1,no_t1") {
		t.Fatalf("expected html-only bold output to yield no_t1, got:\n%s", scan2CSV)
	}

	report := testsupport.ReadText(t, filepath.Join(base, "missing_scans_report_baseline_qc.txt"))
	for _, line := range []string{
		"====== Missing Scans Report (baseline) ======",
		"sub-1001 has ALL scans ✓ | MRIQC OK",
		"sub-1002 missing: hippocampus, dwi, think_aloud, minds_eye | MRIQC no_bold",
		"sub-1003 has ALL scans ✓ | MRIQC missing BOTH",
	} {
		if !strings.Contains(report, line) {
			t.Fatalf("expected %q in report:\n%s", line, report)
		}
	}
}

func TestAuditToleratesUnreadableDerivatives(t *testing.T) {
	opts, _ := auditFixture(t)
	opts.DerivativesDir = filepath.Join(t.TempDir(), "missing")

	result, err := presence.Audit(context.Background(), opts)
	if err != nil {
		t.Fatalf("Audit returned error: %v", err)
	}
	for _, c := range result.Cohorts {
		if c.Cohort != cohort.Scan2 {
			continue
		}
		if c.Rows[0].MRIQC != presence.StatusMissing {
			t.Fatalf("expected scan2 subject without html index to be missing, got %q", c.Rows[0].MRIQC)
		}
	}
}

func TestAuditMissingBidsFolder(t *testing.T) {
	_, err := presence.Audit(context.Background(), presence.Options{
		BidsFolder: filepath.Join(t.TempDir(), "nope"),
		OutputDir:  t.TempDir(),
	})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoadCSVAndMissingMRIQC(t *testing.T) {
	dir := t.TempDir()
	baseline := filepath.Join(dir, "scan_presence_baseline_qc.csv")
	scan2 := filepath.Join(dir, "scan_presence_scan2_qc.csv")
	testsupport.WriteText(t, baseline, strings.Join([]string{
		"ID,hippocampus,dwi,resting_state,think_aloud,minds_eye,MRIQC",
		"sub-1003,1,1,1,1,1,0",
		"sub-1001,1,1,1,1,1,1",
		"sub-1002,1,0,1,1,1, 0 ",
		"bogus,1,1,1,1,1,0",
	}, "\n"))
	testsupport.WriteText(t, scan2, strings.Join([]string{
		"ID,hippocampus,dwi,resting_state,think_aloud,minds_eye,MRIQC",
		"sub-10011,1,1,1,1,1,no_bold",
		"sub-10031,1,1,1,1,1,0",
	}, "\n"))

	rows, err := presence.LoadCSV(baseline, scan2)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("expected six rows, got %d", len(rows))
	}
	if rows[0].Source != "scan_presence_baseline_qc.csv" {
		t.Fatalf("unexpected source %q", rows[0].Source)
	}
	if rows[2].Present["dwi"] {
		t.Fatal("expected dwi absent for sub-1002")
	}

	got := presence.MissingMRIQC(rows)
	want := []string{"1003", "1002", "10031"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	_, err := presence.LoadCSV(filepath.Join(t.TempDir(), "absent.csv"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "CSV not found") {
		t.Fatalf("expected CSV not found message, got %v", err)
	}
}

func TestFormatReportEmptyCohort(t *testing.T) {
	got := presence.FormatReport(cohort.Scan2, nil)
	want := "====== Missing Scans Report (scan2) ======\n\n\n=================================\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
