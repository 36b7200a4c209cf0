package report_test

import (
	"strings"
	"testing"
	"time"

	"qcweekly/internal/cohort"
	"qcweekly/internal/figures"
	"qcweekly/internal/report"
	"qcweekly/internal/services/bidsvalidator"
)

func sampleArtifacts() figures.Artifacts {
	return figures.Artifacts{
		CIDToPath: map[string]string{"baseline_t1": "/tmp/baseline_T1_MRIQC_metrics_2026-10-19.png"},
		Counts:    map[string]int{"baseline_t1": 1200, "scan2_t1": 0},
		Panels: []figures.Panel{
			{CID: "baseline_t1", Cohort: cohort.Baseline, Label: "T1"},
			{CID: "scan2_t1", Cohort: cohort.Scan2, Label: "T1"},
		},
	}
}

func TestBuildHTML(t *testing.T) {
	today := time.Date(2026, 10, 19, 8, 0, 0, 0, time.Local)
	data := report.NewData(today, "/data/MRIQC/weekly_group_reports", []string{"1001", "10021", "1003"}, sampleArtifacts())
	if data.Baseline != 2 || data.Scan2 != 1 || data.Total != 3 {
		t.Fatalf("unexpected counts %+v", data)
	}
	if got := report.MiniReportSubject(data); got != "MRIQC Mini-Report: 2026-10-12 – 2026-10-19" {
		t.Fatalf("unexpected subject %q", got)
	}

	html, err := report.BuildHTML(data)
	if err != nil {
		t.Fatalf("BuildHTML: %v", err)
	}
	for _, want := range []string{
		"<b>2026-10-12</b> to <b>2026-10-19</b>",
		"/data/MRIQC/weekly_group_reports",
		"Total subjects: 3",
		`src="cid:baseline_t1"`,
		"Baseline T1 (n = 1,200 this week)",
		"Scan 2 T1 (n = 0 this week)",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("html missing %q:\n%s", want, html)
		}
	}
	if strings.Contains(html, "cid:scan2_t1") {
		t.Fatalf("html must not reference unavailable figures:\n%s", html)
	}
}

func TestValidationEmail(t *testing.T) {
	result := bidsvalidator.Result{
		Status:     bidsvalidator.StatusIssuesFound,
		Stdout:     "[ERR] something",
		OutputFile: "/data/MRIQC/validator_outputs/bids_validator_output_2026-10-19.txt",
	}
	subject := report.ValidationSubject("[MRIQC]", result.Status, "/data/study/bids/")
	if subject != "[MRIQC] BIDS validation ISSUES_FOUND for bids" {
		t.Fatalf("unexpected subject %q", subject)
	}
	body := report.ValidationBody(result, "/data/study/bids")
	want := "Status: ISSUES_FOUND\n" +
		"BIDS folder: /data/study/bids\n\n" +
		"Validator output saved to: /data/MRIQC/validator_outputs/bids_validator_output_2026-10-19.txt\n\n" +
		"===== STDOUT =====\n[ERR] something\n\n" +
		"===== STDERR =====\n(no stderr)\n"
	if body != want {
		t.Fatalf("unexpected body:\n%s", body)
	}
}
