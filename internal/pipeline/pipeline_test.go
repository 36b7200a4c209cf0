package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/go-cmp/cmp"

	"qcweekly/internal/config"
	"qcweekly/internal/console"
	"qcweekly/internal/history"
	"qcweekly/internal/mailer"
	"qcweekly/internal/pipeline"
	"qcweekly/internal/services"
	"qcweekly/internal/services/bidsvalidator"
	"qcweekly/internal/services/command"
	"qcweekly/internal/testsupport"
)

var today = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

type fakeDocker struct {
	t     *testing.T
	deriv string
	fail  map[string]bool

	mu    sync.Mutex
	specs []command.Spec
}

func (f *fakeDocker) Run(_ context.Context, spec command.Spec) (command.Result, error) {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	if len(spec.Args) > 0 && spec.Args[0] == "info" {
		return command.Result{Stdout: "27.3.1\n"}, nil
	}
	label := argAfter(spec.Args, "--participant-label")
	if f.fail[label] {
		return command.Result{ExitCode: 1, Stderr: "mriqc crashed\n"}, nil
	}
	testsupport.WriteIQM(f.t, f.deriv, label, "sub-"+label+"_T1w.json",
		map[string]any{"cjv": 0.41, "cnr": 3.2, "qi_2": 0.002})
	testsupport.WriteIQM(f.t, f.deriv, label, "sub-"+label+"_task-rest_bold.json",
		map[string]any{"fd_mean": 0.12, "snr": 5.1, "dvars_nstd": 1.1})
	return command.Result{Stdout: "mriqc finished\n"}, nil
}

func (f *fakeDocker) runs() []command.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []command.Spec
	for _, spec := range f.specs {
		if len(spec.Args) > 0 && spec.Args[0] == "run" {
			out = append(out, spec)
		}
	}
	return out
}

func argAfter(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

type sentMail struct {
	subject string
	body    string
	images  []mailer.Image
}

type recordingSender struct {
	plain []sentMail
	html  []sentMail
	err   error
}

func (s *recordingSender) SendPlain(_ context.Context, subject, body string) error {
	if s.err != nil {
		return s.err
	}
	s.plain = append(s.plain, sentMail{subject: subject, body: body})
	return nil
}

func (s *recordingSender) SendHTML(_ context.Context, subject, html string, images []mailer.Image) error {
	if s.err != nil {
		return s.err
	}
	s.html = append(s.html, sentMail{subject: subject, body: html, images: images})
	return nil
}

type stubValidator struct {
	status bidsvalidator.Status
	calls  int
}

func (v *stubValidator) Validate(_ context.Context, dataset, outputDir string) (bidsvalidator.Result, error) {
	v.calls++
	return bidsvalidator.Result{
		Status:     v.status,
		Stdout:     "validated " + dataset,
		OutputFile: filepath.Join(outputDir, bidsvalidator.OutputName(today)),
	}, nil
}

type harness struct {
	cfg       *config.Config
	docker    *fakeDocker
	sender    *recordingSender
	validator *stubValidator
	out       *bytes.Buffer
	runner    *pipeline.Runner
}

func newHarness(t *testing.T, answer string) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.MRIQC.Retries = 0
	cfg.Report.DPI = 50
	cfg.Report.PanelInches = 2

	h := &harness{
		cfg:       cfg,
		docker:    &fakeDocker{t: t, deriv: cfg.MRIQCDerivativesDir(), fail: map[string]bool{}},
		sender:    &recordingSender{},
		validator: &stubValidator{status: bidsvalidator.StatusSuccess},
		out:       &bytes.Buffer{},
	}
	runner, err := pipeline.New(cfg,
		pipeline.WithExecutor(h.docker),
		pipeline.WithMailer(h.sender),
		pipeline.WithValidator(h.validator),
		pipeline.WithConsole(console.New(h.out, strings.NewReader(answer))),
		pipeline.WithClock(func() time.Time { return today }),
		pipeline.WithRunIDs(func() string { return "run-0001-abcd" }),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	h.runner = runner
	return h
}

func (h *harness) addSubjects(t *testing.T, labels ...string) {
	t.Helper()
	for _, label := range labels {
		testsupport.AddSubject(t, h.cfg.Paths.BidsFolder, label, testsupport.FullScanSet(label)...)
	}
}

func openHistory(t *testing.T, cfg *config.Config) *history.Store {
	t.Helper()
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunWeeklyEndToEnd(t *testing.T) {
	h := newHarness(t, "y\n")
	h.addSubjects(t, "1001", "10011")

	result, err := h.runner.Run(context.Background(), pipeline.Options{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if h.validator.calls != 1 {
		t.Fatalf("expected one validator call, got %d", h.validator.calls)
	}
	if len(h.sender.plain) != 1 || h.sender.plain[0].subject != "[MRIQC] BIDS validation SUCCESS for bids" {
		t.Fatalf("unexpected validation mail %+v", h.sender.plain)
	}
	if diff := cmp.Diff([]string{"1001", "10011"}, result.Targets); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}
	if result.MRIQC.OK != 2 || result.MRIQC.Failed != 0 {
		t.Fatalf("unexpected mriqc summary ok=%d failed=%d", result.MRIQC.OK, result.MRIQC.Failed)
	}
	if got := len(h.docker.runs()); got != 2 {
		t.Fatalf("expected two docker runs, got %d", got)
	}

	for _, name := range []string{"baseline_T1w_2026-10-19.tsv", "baseline_T1w.tsv", "scan2_bold.tsv"} {
		if _, err := os.Stat(filepath.Join(h.cfg.WeeklyGroupReportsDir(), name)); err != nil {
			t.Fatalf("expected group TSV %s: %v", name, err)
		}
	}

	if !result.ReportSent || len(h.sender.html) != 1 {
		t.Fatalf("expected one mini-report, got %d (sent=%v)", len(h.sender.html), result.ReportSent)
	}
	report := h.sender.html[0]
	if report.subject != "MRIQC Mini-Report: 2026-10-12 – 2026-10-19" {
		t.Fatalf("unexpected report subject %q", report.subject)
	}
	var cids []string
	for _, img := range report.images {
		cids = append(cids, img.CID)
	}
	if diff := cmp.Diff([]string{"baseline_t1", "scan2_t1", "baseline_rest", "scan2_rest"}, cids); diff != "" {
		t.Fatalf("inline images mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(report.body, `src="cid:baseline_t1"`) {
		t.Fatal("report body does not reference the baseline T1 figure")
	}
	if strings.Contains(report.body, `cid:baseline_ta`) {
		t.Fatal("report body references a figure that was not rendered")
	}

	if filepath.Base(result.RunLogPath) != "qcweekly-2026-10-19-run-0001.log" {
		t.Fatalf("unexpected run log %q", result.RunLogPath)
	}
	if _, err := os.Stat(result.RunLogPath); err != nil {
		t.Fatalf("run log missing: %v", err)
	}

	lock := flock.New(h.cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("expected run lock to be released, locked=%v err=%v", locked, err)
	}
	_ = lock.Unlock()

	store := openHistory(t, h.cfg)
	run, err := store.GetRun(context.Background(), "run-0001-abcd")
	if err != nil || run == nil {
		t.Fatalf("GetRun: run=%v err=%v", run, err)
	}
	if run.Status != services.OutcomeSucceeded || run.Targets != 2 || run.OK != 2 || run.ValidatorStatus != "SUCCESS" {
		t.Fatalf("unexpected history row %+v", run)
	}
	subjects, err := store.SubjectRuns(context.Background(), "run-0001-abcd")
	if err != nil {
		t.Fatalf("SubjectRuns: %v", err)
	}
	if len(subjects) != 2 {
		t.Fatalf("expected two subject rows, got %d", len(subjects))
	}
}

func TestRunContinuesPastFailedSubject(t *testing.T) {
	h := newHarness(t, "")
	h.addSubjects(t, "1001", "1002")
	h.docker.fail["1002"] = true

	result, err := h.runner.Run(context.Background(), pipeline.Options{Yes: true, SkipBidsVal: true})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.MRIQC.OK != 1 || result.MRIQC.Failed != 1 {
		t.Fatalf("unexpected mriqc summary ok=%d failed=%d", result.MRIQC.OK, result.MRIQC.Failed)
	}
	if !result.ReportSent {
		t.Fatal("expected the mini-report despite one failed subject")
	}
	stderrLog := filepath.Join(h.cfg.MRIQCLogsDir(), "mriqc_1002.err.txt")
	if got := testsupport.ReadText(t, stderrLog); !strings.Contains(got, "mriqc crashed") {
		t.Fatalf("unexpected stderr log %q", got)
	}
}

func TestRunStopsWhenOperatorDeclines(t *testing.T) {
	h := newHarness(t, "n\n")
	h.addSubjects(t, "1001")

	result, err := h.runner.Run(context.Background(), pipeline.Options{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Declined {
		t.Fatal("expected run to be declined")
	}
	if len(h.sender.plain) != 1 || len(h.sender.html) != 0 {
		t.Fatalf("expected only the validation mail, got plain=%d html=%d", len(h.sender.plain), len(h.sender.html))
	}
	if _, err := os.Stat(h.cfg.ScanPresenceCSV("baseline")); !os.IsNotExist(err) {
		t.Fatalf("presence audit must not run after declining, stat err=%v", err)
	}
	if !strings.Contains(h.out.String(), "Continue to MRIQC? (y/n): ") {
		t.Fatalf("prompt not shown: %q", h.out.String())
	}

	run, err := openHistory(t, h.cfg).GetRun(context.Background(), result.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun: run=%v err=%v", run, err)
	}
	if run.Status != services.OutcomeSkipped {
		t.Fatalf("expected skipped status, got %q", run.Status)
	}
}

func TestRunWithNothingToProcessSendsNoReport(t *testing.T) {
	h := newHarness(t, "")

	result, err := h.runner.Run(context.Background(), pipeline.Options{Yes: true, SkipBidsVal: true})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if h.validator.calls != 0 {
		t.Fatal("validator must be skipped")
	}
	if len(result.Targets) != 0 || result.ReportSent || len(h.sender.html) != 0 {
		t.Fatalf("expected a clean exit without report, got %+v", result)
	}
	if !strings.Contains(h.out.String(), "Nothing to run.") {
		t.Fatalf("expected nothing-to-run message, got %q", h.out.String())
	}
	for _, c := range []string{"baseline", "scan2"} {
		if _, err := os.Stat(h.cfg.ScanPresenceCSV(c)); err != nil {
			t.Fatalf("expected %s presence CSV: %v", c, err)
		}
	}
}

func TestRunDryRunSkipsMRIQC(t *testing.T) {
	h := newHarness(t, "")
	h.addSubjects(t, "1001")

	result, err := h.runner.Run(context.Background(), pipeline.Options{Yes: true, SkipBidsVal: true, DryRun: true})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(h.docker.specs) != 0 {
		t.Fatalf("dry run must not execute anything, got %d calls", len(h.docker.specs))
	}
	if !result.MRIQC.DryRun || result.MRIQC.OK != 0 || result.MRIQC.Failed != 0 {
		t.Fatalf("unexpected dry-run summary %+v", result.MRIQC)
	}
	if !strings.Contains(h.out.String(), "[dry-run] docker run") {
		t.Fatalf("expected dry-run command echo, got %q", h.out.String())
	}
	if len(h.sender.html) != 1 || len(h.sender.html[0].images) != 0 {
		t.Fatalf("expected a report without figures, got %+v", h.sender.html)
	}
}

func TestRunEmailOnlyRebuildsGroup(t *testing.T) {
	h := newHarness(t, "")
	testsupport.WriteIQM(t, h.cfg.MRIQCDerivativesDir(), "1001", "sub-1001_T1w.json",
		map[string]any{"cjv": 0.40, "cnr": 3.1, "qi_2": 0.001})

	result, err := h.runner.Run(context.Background(), pipeline.Options{EmailOnly: true, RerunGroup: true})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Mode != history.ModeEmailOnly {
		t.Fatalf("unexpected mode %q", result.Mode)
	}
	if h.validator.calls != 0 || len(h.docker.specs) != 0 {
		t.Fatal("email-only mode must not validate or run MRIQC")
	}
	if result.Group.Incremental {
		t.Fatal("expected a full group rebuild")
	}
	if len(h.sender.html) != 1 {
		t.Fatalf("expected one report, got %d", len(h.sender.html))
	}
	images := h.sender.html[0].images
	if len(images) != 1 || images[0].CID != "baseline_t1" {
		t.Fatalf("unexpected images %+v", images)
	}
	if result.Figures.Counts["baseline_t1"] != 1 {
		t.Fatalf("unexpected counts %v", result.Figures.Counts)
	}
}

func TestRunRefusesWhileLocked(t *testing.T) {
	h := newHarness(t, "")
	lock := flock.New(h.cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("setup lock: locked=%v err=%v", locked, err)
	}
	defer func() { _ = lock.Unlock() }()

	_, err = h.runner.Run(context.Background(), pipeline.Options{Yes: true, SkipBidsVal: true})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error while locked, got %v", err)
	}
}

func TestRunRecordsMailFailure(t *testing.T) {
	h := newHarness(t, "")
	h.sender.err = services.Wrap(services.ErrExternalTool, "mailer", "sendmail", "exit 75", nil)

	result, err := h.runner.Run(context.Background(), pipeline.Options{Yes: true})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	run, err := openHistory(t, h.cfg).GetRun(context.Background(), result.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun: run=%v err=%v", run, err)
	}
	if run.Status != services.OutcomeFailed || !strings.Contains(run.ErrorMessage, "exit 75") {
		t.Fatalf("unexpected history row %+v", run)
	}
}

func TestRunRejectsInvalidOverrides(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.runner.Run(context.Background(), pipeline.Options{BaseFolder: h.cfg.Paths.BidsFolder})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunMRIQCForExplicitLabels(t *testing.T) {
	h := newHarness(t, "")

	result, err := h.runner.RunMRIQC(context.Background(), []string{"1001", "10011"}, pipeline.Options{})
	if err != nil {
		t.Fatalf("RunMRIQC returned error: %v", err)
	}
	if result.Mode != history.ModeMRIQC || result.MRIQC.OK != 2 {
		t.Fatalf("unexpected result mode=%q ok=%d", result.Mode, result.MRIQC.OK)
	}
	if h.validator.calls != 0 || len(h.sender.plain)+len(h.sender.html) != 0 {
		t.Fatal("mriqc-only runs must not validate or send mail")
	}
	subjects, err := openHistory(t, h.cfg).SubjectRuns(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("SubjectRuns: %v", err)
	}
	var labels []string
	for _, sr := range subjects {
		labels = append(labels, sr.Label)
	}
	if diff := cmp.Diff([]string{"1001", "10011"}, labels); diff != "" {
		t.Fatalf("history subjects mismatch (-want +got):\n%s", diff)
	}
}

func TestRunMRIQCWithoutPresenceCSVs(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.runner.RunMRIQC(context.Background(), nil, pipeline.Options{})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}
