package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"qcweekly/internal/cohort"
	"qcweekly/internal/figures"
	"qcweekly/internal/services/bidsvalidator"
)

const (
	dateLayout   = "2006-01-02"
	reportWindow = 7 * 24 * time.Hour
)

//go:embed minireport.html.tmpl
var miniReportTemplate string

var printer = message.NewPrinter(language.English)

var tmpl = template.Must(template.New("minireport").Funcs(template.FuncMap{
	"count": func(n int) string { return printer.Sprintf("%d", n) },
}).Parse(miniReportTemplate))

// Section is one panel of the mini-report.
type Section struct {
	CID       string
	Title     string
	Count     int
	HasFigure bool
}

// Data feeds BuildHTML.
type Data struct {
	From      time.Time
	To        time.Time
	OutputDir string
	Total     int
	Baseline  int
	Scan2     int
	EmailOnly bool
	Sections  []Section
}

// FromDate and ToDate render the reporting window.
func (d Data) FromDate() string { return d.From.Format(dateLayout) }
func (d Data) ToDate() string   { return d.To.Format(dateLayout) }

// NewData assembles report data for today from figure artifacts and the
// labels processed in this run.
func NewData(today time.Time, outDir string, targets []string, art figures.Artifacts) Data {
	baseline, scan2 := cohort.Count(targets)
	data := Data{
		From:      today.Add(-reportWindow),
		To:        today,
		OutputDir: outDir,
		Total:     len(targets),
		Baseline:  baseline,
		Scan2:     scan2,
	}
	for _, panel := range art.Panels {
		_, ok := art.CIDToPath[panel.CID]
		data.Sections = append(data.Sections, Section{
			CID:       panel.CID,
			Title:     fmt.Sprintf("%s %s", panel.Cohort.Title(), panel.Label),
			Count:     art.Counts[panel.CID],
			HasFigure: ok,
		})
	}
	return data
}

// MiniReportSubject is the subject line of the weekly HTML email.
func MiniReportSubject(d Data) string {
	return fmt.Sprintf("MRIQC Mini-Report: %s – %s", d.FromDate(), d.ToDate())
}

// BuildHTML renders the mini-report body. Images are referenced as cid:<CID>
// only for sections whose figure exists.
func BuildHTML(d Data) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render mini-report: %w", err)
	}
	return buf.String(), nil
}

// ValidationSubject is the subject line of the validator email.
func ValidationSubject(prefix string, status bidsvalidator.Status, bidsFolder string) string {
	subject := fmt.Sprintf("BIDS validation %s for %s", status, filepath.Base(filepath.Clean(bidsFolder)))
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		subject = prefix + " " + subject
	}
	return subject
}

// ValidationBody renders the plain-text validator email.
func ValidationBody(r bidsvalidator.Result, bidsFolder string) string {
	stdout := r.Stdout
	if stdout == "" {
		stdout = "(no stdout)"
	}
	stderr := r.Stderr
	if stderr == "" {
		stderr = "(no stderr)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	fmt.Fprintf(&b, "BIDS folder: %s\n\n", bidsFolder)
	fmt.Fprintf(&b, "Validator output saved to: %s\n\n", r.OutputFile)
	fmt.Fprintf(&b, "===== STDOUT =====\n%s\n\n", stdout)
	fmt.Fprintf(&b, "===== STDERR =====\n%s\n", stderr)
	return b.String()
}

// TestSubject and TestBody back qcweekly test-email.
func TestSubject(prefix string) string {
	return strings.TrimSpace(prefix + " qcweekly test email")
}

func TestBody(host string, now time.Time) string {
	return fmt.Sprintf("This is a test message from qcweekly on %s at %s.\nIf you received it, sendmail delivery works.\n",
		host, now.Format(time.RFC1123))
}
