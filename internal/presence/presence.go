package presence

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"qcweekly/internal/cohort"
	"qcweekly/internal/logging"
	"qcweekly/internal/services"
)

// Modality is one scan type tracked by the presence CSV.
type Modality struct {
	Column  string
	Pattern *regexp.Regexp
}

// Modalities lists tracked scans in CSV column order.
var Modalities = []Modality{
	{Column: "hippocampus", Pattern: regexp.MustCompile(`acq-hippo.*_T2w\.nii\.gz$`)},
	{Column: "dwi", Pattern: regexp.MustCompile(`.*_dwi\.nii\.gz$`)},
	{Column: "resting_state", Pattern: regexp.MustCompile(`task-rest.*_bold\.nii\.gz$`)},
	{Column: "think_aloud", Pattern: regexp.MustCompile(`task-ta.*_bold\.nii\.gz$`)},
	{Column: "minds_eye", Pattern: regexp.MustCompile(`task-me.*_bold\.nii\.gz$`)},
}

const (
	columnID    = "ID"
	columnMRIQC = "MRIQC"
)

// Row is one subject in a presence CSV.
type Row struct {
	ID      string
	Present map[string]bool
	MRIQC   Status
	// Source is the CSV file the row was loaded from; empty for audited rows.
	Source string
}

// Missing returns the modality columns with no acquired scan.
func (r Row) Missing() []string {
	var missing []string
	for _, m := range Modalities {
		if !r.Present[m.Column] {
			missing = append(missing, m.Column)
		}
	}
	return missing
}

// Options configures an audit.
type Options struct {
	BidsFolder string
	// MRIQCRoot holds site-level group_T1w.tsv / group_bold.tsv files.
	MRIQCRoot string
	// DerivativesDir holds MRIQC HTML reports and group TSVs.
	DerivativesDir string
	// OutputDir receives the CSVs and reports.
	OutputDir string
	Logger    *slog.Logger
	// Progress is called after each subject is scanned.
	Progress func(c cohort.Cohort, done, total int)
}

// CohortResult describes the files written for one cohort.
type CohortResult struct {
	Cohort     cohort.Cohort
	Rows       []Row
	CSVPath    string
	ReportPath string
}

// Result is the outcome of an audit.
type Result struct {
	Cohorts []CohortResult
}

// CSVPaths returns the presence CSV written for each cohort.
func (r Result) CSVPaths() []string {
	paths := make([]string, 0, len(r.Cohorts))
	for _, c := range r.Cohorts {
		paths = append(paths, c.CSVPath)
	}
	return paths
}

// CSVName returns the presence CSV file name for a cohort.
func CSVName(c cohort.Cohort) string {
	return fmt.Sprintf("scan_presence_%s_qc.csv", c)
}

// ReportName returns the missing-scan report file name for a cohort.
func ReportName(c cohort.Cohort) string {
	return fmt.Sprintf("missing_scans_report_%s_qc.txt", c)
}

// Audit scans every subject in the BIDS folder and writes the presence CSVs
// and missing-scan reports for both cohorts.
func Audit(ctx context.Context, opts Options) (Result, error) {
	logger := logging.NewComponentLogger(opts.Logger, "presence")
	if strings.TrimSpace(opts.BidsFolder) == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "presence", "audit", "bids folder required", nil)
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "presence", "audit", "output directory required", nil)
	}

	index := newMRIQCIndex()
	t1TSVs, boldTSVs := groupTSVPaths(opts.MRIQCRoot, opts.DerivativesDir)
	for _, path := range t1TSVs {
		if err := index.addGroupTSV(path, false); err != nil {
			return Result{}, services.Wrap(services.ErrValidation, "presence", "read mriqc group tsv", "", err)
		}
	}
	for _, path := range boldTSVs {
		if err := index.addGroupTSV(path, true); err != nil {
			return Result{}, services.Wrap(services.ErrValidation, "presence", "read mriqc group tsv", "", err)
		}
	}
	if opts.DerivativesDir != "" {
		if err := index.addHTMLReports(opts.DerivativesDir); err != nil {
			logging.WarnWithContext(logger, "mriqc html index unavailable", "mriqc_index_unreadable",
				logging.String("path", opts.DerivativesDir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the derivatives mount is reachable"),
				logging.String(logging.FieldImpact, "status relies on group TSVs only"),
			)
		}
	}

	subjects, err := listSubjects(opts.BidsFolder)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, c := range cohort.All {
		ids := subjects[c]
		logger.Info("scanning subjects",
			logging.String(logging.FieldCohort, string(c)),
			logging.Int("subjects", len(ids)),
		)
		rows := make([]Row, 0, len(ids))
		for i, id := range ids {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			row, err := scanSubject(filepath.Join(opts.BidsFolder, id), id)
			if err != nil {
				return Result{}, services.Wrap(services.ErrExternalTool, "presence", "scan subject", id, err)
			}
			row.MRIQC = index.status(id)
			rows = append(rows, row)
			if opts.Progress != nil {
				opts.Progress(c, i+1, len(ids))
			}
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

		cr := CohortResult{
			Cohort:     c,
			Rows:       rows,
			CSVPath:    filepath.Join(opts.OutputDir, CSVName(c)),
			ReportPath: filepath.Join(opts.OutputDir, ReportName(c)),
		}
		if err := writeCSV(cr.CSVPath, rows); err != nil {
			return Result{}, err
		}
		if err := os.WriteFile(cr.ReportPath, []byte(FormatReport(c, rows)), 0o644); err != nil {
			return Result{}, fmt.Errorf("write missing-scan report: %w", err)
		}
		logger.Info("presence tracker written",
			logging.String(logging.FieldCohort, string(c)),
			logging.String(logging.FieldEventType, "presence_written"),
			logging.Int("rows", len(rows)),
			logging.String("output_path", cr.CSVPath),
		)
		result.Cohorts = append(result.Cohorts, cr)
	}
	return result, nil
}

func listSubjects(bidsFolder string) (map[cohort.Cohort][]string, error) {
	entries, err := os.ReadDir(bidsFolder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "presence", "list subjects", bidsFolder, err)
		}
		return nil, services.Wrap(services.ErrExternalTool, "presence", "list subjects", bidsFolder, err)
	}
	out := make(map[cohort.Cohort][]string, len(cohort.All))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		c, _, ok := cohort.ClassifyDir(entry.Name())
		if !ok {
			continue
		}
		out[c] = append(out[c], entry.Name())
	}
	for c := range out {
		sort.Strings(out[c])
	}
	return out, nil
}

func scanSubject(dir, id string) (Row, error) {
	row := Row{ID: id, Present: make(map[string]bool, len(Modalities))}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		for _, m := range Modalities {
			if m.Pattern.MatchString(name) {
				row.Present[m.Column] = true
			}
		}
		return nil
	})
	return row, err
}

func header() []string {
	cols := make([]string, 0, len(Modalities)+2)
	cols = append(cols, columnID)
	for _, m := range Modalities {
		cols = append(cols, m.Column)
	}
	return append(cols, columnMRIQC)
}

func writeCSV(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create presence csv: %w", err)
	}
	w := csv.NewWriter(file)
	records := make([][]string, 0, len(rows)+1)
	records = append(records, header())
	for _, row := range rows {
		record := make([]string, 0, len(Modalities)+2)
		record = append(record, row.ID)
		for _, m := range Modalities {
			if row.Present[m.Column] {
				record = append(record, "1")
			} else {
				record = append(record, "0")
			}
		}
		record = append(record, string(row.MRIQC))
		records = append(records, record)
	}
	if err := w.WriteAll(records); err != nil {
		_ = file.Close()
		return fmt.Errorf("write presence csv: %w", err)
	}
	return file.Close()
}

// FormatReport renders the missing-scan report for one cohort.
func FormatReport(c cohort.Cohort, rows []Row) string {
	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, fmt.Sprintf("====== Missing Scans Report (%s) ======\n", c))
	for _, row := range rows {
		if missing := row.Missing(); len(missing) > 0 {
			lines = append(lines, fmt.Sprintf("%s missing: %s | %s", row.ID, strings.Join(missing, ", "), row.MRIQC.Describe()))
		} else {
			lines = append(lines, fmt.Sprintf("%s has ALL scans ✓ | %s", row.ID, row.MRIQC.Describe()))
		}
	}
	lines = append(lines, "\n=================================\n")
	return strings.Join(lines, "\n")
}
