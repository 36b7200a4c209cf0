package groupreport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"qcweekly/internal/cohort"
	"qcweekly/internal/logging"
	"qcweekly/internal/services"
)

const dateLayout = "2006-01-02"

// SnapshotName is the dated "this week" TSV for a cohort and modality.
func SnapshotName(c cohort.Cohort, m Modality, day time.Time) string {
	return fmt.Sprintf("%s_%s_%s.tsv", c, m, day.Format(dateLayout))
}

// CanonicalName is the cumulative "full sample" TSV for a cohort and modality.
func CanonicalName(c cohort.Cohort, m Modality) string {
	return fmt.Sprintf("%s_%s.tsv", c, m)
}

// WriteSnapshot writes the dated TSV and returns its path.
func WriteSnapshot(t *Table, outDir string, c cohort.Cohort, m Modality, day time.Time) (string, error) {
	path := filepath.Join(outDir, SnapshotName(c, m, day))
	if err := t.WriteTSV(path); err != nil {
		return "", err
	}
	return path, nil
}

// Upsert merges t into the canonical TSV at path, creating it when absent.
// Columns keep the existing order with new columns appended; rows sharing a
// participant_id and file_name are replaced by the incoming row.
func Upsert(t *Table, path string) (*Table, error) {
	existing, err := ReadTSV(path)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}
	merged := &Table{}
	if existing != nil {
		merged.Columns = append(merged.Columns, existing.Columns...)
	}
	for _, col := range t.Columns {
		if !merged.HasColumn(col) {
			merged.Columns = append(merged.Columns, col)
		}
	}

	var all []map[string]string
	if existing != nil {
		all = append(all, existing.Rows...)
	}
	all = append(all, t.Rows...)
	last := make(map[string]int, len(all))
	for i, row := range all {
		last[rowKey(row)] = i
	}
	for i, row := range all {
		if last[rowKey(row)] == i {
			merged.Rows = append(merged.Rows, row)
		}
	}
	merged.sortByKey()
	if err := merged.WriteTSV(path); err != nil {
		return nil, err
	}
	return merged, nil
}

// Options configures Build.
type Options struct {
	DerivativesDir string
	OutputDir      string
	// Labels restricts aggregation to these subjects and switches to
	// incremental mode. Nil aggregates every subject found in DerivativesDir.
	Labels     []string
	Outliers   bool
	ZThreshold float64
	MinSamples int
	Date       time.Time
	Logger     *slog.Logger
}

// Output describes one cohort×modality result.
type Output struct {
	Cohort        cohort.Cohort
	Modality      Modality
	Rows          int
	Columns       int
	ReadErrors    int
	SnapshotPath  string
	CanonicalPath string
	CanonicalRows int
	Skipped       bool
	Reason        string
}

// Result summarizes a Build.
type Result struct {
	Incremental bool
	Baseline    []string
	Scan2       []string
	Outputs     []Output
}

// Build writes the four cohort×modality snapshots and upserts each into its
// canonical TSV. Incremental mode skips cohorts without requested labels;
// full mode aggregates every discovered subject.
func Build(ctx context.Context, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "group")
	if strings.TrimSpace(opts.DerivativesDir) == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "group", "build", "mriqc derivatives directory required", nil)
	}
	outDir := opts.OutputDir
	if strings.TrimSpace(outDir) == "" {
		outDir = opts.DerivativesDir
	}
	day := opts.Date
	if day.IsZero() {
		day = time.Now()
	}

	var result Result
	labels := cohort.ParseLabels(opts.Labels)
	result.Incremental = labels != nil
	if result.Incremental {
		baseline, scan2, err := cohort.Split(labels)
		if err != nil {
			return result, err
		}
		result.Baseline, result.Scan2 = baseline, scan2
		logger.Info("using provided subjects",
			logging.Int("nbaseline", len(baseline)),
			logging.Int("nscan2", len(scan2)),
		)
	} else {
		baseline, scan2, err := DiscoverLabels(opts.DerivativesDir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return result, services.Wrap(services.ErrConfiguration, "group", "discover subjects", opts.DerivativesDir, err)
		}
		if err != nil {
			logging.WarnWithContext(logger, "mriqc derivatives missing", "group_derivatives_missing",
				logging.String("path", opts.DerivativesDir),
				logging.String(logging.FieldErrorHint, "run MRIQC before aggregating"),
				logging.String(logging.FieldImpact, "group TSVs will be empty"),
			)
		}
		// Discovery yields empty lists rather than nil so cohorts with no
		// subjects select nothing instead of everything.
		result.Baseline, result.Scan2 = nonNil(baseline), nonNil(scan2)
		logger.Info("discovered subjects",
			logging.Int("nbaseline", len(baseline)),
			logging.Int("nscan2", len(scan2)),
		)
	}

	for _, m := range Modalities {
		for _, c := range cohort.All {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			subset := result.Baseline
			if c == cohort.Scan2 {
				subset = result.Scan2
			}
			out, err := buildOne(logger, opts, outDir, c, m, subset, result.Incremental, day)
			if err != nil {
				return result, err
			}
			result.Outputs = append(result.Outputs, out)
		}
	}
	return result, nil
}

func buildOne(logger *slog.Logger, opts Options, outDir string, c cohort.Cohort, m Modality, labels []string, incremental bool, day time.Time) (Output, error) {
	out := Output{Cohort: c, Modality: m}
	logger = logger.With(logging.String(logging.FieldCohort, string(c)), logging.String("modality", string(m)))

	if incremental && labels == nil {
		out.Skipped, out.Reason = true, "no labels provided for this cohort"
		logger.Info("incremental run: no labels for cohort; skipping")
		return out, nil
	}
	if labels != nil && len(labels) == 0 {
		out.Skipped, out.Reason = true, "no labels"
		logger.Info("no labels for cohort; skipping")
		return out, nil
	}

	agg, err := Aggregate(opts.DerivativesDir, m, labels)
	if err != nil {
		return out, services.Wrap(services.ErrValidation, "group", "aggregate", fmt.Sprintf("%s %s", c, m), err)
	}
	out.ReadErrors = agg.ReadErrors
	if agg.Table.Len() == 0 {
		out.Skipped, out.Reason = true, "no IQM JSON rows"
		logger.Warn("no rows for cohort",
			logging.String(logging.FieldEventType, "group_empty"),
			logging.String("labels", strings.Join(labels, " ")),
			logging.String(logging.FieldErrorHint, "confirm MRIQC produced IQM JSON for these subjects"),
			logging.String(logging.FieldImpact, "no snapshot written for this cohort"),
		)
		return out, nil
	}
	if agg.ReadErrors > 0 {
		logger.Warn("unreadable IQM JSON files",
			logging.Int("read_errors", agg.ReadErrors),
			logging.String(logging.FieldEventType, "group_read_errors"),
			logging.String(logging.FieldErrorHint, "inspect the __read_error__ column"),
			logging.String(logging.FieldImpact, "affected rows carry no metrics"),
		)
	}

	var flags []string
	if opts.Outliers {
		flags = AddOutlierFlags(agg.Table, agg.Numeric, OutlierOptions{ZThreshold: opts.ZThreshold, MinSamples: opts.MinSamples})
	}
	keep := append([]string{ColParticipant, ColFileName}, agg.Numeric...)
	keep = append(keep, flags...)
	snapshot := agg.Table.Select(keep)
	out.Rows, out.Columns = snapshot.Len(), len(snapshot.Columns)

	out.SnapshotPath, err = WriteSnapshot(snapshot, outDir, c, m, day)
	if err != nil {
		return out, err
	}
	logger.Info("wrote snapshot",
		logging.String(logging.FieldEventType, "group_snapshot_written"),
		logging.String("output_path", out.SnapshotPath),
		logging.Int("rows", out.Rows),
		logging.Int("columns", out.Columns),
	)

	out.CanonicalPath = filepath.Join(outDir, CanonicalName(c, m))
	// The canonical only accumulates, even in full mode, so rows whose
	// derivatives have since been removed stay in the full sample.
	merged, err := Upsert(snapshot, out.CanonicalPath)
	if err != nil {
		return out, err
	}
	out.CanonicalRows = merged.Len()
	logger.Info("updated canonical",
		logging.String(logging.FieldEventType, "group_canonical_written"),
		logging.String("output_path", out.CanonicalPath),
		logging.Int("rows", out.CanonicalRows),
		logging.Bool("incremental", incremental),
	)
	return out, nil
}

func nonNil(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}

// FormatResult renders a human summary of a Build, one line per output.
func FormatResult(r Result) string {
	p := message.NewPrinter(language.English)
	var b strings.Builder
	mode := "full"
	if r.Incremental {
		mode = "incremental"
	}
	p.Fprintf(&b, "Mode: %s (baseline subjects: %d, scan2 subjects: %d)\n", mode, len(r.Baseline), len(r.Scan2))
	for _, out := range r.Outputs {
		if out.Skipped {
			p.Fprintf(&b, "  %s %s: skipped (%s)\n", out.Cohort, out.Modality, out.Reason)
			continue
		}
		p.Fprintf(&b, "  %s %s: %d rows, %d columns -> %s (canonical %d rows)\n",
			out.Cohort, out.Modality, out.Rows, out.Columns, filepath.Base(out.SnapshotPath), out.CanonicalRows)
	}
	return b.String()
}
