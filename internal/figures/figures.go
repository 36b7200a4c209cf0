package figures

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qcweekly/internal/cohort"
	"qcweekly/internal/config"
	"qcweekly/internal/groupreport"
	"qcweekly/internal/logging"
	"qcweekly/internal/services"
)

const t1Key = "t1"

// Options configures Make.
type Options struct {
	OutDir      string
	Date        time.Time
	T1Metrics   []string
	BoldMetrics []string
	Tasks       []config.Task
	DPI         int
	PanelInches float64
	Logger      *slog.Logger
}

// OptionsFromConfig derives figure options from application config.
func OptionsFromConfig(cfg *config.Config, day time.Time) Options {
	return Options{
		OutDir:      cfg.WeeklyGroupReportsDir(),
		Date:        day,
		T1Metrics:   append([]string(nil), cfg.Report.T1Metrics...),
		BoldMetrics: append([]string(nil), cfg.Report.BoldMetrics...),
		Tasks:       append([]config.Task(nil), cfg.Report.Tasks...),
		DPI:         cfg.Report.DPI,
		PanelInches: cfg.Report.PanelInches,
	}
}

// Panel identifies one figure: a cohort crossed with T1w or a BOLD task.
type Panel struct {
	// CID is the email Content-ID and the key used in Artifacts.
	CID     string
	Cohort  cohort.Cohort
	Task    string
	Label   string
	Metrics []string
}

// Title is the figure heading, for example "Scan 2 Think Aloud MRIQC Metrics".
func (p Panel) Title() string {
	return fmt.Sprintf("%s %s MRIQC Metrics", p.Cohort.Title(), p.Label)
}

// FileName is the PNG name for day.
func (p Panel) FileName(day time.Time) string {
	kind := p.Task
	if kind == t1Key {
		kind = "T1"
	}
	return fmt.Sprintf("%s_%s_MRIQC_metrics_%s.png", p.Cohort, kind, day.Format("2006-01-02"))
}

// Panels lists panels in email order: T1 then each task, baseline before
// scan2 within each.
func Panels(opts Options) []Panel {
	var panels []Panel
	for _, c := range cohort.All {
		panels = append(panels, Panel{CID: string(c) + "_" + t1Key, Cohort: c, Task: t1Key, Label: "T1", Metrics: opts.T1Metrics})
	}
	for _, task := range opts.Tasks {
		for _, c := range cohort.All {
			label := task.Label
			if label == "" {
				label = task.Name
			}
			panels = append(panels, Panel{CID: string(c) + "_" + task.Name, Cohort: c, Task: task.Name, Label: label, Metrics: opts.BoldMetrics})
		}
	}
	return panels
}

// Artifacts are the rendered figures keyed by CID plus this-week row counts
// per panel.
type Artifacts struct {
	CIDToPath map[string]string
	Counts    map[string]int
	Panels    []Panel
}

// Make renders one box-plot PNG per panel comparing this week's rows with
// the full sample. Missing TSVs load as empty tables; a panel with no rows in
// either table produces no figure.
func Make(ctx context.Context, opts Options) (Artifacts, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "figures")
	if strings.TrimSpace(opts.OutDir) == "" {
		return Artifacts{}, services.Wrap(services.ErrConfiguration, "figures", "make", "output directory required", nil)
	}
	day := opts.Date
	if day.IsZero() {
		day = time.Now()
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return Artifacts{}, services.Wrap(services.ErrConfiguration, "figures", "create output dir", opts.OutDir, err)
	}

	tables := map[string]*groupreport.Table{}
	load := func(name string) *groupreport.Table {
		if t, ok := tables[name]; ok {
			return t
		}
		t, err := groupreport.ReadTSV(filepath.Join(opts.OutDir, name))
		if err != nil {
			if !errors.Is(err, services.ErrNotFound) {
				logging.WarnWithContext(logger, "group TSV unreadable", "figures_tsv_unreadable",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "re-run qcweekly group to rebuild the sheet"),
					logging.String(logging.FieldImpact, "panel rendered without these rows"),
				)
			} else {
				logger.Debug("group TSV missing", logging.String("path", filepath.Join(opts.OutDir, name)))
			}
			t = &groupreport.Table{}
		}
		tables[name] = t
		return t
	}

	art := Artifacts{CIDToPath: map[string]string{}, Counts: map[string]int{}}
	for _, panel := range Panels(opts) {
		if err := ctx.Err(); err != nil {
			return art, err
		}
		modality := groupreport.ModalityBold
		if panel.Task == t1Key {
			modality = groupreport.ModalityT1w
		}
		week := load(groupreport.SnapshotName(panel.Cohort, modality, day))
		full := load(groupreport.CanonicalName(panel.Cohort, modality))
		if panel.Task != t1Key {
			week = SplitTask(week, panel.Task)
			full = SplitTask(full, panel.Task)
		}
		art.Panels = append(art.Panels, panel)
		art.Counts[panel.CID] = week.Len()
		if week.Len() == 0 && full.Len() == 0 {
			logger.Info("no rows for panel; skipping figure",
				logging.String(logging.FieldCohort, string(panel.Cohort)),
				logging.String("panel", panel.CID),
			)
			continue
		}

		path := filepath.Join(opts.OutDir, panel.FileName(day))
		if err := renderBoxPlots(path, panel, week, full, opts); err != nil {
			return art, services.Wrap(services.ErrValidation, "figures", "render", panel.CID, err)
		}
		art.CIDToPath[panel.CID] = path
		logger.Info("figure written",
			logging.String(logging.FieldEventType, "figure_written"),
			logging.String(logging.FieldCohort, string(panel.Cohort)),
			logging.String("panel", panel.CID),
			logging.Int("rows", week.Len()),
			logging.String("output_path", path),
		)
	}
	return art, nil
}

// SplitTask keeps BOLD rows whose file_name carries the BIDS entity
// task-<name>, case-insensitively.
func SplitTask(t *groupreport.Table, task string) *groupreport.Table {
	entity := "task-" + strings.ToLower(task) + "_"
	return t.Filter(func(row map[string]string) bool {
		return strings.Contains(strings.ToLower(row[groupreport.ColFileName]), entity)
	})
}
