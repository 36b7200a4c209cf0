// Package cohort classifies participant labels into study visits.
//
// Baseline participants carry four-digit labels (1001). Their second visit
// reuses the label with a trailing 1 (10011).
package cohort

import (
	"fmt"
	"regexp"
	"strings"

	"qcweekly/internal/services"
)

// Cohort names a study visit.
type Cohort string

const (
	Baseline Cohort = "baseline"
	Scan2    Cohort = "scan2"
)

// All lists cohorts in report order.
var All = []Cohort{Baseline, Scan2}

var (
	baselinePattern = regexp.MustCompile(`^\d{4}$`)
	scan2Pattern    = regexp.MustCompile(`^\d{4}1$`)
	labelPattern    = regexp.MustCompile(`sub-(\d+)`)
)

// Title returns the display name used in figure titles and emails.
func (c Cohort) Title() string {
	switch c {
	case Baseline:
		return "Baseline"
	case Scan2:
		return "Scan 2"
	default:
		return string(c)
	}
}

// Classify reports which cohort a bare label belongs to.
func Classify(label string) (Cohort, bool) {
	switch {
	case baselinePattern.MatchString(label):
		return Baseline, true
	case scan2Pattern.MatchString(label):
		return Scan2, true
	default:
		return "", false
	}
}

// ClassifyDir classifies a BIDS subject directory name such as sub-1001.
func ClassifyDir(name string) (Cohort, string, bool) {
	if !strings.HasPrefix(name, "sub-") {
		return "", "", false
	}
	label := strings.TrimPrefix(name, "sub-")
	c, ok := Classify(label)
	if !ok {
		return "", "", false
	}
	return c, label, true
}

// NormalizeLabel trims whitespace and an optional sub- prefix.
func NormalizeLabel(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), "sub-")
}

// ExtractLabel returns the numeric label embedded in a BIDS name
// (sub-1001_T1w.json yields 1001).
func ExtractLabel(name string) (string, bool) {
	m := labelPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseLabels normalizes user-supplied labels, accepting 1001, sub-1001,
// 10011, and sub-10011. It returns nil when nothing usable was supplied.
func ParseLabels(raw []string) []string {
	var out []string
	for _, value := range raw {
		for _, field := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
			if label := NormalizeLabel(field); label != "" {
				out = append(out, label)
			}
		}
	}
	return out
}

// Split partitions labels into baseline and scan2 lists. A label matching
// neither cohort is a validation error.
func Split(labels []string) (baseline, scan2 []string, err error) {
	for _, label := range labels {
		switch c, _ := Classify(label); c {
		case Baseline:
			baseline = append(baseline, label)
		case Scan2:
			scan2 = append(scan2, label)
		default:
			return nil, nil, services.Wrap(services.ErrValidation, "group", "parse subjects",
				fmt.Sprintf("subject label %q does not match baseline (####) or scan2 (####1); pass labels like 1001 or 10011 (or sub-1001/sub-10011)", label), nil)
		}
	}
	return baseline, scan2, nil
}

// Count returns how many labels fall into each cohort. Labels matching
// neither cohort are ignored.
func Count(labels []string) (baseline, scan2 int) {
	for _, label := range labels {
		switch c, _ := Classify(label); c {
		case Baseline:
			baseline++
		case Scan2:
			scan2++
		}
	}
	return baseline, scan2
}
