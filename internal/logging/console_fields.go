package logging

import (
	"cmp"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

type infoField struct {
	label string
	value string
}

const infoAttrLimit = 8

// infoRank orders the fields shown first on info lines; unranked keys follow
// in record order.
var infoRank = func() map[string]int {
	keys := []string{
		FieldEventType, "status", "exit_code", "command", "error",
		FieldErrorHint, FieldImpact, FieldErrorDetailPath,
		"subjects", "subjects_ok", "subjects_failed", "nbaseline", "nscan2",
		"rows", "outliers", "figures", "recipients", "attachment_bytes",
		"output_path", "stage_duration", "duration",
	}
	rank := make(map[string]int, len(keys))
	for i, k := range keys {
		rank[k] = i
	}
	return rank
}()

func rankOf(key string) int {
	if r, ok := infoRank[key]; ok {
		return r
	}
	return len(infoRank)
}

// selectInfoFields formats the fields worth showing on an info line and
// counts those it held back. A zero limit shows every eligible field.
func selectInfoFields(attrs []kv, limit int) ([]infoField, int) {
	ordered := slices.Clone(attrs)
	slices.SortStableFunc(ordered, func(a, b kv) int {
		return cmp.Compare(rankOf(a.key), rankOf(b.key))
	})
	var shown []infoField
	hidden := 0
	for _, f := range ordered {
		if skipInfoKey(f.key) {
			continue
		}
		if isDebugOnlyKey(f.key) {
			hidden++
			continue
		}
		value := formatValueForKey(f.key, f.value)
		if shouldHideInfoValue(f.key, value) || (limit > 0 && len(shown) == limit) {
			hidden++
			continue
		}
		shown = append(shown, infoField{label: displayLabel(f.key), value: value})
	}
	return shown, hidden
}

// formatValueForKey applies friendlier formatting based on the key name.
func formatValueForKey(key string, v slog.Value) string {
	v = v.Resolve()
	switch {
	case isByteSizeKey(key) && v.Kind() == slog.KindInt64 && v.Int64() >= 0:
		return humanize.Bytes(uint64(v.Int64()))
	case isByteSizeKey(key) && v.Kind() == slog.KindUint64:
		return humanize.Bytes(v.Uint64())
	case v.Kind() == slog.KindDuration:
		return formatDurationHuman(v.Duration())
	case isPercentKey(key) && v.Kind() == slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', 1, 64) + "%"
	case v.Kind() == slog.KindBool:
		if v.Bool() {
			return "yes"
		}
		return "no"
	}
	value := quotedValue(v)
	if key == "error" && len(value) > 200 {
		value = value[:200] + "…"
	}
	return value
}

func isByteSizeKey(key string) bool {
	return strings.HasSuffix(key, "_bytes") || key == "size"
}

func isPercentKey(key string) bool {
	return strings.HasSuffix(key, "_percent")
}

func skipInfoKey(key string) bool {
	switch key {
	case "", FieldComponent, FieldStage, FieldSubject, FieldCohort:
		return true
	default:
		return false
	}
}

func isDebugOnlyKey(key string) bool {
	if key == FieldRunID {
		return true
	}
	if key == FieldErrorDetailPath || key == "output_path" {
		return false
	}
	return strings.HasSuffix(key, "_dir") || key == "args" || key == "stdout" || key == "stderr"
}

func shouldHideInfoValue(key, value string) bool {
	switch key {
	case "error", "command":
		return false
	}
	return len(value) > 160
}

var fieldLabels = map[string]string{
	FieldEventType:       "Event",
	FieldErrorHint:       "Hint",
	FieldErrorDetailPath: "Error Detail",
	"nbaseline":          "Baseline",
	"nscan2":             "Scan 2",
	"subjects_ok":        "Succeeded",
	"subjects_failed":    "Failed",
	"attachment_bytes":   "Attachments",
	"output_path":        "Output",
	"stage_duration":     "Duration",
	"duration":           "Duration",
}

// displayLabel turns a field key such as "exit_code" into "Exit Code".
func displayLabel(key string) string {
	if label, ok := fieldLabels[key]; ok {
		return label
	}
	words := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	for i, w := range words {
		words[i] = capitalizeASCII(w)
	}
	return strings.Join(words, " ")
}

func capitalizeASCII(value string) string {
	if value == "" {
		return ""
	}
	lower := strings.ToLower(value)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
