package groupreport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"qcweekly/internal/cohort"
)

// Modality selects which IQM JSON files are aggregated.
type Modality string

const (
	ModalityT1w  Modality = "T1w"
	ModalityBold Modality = "bold"
)

// Modalities lists modalities in output order.
var Modalities = []Modality{ModalityT1w, ModalityBold}

func (m Modality) globs() []string {
	kind, suffix := "anat", "_T1w.json"
	if m == ModalityBold {
		kind, suffix = "func", "_bold.json"
	}
	return []string{
		filepath.Join("sub-*", kind, "sub-*"+suffix),
		filepath.Join("sub-*", "ses-*", kind, "sub-*"+suffix),
	}
}

// DiscoverLabels lists baseline and scan2 labels from sub-* directories in
// the MRIQC derivatives folder, sorted.
func DiscoverLabels(derivDir string) (baseline, scan2 []string, err error) {
	entries, err := os.ReadDir(derivDir)
	if err != nil {
		return nil, nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		c, label, ok := cohort.ClassifyDir(entry.Name())
		if !ok {
			continue
		}
		if c == cohort.Baseline {
			baseline = append(baseline, label)
		} else {
			scan2 = append(scan2, label)
		}
	}
	slices.Sort(baseline)
	slices.Sort(scan2)
	return baseline, scan2, nil
}

// FindIQMJSONs locates IQM JSON files for a modality. A nil labels slice
// means no filter; an empty non-nil slice selects nothing.
func FindIQMJSONs(derivDir string, modality Modality, labels []string) ([]string, error) {
	if labels != nil && len(labels) == 0 {
		return nil, nil
	}
	var candidates []string
	for _, pattern := range modality.globs() {
		matches, err := filepath.Glob(filepath.Join(derivDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		candidates = append(candidates, matches...)
	}
	slices.Sort(candidates)
	if labels == nil {
		return candidates, nil
	}

	want := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		want[cohort.NormalizeLabel(label)] = struct{}{}
	}
	kept := candidates[:0]
	for _, path := range candidates {
		label, ok := cohort.ExtractLabel(filepath.Base(path))
		if !ok {
			continue
		}
		if _, ok := want[label]; ok {
			kept = append(kept, path)
		}
	}
	return kept, nil
}

// Aggregation is the flattened result of reading IQM JSON files.
type Aggregation struct {
	Table *Table
	// Numeric lists columns whose present values are all JSON numbers.
	Numeric    []string
	ReadErrors int
}

// Aggregate flattens each IQM JSON into one row keyed by participant_id and
// file_name. Nested objects are joined with "."; an unreadable file becomes a
// row carrying __read_error__.
func Aggregate(derivDir string, modality Modality, labels []string) (*Aggregation, error) {
	paths, err := FindIQMJSONs(derivDir, modality, labels)
	if err != nil {
		return nil, err
	}
	agg := &Aggregation{Table: &Table{}}
	if len(paths) == 0 {
		return agg, nil
	}

	columns := []string{ColParticipant, ColFileName, ColSourceJSON}
	seen := map[string]bool{ColParticipant: true, ColFileName: true, ColSourceJSON: true}
	kinds := map[string]valueKind{}

	for _, path := range paths {
		fields, readErr := readFlattened(path)
		if readErr != nil {
			agg.ReadErrors++
			fields = []field{
				{name: ColReadError, value: cell{text: readErr.Error(), kind: kindString}},
				{name: ColPath, value: cell{text: path, kind: kindString}},
			}
		}
		name := filepath.Base(path)
		label, _ := cohort.ExtractLabel(name)
		row := map[string]string{
			ColParticipant: label,
			ColFileName:    name,
			ColSourceJSON:  path,
		}
		for _, f := range fields {
			if !seen[f.name] {
				seen[f.name] = true
				columns = append(columns, f.name)
			}
			if f.value.kind == kindNull {
				continue
			}
			row[f.name] = f.value.text
			kinds[f.name] = kinds[f.name].merge(f.value.kind)
		}
		agg.Table.Rows = append(agg.Table.Rows, row)
	}
	agg.Table.Columns = columns
	agg.Table.sortByKey()
	for _, col := range columns {
		if kinds[col] == kindNumber {
			agg.Numeric = append(agg.Numeric, col)
		}
	}
	return agg, nil
}

type valueKind int

const (
	kindNull valueKind = iota
	kindNumber
	kindString
	kindBool
	kindMixed
)

func (k valueKind) merge(other valueKind) valueKind {
	switch {
	case other == kindNull:
		return k
	case k == kindNull, k == other:
		return other
	default:
		return kindMixed
	}
}

type cell struct {
	text string
	kind valueKind
}

type field struct {
	name  string
	value cell
}

func readFlattened(path string) ([]field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(nullNonFinite(data)))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decode %s: top-level value is not an object", filepath.Base(path))
	}
	var out []field
	if err := flattenObject(dec, "", &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: trailing data after object", filepath.Base(path))
	}
	return out, nil
}

// nonFinite are the literals Python's json module writes for float('nan')
// and float('inf'). Longest first so -Infinity wins over Infinity.
var nonFinite = [][]byte{[]byte("-Infinity"), []byte("Infinity"), []byte("NaN")}

// nullNonFinite rewrites NaN and Infinity literals outside strings to null so
// one non-finite metric leaves the rest of the file readable.
func nullNonFinite(data []byte) []byte {
	var out []byte
	inString, escaped := false, false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			out = append(out, c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if lit := nonFiniteAt(data[i:]); lit > 0 {
			out = append(out, "null"...)
			i += lit - 1
			continue
		}
		out = append(out, c)
	}
	return out
}

func nonFiniteAt(rest []byte) int {
	for _, lit := range nonFinite {
		if bytes.HasPrefix(rest, lit) {
			return len(lit)
		}
	}
	return 0
}

// flattenObject walks an object whose opening brace was already consumed,
// preserving key order.
func flattenObject(dec *json.Decoder, prefix string, out *[]field) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", tok)
		}
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		if delim, ok := tok.(json.Delim); ok && delim == '{' {
			if err := flattenObject(dec, name, out); err != nil {
				return err
			}
			continue
		}
		value, err := scalarCell(dec, tok)
		if err != nil {
			return err
		}
		*out = append(*out, field{name: name, value: value})
	}
	_, err := dec.Token()
	return err
}

func scalarCell(dec *json.Decoder, tok json.Token) (cell, error) {
	switch v := tok.(type) {
	case nil:
		return cell{kind: kindNull}, nil
	case json.Number:
		return cell{text: v.String(), kind: kindNumber}, nil
	case string:
		return cell{text: v, kind: kindString}, nil
	case bool:
		if v {
			return cell{text: "True", kind: kindBool}, nil
		}
		return cell{text: "False", kind: kindBool}, nil
	case json.Delim:
		value, err := decodeComposite(dec, v)
		if err != nil {
			return cell{}, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return cell{}, err
		}
		return cell{text: string(data), kind: kindString}, nil
	default:
		return cell{}, fmt.Errorf("unexpected token %v", tok)
	}
}

func decodeComposite(dec *json.Decoder, open json.Delim) (any, error) {
	if open == '[' {
		var items []any
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			item, err := compositeValue(dec, tok)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		_, err := dec.Token()
		return items, err
	}
	obj := map[string]any{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		tok, err = dec.Token()
		if err != nil {
			return nil, err
		}
		item, err := compositeValue(dec, tok)
		if err != nil {
			return nil, err
		}
		obj[key] = item
	}
	_, err := dec.Token()
	return obj, err
}

func compositeValue(dec *json.Decoder, tok json.Token) (any, error) {
	if delim, ok := tok.(json.Delim); ok {
		return decodeComposite(dec, delim)
	}
	return tok, nil
}

func isOutlierColumn(name string) bool {
	return strings.HasPrefix(name, outlierPrefix)
}
