package presence

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Status is the MRIQC column value of a presence row.
type Status string

const (
	StatusOK      Status = "1"
	StatusNoBold  Status = "no_bold"
	StatusNoT1    Status = "no_t1"
	StatusMissing Status = "0"
)

// Describe renders the status the way the missing-scan report prints it.
func (s Status) Describe() string {
	switch s {
	case StatusOK:
		return "MRIQC OK"
	case StatusMissing:
		return "MRIQC missing BOTH"
	default:
		return "MRIQC " + string(s)
	}
}

var subjectPrefixPattern = regexp.MustCompile(`^(sub-\d{4}1?)`)

// mriqcIndex records which subjects already have T1w and BOLD outputs.
type mriqcIndex struct {
	t1   map[string]bool
	bold map[string]bool
}

func newMRIQCIndex() *mriqcIndex {
	return &mriqcIndex{t1: map[string]bool{}, bold: map[string]bool{}}
}

func (idx *mriqcIndex) status(subjectID string) Status {
	hasT1 := idx.t1[subjectID]
	hasBold := idx.bold[subjectID]
	switch {
	case hasT1 && hasBold:
		return StatusOK
	case hasT1:
		return StatusNoBold
	case hasBold:
		return StatusNoT1
	default:
		return StatusMissing
	}
}

// addGroupTSV merges the bids_name column of an MRIQC group TSV. A missing
// file contributes nothing.
func (idx *mriqcIndex) addGroupTSV(path string, bold bool) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read %s header: %w", path, err)
	}
	col := -1
	for i, name := range header {
		if strings.TrimSpace(name) == "bids_name" {
			col = i
			break
		}
	}
	if col < 0 {
		return fmt.Errorf("%s: bids_name column not found", path)
	}
	target := idx.t1
	if bold {
		target = idx.bold
	}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if col >= len(record) {
			continue
		}
		if m := subjectPrefixPattern.FindStringSubmatch(strings.TrimSpace(record[col])); m != nil {
			target[m[1]] = true
		}
	}
}

// addHTMLReports lists the derivatives directory once and records per-subject
// T1w/bold HTML reports. The directory often lives on a network mount; any
// listing error yields an empty contribution.
func (idx *mriqcIndex) addHTMLReports(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		m := subjectPrefixPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if strings.Contains(name, "T1w.html") {
			idx.t1[m[1]] = true
		}
		if strings.Contains(name, "bold.html") {
			idx.bold[m[1]] = true
		}
	}
	return nil
}

func groupTSVPaths(dirs ...string) (t1 []string, bold []string) {
	seen := map[string]bool{}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		t1 = append(t1, filepath.Join(dir, "group_T1w.tsv"))
		bold = append(bold, filepath.Join(dir, "group_bold.tsv"))
	}
	return t1, bold
}
