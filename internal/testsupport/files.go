package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteText writes content to path, creating parent directories.
func WriteText(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ReadText returns the content of path or fails the test.
func ReadText(t testing.TB, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// AddSubject creates sub-<label> in the BIDS folder with empty placeholder
// files at the given relative paths (for example "anat/sub-1001_T1w.nii.gz").
func AddSubject(t testing.TB, bidsFolder, label string, files ...string) string {
	t.Helper()
	dir := filepath.Join(bidsFolder, "sub-"+label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir subject: %v", err)
	}
	for _, rel := range files {
		WriteText(t, filepath.Join(dir, rel), "")
	}
	return dir
}

// FullScanSet returns the file names of a subject with every tracked scan.
func FullScanSet(label string) []string {
	sub := "sub-" + label
	return []string{
		"anat/" + sub + "_T1w.nii.gz",
		"anat/" + sub + "_acq-hippo_T2w.nii.gz",
		"dwi/" + sub + "_dwi.nii.gz",
		"func/" + sub + "_task-rest_bold.nii.gz",
		"func/" + sub + "_task-ta_bold.nii.gz",
		"func/" + sub + "_task-me_bold.nii.gz",
	}
}

// WriteIQM writes an MRIQC IQM JSON under derivDir. Files ending in
// _T1w.json land in anat/, anything else in func/.
func WriteIQM(t testing.TB, derivDir, label, name string, payload map[string]any) string {
	t.Helper()
	kind := "func"
	if strings.HasSuffix(name, "_T1w.json") {
		kind = "anat"
	}
	path := filepath.Join(derivDir, "sub-"+label, kind, name)
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal iqm: %v", err)
	}
	WriteText(t, path, string(data))
	return path
}
