package logs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"qcweekly/internal/logs"
	"qcweekly/internal/services"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func TestLastReturnsTrailingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qcweekly.log")
	writeLog(t, path, "a\nb\nc\nd\n")

	tests := []struct {
		n    int
		want []string
	}{
		{n: 2, want: []string{"c", "d"}},
		{n: 3, want: []string{"b", "c", "d"}},
		{n: 10, want: []string{"a", "b", "c", "d"}},
		{n: 0, want: nil},
	}
	for _, tc := range tests {
		lines, offset, err := logs.Last(path, tc.n)
		if err != nil {
			t.Fatalf("Last(%d): %v", tc.n, err)
		}
		if diff := cmp.Diff(tc.want, lines); diff != "" {
			t.Fatalf("Last(%d) mismatch (-want +got):\n%s", tc.n, diff)
		}
		if offset != 8 {
			t.Fatalf("Last(%d) offset = %d, want 8", tc.n, offset)
		}
	}
}

func TestLatestAndForRun(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "qcweekly-2026-10-12-aaaa1111.log")
	newer := filepath.Join(dir, "qcweekly-2026-10-19-bbbb2222.log")
	writeLog(t, older, "old\n")
	writeLog(t, newer, "new\n")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	got, err := logs.Latest(dir, "qcweekly-*.log")
	if err != nil || got != newer {
		t.Fatalf("Latest = %q, %v; want %q", got, err, newer)
	}
	got, err = logs.ForRun(dir, "aaaa1111-0000-4000-8000-000000000001")
	if err != nil || got != older {
		t.Fatalf("ForRun = %q, %v; want %q", got, err, older)
	}
	if _, err := logs.ForRun(dir, "cccc3333"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qcweekly.log")
	writeLog(t, path, "start\n")
	_, offset, err := logs.Last(path, 1)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, offset, 10*time.Millisecond, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		})
	}()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString("later\npartial"); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = f.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"later"}, got); diff != "" {
		t.Fatalf("followed lines mismatch (-want +got):\n%s", diff)
	}
}
