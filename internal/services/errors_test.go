package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"qcweekly/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "mriqc", "docker run", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"mriqc", "docker run", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestFailureOutcomeMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Outcome
	}{
		{"nil", nil, services.OutcomeSucceeded},
		{"timeout marker", services.Wrap(services.ErrTimeout, "validator", "run", "exceeded", nil), services.OutcomeTimedOut},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), services.OutcomeTimedOut},
		{"canceled", fmt.Errorf("wait: %w", context.Canceled), services.OutcomeCanceled},
		{"external", services.Wrap(services.ErrExternalTool, "mail", "sendmail", "exit 1", nil), services.OutcomeFailed},
	}
	for _, tc := range cases {
		if got := services.FailureOutcome(tc.err); got != tc.want {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}
