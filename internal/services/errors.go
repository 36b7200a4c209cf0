package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Outcome classifies how a stage or run ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeSkipped   Outcome = "skipped"
)

// Wrap tags err with marker, one of the sentinels above, and prefixes the
// stage and operation so errors.Is can classify the failure later. A nil
// marker is treated as transient.
func Wrap(marker error, stage, operation, message string, err error) error {
	marker = cmp.Or(marker, ErrTransient)
	detail := buildDetail(stage, operation, message)
	if err == nil {
		return fmt.Errorf("%w: %s", marker, detail)
	}
	return fmt.Errorf("%w: %s: %w", marker, detail, err)
}

// FailureOutcome maps a stage error to the outcome recorded in run history.
func FailureOutcome(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimedOut
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeFailed
	}
}

func buildDetail(stage, operation, message string) string {
	parts := []string{strings.TrimSpace(stage), strings.TrimSpace(operation), strings.TrimSpace(message)}
	parts = slices.DeleteFunc(parts, func(p string) bool { return p == "" })
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
