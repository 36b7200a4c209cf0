package console_test

import (
	"bytes"
	"strings"
	"testing"

	"qcweekly/internal/console"
)

func TestBannerPlainWhenNotTerminal(t *testing.T) {
	var out bytes.Buffer
	c := console.New(&out, nil)
	c.Banner(console.ToneStep, "STEP %d: %s", 1, "BIDS validation...")
	if got := out.String(); got != "STEP 1: BIDS validation...\n" {
		t.Fatalf("unexpected banner %q", got)
	}
}

func TestBannerColoredWhenForced(t *testing.T) {
	var out bytes.Buffer
	c := console.New(&out, nil)
	c.SetColorize(true)
	c.Banner(console.ToneWarn, "careful")
	if !strings.Contains(out.String(), "\x1b[") {
		t.Fatalf("expected ANSI escape, got %q", out.String())
	}
}

func TestConfirm(t *testing.T) {
	cases := map[string]bool{
		"y\n":     true,
		"YES\n":   true,
		" y ":     true,
		"n\n":     false,
		"maybe\n": false,
		"":        false,
	}
	for input, want := range cases {
		var out bytes.Buffer
		c := console.New(&out, strings.NewReader(input))
		got, err := c.Confirm("Continue to MRIQC?")
		if err != nil {
			t.Fatalf("Confirm(%q) error: %v", input, err)
		}
		if got != want {
			t.Fatalf("Confirm(%q) = %v, want %v", input, got, want)
		}
		if !strings.Contains(out.String(), "Continue to MRIQC? (y/n): ") {
			t.Fatalf("prompt missing: %q", out.String())
		}
	}
}

func TestConfirmWithoutInputDeclines(t *testing.T) {
	c := console.New(&bytes.Buffer{}, nil)
	ok, err := c.Confirm("Continue?")
	if err != nil || ok {
		t.Fatalf("expected decline without input, got %v %v", ok, err)
	}
}

func TestSpinnerInertOffTerminal(t *testing.T) {
	var out bytes.Buffer
	c := console.New(&out, nil)
	s := c.StartSpinner("MRIQC sub-1001")
	s.Describe("still working")
	s.Stop()
	s.Stop()
	if out.String() != "MRIQC sub-1001\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestSpinnerStopsWhenColorized(t *testing.T) {
	var out bytes.Buffer
	c := console.New(&out, nil)
	c.SetColorize(true)
	s := c.StartSpinner("working")
	s.Describe("still working")
	s.Stop()
	s.Stop()
}
