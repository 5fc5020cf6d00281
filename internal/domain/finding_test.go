package domain

import (
	"strings"
	"testing"
)

func TestNewFindingNormalizes(t *testing.T) {
	t.Parallel()

	f, err := NewFinding("  SQL Injection  ", " unsanitized input \n", "HIGH")
	if err != nil {
		t.Fatalf("NewFinding failed: %v", err)
	}
	if f.Name != "SQL Injection" {
		t.Errorf("Expected trimmed name, got %q", f.Name)
	}
	if f.Cause != "unsanitized input" {
		t.Errorf("Expected trimmed cause, got %q", f.Cause)
	}
	if f.Severity != SeverityHigh {
		t.Errorf("Expected severity high, got %q", f.Severity)
	}
}

func TestNewFindingRejectsUnknownSeverity(t *testing.T) {
	t.Parallel()

	for _, severity := range []string{"", "severe", "info", "critical!"} {
		_, err := NewFinding("x", "y", severity)
		if err == nil {
			t.Errorf("Expected error for severity %q", severity)
			continue
		}
		if !strings.Contains(err.Error(), "invalid severity") {
			t.Errorf("Expected invalid severity error, got %v", err)
		}
	}
}

func TestSeverityWeight(t *testing.T) {
	t.Parallel()

	cases := map[Severity]int{
		SeverityCritical: 10,
		SeverityHigh:     7,
		SeverityMedium:   4,
		SeverityLow:      1,
		Severity("bogus"): 0,
	}
	for sev, want := range cases {
		if got := sev.Weight(); got != want {
			t.Errorf("Weight(%q): expected %d, got %d", sev, want, got)
		}
	}
}
