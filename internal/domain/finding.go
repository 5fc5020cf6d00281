package domain

import (
	"fmt"
	"strings"
)

// Severity is the fixed four-value finding severity scale.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities lists the valid values from most to least severe. Report
// tables follow this order.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Weight returns the fixed scoring weight for a severity.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 7
	case SeverityMedium:
		return 4
	case SeverityLow:
		return 1
	}
	return 0
}

// Finding is one structured vulnerability record reported during a turn.
type Finding struct {
	Name     string   `json:"name"`
	Cause    string   `json:"cause"`
	Severity Severity `json:"severity"`
}

// NewFinding validates and normalizes a reported finding. Name and cause
// are trimmed; severity is lowercased and must be one of Severities —
// anything else is a validation failure, never a silent default.
func NewFinding(name, cause, severity string) (Finding, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(severity)))
	switch sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
	default:
		return Finding{}, fmt.Errorf("invalid severity %q, must be one of: critical, high, medium, low", severity)
	}

	return Finding{
		Name:     strings.TrimSpace(name),
		Cause:    strings.TrimSpace(cause),
		Severity: sev,
	}, nil
}
