// Package report renders finding lists into markdown assessment reports.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/akarpov/vulnlab/internal/domain"
)

// Risk classification thresholds over the severity-weighted total.
const (
	criticalThreshold = 25
	highThreshold     = 15
	mediumThreshold   = 8
)

// emptyReport is returned whenever no findings were recorded, regardless
// of the caller-supplied score.
const emptyReport = "# Vulnerability Assessment Report\n\n" +
	"No findings recorded in this session.\n\n" +
	"```json\n{\"findings\": []}\n```"

// RiskLevel classifies a severity-weighted total into a label and marker
// glyph. The thresholds are a fixed step function.
func RiskLevel(weighted int) (label, glyph string) {
	switch {
	case weighted >= criticalThreshold:
		return "CRITICAL", "🔴"
	case weighted >= highThreshold:
		return "HIGH", "🟠"
	case weighted >= mediumThreshold:
		return "MEDIUM", "🟡"
	default:
		return "LOW", "🟢"
	}
}

// WeightedTotal sums the fixed severity weights over all findings.
func WeightedTotal(findings []domain.Finding) int {
	total := 0
	for _, f := range findings {
		total += f.Severity.Weight()
	}
	return total
}

// Generate renders the assessment report for a finding list and a
// caller-supplied risk score. The weighted total reflects the fixed
// internal severity weights; the headline score is the caller's
// independent judgment, and both appear in the document.
//
// The output layout is a format contract: section order, table shape, and
// zero-count omission rules are fixed.
func Generate(findings []domain.Finding, score int) string {
	if len(findings) == 0 {
		return emptyReport
	}

	counts := make(map[domain.Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}
	weighted := WeightedTotal(findings)
	label, glyph := RiskLevel(weighted)

	lines := []string{
		"# Vulnerability Assessment Report",
		"",
		fmt.Sprintf("**Risk Level:** %s %s", glyph, label),
		fmt.Sprintf("**Total Findings:** %d", len(findings)),
		fmt.Sprintf("**Risk Score:** %d/100", score),
		"",
		"## Severity Breakdown",
		"",
		"| Severity | Count | Weight |",
		"|----------|-------|--------|",
	}

	// Zero-count severities are omitted, not rendered as empty rows.
	for _, sev := range domain.Severities {
		count := counts[sev]
		if count == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("| %s | %d | %d |",
			strings.ToUpper(string(sev)), count, count*sev.Weight()))
	}

	lines = append(lines,
		"",
		fmt.Sprintf("**Weighted Total:** %d", weighted),
		"",
		"## Finding Details",
		"",
		"| Name | Cause | Severity |",
		"|------|-------|----------|",
	)

	for _, f := range findings {
		cause := strings.ReplaceAll(f.Cause, "\n", " ")
		lines = append(lines, fmt.Sprintf("| %s | %s | %s |",
			f.Name, cause, strings.ToUpper(string(f.Severity))))
	}

	lines = append(lines,
		"",
		"## Severity Distribution",
		"",
		"```mermaid",
		"pie title Finding Severity Distribution",
	)
	for _, sev := range domain.Severities {
		count := counts[sev]
		if count == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("    %q : %d",
			fmt.Sprintf("%s: %d", strings.ToUpper(string(sev)), count), count))
	}
	lines = append(lines, "```")

	raw, err := json.MarshalIndent(map[string][]domain.Finding{"findings": findings}, "", "  ")
	if err != nil {
		// Findings are plain string structs; this cannot realistically fail.
		raw = []byte(`{"findings": []}`)
	}
	lines = append(lines,
		"",
		"## Raw Data",
		"",
		"```json",
		string(raw),
		"```",
	)

	return strings.Join(lines, "\n")
}
