package report

import (
	"strings"
	"testing"

	"github.com/akarpov/vulnlab/internal/domain"
)

func TestRiskLevelThresholds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		weighted int
		label    string
		glyph    string
	}{
		{0, "LOW", "🟢"},
		{7, "LOW", "🟢"},
		{8, "MEDIUM", "🟡"},
		{14, "MEDIUM", "🟡"},
		{15, "HIGH", "🟠"},
		{24, "HIGH", "🟠"},
		{25, "CRITICAL", "🔴"},
		{100, "CRITICAL", "🔴"},
	}
	for _, tc := range cases {
		label, glyph := RiskLevel(tc.weighted)
		if label != tc.label || glyph != tc.glyph {
			t.Errorf("RiskLevel(%d): expected %s %s, got %s %s",
				tc.weighted, tc.glyph, tc.label, glyph, label)
		}
	}
}

func TestWeightedTotal(t *testing.T) {
	t.Parallel()

	findings := []domain.Finding{
		{Name: "a", Severity: domain.SeverityCritical},
		{Name: "b", Severity: domain.SeverityHigh},
		{Name: "c", Severity: domain.SeverityMedium},
		{Name: "d", Severity: domain.SeverityLow},
		{Name: "e", Severity: domain.SeverityLow},
	}
	if got := WeightedTotal(findings); got != 23 {
		t.Errorf("Expected weighted total 23, got %d", got)
	}
}

func TestGenerateEmptyReport(t *testing.T) {
	t.Parallel()

	want := "# Vulnerability Assessment Report\n\n" +
		"No findings recorded in this session.\n\n" +
		"```json\n{\"findings\": []}\n```"

	for _, score := range []int{0, 50, 100} {
		if got := Generate(nil, score); got != want {
			t.Errorf("Generate(nil, %d): unexpected report:\n%s", score, got)
		}
	}
}

func TestGenerateGoldenDocument(t *testing.T) {
	t.Parallel()

	findings := []domain.Finding{
		{Name: "SQL injection in login", Cause: "unsanitized input concatenated into query", Severity: domain.SeverityCritical},
		{Name: "Verbose server banner", Cause: "nginx version disclosed", Severity: domain.SeverityLow},
	}

	want := strings.Join([]string{
		"# Vulnerability Assessment Report",
		"",
		"**Risk Level:** 🟡 MEDIUM",
		"**Total Findings:** 2",
		"**Risk Score:** 42/100",
		"",
		"## Severity Breakdown",
		"",
		"| Severity | Count | Weight |",
		"|----------|-------|--------|",
		"| CRITICAL | 1 | 10 |",
		"| LOW | 1 | 1 |",
		"",
		"**Weighted Total:** 11",
		"",
		"## Finding Details",
		"",
		"| Name | Cause | Severity |",
		"|------|-------|----------|",
		"| SQL injection in login | unsanitized input concatenated into query | CRITICAL |",
		"| Verbose server banner | nginx version disclosed | LOW |",
		"",
		"## Severity Distribution",
		"",
		"```mermaid",
		"pie title Finding Severity Distribution",
		`    "CRITICAL: 1" : 1`,
		`    "LOW: 1" : 1`,
		"```",
		"",
		"## Raw Data",
		"",
		"```json",
		"{",
		`  "findings": [`,
		"    {",
		`      "name": "SQL injection in login",`,
		`      "cause": "unsanitized input concatenated into query",`,
		`      "severity": "critical"`,
		"    },",
		"    {",
		`      "name": "Verbose server banner",`,
		`      "cause": "nginx version disclosed",`,
		`      "severity": "low"`,
		"    }",
		"  ]",
		"}",
		"```",
	}, "\n")

	got := Generate(findings, 42)
	if got != want {
		t.Errorf("Report does not match golden document.\nGot:\n%s\n\nWant:\n%s", got, want)
	}
}

func TestGenerateReportLayout(t *testing.T) {
	t.Parallel()

	findings := []domain.Finding{
		{Name: "SQL Injection", Cause: "unsanitized\nquery input", Severity: domain.SeverityHigh},
		{Name: "Weak TLS", Cause: "TLS 1.0 enabled", Severity: domain.SeverityMedium},
	}
	got := Generate(findings, 42)

	wantLines := []string{
		"# Vulnerability Assessment Report",
		"**Risk Level:** 🟡 MEDIUM",
		"**Total Findings:** 2",
		"**Risk Score:** 42/100",
		"| HIGH | 1 | 7 |",
		"| MEDIUM | 1 | 4 |",
		"**Weighted Total:** 11",
		"| SQL Injection | unsanitized query input | HIGH |",
		"| Weak TLS | TLS 1.0 enabled | MEDIUM |",
		"pie title Finding Severity Distribution",
		`    "HIGH: 1" : 1`,
		`    "MEDIUM: 1" : 1`,
		"## Raw Data",
	}
	for _, line := range wantLines {
		if !strings.Contains(got, line) {
			t.Errorf("Expected report to contain %q:\n%s", line, got)
		}
	}

	// Zero-count severities stay out of the breakdown table entirely.
	for _, absent := range []string{"| CRITICAL |", "| LOW |", `"CRITICAL:`, `"LOW:`} {
		if strings.Contains(got, absent) {
			t.Errorf("Expected report to omit %q:\n%s", absent, got)
		}
	}
}

func TestGenerateSectionOrder(t *testing.T) {
	t.Parallel()

	got := Generate([]domain.Finding{{Name: "x", Cause: "y", Severity: domain.SeverityLow}}, 5)

	sections := []string{
		"## Severity Breakdown",
		"## Finding Details",
		"## Severity Distribution",
		"## Raw Data",
	}
	last := -1
	for _, section := range sections {
		idx := strings.Index(got, section)
		if idx < 0 {
			t.Fatalf("Expected section %q in report", section)
		}
		if idx < last {
			t.Errorf("Section %q out of order", section)
		}
		last = idx
	}
}

func TestGenerateRawDataIsValidJSON(t *testing.T) {
	t.Parallel()

	got := Generate([]domain.Finding{{Name: "x", Cause: "y", Severity: domain.SeverityCritical}}, 90)

	if !strings.Contains(got, `"name": "x"`) {
		t.Errorf("Expected raw data to include finding name:\n%s", got)
	}
	if !strings.Contains(got, `"severity": "critical"`) {
		t.Errorf("Expected raw data to include severity:\n%s", got)
	}
}
