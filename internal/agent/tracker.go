package agent

import "github.com/akarpov/vulnlab/internal/domain"

// Tracker collects the findings reported during one turn. Each turn gets
// a fresh instance owned by that turn's orchestration; capability
// handlers are invoked sequentially within a turn, so no locking is
// needed. Findings do not persist beyond report generation unless the
// caller copies them into session data.
type Tracker struct {
	findings []domain.Finding
}

// NewTracker creates an empty per-turn finding tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Add appends a validated finding in insertion order.
func (t *Tracker) Add(f domain.Finding) {
	t.findings = append(t.findings, f)
}

// List returns a copy of the recorded findings in insertion order.
func (t *Tracker) List() []domain.Finding {
	out := make([]domain.Finding, len(t.findings))
	copy(out, t.findings)
	return out
}

// Len reports the number of recorded findings.
func (t *Tracker) Len() int {
	return len(t.findings)
}
