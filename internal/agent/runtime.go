// Package agent implements the AI vulnerability-assessment engine:
// the agent runtime bridge, per-turn tool registry, message
// normalization, and the streaming query orchestrator.
package agent

import (
	"context"
	"iter"
)

// Event kinds produced by an agent runtime. Kinds outside this set are
// carried through and normalized as unknown, never dropped.
const (
	EventKindUser      = "user"
	EventKindAssistant = "assistant"
	EventKindSystem    = "system"
	EventKindResult    = "result"
)

// Event is one raw output record from an agent turn, before
// normalization. Kind discriminates which payload fields are set.
type Event struct {
	Kind      string
	ID        string
	Timestamp string

	// user/assistant payload
	Blocks []EventBlock

	// system payload
	Text string

	// result payload
	TotalCostUSD float64
	IsError      bool

	// Raw preserves the original representation for unrecognized kinds
	// so nothing is discarded silently.
	Raw any
}

// EventBlock is one raw content block within a user or assistant event.
type EventBlock struct {
	Kind string

	Text string

	ID    string
	Name  string
	Input map[string]any

	ToolUseID string
	Content   any
}

// TurnRequest configures one agent turn.
type TurnRequest struct {
	// Prompt is the full turn prompt, including any transcript prefix.
	Prompt string

	// Instructions is the standing instruction text, passed through to
	// the runtime verbatim.
	Instructions string

	// WorkingDirectory, when set, is an existing directory the runtime
	// may use for file operations. Runtimes without local tools ignore it.
	WorkingDirectory string

	// Model and MaxTurns override the runtime defaults when nonzero.
	Model    string
	MaxTurns int

	// Toolbox provides the capabilities the agent may invoke mid-turn.
	Toolbox *Toolbox
}

// Runtime is the external agent collaborator: it consumes a prompt plus
// tool specifications and produces a lazy sequence of raw events. The
// sequence is finite and strictly ordered; it stops early when the
// consumer stops iterating or ctx is cancelled.
type Runtime interface {
	OpenTurn(ctx context.Context, req TurnRequest) iter.Seq2[*Event, error]
}
