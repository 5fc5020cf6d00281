package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	// HistoryLimit caps the number of messages persisted per session.
	HistoryLimit = 20
	// TranscriptLimit caps the number of history entries rendered into a
	// continuation prompt.
	TranscriptLimit = 10
)

// Session is a durable conversation identity with bounded history.
type Session struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	Data             SessionData `json:"session_data"`
	WorkingDirectory string      `json:"working_directory,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// SessionData holds session-scoped state. Messages is the bounded
// conversation history window.
type SessionData struct {
	Messages []Message `json:"messages"`
}

// AppendTurn appends one turn's records to the history window and drops
// the oldest entries past HistoryLimit. Ordering is never changed;
// truncation is strictly FIFO.
func (d *SessionData) AppendTurn(messages ...Message) {
	d.Messages = append(d.Messages, messages...)
	if n := len(d.Messages); n > HistoryLimit {
		d.Messages = d.Messages[n-HistoryLimit:]
	}
}

// Transcript renders the last TranscriptLimit user/assistant entries as a
// plain-text conversation excerpt. system and result entries stay in the
// stored window but are excluded here. Returns "" for an empty history.
func (d SessionData) Transcript() string {
	var turns []Message
	for _, msg := range d.Messages {
		if msg.Type == MessageTypeUser || msg.Type == MessageTypeAssistant {
			turns = append(turns, msg)
		}
	}
	if len(turns) > TranscriptLimit {
		turns = turns[len(turns)-TranscriptLimit:]
	}
	if len(turns) == 0 {
		return ""
	}

	lines := make([]string, 0, len(turns))
	for _, msg := range turns {
		speaker := "Assistant"
		if msg.Type == MessageTypeUser {
			speaker = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, msg.FirstText()))
	}
	return strings.Join(lines, "\n")
}

// ContinuationPrompt prepends the transcript excerpt to a new prompt. The
// stored history keeps the original prompt only; this variant is what the
// agent sees.
func (d SessionData) ContinuationPrompt(prompt string) string {
	transcript := d.Transcript()
	if transcript == "" {
		return prompt
	}
	return fmt.Sprintf("Previous conversation:\n%s\n\nCurrent user message: %s", transcript, prompt)
}
