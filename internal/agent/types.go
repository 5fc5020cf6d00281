package agent

import (
	"iter"

	"github.com/akarpov/vulnlab/internal/domain"
)

// QueryOptions tunes a single query without changing service defaults.
type QueryOptions struct {
	Model    string `json:"model,omitempty"`
	MaxTurns int    `json:"max_turns,omitempty"`
}

// QueryRequest is one conversational turn submitted by a client.
type QueryRequest struct {
	Prompt           string        `json:"prompt"`
	UserID           string        `json:"user_id,omitempty"`
	SessionID        string        `json:"session_id,omitempty"`
	WorkingDirectory string        `json:"working_directory,omitempty"`
	CreateDirectory  bool          `json:"create_directory,omitempty"`
	Options          *QueryOptions `json:"options,omitempty"`
}

// Turn is an accepted query: the session it runs under plus the lazy
// message stream. SessionID is known before any message is produced so
// it can be sent out of band.
type Turn struct {
	SessionID string
	Messages  iter.Seq2[*domain.Message, error]
}
