package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akarpov/vulnlab/internal/domain"
	"github.com/akarpov/vulnlab/internal/store"
)

const persistTimeout = 10 * time.Second

// Service orchestrates vulnerability-assessment queries: it resolves the
// session, runs the agent turn, normalizes the event stream, and persists
// the conversation window once the stream is fully drained.
type Service struct {
	repo         store.Repository
	runtime      Runtime
	instructions string
	turnLog      *TurnLogger
}

// NewService creates the query service. runtime may be nil when no agent
// backend is configured; queries then fail validation with a clear error.
func NewService(repo store.Repository, runtime Runtime, instructions string, turnLog *TurnLogger) *Service {
	return &Service{
		repo:         repo,
		runtime:      runtime,
		instructions: instructions,
		turnLog:      turnLog,
	}
}

// Query validates req, resolves or creates the session, and returns the
// turn with its lazy message stream. Validation failures surface before
// any message is produced; the session id is fixed at return time, and a
// fresh session's row exists in the store before the stream opens.
//
// The conversation history is written only after the returned stream is
// consumed to completion. A consumer that stops early abandons the turn's
// history; the session row itself remains.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*Turn, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	if s.runtime == nil {
		return nil, fmt.Errorf("%w: agent runtime not configured: ANTHROPIC_API_KEY must be set", ErrValidation)
	}

	workDir, err := s.resolveWorkingDirectory(req)
	if err != nil {
		return nil, err
	}

	session, prompt, persistable, err := s.resolveSession(ctx, req, workDir)
	if err != nil {
		return nil, err
	}
	if workDir != "" {
		session.WorkingDirectory = workDir
	} else {
		workDir = session.WorkingDirectory
	}

	treq := TurnRequest{
		Prompt:           prompt,
		Instructions:     s.instructions,
		WorkingDirectory: workDir,
		Toolbox:          NewToolbox(NewTracker()),
	}
	if req.Options != nil {
		treq.Model = req.Options.Model
		treq.MaxTurns = req.Options.MaxTurns
	}

	events := s.runtime.OpenTurn(ctx, treq)

	return &Turn{
		SessionID: session.ID,
		Messages: func(yield func(*domain.Message, error) bool) {
			userMsg := domain.Message{
				Type:      domain.MessageTypeUser,
				Content:   []domain.ContentBlock{domain.TextBlock(req.Prompt)},
				Timestamp: now(),
			}
			outputs := []domain.Message{userMsg}

			for ev, err := range events {
				if err != nil {
					yield(nil, err)
					return
				}
				msg := Normalize(ev)
				s.logTurn(session, msg)
				if msg.Type != domain.MessageTypeSystem {
					outputs = append(outputs, *msg)
				}
				if !yield(msg, nil) {
					return
				}
			}

			if persistable {
				s.persist(session, outputs)
			} else {
				slog.Warn("session row absent, skipping history update",
					"session_id", session.ID)
			}
		},
	}, nil
}

// resolveSession resolves the session the turn runs under. With no id the
// session row is created before any message is produced, so it is readable
// while the stream is still open. An unknown or unloadable id is not an
// error: the turn proceeds without history under the caller's id, and the
// end-of-turn history update is skipped.
func (s *Service) resolveSession(ctx context.Context, req QueryRequest, workDir string) (*domain.Session, string, bool, error) {
	ts := time.Now().UTC()

	if req.SessionID != "" {
		existing, err := s.repo.GetSession(ctx, req.SessionID)
		switch {
		case err != nil:
			slog.Warn("failed to load session, proceeding without history",
				"session_id", req.SessionID, "error", err)
		case existing == nil:
			slog.Warn("session not found, proceeding without history",
				"session_id", req.SessionID)
		default:
			return existing, existing.Data.ContinuationPrompt(req.Prompt), true, nil
		}
		return &domain.Session{
			ID:               req.SessionID,
			UserID:           req.UserID,
			WorkingDirectory: workDir,
			CreatedAt:        ts,
			UpdatedAt:        ts,
		}, req.Prompt, false, nil
	}

	session := &domain.Session{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		WorkingDirectory: workDir,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, "", false, fmt.Errorf("create session: %w", err)
	}
	return session, req.Prompt, true, nil
}

func (s *Service) resolveWorkingDirectory(req QueryRequest) (string, error) {
	dir := req.WorkingDirectory
	if dir == "" {
		return "", nil
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !req.CreateDirectory {
			return "", fmt.Errorf("%w: working directory %s does not exist (set create_directory to create it)", ErrValidation, dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create working directory: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("stat working directory: %w", err)
	case !info.IsDir():
		return "", fmt.Errorf("%w: working directory %s is not a directory", ErrValidation, dir)
	}
	return dir, nil
}

// persist writes the turn into the bounded history window. It uses a
// fresh context: the request context is typically done or nearly done by
// the time the stream drains.
func (s *Service) persist(session *domain.Session, outputs []domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	session.Data.AppendTurn(outputs...)
	if err := s.repo.UpdateSession(ctx, session); err != nil {
		slog.Error("failed to persist session", "session_id", session.ID, "error", err)
	}
}

func (s *Service) logTurn(session *domain.Session, msg *domain.Message) {
	if s.turnLog == nil {
		return
	}
	s.turnLog.Log(TurnLogEntry{
		UserID:    session.UserID,
		SessionID: session.ID,
		Message:   msg,
	})
}

// GetSession retrieves a stored session or ErrNotFound.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return session, nil
}

// DeleteSession removes a stored session. Absent sessions delete cleanly.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.repo.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListSessions returns a user's sessions, most recently updated first.
func (s *Service) ListSessions(ctx context.Context, userID string, limit int) ([]*domain.Session, error) {
	sessions, err := s.repo.ListSessionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Close releases resources.
func (s *Service) Close() {
	if s.turnLog != nil {
		s.turnLog.Close()
	}
}
