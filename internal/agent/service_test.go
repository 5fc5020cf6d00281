package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/akarpov/vulnlab/internal/domain"
)

type fakeRuntime struct {
	mu      sync.Mutex
	lastReq TurnRequest
	events  []*Event
	err     error
}

func (f *fakeRuntime) OpenTurn(_ context.Context, req TurnRequest) iter.Seq2[*Event, error] {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	return func(yield func(*Event, error) bool) {
		for _, ev := range f.events {
			if !yield(ev, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func (f *fakeRuntime) request() TurnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

type memRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newMemRepo() *memRepo {
	return &memRepo{sessions: make(map[string]*domain.Session)}
}

func (m *memRepo) CreateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; ok {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *memRepo) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memRepo) UpdateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	cp.UpdatedAt = time.Now().UTC()
	m.sessions[session.ID] = &cp
	return nil
}

func (m *memRepo) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *memRepo) ListSessionsByUser(_ context.Context, userID string, limit int) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, s := range m.sessions {
		if s.UserID == userID && len(out) < limit {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRepo) CleanupExpiredSessions(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	cutoff := time.Now().Add(-ttl)
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memRepo) Ping(context.Context) error { return nil }
func (m *memRepo) Close() error               { return nil }

func drain(t *testing.T, turn *Turn) []*domain.Message {
	t.Helper()
	var out []*domain.Message
	for msg, err := range turn.Messages {
		if err != nil {
			t.Fatalf("Unexpected stream error: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func assistantEvent(text string) *Event {
	return &Event{Kind: EventKindAssistant, Blocks: []EventBlock{{Kind: "text", Text: text}}}
}

func TestQueryRejectsEmptyPrompt(t *testing.T) {
	t.Parallel()

	svc := NewService(newMemRepo(), &fakeRuntime{}, "", nil)
	_, err := svc.Query(context.Background(), QueryRequest{Prompt: "   "})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
}

func TestQueryWithoutRuntime(t *testing.T) {
	t.Parallel()

	svc := NewService(newMemRepo(), nil, "", nil)
	_, err := svc.Query(context.Background(), QueryRequest{Prompt: "hi"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Errorf("Expected actionable message, got %q", err.Error())
	}
}

func TestQueryMissingWorkingDirectory(t *testing.T) {
	t.Parallel()

	svc := NewService(newMemRepo(), &fakeRuntime{}, "", nil)
	missing := filepath.Join(t.TempDir(), "absent")
	_, err := svc.Query(context.Background(), QueryRequest{
		Prompt:           "hi",
		WorkingDirectory: missing,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), missing) || !strings.Contains(err.Error(), "create_directory") {
		t.Errorf("Expected error naming the path and flag, got %q", err.Error())
	}
}

func TestQueryCreatesWorkingDirectory(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{events: []*Event{assistantEvent("ok")}}
	svc := NewService(newMemRepo(), rt, "", nil)

	dir := filepath.Join(t.TempDir(), "workspace")
	turn, err := svc.Query(context.Background(), QueryRequest{
		Prompt:           "hi",
		WorkingDirectory: dir,
		CreateDirectory:  true,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	drain(t, turn)

	info, statErr := os.Stat(dir)
	if statErr != nil || !info.IsDir() {
		t.Fatalf("Expected directory created, got %v", statErr)
	}
	if rt.request().WorkingDirectory != dir {
		t.Errorf("Expected working directory passed to runtime, got %q", rt.request().WorkingDirectory)
	}
}

func TestQueryWorkingDirectoryIsFile(t *testing.T) {
	t.Parallel()

	svc := NewService(newMemRepo(), &fakeRuntime{}, "", nil)
	file := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Query(context.Background(), QueryRequest{Prompt: "hi", WorkingDirectory: file})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("Unexpected message: %q", err.Error())
	}
}

func TestQueryStreamsAndPersists(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	rt := &fakeRuntime{events: []*Event{
		{Kind: EventKindSystem, Text: "agent session started"},
		assistantEvent("no issues found"),
		{Kind: EventKindResult, TotalCostUSD: 0.01},
	}}
	svc := NewService(repo, rt, "instructions", nil)

	turn, err := svc.Query(context.Background(), QueryRequest{Prompt: "scan localhost", UserID: "u-1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if turn.SessionID == "" {
		t.Fatal("Expected session id assigned before streaming")
	}

	msgs := drain(t, turn)
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 streamed messages, got %d", len(msgs))
	}
	if msgs[0].Type != domain.MessageTypeSystem {
		t.Errorf("Expected system message first, got %s", msgs[0].Type)
	}

	stored, err := repo.GetSession(context.Background(), turn.SessionID)
	if err != nil || stored == nil {
		t.Fatalf("Expected session persisted, got %v %v", stored, err)
	}
	// Stored window is the user prompt plus non-system outputs.
	if len(stored.Data.Messages) != 3 {
		t.Fatalf("Expected 3 stored messages, got %d", len(stored.Data.Messages))
	}
	if stored.Data.Messages[0].Type != domain.MessageTypeUser || stored.Data.Messages[0].FirstText() != "scan localhost" {
		t.Errorf("Expected original prompt stored first, got %+v", stored.Data.Messages[0])
	}
	if stored.Data.Messages[1].Type != domain.MessageTypeAssistant {
		t.Errorf("Expected assistant message stored, got %s", stored.Data.Messages[1].Type)
	}
	if stored.Data.Messages[2].Type != domain.MessageTypeResult {
		t.Errorf("Expected result message stored, got %s", stored.Data.Messages[2].Type)
	}
	if stored.UserID != "u-1" {
		t.Errorf("Expected owner u-1, got %q", stored.UserID)
	}
}

func TestQueryContinuationUsesTranscript(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	existing := &domain.Session{ID: "sess-1", UserID: "u-1"}
	existing.Data.AppendTurn(
		domain.Message{Type: domain.MessageTypeUser, Content: []domain.ContentBlock{domain.TextBlock("scan example.com")}},
		domain.Message{Type: domain.MessageTypeAssistant, Content: []domain.ContentBlock{domain.TextBlock("two findings recorded")}},
	)
	if err := repo.CreateSession(context.Background(), existing); err != nil {
		t.Fatal(err)
	}

	rt := &fakeRuntime{events: []*Event{assistantEvent("continuing")}}
	svc := NewService(repo, rt, "", nil)

	turn, err := svc.Query(context.Background(), QueryRequest{
		Prompt:    "now check TLS",
		UserID:    "u-1",
		SessionID: "sess-1",
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if turn.SessionID != "sess-1" {
		t.Errorf("Expected continuation under sess-1, got %q", turn.SessionID)
	}
	drain(t, turn)

	prompt := rt.request().Prompt
	if !strings.HasPrefix(prompt, "Previous conversation:\n") {
		t.Errorf("Expected transcript prefix, got %q", prompt)
	}
	if !strings.Contains(prompt, "User: scan example.com") ||
		!strings.Contains(prompt, "Assistant: two findings recorded") ||
		!strings.HasSuffix(prompt, "Current user message: now check TLS") {
		t.Errorf("Unexpected continuation prompt: %q", prompt)
	}

	stored, _ := repo.GetSession(context.Background(), "sess-1")
	// Original prompt is stored, not the transcript-prefixed variant.
	last := stored.Data.Messages[len(stored.Data.Messages)-2]
	if last.FirstText() != "now check TLS" {
		t.Errorf("Expected bare prompt in history, got %q", last.FirstText())
	}
}

func TestQuerySessionCreatedBeforeStreaming(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	rt := &fakeRuntime{events: []*Event{assistantEvent("ok")}}
	svc := NewService(repo, rt, "", nil)

	turn, err := svc.Query(context.Background(), QueryRequest{Prompt: "hi", UserID: "u-1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	// The row must be readable while the stream is still open.
	stored, err := repo.GetSession(context.Background(), turn.SessionID)
	if err != nil || stored == nil {
		t.Fatalf("Expected session row before draining the stream, got %v %v", stored, err)
	}
	if stored.UserID != "u-1" {
		t.Errorf("Expected owner u-1, got %q", stored.UserID)
	}
	if len(stored.Data.Messages) != 0 {
		t.Errorf("Expected empty history before draining, got %d messages", len(stored.Data.Messages))
	}

	drain(t, turn)
	stored, _ = repo.GetSession(context.Background(), turn.SessionID)
	if len(stored.Data.Messages) == 0 {
		t.Error("Expected history written after draining")
	}
}

func TestQueryUnknownSessionKeepsSuppliedID(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	rt := &fakeRuntime{events: []*Event{assistantEvent("ok")}}
	svc := NewService(repo, rt, "", nil)

	turn, err := svc.Query(context.Background(), QueryRequest{Prompt: "hi", SessionID: "ghost"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if turn.SessionID != "ghost" {
		t.Errorf("Expected turn to keep the supplied session id, got %q", turn.SessionID)
	}
	drain(t, turn)
	if rt.request().Prompt != "hi" {
		t.Errorf("Expected bare prompt without transcript, got %q", rt.request().Prompt)
	}

	// The history update is skipped when the session row is absent.
	stored, _ := repo.GetSession(context.Background(), "ghost")
	if stored != nil {
		t.Errorf("Expected no row materialized for unknown session, got %+v", stored)
	}
}

func TestQueryEarlyStopSkipsPersistence(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	rt := &fakeRuntime{events: []*Event{assistantEvent("a"), assistantEvent("b")}}
	svc := NewService(repo, rt, "", nil)

	turn, err := svc.Query(context.Background(), QueryRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	for range turn.Messages {
		break
	}

	// The session row exists from creation, but no history lands.
	stored, _ := repo.GetSession(context.Background(), turn.SessionID)
	if stored == nil {
		t.Fatal("Expected session row to survive an abandoned stream")
	}
	if len(stored.Data.Messages) != 0 {
		t.Errorf("Expected no history after abandoned stream, got %d messages", len(stored.Data.Messages))
	}
}

func TestQueryStreamErrorSkipsPersistence(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	rt := &fakeRuntime{
		events: []*Event{assistantEvent("partial")},
		err:    errors.New("connection reset"),
	}
	svc := NewService(repo, rt, "", nil)

	turn, err := svc.Query(context.Background(), QueryRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	var streamErr error
	for _, err := range turn.Messages {
		if err != nil {
			streamErr = err
		}
	}
	if streamErr == nil {
		t.Fatal("Expected stream error surfaced")
	}

	stored, _ := repo.GetSession(context.Background(), turn.SessionID)
	if stored == nil {
		t.Fatal("Expected session row to survive a failed stream")
	}
	if len(stored.Data.Messages) != 0 {
		t.Errorf("Expected no history after failed stream, got %d messages", len(stored.Data.Messages))
	}
}

func TestQueryHistoryWindowCapped(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	existing := &domain.Session{ID: "sess-1", UserID: "u-1"}
	for i := 0; i < domain.HistoryLimit; i++ {
		existing.Data.Messages = append(existing.Data.Messages, domain.Message{
			Type:    domain.MessageTypeUser,
			Content: []domain.ContentBlock{domain.TextBlock(fmt.Sprintf("old-%d", i))},
		})
	}
	if err := repo.CreateSession(context.Background(), existing); err != nil {
		t.Fatal(err)
	}

	rt := &fakeRuntime{events: []*Event{assistantEvent("new answer")}}
	svc := NewService(repo, rt, "", nil)

	turn, err := svc.Query(context.Background(), QueryRequest{Prompt: "newest", UserID: "u-1", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	drain(t, turn)

	stored, _ := repo.GetSession(context.Background(), "sess-1")
	if len(stored.Data.Messages) != domain.HistoryLimit {
		t.Fatalf("Expected window capped at %d, got %d", domain.HistoryLimit, len(stored.Data.Messages))
	}
	if stored.Data.Messages[0].FirstText() != "old-2" {
		t.Errorf("Expected oldest entries dropped FIFO, got %q", stored.Data.Messages[0].FirstText())
	}
	newest := stored.Data.Messages[len(stored.Data.Messages)-1]
	if newest.FirstText() != "new answer" {
		t.Errorf("Expected newest output last, got %q", newest.FirstText())
	}
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()

	svc := NewService(newMemRepo(), nil, "", nil)
	_, err := svc.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}
