package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kazuki-osada/internal-excali-banana/pkg/board"
	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
	"github.com/kazuki-osada/internal-excali-banana/pkg/pipeline"
)

// session は1枚のボードと、その生成試行の状態です。
type session struct {
	id    string
	board *board.Board
	orch  *pipeline.Orchestrator
	busy  atomic.Bool

	mu         sync.Mutex
	lastImage  string
	lastPrompt string
	lastError  string
	updatedAt  time.Time
}

func (s *session) recordSuccess(image, prompt string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastImage = image
	s.lastPrompt = prompt
	s.lastError = ""
	s.updatedAt = at
}

func (s *session) recordFailure(message string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = message
	s.updatedAt = at
}

func (s *session) result() (image, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastImage, s.lastPrompt
}

type statusResponse struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Busy      bool      `json:"busy"`
	Elements  int       `json:"elements"`
	HasResult bool      `json:"hasResult"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

func (s *session) status() statusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return statusResponse{
		ID:        s.id,
		State:     s.orch.State().String(),
		Busy:      s.busy.Load(),
		Elements:  len(domain.LiveElements(s.board.Elements())),
		HasResult: s.lastImage != "",
		LastError: s.lastError,
		UpdatedAt: s.updatedAt,
	}
}

// sessionStore はボードIDごとのセッションを保持します。
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: map[string]*session{}}
}

func (st *sessionStore) add(b *board.Board, orch *pipeline.Orchestrator) *session {
	s := &session{id: uuid.NewString(), board: b, orch: orch}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.id] = s
	return s
}

func (st *sessionStore) get(id string) (*session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

func (st *sessionStore) remove(id string) (*session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	return s, ok
}

func (st *sessionStore) len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
