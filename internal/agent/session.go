package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

var ErrEmptyMessage = errors.New("message is empty")

const (
	DefaultMaxSessions = 1024
	DefaultSessionTTL  = 2 * time.Hour
	maxStoredTurns     = 40
)

// Session is one conversation. Messages of a session are handled one at a
// time.
type Session struct {
	ID string

	mu         sync.Mutex
	history    []Turn
	snapshotID string
}

func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

// Sessions holds conversations by id; idle ones expire.
type Sessions struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *Session]
}

func NewSessions(size int, ttl time.Duration) *Sessions {
	if size <= 0 {
		size = DefaultMaxSessions
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{cache: expirable.NewLRU[string, *Session](size, nil, ttl)}
}

// Get returns the session id names, creating it when missing. An empty id
// starts a new session.
func (s *Sessions) Get(id string) *Session {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache.Get(id); ok {
		return sess
	}
	sess := &Session{ID: id}
	s.cache.Add(id, sess)
	return sess
}

// Clear forgets the session's history. It reports whether the session existed.
func (s *Sessions) Clear(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Remove(strings.TrimSpace(id))
}

func (s *Sessions) Len() int { return s.cache.Len() }

// Handler answers one request; *Orchestrator is the production handler.
type Handler interface {
	Handle(ctx context.Context, req Request) (Response, error)
}

// Reply is a chat answer with the session it belongs to.
type Reply struct {
	SessionID string `json:"session_id"`
	Response
}

// Service keeps conversation state around a Handler.
type Service struct {
	handler  Handler
	sessions *Sessions
	log      *zap.Logger
}

func NewService(h Handler, sessions *Sessions, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if sessions == nil {
		sessions = NewSessions(0, 0)
	}
	return &Service{handler: h, sessions: sessions, log: log}
}

// Chat answers message within the session and records both sides of the turn.
func (s *Service) Chat(ctx context.Context, sessionID, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}
	sess := s.sessions.Get(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	resp, err := s.handler.Handle(ctx, Request{
		Message:    message,
		History:    append([]Turn(nil), sess.history...),
		SnapshotID: sess.snapshotID,
	})
	if err != nil {
		return Reply{}, err
	}
	sess.history = append(sess.history,
		Turn{Role: RoleUser, Content: message},
		Turn{Role: RoleAssistant, Content: resp.Answer})
	if n := len(sess.history); n > maxStoredTurns {
		sess.history = append([]Turn(nil), sess.history[n-maxStoredTurns:]...)
	}
	if resp.SnapshotID != "" {
		sess.snapshotID = resp.SnapshotID
	}
	s.log.Info("chat turn", zap.String("session_id", sess.ID), zap.String("agent", string(resp.Agent)),
		zap.String("snapshot_id", sess.snapshotID))
	return Reply{SessionID: sess.ID, Response: resp}, nil
}

// Clear drops the session's conversation.
func (s *Service) Clear(sessionID string) bool {
	ok := s.sessions.Clear(sessionID)
	s.log.Info("chat session cleared", zap.String("session_id", sessionID), zap.Bool("existed", ok))
	return ok
}
