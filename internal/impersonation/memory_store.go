package impersonation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process session log used when no database is
// configured and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) collect(match func(Session) bool) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Session
	for _, sess := range s.sessions {
		if match(sess) {
			out = append(out, cloneSession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (s *MemoryStore) ListSessionsForAdmin(_ context.Context, adminID string, since time.Time) ([]Session, error) {
	return s.collect(func(sess Session) bool {
		if sess.SuperAdminID != adminID {
			return false
		}
		return since.IsZero() || !sess.StartedAt.Before(since) || sess.Open()
	}), nil
}

func (s *MemoryStore) LongestEndedSession(_ context.Context, adminID string) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var longest time.Duration
	for _, sess := range s.sessions {
		if sess.SuperAdminID != adminID || sess.Open() {
			continue
		}
		longest = max(longest, sess.EndedAt.Sub(sess.StartedAt))
	}
	return longest, nil
}

func (s *MemoryStore) InsertSession(_ context.Context, sess Session) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.ID = uuid.NewString()
	sess.EndedAt = nil
	s.sessions[sess.ID] = sess
	out := cloneSession(sess)
	return &out, nil
}

func (s *MemoryStore) MarkSessionEnded(_ context.Context, sessionID string, endedAt time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !sess.Open() {
		return nil, ErrSessionEnded
	}
	sess.EndedAt = &endedAt
	s.sessions[sessionID] = sess
	out := cloneSession(sess)
	return &out, nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := cloneSession(sess)
	return &out, nil
}

func (s *MemoryStore) ListActiveSessions(context.Context) ([]Session, error) {
	return s.collect(Session.Open), nil
}

func (s *MemoryStore) WithAdminLock(ctx context.Context, adminID string, fn func(ctx context.Context, s Store) error) error {
	s.locksMu.Lock()
	l, ok := s.locks[adminID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[adminID] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx, s)
}

func cloneSession(s Session) Session {
	if s.EndedAt != nil {
		ended := *s.EndedAt
		s.EndedAt = &ended
	}
	return s
}
