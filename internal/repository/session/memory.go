// Package session stores interview sessions for the lifetime of the process.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-interview/backend/internal/apperr"
	"github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

// Repository is the session table used by the conversation engine.
type Repository interface {
	Create(ctx context.Context, s interview.Session) error
	Get(ctx context.Context, id string) (interview.Session, error)
	// Update applies fn to the stored session atomically. When fn returns an
	// error the stored session is left untouched.
	Update(ctx context.Context, id string, fn func(*interview.Session) error) (interview.Session, error)
	Delete(ctx context.Context, id string) error
}

// Option configures a MemoryRepository.
type Option func(*MemoryRepository)

// WithTTL evicts sessions idle for longer than ttl. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(r *MemoryRepository) { r.ttl = ttl }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *MemoryRepository) { r.now = now }
}

// WithLogger sets the repository logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *MemoryRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// MemoryRepository keeps sessions in a map guarded by a RWMutex.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]interview.Session
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewMemory creates an empty repository.
func NewMemory(opts ...Option) *MemoryRepository {
	r := &MemoryRepository{
		sessions: make(map[string]interview.Session),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a new session. Duplicate IDs are a conflict.
func (r *MemoryRepository) Create(_ context.Context, s interview.Session) error {
	if s.ID == "" {
		return apperr.InvalidInput("session.Create", "session id is required")
	}
	if len(s.History) == 0 {
		return apperr.InvalidInput("session.Create", "session needs at least one question")
	}

	now := r.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return apperr.Conflict("session.Create", "session %s already exists", s.ID)
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

// Get returns a copy of the session.
func (r *MemoryRepository) Get(_ context.Context, id string) (interview.Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || r.expired(s, r.now()) {
		return interview.Session{}, apperr.NotFound("session.Get", "session not found")
	}
	return s.Clone(), nil
}

// Update runs fn against a working copy and commits it on success.
func (r *MemoryRepository) Update(_ context.Context, id string, fn func(*interview.Session) error) (interview.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	current, ok := r.sessions[id]
	if !ok || r.expired(current, now) {
		return interview.Session{}, apperr.NotFound("session.Update", "session not found")
	}

	working := current.Clone()
	if err := fn(&working); err != nil {
		return interview.Session{}, err
	}
	working.UpdatedAt = now
	r.sessions[id] = working
	return working.Clone(), nil
}

// Delete removes a session.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return apperr.NotFound("session.Delete", "session not found")
	}
	delete(r.sessions, id)
	return nil
}

// Len reports the number of stored sessions, expired ones included.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Evict drops every session idle past the TTL and returns how many went.
// Sessions with a generation in flight are kept until it settles.
func (r *MemoryRepository) Evict() int {
	if r.ttl <= 0 {
		return 0
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, s := range r.sessions {
		if r.expired(s, now) {
			delete(r.sessions, id)
			evicted++
		}
	}
	return evicted
}

// RunJanitor evicts expired sessions every interval until ctx is done.
func (r *MemoryRepository) RunJanitor(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Evict(); n > 0 {
				r.logger.Info("evicted idle sessions", zap.Int("count", n), zap.Duration("ttl", r.ttl))
			}
		}
	}
}

func (r *MemoryRepository) expired(s interview.Session, now time.Time) bool {
	if r.ttl <= 0 || s.Status == interview.StatusGenerating {
		return false
	}
	return now.Sub(s.UpdatedAt) > r.ttl
}
