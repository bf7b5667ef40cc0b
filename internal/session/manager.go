package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/deepsearch/config"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/core"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Session owns one conversation and the orchestrator that mutates it.
type Session struct {
	ID           string
	CreatedAt    time.Time
	Orchestrator *core.Orchestrator
}

// Factory builds the orchestrator for a new session id.
type Factory func(id string) *core.Orchestrator

// Manager keeps sessions in memory with a sliding TTL. Evicted sessions are
// reset so any in-flight run is discarded and its guard released.
type Manager struct {
	cache   *cache.Cache
	factory Factory
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewManager creates a session registry
func NewManager(cfg config.SessionConfig, factory Factory, logger *zap.Logger) *Manager {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cache:   cache.New(cfg.TTL, cfg.CleanupInterval),
		factory: factory,
		logger:  logger.Named("sessions"),
	}
	m.cache.OnEvicted(func(id string, v interface{}) {
		if s, ok := v.(*Session); ok {
			s.Orchestrator.Reset()
			m.logger.Debug("session evicted", zap.String("session_id", id))
		}
	})
	return m
}

// Create registers a fresh session
func (m *Manager) Create() *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
	}
	s.Orchestrator = m.factory(s.ID)
	m.cache.Set(s.ID, s, cache.DefaultExpiration)
	m.logger.Info("session created", zap.String("session_id", s.ID))
	return s
}

// Get returns a session and extends its TTL
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, false
	}
	s := v.(*Session)
	m.cache.Set(id, s, cache.DefaultExpiration)
	return s, true
}

// Delete drops a session. The eviction hook resets it.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cache.Get(id); !ok {
		return false
	}
	m.cache.Delete(id)
	return true
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	return m.cache.ItemCount()
}
