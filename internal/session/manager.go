// Package session tracks per-conversation state across turns. The Manager
// fronts a pluggable Store with a write-through local cache so hot sessions
// skip the backend on read.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/metrics"
	"github.com/probelabs/deepresearch/internal/models"
)

const (
	defaultTTL      = 24 * time.Hour
	maxCachedLocal  = 10000
	maxHistoryTurns = 100
)

// Manager handles session lifecycle against a Store backend.
type Manager struct {
	store  Store
	logger *zap.Logger
	ttl    time.Duration

	mu          sync.RWMutex
	localCache  map[string]*Session
	cacheAccess map[string]time.Time
	maxSessions int
}

func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:       store,
		logger:      logger,
		ttl:         defaultTTL,
		localCache:  make(map[string]*Session),
		cacheAccess: make(map[string]time.Time),
		maxSessions: maxCachedLocal,
	}
}

// Create starts a new session with a generated ID.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	now := time.Now()
	s := &Session{
		ID:               uuid.New().String(),
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(m.ttl),
		Messages:         make([]models.Message, 0),
		ConversationMode: ModeChat,
	}
	if err := m.store.Save(ctx, s, m.ttl); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	m.mu.Lock()
	m.localCache[s.ID] = s
	m.cacheAccess[s.ID] = now
	m.evictIfFull()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Created session", zap.String("session_id", s.ID))
	metrics.SessionsCreated.Inc()
	return s, nil
}

// Get retrieves a session, local cache first. Expired sessions are deleted
// and reported as ErrSessionExpired.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	cached, ok := m.localCache[id]
	m.mu.RUnlock()
	if ok {
		metrics.SessionCacheHits.Inc()
		if cached.IsExpired() {
			_ = m.Delete(ctx, id)
			return nil, ErrSessionExpired
		}
		m.mu.Lock()
		m.cacheAccess[id] = time.Now()
		m.mu.Unlock()
		return cached, nil
	}
	metrics.SessionCacheMisses.Inc()

	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.IsExpired() {
		_ = m.Delete(ctx, id)
		return nil, ErrSessionExpired
	}

	m.mu.Lock()
	m.localCache[id] = s
	m.cacheAccess[id] = time.Now()
	m.evictIfFull()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()
	return s, nil
}

// GetOrCreate resolves id to an existing live session or starts a fresh one.
// An empty, unknown or expired id yields a new session.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if id != "" {
		s, err := m.Get(ctx, id)
		if err == nil {
			return s, nil
		}
		if err != ErrSessionNotFound && err != ErrSessionExpired {
			return nil, err
		}
	}
	return m.Create(ctx)
}

// Update persists the session and refreshes the cache entry.
func (m *Manager) Update(ctx context.Context, s *Session) error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}
	s.UpdatedAt = time.Now()
	if err := m.store.Save(ctx, s, time.Until(s.ExpiresAt)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	m.mu.Lock()
	m.localCache[s.ID] = s
	m.cacheAccess[s.ID] = time.Now()
	m.mu.Unlock()
	return nil
}

// Delete removes the session from the backend and the cache.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.mu.Lock()
	delete(m.localCache, id)
	delete(m.cacheAccess, id)
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	m.logger.Info("Deleted session", zap.String("session_id", id))
	return nil
}

// AddMessage appends one dialogue turn, trimming history to the most recent
// turns so long conversations stay bounded.
func (m *Manager) AddMessage(ctx context.Context, id string, msg models.Message) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	s.Messages = append(s.Messages, msg)
	if len(s.Messages) > maxHistoryTurns {
		s.Messages = s.Messages[len(s.Messages)-maxHistoryTurns:]
	}
	return m.Update(ctx, s)
}

// Extend pushes the expiry forward.
func (m *Manager) Extend(ctx context.Context, id string, d time.Duration) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	s.ExpiresAt = time.Now().Add(d)
	return m.Update(ctx, s)
}

// evictIfFull drops the least recently used half of the cache once it grows
// past maxSessions. Caller holds m.mu.
func (m *Manager) evictIfFull() {
	if len(m.localCache) <= m.maxSessions {
		return
	}

	type entry struct {
		id   string
		last time.Time
	}
	entries := make([]entry, 0, len(m.localCache))
	for id := range m.localCache {
		entries = append(entries, entry{id: id, last: m.cacheAccess[id]})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].last.Before(entries[j].last)
	})

	toRemove := m.maxSessions / 2
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.localCache, entries[i].id)
		delete(m.cacheAccess, entries[i].id)
		metrics.SessionCacheEvictions.Inc()
	}
}
