package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Hard TTL bounds exposure of a leaked request-token secret even when the
// provider never redirects back.
const defaultHandshakeSessionTTL = 10 * time.Minute

const defaultHandshakeSessionMaxEntries = 4096

// HandshakeSession correlates an outbound authorize redirect with the
// eventual inbound callback. It is transient, single-use, and never touches
// the integration store.
type HandshakeSession struct {
	Nonce              string
	Source             Source
	MemberID           string
	RequestToken       string
	RequestTokenSecret string
	CreatedAt          time.Time
	ExpiresAt          time.Time
}

// HandshakeSessionStore is the caller-side storage collaborator (server-side
// cache, signed cookie backend). TakeOnce must delete on read so a replayed
// callback reliably misses.
type HandshakeSessionStore interface {
	Put(ctx context.Context, session HandshakeSession) error
	TakeOnce(ctx context.Context, nonce string) (HandshakeSession, error)
}

type MemoryHandshakeSessionStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]HandshakeSession
}

func NewMemoryHandshakeSessionStore(ttl time.Duration) *MemoryHandshakeSessionStore {
	return NewMemoryHandshakeSessionStoreWithLimits(ttl, defaultHandshakeSessionMaxEntries)
}

func NewMemoryHandshakeSessionStoreWithLimits(ttl time.Duration, maxEntries int) *MemoryHandshakeSessionStore {
	if ttl <= 0 {
		ttl = defaultHandshakeSessionTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultHandshakeSessionMaxEntries
	}
	return &MemoryHandshakeSessionStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    map[string]HandshakeSession{},
	}
}

func (s *MemoryHandshakeSessionStore) Put(_ context.Context, session HandshakeSession) error {
	if s == nil {
		return fmt.Errorf("core: handshake session store is not configured")
	}
	nonce := strings.TrimSpace(session.Nonce)
	if nonce == "" {
		return fmt.Errorf("core: handshake session nonce is required")
	}
	if strings.TrimSpace(session.RequestToken) == "" {
		return fmt.Errorf("core: handshake session request token is required")
	}

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = session.CreatedAt.Add(s.ttl)
	}

	s.mu.Lock()
	s.pruneLocked(now)
	if len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.entries[nonce] = session
	s.mu.Unlock()

	return nil
}

func (s *MemoryHandshakeSessionStore) TakeOnce(_ context.Context, nonce string) (HandshakeSession, error) {
	if s == nil {
		return HandshakeSession{}, fmt.Errorf("core: handshake session store is not configured")
	}
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return HandshakeSession{}, fmt.Errorf("%w: empty nonce", ErrSessionExpired)
	}

	s.mu.Lock()
	session, ok := s.entries[nonce]
	if ok {
		delete(s.entries, nonce)
	}
	s.mu.Unlock()

	if !ok {
		return HandshakeSession{}, fmt.Errorf("%w: no session for nonce", ErrSessionExpired)
	}
	if !session.ExpiresAt.IsZero() && time.Now().UTC().After(session.ExpiresAt) {
		return HandshakeSession{}, fmt.Errorf("%w: session ttl lapsed", ErrSessionExpired)
	}

	return session, nil
}

func (s *MemoryHandshakeSessionStore) pruneLocked(now time.Time) {
	for nonce, session := range s.entries {
		if !session.ExpiresAt.IsZero() && now.After(session.ExpiresAt) {
			delete(s.entries, nonce)
		}
	}
}

func (s *MemoryHandshakeSessionStore) evictOldestLocked() {
	oldestNonce := ""
	var oldestAt time.Time
	for nonce, session := range s.entries {
		if oldestNonce == "" || session.CreatedAt.Before(oldestAt) {
			oldestNonce = nonce
			oldestAt = session.CreatedAt
		}
	}
	if oldestNonce != "" {
		delete(s.entries, oldestNonce)
	}
}

func GenerateSessionNonce() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate session nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
