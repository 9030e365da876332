package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/snowpost/icloudmcp/internal/instrumentation"
)

// DefaultSessionTimeout is how long a bearer token counts as an active
// session after its last request.
const DefaultSessionTimeout = 24 * time.Hour

type sessionInfo struct {
	lastAccess time.Time
}

// SessionTracker counts distinct MCP clients on the HTTP transport.
// Each bearer token is one session; the token is hashed before use so
// the tracker never holds token material. The active-session gauge is
// kept in sync with the tracked set.
type SessionTracker struct {
	sessions map[string]*sessionInfo
	mu       sync.Mutex

	timeout time.Duration
	metrics *instrumentation.Metrics
	logger  *slog.Logger

	ticker *time.Ticker
	done   chan struct{}
}

// NewSessionTracker creates a session tracker and starts its eviction
// loop. metrics may be nil.
func NewSessionTracker(timeout time.Duration, logger *slog.Logger, metrics *instrumentation.Metrics) *SessionTracker {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &SessionTracker{
		sessions: make(map[string]*sessionInfo),
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger,
		ticker:   time.NewTicker(10 * time.Minute),
		done:     make(chan struct{}),
	}
	go t.evictLoop()
	return t
}

// Touch records a request for the session carried in the Authorization
// header. Requests without one are ignored.
func (t *SessionTracker) Touch(r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return
	}
	id := sessionID(authHeader)

	t.mu.Lock()
	defer t.mu.Unlock()
	if info, ok := t.sessions[id]; ok {
		info.lastAccess = time.Now()
		return
	}
	t.sessions[id] = &sessionInfo{lastAccess: time.Now()}
	if t.metrics != nil {
		t.metrics.IncrementActiveSessions(r.Context())
	}
}

// Count returns the number of tracked sessions.
func (t *SessionTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// sessionID derives a stable identifier from the auth header.
func sessionID(authHeader string) string {
	hash := sha256.Sum256([]byte(authHeader))
	return hex.EncodeToString(hash[:])
}

func (t *SessionTracker) evictLoop() {
	for {
		select {
		case <-t.ticker.C:
			t.evictExpired()
		case <-t.done:
			return
		}
	}
}

func (t *SessionTracker) evictExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	expired := 0
	for id, info := range t.sessions {
		if now.Sub(info.lastAccess) > t.timeout {
			delete(t.sessions, id)
			expired++
			if t.metrics != nil {
				t.metrics.DecrementActiveSessions(context.Background())
			}
		}
	}
	if expired > 0 {
		t.logger.Info("evicted expired sessions", "count", expired)
	}
}

// Stop ends the eviction loop.
func (t *SessionTracker) Stop() {
	t.ticker.Stop()
	close(t.done)
}
