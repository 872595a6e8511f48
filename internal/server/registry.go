package server

import (
	"log"
	"sync"
	"time"

	"github.com/chatwire/chatwire/internal/types"
)

const defaultGracePeriod = 5 * time.Second

// SessionRegistry maps each authenticated identity to its set of live
// connections. It is the exclusive owner of connection membership: the
// other components look live connections up here instead of holding
// their own copies.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[int]*session
	presence *PresenceTracker
	clock    Clock
	grace    time.Duration
	log      *log.Logger
}

// session keeps an identity's connections plus the pending offline
// timer, if any. The entry outlives its last connection by the grace
// period so a quick reconnect never looks like an offline/online flap.
type session struct {
	user         types.User
	conns        map[*Client]struct{}
	offlineTimer Timer
}

func NewSessionRegistry(logger *log.Logger, clock Clock, grace time.Duration) *SessionRegistry {
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	return &SessionRegistry{
		sessions: make(map[int]*session),
		clock:    clock,
		grace:    grace,
		log:      logger,
	}
}

// Register adds a connection under its identity. Never fails for an
// authenticated identity; feeds a presence-change candidate to the
// Presence Tracker.
func (sr *SessionRegistry) Register(c *Client) {
	sr.mu.Lock()
	s, ok := sr.sessions[c.user.Id]
	if !ok {
		s = &session{
			user:  c.user,
			conns: make(map[*Client]struct{}),
		}
		sr.sessions[c.user.Id] = s
	}

	if s.offlineTimer != nil {
		// reconnect within the grace period, suppress the offline flip
		s.offlineTimer.Stop()
		s.offlineTimer = nil
	}

	s.conns[c] = struct{}{}
	sr.mu.Unlock()

	sr.presence.connected(c.user)
}

// Unregister removes a connection. Losing the identity's last connection
// starts the grace-period timer instead of flipping presence
// immediately.
func (sr *SessionRegistry) Unregister(c *Client) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	s, ok := sr.sessions[c.user.Id]
	if !ok {
		return
	}

	delete(s.conns, c)

	if len(s.conns) == 0 {
		userId := c.user.Id
		s.offlineTimer = sr.clock.AfterFunc(sr.grace, func() {
			sr.expire(userId)
		})
	}
}

// expire fires when the grace period elapses. A reconnect may have raced
// the timer, so the zero-connection condition is re-checked.
func (sr *SessionRegistry) expire(userId int) {
	sr.mu.Lock()
	s, ok := sr.sessions[userId]
	if !ok || len(s.conns) > 0 {
		sr.mu.Unlock()
		return
	}

	delete(sr.sessions, userId)
	sr.mu.Unlock()

	sr.log.Printf("session for user %d expired", userId)
	sr.presence.disconnected(s.user)
}

// ConnectionsFor returns a snapshot of the identity's live connections.
func (sr *SessionRegistry) ConnectionsFor(userId int) []*Client {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	s, ok := sr.sessions[userId]
	if !ok {
		return nil
	}

	conns := make([]*Client, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}

	return conns
}

// LiveConnectionCount reports the number of live connections for an
// identity, zero for unknown or grace-period identities.
func (sr *SessionRegistry) LiveConnectionCount(userId int) int {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	s, ok := sr.sessions[userId]
	if !ok {
		return 0
	}

	return len(s.conns)
}
