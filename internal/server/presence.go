package server

import (
	"log"
	"sync"
	"time"

	"github.com/chatwire/chatwire/internal/types"
)

const defaultIdleTimeout = 5 * time.Minute

type presenceState struct {
	user      types.User
	status    types.PresenceStatus
	since     time.Time
	idleTimer Timer
}

// PresenceTracker derives online/away/offline per identity from Session
// Registry transitions. Transitions fan out a presence:update to every
// room the identity is a member of; observers see an identity's
// transitions in generation order.
type PresenceTracker struct {
	mu          sync.Mutex
	states      map[int]*presenceState
	engine      *BroadcastEngine
	clock       Clock
	idleTimeout time.Duration
	log         *log.Logger
}

func NewPresenceTracker(logger *log.Logger, clock Clock, idleTimeout time.Duration, engine *BroadcastEngine) *PresenceTracker {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}

	return &PresenceTracker{
		states:      make(map[int]*presenceState),
		engine:      engine,
		clock:       clock,
		idleTimeout: idleTimeout,
		log:         logger,
	}
}

// Status reports the identity's current presence.
func (pt *PresenceTracker) Status(userId int) types.PresenceStatus {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if s, ok := pt.states[userId]; ok {
		return s.status
	}

	return types.PresenceOffline
}

// connected is the register-side presence candidate. Only a genuine
// offline→online (or away→online) edge broadcasts; a second device
// connecting while already online is absorbed.
func (pt *PresenceTracker) connected(user types.User) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	s, ok := pt.states[user.Id]
	if !ok {
		s = &presenceState{user: user, status: types.PresenceOffline}
		pt.states[user.Id] = s
	}

	pt.resetIdleTimer(s)

	if s.status == types.PresenceOnline {
		return
	}

	pt.transition(s, types.PresenceOnline)
}

// Activity marks inbound traffic for the identity, resuming online from
// away.
func (pt *PresenceTracker) Activity(user types.User) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	s, ok := pt.states[user.Id]
	if !ok {
		return
	}

	pt.resetIdleTimer(s)

	if s.status != types.PresenceAway {
		return
	}

	pt.transition(s, types.PresenceOnline)
}

// DeclareAway applies an explicit away declaration from the client.
func (pt *PresenceTracker) DeclareAway(user types.User) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	s, ok := pt.states[user.Id]
	if !ok || s.status != types.PresenceOnline {
		return
	}

	pt.transition(s, types.PresenceAway)
}

// disconnected fires once the grace period elapsed with zero live
// connections.
func (pt *PresenceTracker) disconnected(user types.User) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	s, ok := pt.states[user.Id]
	if !ok {
		return
	}

	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	delete(pt.states, user.Id)

	if s.status == types.PresenceOffline {
		return
	}

	s.status = types.PresenceOffline
	pt.engine.FanoutPresence(s.user, types.PresenceOffline)
}

// idle flips online→away when the idle timeout elapses without activity.
func (pt *PresenceTracker) idle(userId int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	s, ok := pt.states[userId]
	if !ok || s.status != types.PresenceOnline {
		return
	}

	pt.transition(s, types.PresenceAway)
}

// transition and fan-out happen under pt.mu so observers see an
// identity's presence changes in order.
func (pt *PresenceTracker) transition(s *presenceState, status types.PresenceStatus) {
	s.status = status
	s.since = pt.clock.Now()
	pt.engine.FanoutPresence(s.user, status)
}

func (pt *PresenceTracker) resetIdleTimer(s *presenceState) {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}

	userId := s.user.Id
	s.idleTimer = pt.clock.AfterFunc(pt.idleTimeout, func() {
		pt.idle(userId)
	})
}
