package server

import (
	"log"
	"sync"
	"time"

	"github.com/chatwire/chatwire/internal/types"
)

const (
	defaultTypingTTL   = 10 * time.Second
	typingSweepEvery   = time.Second
	typingSweepBacklog = 64
)

type typingKey struct {
	roomId string
	userId int
}

type typingState struct {
	user   types.User
	expiry time.Time
}

// TypingCoordinator holds ephemeral per-room, per-identity typing state.
// State is never persisted; it dies on explicit stop or TTL expiry,
// whichever comes first. The sweep turns expiries into implicit stop
// broadcasts, which also covers disconnects and dropped stop events.
type TypingCoordinator struct {
	mu     sync.Mutex
	states map[typingKey]typingState
	engine *BroadcastEngine
	clock  Clock
	ttl    time.Duration
	log    *log.Logger
	stop   chan struct{}
	done   chan struct{}
}

func NewTypingCoordinator(logger *log.Logger, clock Clock, ttl time.Duration, engine *BroadcastEngine) *TypingCoordinator {
	if ttl <= 0 {
		ttl = defaultTypingTTL
	}

	return &TypingCoordinator{
		states: make(map[typingKey]typingState),
		engine: engine,
		clock:  clock,
		ttl:    ttl,
		log:    logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// StartTyping upserts the typing state. Only a fresh state broadcasts,
// so rapid re-triggers from a client keystroke loop extend the expiry
// without a broadcast storm.
func (tc *TypingCoordinator) StartTyping(user types.User, roomId string) {
	key := typingKey{roomId: roomId, userId: user.Id}
	now := tc.clock.Now()

	tc.mu.Lock()
	prev, ok := tc.states[key]
	fresh := !ok || !prev.expiry.After(now)
	tc.states[key] = typingState{user: user, expiry: now.Add(tc.ttl)}
	tc.mu.Unlock()

	if fresh {
		tc.engine.FanoutTyping(user, roomId, true)
	}
}

// StopTyping clears the state immediately. The stop broadcast only goes
// out if a state actually existed; duplicate stops are absorbed.
func (tc *TypingCoordinator) StopTyping(user types.User, roomId string) {
	key := typingKey{roomId: roomId, userId: user.Id}

	tc.mu.Lock()
	_, existed := tc.states[key]
	delete(tc.states, key)
	tc.mu.Unlock()

	if existed {
		tc.engine.FanoutTyping(user, roomId, false)
	}
}

// IsTyping reports whether the identity has a non-expired typing state
// in the room.
func (tc *TypingCoordinator) IsTyping(userId int, roomId string) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	s, ok := tc.states[typingKey{roomId: roomId, userId: userId}]
	return ok && s.expiry.After(tc.clock.Now())
}

// Run drives the expiry sweep until Stop is called.
func (tc *TypingCoordinator) Run() {
	ticker := tc.clock.NewTicker(typingSweepEvery)
	defer func() {
		ticker.Stop()
		close(tc.done)
	}()

	for {
		select {
		case <-ticker.Chan():
			tc.sweep()
		case <-tc.stop:
			return
		}
	}
}

func (tc *TypingCoordinator) Stop() {
	close(tc.stop)
	<-tc.done
}

// sweep removes expired states and broadcasts each as an implicit stop.
func (tc *TypingCoordinator) sweep() {
	now := tc.clock.Now()
	expired := make([]typingKey, 0, typingSweepBacklog)

	tc.mu.Lock()
	for key, s := range tc.states {
		if !s.expiry.After(now) {
			expired = append(expired, key)
		}
	}

	users := make([]types.User, 0, len(expired))
	for _, key := range expired {
		users = append(users, tc.states[key].user)
		delete(tc.states, key)
	}
	tc.mu.Unlock()

	for i, key := range expired {
		tc.engine.FanoutTyping(users[i], key.roomId, false)
	}
}
