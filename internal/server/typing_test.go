package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chatwire/chatwire/internal/store"
	"github.com/chatwire/chatwire/internal/types"
)

// typingHarness loads a room with alice and bob both connected and
// returns their connections with fully drained queues.
func typingHarness(t *testing.T) (*ChatServer, *FakeClock, *Client, *Client) {
	t.Helper()

	alice := types.User{Id: 1, Username: "alice"}
	bob := types.User{Id: 2, Username: "bob"}

	db := &store.MockRepository{}
	expectRoom(db, 10, "R1", 0, alice, bob)

	clock := NewFakeClock(time.Now())
	cs := newTestChatServer(t, db, clock)

	_, err := cs.rooms.Load("R1")
	assert.NoError(t, err)

	cAlice := newTestClient(t, cs, alice)
	cBob := newTestClient(t, cs, bob)
	cs.registry.Register(cAlice)
	cs.registry.Register(cBob)
	drain(cAlice)
	drain(cBob)

	return cs, clock, cAlice, cBob
}

func Test_StartTyping(t *testing.T) {
	cs, _, cAlice, cBob := typingHarness(t)

	cs.typing.StartTyping(cAlice.user, "R1")

	evs := drain(cBob)
	if assert.Len(t, evs, 1) {
		assert.Equal(t, EventTypingStart, evs[0].Type)
		assert.Equal(t, cAlice.user.Id, evs[0].UserId)
		assert.Equal(t, "R1", evs[0].RoomId)
	}
	assert.Empty(t, drain(cAlice), "the typist's own devices are skipped")
	assert.True(t, cs.typing.IsTyping(cAlice.user.Id, "R1"))

	// a keystroke loop re-triggering start extends the state silently
	cs.typing.StartTyping(cAlice.user, "R1")
	cs.typing.StartTyping(cAlice.user, "R1")
	assert.Empty(t, drain(cBob))
}

func Test_StopTyping(t *testing.T) {
	cs, _, cAlice, cBob := typingHarness(t)

	cs.typing.StartTyping(cAlice.user, "R1")
	drain(cBob)

	cs.typing.StopTyping(cAlice.user, "R1")
	evs := drain(cBob)
	if assert.Len(t, evs, 1) {
		assert.Equal(t, EventTypingStop, evs[0].Type)
	}
	assert.False(t, cs.typing.IsTyping(cAlice.user.Id, "R1"))

	// a duplicate stop is absorbed
	cs.typing.StopTyping(cAlice.user, "R1")
	assert.Empty(t, drain(cBob))

	// stop without a prior start is absorbed too
	cs.typing.StopTyping(cBob.user, "R1")
	assert.Empty(t, drain(cAlice))
}

func Test_TypingExpiry(t *testing.T) {
	cs, clock, cAlice, cBob := typingHarness(t)

	cs.typing.StartTyping(cAlice.user, "R1")
	drain(cBob)

	clock.Advance(defaultTypingTTL - time.Second)
	cs.typing.sweep()
	assert.Empty(t, drain(cBob), "no implicit stop before the TTL elapses")

	clock.Advance(2 * time.Second)
	cs.typing.sweep()
	evs := drain(cBob)
	if assert.Len(t, evs, 1) {
		assert.Equal(t, EventTypingStop, evs[0].Type)
		assert.Equal(t, cAlice.user.Id, evs[0].UserId)
	}

	// the state is gone, further sweeps are silent
	cs.typing.sweep()
	assert.Empty(t, drain(cBob))
}

func Test_StartTyping_afterExpiryBroadcastsAgain(t *testing.T) {
	cs, clock, cAlice, cBob := typingHarness(t)

	cs.typing.StartTyping(cAlice.user, "R1")
	drain(cBob)

	clock.Advance(defaultTypingTTL + time.Second)
	assert.False(t, cs.typing.IsTyping(cAlice.user.Id, "R1"))

	// an expired-but-unswept state counts as fresh again
	cs.typing.StartTyping(cAlice.user, "R1")
	evs := drain(cBob)
	if assert.Len(t, evs, 1) {
		assert.Equal(t, EventTypingStart, evs[0].Type)
	}
}
