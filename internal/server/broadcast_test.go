package server

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/chatwire/chatwire/internal/store"
	"github.com/chatwire/chatwire/internal/types"
)

func Test_Send_perRoomOrdering(t *testing.T) {
	alice := types.User{Id: 1, Username: "alice"}
	bob := types.User{Id: 2, Username: "bob"}

	db := &store.MockRepository{}
	expectRoom(db, 10, "R1", 0, alice, bob)
	db.On("PersistMessage", mock.Anything).Return(nil)

	cs := newTestChatServer(t, db, NewFakeClock(time.Now()))
	_, err := cs.rooms.Load("R1")
	assert.NoError(t, err)

	// alice is connected twice to check multi-device echo
	a1 := newTestClient(t, cs, alice)
	a2 := newTestClient(t, cs, alice)
	cBob := newTestClient(t, cs, bob)
	cs.registry.Register(a1)
	cs.registry.Register(a2)
	cs.registry.Register(cBob)
	drain(a1)
	drain(a2)
	drain(cBob)

	msg, err := cs.engine.Send(alice, "R1", "hello")
	assert.NoError(t, err)
	assert.Equal(t, 1, msg.SeqId)

	msg, err = cs.engine.Send(bob, "R1", "hi")
	assert.NoError(t, err)
	assert.Equal(t, 2, msg.SeqId)

	for _, c := range []*Client{a1, a2, cBob} {
		evs := drain(c)
		if assert.Len(t, evs, 2, "every device of every member sees every message") {
			assert.Equal(t, EventMessageNew, evs[0].Type)
			assert.Equal(t, 1, evs[0].SeqId)
			assert.Equal(t, "hello", evs[0].Payload)
			assert.Equal(t, alice.Id, evs[0].SenderId)

			assert.Equal(t, 2, evs[1].SeqId)
			assert.Equal(t, "hi", evs[1].Payload)
			assert.Equal(t, bob.Id, evs[1].SenderId)
		}
	}
}

func Test_Send_nonMember(t *testing.T) {
	alice := types.User{Id: 1, Username: "alice"}
	bob := types.User{Id: 2, Username: "bob"}

	db := &store.MockRepository{}
	defer db.AssertExpectations(t)
	expectRoom(db, 10, "R1", 0, bob)

	cs := newTestChatServer(t, db, NewFakeClock(time.Now()))

	cBob := newTestClient(t, cs, bob)
	cs.registry.Register(cBob)
	drain(cBob)

	_, err := cs.engine.Send(alice, "R1", "hello")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, drain(cBob))
	db.AssertNotCalled(t, "PersistMessage", mock.Anything)
}

func Test_Send_persistFailure(t *testing.T) {
	alice := types.User{Id: 1, Username: "alice"}
	bob := types.User{Id: 2, Username: "bob"}

	db := &store.MockRepository{}
	expectRoom(db, 10, "R1", 0, alice, bob)
	db.On("PersistMessage", mock.Anything).Return(errors.New("deadlock detected")).Once()
	db.On("PersistMessage", mock.Anything).Return(nil)

	cs := newTestChatServer(t, db, NewFakeClock(time.Now()))
	_, err := cs.rooms.Load("R1")
	assert.NoError(t, err)

	cBob := newTestClient(t, cs, bob)
	cs.registry.Register(cBob)
	drain(cBob)

	_, err = cs.engine.Send(alice, "R1", "lost")
	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.Empty(t, drain(cBob), "an unconfirmed message is delivered to no one")

	// the sequence did not advance over the failure
	msg, err := cs.engine.Send(alice, "R1", "retry")
	assert.NoError(t, err)
	assert.Equal(t, 1, msg.SeqId)

	evs := drain(cBob)
	if assert.Len(t, evs, 1) {
		assert.Equal(t, "retry", evs[0].Payload)
		assert.Equal(t, 1, evs[0].SeqId)
	}
}

func Test_Send_unknownRoom(t *testing.T) {
	db := &store.MockRepository{}
	db.On("GetRoomByExternalId", "nope").Return(store.Room{}, sql.ErrNoRows)

	cs := newTestChatServer(t, db, NewFakeClock(time.Now()))

	_, err := cs.engine.Send(types.User{Id: 1}, "nope", "hello")
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_Send_notifiesOfflineMembers(t *testing.T) {
	alice := types.User{Id: 1, Username: "alice"}
	bob := types.User{Id: 2, Username: "bob"}

	db := &store.MockRepository{}
	expectRoom(db, 10, "R1", 0, alice, bob)
	db.On("PersistMessage", mock.Anything).Return(nil)

	cs := newTestChatServer(t, db, NewFakeClock(time.Now()))
	_, err := cs.rooms.Load("R1")
	assert.NoError(t, err)

	// only alice is connected; bob gets a push instead
	cAlice := newTestClient(t, cs, alice)
	cs.registry.Register(cAlice)
	drain(cAlice)

	longPayload := strings.Repeat("x", notifyPreviewLen+20)
	_, err = cs.engine.Send(alice, "R1", longPayload)
	assert.NoError(t, err)

	select {
	case n := <-cs.dispatcher.queue:
		assert.Equal(t, bob.Id, n.UserId)
		assert.Equal(t, "R1", n.RoomId)
		assert.Equal(t, 1, n.SeqId)
		assert.Len(t, n.Summary, notifyPreviewLen, "push summaries are truncated")
	default:
		t.Fatal("expected a queued notification for the offline member")
	}

	assert.Len(t, drain(cAlice), 1, "the sender's own device still gets the echo")
}
