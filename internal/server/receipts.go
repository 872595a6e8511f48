package server

import (
	"log"
	"sync"

	"github.com/chatwire/chatwire/internal/store"
	"github.com/chatwire/chatwire/internal/types"
)

type receiptKey struct {
	userId int
	roomId string
}

// ReadReceiptTracker keeps the per-identity, per-room last-read
// watermark. Markers only ever move forward; out-of-order and duplicate
// acks are common and silently absorbed.
type ReadReceiptTracker struct {
	mu      sync.Mutex
	markers map[receiptKey]int
	engine  *BroadcastEngine
	db      store.Repository
	log     *log.Logger
}

func NewReadReceiptTracker(logger *log.Logger, db store.Repository, engine *BroadcastEngine) *ReadReceiptTracker {
	return &ReadReceiptTracker{
		markers: make(map[receiptKey]int),
		engine:  engine,
		db:      db,
		log:     logger,
	}
}

// MarkRead advances the watermark if seqId is strictly greater than the
// stored marker. Returns the marker now in effect and whether the update
// was accepted. Accepted markers broadcast receipt:read to the other
// room members and are persisted best-effort.
func (rt *ReadReceiptTracker) MarkRead(user types.User, roomId string, seqId int) (int, bool) {
	key := receiptKey{userId: user.Id, roomId: roomId}

	rt.mu.Lock()
	cur := rt.markers[key]
	if seqId <= cur {
		rt.mu.Unlock()
		return cur, false
	}
	rt.markers[key] = seqId
	rt.mu.Unlock()

	if r, ok := rt.engine.rooms.get(roomId); ok {
		// the durable query is itself monotonic, so a stale write after
		// restart cannot move the stored marker backwards
		if err := rt.db.UpdateLastReadSeqId(user.Id, r.id, seqId); err != nil {
			rt.log.Println("UpdateLastReadSeqId:", err)
		}
	}

	rt.engine.FanoutReceipt(user, roomId, seqId)

	return seqId, true
}

// Marker reports the stored watermark, zero when none exists.
func (rt *ReadReceiptTracker) Marker(userId int, roomId string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.markers[receiptKey{userId: userId, roomId: roomId}]
}
