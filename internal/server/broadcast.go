package server

import (
	"fmt"
	"log"

	"github.com/chatwire/chatwire/internal/stats"
	"github.com/chatwire/chatwire/internal/store"
	"github.com/chatwire/chatwire/internal/types"
)

const notifyPreviewLen = 80

// BroadcastEngine accepts inbound message events, assigns per-room
// ordering, persists through the store and fans out to the live
// connections of the room's members. It is the only writer of a room's
// sequence counter.
type BroadcastEngine struct {
	rooms      *RoomManager
	registry   *SessionRegistry
	dispatcher *NotificationDispatcher
	db         store.Repository
	stats      stats.Provider
	log        *log.Logger
}

func NewBroadcastEngine(logger *log.Logger, db store.Repository, rooms *RoomManager,
	registry *SessionRegistry, dispatcher *NotificationDispatcher, su stats.Provider) *BroadcastEngine {
	return &BroadcastEngine{
		rooms:      rooms,
		registry:   registry,
		dispatcher: dispatcher,
		db:         db,
		stats:      su,
		log:        logger,
	}
}

// Send validates membership, reserves the next sequence number, persists
// the message and fans it out, including back to all of the sender's own
// connections for multi-device consistency. Sends for the same room are
// serialized; different rooms proceed in parallel. A persist failure
// means no fan-out and no sequence advance: the sender is the only party
// that ever learns the message existed.
func (be *BroadcastEngine) Send(sender types.User, roomId, payload string) (types.Message, error) {
	r, err := be.rooms.Load(roomId)
	if err != nil {
		return types.Message{}, err
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	_, member := r.members[sender.Id]
	members := make([]types.User, 0, len(r.members))
	for _, u := range r.members {
		members = append(members, u)
	}
	r.mu.Unlock()

	if !member {
		return types.Message{}, fmt.Errorf("user %d in room %q: %w", sender.Id, roomId, ErrForbidden)
	}

	seq := r.seq + 1
	ts := Now()

	if err := be.db.PersistMessage(store.Message{
		SeqId:     seq,
		RoomId:    r.id,
		UserId:    sender.Id,
		Content:   payload,
		CreatedAt: ts,
	}); err != nil {
		be.log.Println("PersistMessage:", err)
		return types.Message{}, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	// the sequence only advances once the message is durable, keeping the
	// counter gap-free
	r.seq = seq

	msg := types.Message{
		SeqId:     seq,
		RoomId:    roomId,
		UserId:    sender.Id,
		Content:   payload,
		Timestamp: ts,
	}

	ev := &ServerEvent{
		Type:      EventMessageNew,
		Timestamp: ts,
		RoomId:    roomId,
		SeqId:     seq,
		SenderId:  sender.Id,
		Payload:   payload,
	}

	for _, member := range members {
		conns := be.registry.ConnectionsFor(member.Id)
		if len(conns) == 0 {
			be.dispatcher.Notify(Notification{
				UserId:  member.Id,
				RoomId:  roomId,
				SeqId:   seq,
				Summary: preview(payload),
			})
			continue
		}

		be.pushAll(conns, ev)
	}

	be.stats.Incr(stats.MessagesSent)

	return msg, nil
}

// FanoutPresence delivers a presence:update for the identity to every
// loaded room it belongs to.
func (be *BroadcastEngine) FanoutPresence(user types.User, status types.PresenceStatus) {
	ev := &ServerEvent{
		Type:      EventPresenceUpdate,
		Timestamp: Now(),
		UserId:    user.Id,
		Status:    status,
	}

	seen := make(map[*Client]struct{})
	for _, r := range be.rooms.RoomsFor(user.Id) {
		for _, member := range r.memberSnapshot() {
			for _, c := range be.registry.ConnectionsFor(member.Id) {
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}

				roomEv := *ev
				roomEv.RoomId = r.externalId
				if !c.queueEvent(&roomEv) {
					be.log.Printf("presence fan-out to %s: %v", c.id, ErrDeliveryFault)
				}
			}
		}
	}
}

// FanoutTyping delivers typing:start / typing:stop to the other members
// of the room; the typist's own devices already know.
func (be *BroadcastEngine) FanoutTyping(user types.User, roomId string, started bool) {
	kind := EventTypingStop
	if started {
		kind = EventTypingStart
	}

	be.fanoutToRoom(roomId, &ServerEvent{
		Type:      kind,
		Timestamp: Now(),
		RoomId:    roomId,
		UserId:    user.Id,
	}, user.Id)
}

// FanoutReceipt delivers an accepted read marker to the other members of
// the room.
func (be *BroadcastEngine) FanoutReceipt(user types.User, roomId string, seqId int) {
	be.fanoutToRoom(roomId, &ServerEvent{
		Type:      EventReceiptRead,
		Timestamp: Now(),
		RoomId:    roomId,
		UserId:    user.Id,
		SeqId:     seqId,
	}, user.Id)
}

// fanoutToRoom pushes ev to the live connections of all room members,
// skipping every connection owned by skipUserId.
func (be *BroadcastEngine) fanoutToRoom(roomId string, ev *ServerEvent, skipUserId int) {
	r, ok := be.rooms.get(roomId)
	if !ok {
		return
	}

	for _, member := range r.memberSnapshot() {
		if member.Id == skipUserId {
			continue
		}

		be.pushAll(be.registry.ConnectionsFor(member.Id), ev)
	}
}

// pushAll pushes to each connection, isolating individual delivery
// faults from the rest of the fan-out.
func (be *BroadcastEngine) pushAll(conns []*Client, ev *ServerEvent) {
	for _, c := range conns {
		if c == ev.SkipConn {
			continue
		}

		if !c.queueEvent(ev) {
			be.log.Printf("fan-out to %s: %v", c.id, ErrDeliveryFault)
		}
	}
}

func preview(payload string) string {
	if len(payload) > notifyPreviewLen {
		return payload[:notifyPreviewLen]
	}
	return payload
}
