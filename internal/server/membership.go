package server

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/samber/lo"

	"github.com/chatwire/chatwire/internal/stats"
	"github.com/chatwire/chatwire/internal/store"
	"github.com/chatwire/chatwire/internal/types"
)

// Room is an owned, lockable member set plus the room's message
// sequence counter. Membership mutations and fan-out snapshots are
// serialized on mu; sends are serialized on sendMu so the Broadcast
// Engine is the only writer of seq.
type Room struct {
	id         int
	externalId string

	mu      sync.Mutex
	members map[int]types.User

	sendMu sync.Mutex
	seq    int
}

func (r *Room) ExternalId() string { return r.externalId }

// isMember reports membership at the time of the call.
func (r *Room) isMember(userId int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.members[userId]
	return ok
}

// memberSnapshot returns the member set as of strictly before the call
// returns. Taken under the same lock as join/leave, so a concurrent join
// either lands in the snapshot or misses it, never both.
func (r *Room) memberSnapshot() []types.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.Values(r.members)
}

// RoomManager owns Room objects and is the only writer of membership
// sets. Rooms are loaded lazily from the store's authoritative catalog
// and seeded with their durable member list.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	db    store.Repository
	log   *log.Logger
	stats stats.Provider
}

func NewRoomManager(logger *log.Logger, db store.Repository, su stats.Provider) *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
		db:    db,
		log:   logger,
		stats: su,
	}
}

// Load returns the live Room for an external id, fetching and seeding it
// from the store on first use. Unknown rooms are ErrNotFound.
func (rm *RoomManager) Load(roomId string) (*Room, error) {
	rm.mu.RLock()
	r, ok := rm.rooms[roomId]
	rm.mu.RUnlock()
	if ok {
		return r, nil
	}

	dbRoom, err := rm.db.GetRoomByExternalId(roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %q: %w", roomId, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch room catalog: %w", err)
	}

	seed, err := rm.db.GetMembersByRoomId(dbRoom.Id)
	if err != nil {
		return nil, fmt.Errorf("fetch member seed: %w", err)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	// another loader may have won the race
	if r, ok := rm.rooms[roomId]; ok {
		return r, nil
	}

	r = &Room{
		id:         dbRoom.Id,
		externalId: dbRoom.ExternalId,
		seq:        dbRoom.SeqId,
		members: lo.SliceToMap(seed, func(u store.User) (int, types.User) {
			return u.Id, types.User{Id: u.Id, Username: u.Username}
		}),
	}
	rm.rooms[roomId] = r
	rm.stats.Incr(stats.ActiveRooms)
	rm.log.Printf("loaded room %q with %d members", roomId, len(r.members))

	return r, nil
}

// get returns a loaded room without touching the store.
func (rm *RoomManager) get(roomId string) (*Room, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	r, ok := rm.rooms[roomId]
	return r, ok
}

// Join adds the identity to the room's member set. Idempotent: joining a
// room the identity already belongs to is a no-op. Returns the member
// snapshot current as of the join.
func (rm *RoomManager) Join(user types.User, roomId string) ([]types.User, error) {
	r, err := rm.Load(roomId)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	_, exists := r.members[user.Id]
	if !exists {
		r.members[user.Id] = types.User{Id: user.Id, Username: user.Username}
	}
	members := lo.Values(r.members)
	r.mu.Unlock()

	if !exists {
		if !rm.db.MembershipExists(user.Id, r.id) {
			if _, err := rm.db.CreateMembership(user.Id, r.id); err != nil {
				// the live member set stays authoritative for fan-out;
				// durable membership catches up on the next join
				rm.log.Println("CreateMembership:", err)
			}
		}
	}

	return members, nil
}

// Leave removes the identity from the member set. Leaving a room the
// identity is not a member of is a no-op, as is leaving as the last
// member: the Room object itself is never deleted here.
func (rm *RoomManager) Leave(userId int, roomId string) error {
	r, ok := rm.get(roomId)
	if !ok {
		// nothing live to leave; still clear durable membership
		dbRoom, err := rm.db.GetRoomByExternalId(roomId)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("room %q: %w", roomId, ErrNotFound)
			}
			return fmt.Errorf("fetch room catalog: %w", err)
		}

		return rm.db.DeleteMembership(userId, dbRoom.Id)
	}

	r.mu.Lock()
	delete(r.members, userId)
	r.mu.Unlock()

	if err := rm.db.DeleteMembership(userId, r.id); err != nil {
		rm.log.Println("DeleteMembership:", err)
	}

	return nil
}

// MembersOf returns the current member snapshot of a loaded room.
func (rm *RoomManager) MembersOf(roomId string) []types.User {
	r, ok := rm.get(roomId)
	if !ok {
		return nil
	}

	return r.memberSnapshot()
}

// IsMember reports whether the identity currently belongs to the room.
func (rm *RoomManager) IsMember(userId int, roomId string) bool {
	r, ok := rm.get(roomId)
	if !ok {
		return false
	}

	return r.isMember(userId)
}

// RoomsFor lists the loaded rooms the identity is a member of.
func (rm *RoomManager) RoomsFor(userId int) []*Room {
	rm.mu.RLock()
	rooms := lo.Values(rm.rooms)
	rm.mu.RUnlock()

	return lo.Filter(rooms, func(r *Room, _ int) bool {
		return r.isMember(userId)
	})
}

// Drop removes a room from the live set, typically after the room was
// deleted through the HTTP surface.
func (rm *RoomManager) Drop(roomId string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.rooms[roomId]; ok {
		delete(rm.rooms, roomId)
		rm.stats.Decr(stats.ActiveRooms)
		rm.log.Printf("dropped room %q", roomId)
	}
}
