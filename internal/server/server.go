package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/chatwire/chatwire/internal/stats"
	"github.com/chatwire/chatwire/internal/store"
	"github.com/chatwire/chatwire/internal/types"
)

// CredentialValidator is the external credential-validation
// collaborator: token in, identity out.
type CredentialValidator interface {
	Validate(token string) (types.User, error)
}

type eventHandler func(*Client, *ClientEvent)

// ChatServer wires the event core together: the Session Registry, Room
// Membership Manager, Presence Tracker, Typing Coordinator, Read-Receipt
// Tracker, Broadcast Engine and Notification Dispatcher, plus the
// dispatch table routing inbound events to their owning component.
type ChatServer struct {
	log         *log.Logger
	db          store.Repository
	stats       stats.Provider
	clock       Clock
	credentials CredentialValidator

	registry   *SessionRegistry
	rooms      *RoomManager
	presence   *PresenceTracker
	typing     *TypingCoordinator
	receipts   *ReadReceiptTracker
	engine     *BroadcastEngine
	dispatcher *NotificationDispatcher

	clients     map[*Client]struct{}
	clientsLock sync.Mutex

	handlers map[string]eventHandler
}

type Option func(*options)

type options struct {
	clock       Clock
	gracePeriod time.Duration
	idleTimeout time.Duration
	typingTTL   time.Duration
}

func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithGracePeriod(d time.Duration) Option {
	return func(o *options) { o.gracePeriod = d }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

func WithTypingTTL(d time.Duration) Option {
	return func(o *options) { o.typingTTL = d }
}

func NewChatServer(logger *log.Logger, db store.Repository, su stats.Provider,
	creds CredentialValidator, notifier Notifier, opts ...Option) (*ChatServer, error) {
	o := options{
		clock:       NewClock(),
		gracePeriod: defaultGracePeriod,
		idleTimeout: defaultIdleTimeout,
		typingTTL:   defaultTypingTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	su.RegisterMetric(stats.ActiveConnections)
	su.RegisterMetric(stats.ActiveRooms)
	su.RegisterMetric(stats.MessagesSent)
	su.RegisterMetric(stats.NotificationsPushed)

	cs := &ChatServer{
		log:         logger,
		db:          db,
		stats:       su,
		clock:       o.clock,
		credentials: creds,
		clients:     make(map[*Client]struct{}),
	}

	cs.rooms = NewRoomManager(logger, db, su)
	cs.registry = NewSessionRegistry(logger, o.clock, o.gracePeriod)
	cs.dispatcher = NewNotificationDispatcher(logger, notifier, su)
	cs.engine = NewBroadcastEngine(logger, db, cs.rooms, cs.registry, cs.dispatcher, su)
	cs.presence = NewPresenceTracker(logger, o.clock, o.idleTimeout, cs.engine)
	cs.registry.presence = cs.presence
	cs.typing = NewTypingCoordinator(logger, o.clock, o.typingTTL, cs.engine)
	cs.receipts = NewReadReceiptTracker(logger, db, cs.engine)

	cs.handlers = map[string]eventHandler{
		EventRoomJoin:       cs.handleJoin,
		EventRoomLeave:      cs.handleLeave,
		EventMessageSend:    cs.handleSend,
		EventTypingStart:    cs.handleTypingStart,
		EventTypingStop:     cs.handleTypingStop,
		EventReceiptRead:    cs.handleReceipt,
		EventPresenceUpdate: cs.handlePresence,
	}

	return cs, nil
}

// Run drives the background workers until Shutdown.
func (cs *ChatServer) Run() {
	go cs.typing.Run()
	cs.dispatcher.Run()
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("closing client connections")
	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	stopped := make(chan struct{})
	go func() {
		cs.typing.Stop()
		cs.dispatcher.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterClient starts tracking a connection for shutdown. Identity
// binding happens separately, on authentication.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.ActiveConnections)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr(stats.ActiveConnections)
	}
}

// Presence exposes the tracker to the HTTP surface.
func (cs *ChatServer) Presence() *PresenceTracker { return cs.presence }

// DropRoom force-unloads a live room, typically after deletion through
// the HTTP surface.
func (cs *ChatServer) DropRoom(roomId string) {
	cs.rooms.Drop(roomId)
}

func (cs *ChatServer) authenticate(c *Client, ev *ClientEvent) bool {
	user, err := cs.credentials.Validate(ev.Token)
	if err != nil {
		cs.log.Printf("%v: %v", ErrAuthenticationFailure, err)
		return false
	}

	c.AuthenticateAs(user)
	c.queueEvent(NoErrOK(ev.Id, map[string]any{
		"user_id":  user.Id,
		"username": user.Username,
	}))

	return true
}

func (cs *ChatServer) dispatch(c *Client, ev *ClientEvent) {
	h, ok := cs.handlers[ev.Type]
	if !ok {
		c.queueEvent(ErrInvalidEvent(ev.Id))
		return
	}

	// any inbound event except the away declaration itself counts as
	// activity for the idle state machine
	if ev.Type != EventPresenceUpdate {
		cs.presence.Activity(c.user)
	}

	h(c, ev)
}

func (cs *ChatServer) handleJoin(c *Client, ev *ClientEvent) {
	members, err := cs.rooms.Join(c.user, ev.RoomId)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.queueEvent(ErrRoomNotFound(ev.Id))
		} else {
			cs.log.Println("join:", err)
			c.queueEvent(ErrInternalError(ev.Id))
		}
		return
	}

	c.queueEvent(NoErrOK(ev.Id, map[string]any{
		"room_id": ev.RoomId,
		"members": members,
	}))
}

func (cs *ChatServer) handleLeave(c *Client, ev *ClientEvent) {
	if err := cs.rooms.Leave(c.user.Id, ev.RoomId); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.queueEvent(ErrRoomNotFound(ev.Id))
		} else {
			cs.log.Println("leave:", err)
			c.queueEvent(ErrInternalError(ev.Id))
		}
		return
	}

	c.queueEvent(NoErrOK(ev.Id, nil))
}

func (cs *ChatServer) handleSend(c *Client, ev *ClientEvent) {
	msg, err := cs.engine.Send(c.user, ev.RoomId, ev.Payload)
	if err != nil {
		switch {
		case errors.Is(err, ErrForbidden):
			c.queueEvent(ErrEventForbidden(ev.Id))
		case errors.Is(err, ErrNotFound):
			c.queueEvent(ErrRoomNotFound(ev.Id))
		case errors.Is(err, ErrPersistenceFailure):
			c.queueEvent(ErrUnconfirmedDelivery(ev.Id))
		default:
			cs.log.Println("send:", err)
			c.queueEvent(ErrInternalError(ev.Id))
		}
		return
	}

	c.queueEvent(NoErrAccepted(ev.Id, map[string]any{
		"room_id": msg.RoomId,
		"seq_id":  msg.SeqId,
	}))
}

func (cs *ChatServer) handleTypingStart(c *Client, ev *ClientEvent) {
	if !cs.rooms.IsMember(c.user.Id, ev.RoomId) {
		c.queueEvent(ErrEventForbidden(ev.Id))
		return
	}

	cs.typing.StartTyping(c.user, ev.RoomId)
}

func (cs *ChatServer) handleTypingStop(c *Client, ev *ClientEvent) {
	if !cs.rooms.IsMember(c.user.Id, ev.RoomId) {
		c.queueEvent(ErrEventForbidden(ev.Id))
		return
	}

	cs.typing.StopTyping(c.user, ev.RoomId)
}

func (cs *ChatServer) handleReceipt(c *Client, ev *ClientEvent) {
	if !cs.rooms.IsMember(c.user.Id, ev.RoomId) {
		c.queueEvent(ErrEventForbidden(ev.Id))
		return
	}

	marker, _ := cs.receipts.MarkRead(c.user, ev.RoomId, ev.SeqId)
	c.queueEvent(NoErrOK(ev.Id, map[string]any{
		"room_id": ev.RoomId,
		"seq_id":  marker,
	}))
}

func (cs *ChatServer) handlePresence(c *Client, ev *ClientEvent) {
	switch types.PresenceStatus(ev.Status) {
	case types.PresenceAway:
		cs.presence.DeclareAway(c.user)
	case types.PresenceOnline:
		cs.presence.Activity(c.user)
	default:
		c.queueEvent(ErrInvalidEvent(ev.Id))
	}
}
