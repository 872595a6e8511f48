package server

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatwire/chatwire/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxEventSize   = 4096
	sendQueueDepth = 256
)

// Client is one live connection. Business state never lives here: the
// client is an opaque handle owned by the Session Registry plus an
// outbound push capability used by the fan-out paths.
type Client struct {
	id            string
	conn          *websocket.Conn
	cs            *ChatServer
	log           *log.Logger
	user          types.User
	authenticated bool
	send          chan *ServerEvent
	stop          chan struct{}
	stopOnce      sync.Once
	connectedAt   time.Time
	lastActivity  atomic.Int64
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	c := &Client{
		id:          uuid.NewString(),
		conn:        conn,
		cs:          cs,
		log:         l,
		send:        make(chan *ServerEvent, sendQueueDepth),
		stop:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	c.lastActivity.Store(time.Now().UnixNano())

	return c
}

func (c *Client) User() types.User { return c.user }

// AuthenticateAs binds the connection to an identity and places it in the
// Session Registry. Used by the HTTP layer when the upgrade request
// already carried a valid session cookie; otherwise authentication
// happens on the first frame.
func (c *Client) AuthenticateAs(user types.User) {
	c.user = user
	c.authenticated = true
	c.cs.registry.Register(c)
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity reports when the connection last carried an inbound event.
func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(ev)
			if err != nil {
				c.log.Println("marshal event:", err)
				continue
			}

			if !c.writeFrame(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxEventSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.queueEvent(ErrInvalidEvent(-1))
			continue
		}

		c.touch()

		if !c.authenticated {
			// no event is accepted before a successful auth; a bad or
			// missing token terminates the connection
			if ev.Type != EventAuth || !c.cs.authenticate(c, &ev) {
				c.queueEvent(ErrUnauthorized(ev.Id))
				return
			}
			continue
		}

		c.cs.dispatch(c, &ev)
	}
}

// queueEvent pushes an event without blocking. A full queue is a
// delivery fault for this connection only.
func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
	default:
		c.log.Printf("client %s: %v: send queue full", c.id, ErrDeliveryFault)
		return false
	}

	return true
}

func (c *Client) writeFrame(msgType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write frame: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	if c.authenticated {
		c.cs.registry.Unregister(c)
	}
	c.cs.removeClient(c)
	c.stopClient()
}
