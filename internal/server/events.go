package server

import (
	"net/http"
	"time"

	"github.com/chatwire/chatwire/internal/types"
)

// Event kinds accepted from and pushed to connections. The names are part
// of the wire protocol and must not change.
const (
	EventAuth             = "auth"
	EventRoomJoin         = "room:join"
	EventRoomLeave        = "room:leave"
	EventMessageSend      = "message:send"
	EventMessageNew       = "message:new"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
	EventPresenceUpdate   = "presence:update"
	EventReceiptRead      = "receipt:read"
	EventNotificationPush = "notification:push"
)

// ClientEvent is a single inbound frame. Id is a client-chosen
// correlation id echoed back on the matching response.
type ClientEvent struct {
	Type    string `json:"type"`
	Id      int    `json:"id,omitempty"`
	Token   string `json:"token,omitempty"`
	RoomId  string `json:"room_id,omitempty"`
	Payload string `json:"payload,omitempty"`
	SeqId   int    `json:"seq_id,omitempty"`
	Status  string `json:"status,omitempty"`
}

// ServerEvent is a single outbound frame: either a response to a
// correlated client event or one of the pushed event kinds.
type ServerEvent struct {
	Type      string               `json:"type,omitempty"`
	Id        int                  `json:"id,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
	RoomId    string               `json:"room_id,omitempty"`
	SeqId     int                  `json:"seq_id,omitempty"`
	SenderId  int                  `json:"sender_id,omitempty"`
	UserId    int                  `json:"user_id,omitempty"`
	Payload   string               `json:"payload,omitempty"`
	Status    types.PresenceStatus `json:"status,omitempty"`
	Response  *Response            `json:"response,omitempty"`

	// SkipConn excludes a single connection from a fan-out.
	SkipConn *Client `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

func NoErrOK(id int, data map[string]any) *ServerEvent {
	return &ServerEvent{
		Id:        id,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int, data map[string]any) *ServerEvent {
	return &ServerEvent{
		Id:        id,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusAccepted,
			Data:         data,
		},
	}
}

func ErrUnauthorized(id int) *ServerEvent {
	return &ServerEvent{
		Id:        id,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusUnauthorized,
			Error:        "authentication failure",
		},
	}
}

func ErrEventForbidden(id int) *ServerEvent {
	return &ServerEvent{
		Id:        id,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "not a member of room",
		},
	}
}

func ErrRoomNotFound(id int) *ServerEvent {
	return &ServerEvent{
		Id:        id,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

// ErrUnconfirmedDelivery tells the sender the store did not confirm the
// message; it was not delivered to anyone.
func ErrUnconfirmedDelivery(id int) *ServerEvent {
	return &ServerEvent{
		Id:        id,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "message delivery unconfirmed",
		},
	}
}

func ErrInternalError(id int) *ServerEvent {
	return &ServerEvent{
		Id:        id,
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrInvalidEvent(id int) *ServerEvent {
	ev := &ServerEvent{
		Timestamp: Now(),
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid event",
		},
	}

	if id > 0 {
		ev.Id = id
	}
	return ev
}
