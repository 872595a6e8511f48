package server

import (
	"log"

	"github.com/chatwire/chatwire/internal/stats"
)

const notifyQueueDepth = 256

// Notifier is the external push/notification collaborator. Push is
// best-effort: the core never retries and never blocks a send on it.
type Notifier interface {
	Push(n Notification) error
}

// Notification is the summarized event handed to the push collaborator
// for a room member with no live connection at fan-out time.
type Notification struct {
	UserId  int    `json:"user_id"`
	RoomId  string `json:"room_id"`
	SeqId   int    `json:"seq_id"`
	Summary string `json:"summary"`
}

// NotificationDispatcher decouples fan-out misses from the push
// collaborator behind a bounded queue and a single worker.
type NotificationDispatcher struct {
	notifier Notifier
	queue    chan Notification
	stats    stats.Provider
	log      *log.Logger
	done     chan struct{}
}

func NewNotificationDispatcher(logger *log.Logger, notifier Notifier, su stats.Provider) *NotificationDispatcher {
	return &NotificationDispatcher{
		notifier: notifier,
		queue:    make(chan Notification, notifyQueueDepth),
		stats:    su,
		log:      logger,
		done:     make(chan struct{}),
	}
}

// Notify enqueues without blocking; when the queue is full the
// notification is dropped, never the originating send.
func (nd *NotificationDispatcher) Notify(n Notification) {
	select {
	case nd.queue <- n:
	default:
		nd.log.Printf("notification queue full, dropping push for user %d", n.UserId)
	}
}

func (nd *NotificationDispatcher) Run() {
	defer close(nd.done)

	for n := range nd.queue {
		if err := nd.notifier.Push(n); err != nil {
			nd.log.Printf("push notification for user %d: %v", n.UserId, err)
			continue
		}

		nd.stats.Incr(stats.NotificationsPushed)
	}
}

func (nd *NotificationDispatcher) Stop() {
	close(nd.queue)
	<-nd.done
}
