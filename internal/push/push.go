// Package push provides thin sinks for the notification collaborator.
// The core only ever sees the server.Notifier contract.
package push

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/chatwire/chatwire/internal/server"
)

const pushTimeout = 5 * time.Second

// WebhookSink POSTs each notification summary to a configured endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
	log    *log.Logger
}

func NewWebhookSink(logger *log.Logger, url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: pushTimeout},
		log:    logger,
	}
}

func (ws *WebhookSink) Push(n server.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	resp, err := ws.client.Post(ws.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}

	return nil
}

// LogSink is the default sink when no webhook is configured.
type LogSink struct {
	log *log.Logger
}

func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{log: logger}
}

func (ls *LogSink) Push(n server.Notification) error {
	ls.log.Printf("notification:push user=%d room=%s seq=%d", n.UserId, n.RoomId, n.SeqId)
	return nil
}
