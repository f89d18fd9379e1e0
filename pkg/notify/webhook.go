package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message is the hand-off to the notification collaborator. A webhook 2xx for a
// proposal counts as delivery; other senders report back through the
// message-sent endpoint.
type Message struct {
	AssignmentID   string `json:"assignmentId"`
	SlotID         string `json:"slotId"`
	InstructorID   string `json:"instructorId"`
	Classification string `json:"classification"`
	State          string `json:"state"`
	Event          string `json:"event"`
}

// Sender delivers messages to the collaborator.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookSender posts messages as JSON to a collaborator endpoint.
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender builds a sender with the given request timeout.
func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{url: url, client: &http.Client{Timeout: timeout}}
}

// Send posts msg. Any non-2xx answer is an error so the queue retries it.
func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// LogSender discards messages through a callback; used when no webhook is configured.
type LogSender func(msg Message)

// Send implements Sender.
func (f LogSender) Send(_ context.Context, msg Message) error {
	f(msg)
	return nil
}
