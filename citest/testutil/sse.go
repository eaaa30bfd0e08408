package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SSEEvent is one event read from /events. Data holds the whole JSON
// envelope: {"type": ..., "data": ...}.
type SSEEvent struct {
	Type string
	Data json.RawMessage
}

// Decode unmarshals the envelope's data field into v.
func (evt *SSEEvent) Decode(v any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(evt.Data, &envelope); err != nil {
		return err
	}
	return json.Unmarshal(envelope.Data, v)
}

// SessionEventData is the data of session.opened and session.closed.
type SessionEventData struct {
	ID       string `json:"id"`
	Listener string `json:"listener"`
}

// ExecutionEventData is the data of execution.started and execution.completed.
type ExecutionEventData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Command   string `json:"command"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

// SSEClient subscribes to a server's event stream.
type SSEClient struct {
	BaseURL string

	mu     sync.Mutex
	seen   []SSEEvent
	events chan SSEEvent
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSSEClient creates an unconnected SSE client.
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL: baseURL,
		events:  make(chan SSEEvent, 256),
		done:    make(chan struct{}),
	}
}

// Connect opens the stream at path, for example "/events?type=session.opened".
// It returns once the server has accepted the subscription.
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("connect %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("connect %s: status %d", path, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("connect %s: content type %q", path, ct)
	}

	go c.read(resp.Body)
	return nil
}

func (c *SSEClient) read(body io.ReadCloser) {
	defer close(c.done)
	defer close(c.events)
	defer body.Close()

	r := bufio.NewReader(body)
	var typ string
	var data strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if data.Len() > 0 {
				c.record(SSEEvent{Type: typ, Data: json.RawMessage(data.String())})
			}
			typ = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			typ = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func (c *SSEClient) record(evt SSEEvent) {
	c.mu.Lock()
	c.seen = append(c.seen, evt)
	c.mu.Unlock()
	select {
	case c.events <- evt:
	default:
	}
}

// WaitForEvent returns the next event of eventType, skipping others.
func (c *SSEClient) WaitForEvent(eventType string, timeout time.Duration) (*SSEEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.events:
			if !ok {
				return nil, fmt.Errorf("event stream closed")
			}
			if evt.Type == eventType {
				return &evt, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event: %s", eventType)
		}
	}
}

// CountEventType counts the events of eventType received so far.
func (c *SSEClient) CountEventType(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, evt := range c.seen {
		if evt.Type == eventType {
			n++
		}
	}
	return n
}

// Close ends the subscription and waits for the reader to stop.
func (c *SSEClient) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}
