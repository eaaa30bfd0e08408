package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/telnet2/shelld/internal/event"
)

// SSEHeartbeatInterval is the interval for SSE heartbeats.
var SSEHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeEvent writes one SSE event and flushes it.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// events streams service events (GET /events). ?type= limits the stream
// to one event type.
func (h *HTTPListener) events(w http.ResponseWriter, r *http.Request) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	events := make(chan event.Event, 32)
	filter := event.EventType(r.URL.Query().Get("type"))
	unsub := h.bus.SubscribeAll(func(e event.Event) {
		if filter != "" && e.Type != filter {
			return
		}
		select {
		case events <- e:
		default:
			h.log.Warn().Str("eventType", string(e.Type)).Msg("SSE event dropped: channel full")
		}
	})
	defer unsub()

	// subscribed before the headers go out, so a client that saw the
	// response misses nothing published afterwards
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent(string(e.Type), e); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
