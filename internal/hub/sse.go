package hub

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// PrepareSSE writes the event-stream headers. It fails when the writer
// cannot flush, since buffered frames would never reach the client.
func PrepareSSE(w http.ResponseWriter) error {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := http.NewResponseController(w).Flush(); err != nil {
		return fmt.Errorf("streaming unsupported: %w", err)
	}
	return nil
}

// WriteSSE frames one message as `event: message\ndata: <json>\n\n`.
func WriteSSE(w http.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
		return err
	}
	return http.NewResponseController(w).Flush()
}

// ServeSSE pumps sink frames to w until ctx ends, the sink is closed, or a
// write fails. A heartbeat comment keeps intermediaries from timing out idle
// streams; heartbeat <= 0 disables it.
func ServeSSE(ctx context.Context, w http.ResponseWriter, sink *QueueSink, heartbeat time.Duration) error {
	rc := http.NewResponseController(w)
	// Streams outlive the server's WriteTimeout.
	_ = rc.SetWriteDeadline(time.Time{})

	var tick <-chan time.Time
	if heartbeat > 0 {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sink.Done():
			return nil
		case msg := <-sink.Messages():
			if err := WriteSSE(w, msg); err != nil {
				return err
			}
		case <-tick:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil {
				return err
			}
		}
	}
}
