package hub

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

// ServeWS pumps sink frames to a websocket as text messages until ctx ends,
// the sink is closed, the peer goes away, or a write fails. Inbound frames
// are discarded; they only serve to detect the peer closing.
func ServeWS(ctx context.Context, conn *websocket.Conn, sink *QueueSink) error {
	peerGone := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				peerGone <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return closeWS(conn)
		case <-sink.Done():
			return closeWS(conn)
		case <-peerGone:
			return nil
		case msg := <-sink.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		}
	}
}

func closeWS(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
