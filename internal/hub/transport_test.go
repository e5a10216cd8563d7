package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueSink(t *testing.T) {
	s := NewQueueSink(2)
	require.NoError(t, s.Send([]byte("1")))
	require.NoError(t, s.Send([]byte("2")))
	assert.ErrorIs(t, s.Send([]byte("3")), ErrSinkFull)

	assert.Equal(t, "1", string(<-s.Messages()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send([]byte("4")), ErrSinkClosed)
}

func TestServeSSEFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, PrepareSSE(rec))

	sink := NewQueueSink(4)
	require.NoError(t, sink.Send([]byte(`{"type":"join"}`)))
	require.NoError(t, sink.Send([]byte(`{"type":"leave"}`)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeSSE(ctx, rec, sink, 0) }()

	require.Eventually(t, func() bool { return len(sink.Messages()) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t,
		"event: message\ndata: {\"type\":\"join\"}\n\nevent: message\ndata: {\"type\":\"leave\"}\n\n",
		rec.Body.String())
}

func TestServeWS(t *testing.T) {
	sink := NewQueueSink(4)
	served := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			served <- err
			return
		}
		defer conn.Close()
		served <- ServeWS(r.Context(), conn, sink)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, sink.Send([]byte(`{"type":"update"}`)))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.JSONEq(t, `{"type":"update"}`, string(data))

	require.NoError(t, sink.Close())
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeWS did not return after sink close")
	}
}
