package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/canvas-studio/engine/internal/api/apitest"
	"github.com/canvas-studio/engine/internal/graph"
	"github.com/canvas-studio/engine/internal/hub"
	"github.com/canvas-studio/engine/internal/models"
	"github.com/canvas-studio/engine/internal/services"
	"github.com/canvas-studio/engine/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Use(zap.NewNop())
	os.Exit(m.Run())
}

const waitFor = 2 * time.Second

func newWorkspace(t *testing.T, srv *apitest.Server) string {
	t.Helper()
	ws, err := srv.Workspaces.CreateWorkspace(context.Background(), &services.CreateWorkspaceInput{Name: "Pricing page"})
	require.NoError(t, err)
	return ws.ID
}

func connect(t *testing.T, srv *apitest.Server, wsID, user string) *Client {
	t.Helper()
	c := New(srv.URL, wsID, WithUserID(user), WithHTTPClient(srv.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Disconnect)
	return c
}

func presentIDs(c *Client) []string {
	out := []string{}
	for _, p := range c.Presence() {
		out = append(out, p.UserID)
	}
	return out
}

func TestConnectCapturesIdentity(t *testing.T) {
	srv := apitest.New(t)
	wsID := newWorkspace(t, srv)

	a := connect(t, srv, wsID, "alice")
	assert.True(t, a.Connected())
	assert.Equal(t, hub.IdentityFor("alice"), a.Self())
	assert.Equal(t, []string{"alice"}, presentIDs(a))

	b := connect(t, srv, wsID, "bob")
	assert.Equal(t, []string{"alice", "bob"}, presentIDs(b))
	require.Eventually(t, func() bool { return len(a.Presence()) == 2 }, waitFor, 10*time.Millisecond)
}

func TestConnectUnknownWorkspace(t *testing.T) {
	srv := apitest.New(t)
	c := New(srv.URL, "missing", WithHTTPClient(srv.Client()))
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.False(t, c.Connected())
}

func TestCursorAndActiveBlock(t *testing.T) {
	srv := apitest.New(t)
	wsID := newWorkspace(t, srv)
	a := connect(t, srv, wsID, "alice")
	b := connect(t, srv, wsID, "bob")

	var mu sync.Mutex
	var lastCursors map[string]Cursor
	a.On(EventCursors, func(v any) {
		mu.Lock()
		lastCursors = v.(map[string]Cursor)
		mu.Unlock()
	})

	ctx := context.Background()
	require.NoError(t, b.UpdateCursor(ctx, 10, 20))
	require.NoError(t, b.UpdateCursor(ctx, 30, 40))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		c, ok := lastCursors["bob"]
		return ok && c == Cursor{X: 30, Y: 40}
	}, waitFor, 10*time.Millisecond)
	assert.NotContains(t, b.Cursors(), "bob")

	block := "b-7"
	require.NoError(t, b.UpdateActiveBlock(ctx, &block))
	require.Eventually(t, func() bool {
		for _, p := range a.Presence() {
			if p.UserID == "bob" && p.ActiveBlockID != nil {
				return *p.ActiveBlockID == block
			}
		}
		return false
	}, waitFor, 10*time.Millisecond)
}

func TestBroadcastReachesPeersOnly(t *testing.T) {
	srv := apitest.New(t)
	wsID := newWorkspace(t, srv)
	a := connect(t, srv, wsID, "alice")
	b := connect(t, srv, wsID, "bob")

	got := make(chan hub.Message, 4)
	a.On(EventUpdate, func(v any) { got <- v.(hub.Message) })
	echo := make(chan hub.Message, 4)
	b.On(EventUpdate, func(v any) { echo <- v.(hub.Message) })

	require.NoError(t, b.BroadcastUpdate(context.Background(), map[string]string{"kind": "comment", "text": "ship it"}))

	select {
	case msg := <-got:
		assert.Equal(t, "bob", msg.UserID)
		assert.JSONEq(t, `{"kind":"comment","text":"ship it"}`, string(msg.Payload))
	case <-time.After(waitFor):
		t.Fatal("update not delivered")
	}
	select {
	case msg := <-echo:
		t.Fatalf("sender received its own update: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDisconnectAnnouncesLeave(t *testing.T) {
	srv := apitest.New(t)
	wsID := newWorkspace(t, srv)
	a := connect(t, srv, wsID, "alice")
	b := connect(t, srv, wsID, "bob")
	require.Eventually(t, func() bool { return len(a.Presence()) == 2 }, waitFor, 10*time.Millisecond)

	b.Disconnect()
	b.Disconnect()
	assert.False(t, b.Connected())
	assert.NoError(t, b.Err())

	require.Eventually(t, func() bool {
		ids := presentIDs(a)
		return len(ids) == 1 && ids[0] == "alice"
	}, waitFor, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"alice"}, srv.Hub.Members(wsID))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	c := New("http://unused", "ws")
	calls := 0
	off := c.On(EventUpdate, func(any) { calls++ })
	c.dispatch(hub.Message{Type: hub.TypeUpdate, UserID: "x", Payload: json.RawMessage(`{"kind":"other"}`)})
	off()
	off()
	c.dispatch(hub.Message{Type: hub.TypeUpdate, UserID: "x", Payload: json.RawMessage(`{"kind":"other"}`)})
	assert.Equal(t, 1, calls)
}

func TestSaveGraphNotifiesPeers(t *testing.T) {
	srv := apitest.New(t)
	wsID := newWorkspace(t, srv)
	a := connect(t, srv, wsID, "alice")
	b := connect(t, srv, wsID, "bob")

	saved := make(chan hub.GraphUpdate, 2)
	b.On(EventUpdate, func(v any) {
		var upd hub.GraphUpdate
		if json.Unmarshal(v.(hub.Message).Payload, &upd) == nil && upd.Kind == hub.KindGraphSaved {
			saved <- upd
		}
	})
	selfEcho := make(chan struct{}, 2)
	a.On(EventUpdate, func(any) { selfEcho <- struct{}{} })

	g := graph.Graph{Blocks: []models.Block{{
		ID: "b1", Title: "Annual discount",
		Type: models.BlockValueProp, Company: models.CompanyCore, Status: models.StatusDraft,
	}}}
	ctx := context.Background()
	require.NoError(t, a.SaveGraph(ctx, g))

	select {
	case upd := <-saved:
		require.Len(t, upd.Graph.Blocks, 1)
		assert.Equal(t, "Annual discount", upd.Graph.Blocks[0].Title)
	case <-time.After(waitFor):
		t.Fatal("peer did not hear about the save")
	}
	assert.Empty(t, selfEcho)

	loaded, err := b.LoadGraph(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Blocks, 1)
	assert.Equal(t, wsID, loaded.Blocks[0].WorkspaceID)
}

func TestSaveGraphSurfacesValidationErrors(t *testing.T) {
	srv := apitest.New(t)
	wsID := newWorkspace(t, srv)
	c := New(srv.URL, wsID, WithHTTPClient(srv.Client()))

	err := c.SaveGraph(context.Background(), graph.Graph{Blocks: []models.Block{{ID: ""}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestFrameReader(t *testing.T) {
	r := newFrameReader(strings.NewReader(": ping\n\nevent: message\ndata: {\"a\":1}\n\ndata: line1\ndata: line2\n\n"))
	f, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(f))
	f, err = r.next()
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", string(f))
	_, err = r.next()
	assert.Error(t, err)
}

func TestServerStreamIsUncompressed(t *testing.T) {
	srv := apitest.New(t)
	wsID := newWorkspace(t, srv)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/workspaces/"+wsID+"/stream?user_id=zed", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	first, err := newFrameReader(resp.Body).next()
	require.NoError(t, err)
	assert.Contains(t, string(first), `"connected"`)
}

func TestPresenceUpdatesNeedStream(t *testing.T) {
	c := New("http://unused", "ws")
	assert.ErrorIs(t, c.UpdateCursor(context.Background(), 1, 2), ErrNotConnected)
	assert.ErrorIs(t, c.UpdateActiveBlock(context.Background(), nil), ErrNotConnected)
}
