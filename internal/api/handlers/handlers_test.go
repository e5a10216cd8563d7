package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/canvas-studio/engine/internal/api/types"
	"github.com/canvas-studio/engine/internal/graph"
	"github.com/canvas-studio/engine/internal/hub"
	"github.com/canvas-studio/engine/internal/models"
	"github.com/canvas-studio/engine/internal/reconcile"
	"github.com/canvas-studio/engine/internal/services"
	"github.com/canvas-studio/engine/internal/snapshots"
	appErr "github.com/canvas-studio/engine/pkg/errors"
	"github.com/canvas-studio/engine/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Use(zap.NewNop())
	os.Exit(m.Run())
}

type mockWorkspaceService struct {
	mock.Mock
}

func (m *mockWorkspaceService) CreateWorkspace(ctx context.Context, in *services.CreateWorkspaceInput) (*models.Workspace, error) {
	args := m.Called(ctx, in)
	ws, _ := args.Get(0).(*models.Workspace)
	return ws, args.Error(1)
}

func (m *mockWorkspaceService) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	args := m.Called(ctx, id)
	ws, _ := args.Get(0).(*models.Workspace)
	return ws, args.Error(1)
}

func (m *mockWorkspaceService) ListWorkspaces(ctx context.Context, ownerID string) ([]models.Workspace, error) {
	args := m.Called(ctx, ownerID)
	items, _ := args.Get(0).([]models.Workspace)
	return items, args.Error(1)
}

func (m *mockWorkspaceService) DeleteWorkspace(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockWorkspaceService) LoadGraph(ctx context.Context, id string) (graph.Graph, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(graph.Graph), args.Error(1)
}

func (m *mockWorkspaceService) SyncGraph(ctx context.Context, id string, g graph.Graph) (*services.SyncResult, error) {
	args := m.Called(ctx, id, g)
	res, _ := args.Get(0).(*services.SyncResult)
	return res, args.Error(1)
}

func (m *mockWorkspaceService) CreateConnection(ctx context.Context, id string, in *services.CreateConnectionInput) (*models.Connection, error) {
	args := m.Called(ctx, id, in)
	c, _ := args.Get(0).(*models.Connection)
	return c, args.Error(1)
}

type mockSnapshotService struct {
	mock.Mock
}

func (m *mockSnapshotService) CreateSnapshot(ctx context.Context, ws string, in *services.CreateSnapshotInput) (*models.VersionSnapshot, error) {
	args := m.Called(ctx, ws, in)
	s, _ := args.Get(0).(*models.VersionSnapshot)
	return s, args.Error(1)
}

func (m *mockSnapshotService) ListSnapshots(ctx context.Context, ws string) ([]models.VersionSnapshot, error) {
	args := m.Called(ctx, ws)
	items, _ := args.Get(0).([]models.VersionSnapshot)
	return items, args.Error(1)
}

func (m *mockSnapshotService) GetSnapshot(ctx context.Context, ws, id string) (*models.VersionSnapshot, error) {
	args := m.Called(ctx, ws, id)
	s, _ := args.Get(0).(*models.VersionSnapshot)
	return s, args.Error(1)
}

func (m *mockSnapshotService) RestoreSnapshot(ctx context.Context, ws, id string) (*services.RestoreResult, error) {
	args := m.Called(ctx, ws, id)
	r, _ := args.Get(0).(*services.RestoreResult)
	return r, args.Error(1)
}

func (m *mockSnapshotService) DeleteSnapshot(ctx context.Context, ws, id string) (bool, error) {
	args := m.Called(ctx, ws, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockSnapshotService) CompareSnapshots(ctx context.Context, ws, a, b string) (snapshots.Comparison, error) {
	args := m.Called(ctx, ws, a, b)
	return args.Get(0).(snapshots.Comparison), args.Error(1)
}

// recordingSink collects hub frames published to a subscriber.
type recordingSink struct {
	frames []hub.Message
}

func (s *recordingSink) Send(raw []byte) error {
	var m hub.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	s.frames = append(s.frames, m)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func routes(ws *WorkspacesHandler, sn *SnapshotsHandler, st *StreamHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/workspaces", func(r chi.Router) {
		if ws != nil {
			r.Post("/", ws.Create)
			r.Get("/{id}", ws.Get)
			r.Delete("/{id}", ws.Delete)
			r.Put("/{id}/graph", ws.SaveGraph)
			r.Post("/{id}/connections", ws.CreateConnection)
		}
		if sn != nil {
			r.Get("/{id}/snapshots/compare", sn.Compare)
			r.Post("/{id}/snapshots", sn.Create)
			r.Post("/{id}/snapshots/{sid}/restore", sn.Restore)
			r.Delete("/{id}/snapshots/{sid}", sn.Delete)
		}
		if st != nil {
			r.Post("/{id}/broadcast", st.Broadcast)
			r.Get("/{id}/presence", st.Presence)
		}
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) (*httptest.ResponseRecorder, types.APIResponse) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env types.APIResponse
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	}
	return rr, env
}

func TestCreateWorkspace(t *testing.T) {
	svc := &mockWorkspaceService{}
	h := routes(NewWorkspacesHandler(svc, nil), nil, nil)

	svc.On("CreateWorkspace", mock.Anything, &services.CreateWorkspaceInput{Name: "Roadmap"}).
		Return(&models.Workspace{ID: "ws-1", Name: "Roadmap"}, nil).Once()

	rr, env := do(t, h, http.MethodPost, "/workspaces/", `{"name":"Roadmap"}`)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "ws-1", env.Data.(map[string]any)["id"])

	rr, env = do(t, h, http.MethodPost, "/workspaces/", `{"description":"no name"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid", env.Error.Code)
	assert.Equal(t, []any{"Name"}, env.Error.Meta["fields"])

	rr, _ = do(t, h, http.MethodPost, "/workspaces/", `{`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	svc.AssertExpectations(t)
}

func TestErrorCodesMapToStatus(t *testing.T) {
	svc := &mockWorkspaceService{}
	h := routes(NewWorkspacesHandler(svc, nil), nil, nil)

	svc.On("GetWorkspace", mock.Anything, "missing").Return(nil, appErr.New(appErr.CodeNotFound, "workspace not found"))
	svc.On("DeleteWorkspace", mock.Anything, "ws-1").Return(nil)

	rr, env := do(t, h, http.MethodGet, "/workspaces/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", env.Error.Code)

	rr, _ = do(t, h, http.MethodDelete, "/workspaces/ws-1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestSaveGraphAnnouncesChange(t *testing.T) {
	svc := &mockWorkspaceService{}
	hb := hub.New()
	peer := &recordingSink{}
	author := &recordingSink{}
	hb.Register("ws-1", "peer", peer)
	hb.Register("ws-1", "author", author)
	h := routes(NewWorkspacesHandler(svc, hb), nil, nil)

	stored := graph.Graph{Blocks: []models.Block{{ID: "b1", Title: "Churn"}}, Viewport: models.DefaultViewport()}
	svc.On("SyncGraph", mock.Anything, "ws-1", mock.AnythingOfType("graph.Graph")).
		Return(&services.SyncResult{Blocks: reconcile.Result{Created: 1}, Changed: true}, nil).Once()
	svc.On("LoadGraph", mock.Anything, "ws-1").Return(stored, nil).Once()

	rr, env := do(t, h, http.MethodPut, "/workspaces/ws-1/graph", `{"blocks":[{"id":"b1","title":"Churn"}]}`,
		types.UserIDHeader, "author")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, env.Data.(map[string]any)["changed"])

	assert.Empty(t, author.frames)
	require.Len(t, peer.frames, 1)
	assert.Equal(t, hub.TypeUpdate, peer.frames[0].Type)
	var upd hub.GraphUpdate
	require.NoError(t, json.Unmarshal(peer.frames[0].Payload, &upd))
	assert.Equal(t, hub.KindGraphSaved, upd.Kind)
	require.Len(t, upd.Graph.Blocks, 1)
	assert.Equal(t, "Churn", upd.Graph.Blocks[0].Title)

	// Nothing changed: nothing announced.
	svc.On("SyncGraph", mock.Anything, "ws-1", mock.AnythingOfType("graph.Graph")).
		Return(&services.SyncResult{}, nil).Once()
	rr, _ = do(t, h, http.MethodPut, "/workspaces/ws-1/graph", `{"blocks":[{"id":"b1","title":"Churn"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, peer.frames, 1)

	svc.AssertExpectations(t)
}

func TestCreateConnectionConflict(t *testing.T) {
	svc := &mockWorkspaceService{}
	h := routes(NewWorkspacesHandler(svc, nil), nil, nil)

	svc.On("CreateConnection", mock.Anything, "ws-1", mock.MatchedBy(func(in *services.CreateConnectionInput) bool {
		return in.SourceID == "b1" && in.TargetID == "b2" && in.Type == models.RelSolves
	})).Return(nil, appErr.New(appErr.CodeConflict, "connection already exists")).Once()

	rr, env := do(t, h, http.MethodPost, "/workspaces/ws-1/connections",
		`{"source_id":"b1","target_id":"b2","type":"solves"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "conflict", env.Error.Code)

	rr, _ = do(t, h, http.MethodPost, "/workspaces/ws-1/connections",
		`{"source_id":"b1","target_id":"b2","type":"befriends"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	svc.AssertExpectations(t)
}

func TestSnapshotEndpoints(t *testing.T) {
	svc := &mockSnapshotService{}
	hb := hub.New()
	peer := &recordingSink{}
	hb.Register("ws-1", "peer", peer)
	h := routes(nil, NewSnapshotsHandler(svc, hb), nil)

	t.Run("create is manual", func(t *testing.T) {
		svc.On("CreateSnapshot", mock.Anything, "ws-1", &services.CreateSnapshotInput{Label: "v1", Trigger: snapshots.TriggerManual}).
			Return(&models.VersionSnapshot{ID: "s1", Label: "v1"}, nil).Once()
		rr, _ := do(t, h, http.MethodPost, "/workspaces/ws-1/snapshots", `{"label":"v1"}`)
		assert.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("compare needs both ids", func(t *testing.T) {
		rr, _ := do(t, h, http.MethodGet, "/workspaces/ws-1/snapshots/compare?a=s1", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		svc.On("CompareSnapshots", mock.Anything, "ws-1", "s1", "s2").
			Return(snapshots.Comparison{BlockDelta: 2, NetDelta: 2}, nil).Once()
		rr, env := do(t, h, http.MethodGet, "/workspaces/ws-1/snapshots/compare?a=s1&b=s2", "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.EqualValues(t, 2, env.Data.(map[string]any)["block_delta"])
	})

	t.Run("deleting the last snapshot conflicts", func(t *testing.T) {
		svc.On("DeleteSnapshot", mock.Anything, "ws-1", "s1").Return(false, nil).Once()
		rr, env := do(t, h, http.MethodDelete, "/workspaces/ws-1/snapshots/s1", "")
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "conflict", env.Error.Code)

		svc.On("DeleteSnapshot", mock.Anything, "ws-1", "s2").Return(true, nil).Once()
		rr, _ = do(t, h, http.MethodDelete, "/workspaces/ws-1/snapshots/s2", "")
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("restore announces the graph", func(t *testing.T) {
		restored := graph.Graph{Blocks: []models.Block{{ID: "b1"}}}
		svc.On("RestoreSnapshot", mock.Anything, "ws-1", "s1").
			Return(&services.RestoreResult{Graph: restored, Backup: &models.VersionSnapshot{ID: "s3"}}, nil).Once()
		rr, _ := do(t, h, http.MethodPost, "/workspaces/ws-1/snapshots/s1/restore", "")
		assert.Equal(t, http.StatusOK, rr.Code)

		require.Len(t, peer.frames, 1)
		var upd hub.GraphUpdate
		require.NoError(t, json.Unmarshal(peer.frames[0].Payload, &upd))
		assert.Equal(t, hub.KindSnapshotRestored, upd.Kind)
		assert.Equal(t, "s1", upd.SnapshotID)
	})

	svc.AssertExpectations(t)
}

func TestBroadcastExcludesSender(t *testing.T) {
	hb := hub.New()
	a, b := &recordingSink{}, &recordingSink{}
	hb.Register("ws-1", "A", a)
	hb.Register("ws-1", "B", b)
	h := routes(nil, nil, NewStreamHandler(hb, &mockWorkspaceService{}, 0))

	rr, env := do(t, h, http.MethodPost, "/workspaces/ws-1/broadcast", `{"user_id":"A","payload":{"kind":"cursor","x":1,"y":2}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, env.Data.(map[string]any)["delivered"])
	assert.Empty(t, a.frames)
	require.Len(t, b.frames, 1)
	assert.Equal(t, "A", b.frames[0].UserID)
	assert.JSONEq(t, `{"kind":"cursor","x":1,"y":2}`, string(b.frames[0].Payload))

	rr, _ = do(t, h, http.MethodPost, "/workspaces/ws-1/broadcast", `{"payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPresenceListsIdentities(t *testing.T) {
	hb := hub.New()
	hb.Register("ws-1", "B", &recordingSink{})
	hb.Register("ws-1", "A", &recordingSink{})
	h := routes(nil, nil, NewStreamHandler(hb, &mockWorkspaceService{}, 0))

	rr, env := do(t, h, http.MethodGet, "/workspaces/ws-1/presence", "")
	require.Equal(t, http.StatusOK, rr.Code)
	ids := env.Data.([]any)
	require.Len(t, ids, 2)
	assert.Equal(t, "A", ids[0].(map[string]any)["userId"])
	assert.Equal(t, hub.IdentityFor("B").DisplayName, ids[1].(map[string]any)["displayName"])
	assert.EqualValues(t, 2, env.Meta.Total)
}
