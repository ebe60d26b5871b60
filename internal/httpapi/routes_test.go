package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/matchmaking-server/internal/auth"
	"github.com/DoyleJ11/matchmaking-server/internal/hub"
	"github.com/DoyleJ11/matchmaking-server/internal/lobby"
	"github.com/DoyleJ11/matchmaking-server/internal/store"
	"github.com/DoyleJ11/matchmaking-server/internal/types"
	"github.com/DoyleJ11/matchmaking-server/internal/ws"
)

func newRouter(t *testing.T) (http.Handler, *auth.Verifier, *store.Memory, *hub.Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mem := store.NewMemory(store.User{ID: "alice", Username: "Alice", Rating: 1000})
	lb := lobby.NewLobby(ctx)
	h := hub.NewHub(200, hub.Deps{Store: mem, Transport: lb})
	v := auth.NewVerifier("test-secret")

	return SetupRoutes(ws.Deps{
		Hub:   h,
		Lobby: lb,
		Auth:  ws.Authenticator{Verifier: v, Store: mem, DefaultRating: 1200},
	}), v, mem, h
}

func TestHealthz(t *testing.T) {
	r, _, _, _ := newRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateRoom(t *testing.T) {
	r, v, mem, h := newRouter(t)

	token, err := v.Sign(auth.Claims{UserID: "alice", Username: "Alice"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		GameID string `json:"gameId"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotEmpty(t, body.GameID)

	got, err := mem.FindGame(context.Background(), body.GameID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWaitingForPlayers, got.Status)
	assert.Equal(t, "alice", got.WhitePlayerID)
	assert.Equal(t, 1, h.Stats().Games)
}

func TestCreateRoom_RequiresToken(t *testing.T) {
	r, _, mem, _ := newRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, mem.Games())
}

func TestStats(t *testing.T) {
	r, _, _, h := newRouter(t)
	h.Connect(hub.User{ID: "alice", Rating: 1000})
	require.NoError(t, h.RequestPlay(context.Background(), hub.User{ID: "alice", Rating: 1000}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got hub.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, hub.Stats{Connected: 1, Queued: 1, Games: 1}, got)
}

func TestUnknownRoute(t *testing.T) {
	r, _, _, _ := newRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/rooms", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
