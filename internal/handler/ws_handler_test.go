package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavepoint/roomcast/internal/config"
	"github.com/wavepoint/roomcast/internal/domain"
	"github.com/wavepoint/roomcast/internal/handler"
	"github.com/wavepoint/roomcast/internal/room"
)

type memStore struct {
	mu        sync.Mutex
	history   []domain.ChatMessage
	wakeup    time.Time
	hasWakeup bool
}

func (s *memStore) LoadHistory(ctx context.Context) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage(nil), s.history...), nil
}

func (s *memStore) SaveHistory(ctx context.Context, messages []domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]domain.ChatMessage(nil), messages...)
	return nil
}

func (s *memStore) ScheduleWakeup(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakeup = at
	s.hasWakeup = true
	return nil
}

func (s *memStore) NextWakeup(ctx context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakeup, s.hasWakeup, nil
}

func (s *memStore) Close() error { return nil }

type noopWakeup struct{}

func (noopWakeup) Schedule(ctx context.Context, at time.Time) error { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.RoomConfig{
		HistoryLimit:     100,
		HistoryRetention: 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
	coordinator, err := room.NewCoordinator(context.Background(), &memStore{}, noopWakeup{}, cfg)
	require.NoError(t, err)

	wsCfg := config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
	}

	router := mux.NewRouter()
	handler.NewWSHandler(coordinator, wsCfg).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, userID, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/room/ws?userId=" + userID + "&username=" + username
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestWebSocket_JoinSequence(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "u1", "alice")

	history := readJSON(t, conn)
	assert.Equal(t, "history", history["type"])
	assert.Empty(t, history["messages"])

	join := readJSON(t, conn)
	assert.Equal(t, "join", join["type"])
	assert.Equal(t, "u1", join["userId"])
	assert.Equal(t, "alice", join["username"])

	presence := readJSON(t, conn)
	assert.Equal(t, "presence", presence["type"])
	users := presence["users"].([]any)
	require.Len(t, users, 1)
}

func TestWebSocket_MessageRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv, "u1", "alice")
	readJSON(t, alice) // history
	readJSON(t, alice) // own join
	readJSON(t, alice) // presence

	bob := dial(t, srv, "u2", "bob")
	bobHistory := readJSON(t, bob)
	assert.Equal(t, "history", bobHistory["type"])
	readJSON(t, bob) // own join
	readJSON(t, bob) // presence

	aliceSeesBob := readJSON(t, alice)
	assert.Equal(t, "join", aliceSeesBob["type"])
	assert.Equal(t, "u2", aliceSeesBob["userId"])

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","content":"hi"}`)))

	// The sender's own message round-trips through the same channel.
	echoed := readJSON(t, alice)
	assert.Equal(t, "message", echoed["type"])
	assert.Equal(t, "hi", echoed["content"])
	assert.Equal(t, "u1", echoed["userId"])

	received := readJSON(t, bob)
	assert.Equal(t, "message", received["type"])
	assert.Equal(t, "hi", received["content"])
	assert.Equal(t, "u1", received["userId"])
}

func TestWebSocket_LeaveBroadcast(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv, "u1", "alice")
	for i := 0; i < 3; i++ {
		readJSON(t, alice)
	}

	bob := dial(t, srv, "u2", "bob")
	for i := 0; i < 3; i++ {
		readJSON(t, bob)
	}
	readJSON(t, alice) // bob's join

	require.NoError(t, bob.Close())

	leave := readJSON(t, alice)
	assert.Equal(t, "leave", leave["type"])
	assert.Equal(t, "u2", leave["userId"])
}

func TestWebSocket_MissingIdentity(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/room/ws?username=alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPresenceEndpoint(t *testing.T) {
	srv := newTestServer(t)

	conn := dial(t, srv, "u1", "alice")
	for i := 0; i < 3; i++ {
		readJSON(t, conn)
	}

	resp, err := http.Get(srv.URL + "/room/presence")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Type  string            `json:"type"`
			Users []domain.Identity `json:"users"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "presence", body.Data.Type)
	require.Len(t, body.Data.Users, 1)
	assert.Equal(t, "u1", body.Data.Users[0].UserID)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
