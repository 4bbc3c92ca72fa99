package hub_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavepoint/roomcast/internal/config"
	"github.com/wavepoint/roomcast/internal/hub"
)

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
	}
}

// dialClient upgrades one connection through an httptest server and
// hands back the server-side hub.Client plus the raw peer connection.
func dialClient(t *testing.T) (*hub.Client, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	clientCh := make(chan *hub.Client, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		clientCh <- hub.NewClient("test-client", conn, testWSConfig())
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	select {
	case c := <-clientCh:
		t.Cleanup(func() { c.Close() })
		return c, peer
	case <-time.After(time.Second):
		t.Fatal("server never produced a client")
		return nil, nil
	}
}

func TestClient_SendReachesPeer(t *testing.T) {
	client, peer := dialClient(t)
	go client.WritePump()

	require.NoError(t, client.Send([]byte(`{"type":"history","messages":[]}`)))

	peer.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"history","messages":[]}`, string(data))
}

func TestClient_ReadPumpForwardsFrames(t *testing.T) {
	client, peer := dialClient(t)

	frames := make(chan []byte, 1)
	var closed atomic.Int32
	go client.ReadPump(
		func(data []byte) { frames <- data },
		func() { closed.Add(1) },
	)

	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","content":"hi"}`)))

	select {
	case data := <-frames:
		assert.JSONEq(t, `{"type":"message","content":"hi"}`, string(data))
	case <-time.After(time.Second):
		t.Fatal("frame never forwarded")
	}

	peer.Close()
	require.Eventually(t, func() bool { return closed.Load() == 1 }, time.Second, 10*time.Millisecond,
		"onClosed must run exactly once after the peer disconnects")
}

func TestClient_SendAfterClose(t *testing.T) {
	client, _ := dialClient(t)

	require.NoError(t, client.Close())
	assert.NoError(t, client.Close(), "closing twice is not an error")

	// Every send after close must fail, even with buffer room free;
	// none may report success onto the dead connection.
	for i := 0; i < 50; i++ {
		err := client.Send([]byte("late"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection closed")
	}
}

func TestClient_SendBufferFull(t *testing.T) {
	// No WritePump draining: the buffer eventually fills and Send
	// must report the failure instead of blocking.
	client, _ := dialClient(t)

	var err error
	for i := 0; i < 1000; i++ {
		if err = client.Send([]byte("x")); err != nil {
			break
		}
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send buffer full")
}
