package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wavepoint/roomcast/internal/config"
	"github.com/wavepoint/roomcast/internal/domain"
	"github.com/wavepoint/roomcast/internal/hub"
	"github.com/wavepoint/roomcast/internal/room"
	"github.com/wavepoint/roomcast/pkg/log"
	"github.com/wavepoint/roomcast/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler is the upgrade layer in front of the room coordinator. It
// extracts the caller identity, performs the protocol upgrade, and
// wires the connection's frame and close events into the coordinator's
// entry points.
type WSHandler struct {
	coordinator *room.Coordinator
	wsCfg       config.WebSocketConfig
}

func NewWSHandler(c *room.Coordinator, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		coordinator: c,
		wsCfg:       wsCfg,
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity := domain.Identity{
		UserID:   r.URL.Query().Get("userId"),
		Username: r.URL.Query().Get("username"),
	}
	if !identity.Valid() {
		response.BadRequest(w, "userId and username are required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), conn, h.wsCfg)

	// The request context dies with this handler; session callbacks
	// outlive it.
	ctx := context.Background()

	sessionID, err := h.coordinator.Admit(ctx, identity, client)
	if err != nil {
		l := log.Ctx(r.Context())
		l.Warn().Err(err).Str(log.FieldUserID, identity.UserID).Msg("admission rejected")
		client.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(
		func(data []byte) { h.coordinator.OnInboundFrame(ctx, sessionID, data) },
		func() { h.coordinator.OnChannelClosed(ctx, sessionID) },
	)
}

// HandlePresence serves the freshly derived roster of live sessions.
func (h *WSHandler) HandlePresence(w http.ResponseWriter, r *http.Request) {
	response.Success(w, domain.NewPresencePayload(h.coordinator.Presence()))
}

func (h *WSHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/room/ws", h.HandleWebSocket)
	r.HandleFunc("/room/presence", h.HandlePresence).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
}
