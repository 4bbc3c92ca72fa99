// Package hub adapts gorilla/websocket connections into the duplex
// channel the room coordinator consumes. Fan-out lives in the
// coordinator; a Client only pumps frames for one connection.
package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wavepoint/roomcast/internal/config"
	"github.com/wavepoint/roomcast/pkg/log"
)

const sendBufferSize = 256

type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	cfg  config.WebSocketConfig

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(id string, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		ID:   id,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Send queues one frame for delivery without blocking. A full buffer
// means the peer stopped draining; the error lets the coordinator log
// the delivery failure and leave the client to the close path.
func (c *Client) Send(data []byte) error {
	// Checked first on its own: a combined select would pick randomly
	// between a closed done channel and free buffer space, reporting
	// success onto a dead connection.
	select {
	case <-c.done:
		return fmt.Errorf("client %s: connection closed", c.ID)
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("client %s: send buffer full", c.ID)
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// ReadPump reads frames until the connection dies, forwarding each to
// onFrame. onClosed runs exactly once on the way out, for both clean
// closes and errors.
func (c *Client) ReadPump(onFrame func(data []byte), onClosed func()) {
	defer func() {
		c.Close()
		onClosed()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Warn().Str("client_id", c.ID).Err(err).Msg("websocket read error")
			}
			break
		}
		onFrame(message)
	}
}

// WritePump drains the send buffer onto the wire and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
