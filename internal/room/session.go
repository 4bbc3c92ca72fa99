package room

import (
	"github.com/wavepoint/roomcast/internal/domain"
)

// Conn is the duplex channel a session owns. The websocket layer
// implements it; tests substitute scripted fakes.
type Conn interface {
	// Send queues one text frame for delivery. It must not block.
	Send(data []byte) error
	// Close tears the channel down. Closing an already-closed channel
	// is an expected race and callers ignore the error.
	Close() error
}

// Session binds a live connection to a caller identity. Sessions are
// keyed by a monotonically assigned id rather than object identity so
// broadcast and presence enumerate in a deterministic order. The same
// user may hold several concurrent sessions, one per tab or device.
type Session struct {
	ID       uint64
	Identity domain.Identity

	conn Conn
	// announced is set once this session's leave event has been
	// broadcast, so the close/error path never announces it twice.
	announced bool
}
