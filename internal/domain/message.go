package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage kinds carried in the "type" field of broadcast events.
const (
	KindMessage = "message"
	KindJoin    = "join"
	KindLeave   = "leave"
)

// Envelope types for non-event payloads sent to clients.
const (
	TypeHistory  = "history"
	TypePresence = "presence"
)

// Identity is the caller identity handed over by the upgrade layer.
// The coordinator never trusts identity fields inside client frames.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Valid reports whether both identity fields are present.
func (i Identity) Valid() bool {
	return i.UserID != "" && i.Username != ""
}

// ChatMessage is a single immutable room event. Content is set only
// for KindMessage; join and leave events carry identity alone.
type ChatMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Content   string `json:"content,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewChatMessage mints an event with a fresh id and the current
// wall-clock time in Unix milliseconds.
func NewChatMessage(kind string, identity Identity, content string) ChatMessage {
	return ChatMessage{
		ID:        uuid.New().String(),
		Type:      kind,
		UserID:    identity.UserID,
		Username:  identity.Username,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}
