package domain

// Client -> Server frames

// ClientFrame is the only inbound payload the coordinator accepts.
// Anything that fails to parse into this shape, or carries a type
// other than "message", or has empty content, is dropped.
type ClientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Server -> Client payloads

// HistoryPayload replays the retained message sequence to a newly
// admitted session as a single batch.
type HistoryPayload struct {
	Type     string        `json:"type"`
	Messages []ChatMessage `json:"messages"`
}

// PresencePayload is the roster of currently live sessions. Multiple
// sessions for the same user appear once per session, not merged.
type PresencePayload struct {
	Type  string     `json:"type"`
	Users []Identity `json:"users"`
}

func NewHistoryPayload(messages []ChatMessage) *HistoryPayload {
	if messages == nil {
		messages = []ChatMessage{}
	}
	return &HistoryPayload{Type: TypeHistory, Messages: messages}
}

func NewPresencePayload(users []Identity) *PresencePayload {
	if users == nil {
		users = []Identity{}
	}
	return &PresencePayload{Type: TypePresence, Users: users}
}
