package room

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/wavepoint/roomcast/internal/audit"
	"github.com/wavepoint/roomcast/internal/config"
	"github.com/wavepoint/roomcast/internal/domain"
	"github.com/wavepoint/roomcast/internal/store"
	"github.com/wavepoint/roomcast/pkg/log"
)

// Wakeup schedules the coordinator's next cleanup firing. At most one
// wakeup is pending at a time; scheduling replaces the previous one.
type Wakeup interface {
	Schedule(ctx context.Context, at time.Time) error
}

// Coordinator is the single authority for one room: it owns the live
// session set and the bounded message history, fans events out to
// every session, and prunes stale history when the wakeup timer fires.
//
// All session and history mutations run under one mutex. Eviction,
// broadcast membership, and the convergence of the in-memory history
// with the persisted snapshot all depend on that serialization.
type Coordinator struct {
	store  store.DurableStore
	wakeup Wakeup
	cfg    config.RoomConfig

	mu       sync.Mutex
	sessions map[uint64]*Session
	nextID   uint64
	history  []domain.ChatMessage
}

// NewCoordinator restores the persisted history before the room serves
// anything. A store failure here is fatal: serving against silently
// lost history is a correctness violation, not a degraded mode. The
// first cleanup wakeup is armed if no wakeup survived a previous
// process life.
func NewCoordinator(ctx context.Context, st store.DurableStore, wakeup Wakeup, cfg config.RoomConfig) (*Coordinator, error) {
	history, err := st.LoadHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore history: %w", err)
	}

	c := &Coordinator{
		store:    st,
		wakeup:   wakeup,
		cfg:      cfg,
		sessions: make(map[uint64]*Session),
		history:  history,
	}

	_, pending, err := st.NextWakeup(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending wakeup: %w", err)
	}
	if !pending {
		if err := wakeup.Schedule(ctx, time.Now().Add(cfg.CleanupInterval)); err != nil {
			return nil, fmt.Errorf("failed to arm cleanup wakeup: %w", err)
		}
	}

	l := log.Ctx(ctx)
	l.Info().Int("restored_messages", len(history)).Msg("room coordinator ready")
	return c, nil
}

// Admit registers a new session for the given identity and channel.
//
// The new session is sent the full history as one batch, then every
// live session (itself included) receives the join event, then the
// new session alone receives the presence roster. That ordering is an
// observable contract: a joining client sees history, watches its own
// join arrive through the stream, and only then learns the roster.
func (c *Coordinator) Admit(ctx context.Context, identity domain.Identity, conn Conn) (uint64, error) {
	if !identity.Valid() {
		return 0, domain.ErrInvalidRequest
	}
	if conn == nil {
		return 0, domain.ErrUnsupportedProtocol
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	sess := &Session{ID: c.nextID, Identity: identity, conn: conn}
	c.sessions[sess.ID] = sess

	c.sendTo(ctx, sess, domain.NewHistoryPayload(slices.Clone(c.history)))
	c.broadcastLocked(ctx, domain.NewChatMessage(domain.KindJoin, identity, ""))
	c.sendTo(ctx, sess, domain.NewPresencePayload(c.presenceLocked()))

	audit.Log(ctx, audit.ActionJoin, identity.UserID, "session admitted")
	l := log.Ctx(ctx)
	l.Info().
		Uint64(log.FieldSessionID, sess.ID).
		Str(log.FieldUserID, identity.UserID).
		Str(log.FieldUsername, identity.Username).
		Int("live_sessions", len(c.sessions)).
		Msg("session joined")

	return sess.ID, nil
}

// OnInboundFrame handles one text frame from a live session's channel.
// Malformed input is dropped without any client-visible effect; the
// sender's identity always comes from the session, never the frame.
func (c *Coordinator) OnInboundFrame(ctx context.Context, sessionID uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		// Frame raced with the session's removal.
		return
	}

	var frame domain.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		l := log.Ctx(ctx)
		l.Debug().Uint64(log.FieldSessionID, sessionID).Err(err).Msg("dropped unparseable frame")
		return
	}
	if frame.Type != domain.KindMessage || frame.Content == "" {
		l := log.Ctx(ctx)
		l.Debug().Uint64(log.FieldSessionID, sessionID).Str("frame_type", frame.Type).Msg("dropped invalid frame")
		return
	}

	msg := domain.NewChatMessage(domain.KindMessage, sess.Identity, frame.Content)

	c.history = append(c.history, msg)
	if excess := len(c.history) - c.cfg.HistoryLimit; excess > 0 {
		c.history = slices.Clone(c.history[excess:])
	}
	c.persistLocked(ctx)
	c.broadcastLocked(ctx, msg)

	audit.Log(ctx, audit.ActionMessage, sess.Identity.UserID, "message broadcast")
}

// OnChannelClosed removes the session after its channel closed or
// errored; both routes land here. Removal is idempotent: a second
// invocation for the same session is a no-op and broadcasts nothing.
func (c *Coordinator) OnChannelClosed(ctx context.Context, sessionID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		return
	}
	c.removeLocked(ctx, sess)
}

// Disconnect tears a session down intentionally: the leave event is
// announced first, then the channel is closed. The close event that
// follows removes the session without announcing it a second time.
func (c *Coordinator) Disconnect(ctx context.Context, sessionID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok || sess.announced {
		return
	}
	sess.announced = true
	c.broadcastLocked(ctx, domain.NewChatMessage(domain.KindLeave, sess.Identity, ""))
	_ = sess.conn.Close()
}

// OnTimerFire prunes history entries older than the retention window,
// persists the filtered snapshot, and unconditionally re-arms the next
// firing. A missed reschedule would silently disable cleanup for the
// room's remaining lifetime, so re-arming does not depend on the
// persist having succeeded.
func (c *Coordinator) OnTimerFire(ctx context.Context, now time.Time) {
	c.mu.Lock()
	cutoff := now.Add(-c.cfg.HistoryRetention).UnixMilli()
	retained := make([]domain.ChatMessage, 0, len(c.history))
	for _, m := range c.history {
		if m.Timestamp > cutoff {
			retained = append(retained, m)
		}
	}
	pruned := len(c.history) - len(retained)
	c.history = retained
	c.persistLocked(ctx)
	c.mu.Unlock()

	if err := c.wakeup.Schedule(ctx, now.Add(c.cfg.CleanupInterval)); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to reschedule cleanup wakeup")
	}

	audit.LogWithDetail(ctx, audit.ActionCleanup, "", strconv.Itoa(pruned), "history cleanup ran")
	l := log.Ctx(ctx)
	l.Info().Int("pruned", pruned).Int("retained", len(retained)).Msg("history cleanup completed")
}

// Presence derives the roster from the live session set at call time.
// Nothing is cached; membership changes too often for a snapshot to
// stay honest. Duplicate userIds are kept, one entry per session.
func (c *Coordinator) Presence() []domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presenceLocked()
}

// HistoryLen reports the current number of retained messages.
func (c *Coordinator) HistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// Close tears down every live session and persists a final history
// snapshot. Used on graceful shutdown; no leave events are broadcast
// since every recipient is going away with them.
func (c *Coordinator) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range c.sessionIDsLocked() {
		_ = c.sessions[id].conn.Close()
		delete(c.sessions, id)
	}
	c.persistLocked(ctx)

	l := log.Ctx(ctx)
	l.Info().Msg("room coordinator closed")
}

// removeLocked is the single teardown path for both intentional
// disconnects and channel close/error events.
func (c *Coordinator) removeLocked(ctx context.Context, sess *Session) {
	delete(c.sessions, sess.ID)

	if !sess.announced {
		sess.announced = true
		c.broadcastLocked(ctx, domain.NewChatMessage(domain.KindLeave, sess.Identity, ""))
	}

	// Already-closed is an expected race with the peer, not a fault.
	_ = sess.conn.Close()

	audit.Log(ctx, audit.ActionLeave, sess.Identity.UserID, "session removed")
	l := log.Ctx(ctx)
	l.Info().
		Uint64(log.FieldSessionID, sess.ID).
		Str(log.FieldUserID, sess.Identity.UserID).
		Int("live_sessions", len(c.sessions)).
		Msg("session left")
}

// broadcastLocked serializes the event once and delivers it to every
// live session. Delivery is best-effort per recipient: one failing
// channel is logged and left for the close/error path to reap, and
// never stops delivery to the rest.
func (c *Coordinator) broadcastLocked(ctx context.Context, msg domain.ChatMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to encode broadcast")
		return
	}

	for _, id := range c.sessionIDsLocked() {
		sess := c.sessions[id]
		if err := sess.conn.Send(data); err != nil {
			l := log.Ctx(ctx)
			l.Warn().
				Uint64(log.FieldSessionID, sess.ID).
				Str(log.FieldMessageID, msg.ID).
				Err(err).
				Msg("broadcast delivery failed")
		}
	}
}

// sendTo delivers a non-event payload to a single session.
func (c *Coordinator) sendTo(ctx context.Context, sess *Session, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to encode payload")
		return
	}
	if err := sess.conn.Send(data); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Uint64(log.FieldSessionID, sess.ID).Err(err).Msg("payload delivery failed")
	}
}

// persistLocked mirrors the in-memory history to the durable store.
// The in-memory copy stays the source of truth for broadcast; a
// failed put is logged loudly and the next mutation re-persists the
// full snapshot anyway.
func (c *Coordinator) persistLocked(ctx context.Context) {
	if err := c.store.SaveHistory(ctx, c.history); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Int("messages", len(c.history)).Msg("failed to persist history")
	}
}

func (c *Coordinator) presenceLocked() []domain.Identity {
	users := make([]domain.Identity, 0, len(c.sessions))
	for _, id := range c.sessionIDsLocked() {
		users = append(users, c.sessions[id].Identity)
	}
	return users
}

// sessionIDsLocked returns live session ids in assignment order so
// broadcast and presence enumeration are deterministic.
func (c *Coordinator) sessionIDsLocked() []uint64 {
	ids := make([]uint64, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
