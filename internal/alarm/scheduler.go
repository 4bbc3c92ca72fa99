// Package alarm drives the room's single pending wakeup. The next
// firing time lives in the durable store, so a restarted process
// re-arms from the persisted schedule instead of silently losing
// cleanup.
package alarm

import (
	"context"
	"fmt"
	"time"

	"github.com/wavepoint/roomcast/internal/store"
	"github.com/wavepoint/roomcast/pkg/log"
)

// Handler receives timer firings.
type Handler interface {
	OnTimerFire(ctx context.Context, now time.Time)
}

// Scheduler holds at most one pending wakeup. Scheduling a new one
// replaces the previous, both in the store and in the running timer.
type Scheduler struct {
	store  store.DurableStore
	resets chan time.Time
}

func NewScheduler(st store.DurableStore) *Scheduler {
	return &Scheduler{
		store:  st,
		resets: make(chan time.Time, 1),
	}
}

// Schedule persists the wakeup time and re-arms the running timer.
func (s *Scheduler) Schedule(ctx context.Context, at time.Time) error {
	if err := s.store.ScheduleWakeup(ctx, at); err != nil {
		return err
	}

	// Collapse to the most recent request; only one wakeup pends.
	select {
	case <-s.resets:
	default:
	}
	s.resets <- at

	return nil
}

// Run blocks until ctx is cancelled, firing the handler whenever the
// pending wakeup comes due. A wakeup persisted by a previous process
// life is restored first; one already overdue fires immediately.
func (s *Scheduler) Run(ctx context.Context, h Handler) error {
	at, pending, err := s.store.NextWakeup(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore wakeup: %w", err)
	}

	// Parked until the first Schedule call when nothing is pending.
	timer := time.NewTimer(time.Duration(1<<62 - 1))
	defer timer.Stop()
	if pending {
		resetTimer(timer, time.Until(at))
		l := log.Ctx(ctx)
		l.Info().Time("at", at).Msg("restored persisted wakeup")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case at := <-s.resets:
			resetTimer(timer, time.Until(at))

		case now := <-timer.C:
			h.OnTimerFire(ctx, now)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}
