package store

import (
	"context"
	"time"

	"github.com/wavepoint/roomcast/internal/domain"
)

// DurableStore is the external key-value map the room survives process
// restarts on. It holds the persisted history snapshot and at most one
// pending wakeup timestamp.
type DurableStore interface {
	// LoadHistory returns the persisted history, or (nil, nil) when
	// nothing has been persisted yet.
	LoadHistory(ctx context.Context) ([]domain.ChatMessage, error)

	// SaveHistory replaces the persisted history with the given
	// snapshot.
	SaveHistory(ctx context.Context, messages []domain.ChatMessage) error

	// ScheduleWakeup records the next wakeup time, replacing any
	// previously scheduled one.
	ScheduleWakeup(ctx context.Context, at time.Time) error

	// NextWakeup returns the pending wakeup time, if any.
	NextWakeup(ctx context.Context) (time.Time, bool, error)

	Close() error
}
