package deployment

import (
	"context"
	"sync"

	apperrors "github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/errors"
)

// keyedLocks serializes lifecycle operations per deployment id. Operations on
// different deployments never wait on each other; a second start/stop/delete
// on the same deployment queues behind the first.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{slots: make(map[string]chan struct{})}
}

// acquire blocks until the key's lock is held or ctx is done. On success the
// returned func releases the lock. Slots are never removed from the map; the
// population is bounded by the number of deployments ever touched.
func (l *keyedLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, apperrors.BadRequest("request aborted")
	}
}
