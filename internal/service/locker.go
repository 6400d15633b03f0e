package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"locker-service/internal/models"
	"locker-service/internal/util"

	"go.uber.org/zap"
)

const lockPollInterval = 50 * time.Millisecond

// DistributedLock is a cross-instance mutual exclusion primitive
type DistributedLock interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
}

// Locker serializes work per order id or per slot, inside the process and across instances
type Locker struct {
	dist   DistributedLock
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocker creates a locker. dist may be nil for a single instance.
func NewLocker(dist DistributedLock, ttl, wait time.Duration) *Locker {
	return &Locker{
		dist:   dist,
		ttl:    ttl,
		wait:   wait,
		logger: util.GetLogger(),
		slots:  make(map[string]*lockSlot),
	}
}

func (l *Locker) acquireSlot(key string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Locker) dropSlot(key string, s *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Lock blocks until the order is held or the wait elapses. The returned
// function releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, orderID string) (func(), error) {
	return l.lock(ctx, "order:"+orderID)
}

// LockSlot holds a physical slot while its occupant is checked and replaced.
// Callers that also hold an order lock take it first.
func (l *Locker) LockSlot(ctx context.Context, locationID, slotID string) (func(), error) {
	return l.lock(ctx, "slot:"+locationID+"/"+slotID)
}

func (l *Locker) lock(ctx context.Context, key string) (func(), error) {
	deadline := time.NewTimer(l.wait)
	defer deadline.Stop()

	slot := l.acquireSlot(key)
	select {
	case slot.ch <- struct{}{}:
	case <-deadline.C:
		l.dropSlot(key, slot)
		return nil, fmt.Errorf("%w: %s", models.ErrLockBusy, key)
	case <-ctx.Done():
		l.dropSlot(key, slot)
		return nil, ctx.Err()
	}

	releaseLocal := func() {
		<-slot.ch
		l.dropSlot(key, slot)
	}

	if l.dist == nil {
		return releaseLocal, nil
	}

	for {
		token, ok, err := l.dist.AcquireLock(ctx, key, l.ttl)
		if err != nil {
			releaseLocal()
			return nil, fmt.Errorf("%w: %s: %v", models.ErrLockBusy, key, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if _, err := l.dist.ReleaseLock(releaseCtx, key, token); err != nil {
					l.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
				}
				releaseLocal()
			}, nil
		}

		select {
		case <-time.After(lockPollInterval):
		case <-deadline.C:
			releaseLocal()
			return nil, fmt.Errorf("%w: %s", models.ErrLockBusy, key)
		case <-ctx.Done():
			releaseLocal()
			return nil, ctx.Err()
		}
	}
}
