package storage

import (
	"context"
	"sync"
)

// LocalLocker serializes work per item inside one process. Slots are reference counted and
// dropped once nobody holds or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[int64]*lockSlot
}

type lockSlot struct {
	held  chan struct{}
	users int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[int64]*lockSlot)}
}

func (l *LocalLocker) Lock(ctx context.Context, itemID int64) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[itemID]
	if !ok {
		slot = &lockSlot{held: make(chan struct{}, 1)}
		l.slots[itemID] = slot
	}
	slot.users++
	l.mu.Unlock()

	select {
	case slot.held <- struct{}{}:
	case <-ctx.Done():
		l.release(itemID, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.held
			l.release(itemID, slot)
		})
	}, nil
}

func (l *LocalLocker) release(itemID int64, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot.users--
	if slot.users == 0 {
		delete(l.slots, itemID)
	}
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
