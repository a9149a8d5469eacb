package port

import "context"

type ItemLocker interface {
	// Lock blocks until the per-item critical section is held or ctx is done.
	// The returned func releases it and is safe to call once.
	Lock(ctx context.Context, itemID int64) (unlock func(), err error)
}
