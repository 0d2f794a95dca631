package port

import "context"

// Locker guarantees at most one in-flight ingestion pass per key.
type Locker interface {
	// TryLock acquires key without waiting. ok is false when another
	// holder owns it. unlock must be called once when ok is true.
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}
