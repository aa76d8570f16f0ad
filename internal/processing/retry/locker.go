package retry

import (
	"context"
	"sync"
	"time"
)

// Locker serialises retries per transaction across collector instances.
// A lock is held by an owner token and only that owner may release it.
type Locker interface {
	TryLock(ctx context.Context, transactionID, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, transactionID, owner string) error
}

type lease struct {
	owner   string
	expires time.Time
}

// LocalLocker is a process-local Locker used when Redis is not configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]lease
	now  func() time.Time
}

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held: make(map[string]lease),
		now:  time.Now,
	}
}

func (l *LocalLocker) TryLock(ctx context.Context, transactionID, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[transactionID]; ok && now.Before(cur.expires) {
		return false, nil
	}
	l.held[transactionID] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

// Unlock releases the lock when owner still holds it.
func (l *LocalLocker) Unlock(ctx context.Context, transactionID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[transactionID]; ok && cur.owner == owner {
		delete(l.held, transactionID)
	}
	return nil
}
