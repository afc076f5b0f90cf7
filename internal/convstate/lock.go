package convstate

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when acquiring a conversation lock times out.
var ErrLockTimeout = errors.New("convstate: lock acquisition timeout")

// convLock is a one-slot semaphore. Holding the lock means occupying the
// channel's single slot, so timed-out and cancelled waiters just abandon
// their select with no lock state to unwind.
type convLock struct {
	ch       chan struct{}
	mu       sync.Mutex
	lastUsed time.Time
}

func newConvLock() *convLock {
	return &convLock{ch: make(chan struct{}, 1), lastUsed: time.Now()}
}

func (l *convLock) touch() {
	l.mu.Lock()
	l.lastUsed = time.Now()
	l.mu.Unlock()
}

func (l *convLock) held() bool {
	return len(l.ch) == 1
}

func (l *convLock) idleSince(cutoff time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUsed.Before(cutoff)
}

// Locks serializes turns per conversation. At most one writer runs a turn
// for a given conversation at a time; a second concurrent request waits up
// to the configured timeout before failing.
//
// Thread Safety:
// Locks is safe for concurrent use.
type Locks struct {
	locks      map[string]*convLock
	mu         sync.Mutex
	defaultTTL time.Duration
}

// NewLocks creates a conversation lock manager. defaultTTL bounds how long
// Acquire waits when no explicit timeout is given.
func NewLocks(defaultTTL time.Duration) *Locks {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	m := &Locks{
		locks:      make(map[string]*convLock),
		defaultTTL: defaultTTL,
	}
	go m.cleanupLoop()
	return m
}

func (m *Locks) lockFor(conversationID string) *convLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[conversationID]
	if !ok {
		lock = newConvLock()
		m.locks[conversationID] = lock
	}
	return lock
}

// Acquire takes the write lock for a conversation, waiting up to timeout.
// The returned release function must be called when the turn finishes; it
// is safe to call more than once.
func (m *Locks) Acquire(ctx context.Context, conversationID string, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = m.defaultTTL
	}
	lock := m.lockFor(conversationID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case lock.ch <- struct{}{}:
		lock.touch()
		return m.releaseFunc(lock), nil
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes the lock without waiting. Returns false when a turn is
// already in flight for the conversation.
func (m *Locks) TryAcquire(conversationID string) (func(), bool) {
	lock := m.lockFor(conversationID)

	select {
	case lock.ch <- struct{}{}:
		lock.touch()
		return m.releaseFunc(lock), true
	default:
		return nil, false
	}
}

func (m *Locks) releaseFunc(lock *convLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			lock.touch()
			<-lock.ch
		})
	}
}

// IsLocked reports whether a turn currently holds the conversation.
func (m *Locks) IsLocked(conversationID string) bool {
	m.mu.Lock()
	lock, ok := m.locks[conversationID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return lock.held()
}

func (m *Locks) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.cleanup()
	}
}

// cleanup drops idle lock entries that have not been touched recently.
// A held lock is never dropped, and waiters only exist while the lock is
// held, so no waiter can be stranded on a removed entry.
func (m *Locks) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for id, lock := range m.locks {
		if !lock.held() && lock.idleSince(cutoff) {
			delete(m.locks, id)
		}
	}
}
