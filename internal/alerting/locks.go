package alerting

import "sync"

// alertLocks serialises dispatch passes per alert so a resend never reads
// failures another pass is still retrying.
type alertLocks struct {
	mu    sync.Mutex
	locks map[string]*alertLock
}

type alertLock struct {
	mu   sync.Mutex
	refs int
}

func newAlertLocks() *alertLocks {
	return &alertLocks{locks: make(map[string]*alertLock)}
}

// lock blocks until id is free and returns the matching unlock.
func (l *alertLocks) lock(id string) func() {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &alertLock{}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *alertLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
