package activity

import (
	"github.com/sasha-s/go-deadlock"
)

// memberLocks hands out one mutex per guild member. Entries are never
// dropped: member state lives forever too, and a mutex is a few words.
type memberLocks struct {
	mu    deadlock.Mutex
	locks map[string]*deadlock.Mutex
}

func newMemberLocks() *memberLocks {
	return &memberLocks{locks: make(map[string]*deadlock.Mutex)}
}

// Lock blocks until the member's mutex is held and returns its unlock func.
func (l *memberLocks) Lock(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &deadlock.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// EnableLockDebugging toggles go-deadlock's lock-order and timeout checks.
// A member lock is held across Discord REST calls, so keep this off in
// production where rate limits can stall a call past the deadlock timeout.
func EnableLockDebugging(enabled bool) {
	deadlock.Opts.Disable = !enabled
}

func memberKey(guildID, userID string) string {
	return guildID + ":" + userID
}
