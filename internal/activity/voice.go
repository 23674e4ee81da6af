package activity

import (
	"context"
	"time"

	"github.com/sasha-s/go-deadlock"

	"activityxp/internal/models"
)

type voiceEntry struct {
	id      uint64
	session models.VoiceSession
	cancel  context.CancelFunc
	done    chan struct{}
}

// voiceTracker is the registry of running per-member voice tickers, keyed
// guild:user. Every path that stops tracking goes through stop or stopAll.
type voiceTracker struct {
	mu      deadlock.Mutex
	nextID  uint64
	entries map[string]*voiceEntry
	closed  bool
}

func newVoiceTracker() *voiceTracker {
	return &voiceTracker{entries: make(map[string]*voiceEntry)}
}

// start runs tick every interval until it returns false or the ticker is
// cancelled. A ticker already registered under key is cancelled first.
func (t *voiceTracker) start(key, channelID string, interval time.Duration, tick func(ctx context.Context) bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if old, ok := t.entries[key]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.nextID++
	e := &voiceEntry{
		id:      t.nextID,
		session: models.VoiceSession{ChannelID: channelID, Start: time.Now().UTC()},
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	t.entries[key] = e
	t.mu.Unlock()

	go func() {
		defer close(e.done)
		defer t.remove(key, e.id)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// a cancel that raced the tick wins
				if ctx.Err() != nil {
					return
				}
				if !tick(ctx) {
					return
				}
			}
		}
	}()
}

// remove drops the entry only if it is still the one identified by id, so
// a finished ticker never unregisters its replacement.
func (t *voiceTracker) remove(key string, id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok && e.id == id {
		e.cancel()
		delete(t.entries, key)
	}
}

func (t *voiceTracker) stop(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		e.cancel()
		delete(t.entries, key)
	}
}

// stopAll cancels every ticker, waits for them to exit and refuses new ones.
func (t *voiceTracker) stopAll() {
	t.mu.Lock()
	t.closed = true
	var pending []chan struct{}
	for key, e := range t.entries {
		e.cancel()
		pending = append(pending, e.done)
		delete(t.entries, key)
	}
	t.mu.Unlock()

	for _, done := range pending {
		<-done
	}
}

func (t *voiceTracker) session(key string) (models.VoiceSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return models.VoiceSession{}, false
	}
	return e.session, true
}

func (t *voiceTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
