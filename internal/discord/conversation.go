package discord

import (
	"context"

	"github.com/sasha-s/go-deadlock"

	"activityxp/internal/setup"
)

// waiters routes messages to open setup conversations, keyed by
// channel and author.
type waiters struct {
	mu deadlock.Mutex
	m  map[string]chan setup.Reply
}

func newWaiters() *waiters {
	return &waiters{m: make(map[string]chan setup.Reply)}
}

func waiterKey(channelID, userID string) string {
	return channelID + ":" + userID
}

// register opens a conversation. ok is false if one is already open.
func (w *waiters) register(channelID, userID string) (replies chan setup.Reply, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := waiterKey(channelID, userID)
	if _, exists := w.m[key]; exists {
		return nil, false
	}
	replies = make(chan setup.Reply, 1)
	w.m[key] = replies
	return replies, true
}

func (w *waiters) release(channelID, userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.m, waiterKey(channelID, userID))
}

// deliver hands a message to the author's open conversation and reports
// whether one was open. An answer that arrives while the previous one is
// still unread is dropped.
func (w *waiters) deliver(channelID, userID string, reply setup.Reply) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	replies, ok := w.m[waiterKey(channelID, userID)]
	if !ok {
		return false
	}
	select {
	case replies <- reply:
	default:
	}
	return true
}

// conversation is a setup.Conversation over one channel.
type conversation struct {
	sender    MessageSender
	channelID string
	replies   <-chan setup.Reply
}

func (c *conversation) Send(text string) error {
	return c.sender.Send(c.channelID, text)
}

func (c *conversation) Await(ctx context.Context) (setup.Reply, error) {
	select {
	case r := <-c.replies:
		return r, nil
	case <-ctx.Done():
		return setup.Reply{}, ctx.Err()
	}
}
