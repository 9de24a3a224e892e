package usecase

import (
	"sync"

	"github.com/vitos/ig_price_stream/internal/domain"
)

const feedBuffer = 64

// UpdateFeed delivers typed updates for one subscribed item. The channel
// returned by Updates is closed when the feed terminates; Err reports the
// cause afterwards (nil for normal completion or cancellation).
type UpdateFeed struct {
	mu      sync.Mutex
	updates chan domain.Update
	closed  bool
	err     error
	cancel  func()
}

func newUpdateFeed() *UpdateFeed {
	return &UpdateFeed{updates: make(chan domain.Update, feedBuffer)}
}

func (f *UpdateFeed) Updates() <-chan domain.Update { return f.updates }

// Err is valid once the Updates channel is closed.
func (f *UpdateFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Cancel tears the subscription down from the consumer side. Idempotent, and
// equivalent in side effects to a natural completion.
func (f *UpdateFeed) Cancel() {
	if f.cancel != nil {
		f.cancel()
	}
}

// push delivers one update without ever blocking: a consumer that stopped
// reading loses updates rather than stalling the transport read loop.
func (f *UpdateFeed) push(u domain.Update) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.updates <- u:
		return true
	default:
		return false
	}
}

func (f *UpdateFeed) terminate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.err = err
	close(f.updates)
}

// StatusSub is one consumer's view of the connection status feed. The first
// value received is always the status at subscription time.
type StatusSub struct {
	ch     chan domain.ConnectionStatus
	cancel func()
	once   sync.Once
}

func (s *StatusSub) Statuses() <-chan domain.ConnectionStatus { return s.ch }

func (s *StatusSub) Close() {
	s.once.Do(s.cancel)
}
