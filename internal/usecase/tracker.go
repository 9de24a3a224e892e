package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitos/ig_price_stream/internal/domain"
	"github.com/vitos/ig_price_stream/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

const statusBuffer = 16

// ConnTracker owns the single streaming connection and is the only component
// allowed to mutate it. It translates raw transport status strings into typed
// statuses and broadcasts them, suppressing consecutive duplicates.
type ConnTracker struct {
	streamer domain.Streamer
	recorder *metrics.Recorder
	log      *zap.Logger

	mu      sync.Mutex
	current domain.ConnectionStatus
	subs    map[int]chan domain.ConnectionStatus
	nextSub int
}

func NewConnTracker(streamer domain.Streamer, recorder *metrics.Recorder, log *zap.Logger) *ConnTracker {
	t := &ConnTracker{
		streamer: streamer,
		recorder: recorder,
		log:      log,
		current:  domain.ConnectionStatus{State: domain.StateDisconnected},
		subs:     make(map[int]chan domain.ConnectionStatus),
	}
	streamer.OnStatusChange(t.handleStatus)
	return t
}

func (t *ConnTracker) handleStatus(raw string) {
	status, err := domain.ParseConnectionStatus(raw)
	if err != nil {
		t.log.Warn("unknown connection status", zap.String("status", raw))
		return
	}

	t.mu.Lock()
	if status == t.current {
		t.mu.Unlock()
		return
	}
	t.current = status
	if status.Retrying {
		t.recorder.RecordReconnect()
	}
	chans := make([]chan domain.ConnectionStatus, 0, len(t.subs))
	for _, ch := range t.subs {
		chans = append(chans, ch)
	}
	t.mu.Unlock()

	t.log.Info("connection status changed", zap.String("status", status.String()))
	for _, ch := range chans {
		select {
		case ch <- status:
		default:
			t.log.Warn("status subscriber lagging, dropping status",
				zap.String("status", status.String()))
		}
	}
}

// Status returns the current connection status.
func (t *ConnTracker) Status() domain.ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Connect instructs the transport to connect if the connection is idle.
// Returns the pre-call status. Connecting from a stalled session is an
// error: the caller must disconnect explicitly first.
func (t *ConnTracker) Connect() (domain.ConnectionStatus, error) {
	t.mu.Lock()
	cur := t.current
	t.mu.Unlock()

	switch {
	case cur.State == domain.StateStalled:
		return cur, fmt.Errorf("connect while stalled: %w", domain.ErrInvalidState)
	case cur.Idle():
		if err := t.streamer.Connect(); err != nil {
			return cur, err
		}
		return cur, nil
	default:
		return cur, nil
	}
}

// Disconnect instructs the transport to disconnect unless already fully
// disconnected. Returns the pre-call status.
func (t *ConnTracker) Disconnect() (domain.ConnectionStatus, error) {
	t.mu.Lock()
	cur := t.current
	t.mu.Unlock()

	if cur.Idle() {
		return cur, nil
	}
	if err := t.streamer.Disconnect(); err != nil {
		return cur, err
	}
	return cur, nil
}

// StatusFeed returns a new independent status subscription. The current
// status is delivered before any subsequent transition.
func (t *ConnTracker) StatusFeed() *StatusSub {
	ch := make(chan domain.ConnectionStatus, statusBuffer)

	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	ch <- t.current
	t.mu.Unlock()

	return &StatusSub{
		ch: ch,
		cancel: func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		},
	}
}

// AwaitConnected blocks until the connection is established. Stalled and
// hard-disconnected are terminal failures; a disconnect with a retry pending
// keeps waiting.
func (t *ConnTracker) AwaitConnected(ctx context.Context) error {
	sub := t.StatusFeed()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case status := <-sub.Statuses():
			switch {
			case status.Connected():
				return nil
			case status.State == domain.StateStalled:
				return fmt.Errorf("connection stalled: %w", domain.ErrInvalidState)
			case status.Idle():
				return fmt.Errorf("connection closed: %w", domain.ErrNotConnected)
			}
		}
	}
}
