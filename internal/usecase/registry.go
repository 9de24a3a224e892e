package usecase

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/vitos/ig_price_stream/internal/domain"
	"go.uber.org/zap"
)

// handle is one live item subscription: the low-level subscription plus its
// event-bridge feed.
type handle struct {
	id      string
	item    string
	subID   string
	active  bool
	removed bool
	feed    *UpdateFeed
}

// Registry multiplexes logical subscriptions over the shared transport
// connection. It guarantees at most one live handle per item key and
// exactly-once teardown regardless of which side initiates it.
type Registry struct {
	streamer domain.Streamer
	log      *zap.Logger

	mu      sync.Mutex
	handles map[string]*handle
}

func NewRegistry(streamer domain.Streamer, log *zap.Logger) *Registry {
	return &Registry{
		streamer: streamer,
		log:      log,
		handles:  make(map[string]*handle),
	}
}

// Subscribe opens a subscription for the item and returns its update feed.
// The feed terminates cleanly on unsubscribe and with ErrSubscriptionFailed
// when the transport reports an unrecoverable subscription error.
func (r *Registry) Subscribe(mode domain.SubscriptionMode, item string, fields []string, snapshot bool) (*UpdateFeed, error) {
	h := &handle{
		id:   uuid.NewString(),
		item: item,
		feed: newUpdateFeed(),
	}
	h.feed.cancel = func() { r.remove(item, nil) }

	r.mu.Lock()
	if _, dup := r.handles[item]; dup {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadySubscribed, item)
	}
	r.handles[item] = h
	r.mu.Unlock()

	events := domain.SubscriptionEvents{
		OnSubscribed: func() {
			r.log.Debug("subscription confirmed",
				zap.String("item", item), zap.String("handle", h.id))
		},
		OnUpdateLost: func(count int) {
			r.log.Warn("updates lost",
				zap.String("item", item), zap.Int("count", count))
		},
		OnUpdate: func(item string, fields map[string]string) {
			if !h.feed.push(domain.Update{Item: item, Fields: fields}) {
				r.log.Warn("feed full or closed, update dropped", zap.String("item", item))
			}
		},
		OnError: func(code int, message string) {
			r.remove(item, fmt.Errorf("%w: %s (code %d)", domain.ErrSubscriptionFailed, message, code))
		},
		OnUnsubscribed: func() {
			r.remove(item, nil)
		},
	}

	subID, err := r.streamer.Subscribe(domain.SubscriptionRequest{
		Mode:     mode,
		Item:     item,
		Fields:   fields,
		Snapshot: snapshot,
	}, events)
	if err != nil {
		r.remove(item, nil)
		return nil, fmt.Errorf("subscribe %s: %w", item, err)
	}

	r.mu.Lock()
	if h.removed {
		// Torn down while the subscribe call was in flight; release the
		// low-level subscription it just acquired.
		r.mu.Unlock()
		if uerr := r.streamer.Unsubscribe(subID); uerr != nil {
			r.log.Warn("unsubscribe after race failed",
				zap.String("item", item), zap.Error(uerr))
		}
		return h.feed, nil
	}
	h.subID = subID
	h.active = true
	r.mu.Unlock()

	return h.feed, nil
}

// remove is the single teardown path: it unregisters the handle, terminates
// the feed with the given cause, and releases the low-level subscription.
// Idempotent via the removed guard.
func (r *Registry) remove(item string, cause error) {
	r.mu.Lock()
	h, ok := r.handles[item]
	if !ok || h.removed {
		r.mu.Unlock()
		return
	}
	h.removed = true
	delete(r.handles, item)
	subID, active := h.subID, h.active
	h.active = false
	r.mu.Unlock()

	h.feed.terminate(cause)
	if active {
		if err := r.streamer.Unsubscribe(subID); err != nil {
			r.log.Warn("low-level unsubscribe failed",
				zap.String("item", item), zap.Error(err))
		}
	}
}

// UnsubscribeAll drains the registry: every outstanding feed is completed and
// every active low-level subscription released. Returns the item keys torn
// down. Handles inserted after the drain snapshot are unaffected.
func (r *Registry) UnsubscribeAll() []string {
	r.mu.Lock()
	snapshot := r.handles
	r.handles = make(map[string]*handle)
	items := make([]string, 0, len(snapshot))
	for item, h := range snapshot {
		h.removed = true
		items = append(items, item)
	}
	r.mu.Unlock()

	for _, h := range snapshot {
		h.feed.terminate(nil)
		if h.active {
			if err := r.streamer.Unsubscribe(h.subID); err != nil {
				r.log.Warn("low-level unsubscribe failed",
					zap.String("item", h.item), zap.Error(err))
			}
		}
	}
	if len(items) > 0 {
		r.log.Info("unsubscribed all", zap.Strings("items", items))
	}
	return items
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
