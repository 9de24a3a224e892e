package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitos/ig_price_stream/internal/domain"
	"github.com/vitos/ig_price_stream/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// subscribeRetries is how many times a failed per-instrument subscription is
// retried before the instrument is given up on.
const subscribeRetries = 2

// Monitor coordinates the whole pipeline: it deduplicates monitored
// instruments, resolves missing reference data through the gate, drives the
// connection, opens per-instrument chart subscriptions, filters finished
// bars into the price store, and releases each instrument exactly once on
// completion, failure or cancellation. One instrument failing never affects
// its siblings.
type Monitor struct {
	gate     *MarketGate
	tracker  *ConnTracker
	registry *Registry
	prices   domain.PriceRepository
	recorder *metrics.Recorder
	log      *zap.Logger

	mu        sync.Mutex
	monitored map[domain.Epic]struct{}
	stopping  bool

	wg sync.WaitGroup
}

func NewMonitor(
	gate *MarketGate,
	tracker *ConnTracker,
	registry *Registry,
	prices domain.PriceRepository,
	recorder *metrics.Recorder,
	log *zap.Logger,
) *Monitor {
	return &Monitor{
		gate:      gate,
		tracker:   tracker,
		registry:  registry,
		prices:    prices,
		recorder:  recorder,
		log:       log,
		monitored: make(map[domain.Epic]struct{}),
	}
}

// Monitored returns a snapshot of the instruments currently under active
// subscription.
func (m *Monitor) Monitored() []domain.Epic {
	m.mu.Lock()
	defer m.mu.Unlock()
	epics := make([]domain.Epic, 0, len(m.monitored))
	for e := range m.monitored {
		epics = append(epics, e)
	}
	return epics
}

// Monitor starts streaming subscriptions for every requested instrument not
// already monitored. Admission happens atomically before any network call,
// so concurrent calls never duplicate work for the same instrument. Failures
// before any subscription begins are returned; per-instrument failures later
// are isolated and surfaced through logging.
func (m *Monitor) Monitor(ctx context.Context, epics []domain.Epic) error {
	m.mu.Lock()
	var fresh []domain.Epic
	for _, e := range epics {
		if _, ok := m.monitored[e]; !ok {
			m.monitored[e] = struct{}{}
			fresh = append(fresh, e)
		}
	}
	count := len(m.monitored)
	m.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	m.recorder.SetMonitored(count)

	usable, err := m.gate.EnsureKnown(ctx, fresh)
	if err != nil {
		m.releaseAll(fresh)
		return fmt.Errorf("ensure known: %w", err)
	}
	usableSet := make(map[domain.Epic]bool, len(usable))
	for _, e := range usable {
		usableSet[e] = true
	}
	for _, e := range fresh {
		if !usableSet[e] {
			m.release(e)
		}
	}
	if len(usable) == 0 {
		return nil
	}

	if _, err := m.tracker.Connect(); err != nil {
		m.releaseAll(usable)
		return fmt.Errorf("connect: %w", err)
	}
	if err := m.tracker.AwaitConnected(ctx); err != nil {
		m.releaseAll(usable)
		return fmt.Errorf("await connected: %w", err)
	}

	for _, e := range usable {
		m.wg.Add(1)
		go m.runSubscription(ctx, e)
	}
	return nil
}

// Reset tears down all subscriptions, disconnects, and clears the monitored
// set synchronously.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()

	items := m.registry.UnsubscribeAll()
	if _, err := m.tracker.Disconnect(); err != nil {
		m.log.Warn("disconnect failed", zap.Error(err))
	}

	m.mu.Lock()
	m.monitored = make(map[domain.Epic]struct{})
	m.mu.Unlock()
	m.recorder.SetMonitored(0)

	m.wg.Wait()

	m.mu.Lock()
	m.stopping = false
	m.mu.Unlock()

	m.log.Info("monitor reset", zap.Strings("items", items))
}

// runSubscription owns one instrument's lifecycle: subscribe, consume,
// persist, retry on failure, and release the instrument exactly once.
func (m *Monitor) runSubscription(ctx context.Context, epic domain.Epic) {
	defer m.wg.Done()
	defer m.release(epic)

	var lastErr error
	for attempt := 0; attempt <= subscribeRetries; attempt++ {
		if ctx.Err() != nil || m.isStopping() {
			return
		}
		if attempt > 0 {
			m.log.Warn("retrying subscription",
				zap.String("epic", epic.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
		}

		err := m.streamOnce(ctx, epic)
		if err == nil {
			return
		}
		lastErr = err
		m.recorder.RecordSubscriptionFailure(epic.String())
	}

	m.log.Error("subscription failed, giving up",
		zap.String("epic", epic.String()),
		zap.Error(lastErr))
}

// streamOnce runs a single subscription attempt to its terminal state.
// A nil return means the feed completed or was cancelled; an error is a
// retryable failure of this attempt only.
func (m *Monitor) streamOnce(ctx context.Context, epic domain.Epic) error {
	feed, err := m.registry.Subscribe(domain.ModeMerge, chartItem(epic), candleFields, false)
	if err != nil {
		return err
	}

	consumed := make(chan struct{})
	defer close(consumed)
	go func() {
		select {
		case <-ctx.Done():
			feed.Cancel()
		case <-consumed:
		}
	}()

	for update := range feed.Updates() {
		if got, ok := epicFromChartItem(update.Item); !ok || got != epic {
			m.log.Warn("update for unexpected item",
				zap.String("item", update.Item),
				zap.String("epic", epic.String()))
			continue
		}
		bar, finished, err := parseCandle(epic, update.Fields)
		if err != nil {
			m.log.Warn("malformed candle update",
				zap.String("epic", epic.String()), zap.Error(err))
			continue
		}
		if !finished {
			continue
		}

		stored, err := m.prices.UpsertStreamedBar(ctx, bar)
		if err != nil {
			feed.Cancel()
			return fmt.Errorf("persist bar: %w", err)
		}
		m.recorder.RecordBarPersisted(epic.String())
		m.log.Debug("bar persisted",
			zap.String("epic", epic.String()),
			zap.String("date", domain.FormatDate(stored.Time)),
			zap.Int64("volume", stored.Volume))
	}
	return feed.Err()
}

func (m *Monitor) isStopping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopping
}

// release removes one instrument from the monitored set, exactly once even
// when completion and cancellation race.
func (m *Monitor) release(epic domain.Epic) {
	m.mu.Lock()
	_, ok := m.monitored[epic]
	if ok {
		delete(m.monitored, epic)
	}
	count := len(m.monitored)
	m.mu.Unlock()

	if ok {
		m.recorder.SetMonitored(count)
		m.log.Info("instrument released",
			zap.String("epic", epic.String()),
			zap.Int("monitored", count))
	}
}

func (m *Monitor) releaseAll(epics []domain.Epic) {
	for _, e := range epics {
		m.release(e)
	}
}
