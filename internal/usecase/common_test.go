package usecase_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitos/ig_price_stream/internal/domain"
)

// MockStreamer is a scriptable in-memory transport.
type MockStreamer struct {
	mu           sync.Mutex
	statusCbs    []func(string)
	sinks        map[string]domain.SubscriptionEvents // item -> sink
	subItems     map[string]string                    // sub id -> item
	seq          int
	subscribeN   map[string]int // item -> subscribe call count
	unsubscribed []string       // items, in teardown order

	ConnectCalls    int
	DisconnectCalls int
	SubscribeErr    error
	FailItems       map[string]bool // items whose subscription errors immediately
}

func NewMockStreamer() *MockStreamer {
	return &MockStreamer{
		sinks:      make(map[string]domain.SubscriptionEvents),
		subItems:   make(map[string]string),
		subscribeN: make(map[string]int),
		FailItems:  make(map[string]bool),
	}
}

func (m *MockStreamer) OnStatusChange(cb func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCbs = append(m.statusCbs, cb)
}

func (m *MockStreamer) EmitStatus(raw string) {
	m.mu.Lock()
	cbs := make([]func(string), len(m.statusCbs))
	copy(cbs, m.statusCbs)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(raw)
	}
}

func (m *MockStreamer) Connect() error {
	m.mu.Lock()
	m.ConnectCalls++
	m.mu.Unlock()
	m.EmitStatus(domain.RawStatusConnecting)
	m.EmitStatus(domain.RawStatusWSStreaming)
	return nil
}

func (m *MockStreamer) Disconnect() error {
	m.mu.Lock()
	m.DisconnectCalls++
	m.mu.Unlock()
	m.EmitStatus(domain.RawStatusDisconnected)
	return nil
}

func (m *MockStreamer) Subscribe(req domain.SubscriptionRequest, events domain.SubscriptionEvents) (string, error) {
	m.mu.Lock()
	if m.SubscribeErr != nil {
		err := m.SubscribeErr
		m.mu.Unlock()
		return "", err
	}
	m.seq++
	id := fmt.Sprintf("s%d", m.seq)
	m.subscribeN[req.Item]++
	fail := m.FailItems[req.Item]
	if !fail {
		m.sinks[req.Item] = events
		m.subItems[id] = req.Item
	}
	m.mu.Unlock()

	if fail {
		if events.OnError != nil {
			events.OnError(1, "subscription rejected")
		}
		return id, nil
	}
	return id, nil
}

func (m *MockStreamer) Unsubscribe(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.subItems[id]
	if !ok {
		return nil
	}
	delete(m.subItems, id)
	delete(m.sinks, item)
	m.unsubscribed = append(m.unsubscribed, item)
	return nil
}

func (m *MockStreamer) PushUpdate(item string, fields map[string]string) {
	m.mu.Lock()
	sink, ok := m.sinks[item]
	m.mu.Unlock()
	if ok && sink.OnUpdate != nil {
		sink.OnUpdate(item, fields)
	}
}

// PushUpdateAs delivers an update to the item's sink while reporting a
// different item key, as a misbehaving transport would.
func (m *MockStreamer) PushUpdateAs(item, reportedItem string, fields map[string]string) {
	m.mu.Lock()
	sink, ok := m.sinks[item]
	m.mu.Unlock()
	if ok && sink.OnUpdate != nil {
		sink.OnUpdate(reportedItem, fields)
	}
}

func (m *MockStreamer) FailSubscription(item string, code int, msg string) {
	m.mu.Lock()
	sink, ok := m.sinks[item]
	m.mu.Unlock()
	if ok && sink.OnError != nil {
		sink.OnError(code, msg)
	}
}

func (m *MockStreamer) CompleteSubscription(item string) {
	m.mu.Lock()
	sink, ok := m.sinks[item]
	m.mu.Unlock()
	if ok && sink.OnUnsubscribed != nil {
		sink.OnUnsubscribed()
	}
}

func (m *MockStreamer) SubscribeCount(item string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribeN[item]
}

func (m *MockStreamer) UnsubscribedItems() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.unsubscribed))
	copy(out, m.unsubscribed)
	return out
}

// MockRefData serves markets from a fixed table and records chunk sizes.
type MockRefData struct {
	mu      sync.Mutex
	Markets map[domain.Epic]domain.MarketInfo
	Err     error
	chunks  []int
}

func NewMockRefData(epics ...domain.Epic) *MockRefData {
	m := &MockRefData{Markets: make(map[domain.Epic]domain.MarketInfo)}
	for _, e := range epics {
		m.Markets[e] = domain.MarketInfo{Epic: e, InstrumentName: string(e), InstrumentType: "CURRENCIES"}
	}
	return m
}

func (m *MockRefData) LookupMarkets(ctx context.Context, epics []domain.Epic) ([]domain.MarketInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.chunks = append(m.chunks, len(epics))
	var out []domain.MarketInfo
	for _, e := range epics {
		if info, ok := m.Markets[e]; ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (m *MockRefData) Chunks() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.chunks))
	copy(out, m.chunks)
	return out
}

// MockMarketRepo is an in-memory master record table.
type MockMarketRepo struct {
	mu     sync.Mutex
	known  map[domain.Epic]bool
	Err    error
	SaveN  int
	Saved  []domain.MarketInfo
}

func NewMockMarketRepo(known ...domain.Epic) *MockMarketRepo {
	m := &MockMarketRepo{known: make(map[domain.Epic]bool)}
	for _, e := range known {
		m.known[e] = true
	}
	return m
}

func (m *MockMarketRepo) HasMarkets(ctx context.Context, epics []domain.Epic) (map[domain.Epic]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make(map[domain.Epic]bool)
	for _, e := range epics {
		if m.known[e] {
			out[e] = true
		}
	}
	return out, nil
}

func (m *MockMarketRepo) SaveMarkets(ctx context.Context, markets []domain.MarketInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveN++
	for _, mk := range markets {
		m.known[mk.Epic] = true
		m.Saved = append(m.Saved, mk)
	}
	return nil
}
