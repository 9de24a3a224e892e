package domain

import (
	"context"
	"time"
)

type SubscriptionMode string

const (
	ModeMerge    SubscriptionMode = "MERGE"
	ModeDistinct SubscriptionMode = "DISTINCT"
)

// SubscriptionRequest describes one logical item subscription on the
// streaming transport.
type SubscriptionRequest struct {
	Mode     SubscriptionMode
	Item     string
	Fields   []string
	Snapshot bool
}

// SubscriptionEvents is the callback sink for one low-level subscription.
// Nil callbacks are skipped by the transport.
type SubscriptionEvents struct {
	OnSubscribed   func()
	OnUpdate       func(item string, fields map[string]string)
	OnUpdateLost   func(count int)
	OnError        func(code int, message string)
	OnUnsubscribed func()
}

// Streamer is the push-protocol transport. Connect and Disconnect are
// fire-and-forget; completion is observed through the status callback, which
// receives the raw status strings of the transport.
type Streamer interface {
	Connect() error
	Disconnect() error
	OnStatusChange(cb func(status string))
	Subscribe(req SubscriptionRequest, events SubscriptionEvents) (string, error)
	Unsubscribe(id string) error
}

// ReferenceData resolves instrument master records from the remote
// reference-data service. One call issues one batched request; callers chunk
// large sets themselves.
type ReferenceData interface {
	LookupMarkets(ctx context.Context, epics []Epic) ([]MarketInfo, error)
}

// MarketRepository stores instrument master records.
type MarketRepository interface {
	HasMarkets(ctx context.Context, epics []Epic) (map[Epic]bool, error)
	SaveMarkets(ctx context.Context, markets []MarketInfo) error
}

// PriceRepository stores finalized price bars, one table per instrument.
type PriceRepository interface {
	UpdatePrices(ctx context.Context, epic Epic, bars []Candle) error
	UpsertStreamedBar(ctx context.Context, bar Candle) (Candle, error)
	GetAvailableDates(ctx context.Context, epic Epic) ([]time.Time, error)
	GetFirstDate(ctx context.Context, epic Epic) (time.Time, bool, error)
	GetLastDate(ctx context.Context, epic Epic) (time.Time, bool, error)
	GetPrices(ctx context.Context, epic Epic, from, to time.Time) ([]Candle, error)
}
