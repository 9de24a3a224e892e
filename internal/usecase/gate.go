package usecase

import (
	"context"
	"fmt"

	"github.com/vitos/ig_price_stream/internal/domain"
	"go.uber.org/zap"
)

// lookupChunkSize caps the number of epics per reference-data request.
const lookupChunkSize = 50

// MarketGate ensures master records exist for instruments before
// subscriptions or price writes are attempted, amortizing remote lookups
// through the local store.
type MarketGate struct {
	markets domain.MarketRepository
	refdata domain.ReferenceData
	log     *zap.Logger
}

func NewMarketGate(markets domain.MarketRepository, refdata domain.ReferenceData, log *zap.Logger) *MarketGate {
	return &MarketGate{markets: markets, refdata: refdata, log: log}
}

// EnsureKnown returns the subset of epics that have a master record after
// resolving missing ones remotely. Epics the reference-data service does not
// return are excluded silently; the caller proceeds with fewer instruments.
func (g *MarketGate) EnsureKnown(ctx context.Context, epics []domain.Epic) ([]domain.Epic, error) {
	if len(epics) == 0 {
		return nil, nil
	}

	known, err := g.markets.HasMarkets(ctx, epics)
	if err != nil {
		return nil, fmt.Errorf("check known markets: %w", err)
	}

	usable := make([]domain.Epic, 0, len(epics))
	var missing []domain.Epic
	for _, e := range epics {
		if known[e] {
			usable = append(usable, e)
		} else {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return usable, nil
	}

	var fetched []domain.MarketInfo
	for start := 0; start < len(missing); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(missing) {
			end = len(missing)
		}
		infos, err := g.refdata.LookupMarkets(ctx, missing[start:end])
		if err != nil {
			return nil, fmt.Errorf("reference data lookup: %w", err)
		}
		fetched = append(fetched, infos...)
	}

	if len(fetched) > 0 {
		if err := g.markets.SaveMarkets(ctx, fetched); err != nil {
			return nil, fmt.Errorf("save markets: %w", err)
		}
	}

	returned := make(map[domain.Epic]bool, len(fetched))
	for _, m := range fetched {
		returned[m.Epic] = true
	}
	for _, e := range missing {
		if returned[e] {
			usable = append(usable, e)
		} else {
			g.log.Warn("instrument unknown to reference data, skipping",
				zap.String("epic", e.String()))
		}
	}
	return usable, nil
}
