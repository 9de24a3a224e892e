package usecase

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/ig_price_stream/internal/domain"
)

// Chart subscription item keys: CHART:<epic>:1MINUTE.
const (
	chartItemPrefix = "CHART:"
	chartItemScale  = ":1MINUTE"
)

// candleFields are the streamed chart fields consumed by the monitor.
var candleFields = []string{
	"UTM",
	"OFR_OPEN", "OFR_CLOSE", "OFR_LOW", "OFR_HIGH",
	"BID_OPEN", "BID_CLOSE", "BID_LOW", "BID_HIGH",
	"CONS_TICK_COUNT",
	"CONS_END",
}

func chartItem(epic domain.Epic) string {
	return chartItemPrefix + string(epic) + chartItemScale
}

func epicFromChartItem(item string) (domain.Epic, bool) {
	if !strings.HasPrefix(item, chartItemPrefix) || !strings.HasSuffix(item, chartItemScale) {
		return "", false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(item, chartItemPrefix), chartItemScale)
	epic, err := domain.ParseEpic(raw)
	if err != nil {
		return "", false
	}
	return epic, true
}

func parsePriceField(fields map[string]string, key string) (int64, error) {
	raw, ok := fields[key]
	if !ok || raw == "" {
		return 0, fmt.Errorf("missing field %s", key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	return domain.ScalePrice(v), nil
}

// parseCandle converts one chart field-map update into a bar. The second
// return value reports whether the bar is finished (consolidation ended);
// unfinished bars are not parsed further.
func parseCandle(epic domain.Epic, fields map[string]string) (domain.Candle, bool, error) {
	if fields["CONS_END"] != "1" {
		return domain.Candle{}, false, nil
	}

	utm, err := strconv.ParseInt(fields["UTM"], 10, 64)
	if err != nil {
		return domain.Candle{}, true, fmt.Errorf("field UTM: %w", err)
	}

	bar := domain.Candle{
		Epic: epic,
		Time: time.UnixMilli(utm).UTC().Truncate(time.Minute),
	}
	for key, dst := range map[string]*int64{
		"OFR_OPEN":  &bar.OpenAsk,
		"OFR_CLOSE": &bar.CloseAsk,
		"OFR_LOW":   &bar.LowAsk,
		"OFR_HIGH":  &bar.HighAsk,
		"BID_OPEN":  &bar.OpenBid,
		"BID_CLOSE": &bar.CloseBid,
		"BID_LOW":   &bar.LowBid,
		"BID_HIGH":  &bar.HighBid,
	} {
		v, err := parsePriceField(fields, key)
		if err != nil {
			return domain.Candle{}, true, err
		}
		*dst = v
	}

	if raw := fields["CONS_TICK_COUNT"]; raw != "" {
		volume, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.Candle{}, true, fmt.Errorf("field CONS_TICK_COUNT: %w", err)
		}
		bar.Volume = volume
	}
	return bar, true, nil
}
