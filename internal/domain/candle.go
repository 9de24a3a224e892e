package domain

import (
	"math"
	"time"
)

// PriceScale is the fixed-point factor for stored prices: 5 decimal digits.
const PriceScale = 100000

// DateLayout is the timestamp format used as the primary key of price rows.
const DateLayout = "2006-01-02T15:04:05"

// Candle is one finalized price bar at minute resolution. Price fields are
// fixed-point integers scaled by PriceScale.
type Candle struct {
	Epic Epic
	Time time.Time

	OpenBid  int64
	OpenAsk  int64
	CloseBid int64
	CloseAsk int64
	LowBid   int64
	LowAsk   int64
	HighBid  int64
	HighAsk  int64

	Volume int64
}

// ScalePrice converts a decimal price into its fixed-point representation.
func ScalePrice(v float64) int64 {
	return int64(math.Round(v * PriceScale))
}

// UnscalePrice converts a fixed-point price back to a decimal value.
func UnscalePrice(v int64) float64 {
	return float64(v) / PriceScale
}

// FormatDate renders a bar timestamp in the stored key format (UTC).
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a stored bar timestamp.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
