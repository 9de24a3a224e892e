package domain

// MarketInfo is the master record for an instrument. It must exist before any
// price data for the instrument may be stored.
type MarketInfo struct {
	Epic           Epic   `json:"epic"`
	InstrumentName string `json:"instrument_name"`
	InstrumentType string `json:"instrument_type"`
	Expiry         string `json:"expiry"`
}

// Update is one typed field update for a subscribed item.
type Update struct {
	Item   string
	Fields map[string]string
}
