package streaming

import "encoding/json"

// Client-to-server commands.
type command struct {
	Op       string   `json:"op"`
	Sub      string   `json:"sub,omitempty"`
	Mode     string   `json:"mode,omitempty"`
	Item     string   `json:"item,omitempty"`
	Fields   []string `json:"fields,omitempty"`
	Snapshot bool     `json:"snapshot,omitempty"`
}

// Server-to-client events, discriminated by Type.
type serverEvent struct {
	Type    string          `json:"type"`
	Item    string          `json:"item,omitempty"`
	Fields  json.RawMessage `json:"fields,omitempty"`
	Count   int             `json:"count,omitempty"`
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

const (
	eventSubscribed   = "subscribed"
	eventUpdate       = "update"
	eventLoss         = "loss"
	eventError        = "error"
	eventUnsubscribed = "unsubscribed"
)
