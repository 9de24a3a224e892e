package domain

import "fmt"

// Epic identifies a tradeable market. It is the join key across the market
// cache, the streaming subscriptions and the per-instrument price tables.
type Epic string

// ParseEpic validates a raw instrument identifier. The character set is
// restricted because epics are also used to derive price table names.
func ParseEpic(raw string) (Epic, error) {
	if len(raw) < 3 || len(raw) > 40 {
		return "", fmt.Errorf("invalid epic %q: must be 3-40 characters", raw)
	}
	for _, r := range raw {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_':
		default:
			return "", fmt.Errorf("invalid epic %q: character %q not allowed", raw, r)
		}
	}
	return Epic(raw), nil
}

func (e Epic) String() string { return string(e) }
