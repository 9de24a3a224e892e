package domain

import "fmt"

// Raw status strings emitted by the push transport. The values must match the
// transport byte for byte.
const (
	RawStatusConnecting        = "CONNECTING"
	RawStatusStreamSensing     = "CONNECTED:STREAM-SENSING"
	RawStatusWSStreaming       = "CONNECTED:WS-STREAMING"
	RawStatusWSPolling         = "CONNECTED:WS-POLLING"
	RawStatusHTTPStreaming     = "CONNECTED:HTTP-STREAMING"
	RawStatusHTTPPolling       = "CONNECTED:HTTP-POLLING"
	RawStatusStalled           = "STALLED"
	RawStatusDisconnectedRetry = "DISCONNECTED:WILL-RETRY"
	RawStatusDisconnected      = "DISCONNECTED"
)

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateStalled
)

type StreamTransport int

const (
	TransportNone StreamTransport = iota
	TransportSensing
	TransportWebsocket
	TransportHTTP
)

// ConnectionStatus is the typed form of a transport status string. Consumers
// must not assume any ordering of transitions beyond duplicate suppression.
type ConnectionStatus struct {
	State     ConnectionState
	Transport StreamTransport
	Polling   bool
	Retrying  bool
}

// Connected reports whether a streaming session is established.
func (s ConnectionStatus) Connected() bool { return s.State == StateConnected }

// Idle reports a hard disconnect with no retry pending. This is the only
// state from which a new connect attempt may be issued.
func (s ConnectionStatus) Idle() bool {
	return s.State == StateDisconnected && !s.Retrying
}

// ParseConnectionStatus translates a raw transport status string.
func ParseConnectionStatus(raw string) (ConnectionStatus, error) {
	switch raw {
	case RawStatusConnecting:
		return ConnectionStatus{State: StateConnecting}, nil
	case RawStatusStreamSensing:
		return ConnectionStatus{State: StateConnected, Transport: TransportSensing}, nil
	case RawStatusWSStreaming:
		return ConnectionStatus{State: StateConnected, Transport: TransportWebsocket}, nil
	case RawStatusWSPolling:
		return ConnectionStatus{State: StateConnected, Transport: TransportWebsocket, Polling: true}, nil
	case RawStatusHTTPStreaming:
		return ConnectionStatus{State: StateConnected, Transport: TransportHTTP}, nil
	case RawStatusHTTPPolling:
		return ConnectionStatus{State: StateConnected, Transport: TransportHTTP, Polling: true}, nil
	case RawStatusStalled:
		return ConnectionStatus{State: StateStalled}, nil
	case RawStatusDisconnectedRetry:
		return ConnectionStatus{State: StateDisconnected, Retrying: true}, nil
	case RawStatusDisconnected:
		return ConnectionStatus{State: StateDisconnected}, nil
	}
	return ConnectionStatus{}, fmt.Errorf("unknown connection status %q", raw)
}

func (s ConnectionStatus) String() string {
	switch s.State {
	case StateConnecting:
		return RawStatusConnecting
	case StateStalled:
		return RawStatusStalled
	case StateDisconnected:
		if s.Retrying {
			return RawStatusDisconnectedRetry
		}
		return RawStatusDisconnected
	case StateConnected:
		switch s.Transport {
		case TransportSensing:
			return RawStatusStreamSensing
		case TransportHTTP:
			if s.Polling {
				return RawStatusHTTPPolling
			}
			return RawStatusHTTPStreaming
		default:
			if s.Polling {
				return RawStatusWSPolling
			}
			return RawStatusWSStreaming
		}
	}
	return RawStatusDisconnected
}
