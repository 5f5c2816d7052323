package transport

import "time"

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is an immutable snapshot handed to observers
type Status struct {
	State             State     `json:"state"`
	Protocol          Protocol  `json:"protocol"`
	ClientID          string    `json:"clientId,omitempty"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	LastError         string    `json:"lastError,omitempty"`
	ConnectedAt       time.Time `json:"connectedAt,omitempty"`
}
