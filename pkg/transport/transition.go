package transport

type event int

const (
	eventConnectRequested event = iota
	eventConnected
	eventConnectFailed
	eventConnectTimeout
	eventLinkLost
	eventRetriesExhausted
	eventDisconnectRequested
)

func (e event) String() string {
	switch e {
	case eventConnectRequested:
		return "connect-requested"
	case eventConnected:
		return "connected"
	case eventConnectFailed:
		return "connect-failed"
	case eventConnectTimeout:
		return "connect-timeout"
	case eventLinkLost:
		return "link-lost"
	case eventRetriesExhausted:
		return "retries-exhausted"
	case eventDisconnectRequested:
		return "disconnect-requested"
	default:
		return "unknown"
	}
}

// transition is the whole connection state machine. ok is false when the event
// is not valid in the current state and must be ignored.
func transition(from State, ev event) (State, bool) {
	switch ev {
	case eventConnectRequested:
		if from == StateDisconnected || from == StateError {
			return StateConnecting, true
		}
	case eventConnected:
		if from == StateConnecting || from == StateReconnecting {
			return StateConnected, true
		}
	case eventConnectFailed:
		switch from {
		case StateConnecting:
			return StateError, true
		case StateReconnecting:
			// another attempt is scheduled
			return StateReconnecting, true
		}
	case eventConnectTimeout:
		if from == StateConnecting {
			return StateError, true
		}
	case eventLinkLost:
		if from == StateConnected {
			return StateReconnecting, true
		}
	case eventRetriesExhausted:
		if from == StateConnected || from == StateReconnecting {
			return StateError, true
		}
	case eventDisconnectRequested:
		return StateDisconnected, true
	}

	return from, false
}
