package transport

import "errors"

var (
	ErrNotConnected       = errors.New("transport not connected")
	ErrPublish            = errors.New("publish failed")
	ErrConnectTimeout     = errors.New("connect timed out")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrDisconnected       = errors.New("transport disconnected")
	ErrConnectInProgress  = errors.New("connect already in progress")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrHeartbeatMissed    = errors.New("heartbeat not acknowledged")
)
