package tracking

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Deliverer hands an encoded message to a broker channel and reports whether it was accepted
type Deliverer interface {
	Deliver(ctx context.Context, destination string, payload []byte) bool
}

// DelivererFunc lets the embedding application supply its own publish capability
type DelivererFunc func(ctx context.Context, destination string, payload []byte) bool

func (f DelivererFunc) Deliver(ctx context.Context, destination string, payload []byte) bool {
	return f(ctx, destination, payload)
}

// TransportDeliverer publishes through a Transport and refuses while it is not connected
type TransportDeliverer struct {
	Transport Transport
}

func (d TransportDeliverer) Deliver(ctx context.Context, destination string, payload []byte) bool {
	if d.Transport == nil || !d.Transport.IsConnected() {
		return false
	}

	if err := d.Transport.Publish(ctx, destination, payload); err != nil {
		log.Warn().Err(err).Str("destination", destination).Msg("Transport rejected message")
		return false
	}

	return true
}

type namedDeliverer struct {
	name string
	Deliverer
}

const (
	DelivererPrimary  = "primary"
	DelivererFallback = "fallback"
)
