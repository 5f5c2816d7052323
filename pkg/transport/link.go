package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Dialer opens a single broker session. Dial must honour ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, clientID string) (Link, error)
}

type DialerFunc func(ctx context.Context, clientID string) (Link, error)

func (f DialerFunc) Dial(ctx context.Context, clientID string) (Link, error) {
	return f(ctx, clientID)
}

// Link is one established broker session. Done is closed once the session
// ends for any reason, including Close.
type Link interface {
	Publish(ctx context.Context, destination string, payload []byte) error
	Ping(ctx context.Context) error
	Done() <-chan struct{}
	Err() error
	Close() error
}

func NewDialer(config Config) (Dialer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Protocol {
	case ProtocolMQTT:
		return &mqttDialer{config: config}, nil
	case ProtocolWebSocket:
		return &websocketDialer{config: config}, nil
	case ProtocolSTOMP:
		return &stompDialer{config: config}, nil
	case ProtocolAMQP:
		return &amqpDialer{config: config}, nil
	case ProtocolRedisQueue:
		return &redisQueueDialer{config: config}, nil
	case ProtocolKafka:
		return &kafkaDialer{config: config}, nil
	}

	return nil, fmt.Errorf("%w: unknown protocol %q", ErrInvalidConfig, config.Protocol)
}

// routingKey maps a slash separated channel onto dotted names for brokers that
// do not allow slashes (AMQP routing keys, Kafka topics, STOMP /topic/ names)
func routingKey(destination string) string {
	return strings.ReplaceAll(strings.Trim(destination, "/"), "/", ".")
}

func checkMessage(destination string, payload []byte) error {
	if strings.TrimSpace(destination) == "" {
		return fmt.Errorf("%w: empty destination", ErrInvalidMessage)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidMessage)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidMessage)
	}

	return nil
}

// linkState is embedded by link implementations to provide Done and Err
type linkState struct {
	once sync.Once
	done chan struct{}

	mu  sync.Mutex
	err error
}

func newLinkState() *linkState {
	return &linkState{done: make(chan struct{})}
}

func (l *linkState) fail(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()

		close(l.done)
	})
}

func (l *linkState) Done() <-chan struct{} {
	return l.done
}

func (l *linkState) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.err
}

func (l *linkState) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
