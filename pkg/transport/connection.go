package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Connection manages the lifecycle of one broker connection: connect timeout,
// heartbeat, reconnect with exponential backoff and a terminal Disconnect.
// All state changes go through transition and observers receive immutable Status values
// in the order they happened.
type Connection struct {
	config Config
	dialer Dialer
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu         sync.Mutex
	status     Status
	link       Link
	generation uint64
	closed     bool
	backOff    backoff.BackOff

	subscribers    map[int]func(Status)
	nextSubscriber int
	pending        []Status
	notifying      bool
}

func NewConnection(config Config, dialer Dialer) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = config.ReconnectInterval
	exponential.Multiplier = 2
	exponential.RandomizationFactor = 0
	exponential.MaxElapsedTime = 0
	if config.MaxReconnectInterval > 0 {
		exponential.MaxInterval = config.MaxReconnectInterval
	}
	exponential.Reset()

	return &Connection{
		config:      config,
		dialer:      dialer,
		logger:      log.With().Str("protocol", string(config.Protocol)).Str("broker", config.Address()).Logger(),
		ctx:         ctx,
		cancel:      cancel,
		status:      Status{State: StateDisconnected, Protocol: config.Protocol},
		backOff:     backoff.WithMaxRetries(exponential, uint64(config.MaxReconnectAttempts)),
		subscribers: map[int]func(Status){},
	}
}

// Connect dials the broker once. A failure or timeout leaves the connection in
// StateError without any automatic retry.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrDisconnected
	}

	switch c.status.State {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	}

	clientID := GenerateClientID(c.config.ClientIDPrefix)
	c.status.ClientID = clientID
	c.status.ReconnectAttempts = 0
	c.status.LastError = ""
	c.backOff.Reset()
	c.generation++
	generation := c.generation
	c.apply(eventConnectRequested)
	c.mu.Unlock()
	c.flushStatus()

	c.logger.Info().Str("clientid", clientID).Msg("Connecting to broker")

	link, err := c.dial(ctx, clientID)

	c.mu.Lock()
	if generation != c.generation || c.closed {
		c.mu.Unlock()
		if link != nil {
			link.Close()
		}
		return ErrDisconnected
	}

	if err != nil {
		c.status.LastError = err.Error()
		if errors.Is(err, ErrConnectTimeout) {
			c.apply(eventConnectTimeout)
		} else {
			c.apply(eventConnectFailed)
		}
		c.mu.Unlock()
		c.flushStatus()

		c.logger.Error().Err(err).Str("clientid", clientID).Msg("Failed to connect to broker")
		return err
	}

	c.attach(link, generation)
	c.mu.Unlock()
	c.flushStatus()

	c.logger.Info().Str("clientid", clientID).Msg("Connected to broker")
	return nil
}

// Disconnect is terminal, the Connection cannot be reused afterwards
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.closed = true
	c.generation++
	link := c.link
	c.link = nil
	c.apply(eventDisconnectRequested)
	c.mu.Unlock()

	c.cancel()
	if link != nil {
		if err := link.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Error closing broker link")
		}
	}

	c.wg.Wait()
	c.flushStatus()

	c.logger.Info().Msg("Disconnected from broker")
}

// Send hands the payload to the link without waiting for the broker.
// It fails synchronously with ErrNotConnected unless the connection is up, ack is
// called once with the outcome.
func (c *Connection) Send(destination string, payload []byte, ack func(error)) error {
	if err := checkMessage(destination, payload); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.status.State != StateConnected || c.link == nil {
		return ErrNotConnected
	}

	link := c.link
	c.wg.Go(func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.config.publishTimeout())
		defer cancel()

		err := link.Publish(ctx, destination, payload)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrPublish, err)
			c.logger.Warn().Err(err).Str("destination", destination).Msg("Publish failed")
		} else {
			c.logger.Debug().Str("destination", destination).Int("bytes", len(payload)).Msg("Published message")
		}

		if ack != nil {
			ack(err)
		}
	})

	return nil
}

// Publish is Send followed by waiting for the acknowledgement
func (c *Connection) Publish(ctx context.Context, destination string, payload []byte) error {
	acked := make(chan error, 1)

	if err := c.Send(destination, payload, func(err error) { acked <- err }); err != nil {
		return err
	}

	select {
	case err := <-acked:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status.State == StateConnected
}

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// OnStatusChange registers an observer and returns a function removing it.
// Observers must not call Disconnect.
func (c *Connection) OnStatusChange(observer func(Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubscriber
	c.nextSubscriber++
	c.subscribers[id] = observer

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		delete(c.subscribers, id)
	}
}

// dial applies the connect timeout and aborts when the Connection is disconnected
func (c *Connection) dial(ctx context.Context, clientID string) (Link, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	link, err := c.dialer.Dial(dialCtx, clientID)
	if err != nil {
		if link != nil {
			link.Close()
		}

		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %v", ErrConnectTimeout, c.config.ConnectTimeout, err)
		}

		return nil, err
	}

	return link, nil
}

// apply must be called with mu held
func (c *Connection) apply(ev event) bool {
	next, ok := transition(c.status.State, ev)
	if !ok {
		c.logger.Debug().Str("state", c.status.State.String()).Str("event", ev.String()).Msg("Ignoring event")
		return false
	}

	if next != StateConnected {
		c.status.ConnectedAt = time.Time{}
	}

	c.status.State = next
	c.pending = append(c.pending, c.status)

	return true
}

// attach must be called with mu held
func (c *Connection) attach(link Link, generation uint64) {
	c.link = link
	c.status.LastError = ""
	c.backOff.Reset()
	c.status.ConnectedAt = time.Now()
	c.status.ReconnectAttempts = 0
	c.apply(eventConnected)

	c.wg.Go(func() {
		c.watch(link, generation)
	})

	if c.config.HeartbeatInterval > 0 {
		c.wg.Go(func() {
			c.heartbeat(link, generation)
		})
	}
}

func (c *Connection) watch(link Link, generation uint64) {
	select {
	case <-c.ctx.Done():
	case <-link.Done():
		c.linkLost(generation, link.Err())
	}
}

func (c *Connection) heartbeat(link Link, generation uint64) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-link.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.config.heartbeatTimeout())
			err := link.Ping(ctx)
			cancel()

			if err != nil {
				c.linkLost(generation, fmt.Errorf("%w: %v", ErrHeartbeatMissed, err))
				return
			}
		}
	}
}

func (c *Connection) linkLost(generation uint64, cause error) {
	c.mu.Lock()
	if generation != c.generation || c.closed || c.status.State != StateConnected {
		c.mu.Unlock()
		return
	}

	link := c.link
	c.link = nil
	if cause == nil {
		cause = errors.New("connection closed by broker")
	}
	c.status.LastError = cause.Error()

	c.logger.Warn().Err(cause).Str("clientid", c.status.ClientID).Msg("Lost connection to broker")

	c.scheduleReconnect()
	c.mu.Unlock()

	if link != nil {
		link.Close()
	}
	c.flushStatus()
}

// scheduleReconnect must be called with mu held
func (c *Connection) scheduleReconnect() {
	delay := c.backOff.NextBackOff()

	if delay == backoff.Stop {
		c.status.LastError = ErrReconnectExhausted.Error()
		c.apply(eventRetriesExhausted)
		c.logger.Error().Int("attempts", c.status.ReconnectAttempts).Msg("Giving up reconnecting to broker")
		return
	}

	c.generation++
	generation := c.generation
	c.status.ReconnectAttempts++

	if c.status.State == StateConnected {
		c.apply(eventLinkLost)
	} else {
		c.apply(eventConnectFailed)
	}

	c.logger.Info().Int("attempt", c.status.ReconnectAttempts).Str("delay", delay.String()).Msg("Scheduling reconnect")

	c.wg.Go(func() {
		c.reconnect(generation, delay)
	})
}

func (c *Connection) reconnect(generation uint64, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return
	case <-timer.C:
	}

	c.mu.Lock()
	if generation != c.generation || c.closed {
		c.mu.Unlock()
		return
	}
	clientID := c.status.ClientID
	attempt := c.status.ReconnectAttempts
	c.mu.Unlock()

	c.logger.Info().Int("attempt", attempt).Str("clientid", clientID).Msg("Reconnecting to broker")

	link, err := c.dial(c.ctx, clientID)

	c.mu.Lock()
	if generation != c.generation || c.closed {
		c.mu.Unlock()
		if link != nil {
			link.Close()
		}
		return
	}

	if err != nil {
		c.status.LastError = err.Error()
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
		c.scheduleReconnect()
	} else {
		c.attach(link, generation)
		c.logger.Info().Int("attempt", attempt).Msg("Reconnected to broker")
	}
	c.mu.Unlock()

	c.flushStatus()
}

// flushStatus delivers queued snapshots outside the lock. Only one goroutine
// delivers at a time so observers see transitions in order.
func (c *Connection) flushStatus() {
	c.mu.Lock()
	if c.notifying {
		c.mu.Unlock()
		return
	}
	c.notifying = true

	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil

		observers := make([]func(Status), 0, len(c.subscribers))
		for _, observer := range c.subscribers {
			observers = append(observers, observer)
		}
		c.mu.Unlock()

		for _, status := range batch {
			for _, observer := range observers {
				observer(status)
			}
		}

		c.mu.Lock()
	}

	c.notifying = false
	c.mu.Unlock()
}
