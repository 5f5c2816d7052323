package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/urbantracker/urbantracker-driver/pkg/ctdf"
	"github.com/urbantracker/urbantracker-driver/pkg/delivery"
	"github.com/urbantracker/urbantracker-driver/pkg/offlinequeue"
	"github.com/urbantracker/urbantracker-driver/pkg/sampler"
	"github.com/urbantracker/urbantracker-driver/pkg/transport"
)

// Transport is the part of transport.Connection the controller drives
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Publish(ctx context.Context, destination string, payload []byte) error
	IsConnected() bool
	Status() transport.Status
	OnStatusChange(observer func(transport.Status)) func()
}

// TransportFactory builds a fresh Transport for every session
type TransportFactory func() (Transport, error)

func ConnectionFactory(config transport.Config) TransportFactory {
	return func() (Transport, error) {
		dialer, err := transport.NewDialer(config)
		if err != nil {
			return nil, err
		}

		return transport.NewConnection(config, dialer), nil
	}
}

type Sampler interface {
	Sample(ctx context.Context) (ctdf.LocationSample, error)
}

type ControllerConfig struct {
	Policy    *delivery.Policy
	Transport TransportFactory
	// Fallback is used when the primary transport cannot take a message
	Fallback Deliverer
	Sampler  Sampler
	Recorder Recorder
	Metrics  *Metrics
	Options  Options
}

// Controller owns one tracking session at a time: its SessionContext, Transport and offline queue.
type Controller struct {
	policy   *delivery.Policy
	factory  TransportFactory
	fallback Deliverer
	sampler  Sampler
	recorder Recorder
	metrics  *Metrics
	options  Options

	// serialises StartTracking, StopTracking and Close
	lifecycle sync.Mutex

	mu               sync.Mutex
	statusObserver   func(TrackingStatus)
	locationObserver func(ctdf.LocationSample, bool)
	notifying        bool
	statusDirty      bool

	tracking    bool
	session     *ctdf.SessionContext
	startedAt   time.Time
	conn        Transport
	unsubscribe func()
	queue       *offlinequeue.Queue
	// a Flush is waiting on a session worker
	drainScheduled bool

	lastUpdate    time.Time
	updateCount   int
	lastDelivered *ctdf.LocationSample
	distance      float64
	lastDeliverer string

	sessionCtx context.Context
	cancel     context.CancelFunc
	workers    *conc.WaitGroup
}

func NewController(config ControllerConfig) *Controller {
	policy := config.Policy
	if policy == nil {
		policy = delivery.NewPolicy()
	}

	return &Controller{
		policy:   policy,
		factory:  config.Transport,
		fallback: config.Fallback,
		sampler:  config.Sampler,
		recorder: config.Recorder,
		metrics:  config.Metrics,
		options:  config.Options,
	}
}

func (c *Controller) OnStatusChange(observer func(TrackingStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statusObserver = observer
}

func (c *Controller) OnLocationUpdate(observer func(sample ctdf.LocationSample, success bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.locationObserver = observer
}

// StartTracking tears down any previous session and starts a new one. It returns
// false when neither the primary transport nor a fallback can be used.
func (c *Controller) StartTracking(ctx context.Context, session ctdf.SessionContext) bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.release()

	session = session.Normalise()
	logger := log.With().Str("vehicle", session.VehicleID).Str("route", session.RouteID).Logger()

	var conn Transport
	if c.factory != nil {
		created, err := c.factory()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create transport")
		} else {
			conn = created
		}
	}

	if conn == nil && c.fallback == nil {
		logger.Error().Msg("No transport available, tracking not started")
		return false
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.session = &session
	c.startedAt = time.Now()
	c.conn = conn
	c.queue = offlinequeue.New(c.options.DrainPacing)
	c.lastUpdate = time.Time{}
	c.updateCount = 0
	c.lastDelivered = nil
	c.distance = 0
	c.lastDeliverer = ""
	c.sessionCtx = sessionCtx
	c.cancel = cancel
	c.workers = &conc.WaitGroup{}
	if conn != nil {
		c.unsubscribe = conn.OnStatusChange(c.handleTransportStatus)
	}
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Connect(ctx); err != nil {
			if c.fallback == nil {
				logger.Error().Err(err).Msg("Failed to connect, tracking not started")
				c.release()
				return false
			}

			logger.Warn().Err(err).Msg("Primary transport unavailable, delivering through fallback")
		}
	}

	c.mu.Lock()
	c.tracking = true
	c.mu.Unlock()

	c.metrics.sessionStarted()
	logger.Info().Str("type", string(session.TrackingType())).Msg("Tracking started")

	if c.options.PublishTripStatus {
		c.publishTripStatus(ctx, true)
	}

	c.notifyStatus()

	if c.sampler != nil {
		if c.options.SendFirstSample {
			c.sendNextSample(ctx)
		}

		if c.options.AutoPublish && c.options.PublishInterval > 0 {
			c.after(0, c.autoPublish)
		}
	}

	return true
}

// StopTracking ends the session but leaves the transport connected,
// it is released by the next StartTracking or Close.
func (c *Controller) StopTracking(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if !c.tracking {
		c.mu.Unlock()
		return
	}

	c.tracking = false
	cancel, workers := c.cancel, c.workers
	c.cancel, c.workers = nil, nil
	updates := c.updateCount
	c.mu.Unlock()

	cancel()
	workers.Wait()

	remaining := c.Flush(ctx)

	if c.options.PublishTripStatus {
		c.publishTripStatus(ctx, false)
	}

	c.metrics.sessionStopped()
	log.Info().Int("updates", updates).Int("queue", remaining).Msg("Tracking stopped")

	// last notification for this session
	c.notifyStatus()

	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.session = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	if c.options.DisconnectOnStop {
		c.release()
	}
}

// Close stops tracking and disconnects the transport
func (c *Controller) Close() {
	c.StopTracking(context.Background())

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.release()
}

// SendLocation validates and delivers one sample. Samples that cannot be delivered
// are queued when the offline queue is enabled. The return value reports delivery.
func (c *Controller) SendLocation(ctx context.Context, sample ctdf.LocationSample) bool {
	if err := c.policy.Validate(sample); err != nil {
		log.Warn().Err(err).Msg("Rejected location sample")
		c.metrics.sampleRejected()
		c.notifyLocation(sample, false)
		c.notifyStatus()
		return false
	}

	c.mu.Lock()
	tracking := c.tracking
	var session ctdf.SessionContext
	if c.session != nil {
		session = *c.session
	}
	queue := c.queue
	c.mu.Unlock()

	if !tracking {
		log.Warn().Msg("Location received while not tracking")
		c.notifyLocation(sample, false)
		return false
	}

	// older queued samples go first, this one waits behind them
	if c.options.EnableOfflineQueue && queue != nil && (queue.Size() > 0 || queue.Draining()) {
		queue.Enqueue(sample)
		c.metrics.sampleQueued(queue.Size())
		c.record(session, sample, "", false, true)
		log.Debug().Int("queue", queue.Size()).Msg("Location queued behind undelivered locations")

		c.scheduleDrain(queue)

		c.notifyLocation(sample, false)
		c.notifyStatus()
		return false
	}

	delivered := c.deliver(ctx, session, sample)

	if !delivered && c.options.EnableOfflineQueue && queue != nil {
		queue.Enqueue(sample)
		c.metrics.sampleQueued(queue.Size())
		c.record(session, sample, "", false, true)
		log.Debug().Int("queue", queue.Size()).Msg("Location queued for later delivery")
	}

	c.notifyLocation(sample, delivered)
	c.notifyStatus()

	return delivered
}

// Flush drains the offline queue now and returns how many samples remain queued
func (c *Controller) Flush(ctx context.Context) int {
	c.mu.Lock()
	queue := c.queue
	conn := c.conn
	var session ctdf.SessionContext
	active := c.session != nil
	if active {
		session = *c.session
	}
	c.mu.Unlock()

	if queue == nil || !active {
		return 0
	}
	if queue.Size() == 0 {
		return 0
	}
	if (conn == nil || !conn.IsConnected()) && c.fallback == nil {
		return queue.Size()
	}

	log.Info().Int("queue", queue.Size()).Msg("Draining offline queue")

	remaining := queue.Drain(ctx, func(ctx context.Context, sample ctdf.LocationSample) bool {
		return c.deliver(ctx, session, sample)
	})

	c.metrics.setQueueDepth(remaining)
	log.Info().Int("queue", remaining).Msg("Offline queue drained")

	c.notifyStatus()

	return remaining
}

func (c *Controller) Status() TrackingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshot()
}

func (c *Controller) deliver(ctx context.Context, session ctdf.SessionContext, sample ctdf.LocationSample) bool {
	message, err := c.policy.Format(sample, session)
	if err != nil {
		return false
	}

	payload, err := c.policy.Encode(message)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode telemetry message")
		return false
	}

	destination := c.policy.DestinationFor(session)

	for _, deliverer := range c.deliverers() {
		if deliverer.Deliver(ctx, destination, payload) {
			c.markDelivered(sample, deliverer.name)
			c.metrics.delivered(deliverer.name)
			c.record(session, sample, deliverer.name, true, false)
			log.Debug().Str("destination", destination).Str("deliverer", deliverer.name).Msg("Location delivered")
			return true
		}
	}

	c.metrics.deliveryFailed()

	return false
}

func (c *Controller) deliverers() []namedDeliverer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var deliverers []namedDeliverer
	if c.conn != nil {
		deliverers = append(deliverers, namedDeliverer{name: DelivererPrimary, Deliverer: TransportDeliverer{Transport: c.conn}})
	}
	if c.fallback != nil {
		deliverers = append(deliverers, namedDeliverer{name: DelivererFallback, Deliverer: c.fallback})
	}

	return deliverers
}

func (c *Controller) markDelivered(sample ctdf.LocationSample, deliverer string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastUpdate = time.Now()
	c.updateCount++
	c.lastDeliverer = deliverer

	if c.lastDelivered != nil {
		c.distance += c.lastDelivered.DistanceTo(sample)
	}
	c.lastDelivered = &sample
}

func (c *Controller) handleTransportStatus(status transport.Status) {
	c.mu.Lock()
	active := c.session != nil
	c.mu.Unlock()

	if !active {
		return
	}

	switch status.State {
	case transport.StateConnected:
		if c.options.AnnounceDelay > 0 {
			clientID := status.ClientID
			c.after(c.options.AnnounceDelay, func(ctx context.Context) {
				c.announce(ctx, clientID)
			})
		}

		if c.options.EnableOfflineQueue {
			c.mu.Lock()
			c.drainScheduled = true
			c.mu.Unlock()

			c.after(c.options.ReconnectDrainDelay, c.scheduledFlush)
		}
	case transport.StateReconnecting:
		c.metrics.reconnectAttempt()
	}

	c.notifyStatus()
}

func (c *Controller) announce(ctx context.Context, clientID string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		return
	}

	payload, err := c.policy.Encode(delivery.NewConnectionStatusMessage(clientID, time.Now()))
	if err != nil {
		return
	}

	if err := conn.Publish(ctx, delivery.StatusChannel, payload); err != nil {
		log.Warn().Err(err).Msg("Failed to publish connection announcement")
		return
	}

	log.Debug().Str("clientid", clientID).Msg("Published connection announcement")
}

// publishTripStatus is best effort and never queued
func (c *Controller) publishTripStatus(ctx context.Context, active bool) {
	c.mu.Lock()
	startedAt := c.startedAt
	c.mu.Unlock()

	payload, err := c.policy.Encode(delivery.NewRecorridoStatusMessage(active, startedAt, time.Now()))
	if err != nil {
		return
	}

	for _, deliverer := range c.deliverers() {
		if deliverer.Deliver(ctx, delivery.RecorridoChannel, payload) {
			return
		}
	}

	log.Debug().Bool("active", active).Msg("Trip status not delivered")
}

func (c *Controller) autoPublish(ctx context.Context) {
	ticker := time.NewTicker(c.options.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.sendNextSample(ctx) {
				return
			}
		}
	}
}

// sendNextSample returns false once the sampler has nothing more to give
func (c *Controller) sendNextSample(ctx context.Context) bool {
	sample, err := c.sampler.Sample(ctx)
	if errors.Is(err, sampler.ErrExhausted) {
		log.Info().Msg("Location sampler exhausted, auto publish stopped")
		return false
	}
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read location")
		return ctx.Err() == nil
	}

	c.SendLocation(ctx, sample)

	return true
}

// scheduleDrain flushes the queue on a session worker unless a drain is already
// running or waiting for the reconnect delay
func (c *Controller) scheduleDrain(queue *offlinequeue.Queue) {
	if queue.Draining() {
		return
	}

	c.mu.Lock()
	if c.drainScheduled {
		c.mu.Unlock()
		return
	}
	c.drainScheduled = true
	c.mu.Unlock()

	c.after(0, c.scheduledFlush)
}

func (c *Controller) scheduledFlush(ctx context.Context) {
	c.mu.Lock()
	c.drainScheduled = false
	c.mu.Unlock()

	c.Flush(ctx)
}

// after runs fn on a session worker once delay has passed, unless the session ends first
func (c *Controller) after(delay time.Duration, fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.workers == nil {
		return
	}

	ctx := c.sessionCtx
	c.workers.Go(func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}

		fn(ctx)
	})
}

// release disconnects and forgets everything belonging to the current session
func (c *Controller) release() {
	c.mu.Lock()
	conn, unsubscribe := c.conn, c.unsubscribe
	cancel, workers := c.cancel, c.workers
	queue := c.queue

	c.conn, c.unsubscribe = nil, nil
	c.cancel, c.workers = nil, nil
	c.queue = nil
	c.session = nil
	wasTracking := c.tracking
	c.tracking = false
	c.drainScheduled = false
	c.mu.Unlock()

	if wasTracking {
		c.metrics.sessionStopped()
	}

	if cancel != nil {
		cancel()
	}
	if workers != nil {
		workers.Wait()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if conn != nil {
		conn.Disconnect()
	}

	if queue != nil && queue.Size() > 0 {
		log.Warn().Int("queue", queue.Size()).Msg("Discarding undelivered locations from previous session")
	}
	c.metrics.setQueueDepth(0)
}

func (c *Controller) notifyLocation(sample ctdf.LocationSample, success bool) {
	c.mu.Lock()
	observer := c.locationObserver
	c.mu.Unlock()

	if observer != nil {
		observer(sample, success)
	}
}

// notifyStatus pushes a fresh snapshot to the observer. Nothing is sent once the
// session has been stopped. Concurrent callers coalesce into the latest snapshot.
func (c *Controller) notifyStatus() {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}

	c.statusDirty = true
	if c.notifying {
		c.mu.Unlock()
		return
	}
	c.notifying = true

	for c.statusDirty && c.session != nil {
		c.statusDirty = false
		status := c.snapshot()
		observer := c.statusObserver
		c.mu.Unlock()

		if observer != nil {
			observer(status)
		}

		c.mu.Lock()
	}

	c.notifying = false
	c.mu.Unlock()
}

// snapshot must be called with mu held
func (c *Controller) snapshot() TrackingStatus {
	status := TrackingStatus{
		Connection:     transport.Status{State: transport.StateDisconnected},
		Tracking:       c.tracking,
		UpdateCount:    c.updateCount,
		DistanceMeters: c.distance,
		LastDeliverer:  c.lastDeliverer,
	}

	if c.conn != nil {
		status.Connection = c.conn.Status()
	}

	if c.session != nil {
		session := *c.session
		status.Session = &session
		status.TrackingType = session.TrackingType()

		startedAt := c.startedAt
		status.StartedAt = &startedAt
	}

	if !c.lastUpdate.IsZero() {
		lastUpdate := c.lastUpdate
		status.LastUpdate = &lastUpdate
	}

	if c.queue != nil {
		status.OfflineQueueSize = c.queue.Size()
	}

	return status
}

func (c *Controller) record(session ctdf.SessionContext, sample ctdf.LocationSample, deliverer string, success bool, queued bool) {
	if c.recorder == nil {
		return
	}

	c.recorder.Record(DeliveryEvent{
		Timestamp:    time.Now(),
		SampleTime:   sample.Time(),
		Success:      success,
		Queued:       queued,
		Deliverer:    deliverer,
		Destination:  c.policy.DestinationFor(session),
		VehicleID:    session.VehicleID,
		DriverID:     session.DriverID,
		RouteID:      session.RouteID,
		TrackingType: session.TrackingType(),
	})
}
