package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/urbantracker/urbantracker-driver/pkg/ctdf"
	"github.com/urbantracker/urbantracker-driver/pkg/transport"
)

type sentMessage struct {
	Destination string
	Payload     string
}

type fakeTransport struct {
	mu          sync.Mutex
	status      transport.Status
	connectErr  error
	publishErr  error
	published   []sentMessage
	observers   map[int]func(transport.Status)
	nextID      int
	disconnects int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		status:    transport.Status{State: transport.StateDisconnected, Protocol: transport.ProtocolMQTT},
		observers: map[int]func(transport.Status){},
	}
}

func (f *fakeTransport) setState(state transport.State) {
	f.mu.Lock()
	f.status.State = state
	if state == transport.StateConnected {
		f.status.ClientID = "mobile_driver_1700000000000_abcdef12"
	}
	status := f.status
	observers := make([]func(transport.Status), 0, len(f.observers))
	for _, observer := range f.observers {
		observers = append(observers, observer)
	}
	f.mu.Unlock()

	for _, observer := range observers {
		observer(status)
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	err := f.connectErr
	f.mu.Unlock()

	f.setState(transport.StateConnecting)
	if err != nil {
		f.setState(transport.StateError)
		return err
	}

	f.setState(transport.StateConnected)
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()

	f.setState(transport.StateDisconnected)
}

func (f *fakeTransport) Publish(ctx context.Context, destination string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status.State != transport.StateConnected {
		return transport.ErrNotConnected
	}
	if f.publishErr != nil {
		return f.publishErr
	}

	f.published = append(f.published, sentMessage{Destination: destination, Payload: string(payload)})
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.status.State == transport.StateConnected
}

func (f *fakeTransport) Status() transport.Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.status
}

func (f *fakeTransport) OnStatusChange(observer func(transport.Status)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.observers[id] = observer

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()

		delete(f.observers, id)
	}
}

func (f *fakeTransport) messages(destination string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	var messages []sentMessage
	for _, message := range f.published {
		if destination == "" || message.Destination == destination {
			messages = append(messages, message)
		}
	}
	return messages
}

func (f *fakeTransport) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.disconnects
}

func factoryFor(transports ...*fakeTransport) TransportFactory {
	var mu sync.Mutex
	next := 0

	return func() (Transport, error) {
		mu.Lock()
		defer mu.Unlock()

		if next >= len(transports) {
			return nil, errors.New("no transport left")
		}
		t := transports[next]
		next++
		return t, nil
	}
}

type observations struct {
	mu        sync.Mutex
	statuses  []TrackingStatus
	locations []bool
}

func (o *observations) status(status TrackingStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.statuses = append(o.statuses, status)
}

func (o *observations) location(sample ctdf.LocationSample, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.locations = append(o.locations, success)
}

func (o *observations) lastStatus() TrackingStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.statuses[len(o.statuses)-1]
}

func (o *observations) statusCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.statuses)
}

func (o *observations) locationResults() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]bool(nil), o.locations...)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []DeliveryEvent
}

func (r *recordedEvents) Record(event DeliveryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *recordedEvents) all() []DeliveryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]DeliveryEvent(nil), r.events...)
}

func testOptions() Options {
	return Options{
		EnableOfflineQueue:  true,
		DrainPacing:         time.Millisecond,
		ReconnectDrainDelay: time.Millisecond,
	}
}

func sample(latitude float64, timestamp float64) ctdf.LocationSample {
	return ctdf.LocationSample{Latitude: latitude, Longitude: -74.08, Timestamp: timestamp}
}
