package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type publishedMessage struct {
	Destination string
	Payload     string
}

type fakeLink struct {
	*linkState

	mu         sync.Mutex
	published  []publishedMessage
	publishErr error
	pingErr    error
	closeCalls int32
}

func newFakeLink() *fakeLink {
	return &fakeLink{linkState: newLinkState()}
}

func (l *fakeLink) Publish(ctx context.Context, destination string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.publishErr != nil {
		return l.publishErr
	}
	l.published = append(l.published, publishedMessage{Destination: destination, Payload: string(payload)})

	return nil
}

func (l *fakeLink) Ping(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.pingErr
}

func (l *fakeLink) Close() error {
	atomic.AddInt32(&l.closeCalls, 1)
	l.fail(nil)
	return nil
}

func (l *fakeLink) messages() []publishedMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]publishedMessage(nil), l.published...)
}

// fakeDialer hands out links from results in order, repeating the last entry
type fakeDialer struct {
	mu      sync.Mutex
	results []func(ctx context.Context) (Link, error)
	dials   int
	links   []*fakeLink
}

func succeed(d *fakeDialer) func(ctx context.Context) (Link, error) {
	return func(ctx context.Context) (Link, error) {
		link := newFakeLink()
		d.mu.Lock()
		d.links = append(d.links, link)
		d.mu.Unlock()
		return link, nil
	}
}

func refuse(ctx context.Context) (Link, error) {
	return nil, errors.New("connection refused")
}

func hang(ctx context.Context) (Link, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (d *fakeDialer) Dial(ctx context.Context, clientID string) (Link, error) {
	d.mu.Lock()
	index := d.dials
	if index >= len(d.results) {
		index = len(d.results) - 1
	}
	result := d.results[index]
	d.dials++
	d.mu.Unlock()

	return result(ctx)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.dials
}

func (d *fakeDialer) link(i int) *fakeLink {
	d.mu.Lock()
	defer d.mu.Unlock()

	if i >= len(d.links) {
		return nil
	}
	return d.links[i]
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = append(r.statuses, status)
}

func (r *statusRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]State, 0, len(r.statuses))
	for _, status := range r.statuses {
		states = append(states, status.State)
	}
	return states
}

func testConfig() Config {
	config := DefaultConfig()
	config.ConnectTimeout = time.Second
	config.HeartbeatInterval = 0
	config.ReconnectInterval = time.Millisecond
	config.MaxReconnectInterval = 4 * time.Millisecond
	config.PublishTimeout = time.Second

	return config
}
