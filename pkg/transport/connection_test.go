package transport

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectSuccess(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.results = append(dialer.results, succeed(dialer))

	connection := NewConnection(testConfig(), dialer)
	defer connection.Disconnect()

	recorder := &statusRecorder{}
	connection.OnStatusChange(recorder.record)

	require.NoError(t, connection.Connect(context.Background()))

	assert.True(t, connection.IsConnected())
	status := connection.Status()
	assert.Equal(t, StateConnected, status.State)
	assert.True(t, strings.HasPrefix(status.ClientID, DefaultClientIDPrefix))
	assert.False(t, status.ConnectedAt.IsZero())
	assert.Equal(t, []State{StateConnecting, StateConnected}, recorder.states())

	// already connected
	assert.NoError(t, connection.Connect(context.Background()))
	assert.Equal(t, 1, dialer.dialCount())
}

func TestConnectFailureDoesNotRetry(t *testing.T) {
	dialer := &fakeDialer{results: []func(ctx context.Context) (Link, error){refuse}}

	connection := NewConnection(testConfig(), dialer)
	defer connection.Disconnect()

	err := connection.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateError, connection.Status().State)
	assert.Contains(t, connection.Status().LastError, "connection refused")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())

	// a fresh connect is allowed from Error
	err = connection.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestConnectTimeout(t *testing.T) {
	dialer := &fakeDialer{results: []func(ctx context.Context) (Link, error){hang}}

	config := testConfig()
	config.ConnectTimeout = 20 * time.Millisecond

	connection := NewConnection(config, dialer)
	defer connection.Disconnect()

	started := time.Now()
	err := connection.Connect(context.Background())

	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, StateError, connection.Status().State)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestSendWhileDisconnected(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.results = append(dialer.results, succeed(dialer))

	connection := NewConnection(testConfig(), dialer)
	defer connection.Disconnect()

	err := connection.Send("vehicles/V1/telemetry", []byte(`{}`), nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	err = connection.Publish(context.Background(), "vehicles/V1/telemetry", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPublish(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.results = append(dialer.results, succeed(dialer))

	connection := NewConnection(testConfig(), dialer)
	defer connection.Disconnect()

	require.NoError(t, connection.Connect(context.Background()))

	require.NoError(t, connection.Publish(context.Background(), "vehicles/V1/telemetry", []byte(`{"latitude":4.61}`)))

	acked := make(chan error, 1)
	require.NoError(t, connection.Send("driver/status", []byte(`{"type":"connection_status"}`), func(err error) { acked <- err }))
	assert.NoError(t, <-acked)

	assert.Equal(t, []publishedMessage{
		{Destination: "vehicles/V1/telemetry", Payload: `{"latitude":4.61}`},
		{Destination: "driver/status", Payload: `{"type":"connection_status"}`},
	}, dialer.link(0).messages())

	err := connection.Send("", []byte(`{}`), nil)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestPublishError(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.results = append(dialer.results, succeed(dialer))

	connection := NewConnection(testConfig(), dialer)
	defer connection.Disconnect()

	require.NoError(t, connection.Connect(context.Background()))
	link := dialer.link(0)
	link.mu.Lock()
	link.publishErr = errors.New("not authorised")
	link.mu.Unlock()

	err := connection.Publish(context.Background(), "vehicles/V1/telemetry", []byte(`{}`))
	assert.ErrorIs(t, err, ErrPublish)
}

func TestReconnectCap(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.results = append(dialer.results, succeed(dialer), refuse)

	config := testConfig()
	config.MaxReconnectAttempts = 5

	connection := NewConnection(config, dialer)
	defer connection.Disconnect()

	recorder := &statusRecorder{}
	connection.OnStatusChange(recorder.record)

	require.NoError(t, connection.Connect(context.Background()))
	dialer.link(0).fail(errors.New("broker went away"))

	require.Eventually(t, func() bool {
		return connection.Status().State == StateError
	}, 2*time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)

	// the initial connect plus exactly five reconnect attempts
	assert.Equal(t, 6, dialer.dialCount())

	status := connection.Status()
	assert.Equal(t, StateError, status.State)
	assert.Equal(t, 5, status.ReconnectAttempts)
	assert.Equal(t, ErrReconnectExhausted.Error(), status.LastError)

	states := recorder.states()
	assert.Equal(t, StateReconnecting, states[2])
	assert.Equal(t, StateError, states[len(states)-1])
}

func TestReconnectDisabled(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.results = append(dialer.results, succeed(dialer))

	config := testConfig()
	config.MaxReconnectAttempts = 0

	connection := NewConnection(config, dialer)
	defer connection.Disconnect()

	require.NoError(t, connection.Connect(context.Background()))
	dialer.link(0).fail(errors.New("broker went away"))

	require.Eventually(t, func() bool {
		return connection.Status().State == StateError
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestReconnectRecovers(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.results = append(dialer.results, succeed(dialer), refuse, succeed(dialer))

	connection := NewConnection(testConfig(), dialer)
	defer connection.Disconnect()

	recorder := &statusRecorder{}
	connection.OnStatusChange(recorder.record)

	require.NoError(t, connection.Connect(context.Background()))
	first := dialer.link(0)
	first.fail(errors.New("broker went away"))

	require.Eventually(t, func() bool {
		return connection.IsConnected() && dialer.dialCount() == 3
	}, time.Second, time.Millisecond)

	assert.EqualValues(t, 1, atomic.LoadInt32(&first.closeCalls))
	assert.Equal(t, 0, connection.Status().ReconnectAttempts)
	assert.Equal(t, []State{
		StateConnecting,
		StateConnected,
		StateReconnecting,
		StateReconnecting,
		StateConnected,
	}, recorder.states())

	require.NoError(t, connection.Publish(context.Background(), "driver/status", []byte(`{}`)))
	assert.Len(t, dialer.link(1).messages(), 1)
	assert.Empty(t, first.messages())
}

func TestHeartbeatFailureTriggersReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.results = append(dialer.results, succeed(dialer))

	config := testConfig()
	config.HeartbeatInterval = 5 * time.Millisecond
	config.HeartbeatTimeout = 5 * time.Millisecond

	connection := NewConnection(config, dialer)
	defer connection.Disconnect()

	require.NoError(t, connection.Connect(context.Background()))
	first := dialer.link(0)
	first.mu.Lock()
	first.pingErr = errors.New("no pong")
	first.mu.Unlock()

	require.Eventually(t, func() bool {
		return dialer.dialCount() >= 2 && connection.IsConnected()
	}, time.Second, time.Millisecond)

	assert.True(t, first.closed())
	assert.EqualValues(t, 1, atomic.LoadInt32(&first.closeCalls))
}

func TestDisconnectIsTerminal(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.results = append(dialer.results, succeed(dialer))

	connection := NewConnection(testConfig(), dialer)

	recorder := &statusRecorder{}
	connection.OnStatusChange(recorder.record)

	require.NoError(t, connection.Connect(context.Background()))
	connection.Disconnect()

	link := dialer.link(0)
	assert.EqualValues(t, 1, atomic.LoadInt32(&link.closeCalls))
	assert.Equal(t, StateDisconnected, connection.Status().State)
	assert.False(t, connection.IsConnected())

	// the closed link must not trigger a reconnect
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())

	assert.ErrorIs(t, connection.Connect(context.Background()), ErrDisconnected)
	assert.ErrorIs(t, connection.Send("driver/status", []byte(`{}`), nil), ErrNotConnected)
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, recorder.states())

	connection.Disconnect()
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.results = append(dialer.results, succeed(dialer), refuse)

	config := testConfig()
	config.ReconnectInterval = 20 * time.Millisecond
	config.MaxReconnectInterval = 20 * time.Millisecond
	config.MaxReconnectAttempts = 100

	connection := NewConnection(config, dialer)

	require.NoError(t, connection.Connect(context.Background()))
	dialer.link(0).fail(errors.New("broker went away"))

	require.Eventually(t, func() bool {
		return connection.Status().State == StateReconnecting
	}, time.Second, time.Millisecond)

	connection.Disconnect()
	dials := dialer.dialCount()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, dials, dialer.dialCount())
	assert.Equal(t, StateDisconnected, connection.Status().State)
}

func TestDisconnectAbortsConnect(t *testing.T) {
	dialer := &fakeDialer{results: []func(ctx context.Context) (Link, error){hang}}

	connection := NewConnection(testConfig(), dialer)

	result := make(chan error, 1)
	go func() {
		result <- connection.Connect(context.Background())
	}()

	require.Eventually(t, func() bool {
		return dialer.dialCount() == 1
	}, time.Second, time.Millisecond)

	connection.Disconnect()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("connect did not return after disconnect")
	}
}

func TestUnsubscribe(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.results = append(dialer.results, succeed(dialer))

	connection := NewConnection(testConfig(), dialer)
	defer connection.Disconnect()

	recorder := &statusRecorder{}
	unsubscribe := connection.OnStatusChange(recorder.record)
	unsubscribe()

	require.NoError(t, connection.Connect(context.Background()))
	assert.Empty(t, recorder.states())
}
