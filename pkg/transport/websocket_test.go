package transport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type websocketServer struct {
	*httptest.Server

	received    chan map[string]any
	connections chan *websocket.Conn
}

func newWebsocketServer(t *testing.T) *websocketServer {
	server := &websocketServer{
		received:    make(chan map[string]any, 16),
		connections: make(chan *websocket.Conn, 4),
	}

	upgrader := websocket.Upgrader{}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" || r.Header.Get("X-Client-Id") == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		server.connections <- conn

		for {
			var message map[string]any
			if err := conn.ReadJSON(&message); err != nil {
				return
			}
			server.received <- message
		}
	}))
	t.Cleanup(server.Close)

	return server
}

func (s *websocketServer) config(t *testing.T) Config {
	u, err := url.Parse(s.URL)
	require.NoError(t, err)

	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	config := testConfig()
	config.Protocol = ProtocolWebSocket
	config.Host = host
	config.Port, _ = strconv.Atoi(port)

	return config
}

func (s *websocketServer) next(t *testing.T) map[string]any {
	select {
	case message := <-s.received:
		return message
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestWebsocketLinkPublish(t *testing.T) {
	server := newWebsocketServer(t)

	dialer, err := NewDialer(server.config(t))
	require.NoError(t, err)

	link, err := dialer.Dial(context.Background(), "mobile_driver_test")
	require.NoError(t, err)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, link.Publish(ctx, "vehicles/V1/telemetry", []byte(`{"latitude":4.61,"dataSource":"MOVILE"}`)))

	message := server.next(t)
	assert.Equal(t, "location_update", message["type"])
	assert.Equal(t, "vehicles/V1/telemetry", message["destination"])
	assert.Equal(t, "mobile_driver_test", message["clientId"])
	assert.Equal(t, map[string]any{"latitude": 4.61, "dataSource": "MOVILE"}, message["data"])
	assert.NotContains(t, message, "hasAssignedRoute")

	routed := `{"latitude":4.61,"routeId":42,"hasAssignedRoute":true,"trackingType":"assigned_route","dataSource":"MOVILE"}`
	require.NoError(t, link.Publish(ctx, "routes/42/telemetry", []byte(routed)))

	message = server.next(t)
	assert.Equal(t, "location_update", message["type"])
	assert.Equal(t, true, message["hasAssignedRoute"])
	assert.Equal(t, "assigned_route", message["trackingType"])

	free := `{"latitude":4.61,"hasAssignedRoute":false,"trackingType":"free_tracking","dataSource":"MOVILE"}`
	require.NoError(t, link.Publish(ctx, "vehicles/V1/telemetry", []byte(free)))

	message = server.next(t)
	assert.Equal(t, false, message["hasAssignedRoute"])
	assert.Equal(t, "free_tracking", message["trackingType"])

	require.NoError(t, link.Publish(ctx, "driver/status", []byte(`{"type":"connection_status"}`)))
	assert.Equal(t, "publish", server.next(t)["type"])

	require.NoError(t, link.Ping(ctx))
}

func TestWebsocketLinkAnswersServerPing(t *testing.T) {
	server := newWebsocketServer(t)

	dialer, err := NewDialer(server.config(t))
	require.NoError(t, err)

	link, err := dialer.Dial(context.Background(), "mobile_driver_test")
	require.NoError(t, err)
	defer link.Close()

	serverConn := <-server.connections
	command, _ := json.Marshal(map[string]any{"type": "command", "command": map[string]any{"type": "ping"}})
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, command))

	assert.Equal(t, "pong", server.next(t)["type"])
}

func TestWebsocketLinkDetectsServerClose(t *testing.T) {
	server := newWebsocketServer(t)

	dialer, err := NewDialer(server.config(t))
	require.NoError(t, err)

	link, err := dialer.Dial(context.Background(), "mobile_driver_test")
	require.NoError(t, err)
	defer link.Close()

	serverConn := <-server.connections
	serverConn.Close()

	select {
	case <-link.Done():
		assert.Error(t, link.Err())
	case <-time.After(2 * time.Second):
		t.Fatal("link did not notice the closed socket")
	}
}

func TestWebsocketConnectionReconnects(t *testing.T) {
	server := newWebsocketServer(t)

	config := server.config(t)
	dialer, err := NewDialer(config)
	require.NoError(t, err)

	connection := NewConnection(config, dialer)
	defer connection.Disconnect()

	require.NoError(t, connection.Connect(context.Background()))

	first := <-server.connections
	first.Close()

	require.Eventually(t, func() bool {
		return len(server.connections) == 1 && connection.IsConnected()
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, connection.Publish(context.Background(), "routes/42/telemetry", []byte(`{"latitude":1}`)))
	assert.Equal(t, "routes/42/telemetry", server.next(t)["destination"])
}

func TestWebsocketDialFailure(t *testing.T) {
	server := newWebsocketServer(t)

	config := server.config(t)
	config.Path = "/elsewhere"

	dialer, err := NewDialer(config)
	require.NoError(t, err)

	_, err = dialer.Dial(context.Background(), "mobile_driver_test")
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
}
