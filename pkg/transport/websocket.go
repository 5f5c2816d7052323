package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const websocketCloseWait = time.Second

type websocketDialer struct {
	config Config
}

func (d *websocketDialer) Dial(ctx context.Context, clientID string) (Link, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.config.ConnectTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if d.config.secure() {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: d.config.InsecureSkipVerify}
	}

	header := http.Header{}
	header.Set("X-Client-Id", clientID)
	if d.config.Username != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(d.config.Username + ":" + d.config.Password))
		header.Set("Authorization", "Basic "+credentials)
	}

	conn, _, err := dialer.DialContext(ctx, d.config.URL(), header)
	if err != nil {
		return nil, err
	}

	link := &websocketLink{
		linkState: newLinkState(),
		conn:      conn,
		clientID:  clientID,
		pongs:     make(chan struct{}, 1),
	}

	conn.SetPongHandler(func(string) error {
		select {
		case link.pongs <- struct{}{}:
		default:
		}
		return nil
	})

	go link.readLoop()

	return link, nil
}

// websocketEnvelope wraps every outbound message so the server can route it
type websocketEnvelope struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination"`
	ClientID    string          `json:"clientId"`
	Data        json.RawMessage `json:"data"`

	// location updates repeat the session's tracking type for the server's dispatch
	HasAssignedRoute *bool  `json:"hasAssignedRoute,omitempty"`
	TrackingType     string `json:"trackingType,omitempty"`
}

type trackingFields struct {
	HasAssignedRoute *bool  `json:"hasAssignedRoute"`
	TrackingType     string `json:"trackingType"`
}

type websocketServerMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Command struct {
		Type string `json:"type"`
	} `json:"command,omitempty"`
}

type websocketLink struct {
	*linkState

	conn     *websocket.Conn
	clientID string
	pongs    chan struct{}

	writeMu sync.Mutex
}

func envelopeType(destination string) string {
	if strings.HasSuffix(destination, "/telemetry") {
		return "location_update"
	}

	return "publish"
}

func (l *websocketLink) Publish(ctx context.Context, destination string, payload []byte) error {
	envelope := websocketEnvelope{
		Type:        envelopeType(destination),
		Destination: destination,
		ClientID:    l.clientID,
		Data:        payload,
	}

	if envelope.Type == "location_update" {
		var fields trackingFields
		if err := json.Unmarshal(payload, &fields); err == nil {
			envelope.HasAssignedRoute = fields.HasAssignedRoute
			envelope.TrackingType = fields.TrackingType
		}
	}

	return l.writeJSON(ctx, envelope)
}

// Ping sends a control ping and waits for the matching pong
func (l *websocketLink) Ping(ctx context.Context) error {
	select {
	case <-l.pongs:
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultHeartbeatTimeout)
	}

	l.writeMu.Lock()
	err := l.conn.WriteControl(websocket.PingMessage, nil, deadline)
	l.writeMu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-l.pongs:
		return nil
	case <-l.Done():
		return errors.New("websocket closed while waiting for pong")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *websocketLink) Close() error {
	if l.closed() {
		return nil
	}

	l.writeMu.Lock()
	l.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
		time.Now().Add(websocketCloseWait),
	)
	l.writeMu.Unlock()

	l.fail(nil)

	return l.conn.Close()
}

func (l *websocketLink) writeJSON(ctx context.Context, message any) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		l.conn.SetWriteDeadline(deadline)
	} else {
		l.conn.SetWriteDeadline(time.Time{})
	}

	return l.conn.WriteJSON(message)
}

func (l *websocketLink) readLoop() {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = nil
			}
			l.fail(err)
			return
		}

		l.handleServerMessage(data)
	}
}

func (l *websocketLink) handleServerMessage(data []byte) {
	var message websocketServerMessage
	if err := json.Unmarshal(data, &message); err != nil {
		log.Debug().Err(err).Msg("Ignoring non JSON websocket message")
		return
	}

	switch message.Type {
	case "location_ack":
		log.Debug().Str("clientid", l.clientID).Msg("Location acknowledged by server")
	case "command":
		if message.Command.Type == "ping" {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultHeartbeatTimeout)
			defer cancel()

			err := l.writeJSON(ctx, map[string]any{
				"type":      "pong",
				"timestamp": time.Now().UnixMilli(),
			})
			if err != nil {
				log.Warn().Err(err).Msg("Failed to answer server ping")
			}
		} else {
			log.Debug().Str("command", message.Command.Type).Msg("Unknown server command")
		}
	case "error":
		log.Warn().Str("clientid", l.clientID).Str("message", message.Message).Msg("Server reported error")
	default:
		log.Debug().Str("type", message.Type).Msg("Unhandled websocket message")
	}
}
