package transport

import (
	"context"
	"crypto/tls"
	"errors"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type mqttDialer struct {
	config Config
}

func (d *mqttDialer) Dial(ctx context.Context, clientID string) (Link, error) {
	link := &mqttLink{
		linkState: newLinkState(),
		qos:       d.config.QoS,
	}

	options := mqtt.NewClientOptions().
		AddBroker(d.config.URL()).
		SetClientID(clientID).
		SetKeepAlive(d.config.KeepAlive).
		SetCleanSession(true).
		SetConnectTimeout(d.config.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			link.fail(err)
		})

	if d.config.Username != "" {
		options.SetUsername(d.config.Username)
		options.SetPassword(d.config.Password)
	}

	if d.config.secure() {
		options.SetTLSConfig(&tls.Config{InsecureSkipVerify: d.config.InsecureSkipVerify})
	}

	client := mqtt.NewClient(options)
	token := client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}

	if err := token.Error(); err != nil {
		return nil, err
	}

	link.client = client

	return link, nil
}

type mqttLink struct {
	*linkState

	client mqtt.Client
	qos    byte
}

func (l *mqttLink) Publish(ctx context.Context, destination string, payload []byte) error {
	token := l.client.Publish(destination, l.qos, false, payload)

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping relies on the client keepalive, a missed PINGRESP closes the connection
func (l *mqttLink) Ping(ctx context.Context) error {
	if !l.client.IsConnectionOpen() {
		return errors.New("mqtt connection is not open")
	}

	return nil
}

func (l *mqttLink) Close() error {
	if l.client.IsConnected() {
		l.client.Disconnect(250)
	}
	l.fail(nil)

	return nil
}
