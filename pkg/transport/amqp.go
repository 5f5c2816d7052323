package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultAMQPExchange = "telemetry"

type amqpDialer struct {
	config Config
}

func (d *amqpDialer) Dial(ctx context.Context, clientID string) (Link, error) {
	timeout := d.config.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	amqpConfig := amqp.Config{
		Heartbeat: d.config.HeartbeatInterval,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": clientID,
		},
		Dial: func(network, address string) (net.Conn, error) {
			dialer := net.Dialer{Timeout: timeout}
			return dialer.DialContext(ctx, network, address)
		},
	}
	if d.config.secure() {
		amqpConfig.TLSClientConfig = &tls.Config{InsecureSkipVerify: d.config.InsecureSkipVerify}
	}

	conn, err := amqp.DialConfig(d.config.URL(), amqpConfig)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	exchange := d.config.Exchange
	if exchange == "" {
		exchange = defaultAMQPExchange
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	if err := channel.Confirm(false); err != nil {
		conn.Close()
		return nil, err
	}

	link := &amqpLink{
		linkState: newLinkState(),
		conn:      conn,
		channel:   channel,
		exchange:  exchange,
		clientID:  clientID,
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closed; ok && amqpErr != nil {
			link.fail(amqpErr)
			return
		}
		link.fail(nil)
	}()

	return link, nil
}

type amqpLink struct {
	*linkState

	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	clientID string

	publishMu sync.Mutex
}

// Publish waits for the publisher confirm so a nil error means the broker has the message
func (l *amqpLink) Publish(ctx context.Context, destination string, payload []byte) error {
	l.publishMu.Lock()
	confirmation, err := l.channel.PublishWithDeferredConfirmWithContext(ctx, l.exchange, routingKey(destination), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		AppId:        l.clientID,
		Body:         payload,
	})
	l.publishMu.Unlock()
	if err != nil {
		return err
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("message nacked by broker")
	}

	return nil
}

func (l *amqpLink) Ping(ctx context.Context) error {
	if l.conn.IsClosed() {
		return amqp.ErrClosed
	}

	return nil
}

func (l *amqpLink) Close() error {
	if l.closed() {
		return nil
	}

	l.channel.Close()
	err := l.conn.Close()
	l.fail(nil)

	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}

	return err
}
