package transport

import (
	"context"
	"crypto/tls"

	"github.com/segmentio/kafka-go"
)

type kafkaDialer struct {
	config Config
}

func (d *kafkaDialer) Dial(ctx context.Context, clientID string) (Link, error) {
	dialer := &kafka.Dialer{
		Timeout:  d.config.ConnectTimeout,
		ClientID: clientID,
	}
	transport := &kafka.Transport{
		ClientID:    clientID,
		DialTimeout: d.config.ConnectTimeout,
	}
	if d.config.secure() {
		tlsConfig := &tls.Config{InsecureSkipVerify: d.config.InsecureSkipVerify}
		dialer.TLS = tlsConfig
		transport.TLS = tlsConfig
	}

	// kafka.Writer connects lazily, dial once so an unreachable broker fails the connect
	conn, err := dialer.DialContext(ctx, "tcp", d.config.Address())
	if err != nil {
		return nil, err
	}
	conn.Close()

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(d.config.Address()),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Transport:              transport,
	}

	return &kafkaLink{
		linkState: newLinkState(),
		dialer:    dialer,
		writer:    writer,
		address:   d.config.Address(),
		clientID:  clientID,
	}, nil
}

type kafkaLink struct {
	*linkState

	dialer   *kafka.Dialer
	writer   *kafka.Writer
	address  string
	clientID string
}

func (l *kafkaLink) Publish(ctx context.Context, destination string, payload []byte) error {
	return l.writer.WriteMessages(ctx, kafka.Message{
		Topic: routingKey(destination),
		Key:   []byte(l.clientID),
		Value: payload,
	})
}

func (l *kafkaLink) Ping(ctx context.Context) error {
	conn, err := l.dialer.DialContext(ctx, "tcp", l.address)
	if err != nil {
		return err
	}

	return conn.Close()
}

func (l *kafkaLink) Close() error {
	if l.closed() {
		return nil
	}
	l.fail(nil)

	return l.writer.Close()
}
