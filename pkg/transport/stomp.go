package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3"
)

const defaultStompDestinationPrefix = "/topic/"

type stompDialer struct {
	config Config
}

func (d *stompDialer) Dial(ctx context.Context, clientID string) (Link, error) {
	var netDialer net.Dialer
	netConn, err := netDialer.DialContext(ctx, "tcp", d.config.Address())
	if err != nil {
		return nil, err
	}
	if d.config.secure() {
		netConn = tls.Client(netConn, &tls.Config{
			ServerName:         d.config.Host,
			InsecureSkipVerify: d.config.InsecureSkipVerify,
		})
	}

	// stomp.Connect has no context, bound the CONNECT frame exchange by the deadline
	if deadline, ok := ctx.Deadline(); ok {
		netConn.SetDeadline(deadline)
	}

	host := d.config.VirtualHost
	if host == "" {
		host = "/"
	}

	var stompOptions = []func(*stomp.Conn) error{
		stomp.ConnOpt.Login(d.config.Username, d.config.Password),
		stomp.ConnOpt.Host(host),
		stomp.ConnOpt.HeartBeat(d.config.HeartbeatInterval, d.config.HeartbeatInterval),
		stomp.ConnOpt.Header("client-id", clientID),
	}

	conn, err := stomp.Connect(netConn, stompOptions...)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	netConn.SetDeadline(time.Time{})

	prefix := d.config.Exchange
	if prefix == "" {
		prefix = defaultStompDestinationPrefix
	}

	link := &stompLink{
		linkState: newLinkState(),
		conn:      conn,
		prefix:    prefix,
	}

	subscription, err := conn.Subscribe(link.destination("drivers/"+clientID+"/control"), stomp.AckAuto)
	if err != nil {
		conn.Disconnect()
		return nil, err
	}
	go link.watch(subscription)

	return link, nil
}

type stompLink struct {
	*linkState

	conn   *stomp.Conn
	prefix string
}

func (l *stompLink) destination(channel string) string {
	return strings.TrimSuffix(l.prefix, "/") + "/" + routingKey(channel)
}

// watch fails the link once the control subscription ends, which is how
// go-stomp reports a missed heart-beat or a dropped socket
func (l *stompLink) watch(subscription *stomp.Subscription) {
	for message := range subscription.C {
		if message.Err != nil {
			l.fail(message.Err)
			return
		}
	}

	l.fail(stomp.ErrClosedUnexpectedly)
}

// Publish asks for a RECEIPT so a nil error means the broker accepted the frame
func (l *stompLink) Publish(ctx context.Context, destination string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := l.conn.Send(l.destination(destination), "application/json", payload, stomp.SendOpt.Receipt)
	if errors.Is(err, stomp.ErrAlreadyClosed) || errors.Is(err, stomp.ErrClosedUnexpectedly) {
		l.fail(err)
	}

	return err
}

func (l *stompLink) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.closed() {
		if err := l.Err(); err != nil {
			return err
		}
		return stomp.ErrAlreadyClosed
	}

	return nil
}

func (l *stompLink) Close() error {
	if l.closed() {
		return nil
	}
	l.fail(nil)

	return l.conn.Disconnect()
}
