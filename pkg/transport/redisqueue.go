package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"

	"github.com/adjust/rmq/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type redisQueueDialer struct {
	config Config
}

func (d *redisQueueDialer) Dial(ctx context.Context, clientID string) (Link, error) {
	options := &redis.Options{
		Addr:        d.config.Address(),
		Username:    d.config.Username,
		Password:    d.config.Password,
		DB:          d.config.Database,
		DialTimeout: d.config.ConnectTimeout,
	}
	if d.config.secure() {
		options.TLSConfig = &tls.Config{InsecureSkipVerify: d.config.InsecureSkipVerify}
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	link := &redisQueueLink{
		linkState: newLinkState(),
		client:    client,
		queues:    map[string]rmq.Queue{},
	}

	errChan := make(chan error, 10)
	connection, err := rmq.OpenConnectionWithRedisClient(clientID, client, errChan)
	if err != nil {
		client.Close()
		return nil, err
	}
	link.connection = connection

	go link.watchErrors(errChan)

	return link, nil
}

// redisQueueLink pushes every channel onto an rmq queue with the same name
type redisQueueLink struct {
	*linkState

	client     *redis.Client
	connection rmq.Connection

	mu     sync.Mutex
	queues map[string]rmq.Queue
}

func (l *redisQueueLink) queue(name string) (rmq.Queue, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if queue, exists := l.queues[name]; exists {
		return queue, nil
	}

	queue, err := l.connection.OpenQueue(name)
	if err != nil {
		return nil, err
	}
	l.queues[name] = queue

	return queue, nil
}

func (l *redisQueueLink) Publish(ctx context.Context, destination string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	queue, err := l.queue(destination)
	if err != nil {
		return err
	}

	return queue.PublishBytes(payload)
}

func (l *redisQueueLink) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *redisQueueLink) Close() error {
	if l.closed() {
		return nil
	}
	l.fail(nil)

	<-l.connection.StopAllConsuming()

	return l.client.Close()
}

func (l *redisQueueLink) watchErrors(errChan <-chan error) {
	for {
		select {
		case <-l.Done():
			return
		case err := <-errChan:
			var heartbeatErr *rmq.HeartbeatError
			if errors.As(err, &heartbeatErr) && heartbeatErr.Count >= rmq.HeartbeatErrorLimit {
				l.fail(err)
				return
			}

			log.Debug().Err(err).Msg("Redis queue error")
		}
	}
}
