package transport

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisQueueLink(t *testing.T) {
	server := miniredis.RunT(t)

	config := testConfig()
	config.Protocol = ProtocolRedisQueue
	config.Host = server.Host()
	config.Port, _ = strconv.Atoi(server.Port())

	dialer, err := NewDialer(config)
	require.NoError(t, err)

	link, err := dialer.Dial(context.Background(), "mobile_driver_test")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, link.Publish(ctx, "vehicles/V1/telemetry", []byte(`{"latitude":4.61}`)))
	require.NoError(t, link.Publish(ctx, "vehicles/V1/telemetry", []byte(`{"latitude":4.62}`)))
	require.NoError(t, link.Ping(ctx))

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	inspector, err := rmq.OpenConnectionWithRedisClient("inspector", client, nil)
	require.NoError(t, err)

	stats, err := inspector.CollectStats([]string{"vehicles/V1/telemetry"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.QueueStats["vehicles/V1/telemetry"].ReadyCount)

	require.NoError(t, link.Close())
	<-link.Done()
	<-inspector.StopAllConsuming()
}

func TestRedisQueueDialFailure(t *testing.T) {
	server := miniredis.RunT(t)
	port, _ := strconv.Atoi(server.Port())
	server.Close()

	config := testConfig()
	config.Protocol = ProtocolRedisQueue
	config.Host = "127.0.0.1"
	config.Port = port
	config.ConnectTimeout = 200 * time.Millisecond

	dialer, err := NewDialer(config)
	require.NoError(t, err)

	_, err = dialer.Dial(context.Background(), "mobile_driver_test")
	assert.Error(t, err)
}
