package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Protocol string

const (
	ProtocolMQTT       Protocol = "mqtt"
	ProtocolWebSocket  Protocol = "websocket"
	ProtocolSTOMP      Protocol = "stomp"
	ProtocolAMQP       Protocol = "amqp"
	ProtocolRedisQueue Protocol = "redis-queue"
	ProtocolKafka      Protocol = "kafka"
)

const (
	DefaultClientIDPrefix       = "mobile_driver_"
	DefaultConnectTimeout       = 20 * time.Second
	DefaultPublishTimeout       = 10 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHeartbeatTimeout     = 10 * time.Second
	DefaultReconnectInterval    = 2 * time.Second
	DefaultMaxReconnectInterval = time.Minute
	DefaultMaxReconnectAttempts = 5
	DefaultKeepAlive            = 60 * time.Second
)

var ErrInvalidConfig = errors.New("invalid transport config")

// Config describes one broker endpoint. Every protocol shares the same lifecycle
// tunables, the protocol specific fields are ignored where they do not apply.
type Config struct {
	Protocol Protocol
	Scheme   string
	Host     string
	Port     int
	Path     string

	Username string
	Password string

	InsecureSkipVerify bool

	ClientIDPrefix string

	ConnectTimeout       time.Duration
	PublishTimeout       time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	MaxReconnectAttempts int

	// MQTT
	KeepAlive time.Duration
	QoS       byte

	// STOMP virtual host, AMQP vhost
	VirtualHost string
	// STOMP destination prefix, AMQP exchange
	Exchange string

	// Redis database number
	Database int
}

func DefaultConfig() Config {
	return Config{
		Protocol:             ProtocolMQTT,
		Host:                 "localhost",
		Port:                 1883,
		ClientIDPrefix:       DefaultClientIDPrefix,
		ConnectTimeout:       DefaultConnectTimeout,
		PublishTimeout:       DefaultPublishTimeout,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		HeartbeatTimeout:     DefaultHeartbeatTimeout,
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectInterval: DefaultMaxReconnectInterval,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		KeepAlive:            DefaultKeepAlive,
	}
}

func (c Config) Validate() error {
	switch c.Protocol {
	case ProtocolMQTT, ProtocolWebSocket, ProtocolSTOMP, ProtocolAMQP, ProtocolRedisQueue, ProtocolKafka:
	default:
		return fmt.Errorf("%w: unknown protocol %q", ErrInvalidConfig, c.Protocol)
	}

	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidConfig)
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("%w: reconnect interval must be positive", ErrInvalidConfig)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: max reconnect attempts cannot be negative", ErrInvalidConfig)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("%w: heartbeat interval cannot be negative", ErrInvalidConfig)
	}
	if c.QoS > 2 {
		return fmt.Errorf("%w: qos %d", ErrInvalidConfig, c.QoS)
	}

	return nil
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL builds the broker URL for protocols that dial one
func (c Config) URL() string {
	u := url.URL{
		Scheme: c.scheme(),
		Host:   c.Address(),
		Path:   c.Path,
	}

	switch c.Protocol {
	case ProtocolWebSocket:
		if u.Path == "" {
			u.Path = "/ws"
		}
	case ProtocolAMQP:
		if c.Username != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		}
		u.Path = "/" + strings.TrimPrefix(c.VirtualHost, "/")
	}

	return u.String()
}

func (c Config) scheme() string {
	if c.Scheme != "" {
		return c.Scheme
	}

	switch c.Protocol {
	case ProtocolWebSocket:
		return "ws"
	case ProtocolAMQP:
		return "amqp"
	case ProtocolRedisQueue:
		return "redis"
	default:
		return "tcp"
	}
}

func (c Config) secure() bool {
	switch c.scheme() {
	case "ssl", "tls", "mqtts", "wss", "amqps", "rediss":
		return true
	}

	return false
}

func (c Config) heartbeatTimeout() time.Duration {
	if c.HeartbeatTimeout > 0 {
		return c.HeartbeatTimeout
	}

	return DefaultHeartbeatTimeout
}

func (c Config) publishTimeout() time.Duration {
	if c.PublishTimeout > 0 {
		return c.PublishTimeout
	}

	return DefaultPublishTimeout
}
