package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urbantracker/urbantracker-driver/pkg/tracking"
	"github.com/urbantracker/urbantracker-driver/pkg/transport"
	"github.com/urbantracker/urbantracker-driver/pkg/util"
	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings ("20s", "100ms") in YAML
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)

	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type Transport struct {
	Protocol string `yaml:"protocol"`
	Scheme   string `yaml:"scheme"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Path     string `yaml:"path"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	InsecureSkipVerify bool `yaml:"insecureSkipVerify"`

	ClientIDPrefix string `yaml:"clientIdPrefix"`

	ConnectTimeout       Duration `yaml:"connectTimeout"`
	PublishTimeout       Duration `yaml:"publishTimeout"`
	HeartbeatInterval    Duration `yaml:"heartbeatInterval"`
	HeartbeatTimeout     Duration `yaml:"heartbeatTimeout"`
	ReconnectInterval    Duration `yaml:"reconnectInterval"`
	MaxReconnectInterval Duration `yaml:"maxReconnectInterval"`
	MaxReconnectAttempts int      `yaml:"maxReconnectAttempts"`

	KeepAlive   Duration `yaml:"keepAlive"`
	QoS         int      `yaml:"qos"`
	VirtualHost string   `yaml:"virtualHost"`
	Exchange    string   `yaml:"exchange"`
	Database    int      `yaml:"database"`
}

type Tracking struct {
	EnableOfflineQueue  bool     `yaml:"enableOfflineQueue"`
	DrainPacing         Duration `yaml:"drainPacing"`
	ReconnectDrainDelay Duration `yaml:"reconnectDrainDelay"`
	AnnounceDelay       Duration `yaml:"announceDelay"`
	AutoPublish         bool     `yaml:"autoPublish"`
	PublishInterval     Duration `yaml:"publishInterval"`
	SendFirstSample     bool     `yaml:"sendFirstSample"`
	PublishTripStatus   bool     `yaml:"publishTripStatus"`
	DisconnectOnStop    bool     `yaml:"disconnectOnStop"`
}

type Assignment struct {
	APIURL   string   `yaml:"apiUrl"`
	Token    string   `yaml:"token"`
	CacheTTL Duration `yaml:"cacheTtl"`
}

type Status struct {
	Listen string `yaml:"listen"`
}

// File is the driver configuration document
type File struct {
	Transport  Transport  `yaml:"transport"`
	Fallback   *Transport `yaml:"fallback"`
	Tracking   Tracking   `yaml:"tracking"`
	Assignment Assignment `yaml:"assignment"`
	Status     Status     `yaml:"status"`
}

func Default() *File {
	defaults := transport.DefaultConfig()
	options := tracking.DefaultOptions()

	return &File{
		Transport: fromTransportConfig(defaults),
		Tracking: Tracking{
			EnableOfflineQueue:  options.EnableOfflineQueue,
			DrainPacing:         Duration(options.DrainPacing),
			ReconnectDrainDelay: Duration(options.ReconnectDrainDelay),
			AnnounceDelay:       Duration(options.AnnounceDelay),
			AutoPublish:         options.AutoPublish,
			PublishInterval:     Duration(options.PublishInterval),
			SendFirstSample:     options.SendFirstSample,
			PublishTripStatus:   options.PublishTripStatus,
			DisconnectOnStop:    options.DisconnectOnStop,
		},
		Assignment: Assignment{
			CacheTTL: Duration(15 * time.Minute),
		},
		Status: Status{
			Listen: ":3333",
		},
	}
}

// Load reads path over the defaults (an empty path skips the file) and applies URBANTRACKER_ environment overrides
func Load(path string) (*File, error) {
	file := Default()

	if path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		if err := file.decode(contents); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	file.applyEnvironment(util.GetEnvironmentVariables())

	if err := file.Validate(); err != nil {
		return nil, err
	}

	return file, nil
}

func (f *File) decode(contents []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)

	if err := decoder.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	// fallback sections inherit every tunable the file does not set
	if f.Fallback != nil {
		fallback := f.Transport
		fallback.Protocol, fallback.Scheme, fallback.Host, fallback.Port, fallback.Path = "", "", "", 0, ""
		fallback.Username, fallback.Password = "", ""

		var section struct {
			Fallback *yaml.Node `yaml:"fallback"`
		}
		if err := yaml.Unmarshal(contents, &section); err != nil {
			return err
		}
		if err := section.Fallback.Decode(&fallback); err != nil {
			return err
		}
		f.Fallback = &fallback
	}

	return nil
}

func (f *File) Validate() error {
	if err := f.Transport.validateQoS(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := f.TransportConfig().Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	if fallback, ok := f.FallbackConfig(); ok {
		if err := f.Fallback.validateQoS(); err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
		if err := fallback.Validate(); err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
	}

	return nil
}

func (f *File) TransportConfig() transport.Config {
	return f.Transport.toTransportConfig()
}

func (f *File) FallbackConfig() (transport.Config, bool) {
	if f.Fallback == nil {
		return transport.Config{}, false
	}

	return f.Fallback.toTransportConfig(), true
}

func (f *File) TrackingOptions() tracking.Options {
	return tracking.Options{
		EnableOfflineQueue:  f.Tracking.EnableOfflineQueue,
		DrainPacing:         time.Duration(f.Tracking.DrainPacing),
		ReconnectDrainDelay: time.Duration(f.Tracking.ReconnectDrainDelay),
		AnnounceDelay:       time.Duration(f.Tracking.AnnounceDelay),
		AutoPublish:         f.Tracking.AutoPublish,
		PublishInterval:     time.Duration(f.Tracking.PublishInterval),
		SendFirstSample:     f.Tracking.SendFirstSample,
		PublishTripStatus:   f.Tracking.PublishTripStatus,
		DisconnectOnStop:    f.Tracking.DisconnectOnStop,
	}
}

// the wire field is a byte, anything outside 0-2 would wrap on conversion
func (t Transport) validateQoS() error {
	if t.QoS < 0 || t.QoS > 2 {
		return fmt.Errorf("%w: qos %d outside 0-2", transport.ErrInvalidConfig, t.QoS)
	}

	return nil
}

func (t Transport) toTransportConfig() transport.Config {
	return transport.Config{
		Protocol:             transport.Protocol(t.Protocol),
		Scheme:               t.Scheme,
		Host:                 t.Host,
		Port:                 t.Port,
		Path:                 t.Path,
		Username:             t.Username,
		Password:             t.Password,
		InsecureSkipVerify:   t.InsecureSkipVerify,
		ClientIDPrefix:       t.ClientIDPrefix,
		ConnectTimeout:       time.Duration(t.ConnectTimeout),
		PublishTimeout:       time.Duration(t.PublishTimeout),
		HeartbeatInterval:    time.Duration(t.HeartbeatInterval),
		HeartbeatTimeout:     time.Duration(t.HeartbeatTimeout),
		ReconnectInterval:    time.Duration(t.ReconnectInterval),
		MaxReconnectInterval: time.Duration(t.MaxReconnectInterval),
		MaxReconnectAttempts: t.MaxReconnectAttempts,
		KeepAlive:            time.Duration(t.KeepAlive),
		QoS:                  byte(t.QoS),
		VirtualHost:          t.VirtualHost,
		Exchange:             t.Exchange,
		Database:             t.Database,
	}
}

func fromTransportConfig(c transport.Config) Transport {
	return Transport{
		Protocol:             string(c.Protocol),
		Scheme:               c.Scheme,
		Host:                 c.Host,
		Port:                 c.Port,
		Path:                 c.Path,
		ClientIDPrefix:       c.ClientIDPrefix,
		ConnectTimeout:       Duration(c.ConnectTimeout),
		PublishTimeout:       Duration(c.PublishTimeout),
		HeartbeatInterval:    Duration(c.HeartbeatInterval),
		HeartbeatTimeout:     Duration(c.HeartbeatTimeout),
		ReconnectInterval:    Duration(c.ReconnectInterval),
		MaxReconnectInterval: Duration(c.MaxReconnectInterval),
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		KeepAlive:            Duration(c.KeepAlive),
		QoS:                  int(c.QoS),
	}
}
