package config

import (
	"github.com/urbantracker/urbantracker-driver/pkg/util"
)

const environmentPrefix = "URBANTRACKER_"

func (f *File) applyEnvironment(env map[string]string) {
	f.Transport.applyEnvironment(env, environmentPrefix+"TRANSPORT_")
	if f.Fallback != nil {
		f.Fallback.applyEnvironment(env, environmentPrefix+"FALLBACK_")
	}

	tracking := &f.Tracking
	if value, ok := util.EnvironmentBool(env, environmentPrefix+"TRACKING_OFFLINE_QUEUE"); ok {
		tracking.EnableOfflineQueue = value
	}
	if value, ok := util.EnvironmentDuration(env, environmentPrefix+"TRACKING_DRAIN_PACING"); ok {
		tracking.DrainPacing = Duration(value)
	}
	if value, ok := util.EnvironmentDuration(env, environmentPrefix+"TRACKING_RECONNECT_DRAIN_DELAY"); ok {
		tracking.ReconnectDrainDelay = Duration(value)
	}
	if value, ok := util.EnvironmentDuration(env, environmentPrefix+"TRACKING_ANNOUNCE_DELAY"); ok {
		tracking.AnnounceDelay = Duration(value)
	}
	if value, ok := util.EnvironmentBool(env, environmentPrefix+"TRACKING_AUTO_PUBLISH"); ok {
		tracking.AutoPublish = value
	}
	if value, ok := util.EnvironmentDuration(env, environmentPrefix+"TRACKING_PUBLISH_INTERVAL"); ok {
		tracking.PublishInterval = Duration(value)
	}
	if value, ok := util.EnvironmentBool(env, environmentPrefix+"TRACKING_DISCONNECT_ON_STOP"); ok {
		tracking.DisconnectOnStop = value
	}

	if value := env[environmentPrefix+"ASSIGNMENT_API_URL"]; value != "" {
		f.Assignment.APIURL = value
	}
	if value := env[environmentPrefix+"ASSIGNMENT_TOKEN"]; value != "" {
		f.Assignment.Token = value
	}

	if value := env[environmentPrefix+"STATUS_LISTEN"]; value != "" {
		f.Status.Listen = value
	}
}

func (t *Transport) applyEnvironment(env map[string]string, prefix string) {
	texts := map[string]*string{
		"PROTOCOL":         &t.Protocol,
		"SCHEME":           &t.Scheme,
		"HOST":             &t.Host,
		"PATH":             &t.Path,
		"USERNAME":         &t.Username,
		"PASSWORD":         &t.Password,
		"CLIENT_ID_PREFIX": &t.ClientIDPrefix,
		"VIRTUAL_HOST":     &t.VirtualHost,
		"EXCHANGE":         &t.Exchange,
	}
	for key, field := range texts {
		if value := env[prefix+key]; value != "" {
			*field = value
		}
	}

	ints := map[string]*int{
		"PORT":                   &t.Port,
		"MAX_RECONNECT_ATTEMPTS": &t.MaxReconnectAttempts,
		"QOS":                    &t.QoS,
		"DATABASE":               &t.Database,
	}
	for key, field := range ints {
		if value, ok := util.EnvironmentInt(env, prefix+key); ok {
			*field = value
		}
	}

	durations := map[string]*Duration{
		"CONNECT_TIMEOUT":        &t.ConnectTimeout,
		"PUBLISH_TIMEOUT":        &t.PublishTimeout,
		"HEARTBEAT_INTERVAL":     &t.HeartbeatInterval,
		"HEARTBEAT_TIMEOUT":      &t.HeartbeatTimeout,
		"RECONNECT_INTERVAL":     &t.ReconnectInterval,
		"MAX_RECONNECT_INTERVAL": &t.MaxReconnectInterval,
		"KEEP_ALIVE":             &t.KeepAlive,
	}
	for key, field := range durations {
		if value, ok := util.EnvironmentDuration(env, prefix+key); ok {
			*field = Duration(value)
		}
	}

	if value, ok := util.EnvironmentBool(env, prefix+"INSECURE_SKIP_VERIFY"); ok {
		t.InsecureSkipVerify = value
	}
}
