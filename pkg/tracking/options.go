package tracking

import "time"

const (
	DefaultDrainPacing         = 100 * time.Millisecond
	DefaultReconnectDrainDelay = time.Second
	DefaultAnnounceDelay       = 3 * time.Second
	DefaultPublishInterval     = 5 * time.Second
)

type Options struct {
	EnableOfflineQueue bool
	// pause between two sends while draining the offline queue
	DrainPacing time.Duration
	// wait after (re)connecting before draining
	ReconnectDrainDelay time.Duration

	// publish a connection_status message this long after connecting, zero disables it
	AnnounceDelay time.Duration

	AutoPublish     bool
	PublishInterval time.Duration
	SendFirstSample bool

	PublishTripStatus bool

	// DisconnectOnStop releases the transport in StopTracking instead of at the next start or Close
	DisconnectOnStop bool
}

func DefaultOptions() Options {
	return Options{
		EnableOfflineQueue:  true,
		DrainPacing:         DefaultDrainPacing,
		ReconnectDrainDelay: DefaultReconnectDrainDelay,
		AnnounceDelay:       DefaultAnnounceDelay,
		AutoPublish:         true,
		PublishInterval:     DefaultPublishInterval,
		SendFirstSample:     true,
		PublishTripStatus:   true,
	}
}
