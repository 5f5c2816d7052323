package tracking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urbantracker/urbantracker-driver/pkg/ctdf"
	"github.com/urbantracker/urbantracker-driver/pkg/elastic_client"
)

type DeliveryEvent struct {
	Timestamp  time.Time
	SampleTime time.Time

	Success bool
	Queued  bool

	Deliverer   string
	Destination string

	VehicleID    string
	DriverID     string
	RouteID      string
	TrackingType ctdf.TrackingType
}

// Recorder receives one event per delivered or queued location
type Recorder interface {
	Record(event DeliveryEvent)
}

// ElasticRecorder journals delivery events into a weekly Elasticsearch index
type ElasticRecorder struct{}

func (r ElasticRecorder) Record(event DeliveryEvent) {
	document, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal delivery event")
		return
	}

	year, week := event.Timestamp.ISOWeek()
	elastic_client.IndexRequest(fmt.Sprintf("driver-telemetry-delivery-%d-%d", year, week), bytes.NewReader(document))
}
