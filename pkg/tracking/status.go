package tracking

import (
	"time"

	"github.com/urbantracker/urbantracker-driver/pkg/ctdf"
	"github.com/urbantracker/urbantracker-driver/pkg/transport"
)

// TrackingStatus is a read-only snapshot pushed to the status observer
type TrackingStatus struct {
	Connection transport.Status `json:"connection"`

	Tracking     bool                 `json:"tracking"`
	TrackingType ctdf.TrackingType    `json:"trackingType,omitempty"`
	Session      *ctdf.SessionContext `json:"session,omitempty"`
	StartedAt    *time.Time           `json:"startedAt,omitempty"`

	LastUpdate       *time.Time `json:"lastUpdate"`
	UpdateCount      int        `json:"updateCount"`
	OfflineQueueSize int        `json:"offlineQueueSize"`

	DistanceMeters float64 `json:"distanceMeters"`
	LastDeliverer  string  `json:"lastDeliverer,omitempty"`
}
