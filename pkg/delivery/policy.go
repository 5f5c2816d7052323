package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/urbantracker/urbantracker-driver/pkg/ctdf"
)

const DataSourceMobile = "MOVILE"

const (
	StatusChannel    = "driver/status"
	RecorridoChannel = "driver/recorrido"

	routeChannelFormat   = "routes/%s/telemetry"
	vehicleChannelFormat = "vehicles/%s/telemetry"
)

// TimestampFormat matches the millisecond precision ISO-8601 strings the backend parses
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

var ErrValidation = errors.New("invalid location sample")

// TelemetryMessage is the payload published for every delivered LocationSample
type TelemetryMessage struct {
	RouteID   *int64 `json:"routeId"`
	VehicleID string `json:"vehicleId"`
	DriverID  string `json:"driverId,omitempty"`

	Timestamp string  `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	Accuracy *float64 `json:"accuracy,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	Heading  *float64 `json:"heading,omitempty"`

	HasAssignedRoute bool              `json:"hasAssignedRoute"`
	TrackingType     ctdf.TrackingType `json:"trackingType"`

	DataSource string `json:"dataSource"`
}

type Policy struct {
	validate *validator.Validate
}

func NewPolicy() *Policy {
	return &Policy{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (p *Policy) Validate(sample ctdf.LocationSample) error {
	if err := p.validate.Struct(sample); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	return nil
}

func (p *Policy) Format(sample ctdf.LocationSample, session ctdf.SessionContext) (*TelemetryMessage, error) {
	if err := p.Validate(sample); err != nil {
		return nil, err
	}

	session = session.Normalise()

	return &TelemetryMessage{
		RouteID:    numericRouteID(session.RouteID),
		VehicleID:  session.VehicleID,
		DriverID:   session.DriverID,
		Timestamp:  sample.Time().Format(TimestampFormat),
		Latitude:   sample.Latitude,
		Longitude:  sample.Longitude,
		Accuracy:   sample.Accuracy,
		Speed:      sample.Speed,
		Heading:    sample.Heading,

		HasAssignedRoute: session.HasAssignedRoute(),
		TrackingType:     session.TrackingType(),

		DataSource: DataSourceMobile,
	}, nil
}

func (p *Policy) DestinationFor(session ctdf.SessionContext) string {
	session = session.Normalise()

	if session.HasAssignedRoute() {
		return fmt.Sprintf(routeChannelFormat, session.RouteID)
	}

	return fmt.Sprintf(vehicleChannelFormat, session.VehicleID)
}

func (p *Policy) Encode(message any) ([]byte, error) {
	return json.Marshal(message)
}

// Route identifiers that are not numeric are sent as null, the backend only keys on integer routes
func numericRouteID(routeID string) *int64 {
	if routeID == "" {
		return nil
	}

	parsed, err := strconv.ParseInt(routeID, 10, 64)
	if err != nil {
		return nil
	}

	return &parsed
}
