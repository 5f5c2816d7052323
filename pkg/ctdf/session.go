package ctdf

const UnknownVehicleID = "unknown"

type TrackingType string

const (
	TrackingTypeAssignedRoute TrackingType = "assigned_route"
	TrackingTypeFree          TrackingType = "free_tracking"
)

// SessionContext identifies who is being tracked for the lifetime of one session
type SessionContext struct {
	VehicleID string `json:"vehicleId"`
	DriverID  string `json:"driverId,omitempty"`
	RouteID   string `json:"routeId,omitempty"`
}

func (s SessionContext) Normalise() SessionContext {
	if s.VehicleID == "" {
		s.VehicleID = UnknownVehicleID
	}

	return s
}

func (s SessionContext) HasAssignedRoute() bool {
	return s.RouteID != ""
}

func (s SessionContext) TrackingType() TrackingType {
	if s.HasAssignedRoute() {
		return TrackingTypeAssignedRoute
	}

	return TrackingTypeFree
}
