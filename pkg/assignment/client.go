package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urbantracker/urbantracker-driver/pkg/ctdf"
)

const DefaultCacheTTL = 15 * time.Minute

const assignmentStatusActive = "ACTIVE"

var (
	ErrNotAuthenticated    = errors.New("no api token")
	ErrRequestFailed       = errors.New("assignment request failed")
	ErrNoVehicleAssignment = errors.New("no vehicle assigned to driver")
	ErrIncompleteVehicle   = errors.New("vehicle assignment has no vehicle id")
)

type apiResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

type VehicleAssignment struct {
	ID               int64  `json:"id"`
	VehicleID        int64  `json:"vehicleId"`
	VehiclePlate     string `json:"vehiclePlate"`
	VehicleName      string `json:"vehicleName"`
	DriverID         int64  `json:"driverId"`
	DriverName       string `json:"driverName"`
	AssignmentStatus string `json:"assignmentStatus"`
	Active           bool   `json:"active"`

	Vehicle *struct {
		ID           int64  `json:"id"`
		LicensePlate string `json:"licensePlate"`
	} `json:"vehicle,omitempty"`
}

func (v *VehicleAssignment) vehicleID() int64 {
	if v.VehicleID != 0 {
		return v.VehicleID
	}
	if v.Vehicle != nil {
		return v.Vehicle.ID
	}

	return 0
}

type RouteAssignment struct {
	ID               int64  `json:"id"`
	RouteID          int64  `json:"routeId"`
	RouteNumber      string `json:"routeNumber"`
	VehicleID        int64  `json:"vehicleId"`
	VehiclePlate     string `json:"vehiclePlate"`
	AssignmentStatus string `json:"assignmentStatus"`

	Route *struct {
		ID int64 `json:"id"`
	} `json:"route,omitempty"`
}

func (r *RouteAssignment) routeID() int64 {
	if r.RouteID != 0 {
		return r.RouteID
	}
	if r.Route != nil {
		return r.Route.ID
	}

	return 0
}

// Client resolves a driver's vehicle and route assignment into a tracking session
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	cache *cache.Cache[string]
}

// NewClient builds an assignment client, a nil redis client disables caching
func NewClient(baseURL string, token string, redisClient *redis.Client) *Client {
	client := &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}

	if redisClient != nil {
		client.cache = cache.New[string](redisstore.NewRedis(redisClient, store.WithExpiration(DefaultCacheTTL)))
	}

	return client
}

func cacheKey(driverID string) string {
	return fmt.Sprintf("urbantracker:assignment:driver:%s", driverID)
}

// Session looks up the vehicle assigned to the driver and, when there is one, its route.
// A failed route lookup still returns a session without a route.
func (c *Client) Session(ctx context.Context, driverID string) (ctdf.SessionContext, error) {
	if c.Token == "" {
		return ctdf.SessionContext{}, ErrNotAuthenticated
	}

	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, cacheKey(driverID)); err == nil {
			var session ctdf.SessionContext
			if err := json.Unmarshal([]byte(cached), &session); err == nil {
				return session, nil
			}
		}
	}

	vehicle, err := c.VehicleAssignment(ctx, driverID)
	if err != nil {
		return ctdf.SessionContext{}, err
	}

	vehicleID := vehicle.vehicleID()
	if vehicleID == 0 {
		return ctdf.SessionContext{}, ErrIncompleteVehicle
	}

	session := ctdf.SessionContext{
		VehicleID: strconv.FormatInt(vehicleID, 10),
		DriverID:  driverID,
	}

	routes, err := c.RouteAssignments(ctx, vehicleID)
	if err != nil {
		log.Warn().Err(err).Int64("vehicle", vehicleID).Msg("Route assignment lookup failed, tracking without a route")
	} else if route := activeRoute(routes); route != nil {
		session.RouteID = strconv.FormatInt(route.routeID(), 10)
	}

	if c.cache != nil {
		if encoded, err := json.Marshal(session); err == nil {
			if err := c.cache.Set(ctx, cacheKey(driverID), string(encoded)); err != nil {
				log.Debug().Err(err).Msg("Failed to cache assignment")
			}
		}
	}

	return session, nil
}

func (c *Client) VehicleAssignment(ctx context.Context, driverID string) (*VehicleAssignment, error) {
	var response apiResponse[*VehicleAssignment]
	if err := c.get(ctx, fmt.Sprintf("/vehicle-assigment/user/%s", url.PathEscape(driverID)), &response); err != nil {
		return nil, err
	}

	if !response.Success || response.Data == nil {
		if response.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoVehicleAssignment, response.Message)
		}
		return nil, ErrNoVehicleAssignment
	}

	return response.Data, nil
}

func (c *Client) RouteAssignments(ctx context.Context, vehicleID int64) ([]RouteAssignment, error) {
	var response apiResponse[[]RouteAssignment]
	if err := c.get(ctx, fmt.Sprintf("/route-assignment/vehicle/%d", vehicleID), &response); err != nil {
		return nil, err
	}

	if !response.Success {
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, response.Message)
	}

	return response.Data, nil
}

// activeRoute prefers an ACTIVE assignment and otherwise takes the first one listed
func activeRoute(routes []RouteAssignment) *RouteAssignment {
	var first *RouteAssignment

	for i := range routes {
		route := &routes[i]
		if route.routeID() == 0 {
			continue
		}
		if strings.EqualFold(route.AssignmentStatus, assignmentStatusActive) {
			return route
		}
		if first == nil {
			first = route
		}
	}

	return first
}

func (c *Client) get(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrRequestFailed, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrRequestFailed, path, err)
	}

	return nil
}
