package driver

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urbantracker/urbantracker-driver/pkg/assignment"
	"github.com/urbantracker/urbantracker-driver/pkg/config"
	"github.com/urbantracker/urbantracker-driver/pkg/ctdf"
	"github.com/urbantracker/urbantracker-driver/pkg/sampler"
	"github.com/urbantracker/urbantracker-driver/pkg/tracking"
)

type sessionFlags struct {
	VehicleID string
	DriverID  string
	RouteID   string
}

// resolveSession uses the identifiers given on the command line, asking the
// assignment api only when no vehicle was given and a driver and api are known
func resolveSession(ctx context.Context, flags sessionFlags, settings config.Assignment, redisClient *redis.Client) (ctdf.SessionContext, error) {
	session := ctdf.SessionContext{
		VehicleID: flags.VehicleID,
		DriverID:  flags.DriverID,
		RouteID:   flags.RouteID,
	}

	if flags.VehicleID != "" || flags.DriverID == "" || settings.APIURL == "" {
		return session.Normalise(), nil
	}

	assigned, err := assignment.NewClient(settings.APIURL, settings.Token, redisClient).Session(ctx, flags.DriverID)
	if err != nil {
		return ctdf.SessionContext{}, fmt.Errorf("looking up assignment for driver %s: %w", flags.DriverID, err)
	}

	if flags.RouteID != "" {
		assigned.RouteID = flags.RouteID
	}

	log.Info().
		Str("vehicle", assigned.VehicleID).
		Str("route", assigned.RouteID).
		Msg("Resolved driver assignment")

	return assigned.Normalise(), nil
}

type samplerFlags struct {
	ReplayPath string
	Loop       bool

	HasFixed  bool
	Latitude  float64
	Longitude float64
}

// newSampler returns nil when no location source was requested
func newSampler(flags samplerFlags) (tracking.Sampler, error) {
	if flags.ReplayPath != "" {
		file, err := os.Open(flags.ReplayPath)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		replay, err := sampler.NewCSVReplay(file)
		if err != nil {
			return nil, err
		}
		replay.Loop = flags.Loop
		replay.Restamp = true

		log.Info().Int("samples", replay.Len()).Str("file", flags.ReplayPath).Msg("Replaying recorded locations")

		return replay, nil
	}

	if flags.HasFixed {
		return &sampler.Fixed{Latitude: flags.Latitude, Longitude: flags.Longitude}, nil
	}

	return nil, nil
}
