package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kr/pretty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/urbantracker/urbantracker-driver/pkg/config"
	"github.com/urbantracker/urbantracker-driver/pkg/ctdf"
	"github.com/urbantracker/urbantracker-driver/pkg/delivery"
	"github.com/urbantracker/urbantracker-driver/pkg/elastic_client"
	"github.com/urbantracker/urbantracker-driver/pkg/redis_client"
	"github.com/urbantracker/urbantracker-driver/pkg/statusapi"
	"github.com/urbantracker/urbantracker-driver/pkg/tracking"
	"github.com/urbantracker/urbantracker-driver/pkg/transport"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "driver",
		Usage: "Streams driver locations to the telemetry brokers",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run a tracking session until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "config",
						Usage: "driver configuration file",
					},
					&cli.StringFlag{
						Name:  "vehicle",
						Usage: "vehicle identifier, looked up from the assignment api when empty",
					},
					&cli.StringFlag{
						Name:  "driver",
						Usage: "driver identifier",
					},
					&cli.StringFlag{
						Name:  "route",
						Usage: "assigned route identifier",
					},
					&cli.StringFlag{
						Name:  "replay",
						Usage: "CSV file of recorded locations to replay",
					},
					&cli.BoolFlag{
						Name:  "loop",
						Usage: "restart the replay when it reaches the end",
					},
					&cli.Float64Flag{
						Name:  "latitude",
						Usage: "report a fixed position at this latitude",
					},
					&cli.Float64Flag{
						Name:  "longitude",
						Usage: "report a fixed position at this longitude",
					},
					&cli.StringFlag{
						Name:  "listen",
						Usage: "listen target for the status server, overrides the config file",
					},
					&cli.StringFlag{
						Name:  "assignment-api",
						Usage: "base URL of the assignment api",
					},
					&cli.StringFlag{
						Name:    "assignment-token",
						Usage:   "bearer token for the assignment api",
						EnvVars: []string{"URBANTRACKER_ASSIGNMENT_TOKEN"},
					},
				},
				Action: func(c *cli.Context) error {
					file, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}
					if c.String("listen") != "" {
						file.Status.Listen = c.String("listen")
					}
					if c.String("assignment-api") != "" {
						file.Assignment.APIURL = c.String("assignment-api")
					}
					if c.String("assignment-token") != "" {
						file.Assignment.Token = c.String("assignment-token")
					}

					if err := elastic_client.Connect(false); err != nil {
						return err
					}
					if redis_client.Configured() {
						if err := redis_client.Connect(); err != nil {
							return err
						}
					}

					session, err := resolveSession(c.Context, sessionFlags{
						VehicleID: c.String("vehicle"),
						DriverID:  c.String("driver"),
						RouteID:   c.String("route"),
					}, file.Assignment, redis_client.Client)
					if err != nil {
						return err
					}

					locationSampler, err := newSampler(samplerFlags{
						ReplayPath: c.String("replay"),
						Loop:       c.Bool("loop"),
						Latitude:   c.Float64("latitude"),
						Longitude:  c.Float64("longitude"),
						HasFixed:   c.IsSet("latitude") && c.IsSet("longitude"),
					})
					if err != nil {
						return err
					}

					registry := prometheus.NewRegistry()
					registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

					controllerConfig := tracking.ControllerConfig{
						Policy:    delivery.NewPolicy(),
						Transport: tracking.ConnectionFactory(file.TransportConfig()),
						Metrics:   tracking.NewMetrics(registry),
						Sampler:   locationSampler,
						Options:   file.TrackingOptions(),
					}
					if elastic_client.Enabled() {
						controllerConfig.Recorder = tracking.ElasticRecorder{}
					}

					var fallback *transport.Connection
					if fallbackConfig, ok := file.FallbackConfig(); ok {
						fallback, err = connectFallback(c.Context, fallbackConfig)
						if err != nil {
							return err
						}
						controllerConfig.Fallback = tracking.TransportDeliverer{Transport: fallback}
					}

					controller := tracking.NewController(controllerConfig)
					controller.OnStatusChange(func(status tracking.TrackingStatus) {
						log.Debug().
							Str("state", status.Connection.State.String()).
							Bool("tracking", status.Tracking).
							Int("updates", status.UpdateCount).
							Int("queue", status.OfflineQueueSize).
							Msg("Tracking status")
					})
					controller.OnLocationUpdate(func(sample ctdf.LocationSample, success bool) {
						log.Debug().
							Float64("latitude", sample.Latitude).
							Float64("longitude", sample.Longitude).
							Bool("delivered", success).
							Msg("Location update")
					})

					if !controller.StartTracking(c.Context, session) {
						return errors.New("tracking could not be started")
					}

					go func() {
						if err := statusapi.SetupServer(file.Status.Listen, controller, registry); err != nil {
							log.Error().Err(err).Msg("Status server stopped")
						}
					}()

					signals := make(chan os.Signal, 1)
					signal.Notify(signals, syscall.SIGINT)
					defer signal.Stop(signals)

					<-signals // wait for signal
					go func() {
						<-signals // hard exit on second signal (in case shutdown gets stuck)
						os.Exit(1)
					}()

					controller.Close()
					if fallback != nil {
						fallback.Disconnect()
					}
					if elastic_client.Enabled() {
						elastic_client.WaitUntilQueueEmpty()
					}

					return nil
				},
			},
			{
				Name:  "announce",
				Usage: "connect once, publish a connection status message and disconnect",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "config",
						Usage: "driver configuration file",
					},
				},
				Action: func(c *cli.Context) error {
					file, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					transportConfig := file.TransportConfig()
					dialer, err := transport.NewDialer(transportConfig)
					if err != nil {
						return err
					}

					conn := transport.NewConnection(transportConfig, dialer)
					defer conn.Disconnect()

					if err := conn.Connect(c.Context); err != nil {
						return err
					}

					status := conn.Status()
					payload, err := delivery.NewPolicy().Encode(delivery.NewConnectionStatusMessage(status.ClientID, time.Now()))
					if err != nil {
						return err
					}

					if err := conn.Publish(c.Context, delivery.StatusChannel, payload); err != nil {
						return err
					}

					pretty.Println(conn.Status())

					return nil
				},
			},
		},
	}
}

func connectFallback(ctx context.Context, fallbackConfig transport.Config) (*transport.Connection, error) {
	dialer, err := transport.NewDialer(fallbackConfig)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}

	conn := transport.NewConnection(fallbackConfig, dialer)
	if err := conn.Connect(ctx); err != nil {
		log.Warn().Err(err).Str("protocol", string(fallbackConfig.Protocol)).Msg("Fallback transport unavailable")
	}

	return conn, nil
}
