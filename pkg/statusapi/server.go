package statusapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urbantracker/urbantracker-driver/pkg/tracking"
	"github.com/urbantracker/urbantracker-driver/pkg/transport"
)

const flushTimeout = 30 * time.Second

// StatusSource is the part of tracking.Controller exposed over HTTP
type StatusSource interface {
	Status() tracking.TrackingStatus
	Flush(ctx context.Context) int
}

// NewApp builds the status surface, a nil gatherer leaves /metrics unregistered
func NewApp(source StatusSource, gatherer prometheus.Gatherer) *fiber.App {
	webApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	webApp.Use(NewLogger())

	webApp.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(source.Status())
	})

	webApp.Get("/health", func(c *fiber.Ctx) error {
		status := source.Status()

		healthy := canDeliver(status)
		if !healthy {
			c.Status(fiber.StatusServiceUnavailable)
		}

		return c.JSON(fiber.Map{
			"healthy":          healthy,
			"tracking":         status.Tracking,
			"connection":       status.Connection.State,
			"offlineQueueSize": status.OfflineQueueSize,
		})
	})

	webApp.Post("/flush", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), flushTimeout)
		defer cancel()

		remaining := source.Flush(ctx)

		return c.JSON(fiber.Map{
			"offlineQueueSize": remaining,
		})
	})

	if gatherer != nil {
		webApp.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return webApp
}

func canDeliver(status tracking.TrackingStatus) bool {
	if !status.Tracking {
		return false
	}

	return status.Connection.State == transport.StateConnected || status.LastDeliverer == tracking.DelivererFallback
}

func SetupServer(listen string, source StatusSource, gatherer prometheus.Gatherer) error {
	return NewApp(source, gatherer).Listen(listen)
}
