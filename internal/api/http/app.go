package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/flight-weather/internal/logger"
	"github.com/i474232898/flight-weather/internal/model"
)

// AppConfig carries the server settings NewApp needs.
type AppConfig struct {
	AppName      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AccessLog enables fiber's request logger.
	AccessLog bool
}

// NewApp builds the Fiber app with middleware, health, metrics and the API routes.
func NewApp(cfg AppConfig, h Handlers, log *logger.Logger) *fiber.App {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler:          ErrorHandler(log),
	})

	// Global middleware
	if cfg.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": cfg.AppName,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	RegisterRoutes(app, h)
	return app
}

// StatusFor maps an error to its HTTP status code.
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, model.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, model.ErrTransaction):
		return fiber.StatusConflict
	case errors.Is(err, model.ErrUpstream):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
// Upstream and internal failures get a generic message.
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := StatusFor(err)

		message := err.Error()
		switch code {
		case fiber.StatusBadGateway:
			message = "weather provider unavailable"
		case fiber.StatusConflict:
			message = "request conflicted with a concurrent update"
		case fiber.StatusInternalServerError:
			message = "internal server error"
		}

		if code >= fiber.StatusInternalServerError {
			log.Error(err, map[string]any{"method": c.Method(), "path": c.Path(), "status": code})
		}

		return c.Status(code).JSON(fiber.Map{
			"error":   true,
			"message": message,
		})
	}
}
