// Package server assembles the HTTP surface.
package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/wavecast/api/internal/config"
	"github.com/wavecast/api/internal/handler"
	"github.com/wavecast/api/internal/middleware"
	"github.com/wavecast/api/internal/service"
	"github.com/wavecast/api/internal/store"
	ws "github.com/wavecast/api/internal/websocket"
	"github.com/wavecast/api/pkg/response"
)

// Deps is everything the HTTP layer talks to. Redis, RateLimiter and Pool
// are optional.
type Deps struct {
	Config      *config.Config
	Service     *service.RenderService
	Store       store.Store
	Hub         *ws.Hub
	Redis       *redis.Client
	RateLimiter *middleware.RateLimiter
	Pool        handler.Stats
	R2          bool
	Logger      *logrus.Logger
}

// NewApp builds the fiber app with all routes mounted.
func NewApp(d Deps) *fiber.App {
	cfg := d.Config
	log := d.Logger.WithField("component", "http")

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		BodyLimit:             int(2*cfg.Upload.MaxBytes()) + 1<<20, // audio + cover + fields
		DisableStartupMessage: true,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
		Output: logWriter{entry: log},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	renderHandler := handler.NewRenderHandler(d.Service, d.Logger)
	healthHandler := &handler.HealthHandler{
		FFmpegPath: cfg.Render.FFmpegPath,
		Backend:    cfg.Worker.Backend,
		Store:      d.Store,
		Redis:      d.Redis,
		R2:         d.R2,
		Pool:       d.Pool,
	}

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})
	app.Get("/health", healthHandler.Check)

	uploadChain := []fiber.Handler{}
	if d.RateLimiter != nil && cfg.RateLimit.Enabled {
		uploadChain = append(uploadChain, d.RateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour))
	}
	uploadChain = append(uploadChain, renderHandler.Upload)

	app.Post("/upload", uploadChain...)
	app.Get("/status/:jobId", renderHandler.Status)
	app.Get("/download/:jobId", renderHandler.Download)

	api := app.Group("/api")
	api.Post("/render", uploadChain...)
	api.Get("/render/:jobId", renderHandler.Status)
	api.Get("/render/:jobId/download", renderHandler.Download)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", func(c *fiber.Ctx) error {
		if _, err := d.Store.Get(c.UserContext(), c.Params("jobId")); err != nil {
			return response.NotFound(c, "Job not found")
		}
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		job, err := d.Store.Get(context.Background(), jobID)
		if err != nil {
			return
		}
		d.Hub.HandleConnection(c, jobID, &job)
	}))

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge:
		errCode = response.CodeValidationError
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusTooManyRequests:
		errCode = response.CodeRateLimited
	}

	return response.Error(c, code, errCode, message, nil)
}

// logWriter feeds fiber's access log lines into logrus.
type logWriter struct {
	entry *logrus.Entry
}

func (w logWriter) Write(p []byte) (int, error) {
	w.entry.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
