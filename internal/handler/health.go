package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/wavecast/api/internal/ffmpeg"
	"github.com/wavecast/api/internal/store"
	"github.com/wavecast/api/pkg/response"
)

// Stats exposes dispatcher load for the health report.
type Stats interface {
	Active() int
	Capacity() int
}

type HealthHandler struct {
	FFmpegPath string
	Backend    string
	Store      store.Store
	Redis      *redis.Client
	R2         bool
	Pool       Stats
}

// Check handles GET /health
// @Summary      Health check
// @Tags         Health
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Router       /health [get]
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	services := fiber.Map{
		"ffmpeg": ffmpeg.Available(h.FFmpegPath),
		"r2":     h.R2,
		"worker": h.Backend,
	}
	if h.Redis != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		services["redis"] = h.Redis.Ping(ctx).Err() == nil
	}

	body := fiber.Map{
		"status":   "ok",
		"services": services,
		"jobs":     h.Store.Len(),
	}
	if h.Pool != nil {
		body["renders"] = fiber.Map{
			"active":   h.Pool.Active(),
			"capacity": h.Pool.Capacity(),
		}
	}
	return response.OK(c, body)
}
