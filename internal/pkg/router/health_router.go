package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/RentFox/internal/pkg/cache"
	"github.com/ManuelReschke/RentFox/internal/pkg/database"
)

type HealthRouter struct{}

func (h HealthRouter) InstallRouter(app *fiber.App) {
	app.Get("/api/health", func(c *fiber.Ctx) error {
		checks := fiber.Map{"database": "ok"}
		status := fiber.StatusOK

		if db := database.GetDB(); db == nil {
			checks["database"] = "unavailable"
			status = fiber.StatusServiceUnavailable
		} else if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.UserContext()) != nil {
			checks["database"] = "unavailable"
			status = fiber.StatusServiceUnavailable
		}

		if client := cache.GetClient(); client != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), time.Second)
			defer cancel()
			if err := client.Ping(ctx).Err(); err != nil {
				checks["cache"] = "unavailable"
			} else {
				checks["cache"] = "ok"
			}
		}

		return c.Status(status).JSON(fiber.Map{"status": statusText(status), "checks": checks})
	})
}

func statusText(status int) string {
	if status == fiber.StatusOK {
		return "ok"
	}
	return "degraded"
}

func NewHealthRouter() *HealthRouter {
	return &HealthRouter{}
}
