package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/RentFox/internal/pkg/cache"
	"github.com/ManuelReschke/RentFox/internal/pkg/env"
	"github.com/ManuelReschke/RentFox/internal/pkg/middleware"
)

const (
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type, stripe-signature"
	billingPrefix    = "/api/billing"
	webhookPath      = "/webhook"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	origins := h.deps.AllowOrigins
	if origins == "" {
		origins = "*"
	}

	billingGroup := app.Group(billingPrefix,
		cors.New(cors.Config{
			AllowOrigins: origins,
			AllowHeaders: corsAllowHeaders,
			AllowMethods: "POST, OPTIONS",
		}),
		limiter.New(limiter.Config{
			// Provider deliveries come from a few addresses and must not see 429.
			Next: func(c *fiber.Ctx) bool {
				return c.Path() == billingPrefix+webhookPath
			},
			Max:        env.GetEnvInt("API_RATE_LIMIT_MAX", 60),
			Expiration: time.Minute,
			Storage:    cache.NewLimiterStorage(),
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many requests"})
			},
		}),
	)

	bc := h.deps.Billing
	// Provider deliveries authenticate through the signature header.
	billingGroup.Post(webhookPath, bc.HandleStripeWebhook)

	auth := middleware.JWTAuthMiddleware(h.deps.JWTSecret)
	billingGroup.Post("/checkout", auth, bc.HandleCreateCheckout)
	billingGroup.Post("/subscriptions/checkout", auth, bc.HandleCreateSubscriptionCheckout)
	billingGroup.Post("/subscriptions/cancel", auth, bc.HandleCancelSubscription)
	billingGroup.Post("/connect/onboard", auth, bc.HandleConnectOnboard)
	billingGroup.Post("/connect/refresh", auth, bc.HandleConnectRefresh)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
