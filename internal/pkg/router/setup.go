package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/RentFox/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the handlers and settings the routers need.
type Dependencies struct {
	Billing   *controllers.BillingController
	JWTSecret string
	// AllowOrigins is passed to the CORS middleware; empty means "*".
	AllowOrigins string
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHealthRouter(), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
