package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ManuelReschke/GearMarket/app/controllers"
	"github.com/ManuelReschke/GearMarket/app/repository"
)

// Router registers a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the handlers and infrastructure the routes need.
type Dependencies struct {
	Store    repository.Store
	Sessions *session.Store
	Payments *controllers.PaymentsController
	Webhooks *controllers.WebhookController
	Ops      *controllers.OpsController
	// OpsAPIKey guards operator routes; empty disables them.
	OpsAPIKey string
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	// LimiterStorage shares rate limit counters between instances; nil keeps them in memory.
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// Machine routes are registered before the session middleware.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
