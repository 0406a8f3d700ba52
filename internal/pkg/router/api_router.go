package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	apiv1 "github.com/ManuelReschke/GearMarket/internal/api/v1"
	"github.com/ManuelReschke/GearMarket/internal/pkg/constants"
	"github.com/ManuelReschke/GearMarket/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{Storage: h.deps.LimiterStorage}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "GearMarket payments API",
		})
	})

	v1 := api.Group("/v1")
	apiServer := apiv1.NewAPIServer(h.deps.Ops)
	apiv1.RegisterHandlers(v1, apiServer, middleware.OpsKeyAuthMiddleware(h.deps.OpsAPIKey))
}
