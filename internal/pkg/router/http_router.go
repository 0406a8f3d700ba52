package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/GearMarket/internal/pkg/constants"
	"github.com/ManuelReschke/GearMarket/internal/pkg/middleware"
	"github.com/ManuelReschke/GearMarket/internal/pkg/usercontext"
)

type HttpRouter struct {
	deps Dependencies
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Machine-to-machine routes come before the session middleware.
	app.Post(constants.WebhookRoute, h.deps.Webhooks.HandlePaymentsWebhook)
	app.Get(constants.HealthRoute, h.deps.Ops.HandleHealth)

	gatherer := h.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	app.Get(constants.MetricsRoute, adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	app.Get(constants.MonitorRoute, middleware.OpsKeyAuthMiddleware(h.deps.OpsAPIKey), monitor.New())

	app.Use(middleware.UserContextMiddleware(h.deps.Sessions, h.deps.Store.Users()))

	h.registerPaymentRoutes(app)
}

func (h HttpRouter) registerPaymentRoutes(app *fiber.App) {
	checkoutLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := usercontext.GetUserID(c); id != 0 {
				return "checkout:user:" + strconv.FormatUint(uint64(id), 10)
			}
			return "checkout:ip:" + c.IP()
		},
	})

	app.Post(constants.CheckoutRoute, middleware.RequireAuth, checkoutLimiter, h.deps.Payments.HandleCreateCheckout)

	seller := app.Group(constants.SellerRoute, middleware.RequireSeller)
	seller.Post("/account", h.deps.Payments.HandleSellerAccountCreate)
	seller.Get("/account", h.deps.Payments.HandleSellerAccountStatus)

	app.Get(constants.OrdersRoute+"/:reference", middleware.RequireAuth, h.deps.Payments.HandleOrderStatus)
}
