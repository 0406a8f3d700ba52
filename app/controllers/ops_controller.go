package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/GearMarket/internal/pkg/reconcile"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Sweeper runs one reconciliation pass.
type Sweeper interface {
	RunOnce(ctx context.Context) (reconcile.Report, error)
}

// OpsController serves health and operator endpoints.
type OpsController struct {
	checks  map[string]Pinger
	sweeper Sweeper
}

// NewOpsController creates the controller. checks are run by /health.
func NewOpsController(sweeper Sweeper, checks map[string]Pinger) *OpsController {
	return &OpsController{checks: checks, sweeper: sweeper}
}

// HandleHealth returns 200 when every dependency answers, 503 otherwise.
func (oc *OpsController) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := requestContext(3 * time.Second)
	defer cancel()

	status := fiber.StatusOK
	components := fiber.Map{}
	for name, p := range oc.checks {
		if err := p.Ping(ctx); err != nil {
			components[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}
	overall := "ok"
	if status != fiber.StatusOK {
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{"status": overall, "components": components})
}

// HandleReconcile runs a sweep immediately and returns its report.
func (oc *OpsController) HandleReconcile(c *fiber.Ctx) error {
	ctx, cancel := requestContext(2 * time.Minute)
	defer cancel()

	rep, err := oc.sweeper.RunOnce(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rep)
}
