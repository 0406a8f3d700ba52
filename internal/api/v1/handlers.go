package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/GearMarket/app/controllers"
)

// Pong is the body of GET /ping.
type Pong struct {
	Ping string `json:"ping"`
}

// APIServer serves the operator API under /api/v1.
type APIServer struct {
	ops *controllers.OpsController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(ops *controllers.OpsController) *APIServer {
	return &APIServer{ops: ops}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// PostReconcile runs a reconciliation sweep on demand.
func (s *APIServer) PostReconcile(c *fiber.Ctx) error {
	return s.ops.HandleReconcile(c)
}

// RegisterHandlers mounts the v1 routes on router. Every route except
// ping requires the operator key.
func RegisterHandlers(router fiber.Router, s *APIServer, auth fiber.Handler) {
	router.Get("/ping", s.GetPing)
	router.Post("/reconcile", auth, s.PostReconcile)
}
