package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GearMarket/internal/pkg/processor"
	"github.com/ManuelReschke/GearMarket/internal/pkg/webhook"
)

// DeliveryHandler processes one authenticated webhook delivery.
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, body []byte, signatureHeader string) (*webhook.Result, error)
}

// WebhookController receives processor webhooks.
type WebhookController struct {
	deliveries DeliveryHandler
}

func NewWebhookController(deliveries DeliveryHandler) *WebhookController {
	return &WebhookController{deliveries: deliveries}
}

// HandlePaymentsWebhook acknowledges a delivery only after it is committed.
// Non-2xx responses make the processor redeliver.
func (wc *WebhookController) HandlePaymentsWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get(processor.SignatureHeader)

	ctx, cancel := requestContext(handlerTimeout)
	defer cancel()

	res, err := wc.deliveries.HandleDelivery(ctx, rawBody, signature)
	switch {
	case err == nil:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"ok":        true,
			"event_id":  res.EventID,
			"outcome":   res.Outcome,
			"duplicate": res.Duplicate(),
		})
	case errors.Is(err, processor.ErrInvalidSignature):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	case errors.Is(err, webhook.ErrRetryLater):
		c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "try_again"})
	default:
		log.Errorf("[Webhook] Unexpected failure: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
}
