package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GearMarket/app/repository"
	"github.com/ManuelReschke/GearMarket/internal/pkg/checkout"
	"github.com/ManuelReschke/GearMarket/internal/pkg/merchant"
	"github.com/ManuelReschke/GearMarket/internal/pkg/processor"
)

// retryAfterSeconds is sent with every 503.
const retryAfterSeconds = "5"

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}

// respondError maps domain errors onto HTTP responses for the JSON API.
func respondError(c *fiber.Ctx, err error) error {
	var provisioning *merchant.ProvisioningError
	switch {
	case errors.Is(err, checkout.ErrListingNotFound), errors.Is(err, repository.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, checkout.ErrSelfPurchase):
		return errorJSON(c, fiber.StatusBadRequest, "self_purchase", err.Error())
	case errors.Is(err, checkout.ErrListingUnavailable):
		return errorJSON(c, fiber.StatusConflict, "listing_unavailable", err.Error())
	case errors.Is(err, merchant.ErrSellerNotOnboarded):
		return errorJSON(c, fiber.StatusConflict, "seller_not_onboarded", err.Error())
	case errors.As(err, &provisioning):
		return errorJSON(c, fiber.StatusUnprocessableEntity, "account_provisioning_failed", provisioning.Reason)
	case errors.Is(err, checkout.ErrTryAgain),
		errors.Is(err, processor.ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		log.Warnf("[HTTP] %s %s temporarily failed: %v", c.Method(), c.Path(), err)
		c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)
		return errorJSON(c, fiber.StatusServiceUnavailable, "try_again", "temporarily unavailable, please try again")
	default:
		log.Errorf("[HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "unexpected error")
	}
}

// requestContext bounds handler work independently of the client connection.
func requestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
