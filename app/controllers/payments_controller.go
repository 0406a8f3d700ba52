package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/GearMarket/app/models"
	"github.com/ManuelReschke/GearMarket/app/repository"
	"github.com/ManuelReschke/GearMarket/internal/pkg/checkout"
	"github.com/ManuelReschke/GearMarket/internal/pkg/merchant"
	"github.com/ManuelReschke/GearMarket/internal/pkg/usercontext"
)

const handlerTimeout = 20 * time.Second

// CheckoutCreator opens hosted checkouts.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, listingID, buyerID uint) (*checkout.Result, error)
}

// SellerAccounts manages seller payout accounts.
type SellerAccounts interface {
	EnsureAccount(ctx context.Context, sellerID uint) (*merchant.Onboarding, error)
	SellerStatus(ctx context.Context, sellerID uint) (*merchant.Status, error)
}

// CheckoutRequest is the body of POST /checkout.
type CheckoutRequest struct {
	ListingID uint `json:"listing_id" validate:"required,gt=0"`
}

// PaymentsController serves the buyer and seller payment endpoints.
type PaymentsController struct {
	checkout CheckoutCreator
	accounts SellerAccounts
	orders   repository.OrderRepository
	validate *validator.Validate
}

// NewPaymentsController creates the controller.
func NewPaymentsController(checkout CheckoutCreator, accounts SellerAccounts, orders repository.OrderRepository) *PaymentsController {
	return &PaymentsController{
		checkout: checkout,
		accounts: accounts,
		orders:   orders,
		validate: validator.New(),
	}
}

// HandleCreateCheckout opens a checkout for the logged-in buyer.
func (pc *PaymentsController) HandleCreateCheckout(c *fiber.Ctx) error {
	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "body must be JSON with listing_id")
	}
	if err := pc.validate.Struct(req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "listing_id is required")
	}

	ctx, cancel := requestContext(handlerTimeout)
	defer cancel()

	res, err := pc.checkout.CreateCheckout(ctx, req.ListingID, usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// HandleSellerAccountCreate provisions the seller's payout account if
// needed and returns a fresh onboarding link.
func (pc *PaymentsController) HandleSellerAccountCreate(c *fiber.Ctx) error {
	ctx, cancel := requestContext(handlerTimeout)
	defer cancel()

	onboarding, err := pc.accounts.EnsureAccount(ctx, usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"account_id":     onboarding.AccountID,
		"onboarding_url": onboarding.OnboardingURL,
		"is_active":      onboarding.IsActive,
		"status":         onboarding.Status,
	})
}

// HandleSellerAccountStatus returns the seller's onboarding snapshot.
func (pc *PaymentsController) HandleSellerAccountStatus(c *fiber.Ctx) error {
	ctx, cancel := requestContext(handlerTimeout)
	defer cancel()

	status, err := pc.accounts.SellerStatus(ctx, usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(status)
}

// HandleOrderStatus shows an order to its buyer or seller. Other users get
// 404 so references cannot be enumerated.
func (pc *PaymentsController) HandleOrderStatus(c *fiber.Ctx) error {
	ref := strings.TrimSpace(c.Params("reference"))
	if ref == "" {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "missing order reference")
	}

	ctx, cancel := requestContext(handlerTimeout)
	defer cancel()

	order, err := pc.orders.GetByReference(ctx, ref)
	if err != nil {
		return respondError(c, err)
	}
	if !order.IsParticipant(usercontext.GetUserID(c)) {
		return errorJSON(c, fiber.StatusNotFound, "not_found", "order not found")
	}
	return c.JSON(orderView(order))
}

func orderView(o *models.Order) fiber.Map {
	return fiber.Map{
		"reference":              o.Reference,
		"listing_id":             o.ListingID,
		"status":                 o.Status,
		"amount":                 o.Amount,
		"currency":               o.Currency,
		"requires_manual_review": o.RequiresManualReview,
		"paid_at":                formatTimePtr(o.PaidAt),
		"closed_at":              formatTimePtr(o.ClosedAt),
		"created_at":             o.CreatedAt.UTC().Format(time.RFC3339),
	}
}
