// Package checkout opens hosted processor checkouts for listings and
// records the pending order that the payment will later settle.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/jaevor/go-nanoid"

	"github.com/ManuelReschke/GearMarket/app/models"
	"github.com/ManuelReschke/GearMarket/app/repository"
	"github.com/ManuelReschke/GearMarket/internal/pkg/constants"
	"github.com/ManuelReschke/GearMarket/internal/pkg/merchant"
	"github.com/ManuelReschke/GearMarket/internal/pkg/metrics"
	"github.com/ManuelReschke/GearMarket/internal/pkg/processor"
)

var (
	ErrListingNotFound    = errors.New("checkout: listing not found")
	ErrListingUnavailable = errors.New("checkout: listing is not available")
	ErrSelfPurchase       = errors.New("checkout: sellers cannot buy their own listing")
	// ErrTryAgain wraps infrastructure failures; the caller may retry.
	ErrTryAgain = errors.New("checkout: temporarily unavailable, try again")
)

// MinSessionTTL is the shortest checkout expiry the processor accepts.
const MinSessionTTL = 30 * time.Minute

// AccountResolver returns the seller's payout account if it is active.
type AccountResolver interface {
	ActiveAccount(ctx context.Context, sellerID uint) (*models.MerchantAccount, error)
}

// Config controls pricing and redirect targets.
type Config struct {
	PlatformFeeBPS int64
	SessionTTL     time.Duration
	PublicBaseURL  string
}

// Result is what the buyer needs to continue at the processor.
type Result struct {
	SessionID      string `json:"session_id"`
	RedirectURL    string `json:"redirect_url"`
	OrderReference string `json:"order_reference"`
}

// Issuer creates checkout sessions.
type Issuer struct {
	store    repository.Store
	gateway  processor.Gateway
	accounts AccountResolver
	cfg      Config
	metrics  *metrics.Payments
	newRef   func() string
	now      func() time.Time
}

// NewIssuer creates an issuer. The session TTL is raised to MinSessionTTL if shorter.
func NewIssuer(store repository.Store, gateway processor.Gateway, accounts AccountResolver, cfg Config, m *metrics.Payments) (*Issuer, error) {
	idGenerator, err := nanoid.Standard(15)
	if err != nil {
		return nil, fmt.Errorf("init reference generator: %w", err)
	}
	if cfg.SessionTTL < MinSessionTTL {
		cfg.SessionTTL = MinSessionTTL
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Issuer{
		store:    store,
		gateway:  gateway,
		accounts: accounts,
		cfg:      cfg,
		metrics:  m,
		newRef:   idGenerator,
		now:      time.Now,
	}, nil
}

// ApplicationFee returns the platform fee for price in basis points, rounded down.
func ApplicationFee(price, bps int64) int64 {
	if price <= 0 || bps <= 0 {
		return 0
	}
	return price * bps / 10000
}

// CreateCheckout opens a checkout for the listing on behalf of the buyer.
// No order is created when a precondition fails.
func (i *Issuer) CreateCheckout(ctx context.Context, listingID, buyerID uint) (*Result, error) {
	listing, err := i.store.Listings().GetByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, i.reject("listing_not_found", ErrListingNotFound)
		}
		return nil, fmt.Errorf("%w: load listing: %w", ErrTryAgain, err)
	}
	if !listing.IsPurchasable() {
		return nil, i.reject("listing_unavailable", ErrListingUnavailable)
	}
	if listing.SellerID == buyerID {
		return nil, i.reject("self_purchase", ErrSelfPurchase)
	}

	account, err := i.accounts.ActiveAccount(ctx, listing.SellerID)
	if err != nil {
		if errors.Is(err, merchant.ErrSellerNotOnboarded) {
			return nil, i.reject("seller_not_onboarded", err)
		}
		return nil, fmt.Errorf("%w: resolve seller account: %w", ErrTryAgain, err)
	}

	ref := i.newRef()
	currency := strings.ToLower(listing.Currency)
	fee := ApplicationFee(listing.Price, i.cfg.PlatformFeeBPS)

	session, err := i.gateway.CreateCheckoutSession(ctx, processor.CheckoutParams{
		OrderReference:     ref,
		ListingID:          listing.ID,
		Title:              listing.Title,
		Amount:             listing.Price,
		Currency:           currency,
		ApplicationFee:     fee,
		DestinationAccount: account.ProcessorAccountID,
		ExpiresAt:          i.now().Add(i.cfg.SessionTTL),
		SuccessURL:         fmt.Sprintf("%s%s/%s?checkout=success", i.cfg.PublicBaseURL, constants.OrdersRoute, ref),
		CancelURL:          fmt.Sprintf("%s%s/%d?checkout=cancelled", i.cfg.PublicBaseURL, constants.ListingsRoute, listing.ID),
		IdempotencyKey:     "checkout-" + ref,
	})
	if err != nil {
		i.metrics.ProcessorError("create_checkout_session", processor.Kind(err))
		return nil, fmt.Errorf("%w: create checkout session: %w", ErrTryAgain, err)
	}

	order := &models.Order{
		Reference:         ref,
		ListingID:         listing.ID,
		BuyerID:           buyerID,
		SellerID:          listing.SellerID,
		Amount:            listing.Price,
		Currency:          currency,
		ApplicationFee:    fee,
		PaymentRef:        session.ID,
		MerchantAccountID: account.ProcessorAccountID,
		Status:            models.OrderStatusPending,
	}
	if err := i.store.Orders().Create(ctx, order); err != nil {
		// the orphaned session expires unpaid at the processor
		log.Errorf("[Checkout] Session %s created but order %s not stored: %v", session.ID, ref, err)
		return nil, fmt.Errorf("%w: store order: %w", ErrTryAgain, err)
	}

	i.metrics.CheckoutCreated(currency)
	log.Infof("[Checkout] Order %s pending for listing %d (session %s)", ref, listing.ID, session.ID)
	return &Result{SessionID: session.ID, RedirectURL: session.URL, OrderReference: ref}, nil
}

func (i *Issuer) reject(reason string, err error) error {
	i.metrics.CheckoutRejected(reason)
	return err
}
