// Package processor is the boundary to the payment processor. Everything
// outside this package talks to the processor through Gateway and sees
// events only as validated Event values.
package processor

import (
	"context"
	"time"
)

// Gateway is the subset of processor operations the marketplace uses.
// Implementations must honour ctx deadlines and classify failures with
// ErrTransient / ErrRejected.
type Gateway interface {
	CreateAccount(ctx context.Context, params AccountParams) (*Account, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
}

// AccountParams describes a connected account to provision.
type AccountParams struct {
	SellerID       uint
	Email          string
	Country        string
	IdempotencyKey string
}

// Account is the processor-side view of a connected account.
type Account struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
	DisabledReason   string
	CurrentlyDue     []string
	PastDue          []string
}

// OutstandingRequirements lists past-due items first, then currently due ones.
func (a *Account) OutstandingRequirements() []string {
	seen := make(map[string]struct{}, len(a.PastDue)+len(a.CurrentlyDue))
	out := make([]string, 0, len(a.PastDue)+len(a.CurrentlyDue))
	for _, list := range [][]string{a.PastDue, a.CurrentlyDue} {
		for _, r := range list {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// CheckoutParams describes a hosted checkout for a single listing paid by
// destination charge to the seller's connected account.
type CheckoutParams struct {
	OrderReference     string
	ListingID          uint
	Title              string
	Amount             int64
	Currency           string
	ApplicationFee     int64
	DestinationAccount string
	ExpiresAt          time.Time
	SuccessURL         string
	CancelURL          string
	IdempotencyKey     string
}

// SessionStatus is the lifecycle state of a checkout session.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

// PaymentStatus is the payment state reported on a checkout session.
type PaymentStatus string

const (
	PaymentPaid              PaymentStatus = "paid"
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentNoPaymentRequired PaymentStatus = "no_payment_required"
)

// IsSettled reports whether funds are confirmed for the session.
func (p PaymentStatus) IsSettled() bool {
	return p == PaymentPaid || p == PaymentNoPaymentRequired
}

// IntentStatus is the state of the payment intent behind a completed
// checkout session. It is empty when the intent was not loaded.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentProcessing            IntentStatus = "processing"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// IsFailed reports whether the payment attempt ended without funds. A
// delayed method that fails returns its intent to requires_payment_method.
func (s IntentStatus) IsFailed() bool {
	return s == IntentRequiresPaymentMethod || s == IntentCanceled
}

// CheckoutSession is the processor-side view of a checkout session.
type CheckoutSession struct {
	ID              string
	URL             string
	Status          SessionStatus
	PaymentStatus   PaymentStatus
	IntentStatus    IntentStatus
	AmountTotal     int64
	Currency        string
	ClientReference string
}
