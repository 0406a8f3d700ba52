// Package processortest provides an in-memory processor.Gateway and helpers
// for building signed webhook deliveries in tests.
package processortest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/ManuelReschke/GearMarket/internal/pkg/processor"
)

// Fake is a concurrency-safe in-memory Gateway.
type Fake struct {
	mu         sync.Mutex
	seq        int
	accounts   map[string]*processor.Account
	byIdemKey  map[string]string
	sessions   map[string]*processor.CheckoutSession
	lastParams map[string]processor.CheckoutParams
	failures   map[string][]error
	calls      map[string]int
}

// Operation names accepted by FailNext and Calls.
const (
	OpCreateAccount  = "CreateAccount"
	OpGetAccount     = "GetAccount"
	OpOnboardingLink = "CreateOnboardingLink"
	OpCreateSession  = "CreateCheckoutSession"
	OpGetSession     = "GetCheckoutSession"
)

// NewFake creates an empty gateway.
func NewFake() *Fake {
	return &Fake{
		accounts:   map[string]*processor.Account{},
		byIdemKey:  map[string]string{},
		sessions:   map[string]*processor.CheckoutSession{},
		lastParams: map[string]processor.CheckoutParams{},
		failures:   map[string][]error{},
		calls:      map[string]int{},
	}
}

// FailNext queues err to be returned by the next call of op.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// Calls returns how often op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

// ActivateAccount marks the account fully onboarded.
func (f *Fake) ActivateAccount(accountID string) {
	f.SetAccount(processor.Account{ID: accountID, ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true})
}

// SetAccount replaces the processor-side state of an account.
func (f *Fake) SetAccount(a processor.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := a
	f.accounts[a.ID] = &cp
}

func (f *Fake) CreateAccount(ctx context.Context, p processor.AccountParams) (*processor.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpCreateAccount); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("create account: %w: %v", processor.ErrTransient, err)
	}
	if p.IdempotencyKey != "" {
		if id, ok := f.byIdemKey[p.IdempotencyKey]; ok {
			cp := *f.accounts[id]
			return &cp, nil
		}
	}
	f.seq++
	a := &processor.Account{ID: fmt.Sprintf("acct_test_%d", f.seq), CurrentlyDue: []string{"external_account"}}
	f.accounts[a.ID] = a
	if p.IdempotencyKey != "" {
		f.byIdemKey[p.IdempotencyKey] = a.ID
	}
	cp := *a
	return &cp, nil
}

func (f *Fake) GetAccount(ctx context.Context, accountID string) (*processor.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpGetAccount); err != nil {
		return nil, err
	}
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, processor.NewRequestError("get account", 404, "resource_missing", "no such account")
	}
	cp := *a
	return &cp, nil
}

func (f *Fake) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpOnboardingLink); err != nil {
		return "", err
	}
	if _, ok := f.accounts[accountID]; !ok {
		return "", processor.NewRequestError("create account link", 404, "resource_missing", "no such account")
	}
	f.seq++
	return fmt.Sprintf("https://connect.example.test/setup/%s/%d", accountID, f.seq), nil
}

func (f *Fake) CreateCheckoutSession(ctx context.Context, p processor.CheckoutParams) (*processor.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpCreateSession); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("create checkout session: %w: %v", processor.ErrTransient, err)
	}
	f.seq++
	s := &processor.CheckoutSession{
		ID:              fmt.Sprintf("cs_test_%d", f.seq),
		Status:          processor.SessionOpen,
		PaymentStatus:   processor.PaymentUnpaid,
		AmountTotal:     p.Amount,
		Currency:        p.Currency,
		ClientReference: p.OrderReference,
	}
	s.URL = "https://checkout.example.test/pay/" + s.ID
	f.sessions[s.ID] = s
	f.lastParams[s.ID] = p
	cp := *s
	return &cp, nil
}

func (f *Fake) GetCheckoutSession(ctx context.Context, sessionID string) (*processor.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpGetSession); err != nil {
		return nil, err
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, processor.NewRequestError("get checkout session", 404, "resource_missing", "no such session")
	}
	cp := *s
	return &cp, nil
}

// SessionParams returns the parameters a session was created with.
func (f *Fake) SessionParams(sessionID string) (processor.CheckoutParams, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.lastParams[sessionID]
	return p, ok
}

// Session returns a copy of the current session state.
func (f *Fake) Session(sessionID string) (*processor.CheckoutSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// CompleteSession marks the session complete with the given payment status.
// An unpaid session is left with a processing intent.
func (f *Fake) CompleteSession(sessionID string, status processor.PaymentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.Status = processor.SessionComplete
		s.PaymentStatus = status
		s.IntentStatus = processor.IntentProcessing
		if status.IsSettled() {
			s.IntentStatus = processor.IntentSucceeded
		}
	}
}

// FailSessionPayment leaves the session complete and unpaid with an intent
// back in requires_payment_method, as after a failed delayed payment.
func (f *Fake) FailSessionPayment(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.Status = processor.SessionComplete
		s.PaymentStatus = processor.PaymentUnpaid
		s.IntentStatus = processor.IntentRequiresPaymentMethod
	}
}

// ExpireSession marks the session expired.
func (f *Fake) ExpireSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.Status = processor.SessionExpired
	}
}

// CheckoutEventBody builds a checkout.session.* event body for a session.
func CheckoutEventBody(eventID string, eventType processor.EventType, s processor.CheckoutSession) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"id":      eventID,
		"object":  "event",
		"type":    string(eventType),
		"created": time.Now().Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":                  s.ID,
				"object":              "checkout.session",
				"status":              string(s.Status),
				"payment_status":      string(s.PaymentStatus),
				"amount_total":        s.AmountTotal,
				"currency":            s.Currency,
				"client_reference_id": s.ClientReference,
			},
		},
	})
	return body
}

// AccountUpdatedBody builds an account.updated event body.
func AccountUpdatedBody(eventID, accountID string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"id":      eventID,
		"object":  "event",
		"type":    string(processor.EventAccountUpdated),
		"created": time.Now().Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{"id": accountID, "object": "account"},
		},
	})
	return body
}

// Sign returns a Stripe-Signature header value for payload signed at t.
func Sign(payload []byte, secret string, t time.Time) string {
	sig := webhook.ComputeSignature(t, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", t.Unix(), hex.EncodeToString(sig))
}
