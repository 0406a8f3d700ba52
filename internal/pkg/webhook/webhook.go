// Package webhook authenticates processor webhook deliveries, deduplicates
// them against the processed-event ledger and routes them to the state
// machine or the merchant service.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GearMarket/app/models"
	"github.com/ManuelReschke/GearMarket/app/repository"
	"github.com/ManuelReschke/GearMarket/internal/pkg/fulfillment"
	"github.com/ManuelReschke/GearMarket/internal/pkg/merchant"
	"github.com/ManuelReschke/GearMarket/internal/pkg/metrics"
	"github.com/ManuelReschke/GearMarket/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/GearMarket/internal/pkg/processor"
)

// ErrRetryLater wraps failures the processor should redeliver for.
var ErrRetryLater = errors.New("webhook: temporary failure, redeliver later")

// OutcomeDuplicate is reported for deliveries of already processed events.
const OutcomeDuplicate = "duplicate"

// Transitions is the state machine surface the gateway drives.
type Transitions interface {
	OnPaymentSucceeded(ctx context.Context, paymentRef string, ev fulfillment.Evidence) (*fulfillment.Result, error)
	OnPaymentProcessing(ctx context.Context, paymentRef string, ev fulfillment.Evidence) (*fulfillment.Result, error)
	OnPaymentFailed(ctx context.Context, paymentRef string, ev fulfillment.Evidence) (*fulfillment.Result, error)
	OnPaymentCancelled(ctx context.Context, paymentRef string, ev fulfillment.Evidence) (*fulfillment.Result, error)
}

// AccountSyncer refreshes a connected account from the processor.
type AccountSyncer interface {
	SyncStatus(ctx context.Context, accountID string) (*models.MerchantAccount, error)
}

// Alerter notifies operators.
type Alerter interface {
	Alert(ctx context.Context, subject, body string)
}

// Config holds the signature and tamper alert settings.
type Config struct {
	Secret          string
	Tolerance       time.Duration
	TamperThreshold int
	TamperWindow    time.Duration
}

// Result summarises how a delivery was handled.
type Result struct {
	EventID   string
	EventType string
	Outcome   string
}

// Duplicate reports whether the event had already been processed.
func (r *Result) Duplicate() bool {
	return r.Outcome == OutcomeDuplicate
}

// Handler processes webhook deliveries.
type Handler struct {
	store    repository.Store
	machine  Transitions
	accounts AccountSyncer
	alerter  Alerter
	failures counter.WindowCounter
	cfg      Config
	metrics  *metrics.Payments
}

// NewHandler creates a delivery handler. failures counts signature failures
// for tamper alerting and may be nil; alerter may be nil.
func NewHandler(store repository.Store, machine Transitions, accounts AccountSyncer, alerter Alerter, failures counter.WindowCounter, cfg Config, m *metrics.Payments) *Handler {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 5 * time.Minute
	}
	return &Handler{
		store:    store,
		machine:  machine,
		accounts: accounts,
		alerter:  alerter,
		failures: failures,
		cfg:      cfg,
		metrics:  m,
	}
}

// HandleDelivery verifies, deduplicates and applies one delivery. It returns
// only after every state change for the event has been committed.
func (h *Handler) HandleDelivery(ctx context.Context, body []byte, signatureHeader string) (*Result, error) {
	if err := processor.VerifySignature(body, signatureHeader, h.cfg.Secret, h.cfg.Tolerance); err != nil {
		h.signatureFailed(ctx, err)
		return nil, err
	}

	evt, err := processor.ParseEvent(body)
	if err != nil {
		if errors.Is(err, processor.ErrMalformedObject) && evt != nil {
			log.Warnf("[Webhook] Rejecting event %s (%s): %v", evt.ID, evt.Type, err)
			return h.recordOnly(ctx, evt, models.EventOutcomeRejected)
		}
		// Authentic, but there is no event id to record.
		log.Warnf("[Webhook] Dropping authentic delivery without a usable event: %v", err)
		h.metrics.WebhookDelivery("unparseable")
		return &Result{Outcome: models.EventOutcomeRejected}, nil
	}

	seen, err := h.store.Events().Exists(ctx, evt.ID)
	if err != nil {
		return nil, h.retryLater("check ledger", err)
	}
	if seen {
		return h.done(evt, OutcomeDuplicate), nil
	}

	switch p := evt.Payload.(type) {
	case processor.CheckoutSessionPayload:
		return h.handleCheckout(ctx, evt, p)
	case processor.AccountPayload:
		return h.handleAccount(ctx, evt, p)
	default:
		return h.recordOnly(ctx, evt, models.EventOutcomeIgnored)
	}
}

func (h *Handler) handleCheckout(ctx context.Context, evt *processor.Event, p processor.CheckoutSessionPayload) (*Result, error) {
	ev := fulfillment.Evidence{
		EventID:   evt.ID,
		EventType: string(evt.Type),
		Source:    models.EventSourceWebhook,
		Amount:    p.AmountTotal,
		Currency:  p.Currency,
	}

	var (
		res       *fulfillment.Result
		err       error
		succeeded bool
	)
	switch {
	case evt.Type == processor.EventCheckoutCompleted && p.PaymentStatus.IsSettled(),
		evt.Type == processor.EventCheckoutAsyncPaymentSucceeded:
		succeeded = true
		res, err = h.machine.OnPaymentSucceeded(ctx, p.SessionID, ev)
	case evt.Type == processor.EventCheckoutCompleted:
		res, err = h.machine.OnPaymentProcessing(ctx, p.SessionID, ev)
	case evt.Type == processor.EventCheckoutAsyncPaymentFailed:
		res, err = h.machine.OnPaymentFailed(ctx, p.SessionID, ev)
	case evt.Type == processor.EventCheckoutExpired:
		res, err = h.machine.OnPaymentCancelled(ctx, p.SessionID, ev)
	default:
		return h.recordOnly(ctx, evt, models.EventOutcomeIgnored)
	}
	if err != nil {
		return nil, h.retryLater("apply "+string(evt.Type), err)
	}
	if res.Duplicate {
		return h.done(evt, OutcomeDuplicate), nil
	}

	if res.Outcome == models.EventOutcomeUnmatched {
		log.Warnf("[Webhook] Event %s (%s) references unknown session %s", evt.ID, evt.Type, p.SessionID)
		if succeeded && h.alerter != nil {
			h.alerter.Alert(ctx,
				fmt.Sprintf("Payment for unknown checkout session %s", p.SessionID),
				fmt.Sprintf("Event %s reported a successful payment of %d %s (client reference %q) but no order matches the session.\n",
					evt.ID, p.AmountTotal, p.Currency, p.ClientReference),
			)
		}
	}
	return h.done(evt, res.Outcome), nil
}

func (h *Handler) handleAccount(ctx context.Context, evt *processor.Event, p processor.AccountPayload) (*Result, error) {
	outcome := models.EventOutcomeSynced
	if _, err := h.accounts.SyncStatus(ctx, p.AccountID); err != nil {
		if !errors.Is(err, merchant.ErrUnknownAccount) {
			return nil, h.retryLater("sync account "+p.AccountID, err)
		}
		outcome = models.EventOutcomeIgnored
	}
	return h.recordOnly(ctx, evt, outcome)
}

// recordOnly writes the ledger row for events that change no order state.
func (h *Handler) recordOnly(ctx context.Context, evt *processor.Event, outcome string) (*Result, error) {
	created, err := h.store.Events().Record(ctx, &models.ProcessedEvent{
		EventID:   evt.ID,
		EventType: string(evt.Type),
		Source:    models.EventSourceWebhook,
		Outcome:   outcome,
	})
	if err != nil {
		return nil, h.retryLater("record event", err)
	}
	if !created {
		outcome = OutcomeDuplicate
	}
	return h.done(evt, outcome), nil
}

func (h *Handler) done(evt *processor.Event, outcome string) *Result {
	h.metrics.WebhookDelivery(outcome)
	log.Debugf("[Webhook] Event %s (%s): %s", evt.ID, evt.Type, outcome)
	return &Result{EventID: evt.ID, EventType: string(evt.Type), Outcome: outcome}
}

func (h *Handler) retryLater(op string, err error) error {
	h.metrics.WebhookDelivery("retry")
	log.Errorf("[Webhook] %s failed: %v", op, err)
	return fmt.Errorf("%w: %s: %w", ErrRetryLater, op, err)
}

func (h *Handler) signatureFailed(ctx context.Context, err error) {
	h.metrics.SignatureFailure()
	log.Warnf("[Webhook] Rejected delivery: %v", err)
	if h.failures == nil || h.cfg.TamperThreshold <= 0 {
		return
	}
	n, cerr := h.failures.Incr(ctx)
	if cerr != nil {
		log.Errorf("[Webhook] Signature failure counter unavailable: %v", cerr)
		return
	}
	if n != int64(h.cfg.TamperThreshold) {
		return
	}
	h.metrics.TamperAlert()
	log.Errorf("[Webhook] %d signature failures within %s, possible tampering", n, h.cfg.TamperWindow)
	if h.alerter != nil {
		h.alerter.Alert(ctx,
			"Possible webhook tampering",
			fmt.Sprintf("%d webhook deliveries failed signature verification within %s.\n", n, h.cfg.TamperWindow),
		)
	}
}
