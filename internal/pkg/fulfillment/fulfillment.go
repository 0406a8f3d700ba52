// Package fulfillment applies payment outcomes to orders and listings.
//
// Every transition runs in one transaction that locks the order row, then
// the listing row, and writes the listing through a version compare-and-set.
// When evidence carries an event id the ledger row is written in the same
// transaction, so a redelivered event can never apply twice.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GearMarket/app/models"
	"github.com/ManuelReschke/GearMarket/app/repository"
	"github.com/ManuelReschke/GearMarket/internal/pkg/metrics"
)

var (
	errDuplicateEvent = errors.New("fulfillment: event already recorded")
	errListingChanged = errors.New("fulfillment: listing changed under lock")
)

// Evidence describes what triggered a transition.
type Evidence struct {
	EventID   string
	EventType string
	Source    string
	// Amount and Currency as reported by the processor; zero when unknown.
	Amount   int64
	Currency string
}

// Result describes what a call did.
type Result struct {
	// Outcome is one of the models.EventOutcome* values.
	Outcome string
	// Duplicate is set when the evidence event was already processed.
	Duplicate bool
	Order     *models.Order
}

// Applied reports whether the call changed order or listing state.
func (r *Result) Applied() bool {
	switch r.Outcome {
	case models.EventOutcomeApplied, models.EventOutcomeManualReview, models.EventOutcomeReserved:
		return !r.Duplicate
	}
	return false
}

// SideEffects receives committed transitions. Implementations must not block.
type SideEffects interface {
	SaleCompleted(ctx context.Context, order *models.Order)
	ManualReview(ctx context.Context, order *models.Order, reason string)
}

type kind int

const (
	kindSucceeded kind = iota
	kindProcessing
	kindFailed
	kindCancelled
)

func (k kind) String() string {
	switch k {
	case kindSucceeded:
		return "succeeded"
	case kindProcessing:
		return "processing"
	case kindFailed:
		return "failed"
	default:
		return "cancelled"
	}
}

// Machine is the order and listing state machine.
type Machine struct {
	store   repository.Store
	effects SideEffects
	metrics *metrics.Payments
	now     func() time.Time
}

// NewMachine creates a state machine. effects may be nil.
func NewMachine(store repository.Store, effects SideEffects, m *metrics.Payments) *Machine {
	return &Machine{store: store, effects: effects, metrics: m, now: time.Now}
}

// OnPaymentSucceeded marks the order paid and the listing sold. If the
// listing can no longer be sold to this order, or the paid amount differs,
// the order is still marked paid and flagged for manual review.
func (m *Machine) OnPaymentSucceeded(ctx context.Context, paymentRef string, ev Evidence) (*Result, error) {
	return m.transition(ctx, kindSucceeded, paymentRef, ev)
}

// OnPaymentProcessing reserves the listing while a delayed payment method settles.
func (m *Machine) OnPaymentProcessing(ctx context.Context, paymentRef string, ev Evidence) (*Result, error) {
	return m.transition(ctx, kindProcessing, paymentRef, ev)
}

// OnPaymentFailed marks the order failed and releases a reservation it holds.
func (m *Machine) OnPaymentFailed(ctx context.Context, paymentRef string, ev Evidence) (*Result, error) {
	return m.transition(ctx, kindFailed, paymentRef, ev)
}

// OnPaymentCancelled marks the order cancelled and releases a reservation it holds.
func (m *Machine) OnPaymentCancelled(ctx context.Context, paymentRef string, ev Evidence) (*Result, error) {
	return m.transition(ctx, kindCancelled, paymentRef, ev)
}

type decision struct {
	outcome string
	order   *models.Order
	status  models.OrderStatus
	review  string
	clean   bool
}

func (m *Machine) transition(ctx context.Context, k kind, paymentRef string, ev Evidence) (*Result, error) {
	if ev.Source == "" {
		ev.Source = models.EventSourceWebhook
	}
	if ev.EventID != "" {
		seen, err := m.store.Events().Exists(ctx, ev.EventID)
		if err != nil {
			return nil, fmt.Errorf("check ledger for %s: %w", ev.EventID, err)
		}
		if seen {
			return &Result{Duplicate: true}, nil
		}
	}

	var d decision
	err := m.store.WithTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().GetByPaymentRefForUpdate(ctx, paymentRef)
		if errors.Is(err, repository.ErrNotFound) {
			d = decision{outcome: models.EventOutcomeUnmatched}
			return m.record(ctx, tx, ev, nil, d.outcome)
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}

		if order.Status.IsTerminal() {
			if k == kindSucceeded && order.Status != models.OrderStatusPaid {
				log.Warnf("[Fulfillment] Payment %s succeeded for %s order %s", paymentRef, order.Status, order.Reference)
			}
			d = decision{outcome: models.EventOutcomeNoop, order: order}
		} else {
			switch k {
			case kindSucceeded:
				d, err = m.settle(ctx, tx, order, ev)
			case kindProcessing:
				d, err = m.reserve(ctx, tx, order)
			case kindFailed:
				d, err = m.close(ctx, tx, order, models.OrderStatusFailed)
			case kindCancelled:
				d, err = m.close(ctx, tx, order, models.OrderStatusCancelled)
			}
			if err != nil {
				return err
			}
		}
		return m.record(ctx, tx, ev, &order.ID, d.outcome)
	})
	if errors.Is(err, errDuplicateEvent) {
		return &Result{Duplicate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("apply %s for %s: %w", k, paymentRef, err)
	}

	m.afterCommit(ctx, ev, d)
	return &Result{Outcome: d.outcome, Order: d.order}, nil
}

func (m *Machine) settle(ctx context.Context, tx repository.Store, order *models.Order, ev Evidence) (decision, error) {
	review := ""
	listing, err := tx.Listings().GetByIDForUpdate(ctx, order.ListingID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		review = models.ReviewReasonListingUnavailable
	case err != nil:
		return decision{}, fmt.Errorf("lock listing: %w", err)
	case listing.IsPurchasable() || listing.IsReservedBy(order.ID):
		next := *listing
		next.Availability = models.AvailabilitySold
		next.ReservedOrderID = nil
		ok, err := tx.Listings().CompareAndSwap(ctx, &next, listing.Version)
		if err != nil {
			return decision{}, fmt.Errorf("mark listing sold: %w", err)
		}
		if !ok {
			review = models.ReviewReasonListingUnavailable
		}
	default:
		review = models.ReviewReasonListingUnavailable
	}
	if review == "" && amountMismatch(order, ev) {
		review = models.ReviewReasonAmountMismatch
	}

	now := m.now()
	order.Status = models.OrderStatusPaid
	order.PaidAt = &now
	order.ClosedAt = &now
	if review != "" {
		order.RequiresManualReview = true
		order.ReviewReason = review
	}
	if err := tx.Orders().UpdateState(ctx, order); err != nil {
		return decision{}, fmt.Errorf("mark order paid: %w", err)
	}

	if review != "" {
		return decision{outcome: models.EventOutcomeManualReview, order: order, status: order.Status, review: review}, nil
	}
	return decision{outcome: models.EventOutcomeApplied, order: order, status: order.Status, clean: true}, nil
}

func (m *Machine) reserve(ctx context.Context, tx repository.Store, order *models.Order) (decision, error) {
	listing, err := tx.Listings().GetByIDForUpdate(ctx, order.ListingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return decision{outcome: models.EventOutcomeNoop, order: order}, nil
		}
		return decision{}, fmt.Errorf("lock listing: %w", err)
	}
	if !listing.IsPurchasable() {
		if !listing.IsReservedBy(order.ID) {
			log.Infof("[Fulfillment] Listing %d is %s, order %s keeps waiting unreserved", listing.ID, listing.Availability, order.Reference)
		}
		return decision{outcome: models.EventOutcomeNoop, order: order}, nil
	}

	next := *listing
	next.Availability = models.AvailabilityReserved
	orderID := order.ID
	next.ReservedOrderID = &orderID
	ok, err := tx.Listings().CompareAndSwap(ctx, &next, listing.Version)
	if err != nil {
		return decision{}, fmt.Errorf("reserve listing: %w", err)
	}
	if !ok {
		return decision{}, errListingChanged
	}
	return decision{outcome: models.EventOutcomeReserved, order: order}, nil
}

func (m *Machine) close(ctx context.Context, tx repository.Store, order *models.Order, status models.OrderStatus) (decision, error) {
	now := m.now()
	order.Status = status
	order.ClosedAt = &now
	if err := tx.Orders().UpdateState(ctx, order); err != nil {
		return decision{}, fmt.Errorf("mark order %s: %w", status, err)
	}

	listing, err := tx.Listings().GetByIDForUpdate(ctx, order.ListingID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return decision{}, fmt.Errorf("lock listing: %w", err)
	}
	if err == nil && listing.IsReservedBy(order.ID) {
		next := *listing
		next.Availability = models.AvailabilityAvailable
		next.ReservedOrderID = nil
		ok, err := tx.Listings().CompareAndSwap(ctx, &next, listing.Version)
		if err != nil {
			return decision{}, fmt.Errorf("release listing: %w", err)
		}
		if !ok {
			return decision{}, errListingChanged
		}
	}
	return decision{outcome: models.EventOutcomeApplied, order: order, status: status}, nil
}

func (m *Machine) record(ctx context.Context, tx repository.Store, ev Evidence, orderID *uint, outcome string) error {
	if ev.EventID == "" {
		return nil
	}
	created, err := tx.Events().Record(ctx, &models.ProcessedEvent{
		EventID:   ev.EventID,
		EventType: ev.EventType,
		Source:    ev.Source,
		OrderID:   orderID,
		Outcome:   outcome,
	})
	if err != nil {
		return fmt.Errorf("record event %s: %w", ev.EventID, err)
	}
	if !created {
		return errDuplicateEvent
	}
	return nil
}

func (m *Machine) afterCommit(ctx context.Context, ev Evidence, d decision) {
	if d.status != "" {
		m.metrics.OrderTransition(string(d.status), ev.Source)
		log.Infof("[Fulfillment] Order %s -> %s via %s (%s)", d.order.Reference, d.status, ev.Source, d.outcome)
	}
	if d.review != "" {
		m.metrics.ManualReview(d.review)
		log.Warnf("[Fulfillment] Order %s paid but needs manual review: %s", d.order.Reference, d.review)
		if m.effects != nil {
			m.effects.ManualReview(ctx, d.order, d.review)
		}
	}
	if d.clean && m.effects != nil {
		m.effects.SaleCompleted(ctx, d.order)
	}
}

func amountMismatch(order *models.Order, ev Evidence) bool {
	if ev.Amount != 0 && ev.Amount != order.Amount {
		return true
	}
	return ev.Currency != "" && !strings.EqualFold(ev.Currency, order.Currency)
}
