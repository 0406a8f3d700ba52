// Package reconcile converges orders whose webhook never arrived by polling
// the processor and replaying the state machine transitions.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GearMarket/app/models"
	"github.com/ManuelReschke/GearMarket/app/repository"
	"github.com/ManuelReschke/GearMarket/internal/pkg/clock"
	"github.com/ManuelReschke/GearMarket/internal/pkg/fulfillment"
	"github.com/ManuelReschke/GearMarket/internal/pkg/metrics"
	"github.com/ManuelReschke/GearMarket/internal/pkg/processor"
)

// SessionReader is the processor read the sweeper needs.
type SessionReader interface {
	GetCheckoutSession(ctx context.Context, sessionID string) (*processor.CheckoutSession, error)
}

// Transitions is the state machine surface the sweeper replays.
type Transitions interface {
	OnPaymentSucceeded(ctx context.Context, paymentRef string, ev fulfillment.Evidence) (*fulfillment.Result, error)
	OnPaymentProcessing(ctx context.Context, paymentRef string, ev fulfillment.Evidence) (*fulfillment.Result, error)
	OnPaymentFailed(ctx context.Context, paymentRef string, ev fulfillment.Evidence) (*fulfillment.Result, error)
	OnPaymentCancelled(ctx context.Context, paymentRef string, ev fulfillment.Evidence) (*fulfillment.Result, error)
}

// Config controls which orders a sweep picks up.
type Config struct {
	Deadline time.Duration
	Batch    int
}

// Report summarises one sweep.
type Report struct {
	Scanned   int `json:"scanned"`
	Converged int `json:"converged"`
	StillOpen int `json:"still_open"`
	Errors    int `json:"errors"`
}

// Sweeper reconciles stale pending orders. Each scanned order is stamped
// so orders that stay open rotate behind the rest of the backlog.
type Sweeper struct {
	store    repository.Store
	sessions SessionReader
	machine  Transitions
	clock    clock.Clock
	cfg      Config
	metrics  *metrics.Payments
}

// NewSweeper creates a sweeper. A nil clock uses the system clock.
func NewSweeper(store repository.Store, sessions SessionReader, machine Transitions, clk clock.Clock, cfg Config, m *metrics.Payments) *Sweeper {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 30 * time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return &Sweeper{store: store, sessions: sessions, machine: machine, clock: clk, cfg: cfg, metrics: m}
}

// RunOnce examines one batch of stale pending orders. Per-order failures are
// counted in the report and do not stop the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	started := time.Now()
	now := s.clock.Now()
	var rep Report

	orders, err := s.store.Orders().ListStalePending(ctx, now.Add(-s.cfg.Deadline), s.cfg.Batch)
	if err != nil {
		return rep, fmt.Errorf("list stale orders: %w", err)
	}

	for i := range orders {
		if ctx.Err() != nil {
			break
		}
		rep.Scanned++
		converged, err := s.reconcileOrder(ctx, &orders[i])
		switch {
		case err != nil:
			rep.Errors++
			log.Errorf("[Reconcile] Order %s (%s): %v", orders[i].Reference, orders[i].PaymentRef, err)
		case converged:
			rep.Converged++
		default:
			rep.StillOpen++
		}
		if err := s.store.Orders().MarkReconciled(ctx, orders[i].ID, now); err != nil {
			log.Warnf("[Reconcile] Order %s: recording sweep attempt: %v", orders[i].Reference, err)
		}
	}

	s.metrics.ReconcileResult("converged", rep.Converged)
	s.metrics.ReconcileResult("open", rep.StillOpen)
	s.metrics.ReconcileResult("error", rep.Errors)
	s.metrics.ReconcileSweep(time.Since(started).Seconds())
	if rep.Scanned > 0 {
		log.Infof("[Reconcile] Sweep done: scanned=%d converged=%d open=%d errors=%d",
			rep.Scanned, rep.Converged, rep.StillOpen, rep.Errors)
	}
	return rep, nil
}

// reconcileOrder replays the processor state of one order and reports
// whether the order reached a terminal status.
func (s *Sweeper) reconcileOrder(ctx context.Context, order *models.Order) (bool, error) {
	sess, err := s.sessions.GetCheckoutSession(ctx, order.PaymentRef)
	if err != nil {
		s.metrics.ProcessorError("get_checkout_session", processor.Kind(err))
		return false, fmt.Errorf("poll session: %w", err)
	}

	ev := fulfillment.Evidence{
		EventType: "reconcile." + string(sess.Status),
		Source:    models.EventSourceReconcile,
		Amount:    sess.AmountTotal,
		Currency:  sess.Currency,
	}

	var res *fulfillment.Result
	switch {
	case sess.Status == processor.SessionComplete && sess.PaymentStatus.IsSettled():
		ev.EventID = evidenceID(order.PaymentRef, "succeeded")
		res, err = s.machine.OnPaymentSucceeded(ctx, order.PaymentRef, ev)
	case sess.Status == processor.SessionComplete && sess.IntentStatus.IsFailed():
		ev.EventID = evidenceID(order.PaymentRef, "failed")
		ev.EventType = "reconcile.payment_failed"
		res, err = s.machine.OnPaymentFailed(ctx, order.PaymentRef, ev)
	case sess.Status == processor.SessionComplete:
		ev.EventID = evidenceID(order.PaymentRef, "processing")
		res, err = s.machine.OnPaymentProcessing(ctx, order.PaymentRef, ev)
		if err == nil {
			return false, nil
		}
	case sess.Status == processor.SessionExpired:
		ev.EventID = evidenceID(order.PaymentRef, "cancelled")
		res, err = s.machine.OnPaymentCancelled(ctx, order.PaymentRef, ev)
	default:
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if res.Applied() {
		log.Infof("[Reconcile] Order %s converged (%s)", order.Reference, res.Outcome)
	}
	return true, nil
}

func evidenceID(paymentRef, kind string) string {
	return fmt.Sprintf("reconcile:%s:%s", paymentRef, kind)
}
