package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GearMarket/app/models"
	"github.com/ManuelReschke/GearMarket/internal/pkg/metrics"
)

// Dispatcher turns committed state transitions into background jobs.
// Enqueue failures are logged and counted, never returned.
type Dispatcher struct {
	queue   Enqueuer
	metrics *metrics.Payments
}

func NewDispatcher(queue Enqueuer, m *metrics.Payments) *Dispatcher {
	return &Dispatcher{queue: queue, metrics: m}
}

// SaleCompleted schedules notification, seller email and CRM sync for a paid order.
func (d *Dispatcher) SaleCompleted(ctx context.Context, order *models.Order) {
	payload := NewOrderJobPayload(order).ToMap()
	for _, jt := range []JobType{JobTypeSaleNotification, JobTypeSellerEmail, JobTypeCRMSync} {
		d.enqueue(ctx, jt, OrderJobKey(order.Reference, jt), payload)
	}
}

// ManualReview raises an operator alert for an order that needs a decision.
func (d *Dispatcher) ManualReview(ctx context.Context, order *models.Order, reason string) {
	d.alert(ctx, OrderJobKey(order.Reference, JobTypeOperatorAlert),
		fmt.Sprintf("Order %s needs manual review (%s)", order.Reference, reason),
		fmt.Sprintf("Order %s for listing #%d was paid (%d %s, payment %s) but was flagged with %q.\nBuyer: %d, Seller: %d.\n",
			order.Reference, order.ListingID, order.Amount, order.Currency, order.PaymentRef, reason, order.BuyerID, order.SellerID),
	)
}

// Alert schedules an operator alert. Alerts without an order are not deduplicated.
func (d *Dispatcher) Alert(ctx context.Context, subject, body string) {
	d.alert(ctx, "", subject, body)
}

func (d *Dispatcher) alert(ctx context.Context, key, subject, body string) {
	d.enqueue(ctx, JobTypeOperatorAlert, key, OperatorAlertJobPayload{Subject: subject, Body: body}.ToMap())
}

func (d *Dispatcher) enqueue(ctx context.Context, jobType JobType, key string, payload map[string]interface{}) {
	if _, err := d.queue.EnqueueJob(context.WithoutCancel(ctx), jobType, key, payload); err != nil {
		log.Errorf("[JobQueue] Failed to dispatch %s: %v", jobType, err)
		d.metrics.SideEffectFailure(string(jobType))
	}
}

// OrderJobKey is the idempotency key of an order side effect.
func OrderJobKey(orderReference string, jobType JobType) string {
	return orderReference + ":" + string(jobType)
}
