package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPaymentsCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.WebhookDelivery("applied")
	m.WebhookDelivery("applied")
	m.WebhookDelivery("duplicate")
	m.ManualReview("listing_unavailable")
	m.ReconcileResult("converged", 3)
	m.ReconcileResult("open", 0)
	m.LedgerPruned(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebhookDeliveriesTotal.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveriesTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ManualReviewsTotal.WithLabelValues("listing_unavailable")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReconcileOrdersTotal.WithLabelValues("converged")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.LedgerPrunedTotal))
}

func TestNilPaymentsIsSafe(t *testing.T) {
	var m *Payments
	assert.NotPanics(t, func() {
		m.WebhookDelivery("applied")
		m.SignatureFailure()
		m.TamperAlert()
		m.OrderTransition("paid", "webhook")
		m.ManualReview("x")
		m.CheckoutCreated("eur")
		m.CheckoutRejected("self_purchase")
		m.ReconcileResult("converged", 1)
		m.ReconcileSweep(0.1)
		m.LedgerPruned(1)
		m.SideEffectFailure("crm_sync")
		m.ProcessorError("op", "transient")
		m.JobQueueSize(1, 2)
		m.JobResult("crm_sync", "completed")
	})
}

func TestJobQueueGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.JobQueueSize(4, 1)
	m.JobQueueSize(2, 0)
	m.JobResult("seller_email", "completed")
	m.JobResult("seller_email", "skipped")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobQueueDepth.WithLabelValues("pending")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.JobQueueDepth.WithLabelValues("processing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("seller_email", "skipped")))
}
