package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Payments holds the Prometheus collectors of the payments core. All record
// methods are safe on a nil receiver so components can run without metrics.
type Payments struct {
	WebhookDeliveriesTotal  *prometheus.CounterVec
	SignatureFailuresTotal  prometheus.Counter
	TamperAlertsTotal       prometheus.Counter
	OrderTransitionsTotal   *prometheus.CounterVec
	ManualReviewsTotal      *prometheus.CounterVec
	CheckoutsCreatedTotal   *prometheus.CounterVec
	CheckoutRejectionsTotal *prometheus.CounterVec
	ReconcileOrdersTotal    *prometheus.CounterVec
	ReconcileDuration       prometheus.Histogram
	LedgerPrunedTotal       prometheus.Counter
	SideEffectFailuresTotal *prometheus.CounterVec
	ProcessorErrorsTotal    *prometheus.CounterVec
	JobQueueDepth           *prometheus.GaugeVec
	JobsTotal               *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Payments {
	f := promauto.With(reg)
	return &Payments{
		WebhookDeliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gearmarket_webhook_deliveries_total",
			Help: "Webhook deliveries by ledger outcome",
		}, []string{"outcome"}),
		SignatureFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "gearmarket_webhook_signature_failures_total",
			Help: "Webhook deliveries rejected for a bad signature",
		}),
		TamperAlertsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "gearmarket_webhook_tamper_alerts_total",
			Help: "Alerts raised for repeated signature failures",
		}),
		OrderTransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gearmarket_order_transitions_total",
			Help: "Applied order state transitions",
		}, []string{"status", "source"}),
		ManualReviewsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gearmarket_manual_reviews_total",
			Help: "Paid orders flagged for manual review",
		}, []string{"reason"}),
		CheckoutsCreatedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gearmarket_checkouts_created_total",
			Help: "Checkout sessions opened",
		}, []string{"currency"}),
		CheckoutRejectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gearmarket_checkout_rejections_total",
			Help: "Checkout attempts rejected before an order was created",
		}, []string{"reason"}),
		ReconcileOrdersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gearmarket_reconcile_orders_total",
			Help: "Orders examined by the reconciliation sweeper by result",
		}, []string{"result"}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gearmarket_reconcile_duration_seconds",
			Help:    "Duration of one reconciliation sweep",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		LedgerPrunedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "gearmarket_ledger_pruned_total",
			Help: "Processed-event ledger rows deleted after retention",
		}),
		SideEffectFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gearmarket_side_effect_failures_total",
			Help: "Post-commit side effects that could not be dispatched",
		}, []string{"task"}),
		ProcessorErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gearmarket_processor_errors_total",
			Help: "Payment processor call failures by operation and kind",
		}, []string{"op", "kind"}),
		JobQueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gearmarket_jobqueue_depth",
			Help: "Side-effect jobs waiting or in flight, sampled from Redis",
		}, []string{"state"}),
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gearmarket_jobs_total",
			Help: "Side-effect jobs handled by type and result",
		}, []string{"type", "result"}),
	}
}

var (
	defaultPayments *Payments
	defaultOnce     sync.Once
)

// Default returns collectors registered on the global Prometheus registry.
func Default() *Payments {
	defaultOnce.Do(func() {
		defaultPayments = New(prometheus.DefaultRegisterer)
	})
	return defaultPayments
}

func (m *Payments) WebhookDelivery(outcome string) {
	if m == nil {
		return
	}
	m.WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
}

func (m *Payments) SignatureFailure() {
	if m == nil {
		return
	}
	m.SignatureFailuresTotal.Inc()
}

func (m *Payments) TamperAlert() {
	if m == nil {
		return
	}
	m.TamperAlertsTotal.Inc()
}

func (m *Payments) OrderTransition(status, source string) {
	if m == nil {
		return
	}
	m.OrderTransitionsTotal.WithLabelValues(status, source).Inc()
}

func (m *Payments) ManualReview(reason string) {
	if m == nil {
		return
	}
	m.ManualReviewsTotal.WithLabelValues(reason).Inc()
}

func (m *Payments) CheckoutCreated(currency string) {
	if m == nil {
		return
	}
	m.CheckoutsCreatedTotal.WithLabelValues(currency).Inc()
}

func (m *Payments) CheckoutRejected(reason string) {
	if m == nil {
		return
	}
	m.CheckoutRejectionsTotal.WithLabelValues(reason).Inc()
}

func (m *Payments) ReconcileResult(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReconcileOrdersTotal.WithLabelValues(result).Add(float64(n))
}

func (m *Payments) ReconcileSweep(seconds float64) {
	if m == nil {
		return
	}
	m.ReconcileDuration.Observe(seconds)
}

func (m *Payments) LedgerPruned(n int64) {
	if m == nil || n == 0 {
		return
	}
	m.LedgerPrunedTotal.Add(float64(n))
}

func (m *Payments) SideEffectFailure(task string) {
	if m == nil {
		return
	}
	m.SideEffectFailuresTotal.WithLabelValues(task).Inc()
}

func (m *Payments) ProcessorError(op, kind string) {
	if m == nil {
		return
	}
	m.ProcessorErrorsTotal.WithLabelValues(op, kind).Inc()
}

func (m *Payments) JobQueueSize(pending, processing int64) {
	if m == nil {
		return
	}
	m.JobQueueDepth.WithLabelValues("pending").Set(float64(pending))
	m.JobQueueDepth.WithLabelValues("processing").Set(float64(processing))
}

func (m *Payments) JobResult(jobType, result string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(jobType, result).Inc()
}
