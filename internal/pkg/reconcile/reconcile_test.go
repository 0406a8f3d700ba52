package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/GearMarket/app/models"
	"github.com/ManuelReschke/GearMarket/app/repository"
	"github.com/ManuelReschke/GearMarket/internal/pkg/clock"
	"github.com/ManuelReschke/GearMarket/internal/pkg/fulfillment"
	"github.com/ManuelReschke/GearMarket/internal/pkg/processor"
	"github.com/ManuelReschke/GearMarket/internal/pkg/processor/processortest"
)

type fixture struct {
	store   *repository.MemoryStore
	gateway *processortest.Fake
	machine *fulfillment.Machine
	sweeper *Sweeper
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	gateway := processortest.NewFake()
	machine := fulfillment.NewMachine(store, nil, nil)
	now := time.Now().UTC()
	sweeper := NewSweeper(store, gateway, machine, clock.NewFixed(now), Config{Deadline: 30 * time.Minute, Batch: 10}, nil)
	return &fixture{store: store, gateway: gateway, machine: machine, sweeper: sweeper, now: now}
}

// pendingOrder creates a listing, a processor session and a pending order
// created age ago.
func (f *fixture) pendingOrder(t *testing.T, age time.Duration) *models.Order {
	t.Helper()
	ctx := context.Background()
	listing := &models.Listing{SellerID: 1, Title: "Moog Minitaur", Price: 60000, Currency: "eur"}
	require.NoError(t, f.store.Listings().Create(ctx, listing))

	ref := fmt.Sprintf("ref%d", listing.ID)
	sess, err := f.gateway.CreateCheckoutSession(ctx, processor.CheckoutParams{
		OrderReference: ref,
		ListingID:      listing.ID,
		Amount:         listing.Price,
		Currency:       listing.Currency,
	})
	require.NoError(t, err)

	o := &models.Order{
		Reference:         ref,
		ListingID:         listing.ID,
		BuyerID:           2,
		SellerID:          1,
		Amount:            listing.Price,
		Currency:          "eur",
		PaymentRef:        sess.ID,
		MerchantAccountID: "acct_1",
		CreatedAt:         f.now.Add(-age),
	}
	require.NoError(t, f.store.Orders().Create(ctx, o))
	return o
}

func (f *fixture) reload(t *testing.T, o *models.Order) (*models.Order, *models.Listing) {
	t.Helper()
	ctx := context.Background()
	got, err := f.store.Orders().GetByPaymentRef(ctx, o.PaymentRef)
	require.NoError(t, err)
	l, err := f.store.Listings().GetByID(ctx, o.ListingID)
	require.NoError(t, err)
	return got, l
}

func TestRunOnce_ConvergesLostWebhook(t *testing.T) {
	f := newFixture(t)
	o := f.pendingOrder(t, time.Hour)
	f.gateway.CompleteSession(o.PaymentRef, processor.PaymentPaid)

	rep, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Converged: 1}, rep)

	got, l := f.reload(t, o)
	assert.Equal(t, models.OrderStatusPaid, got.Status)
	assert.Equal(t, models.AvailabilitySold, l.Availability)

	seen, err := f.store.Events().Exists(context.Background(), "reconcile:"+o.PaymentRef+":succeeded")
	require.NoError(t, err)
	assert.True(t, seen)

	rep, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Scanned, "paid orders are no longer pending")
}

func TestRunOnce_ExpiredSessionCancels(t *testing.T) {
	f := newFixture(t)
	o := f.pendingOrder(t, time.Hour)
	f.gateway.ExpireSession(o.PaymentRef)

	rep, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Converged)

	got, l := f.reload(t, o)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.True(t, l.IsPurchasable())
}

func TestRunOnce_LeavesOpenAndFreshOrders(t *testing.T) {
	f := newFixture(t)
	open := f.pendingOrder(t, time.Hour)
	fresh := f.pendingOrder(t, time.Minute)
	f.gateway.CompleteSession(fresh.PaymentRef, processor.PaymentPaid)

	rep, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, StillOpen: 1}, rep)

	got, _ := f.reload(t, open)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	got, _ = f.reload(t, fresh)
	assert.Equal(t, models.OrderStatusPending, got.Status, "orders within the deadline wait for the webhook")
}

func TestRunOnce_UnpaidCompletionReservesListing(t *testing.T) {
	f := newFixture(t)
	o := f.pendingOrder(t, time.Hour)
	f.gateway.CompleteSession(o.PaymentRef, processor.PaymentUnpaid)

	rep, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, StillOpen: 1}, rep)

	got, l := f.reload(t, o)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.True(t, l.IsReservedBy(o.ID))

	rep, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, StillOpen: 1}, rep)
}

func TestRunOnce_ErrorsDoNotStopSweep(t *testing.T) {
	f := newFixture(t)
	first := f.pendingOrder(t, 2*time.Hour)
	second := f.pendingOrder(t, time.Hour)
	f.gateway.CompleteSession(first.PaymentRef, processor.PaymentPaid)
	f.gateway.CompleteSession(second.PaymentRef, processor.PaymentPaid)
	f.gateway.FailNext(processortest.OpGetSession, processor.ErrTransient)

	rep, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 2, Converged: 1, Errors: 1}, rep)

	got, _ := f.reload(t, first)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	got, _ = f.reload(t, second)
	assert.Equal(t, models.OrderStatusPaid, got.Status)

	rep, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Converged: 1}, rep)
}

func TestRunOnce_RacingWebhookTransitionsOnce(t *testing.T) {
	f := newFixture(t)
	o := f.pendingOrder(t, time.Hour)
	f.gateway.CompleteSession(o.PaymentRef, processor.PaymentPaid)

	var (
		wg      sync.WaitGroup
		applied int
		mu      sync.Mutex
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.sweeper.RunOnce(context.Background())
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		res, err := f.machine.OnPaymentSucceeded(context.Background(), o.PaymentRef, fulfillment.Evidence{
			EventID: "evt_late", EventType: string(processor.EventCheckoutCompleted), Amount: o.Amount, Currency: "eur",
		})
		if assert.NoError(t, err) && res.Applied() {
			mu.Lock()
			applied++
			mu.Unlock()
		}
	}()
	wg.Wait()

	got, l := f.reload(t, o)
	assert.Equal(t, models.OrderStatusPaid, got.Status)
	assert.False(t, got.RequiresManualReview)
	assert.Equal(t, models.AvailabilitySold, l.Availability)
	assert.Equal(t, uint(2), l.Version, "listing sold exactly once")
	assert.LessOrEqual(t, applied, 1)
}

func TestRunOnce_FailedDelayedPaymentReleasesListing(t *testing.T) {
	f := newFixture(t)
	o := f.pendingOrder(t, time.Hour)
	f.gateway.CompleteSession(o.PaymentRef, processor.PaymentUnpaid)

	rep, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, StillOpen: 1}, rep)

	// The delayed payment fails and its webhook never arrives.
	f.gateway.FailSessionPayment(o.PaymentRef)

	rep, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Converged: 1}, rep)

	got, l := f.reload(t, o)
	assert.Equal(t, models.OrderStatusFailed, got.Status)
	assert.True(t, l.IsPurchasable())

	seen, err := f.store.Events().Exists(context.Background(), "reconcile:"+o.PaymentRef+":failed")
	require.NoError(t, err)
	assert.True(t, seen)

	rep, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Scanned)
}

func TestRunOnce_OpenOrdersDoNotStarveBacklog(t *testing.T) {
	f := newFixture(t)
	f.sweeper.cfg.Batch = 2
	stuck := []*models.Order{f.pendingOrder(t, 3*time.Hour), f.pendingOrder(t, 2*time.Hour)}
	for _, o := range stuck {
		f.gateway.CompleteSession(o.PaymentRef, processor.PaymentUnpaid)
	}
	expired := f.pendingOrder(t, time.Hour)
	f.gateway.ExpireSession(expired.PaymentRef)

	rep, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 2, StillOpen: 2}, rep)
	for _, o := range stuck {
		got, _ := f.reload(t, o)
		require.NotNil(t, got.ReconciledAt)
		assert.True(t, got.ReconciledAt.Equal(f.now))
	}

	for i := 0; i < 4; i++ {
		_, err := f.sweeper.RunOnce(context.Background())
		require.NoError(t, err)
	}

	got, l := f.reload(t, expired)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.True(t, l.IsPurchasable())
	for _, o := range stuck {
		got, _ := f.reload(t, o)
		assert.Equal(t, models.OrderStatusPending, got.Status)
	}
}
