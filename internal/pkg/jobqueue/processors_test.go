package jobqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/GearMarket/app/models"
	"github.com/ManuelReschke/GearMarket/app/repository"
)

func newTestProcessor(t *testing.T) (*Processor, *repository.MemoryStore, *fakeMailer, *fakePublisher) {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutUser(models.User{ID: 20, Name: "Sam Seller", Email: "sam@example.test", Role: models.ROLE_SELLER})
	mailer := &fakeMailer{}
	pub := &fakePublisher{}
	return NewProcessor(store, mailer, pub, "ops@example.test"), store, mailer, pub
}

func orderJob(jobType JobType) *Job {
	o := &models.Order{ID: 7, Reference: "ord_abc", ListingID: 3, BuyerID: 10, SellerID: 20, Amount: 12500, Currency: "eur"}
	return &Job{ID: "j1", Type: jobType, Payload: NewOrderJobPayload(o).ToMap()}
}

func TestProcessor_SaleNotification(t *testing.T) {
	p, store, _, _ := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, orderJob(JobTypeSaleNotification)))

	sellerNotes, err := store.Notifications().ListByUser(ctx, 20, 10)
	require.NoError(t, err)
	require.Len(t, sellerNotes, 1)
	assert.Equal(t, models.NotificationTypeSaleCompleted, sellerNotes[0].Type)
	assert.Contains(t, sellerNotes[0].Content, "125.00 eur")
	assert.Equal(t, uint(7), sellerNotes[0].ReferenceID)

	buyerNotes, err := store.Notifications().ListByUser(ctx, 10, 10)
	require.NoError(t, err)
	require.Len(t, buyerNotes, 1)
	assert.Equal(t, models.NotificationTypePurchasePaid, buyerNotes[0].Type)
}

func TestProcessor_SellerEmail(t *testing.T) {
	p, _, mailer, _ := newTestProcessor(t)

	require.NoError(t, p.Process(context.Background(), orderJob(JobTypeSellerEmail)))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "sam@example.test", mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Subject, "ord_abc")
}

func TestProcessor_SellerEmailUnknownSellerIsSkipped(t *testing.T) {
	p, _, mailer, _ := newTestProcessor(t)
	job := orderJob(JobTypeSellerEmail)
	job.Payload["seller_id"] = 999

	require.NoError(t, p.Process(context.Background(), job))
	assert.Empty(t, mailer.sent)
}

func TestProcessor_SellerEmailErrorIsReturnedForRetry(t *testing.T) {
	p, _, mailer, _ := newTestProcessor(t)
	mailer.err = errBoom

	assert.ErrorIs(t, p.Process(context.Background(), orderJob(JobTypeSellerEmail)), errBoom)
}

func TestProcessor_CRMSync(t *testing.T) {
	p, _, _, pub := newTestProcessor(t)

	require.NoError(t, p.Process(context.Background(), orderJob(JobTypeCRMSync)))
	require.Len(t, pub.events, 1)
	assert.Equal(t, "ord_abc", pub.events[0].OrderReference)
	assert.Equal(t, uint(10), pub.events[0].BuyerID)
	assert.Equal(t, uint(20), pub.events[0].SellerID)
}

func TestProcessor_OperatorAlert(t *testing.T) {
	p, _, mailer, _ := newTestProcessor(t)
	job := &Job{Type: JobTypeOperatorAlert, Payload: OperatorAlertJobPayload{Subject: "Tamper", Body: "5 bad signatures"}.ToMap()}

	require.NoError(t, p.Process(context.Background(), job))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "ops@example.test", mailer.sent[0].To)
	assert.Equal(t, "[GearMarket] Tamper", mailer.sent[0].Subject)
}

func TestProcessor_UnknownType(t *testing.T) {
	p, _, _, _ := newTestProcessor(t)
	assert.Error(t, p.Process(context.Background(), &Job{Type: "resize_image"}))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.05 eur", formatAmount(5, "eur"))
	assert.Equal(t, "1234.50 usd", formatAmount(123450, "usd"))
	assert.Equal(t, "-1.00 eur", formatAmount(-100, "eur"))
}
