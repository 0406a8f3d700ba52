package processor_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/GearMarket/internal/pkg/processor"
	"github.com/ManuelReschke/GearMarket/internal/pkg/processor/processortest"
)

const secret = "whsec_test_secret"

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	tests := []struct {
		name    string
		header  string
		payload []byte
		secret  string
		wantErr bool
	}{
		{"valid", processortest.Sign(body, secret, time.Now()), body, secret, false},
		{"wrong secret", processortest.Sign(body, "whsec_other", time.Now()), body, secret, true},
		{"tampered body", processortest.Sign(body, secret, time.Now()), []byte(`{"id":"evt_2"}`), secret, true},
		{"too old", processortest.Sign(body, secret, time.Now().Add(-time.Hour)), body, secret, true},
		{"empty header", "", body, secret, true},
		{"garbage header", "nonsense", body, secret, true},
		{"empty secret", processortest.Sign(body, secret, time.Now()), body, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := processor.VerifySignature(tt.payload, tt.header, tt.secret, 5*time.Minute)
			if tt.wantErr {
				assert.ErrorIs(t, err, processor.ErrInvalidSignature)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseEvent_CheckoutCompleted(t *testing.T) {
	body := processortest.CheckoutEventBody("evt_1", processor.EventCheckoutCompleted, processor.CheckoutSession{
		ID: "cs_1", Status: processor.SessionComplete, PaymentStatus: processor.PaymentPaid,
		AmountTotal: 500, Currency: "EUR", ClientReference: "ord_ref",
	})

	evt, err := processor.ParseEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, processor.EventCheckoutCompleted, evt.Type)

	p, ok := evt.Payload.(processor.CheckoutSessionPayload)
	require.True(t, ok)
	assert.Equal(t, "cs_1", p.SessionID)
	assert.Equal(t, processor.PaymentPaid, p.PaymentStatus)
	assert.Equal(t, int64(500), p.AmountTotal)
	assert.Equal(t, "eur", p.Currency)
}

func TestParseEvent_AccountUpdated(t *testing.T) {
	evt, err := processor.ParseEvent(processortest.AccountUpdatedBody("evt_2", "acct_9"))
	require.NoError(t, err)
	assert.Equal(t, processor.AccountPayload{AccountID: "acct_9"}, evt.Payload)
}

func TestParseEvent_Unknown(t *testing.T) {
	evt, err := processor.ParseEvent([]byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`))
	require.NoError(t, err)
	assert.IsType(t, processor.UnknownPayload{}, evt.Payload)
}

func TestParseEvent_Malformed(t *testing.T) {
	_, err := processor.ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, processor.ErrMalformedEvent)

	_, err = processor.ParseEvent([]byte(`{"type":"checkout.session.completed"}`))
	assert.ErrorIs(t, err, processor.ErrMalformedEvent)

	evt, err := processor.ParseEvent([]byte(`{"id":"evt_4","type":"checkout.session.completed","data":{"object":{"object":"checkout.session"}}}`))
	assert.ErrorIs(t, err, processor.ErrMalformedObject)
	require.NotNil(t, evt)
	assert.Equal(t, "evt_4", evt.ID)

	_, err = processor.ParseEvent([]byte(`{"id":"evt_5","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_status":"maybe"}}}`))
	assert.ErrorIs(t, err, processor.ErrMalformedObject)
}

func TestRequestErrorClassification(t *testing.T) {
	assert.True(t, processor.IsTransient(processor.NewRequestError("op", 503, "", "down")))
	assert.True(t, processor.IsTransient(processor.NewRequestError("op", 429, "rate_limit", "slow down")))
	assert.True(t, processor.IsRejected(processor.NewRequestError("op", 400, "parameter_invalid_empty", "email")))
	assert.ErrorIs(t, processor.NewRequestError("op", 404, "resource_missing", ""), processor.ErrNotFound)

	wrapped := fmt.Errorf("outer: %w", processor.NewRequestError("op", 500, "", "boom"))
	var reqErr *processor.RequestError
	require.True(t, errors.As(wrapped, &reqErr))
	assert.Equal(t, 500, reqErr.StatusCode)
}

func TestAccountOutstandingRequirements(t *testing.T) {
	a := &processor.Account{PastDue: []string{"tos_acceptance"}, CurrentlyDue: []string{"external_account", "tos_acceptance"}}
	assert.Equal(t, []string{"tos_acceptance", "external_account"}, a.OutstandingRequirements())
}

func TestFakeIdempotentAccountCreation(t *testing.T) {
	f := processortest.NewFake()
	ctx := context.Background()

	a1, err := f.CreateAccount(ctx, processor.AccountParams{SellerID: 1, IdempotencyKey: "seller-1"})
	require.NoError(t, err)
	a2, err := f.CreateAccount(ctx, processor.AccountParams{SellerID: 1, IdempotencyKey: "seller-1"})
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a2.ID)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "transient", processor.Kind(processor.NewRequestError("op", 502, "", "")))
	assert.Equal(t, "rejected", processor.Kind(processor.NewRequestError("op", 400, "", "")))
	assert.Equal(t, "not_found", processor.Kind(processor.NewRequestError("op", 404, "", "")))
	assert.Equal(t, "canceled", processor.Kind(fmt.Errorf("x: %w", context.Canceled)))
	assert.Equal(t, "other", processor.Kind(errors.New("x")))
}

func TestIntentStatusIsFailed(t *testing.T) {
	assert.True(t, processor.IntentRequiresPaymentMethod.IsFailed())
	assert.True(t, processor.IntentCanceled.IsFailed())
	assert.False(t, processor.IntentProcessing.IsFailed())
	assert.False(t, processor.IntentSucceeded.IsFailed())
	assert.False(t, processor.IntentStatus("").IsFailed())
}

func TestFakeFailedSessionPayment(t *testing.T) {
	fake := processortest.NewFake()
	ctx := context.Background()
	sess, err := fake.CreateCheckoutSession(ctx, processor.CheckoutParams{OrderReference: "ord_1", ListingID: 1, Amount: 100, Currency: "eur"})
	require.NoError(t, err)

	fake.FailSessionPayment(sess.ID)
	got, err := fake.GetCheckoutSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, processor.SessionComplete, got.Status)
	assert.False(t, got.PaymentStatus.IsSettled())
	assert.True(t, got.IntentStatus.IsFailed())
}
