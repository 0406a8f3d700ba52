package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/GearMarket/app/models"
	"github.com/ManuelReschke/GearMarket/app/repository"
	"github.com/ManuelReschke/GearMarket/internal/pkg/checkout"
	"github.com/ManuelReschke/GearMarket/internal/pkg/fulfillment"
	"github.com/ManuelReschke/GearMarket/internal/pkg/merchant"
	"github.com/ManuelReschke/GearMarket/internal/pkg/middleware"
	"github.com/ManuelReschke/GearMarket/internal/pkg/processor"
	"github.com/ManuelReschke/GearMarket/internal/pkg/processor/processortest"
	"github.com/ManuelReschke/GearMarket/internal/pkg/reconcile"
	"github.com/ManuelReschke/GearMarket/internal/pkg/usercontext"
	"github.com/ManuelReschke/GearMarket/internal/pkg/webhook"
)

const (
	testWebhookSecret = "whsec_controller"
	sellerID          = 1
	buyerID           = 2
	strangerID        = 3
)

type testEnv struct {
	app     *fiber.App
	store   *repository.MemoryStore
	gateway *processortest.Fake
}

// fakeAuth stands in for the session middleware: X-Test-User carries the
// user id and X-Test-Role the role.
func fakeAuth(c *fiber.Ctx) error {
	if id, err := strconv.Atoi(c.Get("X-Test-User")); err == nil && id > 0 {
		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:     uint(id),
			Role:       c.Get("X-Test-Role", models.ROLE_USER),
			IsLoggedIn: true,
		})
	}
	return c.Next()
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutUser(models.User{ID: sellerID, Name: "Seller", Email: "seller@example.test", Role: models.ROLE_SELLER, Status: models.STATUS_ACTIVE})
	store.PutUser(models.User{ID: buyerID, Name: "Buyer", Email: "buyer@example.test", Role: models.ROLE_USER, Status: models.STATUS_ACTIVE})
	gateway := processortest.NewFake()

	merchants := merchant.NewService(store, gateway, nil, merchant.Config{DefaultCountry: "DE"}, nil)
	issuer, err := checkout.NewIssuer(store, gateway, merchants, checkout.Config{PlatformFeeBPS: 1000, PublicBaseURL: "https://gear.example.test"}, nil)
	require.NoError(t, err)
	machine := fulfillment.NewMachine(store, nil, nil)
	deliveries := webhook.NewHandler(store, machine, merchants, nil, nil, webhook.Config{Secret: testWebhookSecret}, nil)
	sweeper := reconcile.NewSweeper(store, gateway, machine, nil, reconcile.Config{}, nil)

	payments := NewPaymentsController(issuer, merchants, store.Orders())
	webhooks := NewWebhookController(deliveries)
	ops := NewOpsController(sweeper, map[string]Pinger{"database": store})

	app := fiber.New()
	app.Post("/webhooks/payments", webhooks.HandlePaymentsWebhook)
	app.Get("/health", ops.HandleHealth)
	app.Use(fakeAuth)
	app.Post("/checkout", middleware.RequireAuth, payments.HandleCreateCheckout)
	app.Post("/seller/account", middleware.RequireSeller, payments.HandleSellerAccountCreate)
	app.Get("/seller/account", middleware.RequireSeller, payments.HandleSellerAccountStatus)
	app.Get("/orders/:reference", middleware.RequireAuth, payments.HandleOrderStatus)
	app.Post("/admin/reconcile", ops.HandleReconcile)

	return &testEnv{app: app, store: store, gateway: gateway}
}

func (e *testEnv) do(t *testing.T, method, path string, userID uint, role string, body []byte, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("X-Test-User", strconv.Itoa(int(userID)))
		req.Header.Set("X-Test-Role", role)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (e *testEnv) listing(t *testing.T) *models.Listing {
	t.Helper()
	l := &models.Listing{SellerID: sellerID, Title: "Gibson Les Paul", Price: 249900, Currency: "eur"}
	require.NoError(t, e.store.Listings().Create(context.Background(), l))
	return l
}

func (e *testEnv) onboardSeller(t *testing.T) string {
	t.Helper()
	resp, body := e.do(t, "POST", "/seller/account", sellerID, models.ROLE_SELLER, nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)
	accountID := body["account_id"].(string)
	e.gateway.ActivateAccount(accountID)
	return accountID
}

func checkoutBody(listingID uint) []byte {
	b, _ := json.Marshal(CheckoutRequest{ListingID: listingID})
	return b
}

func (e *testEnv) deliver(t *testing.T, body []byte) (*http.Response, map[string]interface{}) {
	t.Helper()
	sig := processortest.Sign(body, testWebhookSecret, time.Now())
	return e.do(t, "POST", "/webhooks/payments", 0, "", body, map[string]string{processor.SignatureHeader: sig})
}

func TestSellerOnboardingFlow(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(t, "GET", "/seller/account", sellerID, models.ROLE_SELLER, nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, string(models.OnboardingNotStarted), body["onboarding_status"])

	resp, body = e.do(t, "POST", "/seller/account", sellerID, models.ROLE_SELLER, nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	accountID := body["account_id"].(string)
	assert.NotEmpty(t, body["onboarding_url"])
	assert.Equal(t, false, body["is_active"])

	e.gateway.ActivateAccount(accountID)

	resp, body = e.do(t, "GET", "/seller/account", sellerID, models.ROLE_SELLER, nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["is_active"])
	assert.Equal(t, accountID, body["account_id"])

	resp, body = e.do(t, "POST", "/seller/account", sellerID, models.ROLE_SELLER, nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, accountID, body["account_id"], "account is provisioned once")
	assert.Equal(t, 1, e.gateway.Calls(processortest.OpCreateAccount))
}

func TestSellerAccount_RequiresSellerRole(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.do(t, "POST", "/seller/account", 0, "", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, "POST", "/seller/account", buyerID, models.ROLE_USER, nil, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestSellerAccount_ProvisioningErrorIs422(t *testing.T) {
	e := newTestEnv(t)
	e.store.PutUser(models.User{ID: 9, Name: "No Mail", Role: models.ROLE_SELLER, Status: models.STATUS_ACTIVE})

	resp, body := e.do(t, "POST", "/seller/account", 9, models.ROLE_SELLER, nil, nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "account_provisioning_failed", body["error"])
}

func TestPurchaseFlow(t *testing.T) {
	e := newTestEnv(t)
	e.onboardSeller(t)
	l := e.listing(t)

	resp, body := e.do(t, "POST", "/checkout", buyerID, models.ROLE_USER, checkoutBody(l.ID), nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, body)
	sessionID := body["session_id"].(string)
	ref := body["order_reference"].(string)
	assert.NotEmpty(t, body["redirect_url"])

	resp, body = e.do(t, "GET", "/orders/"+ref, buyerID, models.ROLE_USER, nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, string(models.OrderStatusPending), body["status"])

	e.gateway.CompleteSession(sessionID, processor.PaymentPaid)
	sess, ok := e.gateway.Session(sessionID)
	require.True(t, ok)
	event := processortest.CheckoutEventBody("evt_paid", processor.EventCheckoutCompleted, *sess)

	resp, body = e.deliver(t, event)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)
	assert.Equal(t, models.EventOutcomeApplied, body["outcome"])
	assert.Equal(t, false, body["duplicate"])

	resp, body = e.deliver(t, event)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["duplicate"])

	for _, who := range []uint{buyerID, sellerID} {
		resp, body = e.do(t, "GET", "/orders/"+ref, who, models.ROLE_USER, nil, nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, string(models.OrderStatusPaid), body["status"])
		assert.NotNil(t, body["paid_at"])
	}

	resp, _ = e.do(t, "GET", "/orders/"+ref, strangerID, models.ROLE_USER, nil, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, body = e.do(t, "POST", "/checkout", strangerID, models.ROLE_USER, checkoutBody(l.ID), nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "listing_unavailable", body["error"])
}

func TestCreateCheckout_Errors(t *testing.T) {
	e := newTestEnv(t)
	l := e.listing(t)

	resp, _ := e.do(t, "POST", "/checkout", 0, "", checkoutBody(l.ID), nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, body := e.do(t, "POST", "/checkout", buyerID, models.ROLE_USER, []byte(`{}`), nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["error"])

	resp, body = e.do(t, "POST", "/checkout", buyerID, models.ROLE_USER, checkoutBody(l.ID), nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "seller_not_onboarded", body["error"])

	e.onboardSeller(t)

	resp, body = e.do(t, "POST", "/checkout", buyerID, models.ROLE_USER, checkoutBody(9999), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, body = e.do(t, "POST", "/checkout", sellerID, models.ROLE_SELLER, checkoutBody(l.ID), nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "self_purchase", body["error"])

	e.gateway.FailNext(processortest.OpCreateSession, processor.ErrTransient)
	resp, body = e.do(t, "POST", "/checkout", buyerID, models.ROLE_USER, checkoutBody(l.ID), nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "try_again", body["error"])
	assert.Equal(t, retryAfterSeconds, resp.Header.Get(fiber.HeaderRetryAfter))

	orders, err := e.store.Orders().ListByListing(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Empty(t, orders, "no order without a session")
}

func TestWebhook_RejectsBadRequests(t *testing.T) {
	e := newTestEnv(t)
	body := processortest.AccountUpdatedBody("evt_1", "acct_1")

	resp, out := e.do(t, "POST", "/webhooks/payments", 0, "", body, map[string]string{processor.SignatureHeader: "t=1,v1=00"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_signature", out["error"])

}

func TestWebhook_AcknowledgesAuthenticUnparseableBody(t *testing.T) {
	e := newTestEnv(t)

	resp, out := e.deliver(t, []byte(`{"hello":"world"}`))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, models.EventOutcomeRejected, out["outcome"])
	assert.Equal(t, false, out["duplicate"])
}

func TestWebhook_TransientFailureIs503(t *testing.T) {
	e := newTestEnv(t)
	accountID := e.onboardSeller(t)
	e.gateway.FailNext(processortest.OpGetAccount, processor.ErrTransient)

	resp, _ := e.deliver(t, processortest.AccountUpdatedBody("evt_acct", accountID))
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	resp, out := e.deliver(t, processortest.AccountUpdatedBody("evt_acct", accountID))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, models.EventOutcomeSynced, out["outcome"])
}

func TestHealthAndReconcile(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(t, "GET", "/health", 0, "", nil, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = e.do(t, "POST", "/admin/reconcile", 0, "", nil, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["scanned"])
}

func TestHealth_Degraded(t *testing.T) {
	ops := NewOpsController(nil, map[string]Pinger{
		"cache": PingFunc(func(ctx context.Context) error { return assert.AnError }),
	})
	app := fiber.New()
	app.Get("/health", ops.HandleHealth)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
