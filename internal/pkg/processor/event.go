package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType names a processor event.
type EventType string

const (
	EventCheckoutCompleted             EventType = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded EventType = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed    EventType = "checkout.session.async_payment_failed"
	EventCheckoutExpired               EventType = "checkout.session.expired"
	EventAccountUpdated                EventType = "account.updated"
)

var (
	// ErrMalformedEvent means the envelope itself is unusable (bad JSON, no id).
	ErrMalformedEvent = errors.New("processor: malformed event")
	// ErrMalformedObject means a recognised event carried an object missing
	// required fields. The returned Event still has ID and Type set.
	ErrMalformedObject = errors.New("processor: malformed event object")
)

// Event is an authenticated processor event reduced to the fields the
// marketplace acts on.
type Event struct {
	ID      string
	Type    EventType
	Created time.Time
	Payload Payload
}

// Payload is one of CheckoutSessionPayload, AccountPayload or UnknownPayload.
type Payload interface {
	isPayload()
}

// CheckoutSessionPayload is carried by all checkout.session.* events.
type CheckoutSessionPayload struct {
	SessionID       string
	Status          SessionStatus
	PaymentStatus   PaymentStatus
	AmountTotal     int64
	Currency        string
	ClientReference string
}

// AccountPayload is carried by account.updated. Only the id is taken; the
// account state is always re-read from the processor.
type AccountPayload struct {
	AccountID string
}

// UnknownPayload is used for event types the marketplace does not act on.
type UnknownPayload struct{}

func (CheckoutSessionPayload) isPayload() {}
func (AccountPayload) isPayload()         {}
func (UnknownPayload) isPayload()         {}

type envelope struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutObject struct {
	ID                string `json:"id"`
	Object            string `json:"object"`
	Status            string `json:"status"`
	PaymentStatus     string `json:"payment_status"`
	AmountTotal       *int64 `json:"amount_total"`
	Currency          string `json:"currency"`
	ClientReferenceID string `json:"client_reference_id"`
}

type accountObject struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

// ParseEvent decodes a verified webhook body.
func ParseEvent(raw []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.Type) == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}

	evt := &Event{
		ID:      env.ID,
		Type:    EventType(env.Type),
		Created: time.Unix(env.Created, 0).UTC(),
		Payload: UnknownPayload{},
	}

	switch evt.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncPaymentSucceeded,
		EventCheckoutAsyncPaymentFailed, EventCheckoutExpired:
		p, err := parseCheckoutObject(env.Data.Object)
		if err != nil {
			return evt, err
		}
		evt.Payload = p
	case EventAccountUpdated:
		var obj accountObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return evt, fmt.Errorf("%w: %v", ErrMalformedObject, err)
		}
		if obj.ID == "" || (obj.Object != "" && obj.Object != "account") {
			return evt, fmt.Errorf("%w: account id missing", ErrMalformedObject)
		}
		evt.Payload = AccountPayload{AccountID: obj.ID}
	}
	return evt, nil
}

func parseCheckoutObject(raw json.RawMessage) (CheckoutSessionPayload, error) {
	var obj checkoutObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return CheckoutSessionPayload{}, fmt.Errorf("%w: %v", ErrMalformedObject, err)
	}
	if obj.ID == "" || (obj.Object != "" && obj.Object != "checkout.session") {
		return CheckoutSessionPayload{}, fmt.Errorf("%w: checkout session id missing", ErrMalformedObject)
	}
	switch PaymentStatus(obj.PaymentStatus) {
	case PaymentPaid, PaymentUnpaid, PaymentNoPaymentRequired:
	default:
		return CheckoutSessionPayload{}, fmt.Errorf("%w: unknown payment_status %q", ErrMalformedObject, obj.PaymentStatus)
	}
	p := CheckoutSessionPayload{
		SessionID:       obj.ID,
		Status:          SessionStatus(obj.Status),
		PaymentStatus:   PaymentStatus(obj.PaymentStatus),
		Currency:        strings.ToLower(obj.Currency),
		ClientReference: obj.ClientReferenceID,
	}
	if obj.AmountTotal != nil {
		p.AmountTotal = *obj.AmountTotal
	}
	return p, nil
}
