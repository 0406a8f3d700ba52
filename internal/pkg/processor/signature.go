package processor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

// SignatureHeader is the HTTP header carrying the delivery signature.
const SignatureHeader = "Stripe-Signature"

// ErrInvalidSignature is returned when a delivery cannot be authenticated.
var ErrInvalidSignature = errors.New("processor: invalid webhook signature")

// VerifySignature authenticates a raw webhook body against the signing
// secret. The header has the form "t=<unix>,v1=<hex hmac-sha256>"; the
// signed message is "<t>.<body>" and t must lie within tolerance of now.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration) error {
	header = strings.TrimSpace(header)
	secret = strings.TrimSpace(secret)
	if header == "" || secret == "" {
		return fmt.Errorf("%w: missing header or secret", ErrInvalidSignature)
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}
