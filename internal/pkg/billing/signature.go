package billing

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/RentFox/internal/pkg/apperror"
)

// VerifyWebhook checks the Stripe-Signature header against the raw payload
// and returns the parsed event.
func VerifyWebhook(payload []byte, signatureHeader, secret string, tolerance time.Duration) (stripe.Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return stripe.Event{}, apperror.Signature("Missing Stripe-Signature header")
	}
	if strings.TrimSpace(secret) == "" {
		return stripe.Event{}, apperror.Signature("Webhook secret not configured")
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, apperror.Wrap(err, apperror.KindSignature, http.StatusBadRequest, "Webhook signature verification failed")
	}
	return event, nil
}
