package billing

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v82"

	"github.com/ManuelReschke/RentFox/internal/pkg/apperror"
)

// Gateway is the subset of the payment provider API the service calls.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CreateConnectAccount(ctx context.Context, params *stripe.AccountCreateParams) (*stripe.Account, error)
	GetConnectAccount(ctx context.Context, id string) (*stripe.Account, error)
	CreateAccountLink(ctx context.Context, params *stripe.AccountLinkCreateParams) (*stripe.AccountLink, error)
}

// IsResourceMissing reports whether the provider said the object does not exist.
func IsResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

// UpstreamStatus returns the provider HTTP status for err, or 0.
func UpstreamStatus(err error) int {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode
	}
	return 0
}

// UpstreamMessage returns the provider's message for err.
func UpstreamMessage(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// upstreamError wraps a provider failure. Details carry the provider's own
// message, never the raw error body.
func upstreamError(err error, message string) *apperror.Error {
	return apperror.Upstream(err, message, UpstreamStatus(err)).WithDetails(UpstreamMessage(err))
}
