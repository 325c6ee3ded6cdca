package billing

import (
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/RentFox/app/models"
)

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// WebhookResult describes how a delivery was handled.
type WebhookResult struct {
	EventID   string
	EventType string
	Duplicate bool
	Ignored   bool
}

// CheckoutResult is returned by the checkout initiators.
type CheckoutResult struct {
	URL             string
	SessionID       string
	StripePaymentID string
	PlatformFee     decimal.Decimal
}

// CancelResult carries the local subscription after cancellation and a
// warning when the outcome was only partially applied.
type CancelResult struct {
	Subscription *models.Subscription
	Warning      string
}

// OnboardingResult is returned by StartConnectOnboarding.
type OnboardingResult struct {
	URL       string
	AccountID string
	Reused    bool
}

// ReplayReport summarizes a replay run over stored events.
type ReplayReport struct {
	Attempted int
	Succeeded int
	Failed    int
}
