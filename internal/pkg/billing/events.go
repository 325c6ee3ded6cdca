package billing

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82"
)

// EventKind enumerates the provider event types this service applies.
type EventKind string

const (
	KindCheckoutCompleted   EventKind = "checkout.session.completed"
	KindCheckoutExpired     EventKind = "checkout.session.expired"
	KindSubscriptionUpdated EventKind = "customer.subscription.updated"
	KindSubscriptionDeleted EventKind = "customer.subscription.deleted"
	KindPaymentFailed       EventKind = "payment_intent.payment_failed"
	KindAccountUpdated      EventKind = "account.updated"
)

// HandledKinds lists every applied event type, for endpoint registration.
var HandledKinds = []EventKind{
	KindCheckoutCompleted,
	KindCheckoutExpired,
	KindSubscriptionUpdated,
	KindSubscriptionDeleted,
	KindPaymentFailed,
	KindAccountUpdated,
}

// Event is a decoded provider event. The set of implementations is closed.
type Event interface {
	EventID() string
	isEvent()
}

type eventBase struct {
	ID string
}

func (e eventBase) EventID() string { return e.ID }
func (eventBase) isEvent()          {}

type CheckoutCompleted struct {
	eventBase
	Session *stripe.CheckoutSession
}

type CheckoutExpired struct {
	eventBase
	Session *stripe.CheckoutSession
}

// SubscriptionChanged covers updates and deletions; a deletion is a
// transition to canceled.
type SubscriptionChanged struct {
	eventBase
	Subscription *stripe.Subscription
	Deleted      bool
}

type PaymentFailed struct {
	eventBase
	PaymentIntent *stripe.PaymentIntent
}

type AccountUpdated struct {
	eventBase
	Account *stripe.Account
}

// Unhandled is acknowledged without side effects.
type Unhandled struct {
	eventBase
	Type string
}

// DecodeEvent maps a verified provider event onto the closed event set.
func DecodeEvent(evt stripe.Event) (Event, error) {
	base := eventBase{ID: evt.ID}
	if evt.Data == nil {
		return nil, fmt.Errorf("event %s has no data", evt.ID)
	}
	raw := evt.Data.Raw

	switch EventKind(evt.Type) {
	case KindCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		return CheckoutCompleted{eventBase: base, Session: &s}, nil
	case KindCheckoutExpired:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		return CheckoutExpired{eventBase: base, Session: &s}, nil
	case KindSubscriptionUpdated, KindSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return SubscriptionChanged{
			eventBase:    base,
			Subscription: &sub,
			Deleted:      EventKind(evt.Type) == KindSubscriptionDeleted,
		}, nil
	case KindPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		return PaymentFailed{eventBase: base, PaymentIntent: &pi}, nil
	case KindAccountUpdated:
		var acct stripe.Account
		if err := json.Unmarshal(raw, &acct); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		return AccountUpdated{eventBase: base, Account: &acct}, nil
	default:
		return Unhandled{eventBase: base, Type: string(evt.Type)}, nil
	}
}
