package billing

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v82"
)

// StripeGateway implements Gateway with the stripe-go client.
type StripeGateway struct {
	client *stripe.Client
}

func NewStripeGateway(secretKey string) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required")
	}
	return &StripeGateway{client: stripe.NewClient(secretKey)}, nil
}

// NewStripeGatewayFromConfig builds the gateway from the billing config.
func NewStripeGatewayFromConfig(cfg Config) (*StripeGateway, error) {
	return NewStripeGateway(cfg.SecretKey)
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	return g.client.V1CheckoutSessions.Create(ctx, params)
}

func (g *StripeGateway) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return g.client.V1Subscriptions.Retrieve(ctx, id, nil)
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return g.client.V1Subscriptions.Cancel(ctx, id, nil)
}

func (g *StripeGateway) CreateConnectAccount(ctx context.Context, params *stripe.AccountCreateParams) (*stripe.Account, error) {
	return g.client.V1Accounts.Create(ctx, params)
}

func (g *StripeGateway) GetConnectAccount(ctx context.Context, id string) (*stripe.Account, error) {
	return g.client.V1Accounts.GetByID(ctx, id, nil)
}

func (g *StripeGateway) CreateAccountLink(ctx context.Context, params *stripe.AccountLinkCreateParams) (*stripe.AccountLink, error) {
	return g.client.V1AccountLinks.Create(ctx, params)
}
