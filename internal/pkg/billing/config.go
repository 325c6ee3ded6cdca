package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/RentFox/internal/pkg/env"
)

// DedupPolicy decides how subscription checkout payments are deduplicated
// across webhook redeliveries.
type DedupPolicy string

const (
	// DedupByCheckoutSession records at most one payment per checkout session.
	DedupByCheckoutSession DedupPolicy = "checkout_session"
	// DedupNone inserts a payment for every delivery.
	DedupNone DedupPolicy = "none"
)

// ConnectAccountPolicy decides what onboarding does for a profile that
// already has a payout account.
type ConnectAccountPolicy string

const (
	ConnectReuseExisting ConnectAccountPolicy = "reuse"
	ConnectAlwaysCreate  ConnectAccountPolicy = "always_create"
)

const (
	defaultPlatformFeePercent = 2.0
	defaultWebhookTolerance   = 300 * time.Second
	defaultEventLockTTL       = 30 * time.Second
)

// Config holds payment provider settings and reconciliation policies.
type Config struct {
	SecretKey          string
	WebhookSecret      string
	PlatformFeePercent float64
	Currency           string

	PaymentSuccessURL      string
	PaymentCancelURL       string
	SubscriptionSuccessURL string
	SubscriptionCancelURL  string
	ConnectRefreshURL      string
	ConnectReturnURL       string

	PaymentDedup    DedupPolicy
	ConnectAccounts ConnectAccountPolicy

	// Prices maps plan types to provider price ids.
	Prices map[string]string

	WebhookTolerance time.Duration
	EventLockTTL     time.Duration
}

// DefaultConfig returns a config with defaults for everything except secrets.
func DefaultConfig() Config {
	return Config{
		PlatformFeePercent: defaultPlatformFeePercent,
		Currency:           "usd",
		PaymentDedup:       DedupByCheckoutSession,
		ConnectAccounts:    ConnectReuseExisting,
		Prices:             map[string]string{},
		WebhookTolerance:   defaultWebhookTolerance,
		EventLockTTL:       defaultEventLockTTL,
	}
}

// LoadConfig reads the billing configuration from the environment.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	appURL := strings.TrimRight(env.GetEnv("APP_URL", "http://localhost:3000"), "/")

	cfg.SecretKey = strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	cfg.WebhookSecret = strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", ""))
	cfg.PlatformFeePercent = env.GetEnvFloat("PLATFORM_FEE_PERCENT", defaultPlatformFeePercent)
	cfg.Currency = strings.ToLower(env.GetEnv("BILLING_CURRENCY", cfg.Currency))

	cfg.PaymentSuccessURL = env.GetEnv("PAYMENT_SUCCESS_URL", appURL+"/payments?status=success&session_id={CHECKOUT_SESSION_ID}")
	cfg.PaymentCancelURL = env.GetEnv("PAYMENT_CANCEL_URL", appURL+"/payments?status=canceled")
	cfg.SubscriptionSuccessURL = env.GetEnv("SUBSCRIPTION_SUCCESS_URL", appURL+"/settings/billing?status=success")
	cfg.SubscriptionCancelURL = env.GetEnv("SUBSCRIPTION_CANCEL_URL", appURL+"/settings/billing?status=canceled")
	cfg.ConnectRefreshURL = env.GetEnv("CONNECT_REFRESH_URL", appURL+"/settings/payouts?refresh=1")
	cfg.ConnectReturnURL = env.GetEnv("CONNECT_RETURN_URL", appURL+"/settings/payouts?onboarding=complete")

	cfg.PaymentDedup = DedupPolicy(strings.ToLower(env.GetEnv("PAYMENT_DEDUP_POLICY", string(cfg.PaymentDedup))))
	cfg.ConnectAccounts = ConnectAccountPolicy(strings.ToLower(env.GetEnv("CONNECT_ACCOUNT_POLICY", string(cfg.ConnectAccounts))))

	prices, err := ParsePrices(env.GetEnv("SUBSCRIPTION_PRICES", ""))
	if err != nil {
		return cfg, err
	}
	cfg.Prices = prices

	cfg.WebhookTolerance = time.Duration(env.GetEnvInt("STRIPE_WEBHOOK_TOLERANCE_SECONDS", int(defaultWebhookTolerance.Seconds()))) * time.Second
	cfg.EventLockTTL = time.Duration(env.GetEnvInt("WEBHOOK_LOCK_TTL_SECONDS", int(defaultEventLockTTL.Seconds()))) * time.Second

	return cfg, cfg.Validate()
}

// Validate checks policies and numeric bounds. Secrets are checked where they
// are used so the service can start without provider credentials in dev.
func (c Config) Validate() error {
	switch c.PaymentDedup {
	case DedupByCheckoutSession, DedupNone:
	default:
		return fmt.Errorf("invalid PAYMENT_DEDUP_POLICY %q", c.PaymentDedup)
	}
	switch c.ConnectAccounts {
	case ConnectReuseExisting, ConnectAlwaysCreate:
	default:
		return fmt.Errorf("invalid CONNECT_ACCOUNT_POLICY %q", c.ConnectAccounts)
	}
	if c.PlatformFeePercent < 0 || c.PlatformFeePercent >= 100 {
		return errors.New("PLATFORM_FEE_PERCENT must be in [0, 100)")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("invalid BILLING_CURRENCY %q", c.Currency)
	}
	return nil
}

// PriceFor resolves a plan type to its provider price id.
func (c Config) PriceFor(planType string) (string, bool) {
	price, ok := c.Prices[strings.ToLower(strings.TrimSpace(planType))]
	return price, ok && price != ""
}

// ParsePrices parses "plan:price_id,plan2:price_id2".
func ParsePrices(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		plan, price, ok := strings.Cut(part, ":")
		plan = strings.ToLower(strings.TrimSpace(plan))
		price = strings.TrimSpace(price)
		if !ok || plan == "" || price == "" {
			return nil, fmt.Errorf("invalid SUBSCRIPTION_PRICES entry %q", part)
		}
		out[plan] = price
	}
	return out, nil
}
