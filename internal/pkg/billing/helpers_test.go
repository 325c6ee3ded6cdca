package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/RentFox/app/models"
	"github.com/ManuelReschke/RentFox/internal/pkg/database"
)

const testWebhookSecret = "whsec_test_secret"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WebhookSecret = testWebhookSecret
	cfg.PaymentSuccessURL = "https://app.test/payments?status=success"
	cfg.PaymentCancelURL = "https://app.test/payments?status=canceled"
	cfg.SubscriptionSuccessURL = "https://app.test/billing?status=success"
	cfg.SubscriptionCancelURL = "https://app.test/billing?status=canceled"
	cfg.ConnectRefreshURL = "https://app.test/payouts?refresh=1"
	cfg.ConnectReturnURL = "https://app.test/payouts?done=1"
	cfg.Prices = map[string]string{"basic": "price_basic"}
	return cfg
}

type fixture struct {
	db      *gorm.DB
	gateway *fakeGateway
	svc     *Service
	now     time.Time
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	db := newTestDB(t)
	gw := newFakeGateway()
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	return &fixture{
		db:      db,
		gateway: gw,
		now:     now,
		svc:     NewServiceFromDB(db, gw, cfg, WithClock(func() time.Time { return now })),
	}
}

func strPtr(s string) *string { return &s }

func (f *fixture) seedProfile(t *testing.T, id string) *models.Profile {
	t.Helper()
	p := &models.Profile{ID: id, Email: id + "@example.com", FullName: "Profile " + id}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

// seedRentPayment creates owner, property, tenant and a pending rent payment.
func (f *fixture) seedRentPayment(t *testing.T, paymentID, ownerID, amount string) *models.Payment {
	t.Helper()
	var owner models.Profile
	if err := f.db.Where("id = ?", ownerID).First(&owner).Error; err != nil {
		f.seedProfile(t, ownerID)
	}
	prop := &models.Property{OwnerID: ownerID, Name: "Maple Court 4B", Address: "4 Maple Court"}
	require.NoError(t, f.db.Create(prop).Error)
	tenant := &models.Tenant{PropertyID: prop.ID, FullName: "Tess Tenant", Email: "tess@example.com"}
	require.NoError(t, f.db.Create(tenant).Error)

	p := &models.Payment{
		ID:         paymentID,
		Type:       models.PaymentTypeRent,
		Amount:     decimal.RequireFromString(amount),
		PropertyID: &prop.ID,
		TenantID:   &tenant.ID,
	}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func (f *fixture) seedSubscription(t *testing.T, profileID, stripeID, status string) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ProfileID:            profileID,
		PlanType:             "basic",
		Status:               status,
		StripeSubscriptionID: strPtr(stripeID),
	}
	require.NoError(t, f.db.Create(sub).Error)
	return sub
}

func (f *fixture) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := f.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

// signedEvent builds a provider event with the given object and signs it.
func signedEvent(t *testing.T, id, eventType string, object interface{}) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data":        map[string]json.RawMessage{"object": raw},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func subscriptionCheckoutObject(sessionID, subID, userID string, amountTotal int64) map[string]interface{} {
	return map[string]interface{}{
		"id":             sessionID,
		"object":         "checkout.session",
		"mode":           "subscription",
		"amount_total":   amountTotal,
		"currency":       "usd",
		"payment_status": "paid",
		"subscription":   subID,
		"invoice":        "in_" + sessionID,
		"metadata":       map[string]string{"user_id": userID},
	}
}

func subscriptionObject(id, status, userID string, periodStart, periodEnd int64) map[string]interface{} {
	meta := map[string]string{}
	if userID != "" {
		meta["user_id"] = userID
	}
	return map[string]interface{}{
		"id":       id,
		"object":   "subscription",
		"status":   status,
		"customer": "cus_1",
		"metadata": meta,
		"items": map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{{
				"id":                   "si_1",
				"object":               "subscription_item",
				"current_period_start": periodStart,
				"current_period_end":   periodEnd,
			}},
		},
	}
}

func upstreamSubscription(id, userID string, periodStart, periodEnd int64) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       id,
		Status:   stripe.SubscriptionStatusActive,
		Metadata: map[string]string{"user_id": userID},
		Customer: &stripe.Customer{ID: "cus_1"},
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			CurrentPeriodStart: periodStart,
			CurrentPeriodEnd:   periodEnd,
		}}},
	}
}

type fakeGateway struct {
	mu sync.Mutex

	checkoutParams  []*stripe.CheckoutSessionCreateParams
	checkoutSession *stripe.CheckoutSession
	checkoutErr     error

	subscriptions map[string]*stripe.Subscription
	getSubCalls   []string

	cancelResult *stripe.Subscription
	cancelErr    error
	cancelCalls  []string

	accountParams []*stripe.AccountCreateParams
	accounts      map[string]*stripe.Account
	nextAccount   int
	accountErr    error

	linkAccounts []string
	linkErr      error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		subscriptions: map[string]*stripe.Subscription{},
		accounts:      map[string]*stripe.Account{},
	}
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkoutParams = append(g.checkoutParams, params)
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	if g.checkoutSession != nil {
		return g.checkoutSession, nil
	}
	id := fmt.Sprintf("cs_%d", len(g.checkoutParams))
	return &stripe.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getSubCalls = append(g.getSubCalls, id)
	sub, ok := g.subscriptions[id]
	if !ok {
		return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404, Msg: "No such subscription: " + id}
	}
	return sub, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls = append(g.cancelCalls, id)
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	if g.cancelResult != nil {
		return g.cancelResult, nil
	}
	return &stripe.Subscription{ID: id, Status: stripe.SubscriptionStatusCanceled}, nil
}

func (g *fakeGateway) CreateConnectAccount(_ context.Context, params *stripe.AccountCreateParams) (*stripe.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accountParams = append(g.accountParams, params)
	if g.accountErr != nil {
		return nil, g.accountErr
	}
	g.nextAccount++
	acct := &stripe.Account{ID: fmt.Sprintf("acct_%d", g.nextAccount)}
	g.accounts[acct.ID] = acct
	return acct, nil
}

func (g *fakeGateway) GetConnectAccount(_ context.Context, id string) (*stripe.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	acct, ok := g.accounts[id]
	if !ok {
		return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404, Msg: "No such account"}
	}
	return acct, nil
}

func (g *fakeGateway) CreateAccountLink(_ context.Context, params *stripe.AccountLinkCreateParams) (*stripe.AccountLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	account := stripe.StringValue(params.Account)
	g.linkAccounts = append(g.linkAccounts, account)
	if g.linkErr != nil {
		return nil, g.linkErr
	}
	return &stripe.AccountLink{URL: "https://connect.test/onboard/" + account}, nil
}

func (g *fakeGateway) upstreamCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.checkoutParams) + len(g.getSubCalls) + len(g.cancelCalls) + len(g.accountParams) + len(g.linkAccounts)
}

type fakeLocker struct {
	mu     sync.Mutex
	held   map[string]string
	issued int
	err    error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if _, busy := l.held[key]; busy {
		return "", false, nil
	}
	l.issued++
	token := fmt.Sprintf("tok-%d", l.issued)
	l.held[key] = token
	return token, true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *fakeLocker) isHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

type recordingArchiver struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (a *recordingArchiver) ArchiveEvent(_ context.Context, provider, eventID, eventType string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, provider+"/"+eventID+"/"+eventType)
	return a.err
}

var errBoom = errors.New("boom")
