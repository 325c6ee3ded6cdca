package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/RentFox/internal/pkg/apperror"
	"github.com/ManuelReschke/RentFox/internal/pkg/billing"
	"github.com/ManuelReschke/RentFox/internal/pkg/usercontext"
	"github.com/ManuelReschke/RentFox/internal/pkg/validation"
)

const billingRequestTimeout = 15 * time.Second

// BillingService is the billing surface the HTTP handlers call.
type BillingService interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*billing.WebhookResult, error)
	CreatePaymentCheckout(ctx context.Context, profileID, paymentID string) (*billing.CheckoutResult, error)
	CreateSubscriptionCheckout(ctx context.Context, profileID, planType string) (*billing.CheckoutResult, error)
	CancelSubscription(ctx context.Context, profileID, stripeSubscriptionID string) (*billing.CancelResult, error)
	StartConnectOnboarding(ctx context.Context, profileID string) (*billing.OnboardingResult, error)
	RefreshConnectStatus(ctx context.Context, profileID string) (string, error)
}

type BillingController struct {
	svc BillingService
}

func NewBillingController(svc BillingService) *BillingController {
	return &BillingController{svc: svc}
}

type checkoutRequest struct {
	PaymentID string `json:"payment_id" validate:"required,max=64"`
}

type subscriptionCheckoutRequest struct {
	PlanType string `json:"plan_type" validate:"required,max=50"`
}

type cancelSubscriptionRequest struct {
	SubscriptionID string `json:"subscriptionId" validate:"required,max=191"`
}

// HandleStripeWebhook receives provider events. The raw body is passed on
// untouched because the signature covers the exact bytes.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	ctx, cancel := context.WithTimeout(c.UserContext(), billingRequestTimeout)
	defer cancel()

	res, err := bc.svc.HandleWebhook(ctx, rawBody, signature)
	if err != nil {
		return writeError(c, err)
	}
	body := fiber.Map{"received": true}
	if res.Duplicate {
		body["duplicate"] = true
	}
	if res.Ignored {
		body["ignored"] = true
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

// HandleCreateCheckout opens a hosted checkout for a pending rent payment.
func (bc *BillingController) HandleCreateCheckout(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), billingRequestTimeout)
	defer cancel()

	res, err := bc.svc.CreatePaymentCheckout(ctx, usercontext.GetProfileID(c), req.PaymentID)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"url": res.URL})
}

func (bc *BillingController) HandleCreateSubscriptionCheckout(c *fiber.Ctx) error {
	var req subscriptionCheckoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), billingRequestTimeout)
	defer cancel()

	res, err := bc.svc.CreateSubscriptionCheckout(ctx, usercontext.GetProfileID(c), req.PlanType)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"url": res.URL})
}

// HandleCancelSubscription cancels one of the caller's subscriptions.
func (bc *BillingController) HandleCancelSubscription(c *fiber.Ctx) error {
	var req cancelSubscriptionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), billingRequestTimeout)
	defer cancel()

	res, err := bc.svc.CancelSubscription(ctx, usercontext.GetProfileID(c), req.SubscriptionID)
	if err != nil {
		return writeError(c, err)
	}
	if res.Warning != "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Subscription canceled",
			"warning": res.Warning,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message":      "Subscription canceled",
		"subscription": res.Subscription,
	})
}

func (bc *BillingController) HandleConnectOnboard(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), billingRequestTimeout)
	defer cancel()

	res, err := bc.svc.StartConnectOnboarding(ctx, usercontext.GetProfileID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"url": res.URL})
}

func (bc *BillingController) HandleConnectRefresh(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), billingRequestTimeout)
	defer cancel()

	status, err := bc.svc.RefreshConnectStatus(ctx, usercontext.GetProfileID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": status})
}

func bindAndValidate(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return apperror.Validation("Invalid request").WithDetails("request body must be a JSON object")
	}
	if errs := validation.ValidateStruct(out); errs != nil {
		return apperror.Validation("Invalid request").WithDetails(validation.Summary(errs))
	}
	return nil
}

// writeError maps service errors onto the JSON error envelope.
func writeError(c *fiber.Ctx, err error) error {
	appErr := apperror.From(err)
	if appErr.Kind == apperror.KindInternal {
		log.Errorf("[Billing] %s %s failed: %v", c.Method(), c.Path(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		appErr = apperror.New(apperror.KindUpstream, fiber.StatusGatewayTimeout, "Request timed out")
	}

	body := fiber.Map{"error": appErr.Message}
	if appErr.Details != "" && (appErr.Kind == apperror.KindValidation || appErr.Kind == apperror.KindUpstream) {
		body["details"] = appErr.Details
	}
	return c.Status(appErr.Status).JSON(body)
}
