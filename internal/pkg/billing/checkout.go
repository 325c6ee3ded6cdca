package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"

	"github.com/ManuelReschke/RentFox/app/models"
	"github.com/ManuelReschke/RentFox/internal/pkg/apperror"
)

// CreatePaymentCheckout opens a hosted checkout session for a pending rent
// payment visible to the caller.
func (s *Service) CreatePaymentCheckout(ctx context.Context, profileID, paymentID string) (*CheckoutResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, apperror.Validation("Invalid request").WithDetails("payment_id is required")
	}

	payment, err := s.repo.GetPaymentForCheckout(ctx, paymentID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("Payment not found")
		}
		return nil, apperror.Internal(err, "Failed to load payment")
	}
	if !canPay(payment, profileID) {
		return nil, apperror.NotFound("Payment not found")
	}
	if payment.Type != models.PaymentTypeRent {
		return nil, apperror.Validation("Invalid payment").WithDetails("only rent payments can be paid through checkout")
	}
	if payment.Status != models.PaymentStatusPending {
		return nil, apperror.Validation("Invalid payment").WithDetails("payment is not pending")
	}

	amountMinor := ToMinorUnits(payment.Amount)
	if amountMinor <= 0 {
		return nil, apperror.Validation("Invalid amount").WithDetails("amount must be greater than zero")
	}
	feeMinor := PlatformFee(amountMinor, s.cfg.PlatformFeePercent)

	params := s.rentCheckoutParams(payment, amountMinor, feeMinor)
	sess, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		log.Errorf("[Checkout] Failed to create checkout session for payment %s: %v", payment.ID, err)
		return nil, upstreamError(err, "Failed to create checkout session")
	}

	stripePaymentID := sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		stripePaymentID = sess.PaymentIntent.ID
	}
	fee := FromMinorUnits(feeMinor)
	if err := s.repo.AttachCheckout(ctx, payment.ID, stripePaymentID, sess.ID, fee); err != nil {
		// The session carries payment_id metadata, so completion still reconciles.
		log.Errorf("[Checkout] Session %s created but payment %s not updated: %v", sess.ID, payment.ID, err)
	}

	log.Infof("[Checkout] Session %s created for payment %s (amount %s, fee %s)",
		sess.ID, payment.ID, payment.Amount.StringFixed(2), fee.StringFixed(2))
	return &CheckoutResult{
		URL:             sess.URL,
		SessionID:       sess.ID,
		StripePaymentID: stripePaymentID,
		PlatformFee:     fee,
	}, nil
}

func canPay(p *models.Payment, profileID string) bool {
	if profileID == "" {
		return false
	}
	if p.Property != nil && p.Property.OwnerID == profileID {
		return true
	}
	return p.Tenant != nil && p.Tenant.IsLinkedTo(profileID)
}

func (s *Service) rentCheckoutParams(p *models.Payment, amountMinor, feeMinor int64) *stripe.CheckoutSessionCreateParams {
	metadata := map[string]string{"payment_id": p.ID}
	name := "Rent payment"
	if p.Property != nil {
		metadata["property_id"] = p.Property.ID
		name = "Rent for " + p.Property.Name
	}
	if p.Tenant != nil {
		metadata["tenant_id"] = p.Tenant.ID
		name += " (" + p.Tenant.FullName + ")"
	}
	currency := firstNonEmpty(p.Currency, s.cfg.Currency)

	productData := &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
		Name: stripe.String(name),
	}
	if p.PeriodStart != nil && p.PeriodEnd != nil {
		productData.Description = stripe.String(fmt.Sprintf("%s to %s",
			p.PeriodStart.Format("2006-01-02"), p.PeriodEnd.Format("2006-01-02")))
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.cfg.PaymentSuccessURL),
		CancelURL:  stripe.String(s.cfg.PaymentCancelURL),
		Metadata:   metadata,
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: metadata,
		},
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				ProductData: productData,
				UnitAmount:  stripe.Int64(amountMinor),
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if p.Tenant != nil && p.Tenant.Email != "" {
		params.CustomerEmail = stripe.String(p.Tenant.Email)
	}

	// Route funds to the landlord when their payout account is ready.
	if p.Property != nil && p.Property.Owner != nil && p.Property.Owner.CanReceivePayouts() {
		params.PaymentIntentData.ApplicationFeeAmount = stripe.Int64(feeMinor)
		params.PaymentIntentData.TransferData = &stripe.CheckoutSessionCreatePaymentIntentDataTransferDataParams{
			Destination: stripe.String(p.Property.Owner.ConnectAccountID()),
		}
	}
	return params
}

// CreateSubscriptionCheckout opens a subscription checkout for a plan and
// records a pending subscription for the caller.
func (s *Service) CreateSubscriptionCheckout(ctx context.Context, profileID, planType string) (*CheckoutResult, error) {
	planType = strings.ToLower(strings.TrimSpace(planType))
	price, ok := s.cfg.PriceFor(planType)
	if !ok {
		return nil, apperror.Validation("Invalid request").WithDetails("unknown plan_type " + planType)
	}

	profile, err := s.repo.GetProfile(ctx, profileID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("Profile not found")
		}
		return nil, apperror.Internal(err, "Failed to load profile")
	}

	metadata := map[string]string{"user_id": profile.ID, "plan_type": planType}
	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.cfg.SubscriptionSuccessURL),
		CancelURL:         stripe.String(s.cfg.SubscriptionCancelURL),
		ClientReferenceID: stripe.String(profile.ID),
		Metadata:          metadata,
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: metadata,
		},
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Price:    stripe.String(price),
			Quantity: stripe.Int64(1),
		}},
	}
	if profile.Email != "" {
		params.CustomerEmail = stripe.String(profile.Email)
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		log.Errorf("[Checkout] Failed to create subscription checkout for profile %s: %v", profile.ID, err)
		return nil, upstreamError(err, "Failed to create checkout session")
	}

	sessionID := sess.ID
	pending := &models.Subscription{
		ProfileID:               profile.ID,
		PlanType:                planType,
		Status:                  models.SubscriptionStatusPending,
		StripeCheckoutSessionID: &sessionID,
	}
	if err := s.repo.CreateSubscription(ctx, pending); err != nil {
		// The webhook creates the row from metadata if this insert is lost.
		log.Errorf("[Checkout] Session %s created but pending subscription not stored: %v", sess.ID, err)
	}

	log.Infof("[Checkout] Subscription session %s created for profile %s (plan %s)", sess.ID, profile.ID, planType)
	return &CheckoutResult{URL: sess.URL, SessionID: sess.ID}, nil
}
