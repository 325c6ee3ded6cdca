package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"

	"github.com/ManuelReschke/RentFox/app/models"
	"github.com/ManuelReschke/RentFox/internal/pkg/apperror"
)

// HandleWebhook verifies a delivery and applies it at most once. Nothing is
// read or written locally before the signature is verified.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	event, err := VerifyWebhook(payload, signatureHeader, s.cfg.WebhookSecret, s.cfg.WebhookTolerance)
	if err != nil {
		log.Warnf("[Webhook] Rejected delivery: %v", err)
		return nil, err
	}

	result := &WebhookResult{EventID: event.ID, EventType: string(event.Type)}
	s.archive(ctx, event.ID, string(event.Type), payload)

	key := lockKey(event.ID)
	token, locked, err := s.locker.TryLock(ctx, key, s.cfg.EventLockTTL)
	if err != nil {
		log.Warnf("[Webhook] Lock unavailable for event %s, continuing without it: %v", event.ID, err)
		locked = true
	}
	if !locked {
		return nil, apperror.Conflict("Event is already being processed")
	}
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			log.Warnf("[Webhook] Failed to release lock for event %s: %v", event.ID, err)
		}
	}()

	created, stored, err := s.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		log.Errorf("[Webhook] Failed to persist event %s (%s): %v", event.ID, event.Type, err)
		return nil, apperror.Internal(err, "Failed to persist webhook event")
	}
	if !created && stored.Succeeded() {
		log.Infof("[Webhook] Duplicate delivery of event %s (%s), already applied", event.ID, event.Type)
		result.Duplicate = true
		return result, nil
	}

	ignored, procErr := s.processEvent(ctx, event)
	if markErr := s.MarkWebhookProcessed(ctx, stored.ID, procErr); markErr != nil {
		log.Errorf("[Webhook] Failed to mark event %s processed: %v", event.ID, markErr)
	}
	if procErr != nil {
		log.Errorf("[Webhook] Processing event %s (%s) failed: %v", event.ID, event.Type, procErr)
		return nil, apperror.Wrap(procErr, apperror.KindInternal, http.StatusInternalServerError, "Webhook processing failed")
	}

	result.Ignored = ignored
	return result, nil
}

// processEvent decodes and applies an already verified event. The bool is
// true when the event type is not one this service applies.
func (s *Service) processEvent(ctx context.Context, event stripe.Event) (bool, error) {
	decoded, err := DecodeEvent(event)
	if err != nil {
		return false, err
	}
	return s.Apply(ctx, decoded)
}

// Apply dispatches a decoded event to its transition.
func (s *Service) Apply(ctx context.Context, event Event) (bool, error) {
	switch e := event.(type) {
	case CheckoutCompleted:
		return false, s.applyCheckoutCompleted(ctx, e)
	case CheckoutExpired:
		return false, s.applyCheckoutExpired(ctx, e)
	case SubscriptionChanged:
		return false, s.applySubscriptionChanged(ctx, e)
	case PaymentFailed:
		return false, s.applyPaymentFailed(ctx, e)
	case AccountUpdated:
		return false, s.applyAccountUpdated(ctx, e)
	case Unhandled:
		log.Infof("[Webhook] Ignoring unhandled event type %s (%s)", e.Type, e.ID)
		return true, nil
	default:
		return false, fmt.Errorf("unsupported event %T", event)
	}
}

func (s *Service) applyCheckoutCompleted(ctx context.Context, e CheckoutCompleted) error {
	sess := e.Session
	switch sess.Mode {
	case stripe.CheckoutSessionModeSubscription:
		return s.applySubscriptionCheckout(ctx, e.ID, sess)
	case stripe.CheckoutSessionModePayment:
		return s.applyRentCheckout(ctx, e.ID, sess)
	default:
		log.Infof("[Webhook] Event %s: checkout session %s has mode %q, nothing to apply", e.ID, sess.ID, sess.Mode)
		return nil
	}
}

func (s *Service) applySubscriptionCheckout(ctx context.Context, eventID string, sess *stripe.CheckoutSession) error {
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		return fmt.Errorf("checkout session %s has no subscription", sess.ID)
	}

	upstream, err := s.gateway.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return fmt.Errorf("retrieve subscription %s: %w", sess.Subscription.ID, err)
	}

	profileID := upstream.Metadata["user_id"]
	if profileID == "" {
		profileID = sess.Metadata["user_id"]
	}
	if profileID == "" {
		return fmt.Errorf("subscription %s carries no user_id metadata", upstream.ID)
	}

	sub := SubscriptionFromStripe(upstream, profileID)
	sub.PlanType = firstNonEmpty(upstream.Metadata["plan_type"], sess.Metadata["plan_type"])
	sessionID := sess.ID
	sub.StripeCheckoutSessionID = &sessionID

	if err := s.syncSubscription(ctx, sub, sess.ID); err != nil {
		return err
	}

	payment := &models.Payment{
		Type:                    models.PaymentTypeSubscription,
		Status:                  models.PaymentStatusCompleted,
		Amount:                  FromMinorUnits(sess.AmountTotal),
		Currency:                firstNonEmpty(string(sess.Currency), s.cfg.Currency),
		SubscriptionID:          &sub.ID,
		StripeCheckoutSessionID: &sessionID,
		PeriodStart:             sub.CurrentPeriodStart,
		PeriodEnd:               sub.CurrentPeriodEnd,
	}
	if ref := subscriptionPaymentRef(sess); ref != "" {
		payment.StripePaymentID = &ref
	}
	if s.cfg.PaymentDedup == DedupByCheckoutSession {
		key := "checkout:" + sess.ID
		payment.DedupKey = &key
	}

	created, err := s.repo.CreatePayment(ctx, payment)
	if err != nil {
		return fmt.Errorf("record payment for subscription %s: %w", upstream.ID, err)
	}
	if !created {
		log.Infof("[Webhook] Event %s: payment for checkout session %s already recorded", eventID, sess.ID)
		return nil
	}
	log.Infof("[Webhook] Event %s: subscription %s synced for profile %s, payment %s recorded (%s)",
		eventID, upstream.ID, profileID, payment.ID, payment.Amount.StringFixed(2))
	return nil
}

func (s *Service) applyRentCheckout(ctx context.Context, eventID string, sess *stripe.CheckoutSession) error {
	paymentID := sess.Metadata["payment_id"]
	if paymentID == "" {
		log.Infof("[Webhook] Event %s: checkout session %s has no payment_id metadata", eventID, sess.ID)
		return nil
	}
	if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		log.Infof("[Webhook] Event %s: payment %s not yet paid, waiting for async confirmation", eventID, paymentID)
		return nil
	}

	ref := sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		ref = sess.PaymentIntent.ID
	}
	changed, err := s.repo.TransitionPayment(ctx, paymentID,
		[]string{models.PaymentStatusPending, models.PaymentStatusFailed},
		models.PaymentStatusCompleted, ref)
	if err != nil {
		return fmt.Errorf("complete payment %s: %w", paymentID, err)
	}
	if !changed {
		log.Infof("[Webhook] Event %s: payment %s already final or unknown", eventID, paymentID)
		return nil
	}
	log.Infof("[Webhook] Event %s: payment %s completed (%s)", eventID, paymentID, ref)
	return nil
}

func (s *Service) applyCheckoutExpired(ctx context.Context, e CheckoutExpired) error {
	sess := e.Session
	if sess.Mode == stripe.CheckoutSessionModeSubscription {
		expired, err := s.repo.ExpirePendingSubscription(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("expire pending subscription for session %s: %w", sess.ID, err)
		}
		if expired {
			log.Infof("[Webhook] Event %s: pending subscription for session %s expired", e.ID, sess.ID)
		}
		return nil
	}
	return s.failPayment(ctx, e.ID, sess.Metadata["payment_id"], "")
}

func (s *Service) applyPaymentFailed(ctx context.Context, e PaymentFailed) error {
	return s.failPayment(ctx, e.ID, e.PaymentIntent.Metadata["payment_id"], e.PaymentIntent.ID)
}

func (s *Service) failPayment(ctx context.Context, eventID, paymentID, ref string) error {
	if paymentID == "" {
		log.Infof("[Webhook] Event %s: no payment_id metadata, nothing to fail", eventID)
		return nil
	}
	changed, err := s.repo.TransitionPayment(ctx, paymentID,
		[]string{models.PaymentStatusPending}, models.PaymentStatusFailed, ref)
	if err != nil {
		return fmt.Errorf("fail payment %s: %w", paymentID, err)
	}
	if changed {
		log.Infof("[Webhook] Event %s: payment %s marked failed", eventID, paymentID)
	}
	return nil
}

func (s *Service) applySubscriptionChanged(ctx context.Context, e SubscriptionChanged) error {
	upstream := e.Subscription
	profileID := upstream.Metadata["user_id"]
	if profileID == "" {
		existing, err := s.repo.GetSubscriptionByStripeID(ctx, upstream.ID)
		if err != nil {
			if isNotFound(err) {
				log.Warnf("[Webhook] Event %s: subscription %s unknown locally and has no user_id metadata", e.ID, upstream.ID)
				return nil
			}
			return fmt.Errorf("load subscription %s: %w", upstream.ID, err)
		}
		profileID = existing.ProfileID
	}

	sub := SubscriptionFromStripe(upstream, profileID)
	sub.PlanType = upstream.Metadata["plan_type"]
	if e.Deleted {
		sub.Status = models.SubscriptionStatusCanceled
		if sub.CanceledAt == nil {
			now := s.now()
			sub.CanceledAt = &now
		}
	}

	if err := s.syncSubscription(ctx, sub, ""); err != nil {
		return err
	}
	log.Infof("[Webhook] Event %s: subscription %s is %s", e.ID, upstream.ID, sub.Status)
	return nil
}

func (s *Service) applyAccountUpdated(ctx context.Context, e AccountUpdated) error {
	status := ConnectStatusFor(e.Account)
	changed, err := s.repo.UpdateConnectStatus(ctx, e.Account.ID, status)
	if err != nil {
		return fmt.Errorf("update connect status for %s: %w", e.Account.ID, err)
	}
	if !changed {
		log.Infof("[Webhook] Event %s: account %s unchanged or not linked", e.ID, e.Account.ID)
		return nil
	}
	log.Infof("[Webhook] Event %s: account %s is %s", e.ID, e.Account.ID, status)
	return nil
}

// syncSubscription claims the pending row for the checkout session when there
// is one, otherwise upserts by provider id. Canceled rows stay canceled. When
// a subscription event arrived before checkout completion, the live row already
// exists: it inherits the session's plan type and the pending row is retired.
func (s *Service) syncSubscription(ctx context.Context, sub *models.Subscription, checkoutSessionID string) error {
	planType := sub.PlanType
	claimed, err := s.repo.ClaimPendingSubscription(ctx, checkoutSessionID, sub)
	if err != nil {
		return fmt.Errorf("claim pending subscription: %w", err)
	}
	if claimed {
		return nil
	}

	existing, err := s.repo.GetSubscriptionByStripeID(ctx, sub.ExternalID())
	switch {
	case err == nil && existing.IsCanceled() && !sub.IsCanceled():
		log.Warnf("[Webhook] Subscription %s is canceled locally, ignoring status %s", sub.ExternalID(), sub.Status)
		sub.Status = models.SubscriptionStatusCanceled
		sub.CanceledAt = existing.CanceledAt
	case err != nil && !isNotFound(err):
		return fmt.Errorf("load subscription %s: %w", sub.ExternalID(), err)
	}

	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.ExternalID(), err)
	}
	if checkoutSessionID == "" {
		return nil
	}

	if err := s.repo.BackfillSubscription(ctx, sub.ExternalID(), planType, checkoutSessionID); err != nil {
		return fmt.Errorf("backfill subscription %s: %w", sub.ExternalID(), err)
	}
	if sub.PlanType == "" {
		sub.PlanType = planType
	}
	if sub.StripeCheckoutSessionID == nil {
		sessionID := checkoutSessionID
		sub.StripeCheckoutSessionID = &sessionID
	}

	retired, err := s.repo.ExpirePendingSubscription(ctx, checkoutSessionID)
	if err != nil {
		return fmt.Errorf("retire pending subscription for session %s: %w", checkoutSessionID, err)
	}
	if retired {
		log.Infof("[Webhook] Pending subscription for session %s superseded by %s", checkoutSessionID, sub.ExternalID())
	}
	return nil
}

// SyncSubscription re-reads one subscription upstream and stores it locally.
func (s *Service) SyncSubscription(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	upstream, err := s.gateway.GetSubscription(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, upstreamError(err, "Failed to retrieve subscription")
	}
	decoded := SubscriptionChanged{eventBase: eventBase{ID: "manual-sync"}, Subscription: upstream}
	if upstream.Status == stripe.SubscriptionStatusCanceled {
		decoded.Deleted = true
	}
	if err := s.applySubscriptionChanged(ctx, decoded); err != nil {
		return nil, err
	}
	sub, err := s.repo.GetSubscriptionByStripeID(ctx, stripeSubscriptionID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("Subscription has no local owner")
		}
		return nil, err
	}
	return sub, nil
}

// ReplayFailedEvents re-applies stored events whose processing failed. Stored
// payloads were verified on receipt.
func (s *Service) ReplayFailedEvents(ctx context.Context, limit int) (ReplayReport, error) {
	var report ReplayReport
	if limit <= 0 {
		limit = 100
	}
	events, err := s.repo.ListFailedWebhookEvents(ctx, models.ProviderStripe, limit)
	if err != nil {
		return report, err
	}

	for _, stored := range events {
		report.Attempted++
		procErr := s.replayOne(ctx, stored)
		if markErr := s.MarkWebhookProcessed(ctx, stored.ID, procErr); markErr != nil {
			log.Errorf("[Replay] Failed to mark event %s: %v", stored.ProviderEventID, markErr)
		}
		if procErr != nil {
			report.Failed++
			log.Warnf("[Replay] Event %s (%s) failed again: %v", stored.ProviderEventID, stored.EventType, procErr)
			continue
		}
		report.Succeeded++
		log.Infof("[Replay] Event %s (%s) applied", stored.ProviderEventID, stored.EventType)
	}
	return report, nil
}

func (s *Service) replayOne(ctx context.Context, stored models.WebhookEvent) error {
	var event stripe.Event
	if err := json.Unmarshal([]byte(stored.PayloadJSON), &event); err != nil {
		return fmt.Errorf("decode stored payload: %w", err)
	}

	key := lockKey(stored.ProviderEventID)
	token, locked, err := s.locker.TryLock(ctx, key, s.cfg.EventLockTTL)
	if err == nil && !locked {
		return fmt.Errorf("event %s is being processed", stored.ProviderEventID)
	}
	defer func() { _ = s.locker.Unlock(context.WithoutCancel(ctx), key, token) }()

	_, err = s.processEvent(ctx, event)
	return err
}

// SubscriptionFromStripe maps provider subscription state onto the local model.
func SubscriptionFromStripe(in *stripe.Subscription, profileID string) *models.Subscription {
	id := in.ID
	sub := &models.Subscription{
		ProfileID:            profileID,
		Status:               string(in.Status),
		StripeSubscriptionID: &id,
		CancelAtPeriodEnd:    in.CancelAtPeriodEnd,
	}
	if sub.Status == "" {
		sub.Status = models.SubscriptionStatusIncomplete
	}
	if in.Customer != nil {
		sub.StripeCustomerID = in.Customer.ID
	}
	if in.CanceledAt > 0 {
		t := time.Unix(in.CanceledAt, 0).UTC()
		sub.CanceledAt = &t
	}
	sub.CurrentPeriodStart, sub.CurrentPeriodEnd = subscriptionPeriod(in)
	return sub
}

// subscriptionPeriod returns the period bounds, which live on the items.
func subscriptionPeriod(in *stripe.Subscription) (*time.Time, *time.Time) {
	if in == nil || in.Items == nil || len(in.Items.Data) == 0 {
		return nil, nil
	}
	item := in.Items.Data[0]
	return unixPtr(item.CurrentPeriodStart), unixPtr(item.CurrentPeriodEnd)
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func subscriptionPaymentRef(sess *stripe.CheckoutSession) string {
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		return sess.PaymentIntent.ID
	}
	if sess.Invoice != nil && sess.Invoice.ID != "" {
		return sess.Invoice.ID
	}
	return ""
}

// ConnectStatusFor derives the local payout status from a connected account.
// An account still in onboarding is pending even when it reports a
// disabled reason.
func ConnectStatusFor(acct *stripe.Account) string {
	switch {
	case acct == nil:
		return models.ConnectStatusUnknown
	case acct.ChargesEnabled && acct.PayoutsEnabled:
		return models.ConnectStatusActive
	case !acct.DetailsSubmitted:
		return models.ConnectStatusPending
	case acct.Requirements != nil && acct.Requirements.DisabledReason != "":
		return models.ConnectStatusRestricted
	default:
		return models.ConnectStatusUnknown
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
