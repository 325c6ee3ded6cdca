package billing

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/RentFox/app/models"
	"github.com/ManuelReschke/RentFox/internal/pkg/apperror"
)

const (
	warnMissingUpstream = "Subscription no longer exists at the payment provider; marked as canceled locally"
	warnLocalWrite      = "Subscription canceled at the payment provider but the local record could not be updated; it will be corrected by the next webhook"
	warnAlreadyCanceled = "Subscription was already canceled"
)

// CancelSubscription cancels a subscription owned by the caller. Ownership
// is checked before any upstream call.
func (s *Service) CancelSubscription(ctx context.Context, profileID, stripeSubscriptionID string) (*CancelResult, error) {
	stripeSubscriptionID = strings.TrimSpace(stripeSubscriptionID)
	if stripeSubscriptionID == "" {
		return nil, apperror.Validation("subscriptionId is required")
	}

	sub, err := s.repo.GetSubscriptionForProfile(ctx, stripeSubscriptionID, profileID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("Subscription not found")
		}
		return nil, apperror.Internal(err, "Failed to load subscription")
	}
	if sub.IsCanceled() {
		return &CancelResult{Subscription: sub, Warning: warnAlreadyCanceled}, nil
	}

	upstream, err := s.gateway.CancelSubscription(ctx, stripeSubscriptionID)
	if err != nil {
		if !IsResourceMissing(err) {
			log.Errorf("[Subscription] Cancel of %s failed upstream: %v", stripeSubscriptionID, err)
			return nil, upstreamError(err, UpstreamMessage(err))
		}

		canceledAt := s.now().UTC()
		if err := s.repo.MarkSubscriptionCanceled(ctx, sub.ID, nil, canceledAt); err != nil {
			return nil, apperror.Internal(err, "Failed to update subscription")
		}
		sub.Status = models.SubscriptionStatusCanceled
		sub.CanceledAt = &canceledAt
		log.Warnf("[Subscription] %s missing upstream, canceled locally for profile %s", stripeSubscriptionID, profileID)
		return &CancelResult{Subscription: sub, Warning: warnMissingUpstream}, nil
	}

	canceledAt := s.now().UTC()
	if t := unixPtr(upstream.CanceledAt); t != nil {
		canceledAt = *t
	}
	_, periodEnd := subscriptionPeriod(upstream)

	if err := s.repo.MarkSubscriptionCanceled(ctx, sub.ID, periodEnd, canceledAt); err != nil {
		log.Errorf("[Subscription] %s canceled upstream but local update failed: %v", stripeSubscriptionID, err)
		return &CancelResult{Subscription: sub, Warning: warnLocalWrite}, nil
	}

	sub.Status = models.SubscriptionStatusCanceled
	sub.CanceledAt = &canceledAt
	if periodEnd != nil {
		sub.CurrentPeriodEnd = periodEnd
	}
	log.Infof("[Subscription] %s canceled for profile %s", stripeSubscriptionID, profileID)
	return &CancelResult{Subscription: sub}, nil
}
