package billing

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"

	"github.com/ManuelReschke/RentFox/app/models"
	"github.com/ManuelReschke/RentFox/internal/pkg/apperror"
)

// StartConnectOnboarding returns a hosted onboarding link for the caller's
// payout account, creating the account when the policy requires it.
func (s *Service) StartConnectOnboarding(ctx context.Context, profileID string) (*OnboardingResult, error) {
	profile, err := s.repo.GetProfile(ctx, profileID)
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound("Profile not found")
		}
		return nil, apperror.Internal(err, "Failed to load profile")
	}

	if existing := profile.ConnectAccountID(); existing != "" && s.cfg.ConnectAccounts == ConnectReuseExisting {
		url, err := s.onboardingLink(ctx, existing)
		if err != nil {
			return nil, err
		}
		log.Infof("[Connect] Reusing account %s for profile %s", existing, profile.ID)
		return &OnboardingResult{URL: url, AccountID: existing, Reused: true}, nil
	}

	params := &stripe.AccountCreateParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		Capabilities: &stripe.AccountCreateCapabilitiesParams{
			CardPayments: &stripe.AccountCreateCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCreateCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.AddMetadata("user_id", profile.ID)
	if profile.Email != "" {
		params.Email = stripe.String(profile.Email)
	}

	acct, err := s.gateway.CreateConnectAccount(ctx, params)
	if err != nil {
		log.Errorf("[Connect] Failed to create account for profile %s: %v", profile.ID, err)
		return nil, upstreamError(err, UpstreamMessage(err))
	}

	if err := s.repo.SetConnectAccount(ctx, profile.ID, acct.ID, models.ConnectStatusPending); err != nil {
		log.Errorf("[Connect] Account %s created but not stored for profile %s: %v", acct.ID, profile.ID, err)
		return nil, apperror.Internal(err, "Failed to store connected account")
	}

	url, err := s.onboardingLink(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	log.Infof("[Connect] Account %s created for profile %s", acct.ID, profile.ID)
	return &OnboardingResult{URL: url, AccountID: acct.ID}, nil
}

func (s *Service) onboardingLink(ctx context.Context, accountID string) (string, error) {
	link, err := s.gateway.CreateAccountLink(ctx, &stripe.AccountLinkCreateParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(s.cfg.ConnectRefreshURL),
		ReturnURL:  stripe.String(s.cfg.ConnectReturnURL),
		Type:       stripe.String("account_onboarding"),
	})
	if err != nil {
		log.Errorf("[Connect] Failed to create onboarding link for %s: %v", accountID, err)
		return "", upstreamError(err, UpstreamMessage(err))
	}
	return link.URL, nil
}

// RefreshConnectStatus re-reads the caller's payout account and stores the
// derived status.
func (s *Service) RefreshConnectStatus(ctx context.Context, profileID string) (string, error) {
	profile, err := s.repo.GetProfile(ctx, profileID)
	if err != nil {
		if isNotFound(err) {
			return "", apperror.NotFound("Profile not found")
		}
		return "", apperror.Internal(err, "Failed to load profile")
	}
	accountID := profile.ConnectAccountID()
	if accountID == "" {
		return "", apperror.NotFound("No connected account")
	}

	acct, err := s.gateway.GetConnectAccount(ctx, accountID)
	if err != nil {
		return "", upstreamError(err, UpstreamMessage(err))
	}
	status := ConnectStatusFor(acct)
	if _, err := s.repo.UpdateConnectStatus(ctx, accountID, status); err != nil {
		return "", apperror.Internal(err, "Failed to update connected account")
	}
	return status, nil
}
