package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/RentFox/app/models"
	"github.com/ManuelReschke/RentFox/internal/pkg/billing"
	"github.com/ManuelReschke/RentFox/internal/pkg/database"
	"github.com/ManuelReschke/RentFox/internal/pkg/env"
)

var Version = "dev"

// operations is what the commands need from the billing service.
type operations interface {
	ReplayFailedEvents(ctx context.Context, limit int) (billing.ReplayReport, error)
	SyncSubscription(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
}

type serviceFactory func() (operations, error)

func main() {
	if err := newRootCmd(productionService, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func productionService() (operations, error) {
	env.SetupEnvFile()
	database.SetupDatabase()

	cfg, err := billing.LoadConfig()
	if err != nil {
		return nil, err
	}
	gateway, err := billing.NewStripeGatewayFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return billing.NewServiceFromDB(database.GetDB(), gateway, cfg), nil
}

func newRootCmd(factory serviceFactory, out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate RentFox payment reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.AddCommand(replayCmd(factory))
	rootCmd.AddCommand(syncSubscriptionCmd(factory))
	return rootCmd
}

func replayCmd(factory serviceFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-apply stored webhook events whose processing failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			svc, err := factory()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			report, err := svc.ReplayFailedEvents(ctx, limit)
			if err != nil {
				return fmt.Errorf("replay failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attempted: %d\nsucceeded: %d\nfailed:    %d\n",
				report.Attempted, report.Succeeded, report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("%d events still failing", report.Failed)
			}
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 100, "Maximum events to replay")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Overall timeout")
	return cmd
}

func syncSubscriptionCmd(factory serviceFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-subscription [stripe-subscription-id]",
		Short: "Re-read one subscription from Stripe and store it locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := factory()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			sub, err := svc.SyncSubscription(ctx, args[0])
			if err != nil {
				return fmt.Errorf("sync %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "subscription %s\n  profile: %s\n  status:  %s\n  period:  %s\n",
				args[0], sub.ProfileID, sub.Status, formatPeriod(sub))
			return nil
		},
	}
}

func formatPeriod(sub *models.Subscription) string {
	if sub.CurrentPeriodStart == nil || sub.CurrentPeriodEnd == nil {
		return "unknown"
	}
	return sub.CurrentPeriodStart.UTC().Format(time.DateOnly) + " to " + sub.CurrentPeriodEnd.UTC().Format(time.DateOnly)
}
