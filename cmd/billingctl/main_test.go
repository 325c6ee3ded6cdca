package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/RentFox/app/models"
	"github.com/ManuelReschke/RentFox/internal/pkg/billing"
)

type fakeOps struct {
	report    billing.ReplayReport
	replayErr error
	gotLimit  int
	sub       *models.Subscription
	syncErr   error
	gotSyncID string
}

func (f *fakeOps) ReplayFailedEvents(_ context.Context, limit int) (billing.ReplayReport, error) {
	f.gotLimit = limit
	return f.report, f.replayErr
}

func (f *fakeOps) SyncSubscription(_ context.Context, id string) (*models.Subscription, error) {
	f.gotSyncID = id
	return f.sub, f.syncErr
}

func run(t *testing.T, ops *fakeOps, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(func() (operations, error) { return ops, nil }, &out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReplayCommand(t *testing.T) {
	ops := &fakeOps{report: billing.ReplayReport{Attempted: 3, Succeeded: 3}}
	out, err := run(t, ops, "replay", "--limit", "7")
	require.NoError(t, err)
	assert.Equal(t, 7, ops.gotLimit)
	assert.Contains(t, out, "attempted: 3")
	assert.Contains(t, out, "succeeded: 3")
}

func TestReplayCommand_FailuresExitNonZero(t *testing.T) {
	ops := &fakeOps{report: billing.ReplayReport{Attempted: 2, Succeeded: 1, Failed: 1}}
	_, err := run(t, ops, "replay")
	require.Error(t, err)
	assert.Equal(t, 100, ops.gotLimit)

	ops = &fakeOps{replayErr: errors.New("db down")}
	_, err = run(t, ops, "replay")
	assert.ErrorContains(t, err, "db down")
}

func TestSyncSubscriptionCommand(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	ops := &fakeOps{sub: &models.Subscription{
		ProfileID:          "U1",
		Status:             models.SubscriptionStatusActive,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}}

	out, err := run(t, ops, "sync-subscription", "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", ops.gotSyncID)
	assert.Contains(t, out, "profile: U1")
	assert.Contains(t, out, "period:  2026-01-01 to 2026-02-01")

	_, err = run(t, ops, "sync-subscription")
	assert.Error(t, err, "subscription id is required")
}

func TestFactoryErrorIsReturned(t *testing.T) {
	cmd := newRootCmd(func() (operations, error) { return nil, errors.New("no STRIPE_SECRET_KEY") }, &bytes.Buffer{})
	cmd.SetArgs([]string{"replay"})
	assert.ErrorContains(t, cmd.Execute(), "STRIPE_SECRET_KEY")
}
