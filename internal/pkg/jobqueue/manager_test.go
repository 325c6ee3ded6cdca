package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/RentFox/internal/pkg/billing"
)

type countingReplayer struct {
	calls     atomic.Int32
	lastLimit atomic.Int32
	err       error
}

func (r *countingReplayer) ReplayFailedEvents(_ context.Context, limit int) (billing.ReplayReport, error) {
	r.calls.Add(1)
	r.lastLimit.Store(int32(limit))
	if r.err != nil {
		return billing.ReplayReport{}, r.err
	}
	return billing.ReplayReport{Attempted: 1, Succeeded: 1}, nil
}

func TestScheduleFromInterval(t *testing.T) {
	assert.Equal(t, "", ScheduleFromInterval(0))
	assert.Equal(t, "", ScheduleFromInterval(-3))
	assert.Equal(t, "@every 30s", ScheduleFromInterval(30))
}

func TestManager_RunsOnSchedule(t *testing.T) {
	r := &countingReplayer{}
	m := NewManager(r, "@every 1s", 25)
	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.False(t, m.NextRun().IsZero())

	assert.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	m.Stop()
	assert.False(t, m.IsRunning())
	assert.True(t, m.NextRun().IsZero())
	assert.Equal(t, int32(25), r.lastLimit.Load())
}

func TestManager_DisabledSchedule(t *testing.T) {
	r := &countingReplayer{}
	m := NewManager(r, "  ", 0)
	require.NoError(t, m.Start())
	assert.False(t, m.IsRunning())
	m.Stop()
	assert.Zero(t, r.calls.Load())
}

func TestManager_InvalidSchedule(t *testing.T) {
	m := NewManager(&countingReplayer{}, "every now and then", 0)
	assert.Error(t, m.Start())
	assert.False(t, m.IsRunning())
}

func TestManager_RestartIsSafe(t *testing.T) {
	r := &countingReplayer{}
	m := NewManager(r, "@every 1h", 0)

	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	m.Stop()
	m.Stop()

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	m.Stop()
	assert.Zero(t, r.calls.Load())
}

func TestManager_RunOnce(t *testing.T) {
	r := &countingReplayer{}
	NewManager(r, "", 5).RunOnce()
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, int32(5), r.lastLimit.Load())

	failing := &countingReplayer{err: errors.New("db down")}
	m := NewManager(failing, "", 0)
	m.RunOnce()
	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(50), failing.lastLimit.Load())
}
