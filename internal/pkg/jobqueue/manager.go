package jobqueue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/ManuelReschke/RentFox/internal/pkg/billing"
)

const defaultPassTimeout = 5 * time.Minute

// Replayer re-applies stored webhook events that failed.
type Replayer interface {
	ReplayFailedEvents(ctx context.Context, limit int) (billing.ReplayReport, error)
}

// Manager runs background billing tasks
type Manager struct {
	replayer      Replayer
	schedule      string
	batchSize     int
	passTimeout   time.Duration
	cron          *cron.Cron
	cancelCurrent context.CancelFunc
	mu            sync.Mutex
	running       bool
}

// NewManager creates a manager that replays failed events on a cron
// schedule ("@every 5m", "*/10 * * * *"). An empty schedule disables it.
func NewManager(replayer Replayer, schedule string, batchSize int) *Manager {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Manager{
		replayer:    replayer,
		schedule:    strings.TrimSpace(schedule),
		batchSize:   batchSize,
		passTimeout: defaultPassTimeout,
	}
}

// ScheduleFromInterval turns a number of seconds into an "@every" schedule.
func ScheduleFromInterval(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	return fmt.Sprintf("@every %ds", seconds)
}

// Start starts the background tasks. Starting twice or with no schedule is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.schedule == "" {
		return nil
	}

	// A fresh scheduler per start cycle so the manager can be restarted.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(m.schedule, m.RunOnce); err != nil {
		return fmt.Errorf("invalid replay schedule %q: %w", m.schedule, err)
	}
	c.Start()
	m.cron = c
	m.running = true

	log.Infof("[JobQueue Manager] Started webhook replay worker (schedule: %s, batch: %d)", m.schedule, m.batchSize)
	return nil
}

// Stop stops the background tasks and waits for a running pass to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	log.Info("[JobQueue Manager] Stopping background tasks...")
	done := m.cron.Stop()
	if m.cancelCurrent != nil {
		m.cancelCurrent()
	}
	m.running = false
	m.mu.Unlock()

	<-done.Done()
	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// NextRun returns when the next pass is due, or the zero time when stopped.
func (m *Manager) NextRun() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return time.Time{}
	}
	entries := m.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce performs one replay pass.
func (m *Manager) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.passTimeout)
	m.mu.Lock()
	m.cancelCurrent = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancelCurrent = nil
		m.mu.Unlock()
		cancel()
	}()

	report, err := m.replayer.ReplayFailedEvents(ctx, m.batchSize)
	if err != nil {
		log.Errorf("[JobQueue Manager] Error replaying failed webhook events: %v", err)
		return
	}
	if report.Attempted > 0 {
		log.Infof("[JobQueue Manager] Replayed %d webhook events (%d ok, %d failed)",
			report.Attempted, report.Succeeded, report.Failed)
	}
}
