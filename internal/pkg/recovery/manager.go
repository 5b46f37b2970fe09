// Package recovery runs the background jobs that converge payments whose
// webhooks never arrived: the stuck payment sweep polls provider status APIs
// and the abandoned payment cleanup closes payments that outlived their window.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/locker"
)

const (
	JobStuckSweep     = "stuck_payment_sweep"
	JobAbandonCleanup = "abandoned_payment_cleanup"
)

// ErrJobRunning is returned when another instance holds the job lock.
var ErrJobRunning = errors.New("recovery: job already running")

// Reconciler is the part of the billing service the jobs drive.
type Reconciler interface {
	ReconcileRaw(ctx context.Context, req *billing.WebhookRequest) (billing.Result, error)
	Abandon(ctx context.Context, paymentID, reason string) (billing.Result, error)
}

// JobStats is the metadata of the last run of one job.
type JobStats struct {
	LastRunAt    *time.Time    `json:"last_run_at,omitempty"`
	LastDuration time.Duration `json:"last_duration_ns"`
	Processed    int           `json:"processed"`
	Recovered    int           `json:"recovered"`
	Abandoned    int           `json:"abandoned"`
	Errored      int           `json:"errored"`
	Skipped      int           `json:"skipped"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats is the observable state of the manager.
type Stats struct {
	Running bool                `json:"running"`
	Jobs    map[string]JobStats `json:"jobs"`
	Backlog map[string]int64    `json:"backlog"`
}

// Manager schedules the recovery jobs.
type Manager struct {
	cfg      Config
	svc      Reconciler
	payments repository.PaymentRepository
	locks    *locker.Locker
	checkers map[string]billing.StatusChecker
	now      func() time.Time

	sweepTicker   *time.Ticker
	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool

	statsMu sync.Mutex
	stats   map[string]JobStats
}

func NewManager(cfg Config, svc Reconciler, payments repository.PaymentRepository, locks *locker.Locker, checkers ...billing.StatusChecker) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		svc:      svc,
		payments: payments,
		locks:    locks,
		checkers: make(map[string]billing.StatusChecker, len(checkers)),
		now:      func() time.Time { return time.Now().UTC() },
		stats:    make(map[string]JobStats),
	}
	for _, c := range checkers {
		m.checkers[c.Provider()] = c
	}
	return m
}

// WithClock replaces the clock used for age cutoffs.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Start launches both job tickers. Calling Start on a running manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	log.Infof("[Recovery] Starting sweep every %s, cleanup every %s", m.cfg.RecoveryInterval, m.cfg.CleanupInterval)

	m.sweepTicker = time.NewTicker(m.cfg.RecoveryInterval)
	m.wg.Add(1)
	go m.worker(ctx, JobStuckSweep, m.sweepTicker, m.RunStuckSweepOnce)

	m.cleanupTicker = time.NewTicker(m.cfg.CleanupInterval)
	m.wg.Add(1)
	go m.worker(ctx, JobAbandonCleanup, m.cleanupTicker, m.RunCleanupOnce)
}

// Stop halts the tickers, cancels running jobs and waits for them to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Recovery] Stopping background jobs...")
	m.sweepTicker.Stop()
	m.cleanupTicker.Stop()
	close(m.stopCh)
	m.cancel()
	m.running = false

	m.wg.Wait()
	log.Info("[Recovery] Stopped")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) worker(ctx context.Context, name string, ticker *time.Ticker, run func(context.Context) (JobStats, error)) {
	defer m.wg.Done()
	stop := m.stopCh
	for {
		select {
		case <-stop:
			log.Infof("[Recovery] %s worker stopping", name)
			return
		case <-ticker.C:
			if _, err := run(ctx); err != nil && !errors.Is(err, ErrJobRunning) {
				log.Errorf("[Recovery] %s: %v", name, err)
			}
		}
	}
}

// RunStuckSweepOnce polls the provider for every open payment older than
// the grace period and younger than the abandonment window.
func (m *Manager) RunStuckSweepOnce(ctx context.Context) (JobStats, error) {
	return m.runJob(ctx, JobStuckSweep, m.sweep)
}

// RunCleanupOnce abandons open payments at or beyond the abandonment window.
func (m *Manager) RunCleanupOnce(ctx context.Context) (JobStats, error) {
	return m.runJob(ctx, JobAbandonCleanup, m.cleanup)
}

func (m *Manager) runJob(ctx context.Context, name string, fn func(context.Context, *JobStats) error) (JobStats, error) {
	lock, err := m.locks.TryAcquire(ctx, locker.JobKey(name), m.cfg.RunBudget)
	if errors.Is(err, locker.ErrNotAcquired) {
		log.Infof("[Recovery] %s skipped, lock held elsewhere", name)
		return JobStats{}, ErrJobRunning
	}
	if err != nil {
		return JobStats{}, err
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			log.Errorf("[Recovery] %v", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, m.cfg.RunBudget)
	defer cancel()

	startedAt := m.now()
	wallStart := time.Now()
	run := JobStats{LastRunAt: &startedAt}

	err = fn(runCtx, &run)
	run.LastDuration = time.Since(wallStart)
	if err != nil {
		run.LastError = err.Error()
	}

	m.statsMu.Lock()
	m.stats[name] = run
	m.statsMu.Unlock()

	log.Infof("[Recovery] %s processed=%d recovered=%d abandoned=%d errored=%d skipped=%d duration=%s",
		name, run.Processed, run.Recovered, run.Abandoned, run.Errored, run.Skipped, run.LastDuration)
	return run, err
}

func (m *Manager) sweep(ctx context.Context, run *JobStats) error {
	now := m.now()
	payments, err := m.payments.ListOpenCreatedBetween(ctx, now.Add(-m.cfg.AbandonAfter), now.Add(-m.cfg.Grace), m.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stuck payments: %w", err)
	}

	jobs := make(chan models.Payment)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := 0; i < m.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				result := m.recoverPayment(ctx, p)
				mu.Lock()
				run.count(result)
				mu.Unlock()
			}
		}()
	}

feed:
	for _, p := range payments {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- p:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sweep stopped early: %w", err)
	}
	return nil
}

type runResult int

const (
	resultUnchanged runResult = iota
	resultRecovered
	resultAbandoned
	resultSkipped
	resultErrored
)

func (s *JobStats) count(r runResult) {
	s.Processed++
	switch r {
	case resultRecovered:
		s.Recovered++
	case resultAbandoned:
		s.Abandoned++
	case resultSkipped:
		s.Skipped++
	case resultErrored:
		s.Errored++
	}
}

func (m *Manager) recoverPayment(ctx context.Context, p models.Payment) runResult {
	reference := p.Reference()
	checker, ok := m.checkers[p.Provider]
	if reference == "" || !ok {
		log.Debugf("[Recovery] skip payment=%s provider=%s, nothing to poll", p.ID, p.Provider)
		return resultSkipped
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	req, err := checker.CheckStatus(callCtx, reference)
	cancel()
	if err != nil {
		log.Warnf("[Recovery] status check provider=%s reference=%s payment=%s: %v", p.Provider, reference, p.ID, err)
		return resultErrored
	}
	req.PaymentID = p.ID

	res, err := m.svc.ReconcileRaw(ctx, req)
	switch {
	case err == nil && res.Changed:
		return resultRecovered
	case err == nil, billing.IsKind(err, billing.KindTerminalState):
		return resultUnchanged
	default:
		log.Warnf("[Recovery] reconcile provider=%s reference=%s payment=%s: %v", p.Provider, reference, p.ID, err)
		return resultErrored
	}
}

func (m *Manager) cleanup(ctx context.Context, run *JobStats) error {
	cutoff := m.now().Add(-m.cfg.AbandonAfter)
	payments, err := m.payments.ListOpenCreatedAtOrBefore(ctx, cutoff, m.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list abandoned payments: %w", err)
	}

	for _, p := range payments {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cleanup stopped early: %w", err)
		}
		res, err := m.svc.Abandon(ctx, p.ID, billing.AbandonReason3DSTimeout)
		switch {
		case err == nil && res.Changed:
			run.count(resultAbandoned)
		case billing.IsKind(err, billing.KindTerminalState):
			run.count(resultSkipped)
		case err != nil:
			log.Warnf("[Recovery] abandon payment=%s: %v", p.ID, err)
			run.count(resultErrored)
		default:
			run.count(resultUnchanged)
		}
	}
	return nil
}

// Stats returns the last run of each job plus the current open backlog.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	counts, err := m.payments.CountByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count payments: %w", err)
	}

	now := m.now()
	abandonCutoff := now.Add(-m.cfg.AbandonAfter)
	stuck, err := m.payments.CountOpenCreatedBetween(ctx, abandonCutoff, now.Add(-m.cfg.Grace))
	if err != nil {
		return Stats{}, fmt.Errorf("count stuck payments: %w", err)
	}
	candidates, err := m.payments.CountOpenCreatedBetween(ctx, time.Time{}, abandonCutoff)
	if err != nil {
		return Stats{}, fmt.Errorf("count abandon candidates: %w", err)
	}

	m.statsMu.Lock()
	jobs := make(map[string]JobStats, len(m.stats))
	for k, v := range m.stats {
		jobs[k] = v
	}
	m.statsMu.Unlock()

	return Stats{
		Running: m.IsRunning(),
		Jobs:    jobs,
		Backlog: map[string]int64{
			"total_pending":      counts[models.PaymentStatusPending] + counts[models.PaymentStatusPendingVerification],
			"stuck":              stuck,
			"abandon_candidates": candidates,
		},
	}, nil
}
