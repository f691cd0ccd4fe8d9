// Package trigger owns the durable one-shot trigger lifecycle: replace-style
// registration of a job with its expanded fire times, pause/resume, delete,
// and the firing loop that claims due triggers and hands them to the
// dispatcher through a bounded worker pool.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"slotsched/internal/clock"
	"slotsched/internal/dispatch"
	"slotsched/internal/store"
	"slotsched/pkg/logx"
)

// ErrNoWindows means expansion produced zero fire instants, so there is
// nothing to register.
var ErrNoWindows = errors.New("no fire windows in range")

type Config struct {
	// Workers is the size of the execution pool.
	Workers int
	// QueueSize bounds the claimed-but-not-yet-executed backlog.
	QueueSize int
	// PollInterval caps how long the firing loop sleeps when the store
	// reports no upcoming trigger, and bounds clock drift after external
	// writes to the store.
	PollInterval time.Duration
	// BatchSize limits how many due triggers one loop pass claims.
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

type fireItem struct {
	job     store.JobRecord
	trigger store.TriggerRecord
}

// Manager coordinates trigger state in the store with the firing loop.
// All methods are safe for concurrent use.
type Manager struct {
	cfg  Config
	st   *store.Store
	disp *dispatch.Dispatcher
	clk  clock.Clock
	log  logx.Logger

	wake  chan struct{}
	queue chan fireItem

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func New(cfg Config, st *store.Store, disp *dispatch.Dispatcher, clk clock.Clock, log logx.Logger) *Manager {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		cfg:   cfg,
		st:    st,
		disp:  disp,
		clk:   clk,
		log:   log,
		wake:  make(chan struct{}, 1),
		queue: make(chan fireItem, cfg.QueueSize),
	}
}

// Start launches the worker pool and the firing loop. The manager stops
// when ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.runCtx, m.cancelRun = context.WithCancel(ctx)
		for i := 0; i < m.cfg.Workers; i++ {
			m.wg.Add(1)
			go m.worker(m.runCtx, i)
		}
		m.wg.Add(1)
		go m.run(m.runCtx)
		m.log.Info("trigger manager started",
			logx.Int("workers", m.cfg.Workers),
			logx.Duration("poll_interval", m.cfg.PollInterval))
	})
}

// Stop halts the firing loop and waits for in-flight executions to drain.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.cancelRun != nil {
			m.cancelRun()
		}
		m.wg.Wait()
		m.log.Info("trigger manager stopped")
	})
}

// ScheduleOrReplace registers the job with one one-shot trigger per fire
// instant. An existing job under the same identity is removed first, so the
// call carries replace semantics: last write wins and earlier triggers for
// the identity are gone afterwards. Individual trigger inserts are
// log-and-continue; the returned count is the number actually registered.
func (m *Manager) ScheduleOrReplace(ctx context.Context, job store.JobRecord, fireTimes []time.Time) (int, error) {
	if len(fireTimes) == 0 {
		return 0, ErrNoWindows
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.clk.Now()
	}

	replaced, err := m.st.DeleteJob(ctx, job.Name, job.Group)
	if err != nil {
		return 0, fmt.Errorf("replace %s.%s: %w", job.Group, job.Name, err)
	}
	if err := m.st.UpsertJob(ctx, job); err != nil {
		return 0, fmt.Errorf("store job %s.%s: %w", job.Group, job.Name, err)
	}

	registered := 0
	for i, at := range fireTimes {
		rec := store.TriggerRecord{
			Name:      fmt.Sprintf("%s-trigger-%d", job.Name, i),
			Group:     fmt.Sprintf("%s-triggers", job.Group),
			JobName:   job.Name,
			JobGroup:  job.Group,
			FireAt:    at,
			State:     store.StateScheduled,
			CreatedAt: job.CreatedAt,
		}
		if err := m.st.InsertTrigger(ctx, rec); err != nil {
			m.log.Error("trigger registration failed",
				logx.String("job", job.Name), logx.String("trigger", rec.Name),
				logx.Time("fire_at", at), logx.Err(err))
			continue
		}
		registered++
	}
	if registered == 0 {
		return 0, fmt.Errorf("job %s.%s: all %d trigger inserts failed", job.Group, job.Name, len(fireTimes))
	}

	m.log.Info("job scheduled",
		logx.String("job", job.Name), logx.String("group", job.Group),
		logx.Bool("replaced", replaced),
		logx.Int("triggers", registered),
		logx.Time("first_fire", fireTimes[0]))
	m.wakeLoop()
	return registered, nil
}

// DeleteJob removes the job and all of its triggers. Reports false when no
// job exists under the identity.
func (m *Manager) DeleteJob(ctx context.Context, name, group string) (bool, error) {
	deleted, err := m.st.DeleteJob(ctx, name, group)
	if err != nil {
		return false, err
	}
	if deleted {
		m.log.Info("job deleted", logx.String("job", name), logx.String("group", group))
	}
	return deleted, nil
}

// PauseJob freezes every scheduled trigger of the job. Fire instants that
// pass while paused are not lost; they fire immediately on resume.
func (m *Manager) PauseJob(ctx context.Context, name, group string) error {
	if err := m.st.PauseJob(ctx, name, group); err != nil {
		return err
	}
	m.log.Info("job paused", logx.String("job", name), logx.String("group", group))
	return nil
}

// ResumeJob unfreezes the job's paused triggers and wakes the firing loop
// so overdue ones fire right away.
func (m *Manager) ResumeJob(ctx context.Context, name, group string) error {
	if err := m.st.ResumeJob(ctx, name, group); err != nil {
		return err
	}
	m.log.Info("job resumed", logx.String("job", name), logx.String("group", group))
	m.wakeLoop()
	return nil
}

// PauseAll pauses every persisted job. Called at shutdown so nothing fires
// while the dispatcher is unavailable.
func (m *Manager) PauseAll(ctx context.Context) error {
	return m.forEachJob(ctx, "pause", m.st.PauseJob)
}

// ResumeAll resumes every persisted job. Called at startup after
// reconciliation; overdue triggers fire immediately.
func (m *Manager) ResumeAll(ctx context.Context) error {
	if err := m.forEachJob(ctx, "resume", m.st.ResumeJob); err != nil {
		return err
	}
	m.wakeLoop()
	return nil
}

func (m *Manager) forEachJob(ctx context.Context, op string, fn func(context.Context, string, string) error) error {
	jobs, err := m.st.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	var failed int
	for _, j := range jobs {
		if err := fn(ctx, j.Name, j.Group); err != nil {
			failed++
			m.log.Error(op+" failed for job",
				logx.String("job", j.Name), logx.String("group", j.Group), logx.Err(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%s: %d of %d jobs failed", op, failed, len(jobs))
	}
	m.log.Info(op+" applied to all jobs", logx.Int("jobs", len(jobs)))
	return nil
}

func (m *Manager) wakeLoop() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-timer.C:
		}
		m.fireDue(ctx)
		timer.Reset(m.nextDelay(ctx))
	}
}

// nextDelay is the sleep until the earliest scheduled trigger, capped at
// the poll interval.
func (m *Manager) nextDelay(ctx context.Context) time.Duration {
	next, ok, err := m.st.NextFireAt(ctx)
	if err != nil {
		m.log.Error("next fire lookup failed", logx.Err(err))
		return m.cfg.PollInterval
	}
	if !ok {
		return m.cfg.PollInterval
	}
	d := next.Sub(m.clk.Now())
	if d < 0 {
		d = 0
	}
	if d > m.cfg.PollInterval {
		d = m.cfg.PollInterval
	}
	return d
}

// fireDue claims each due trigger and enqueues it for execution. The claim
// is an atomic state flip in the store, so a trigger fires at most once even
// if two loop passes observe it due.
func (m *Manager) fireDue(ctx context.Context) {
	due, err := m.st.DueTriggers(ctx, m.clk.Now(), m.cfg.BatchSize)
	if err != nil {
		m.log.Error("due trigger query failed", logx.Err(err))
		return
	}
	for _, trig := range due {
		claimed, err := m.st.ClaimTrigger(ctx, trig.Name, trig.Group)
		if err != nil {
			m.log.Error("trigger claim failed", logx.String("trigger", trig.Name), logx.Err(err))
			continue
		}
		if !claimed {
			continue
		}
		job, err := m.st.GetJob(ctx, trig.JobName, trig.JobGroup)
		if err != nil {
			m.log.Error("job lookup failed",
				logx.String("job", trig.JobName), logx.String("group", trig.JobGroup), logx.Err(err))
			continue
		}
		if job == nil {
			// Trigger outlived its job; consume it silently.
			continue
		}
		select {
		case m.queue <- fireItem{job: *job, trigger: trig}:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-m.queue:
			m.execute(ctx, id, item)
		}
	}
}

func (m *Manager) execute(ctx context.Context, workerID int, item fireItem) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("handler panic recovered",
				logx.Int("worker", workerID),
				logx.String("job", item.job.Name),
				logx.Any("panic", r))
		}
	}()
	m.disp.Dispatch(ctx, item.job, item.trigger.FireAt)
}
