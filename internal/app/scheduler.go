/**
 * @description
 * Cron scheduler for the processing cycles. Each cycle runs once at start and then
 * on its own schedule, with a single-flight guard: a fire that arrives while the
 * previous run of the same cycle is still in flight is skipped, never queued.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrCycleBusy        = errors.New("cycle already running")
	ErrUnknownCycle     = errors.New("unknown cycle")
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// Cycle is one periodic batch-processing routine.
type Cycle interface {
	Name() string
	Run(ctx context.Context) (CycleStats, error)
}

// CycleLock serializes a cycle across replicas. Acquire returns ErrLockHeld when
// another process currently owns the cycle.
type CycleLock interface {
	Acquire(ctx context.Context, name string) (release func(), err error)
}

// CycleReport is the observable state of one registered cycle.
type CycleReport struct {
	Name           string     `json:"name"`
	Schedule       string     `json:"schedule"`
	Running        bool       `json:"running"`
	Runs           int64      `json:"runs"`
	Skipped        int64      `json:"skipped"`
	LastStartedAt  *time.Time `json:"last_started_at,omitempty"`
	LastFinishedAt *time.Time `json:"last_finished_at,omitempty"`
	LastStats      CycleStats `json:"last_stats"`
	LastError      string     `json:"last_error,omitempty"`
}

type cycleRunner struct {
	cycle    Cycle
	schedule string
	busy     atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64

	mu     sync.Mutex
	report CycleReport
}

// Scheduler manages the cron-driven cycles.
type Scheduler struct {
	cron   *cron.Cron
	lock   CycleLock
	logger *slog.Logger

	runners map[string]*cycleRunner
	order   []string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopping bool
	inflight sync.WaitGroup
}

// NewScheduler creates a new scheduler instance. lock may be nil for single-instance deployments.
func NewScheduler(logger *slog.Logger, lock CycleLock) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:    c,
		lock:    lock,
		logger:  logger,
		runners: make(map[string]*cycleRunner),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a cycle with its cron schedule. It must be called before Start.
func (s *Scheduler) Register(schedule string, cycle Cycle) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q for cycle %s: %w", schedule, cycle.Name(), err)
	}
	if _, exists := s.runners[cycle.Name()]; exists {
		return fmt.Errorf("cycle %s already registered", cycle.Name())
	}

	r := &cycleRunner{cycle: cycle, schedule: schedule}
	r.report = CycleReport{Name: cycle.Name(), Schedule: schedule}
	s.runners[cycle.Name()] = r
	s.order = append(s.order, cycle.Name())
	return nil
}

// Start schedules every registered cycle, starts the cron scheduler and
// launches one immediate run of each cycle.
func (s *Scheduler) Start() error {
	for _, name := range s.order {
		r := s.runners[name]
		if _, err := s.cron.AddFunc(r.schedule, func() { s.fire(r) }); err != nil {
			return fmt.Errorf("failed to schedule cycle %s: %w", name, err)
		}
		s.logger.Info("scheduled cycle", "cycle", name, "schedule", r.schedule)
	}

	s.cron.Start()

	for _, name := range s.order {
		r := s.runners[name]
		go s.fire(r)
	}
	return nil
}

// Stop stops accepting timer fires and returns a context that is done once every
// in-flight cycle has finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	done, markDone := context.WithCancel(context.Background())

	go func() {
		<-cronCtx.Done()
		s.inflight.Wait()
		s.cancel()
		markDone()
	}()
	return done
}

// RunNow runs the named cycle synchronously through the same single-flight guard.
func (s *Scheduler) RunNow(name string) (CycleReport, error) {
	r, ok := s.runners[name]
	if !ok {
		return CycleReport{}, ErrUnknownCycle
	}
	err := s.execute(r)
	return r.snapshot(), err
}

// Reports returns the state of every registered cycle in registration order.
func (s *Scheduler) Reports() []CycleReport {
	reports := make([]CycleReport, 0, len(s.order))
	for _, name := range s.order {
		reports = append(reports, s.runners[name].snapshot())
	}
	return reports
}

func (s *Scheduler) fire(r *cycleRunner) {
	err := s.execute(r)
	switch {
	case errors.Is(err, ErrCycleBusy):
		s.logger.Warn("previous cycle still running, skipping this fire", "cycle", r.cycle.Name())
	case errors.Is(err, ErrLockHeld):
		s.logger.Info("cycle owned by another replica, skipping this fire", "cycle", r.cycle.Name())
	}
}

// execute runs one cycle if none is in flight. Errors and panics from the cycle are
// logged and swallowed; the busy flag is always released.
func (s *Scheduler) execute(r *cycleRunner) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	if !r.busy.CompareAndSwap(false, true) {
		s.mu.Unlock()
		r.skipped.Add(1)
		return ErrCycleBusy
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	defer s.inflight.Done()
	defer r.busy.Store(false)

	if s.lock != nil {
		release, err := s.lock.Acquire(s.ctx, r.cycle.Name())
		if err != nil {
			if errors.Is(err, ErrLockHeld) {
				r.skipped.Add(1)
				return err
			}
			s.logger.Error("failed to acquire cycle lock", "cycle", r.cycle.Name(), "error", err)
			return fmt.Errorf("failed to acquire cycle lock: %w", err)
		}
		defer release()
	}

	started := time.Now().UTC()
	r.mu.Lock()
	r.report.LastStartedAt = &started
	r.mu.Unlock()

	stats, err := s.runCycle(r)

	finished := time.Now().UTC()
	r.runs.Add(1)
	r.mu.Lock()
	r.report.LastFinishedAt = &finished
	r.report.LastStats = stats
	r.report.LastError = ""
	if err != nil {
		r.report.LastError = err.Error()
	}
	r.mu.Unlock()

	if err != nil {
		s.logger.Error("cycle failed", "cycle", r.cycle.Name(), "error", err)
	}
	return nil
}

func (s *Scheduler) runCycle(r *cycleRunner) (stats CycleStats, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cycle panicked: %v", rec)
		}
	}()
	return r.cycle.Run(s.ctx)
}

func (r *cycleRunner) snapshot() CycleReport {
	r.mu.Lock()
	report := r.report
	r.mu.Unlock()

	report.Running = r.busy.Load()
	report.Runs = r.runs.Load()
	report.Skipped = r.skipped.Load()
	return report
}
