package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/metrics"
)

// Job is a recurring maintenance task; Run returns how many items it handled
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) (int, error)
}

// Scheduler runs the settlement maintenance jobs on cron schedules
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]Job
	entries map[string]cron.EntryID
	timeout time.Duration
	metrics metrics.SettlementMetrics
	logger  *zap.Logger
	mu      sync.Mutex
	running bool
}

// New creates a scheduler whose specs carry a leading seconds field
func New(timeout time.Duration, m metrics.SettlementMetrics, logger *zap.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// Add registers job, replacing any job with the same name. An empty spec disables it.
func (s *Scheduler) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[job.Name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, job.Name)
	}
	s.jobs[job.Name] = job
	if job.Spec == "" {
		s.logger.Info("Job disabled", zap.String("job", job.Name))
		return nil
	}

	entryID, err := s.cron.AddFunc(job.Spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.execute(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}
	s.entries[job.Name] = entryID

	s.logger.Info("Added job", zap.String("job", job.Name), zap.String("cron", job.Spec))
	return nil
}

// RunNow executes a registered job synchronously
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown job %q", name)
	}
	return s.execute(ctx, job)
}

// Start runs every job once to catch up on work left by a previous process, then
// hands over to the cron schedule
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.Spec != "" {
			jobs = append(jobs, job)
		}
	}
	s.mu.Unlock()

	s.logger.Info("Starting scheduler", zap.Int("jobs", len(jobs)))
	for _, job := range jobs {
		s.execute(ctx, job)
	}
	s.cron.Start()
	return nil
}

// Stop waits for running jobs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
	s.running = false
}

func (s *Scheduler) execute(ctx context.Context, job Job) (int, error) {
	started := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		s.metrics.ObserveSaga("job_"+job.Name, "failed", started)
		s.logger.Error("Job failed", zap.String("job", job.Name), zap.Error(err))
		return n, err
	}
	s.metrics.ObserveSaga("job_"+job.Name, "ok", started)
	if n > 0 {
		s.logger.Info("Job completed",
			zap.String("job", job.Name),
			zap.Int("handled", n),
			zap.Duration("duration", time.Since(started)))
	}
	return n, nil
}
