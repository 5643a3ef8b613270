// Package scheduler runs periodic background jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Job is a unit of periodic work.
type Job interface {
	Name() string
	Schedule() gocron.JobDefinition
	Run(ctx context.Context) error
}

// Manager owns the gocron scheduler and the context jobs run under.
type Manager struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager creates a stopped Manager.
func NewManager(logger *slog.Logger) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{scheduler: s, logger: logger, ctx: ctx, cancel: cancel}, nil
}

// Register adds job. A run that overlaps the previous one is skipped until
// the next tick. The first run fires as soon as the scheduler starts.
func (m *Manager) Register(job Job) error {
	_, err := m.scheduler.NewJob(
		job.Schedule(),
		gocron.NewTask(m.run, job),
		gocron.WithName(job.Name()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.Name(), err)
	}
	return nil
}

func (m *Manager) run(job Job) {
	start := time.Now()
	if err := job.Run(m.ctx); err != nil {
		m.logger.Warn("scheduled job failed", "job", job.Name(), "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	m.logger.Debug("scheduled job finished", "job", job.Name(), "duration_ms", time.Since(start).Milliseconds())
}

// Start begins running registered jobs.
func (m *Manager) Start() {
	m.scheduler.Start()
	m.logger.Info("scheduler started", "jobs", len(m.scheduler.Jobs()))
}

// Shutdown cancels in-flight jobs and waits for them to return.
func (m *Manager) Shutdown() error {
	m.cancel()
	if err := m.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	m.logger.Info("scheduler stopped")
	return nil
}
