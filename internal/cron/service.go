package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bamelis/regrelay/pkg/logger"
	"github.com/bamelis/regrelay/pkg/metrics"
)

const defaultInterval = time.Hour

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Metrics  *metrics.CronJobMetrics
}

// Service executes each registered job on its own cadence under its own
// cluster-wide lease.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	metrics  *metrics.CronJobMetrics
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	for _, schedule := range registry.Schedules() {
		if schedule.Lock == nil {
			return nil, fmt.Errorf("job %s has no lock", schedule.Job.Name())
		}
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		metrics:  params.Metrics,
	}, nil
}

// Run starts one loop per schedule and blocks until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var wg sync.WaitGroup
	for _, schedule := range s.registry.Schedules() {
		wg.Add(1)
		go func(schedule Schedule) {
			defer wg.Done()
			s.runSchedule(ctx, schedule)
		}(schedule)
	}
	wg.Wait()
	s.logg.Info(ctx, "cron service context canceled")
	return ctx.Err()
}

func (s *Service) runSchedule(ctx context.Context, schedule Schedule) {
	interval := schedule.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	s.runCycle(ctx, schedule)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx, schedule)
		}
	}
}

func (s *Service) runCycle(ctx context.Context, schedule Schedule) {
	jobCtx := s.logg.WithJob(ctx, schedule.Job.Name())

	locked, err := schedule.Lock.Acquire(jobCtx)
	if err != nil {
		s.logg.Error(jobCtx, "lock acquire failed", err)
		return
	}
	if !locked {
		s.logg.Info(jobCtx, "another instance holds the job lease; skipping this cycle")
		return
	}
	defer func() {
		if relErr := schedule.Lock.Release(jobCtx); relErr != nil {
			s.logg.Error(jobCtx, "failed to release job lease", relErr)
		}
	}()

	s.runJob(jobCtx, schedule.Job)
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.observeDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.recordFailure(job.Name())
		return
	}
	s.logg.Info(jobCtx, "job completed")
	s.recordSuccess(job.Name())
}

func (s *Service) observeDuration(job string, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDuration(job, duration)
}

func (s *Service) recordSuccess(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncSuccess(job)
}

func (s *Service) recordFailure(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncFailure(job)
}
