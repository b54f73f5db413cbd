package cron

import (
	"context"
	"time"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Schedule binds a job to its cadence and its cluster-wide lease. Each job
// runs on its own ticker and never shares a lock with another job.
type Schedule struct {
	Job      Job
	Interval time.Duration
	Lock     Lock
}

// Registry tracks the scheduled jobs.
type Registry struct {
	schedules []Schedule
}

// NewRegistry builds a registry preloaded with the provided schedules.
func NewRegistry(schedules ...Schedule) *Registry {
	registry := &Registry{}
	for _, schedule := range schedules {
		registry.Register(schedule)
	}
	return registry
}

// Register adds a schedule to the registry.
func (r *Registry) Register(schedule Schedule) {
	if schedule.Job == nil {
		return
	}
	r.schedules = append(r.schedules, schedule)
}

// Schedules returns the registered schedules in the order they were added.
func (r *Registry) Schedules() []Schedule {
	schedules := make([]Schedule, len(r.schedules))
	copy(schedules, r.schedules)
	return schedules
}
