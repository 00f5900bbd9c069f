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

// Entry is a job with its cadence. A zero Every runs the job on every tick.
type Entry struct {
	Job   Job
	Every time.Duration
}

// Registry tracks registered cron jobs.
type Registry struct {
	entries []Entry
}

// NewRegistry builds a registry preloaded with jobs that run on every tick.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job, 0)
	}
	return registry
}

// Register adds a job that runs at most once per every.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil {
		return
	}
	if every < 0 {
		every = 0
	}
	r.entries = append(r.entries, Entry{Job: job, Every: every})
}

// Entries returns the registered entries in the order they were added.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// Due returns the entries whose cadence has elapsed since lastRun.
func (r *Registry) Due(now time.Time, lastRun map[string]time.Time) []Entry {
	var due []Entry
	for _, entry := range r.entries {
		last, ok := lastRun[entry.Job.Name()]
		if !ok || entry.Every == 0 || now.Sub(last) >= entry.Every {
			due = append(due, entry)
		}
	}
	return due
}
