// Package jobs runs the periodic background work of the server.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

// Job is a unit of periodic work
type Job interface {
	Run(ctx context.Context) error
}

// Scheduler runs jobs on fixed intervals. Runs of the same job never overlap.
type Scheduler struct {
	scheduler *gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	log       logrus.FieldLogger
}

// NewScheduler creates a new scheduler
func NewScheduler(log logrus.FieldLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
	}
}

// Every registers job to run every interval under name
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}

	_, err := s.scheduler.Every(interval).SingletonMode().Tag(name).Do(func() {
		if err := job.Run(s.ctx); err != nil {
			s.log.WithError(err).WithField("job", name).Warn("Scheduled job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	return nil
}

// Start starts running jobs in the background
func (s *Scheduler) Start() {
	s.log.WithField("jobs", len(s.scheduler.Jobs())).Info("Starting job scheduler")
	s.scheduler.StartAsync()
}

// Stop cancels running jobs and stops the scheduler
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
	s.log.Info("Job scheduler stopped")
}
