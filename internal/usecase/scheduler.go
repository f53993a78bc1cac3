package usecase

import (
	"context"

	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

// Scheduler wires the scheduling driver with the pipeline use case.
type Scheduler struct {
	driver ports.Scheduler
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler) *Scheduler {
	return &Scheduler{driver: driver}
}

// Start launches the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Start(ctx)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}

// RunNow requests a manual pipeline run for one owner. The request is
// subject to the same single-flight guard as scheduled runs.
func (s *Scheduler) RunNow(ownerID string) {
	if s.driver == nil {
		return
	}
	s.driver.Trigger(ownerID)
}
