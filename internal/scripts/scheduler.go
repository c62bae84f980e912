package scripts

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler sweeps periodic scripts on a cron schedule.
type Scheduler struct {
	svc  *Service
	cron *cron.Cron
	ctx  context.Context
}

// NewScheduler validates schedule and returns a stopped Scheduler.
func NewScheduler(svc *Service, schedule string) (*Scheduler, error) {
	c := cron.New(cron.WithParser(cronParser))
	s := &Scheduler{svc: svc, cron: c, ctx: context.Background()}
	if _, err := c.AddFunc(schedule, func() { s.svc.Sweep(s.ctx) }); err != nil {
		return nil, fmt.Errorf("scripts: schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running sweep to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.svc.Log.Info("script scheduler started", "entries", len(s.cron.Entries()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

// Next returns the time of the next scheduled sweep, or the zero time
// before Run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
