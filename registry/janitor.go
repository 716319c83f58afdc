package registry

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// janitor periodically sweeps for sessions stuck in Connecting. The
// transport has no connect timeout of its own; a stalled dial would
// otherwise hang until the peer errors out.
type janitor struct {
	cron *cron.Cron
}

// StartJanitor schedules CloseStalled on the given cron spec (e.g.
// "@every 1m"). Only one janitor runs per registry.
func (r *Registry) StartJanitor(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.janitor != nil {
		return fmt.Errorf("janitor already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if n := r.CloseStalled(); n > 0 {
			logf.Printf("janitor: disconnected %d stalled session(s)", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	c.Start()
	r.janitor = &janitor{cron: c}
	return nil
}

// StopJanitor halts the sweep. Safe to call when none is running.
func (r *Registry) StopJanitor() {
	r.mu.Lock()
	j := r.janitor
	r.janitor = nil
	r.mu.Unlock()

	if j != nil {
		<-j.cron.Stop().Done()
	}
}
