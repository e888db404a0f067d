// Package poller wraps cron-driven fetch triggers: the periodic fallback
// poll used once the push channel degrades, and the daily window roll that
// keeps the fetch window anchored to the current day.
package poller

import (
	"time"

	"github.com/robfig/cron/v3"

	appLog "postsched/internal/log"
)

// Poller schedules recurring triggers in the display timezone. Entries can
// be added while running; Stop cancels every pending timer.
type Poller struct {
	c *cron.Cron
}

func New(loc *time.Location) *Poller {
	if loc == nil {
		loc = time.Local
	}
	return &Poller{c: cron.New(cron.WithLocation(loc))}
}

// Add registers fn on the given cron spec (standard 5-field or @every
// descriptor, e.g. "@every 5m").
func (p *Poller) Add(spec string, fn func()) error {
	_, err := p.c.AddFunc(spec, fn)
	if err != nil {
		appLog.Error("invalid poll schedule", err, "spec", spec)
		return err
	}
	appLog.Info("poll schedule registered", "spec", spec)
	return nil
}

// Start begins running registered entries. Safe to call once; entries added
// afterwards are picked up automatically.
func (p *Poller) Start() {
	p.c.Start()
}

// Stop cancels all pending triggers. Jobs already running are not
// interrupted; their eventual store replace is suppressed by the session's
// liveness check.
func (p *Poller) Stop() {
	p.c.Stop()
}
