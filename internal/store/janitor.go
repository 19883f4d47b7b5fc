package store

import (
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "availcal/internal/log"
)

// Sweeper is implemented by stores that need periodic cleanup.
type Sweeper interface {
	Sweep() int
}

// StartJanitor runs s.Sweep on the given cron schedule ("@every 1m",
// "*/5 * * * *", ...). Stop the returned cron to end it.
func StartJanitor(s Sweeper, spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { sweepOnce(s) }); err != nil {
		return nil, fmt.Errorf("store: invalid sweep schedule %q: %w", spec, err)
	}
	c.Start()
	appLog.Info("store janitor started", "schedule", spec)
	return c, nil
}

func sweepOnce(s Sweeper) int {
	n := s.Sweep()
	if n > 0 {
		appLog.Debug("store sweep", "expired", n)
	}
	return n
}
