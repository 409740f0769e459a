package heartbeat

import (
	"context"
	"errors"
	"log"
	"time"
)

// Run ticks deviceID every period until ctx is done or the device is deleted.
// A value on wake triggers an extra tick right away; wake may be nil.
func (p *Processor) Run(ctx context.Context, deviceID string, period time.Duration, wake <-chan struct{}) error {
	if period <= 0 {
		period = DefaultPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	log.Printf("✅ Heartbeat started for %s (every %s)", deviceID, period)
	for {
		if _, err := p.Tick(ctx, deviceID); errors.Is(err, ErrDeviceGone) {
			log.Printf("heartbeat: %s deleted, stopping", deviceID)
			return ErrDeviceGone
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		}
	}
}
