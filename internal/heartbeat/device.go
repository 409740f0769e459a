package heartbeat

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/location"
	"github.com/AnshRaj112/safemobile-backend/internal/models"
)

// ErrNoFix is returned by a FixSource that has nothing to report.
var ErrNoFix = errors.New("no location fix available")

// FixSource is the device's positioning hardware. Acquire must honour ctx.
type FixSource interface {
	Acquire(ctx context.Context, deviceID string) (location.Fix, error)
}

// Actuator performs the destructive or user-visible half of a command on the handset.
type Actuator interface {
	Wipe(ctx context.Context, deviceID string) error
	Message(ctx context.Context, deviceID, text string) error
}

type NopActuator struct{}

func (NopActuator) Wipe(context.Context, string) error { return nil }
func (NopActuator) Message(context.Context, string, string) error { return nil }

// LogActuator only logs; used by the agent when no device hooks are wired.
type LogActuator struct{}

func (LogActuator) Wipe(_ context.Context, deviceID string) error {
	log.Printf("⚠️  WIPE requested for %s", deviceID)
	return nil
}

func (LogActuator) Message(_ context.Context, deviceID, text string) error {
	log.Printf("message for %s: %s", deviceID, text)
	return nil
}

// StaticFixSource reports a fixed position with a little jitter, for agents without GPS.
type StaticFixSource struct {
	Lat, Lng float64
	Accuracy float64
	// Jitter is the maximum offset in degrees added to each coordinate.
	Jitter  float64
	Battery int
	Network models.NetworkStatus

	mu  sync.Mutex
	rng *rand.Rand
}

func (s *StaticFixSource) Acquire(ctx context.Context, _ string) (location.Fix, error) {
	if err := ctx.Err(); err != nil {
		return location.Fix{}, err
	}
	s.mu.Lock()
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	dLat := (s.rng.Float64()*2 - 1) * s.Jitter
	dLng := (s.rng.Float64()*2 - 1) * s.Jitter
	s.mu.Unlock()

	battery := s.Battery
	speed := 0.0
	fix := location.Fix{
		Lat:       s.Lat + dLat,
		Lng:       s.Lng + dLng,
		Accuracy:  s.Accuracy,
		Timestamp: time.Now().UTC(),
		Speed:     &speed,
		Battery:   &battery,
	}
	if s.Network != "" {
		network := s.Network
		fix.Network = &network
	}
	return fix, nil
}
