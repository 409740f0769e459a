// Package fleet derives read-only fleet views. Nothing is cached; every call recomputes.
package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/internal/store"
)

const DefaultActivityWindow = 5 * time.Minute

type DeviceSummary struct {
	ID            string                 `json:"id"`
	OwnerID       string                 `json:"owner_id"`
	Name          string                 `json:"name"`
	Model         string                 `json:"model"`
	Locked        bool                   `json:"locked"`
	Alarming      bool                   `json:"alarming"`
	PoweredOff    bool                   `json:"powered_off"`
	NetworkStatus models.NetworkStatus   `json:"network_status"`
	BatteryLevel  int                    `json:"battery_level"`
	LastActive    time.Time              `json:"last_active"`
	Active        bool                   `json:"active"`
	LastLocation  *models.DeviceLocation `json:"last_location,omitempty"`
	Pending       int                    `json:"pending_commands"`
}

// MapPoint is one marker on the fleet map overlay.
type MapPoint struct {
	DeviceID string  `json:"device_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
	Active   bool    `json:"active"`
}

type Snapshot struct {
	TotalUsers          int64           `json:"total_users"`
	ActiveDeviceCount   int             `json:"active_device_count"`
	LockedDeviceCount   int             `json:"locked_device_count"`
	AlarmingDeviceCount int             `json:"alarming_device_count"`
	Devices             []DeviceSummary `json:"devices"`
	GeneratedAt         time.Time       `json:"generated_at"`
}

type Aggregator struct {
	store  store.Store
	window time.Duration
	now    func() time.Time
}

func NewAggregator(s store.Store, window time.Duration) *Aggregator {
	if window <= 0 {
		window = DefaultActivityWindow
	}
	return &Aggregator{store: s, window: window, now: func() time.Time { return time.Now().UTC() }}
}

// Active reports whether lastActive falls inside the activity window.
func (a *Aggregator) Active(lastActive time.Time) bool {
	return !lastActive.IsZero() && a.now().Sub(lastActive) < a.window
}

func (a *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	users, err := a.store.CountUsers(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count users: %w", err)
	}
	devices, err := a.store.ListDevices(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list devices: %w", err)
	}

	snap := Snapshot{
		TotalUsers:  users,
		Devices:     make([]DeviceSummary, 0, len(devices)),
		GeneratedAt: a.now(),
	}
	for _, d := range devices {
		s := a.summarize(d)
		if s.Active {
			snap.ActiveDeviceCount++
		}
		if d.Locked {
			snap.LockedDeviceCount++
		}
		if d.Alarming {
			snap.AlarmingDeviceCount++
		}
		snap.Devices = append(snap.Devices, s)
	}
	return snap, nil
}

// MapOverlay returns one point per device that has reported a location.
func (a *Aggregator) MapOverlay(ctx context.Context) ([]MapPoint, error) {
	devices, err := a.store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	points := make([]MapPoint, 0, len(devices))
	for _, d := range devices {
		if d.LastLocation == nil {
			continue
		}
		points = append(points, MapPoint{
			DeviceID: d.ID,
			Lat:      d.LastLocation.Lat,
			Lng:      d.LastLocation.Lng,
			Accuracy: d.LastLocation.Accuracy,
			Active:   a.Active(d.LastActive),
		})
	}
	return points, nil
}

func (a *Aggregator) summarize(d *models.Device) DeviceSummary {
	pending := 0
	for _, c := range d.PendingCommands {
		if !c.IsExecuted {
			pending++
		}
	}
	return DeviceSummary{
		ID:            d.ID,
		OwnerID:       d.OwnerID,
		Name:          d.Name,
		Model:         d.Model,
		Locked:        d.Locked,
		Alarming:      d.Alarming,
		PoweredOff:    d.PoweredOff,
		NetworkStatus: d.NetworkStatus,
		BatteryLevel:  d.BatteryLevel,
		LastActive:    d.LastActive,
		Active:        a.Active(d.LastActive),
		LastLocation:  d.LastLocation,
		Pending:       pending,
	}
}
