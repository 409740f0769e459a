package models

import "time"

type NetworkStatus string

const (
	NetworkWifi     NetworkStatus = "wifi"
	NetworkCellular NetworkStatus = "cellular"
	NetworkNone     NetworkStatus = "none"
)

// Valid reports whether n is one of the known network classes.
func (n NetworkStatus) Valid() bool {
	switch n {
	case NetworkWifi, NetworkCellular, NetworkNone:
		return true
	}
	return false
}

// DeviceLocation is an accepted location fix. Values are only built by the location filter
// and are never mutated once stored.
type DeviceLocation struct {
	Lat       float64        `bson:"lat" json:"lat"`
	Lng       float64        `bson:"lng" json:"lng"`
	Accuracy  float64        `bson:"accuracy" json:"accuracy"` // meters
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	Speed     *float64       `bson:"speed,omitempty" json:"speed,omitempty"`
	Battery   *int           `bson:"battery,omitempty" json:"battery,omitempty"`
	Network   *NetworkStatus `bson:"network,omitempty" json:"network,omitempty"`
}

// SamePosition compares coordinates only.
func (l DeviceLocation) SamePosition(o DeviceLocation) bool {
	return l.Lat == o.Lat && l.Lng == o.Lng
}

// Device is one protected handset. Telemetry fields are written by the heartbeat,
// flags and PendingCommands by the command dispatcher and admin operations.
type Device struct {
	ID      string `bson:"_id" json:"id"`
	OwnerID string `bson:"owner_id" json:"owner_id"`

	Name  string `bson:"name" json:"name"`
	Model string `bson:"model" json:"model"`
	OS    string `bson:"os" json:"os"`

	Locked        bool          `bson:"locked" json:"locked"`
	Alarming      bool          `bson:"alarming" json:"alarming"`
	PoweredOff    bool          `bson:"powered_off" json:"powered_off"`
	NetworkStatus NetworkStatus `bson:"network_status" json:"network_status"`

	LastLocation    *DeviceLocation  `bson:"last_location,omitempty" json:"last_location,omitempty"`
	LocationHistory []DeviceLocation `bson:"location_history" json:"location_history"`
	BatteryLevel    int              `bson:"battery_level" json:"battery_level"`
	Speed           float64          `bson:"speed" json:"speed"`
	LastActive      time.Time        `bson:"last_active" json:"last_active"`

	PendingCommands []RemoteCommand `bson:"pending_commands" json:"pending_commands"`

	// Version is bumped by every store write.
	Version   int64     `bson:"version" json:"version"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NextPendingCommand returns the index of the oldest unexecuted command, or -1.
func (d *Device) NextPendingCommand() int {
	for i := range d.PendingCommands {
		if !d.PendingCommands[i].IsExecuted {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate a snapshot without touching stored state.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	out := *d
	if d.LastLocation != nil {
		loc := *d.LastLocation
		out.LastLocation = &loc
	}
	out.LocationHistory = append([]DeviceLocation(nil), d.LocationHistory...)
	out.PendingCommands = make([]RemoteCommand, len(d.PendingCommands))
	for i, c := range d.PendingCommands {
		out.PendingCommands[i] = c.clone()
	}
	return &out
}
