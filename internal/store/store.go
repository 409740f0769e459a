// Package store defines the record store contract shared by the heartbeat, the command
// dispatcher and the operator views. The store offers no transactions: every write is either
// a whole-record replace (PutDevice, last write wins) or a single-document field patch.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/models"
)

var (
	// ErrNotFound is returned when a device or user does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a user email is already registered.
	ErrDuplicate = errors.New("record already exists")
	// ErrStorageFailure wraps driver errors for writes that could not be committed.
	ErrStorageFailure = errors.New("storage failure")
	// ErrQuotaExceeded is returned when the underlying store is full.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// FlagPatch carries the device flags to overwrite; nil fields are left untouched.
type FlagPatch struct {
	Locked     *bool
	Alarming   *bool
	PoweredOff *bool
}

// Empty reports whether the patch changes nothing.
func (f FlagPatch) Empty() bool {
	return f.Locked == nil && f.Alarming == nil && f.PoweredOff == nil
}

// Apply writes the non-nil flags onto d.
func (f FlagPatch) Apply(d *models.Device) {
	if f.Locked != nil {
		d.Locked = *f.Locked
	}
	if f.Alarming != nil {
		d.Alarming = *f.Alarming
	}
	if f.PoweredOff != nil {
		d.PoweredOff = *f.PoweredOff
	}
}

// HeartbeatPatch is what one heartbeat tick commits. Only the listed fields are written, so
// commands enqueued between the tick's read and its commit survive.
type HeartbeatPatch struct {
	LastActive    time.Time
	LastLocation  *models.DeviceLocation
	BatteryLevel  *int
	Speed         *float64
	NetworkStatus *models.NetworkStatus
}

// Apply merges the patch into d. Shared by the in-memory store and tests.
func (p HeartbeatPatch) Apply(d *models.Device) {
	d.LastActive = p.LastActive
	if p.LastLocation != nil {
		loc := *p.LastLocation
		d.LastLocation = &loc
	}
	if p.BatteryLevel != nil {
		d.BatteryLevel = *p.BatteryLevel
	}
	if p.Speed != nil {
		d.Speed = *p.Speed
	}
	if p.NetworkStatus != nil {
		d.NetworkStatus = *p.NetworkStatus
	}
}

// MarkExecuted flags the command commandID executed at at, unless it already is.
// Reports whether the command changed state.
func MarkExecuted(d *models.Device, commandID string, at time.Time) bool {
	for i := range d.PendingCommands {
		c := &d.PendingCommands[i]
		if c.ID != commandID {
			continue
		}
		if c.IsExecuted {
			return false
		}
		c.IsExecuted = true
		c.ExecutedAt = &at
		return true
	}
	return false
}

// DeviceStore is the device half of the record store.
type DeviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	// PutDevice replaces the whole record (last write wins), setting OwnerID to userID.
	PutDevice(ctx context.Context, userID string, d *models.Device) error
	CreateDevice(ctx context.Context, d *models.Device) error
	ListDevices(ctx context.Context) ([]*models.Device, error)
	ListDevicesByOwner(ctx context.Context, ownerID string) ([]*models.Device, error)

	// EnqueueCommand appends cmd to PendingCommands and applies flags in one write.
	EnqueueCommand(ctx context.Context, deviceID string, cmd models.RemoteCommand, flags FlagPatch) error
	// ClaimCommand marks commandID executed at at and applies flags, in one conditional write
	// that only matches while the command is still unexecuted. Reports whether this call won;
	// a false return with a nil error means another tick already drained the command.
	ClaimCommand(ctx context.Context, deviceID, commandID string, at time.Time, flags FlagPatch) (bool, error)
	// SetFlags overwrites the non-nil flags. An empty patch writes nothing.
	SetFlags(ctx context.Context, deviceID string, flags FlagPatch) error
	// CommitHeartbeat writes the tick's telemetry fields.
	CommitHeartbeat(ctx context.Context, deviceID string, patch HeartbeatPatch) error
	// AppendHistory pushes loc unless it repeats the last stored position, keeping at most
	// capacity entries (oldest evicted first). Reports whether history grew.
	AppendHistory(ctx context.Context, deviceID string, loc models.DeviceLocation, capacity int) (bool, error)
}

// UserStore is the identity half of the record store.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context) ([]*models.User, error)
	CountUsers(ctx context.Context) (int64, error)
	RecordLogin(ctx context.Context, userID string, entry models.LoginEntry, capacity int) error
	SetBlocked(ctx context.Context, userID string, blocked bool) error
	IncrementCommandCount(ctx context.Context, userID string) error
	// DeleteUser removes the user and every device it owns, returning the removed device ids.
	DeleteUser(ctx context.Context, userID string) ([]string, error)
}

// Store is the full record store handle passed to every component.
type Store interface {
	DeviceStore
	UserStore
}
