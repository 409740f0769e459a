// Package commands queues remote commands for devices on behalf of owners and administrators.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/audit"
	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/internal/notify"
	"github.com/AnshRaj112/safemobile-backend/internal/store"
	"github.com/google/uuid"
)

var (
	ErrForbidden      = errors.New("not allowed to command this device")
	ErrInvalidCommand = errors.New("unknown command type")
)

type Dispatcher struct {
	store     store.Store
	audit     *audit.Logger
	publisher notify.Publisher
	now       func() time.Time
	newID     func() string
}

func NewDispatcher(s store.Store, a *audit.Logger, p notify.Publisher) *Dispatcher {
	if p == nil {
		p = notify.NopPublisher{}
	}
	return &Dispatcher{
		store:     s,
		audit:     a,
		publisher: p,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
}

// Dispatch enqueues a command and returns its id. LOCK, UNLOCK and SIREN also set the
// device flag right away; the heartbeat re-applies the same value when it drains the command.
func (d *Dispatcher) Dispatch(ctx context.Context, actor models.Actor, deviceID, cmdType, payload string) (string, error) {
	t, ok := models.ParseCommandType(cmdType)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, cmdType)
	}

	dev, err := d.store.GetDevice(ctx, deviceID)
	if err != nil {
		return "", fmt.Errorf("dispatch %s: %w", deviceID, err)
	}

	role, err := d.authorize(ctx, actor, dev)
	if err != nil {
		return "", err
	}

	cmd := models.RemoteCommand{
		ID:        d.newID(),
		Type:      t,
		Payload:   payload,
		Timestamp: d.now(),
		IssuedBy:  actor.ID,
	}
	flags := optimisticFlags(t, dev)
	switch {
	case flags.Locked != nil:
		cmd.DesiredState = flags.Locked
	case flags.Alarming != nil:
		cmd.DesiredState = flags.Alarming
	}

	if err := d.store.EnqueueCommand(ctx, deviceID, cmd, flags); err != nil {
		return "", fmt.Errorf("enqueue %s on %s: %w", t, deviceID, err)
	}

	if err := d.store.IncrementCommandCount(ctx, dev.OwnerID); err != nil {
		log.Printf("commands: failed to bump command count for %s: %v", dev.OwnerID, err)
	}

	owns := actor.ID == dev.OwnerID
	details := fmt.Sprintf("%s queued for %q", t, dev.Name)
	if t == models.CommandMsg && payload != "" {
		details += ": " + payload
	}
	// Audit failures do not undo the enqueue; Log already reports them.
	d.audit.Log(ctx, audit.Entry{
		ActorID:    actor.ID,
		ActorEmail: actor.Email,
		Action:     models.ActionForCommand(t),
		TargetID:   deviceID,
		Details:    details,
		Severity:   audit.CommandSeverity(t, role.IsAdmin(), owns),
	})

	if err := d.publisher.Publish(ctx, notify.Event{
		Type:      notify.EventCommandEnqueued,
		DeviceID:  deviceID,
		CommandID: cmd.ID,
		Timestamp: cmd.Timestamp,
	}); err != nil {
		log.Printf("commands: publish failed for %s: %v", deviceID, err)
	}

	return cmd.ID, nil
}

// SetPowerState records that the device was switched off or back on. It writes only the
// powered_off flag and queues nothing; the next heartbeat leaves the flag alone.
func (d *Dispatcher) SetPowerState(ctx context.Context, actor models.Actor, deviceID string, poweredOff bool) error {
	dev, err := d.store.GetDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("power %s: %w", deviceID, err)
	}
	role, err := d.authorize(ctx, actor, dev)
	if err != nil {
		return err
	}

	flags := store.FlagPatch{PoweredOff: &poweredOff}
	if dev.PoweredOff == poweredOff {
		flags = store.FlagPatch{}
	}
	if err := d.store.SetFlags(ctx, deviceID, flags); err != nil {
		return fmt.Errorf("power %s: %w", deviceID, err)
	}
	if flags.Empty() {
		return nil
	}

	state := "on"
	if poweredOff {
		state = "off"
	}
	d.audit.Log(ctx, audit.Entry{
		ActorID:    actor.ID,
		ActorEmail: actor.Email,
		Action:     models.ActionRemotePower,
		TargetID:   deviceID,
		Details:    fmt.Sprintf("%q switched %s", dev.Name, state),
		Severity:   audit.PowerSeverity(role.IsAdmin(), actor.ID == dev.OwnerID),
	})

	if err := d.publisher.Publish(ctx, notify.Event{
		Type:      notify.EventFlagsChanged,
		DeviceID:  deviceID,
		Timestamp: d.now(),
	}); err != nil {
		log.Printf("commands: publish failed for %s: %v", deviceID, err)
	}
	return nil
}

// authorize returns the actor's stored role. Blocked or unknown actors are refused.
func (d *Dispatcher) authorize(ctx context.Context, actor models.Actor, dev *models.Device) (models.Role, error) {
	u, err := d.store.GetUser(ctx, actor.ID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrForbidden
	}
	if err != nil {
		return "", fmt.Errorf("load actor %s: %w", actor.ID, err)
	}
	if u.Blocked {
		return "", ErrForbidden
	}
	if u.ID != dev.OwnerID && !u.Role.IsAdmin() {
		return "", ErrForbidden
	}
	return u.Role, nil
}

func optimisticFlags(t models.CommandType, dev *models.Device) store.FlagPatch {
	on, off := true, false
	switch t {
	case models.CommandLock:
		return store.FlagPatch{Locked: &on}
	case models.CommandUnlock:
		return store.FlagPatch{Locked: &off}
	case models.CommandSiren:
		next := !dev.Alarming
		return store.FlagPatch{Alarming: &next}
	}
	return store.FlagPatch{}
}
