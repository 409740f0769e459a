// Package heartbeat runs the per-device tick: acquire a fix, filter it, claim and drain one
// pending command, commit telemetry, then record history.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/history"
	"github.com/AnshRaj112/safemobile-backend/internal/location"
	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/internal/notify"
	"github.com/AnshRaj112/safemobile-backend/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultPeriod     = 15 * time.Second
	DefaultFixTimeout = 8 * time.Second
)

// ErrDeviceGone means the device record was deleted; the loop for it must stop.
var ErrDeviceGone = errors.New("device no longer exists")

type Outcome string

const (
	OutcomeCommitted    Outcome = "committed"
	OutcomeSkippedNoFix Outcome = "skipped_no_fix"
	OutcomeRejected     Outcome = "rejected"
	OutcomeTerminated   Outcome = "terminated"
	OutcomeFailed       Outcome = "failed"
)

// Result describes one tick.
type Result struct {
	Outcome Outcome `json:"outcome"`
	// Reason is set for rejected and geoblocked fixes.
	Reason     location.Reason `json:"reason,omitempty"`
	Geoblocked bool            `json:"geoblocked"`
	// Executed is the command drained this tick, already marked executed.
	Executed *models.RemoteCommand `json:"executed,omitempty"`
	// HistoryGrew is false when the fix repeated the previous position.
	HistoryGrew bool `json:"history_grew"`
}

type Options struct {
	Store     store.DeviceStore
	Recorder  *history.Recorder
	FixSource FixSource
	Actuator  Actuator
	Notifier  notify.Publisher

	Threshold  float64
	Bounds     *location.Bounds
	FixTimeout time.Duration
	Now        func() time.Time
}

type Processor struct {
	store     store.DeviceStore
	recorder  *history.Recorder
	fixes     FixSource
	actuator  Actuator
	notifier  notify.Publisher
	threshold float64
	bounds    *location.Bounds
	timeout   time.Duration
	now       func() time.Time

	ticks, commits, skips, rejects, drains, failures atomic.Int64

	failureCounter metric.Int64Counter
	commitCounter  metric.Int64Counter
}

func NewProcessor(o Options) (*Processor, error) {
	if o.Store == nil || o.Recorder == nil {
		return nil, errors.New("heartbeat: store and recorder are required")
	}
	p := &Processor{
		store:     o.Store,
		recorder:  o.Recorder,
		fixes:     o.FixSource,
		actuator:  o.Actuator,
		notifier:  o.Notifier,
		threshold: o.Threshold,
		bounds:    o.Bounds,
		timeout:   o.FixTimeout,
		now:       o.Now,
	}
	if p.threshold <= 0 {
		p.threshold = location.DefaultThreshold
	}
	if p.timeout <= 0 {
		p.timeout = DefaultFixTimeout
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	if p.actuator == nil {
		p.actuator = NopActuator{}
	}
	if p.notifier == nil {
		p.notifier = notify.NopPublisher{}
	}

	meter := otel.Meter("github.com/AnshRaj112/safemobile-backend/internal/heartbeat")
	var err error
	if p.failureCounter, err = meter.Int64Counter("heartbeat.failures",
		metric.WithDescription("Heartbeat ticks that failed to commit")); err != nil {
		return nil, err
	}
	if p.commitCounter, err = meter.Int64Counter("heartbeat.commits",
		metric.WithDescription("Heartbeat ticks committed")); err != nil {
		return nil, err
	}
	return p, nil
}

// Tick runs one full heartbeat for deviceID using the configured FixSource.
func (p *Processor) Tick(ctx context.Context, deviceID string) (Result, error) {
	p.ticks.Add(1)

	dev, err := p.load(ctx, deviceID)
	if err != nil {
		return p.loadFailure(ctx, deviceID, err)
	}
	if p.fixes == nil {
		p.skips.Add(1)
		return Result{Outcome: OutcomeSkippedNoFix}, nil
	}

	fix, err := p.acquire(ctx, deviceID)
	if err != nil {
		log.Printf("heartbeat: %s no fix this tick: %v", deviceID, err)
		p.skips.Add(1)
		return Result{Outcome: OutcomeSkippedNoFix}, nil
	}
	return p.apply(ctx, dev, fix)
}

// Process runs a heartbeat for a fix that arrived with the request instead of from a FixSource.
func (p *Processor) Process(ctx context.Context, deviceID string, fix location.Fix) (Result, error) {
	p.ticks.Add(1)

	dev, err := p.load(ctx, deviceID)
	if err != nil {
		return p.loadFailure(ctx, deviceID, err)
	}
	return p.apply(ctx, dev, fix)
}

type acquired struct {
	fix location.Fix
	err error
}

// acquire bounds the FixSource by the fix timeout even when the source ignores its context.
// An abandoned Acquire finishes into the buffered channel and is dropped.
func (p *Processor) acquire(ctx context.Context, deviceID string) (location.Fix, error) {
	fixCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan acquired, 1)
	go func() {
		fix, err := p.fixes.Acquire(fixCtx, deviceID)
		done <- acquired{fix, err}
	}()

	select {
	case r := <-done:
		return r.fix, r.err
	case <-fixCtx.Done():
		return location.Fix{}, fmt.Errorf("%w: %v", ErrNoFix, fixCtx.Err())
	}
}

func (p *Processor) load(ctx context.Context, deviceID string) (*models.Device, error) {
	dev, err := p.store.GetDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDeviceGone
	}
	return dev, err
}

func (p *Processor) loadFailure(ctx context.Context, deviceID string, err error) (Result, error) {
	if errors.Is(err, ErrDeviceGone) {
		return Result{Outcome: OutcomeTerminated}, ErrDeviceGone
	}
	p.fail(ctx, deviceID, "load", err)
	return Result{Outcome: OutcomeFailed}, fmt.Errorf("load %s: %w", deviceID, err)
}

func (p *Processor) apply(ctx context.Context, dev *models.Device, fix location.Fix) (Result, error) {
	filtered := location.Filter(fix, p.threshold, p.bounds)
	if !filtered.Accepted() {
		log.Printf("heartbeat: %s fix rejected (%s, accuracy %.1fm)", dev.ID, filtered.Reason, fix.Accuracy)
		p.rejects.Add(1)
		return Result{Outcome: OutcomeRejected, Reason: filtered.Reason}, nil
	}
	loc := filtered.Location
	res := Result{Outcome: OutcomeCommitted, Reason: filtered.Reason, Geoblocked: filtered.Geoblocked}

	patch := store.HeartbeatPatch{
		LastActive:    p.now(),
		LastLocation:  loc,
		BatteryLevel:  loc.Battery,
		Speed:         loc.Speed,
		NetworkStatus: loc.Network,
	}

	if i := dev.NextPendingCommand(); i >= 0 {
		executed, err := p.drain(ctx, dev, dev.PendingCommands[i], patch.LastActive)
		if errors.Is(err, store.ErrNotFound) {
			return Result{Outcome: OutcomeTerminated}, ErrDeviceGone
		}
		if err != nil {
			p.fail(ctx, dev.ID, "claim", err)
			return Result{Outcome: OutcomeFailed}, fmt.Errorf("claim on %s: %w", dev.ID, err)
		}
		res.Executed = executed
	}

	if err := p.store.CommitHeartbeat(ctx, dev.ID, patch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{Outcome: OutcomeTerminated}, ErrDeviceGone
		}
		p.fail(ctx, dev.ID, "commit", err)
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("commit %s: %w", dev.ID, err)
	}
	p.commits.Add(1)
	p.commitCounter.Add(ctx, 1)

	grew, err := p.recorder.Append(ctx, dev.ID, *loc)
	if err != nil {
		// Telemetry is already committed; only the history entry is lost.
		p.fail(ctx, dev.ID, "history", err)
	}
	res.HistoryGrew = grew

	view := dev.Clone()
	patch.Apply(view)
	if res.Executed != nil {
		store.MarkExecuted(view, res.Executed.ID, *res.Executed.ExecutedAt)
		p.effect(dev, *res.Executed).Apply(view)
	}
	p.publish(ctx, notify.Event{Type: notify.EventTelemetryCommitted, DeviceID: dev.ID, Device: view})
	if res.Geoblocked {
		log.Printf("⚠️  heartbeat: %s reported from outside the service region (%.5f, %.5f)", dev.ID, loc.Lat, loc.Lng)
		p.publish(ctx, notify.Event{Type: notify.EventGeoblocked, DeviceID: dev.ID})
	}
	return res, nil
}

// drain claims cmd and, only if this tick won the claim, performs its side effect.
// A nil command with a nil error means a concurrent tick already drained it.
func (p *Processor) drain(ctx context.Context, dev *models.Device, cmd models.RemoteCommand, at time.Time) (*models.RemoteCommand, error) {
	claimed, err := p.store.ClaimCommand(ctx, dev.ID, cmd.ID, at, p.effect(dev, cmd))
	if err != nil {
		return nil, err
	}
	if !claimed {
		log.Printf("heartbeat: %s command %s already drained elsewhere", dev.ID, cmd.ID)
		return nil, nil
	}
	p.drains.Add(1)
	p.actuate(ctx, dev.ID, cmd)

	cmd.IsExecuted = true
	cmd.ExecutedAt = &at
	return &cmd, nil
}

// effect returns the flags a drained command leaves on the device.
func (p *Processor) effect(dev *models.Device, cmd models.RemoteCommand) store.FlagPatch {
	on, off := true, false
	switch cmd.Type {
	case models.CommandLock:
		return store.FlagPatch{Locked: desired(cmd, &on)}
	case models.CommandUnlock:
		return store.FlagPatch{Locked: desired(cmd, &off)}
	case models.CommandSiren:
		toggled := !dev.Alarming
		return store.FlagPatch{Alarming: desired(cmd, &toggled)}
	}
	return store.FlagPatch{}
}

// actuate runs the on-device part of WIPE and MSG. Execution has no failure path: actuator
// errors are logged and the command still counts as done.
func (p *Processor) actuate(ctx context.Context, deviceID string, cmd models.RemoteCommand) {
	switch cmd.Type {
	case models.CommandWipe:
		if err := p.actuator.Wipe(ctx, deviceID); err != nil {
			log.Printf("heartbeat: %s wipe %s not confirmed: %v", deviceID, cmd.ID, err)
		}
	case models.CommandMsg:
		if err := p.actuator.Message(ctx, deviceID, cmd.Payload); err != nil {
			log.Printf("heartbeat: %s message %s not shown: %v", deviceID, cmd.ID, err)
		}
	}
}

func desired(cmd models.RemoteCommand, fallback *bool) *bool {
	if cmd.DesiredState != nil {
		v := *cmd.DesiredState
		return &v
	}
	return fallback
}

func (p *Processor) fail(ctx context.Context, deviceID, stage string, err error) {
	p.failures.Add(1)
	p.failureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	log.Printf("heartbeat: %s %s failed: %v", deviceID, stage, err)
}

func (p *Processor) publish(ctx context.Context, e notify.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = p.now()
	}
	if err := p.notifier.Publish(ctx, e); err != nil {
		log.Printf("heartbeat: publish %s for %s failed: %v", e.Type, e.DeviceID, err)
	}
}

// FailureCount is the number of ticks that hit a storage failure.
func (p *Processor) FailureCount() int64 {
	return p.failures.Load()
}

type Stats struct {
	Ticks    int64 `json:"ticks"`
	Commits  int64 `json:"commits"`
	Skips    int64 `json:"skips"`
	Rejects  int64 `json:"rejects"`
	Drains   int64 `json:"drains"`
	Failures int64 `json:"failures"`
}

func (p *Processor) Stats() Stats {
	return Stats{
		Ticks:    p.ticks.Load(),
		Commits:  p.commits.Load(),
		Skips:    p.skips.Load(),
		Rejects:  p.rejects.Load(),
		Drains:   p.drains.Load(),
		Failures: p.failures.Load(),
	}
}
