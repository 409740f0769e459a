// Package notify carries device events between the engine and live operator views.
// Events travel over Redis channels device:<id>:events and are fanned out locally by a Hub.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventCommandEnqueued    EventType = "command_enqueued"
	EventTelemetryCommitted EventType = "telemetry_committed"
	EventGeoblocked         EventType = "geoblocked"
	EventDeviceRemoved      EventType = "device_removed"
	EventFlagsChanged       EventType = "flags_changed"
)

const (
	channelPrefix  = "device:"
	channelSuffix  = ":events"
	channelPattern = "device:*:events"
)

// Event is the payload sent over Redis and the websocket feed.
type Event struct {
	Type      EventType      `json:"type"`
	DeviceID  string         `json:"device_id"`
	CommandID string         `json:"command_id,omitempty"`
	Device    *models.Device `json:"device,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher announces device events. Publish failures never undo the write they describe.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

func Channel(deviceID string) string {
	return channelPrefix + deviceID + channelSuffix
}

// deviceFromChannel is the inverse of Channel.
func deviceFromChannel(ch string) (string, bool) {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(ch, channelPrefix), channelSuffix)
	return id, id != ""
}

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, Channel(e.DeviceID), data).Err()
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// LocalPublisher delivers straight into a Hub, for single-process runs without Redis.
type LocalPublisher struct {
	Hub *Hub
}

func (p LocalPublisher) Publish(_ context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	p.Hub.Deliver(e)
	return nil
}
