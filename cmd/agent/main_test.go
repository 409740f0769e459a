package main

import (
	"context"
	"testing"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/notify"
)

func TestCommandWakeups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan notify.Event, 4)
	wake := commandWakeups(ctx, events)

	events <- notify.Event{Type: notify.EventTelemetryCommitted}
	events <- notify.Event{Type: notify.EventCommandEnqueued}
	events <- notify.Event{Type: notify.EventCommandEnqueued}

	select {
	case <-wake:
	case <-time.After(2 * time.Second):
		t.Fatal("no wake for an enqueued command")
	}

	close(events)
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-wake:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("wake channel not closed after events ended")
		}
	}
}
