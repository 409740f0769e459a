package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/internal/store/memstore"
)

func TestSnapshot_Counts(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	s := memstore.New()
	for _, id := range []string{"u1", "u2", "u3"} {
		if err := s.CreateUser(ctx, &models.User{ID: id, Email: id + "@safe.mobile"}); err != nil {
			t.Fatal(err)
		}
	}
	devices := []*models.Device{
		{ID: "a", OwnerID: "u1", LastActive: now.Add(-1 * time.Minute), Locked: true,
			LastLocation: &models.DeviceLocation{Lat: 12.97, Lng: 77.59, Accuracy: 12}},
		{ID: "b", OwnerID: "u1", LastActive: now.Add(-5 * time.Minute), Alarming: true},
		{ID: "c", OwnerID: "u2", LastActive: now.Add(-30 * time.Second), Locked: true, Alarming: true},
		{ID: "d", OwnerID: "u3"},
	}
	for _, d := range devices {
		if err := s.CreateDevice(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	a := NewAggregator(s, 5*time.Minute)
	a.now = func() time.Time { return now }

	snap, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.TotalUsers != 3 {
		t.Errorf("users = %d", snap.TotalUsers)
	}
	// b sits exactly on the window edge and is not active.
	if snap.ActiveDeviceCount != 2 {
		t.Errorf("active = %d, want 2", snap.ActiveDeviceCount)
	}
	if snap.LockedDeviceCount != 2 || snap.AlarmingDeviceCount != 2 {
		t.Errorf("locked = %d alarming = %d", snap.LockedDeviceCount, snap.AlarmingDeviceCount)
	}
	if len(snap.Devices) != 4 || !snap.GeneratedAt.Equal(now) {
		t.Errorf("devices = %d generated = %v", len(snap.Devices), snap.GeneratedAt)
	}

	points, err := a.MapOverlay(ctx)
	if err != nil {
		t.Fatalf("MapOverlay: %v", err)
	}
	if len(points) != 1 || points[0].DeviceID != "a" || !points[0].Active {
		t.Errorf("points = %+v", points)
	}
}

func TestSnapshot_Empty(t *testing.T) {
	snap, err := NewAggregator(memstore.New(), 0).Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.TotalUsers != 0 || snap.ActiveDeviceCount != 0 || len(snap.Devices) != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}
