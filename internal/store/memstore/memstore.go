// Package memstore is an in-process record store used by tests and single-node runs.
// Every read returns a deep copy, so callers can never mutate stored state without a write.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/history"
	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/internal/store"
)

type Store struct {
	mu         sync.RWMutex
	devices    map[string]*models.Device
	users      map[string]*models.User
	maxDevices int
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxDevices caps the number of device records; writes beyond it fail with ErrQuotaExceeded.
func WithMaxDevices(n int) Option {
	return func(s *Store) { s.maxDevices = n }
}

// WithClock overrides time.Now for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		devices: make(map[string]*models.Device),
		users:   make(map[string]*models.User),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) GetDevice(_ context.Context, deviceID string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *Store) PutDevice(_ context.Context, userID string, d *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return store.ErrNotFound
	}
	prev, exists := s.devices[d.ID]
	if !exists && s.full() {
		return store.ErrQuotaExceeded
	}
	c := d.Clone()
	c.OwnerID = userID
	c.UpdatedAt = s.now()
	if exists {
		c.Version = prev.Version + 1
	} else {
		c.Version = 1
	}
	s.devices[c.ID] = c
	return nil
}

func (s *Store) CreateDevice(_ context.Context, d *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[d.OwnerID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.devices[d.ID]; ok {
		return store.ErrDuplicate
	}
	if s.full() {
		return store.ErrQuotaExceeded
	}
	c := d.Clone()
	c.Version = 1
	s.devices[c.ID] = c
	return nil
}

func (s *Store) full() bool {
	return s.maxDevices > 0 && len(s.devices) >= s.maxDevices
}

func (s *Store) ListDevices(_ context.Context) ([]*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectDevices(func(*models.Device) bool { return true }), nil
}

func (s *Store) ListDevicesByOwner(_ context.Context, ownerID string) ([]*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectDevices(func(d *models.Device) bool { return d.OwnerID == ownerID }), nil
}

func (s *Store) collectDevices(keep func(*models.Device) bool) []*models.Device {
	out := make([]*models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) EnqueueCommand(_ context.Context, deviceID string, cmd models.RemoteCommand, flags store.FlagPatch) error {
	return s.mutateDevice(deviceID, func(d *models.Device) {
		d.PendingCommands = append(d.PendingCommands, cmd)
		flags.Apply(d)
	})
}

func (s *Store) ClaimCommand(_ context.Context, deviceID, commandID string, at time.Time, flags store.FlagPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return false, store.ErrNotFound
	}
	if !store.MarkExecuted(d, commandID, at) {
		return false, nil
	}
	flags.Apply(d)
	d.Version++
	d.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) SetFlags(_ context.Context, deviceID string, flags store.FlagPatch) error {
	if flags.Empty() {
		return nil
	}
	return s.mutateDevice(deviceID, flags.Apply)
}

func (s *Store) CommitHeartbeat(_ context.Context, deviceID string, patch store.HeartbeatPatch) error {
	return s.mutateDevice(deviceID, patch.Apply)
}

func (s *Store) AppendHistory(_ context.Context, deviceID string, loc models.DeviceLocation, capacity int) (bool, error) {
	var grew bool
	err := s.mutateDevice(deviceID, func(d *models.Device) {
		d.LocationHistory, grew = history.Push(d.LocationHistory, loc, capacity)
	})
	return grew, err
}

// mutateDevice applies fn to the stored record under the write lock.
func (s *Store) mutateDevice(deviceID string, fn func(*models.Device)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return store.ErrNotFound
	}
	fn(d)
	d.Version++
	d.UpdatedAt = s.now()
	return nil
}

func (s *Store) GetUser(_ context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return store.ErrDuplicate
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return store.ErrDuplicate
		}
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountUsers(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

func (s *Store) RecordLogin(_ context.Context, userID string, entry models.LoginEntry, capacity int) error {
	return s.mutateUser(userID, func(u *models.User) {
		u.LoginHistory = append(u.LoginHistory, entry)
		if capacity > 0 && len(u.LoginHistory) > capacity {
			u.LoginHistory = append([]models.LoginEntry(nil), u.LoginHistory[len(u.LoginHistory)-capacity:]...)
		}
		if entry.Status == models.LoginSuccess {
			at := entry.Timestamp
			u.LastLogin = &at
		}
	})
}

func (s *Store) SetBlocked(_ context.Context, userID string, blocked bool) error {
	return s.mutateUser(userID, func(u *models.User) { u.Blocked = blocked })
}

func (s *Store) IncrementCommandCount(_ context.Context, userID string) error {
	return s.mutateUser(userID, func(u *models.User) { u.Metadata.TotalCommandsIssued++ })
}

func (s *Store) mutateUser(userID string, fn func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	fn(u)
	return nil
}

func (s *Store) DeleteUser(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil, store.ErrNotFound
	}
	var removed []string
	for id, d := range s.devices {
		if d.OwnerID == userID {
			delete(s.devices, id)
			removed = append(removed, id)
		}
	}
	delete(s.users, userID)
	sort.Strings(removed)
	return removed, nil
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.LoginHistory = append([]models.LoginEntry(nil), u.LoginHistory...)
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}
