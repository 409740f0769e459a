// Package mongostore is the MongoDB record store. Devices and users live in separate
// collections; every engine write except PutDevice is a single-document field patch.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DevicesCollection = "devices"
	UsersCollection   = "users"
)

// Server codes that mean the write can never fit: document too large, disk quota, out of space.
var quotaCodes = []int{10334, 12501, 14031}

type Store struct {
	devices *mongo.Collection
	users   *mongo.Collection
	now     func() time.Time
}

func New(db *mongo.Database) *Store {
	return &Store{
		devices: db.Collection(DevicesCollection),
		users:   db.Collection(UsersCollection),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ store.Store = (*Store)(nil)

// EnsureIndexes configures indexes for the devices and users collections.
// Called on startup after Mongo has connected.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	deviceIdx := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}},
			Options: options.Index().SetName("idx_owner"),
		},
		{
			Keys:    bson.D{{Key: "last_active", Value: -1}},
			Options: options.Index().SetName("idx_last_active"),
		},
	}
	for _, m := range deviceIdx {
		if _, err := s.devices.Indexes().CreateOne(ctx, m); err != nil {
			return err
		}
	}

	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName("idx_email").SetUnique(true),
	})
	return err
}

// classify maps driver errors onto the store sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		for _, code := range quotaCodes {
			if se.HasErrorCode(code) {
				return fmt.Errorf("%s: %w: %v", op, store.ErrQuotaExceeded, err)
			}
		}
	}
	return fmt.Errorf("%s: %w: %v", op, store.ErrStorageFailure, err)
}

func (s *Store) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	var d models.Device
	if err := s.devices.FindOne(ctx, bson.M{"_id": deviceID}).Decode(&d); err != nil {
		return nil, classify("get device", err)
	}
	return &d, nil
}

func (s *Store) PutDevice(ctx context.Context, userID string, d *models.Device) error {
	n, err := s.users.CountDocuments(ctx, bson.M{"_id": userID})
	if err != nil {
		return classify("put device", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}

	var prev struct {
		Version int64 `bson:"version"`
	}
	err = s.devices.FindOne(ctx, bson.M{"_id": d.ID}, options.FindOne().SetProjection(bson.M{"version": 1})).Decode(&prev)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return classify("put device", err)
	}

	c := withArrays(d)
	c.OwnerID = userID
	c.Version = prev.Version + 1
	c.UpdatedAt = s.now()
	_, err = s.devices.ReplaceOne(ctx, bson.M{"_id": c.ID}, c, options.Replace().SetUpsert(true))
	return classify("put device", err)
}

func (s *Store) CreateDevice(ctx context.Context, d *models.Device) error {
	n, err := s.users.CountDocuments(ctx, bson.M{"_id": d.OwnerID})
	if err != nil {
		return classify("create device", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	c := withArrays(d)
	c.Version = 1
	_, err = s.devices.InsertOne(ctx, c)
	return classify("create device", err)
}

// withArrays clones d with nil slices replaced by empty ones. A nil slice encodes as BSON
// null, and $push on a null field fails, so every stored device must carry real arrays.
func withArrays(d *models.Device) *models.Device {
	c := d.Clone()
	if c.LocationHistory == nil {
		c.LocationHistory = []models.DeviceLocation{}
	}
	if c.PendingCommands == nil {
		c.PendingCommands = []models.RemoteCommand{}
	}
	return c
}

func (s *Store) ListDevices(ctx context.Context) ([]*models.Device, error) {
	return s.findDevices(ctx, bson.M{})
}

func (s *Store) ListDevicesByOwner(ctx context.Context, ownerID string) ([]*models.Device, error) {
	return s.findDevices(ctx, bson.M{"owner_id": ownerID})
}

func (s *Store) findDevices(ctx context.Context, filter bson.M) ([]*models.Device, error) {
	cur, err := s.devices.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classify("list devices", err)
	}
	defer cur.Close(ctx)

	var out []*models.Device
	for cur.Next(ctx) {
		var d models.Device
		if err := cur.Decode(&d); err != nil {
			return nil, classify("decode device", err)
		}
		out = append(out, &d)
	}
	return out, classify("list devices", cur.Err())
}

func (s *Store) EnqueueCommand(ctx context.Context, deviceID string, cmd models.RemoteCommand, flags store.FlagPatch) error {
	set := bson.M{"updated_at": s.now()}
	addFlags(set, flags)
	update := bson.M{
		"$push": bson.M{"pending_commands": cmd},
		"$set":  set,
		"$inc":  bson.M{"version": 1},
	}
	return s.updateDevice(ctx, "enqueue command", bson.M{"_id": deviceID}, update)
}

// ClaimCommand matches the command with $elemMatch on is_executed=false, so of two ticks
// racing on the same command only one update matches.
func (s *Store) ClaimCommand(ctx context.Context, deviceID, commandID string, at time.Time, flags store.FlagPatch) (bool, error) {
	set := bson.M{
		"pending_commands.$.is_executed": true,
		"pending_commands.$.executed_at": at,
		"updated_at":                     s.now(),
	}
	addFlags(set, flags)
	filter := bson.M{
		"_id":              deviceID,
		"pending_commands": bson.M{"$elemMatch": bson.M{"id": commandID, "is_executed": false}},
	}
	res, err := s.devices.UpdateOne(ctx, filter, bson.M{"$set": set, "$inc": bson.M{"version": 1}})
	if err != nil {
		return false, classify("claim command", err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}

	n, err := s.devices.CountDocuments(ctx, bson.M{"_id": deviceID})
	if err != nil {
		return false, classify("claim command", err)
	}
	if n == 0 {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (s *Store) SetFlags(ctx context.Context, deviceID string, flags store.FlagPatch) error {
	if flags.Empty() {
		return nil
	}
	set := bson.M{"updated_at": s.now()}
	addFlags(set, flags)
	update := bson.M{"$set": set, "$inc": bson.M{"version": 1}}
	return s.updateDevice(ctx, "set flags", bson.M{"_id": deviceID}, update)
}

func (s *Store) CommitHeartbeat(ctx context.Context, deviceID string, p store.HeartbeatPatch) error {
	set := bson.M{
		"last_active": p.LastActive,
		"updated_at":  s.now(),
	}
	if p.LastLocation != nil {
		set["last_location"] = p.LastLocation
	}
	if p.BatteryLevel != nil {
		set["battery_level"] = *p.BatteryLevel
	}
	if p.Speed != nil {
		set["speed"] = *p.Speed
	}
	if p.NetworkStatus != nil {
		set["network_status"] = *p.NetworkStatus
	}

	update := bson.M{"$set": set, "$inc": bson.M{"version": 1}}
	return s.updateDevice(ctx, "commit heartbeat", bson.M{"_id": deviceID}, update)
}

// AppendHistory reads the newest entry to dedup, then pushes with $slice.
// Telemetry has one writer per device, so the read and the push do not race each other.
func (s *Store) AppendHistory(ctx context.Context, deviceID string, loc models.DeviceLocation, capacity int) (bool, error) {
	if capacity < 1 {
		capacity = 1
	}

	var last struct {
		History []models.DeviceLocation `bson:"location_history"`
	}
	proj := options.FindOne().SetProjection(bson.M{"location_history": bson.M{"$slice": -1}})
	if err := s.devices.FindOne(ctx, bson.M{"_id": deviceID}, proj).Decode(&last); err != nil {
		return false, classify("append history", err)
	}
	if n := len(last.History); n > 0 && last.History[n-1].SamePosition(loc) {
		return false, nil
	}

	update := bson.M{
		"$push": bson.M{"location_history": bson.M{"$each": []models.DeviceLocation{loc}, "$slice": -capacity}},
		"$set":  bson.M{"updated_at": s.now()},
		"$inc":  bson.M{"version": 1},
	}
	if err := s.updateDevice(ctx, "append history", bson.M{"_id": deviceID}, update); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) updateDevice(ctx context.Context, op string, filter bson.M, update bson.M, opts ...*options.UpdateOptions) error {
	res, err := s.devices.UpdateOne(ctx, filter, update, opts...)
	if err != nil {
		return classify(op, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func addFlags(set bson.M, f store.FlagPatch) {
	if f.Locked != nil {
		set["locked"] = *f.Locked
	}
	if f.Alarming != nil {
		set["alarming"] = *f.Alarming
	}
	if f.PoweredOff != nil {
		set["powered_off"] = *f.PoweredOff
	}
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	if err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&u); err != nil {
		return nil, classify("get user", err)
	}
	return &u, nil
}

// GetUserByEmail expects emails stored lower-cased.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	filter := bson.M{"email": strings.ToLower(strings.TrimSpace(email))}
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, classify("get user by email", err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	c := *u
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if c.LoginHistory == nil {
		c.LoginHistory = []models.LoginEntry{}
	}
	_, err := s.users.InsertOne(ctx, c)
	return classify("create user", err)
}

func (s *Store) ListUsers(ctx context.Context) ([]*models.User, error) {
	cur, err := s.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, classify("list users", err)
	}
	defer cur.Close(ctx)

	var out []*models.User
	for cur.Next(ctx) {
		var u models.User
		if err := cur.Decode(&u); err != nil {
			return nil, classify("decode user", err)
		}
		out = append(out, &u)
	}
	return out, classify("list users", cur.Err())
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{})
	return n, classify("count users", err)
}

func (s *Store) RecordLogin(ctx context.Context, userID string, entry models.LoginEntry, capacity int) error {
	if capacity < 1 {
		capacity = 1
	}
	update := bson.M{
		"$push": bson.M{"login_history": bson.M{"$each": []models.LoginEntry{entry}, "$slice": -capacity}},
	}
	if entry.Status == models.LoginSuccess {
		update["$set"] = bson.M{"last_login": entry.Timestamp}
	}
	return s.updateUser(ctx, "record login", userID, update)
}

func (s *Store) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	return s.updateUser(ctx, "set blocked", userID, bson.M{"$set": bson.M{"blocked": blocked}})
}

func (s *Store) IncrementCommandCount(ctx context.Context, userID string) error {
	return s.updateUser(ctx, "increment commands", userID, bson.M{"$inc": bson.M{"metadata.total_commands_issued": 1}})
}

func (s *Store) updateUser(ctx context.Context, op, userID string, update bson.M) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return classify(op, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteUser removes owned devices first so a failure never leaves orphaned devices behind
// a missing owner.
func (s *Store) DeleteUser(ctx context.Context, userID string) ([]string, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{"_id": userID})
	if err != nil {
		return nil, classify("delete user", err)
	}
	if n == 0 {
		return nil, store.ErrNotFound
	}

	owned, err := s.ListDevicesByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(owned))
	for _, d := range owned {
		ids = append(ids, d.ID)
	}
	if len(ids) > 0 {
		if _, err := s.devices.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
			return nil, classify("delete devices", err)
		}
	}
	if _, err := s.users.DeleteOne(ctx, bson.M{"_id": userID}); err != nil {
		return ids, classify("delete user", err)
	}
	return ids, nil
}
