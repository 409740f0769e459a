package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/internal/store"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultCapacity = 500
	MaxCapacity     = 10000

	recentKeyPrefix = "device:"
	recentKeySuffix = ":track"
	recentMaxLen    = 100
	recentTTL       = 1 * time.Hour
)

// TrackCache keeps the newest fixes per device for the live map.
type TrackCache interface {
	Push(ctx context.Context, deviceID string, loc models.DeviceLocation) error
	// Recent returns up to n fixes oldest-first; ok is false on a miss.
	Recent(ctx context.Context, deviceID string, n int) (locs []models.DeviceLocation, ok bool, err error)
}

// Recorder appends accepted fixes to a device's bounded history.
type Recorder struct {
	store    store.DeviceStore
	cache    TrackCache
	capacity int
}

// NewRecorder fails for capacities outside 1..MaxCapacity. cache may be nil.
func NewRecorder(s store.DeviceStore, capacity int, cache TrackCache) (*Recorder, error) {
	if capacity < 1 || capacity > MaxCapacity {
		return nil, fmt.Errorf("history capacity %d out of range 1..%d", capacity, MaxCapacity)
	}
	return &Recorder{store: s, cache: cache, capacity: capacity}, nil
}

func (r *Recorder) Capacity() int { return r.capacity }

// Append reports whether history grew. A repeat of the last position is a no-op.
func (r *Recorder) Append(ctx context.Context, deviceID string, loc models.DeviceLocation) (bool, error) {
	grew, err := r.store.AppendHistory(ctx, deviceID, loc, r.capacity)
	if err != nil {
		return false, fmt.Errorf("append history %s: %w", deviceID, err)
	}
	if grew && r.cache != nil {
		if err := r.cache.Push(ctx, deviceID, loc); err != nil {
			log.Printf("history: track cache push failed for %s: %v", deviceID, err)
		}
	}
	return grew, nil
}

// Recent returns the newest n fixes oldest-first, from the cache when it has them.
func (r *Recorder) Recent(ctx context.Context, deviceID string, n int) ([]models.DeviceLocation, error) {
	if n <= 0 || n > r.capacity {
		n = r.capacity
	}
	if r.cache != nil {
		locs, ok, err := r.cache.Recent(ctx, deviceID, n)
		if err != nil {
			log.Printf("history: track cache read failed for %s: %v", deviceID, err)
		}
		if ok && len(locs) >= n {
			return locs, nil
		}
	}

	d, err := r.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	h := d.LocationHistory
	if len(h) > n {
		h = h[len(h)-n:]
	}
	return h, nil
}

// Forget drops the cached track of a removed device when the cache supports it.
func (r *Recorder) Forget(ctx context.Context, deviceID string) {
	f, ok := r.cache.(interface {
		Forget(ctx context.Context, deviceID string) error
	})
	if !ok {
		return
	}
	if err := f.Forget(ctx, deviceID); err != nil {
		log.Printf("history: track cache forget failed for %s: %v", deviceID, err)
	}
}

// RedisTrackCache is a capped Redis list per device, newest at head.
type RedisTrackCache struct {
	client *redis.Client
}

func NewRedisTrackCache(client *redis.Client) *RedisTrackCache {
	return &RedisTrackCache{client: client}
}

func trackKey(deviceID string) string {
	return recentKeyPrefix + deviceID + recentKeySuffix
}

func (c *RedisTrackCache) Push(ctx context.Context, deviceID string, loc models.DeviceLocation) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	key := trackKey(deviceID)
	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, recentMaxLen-1)
	pipe.Expire(ctx, key, recentTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisTrackCache) Recent(ctx context.Context, deviceID string, n int) ([]models.DeviceLocation, bool, error) {
	if n > recentMaxLen {
		return nil, false, nil
	}
	raw, err := c.client.LRange(ctx, trackKey(deviceID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	locs := make([]models.DeviceLocation, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var l models.DeviceLocation
		if json.Unmarshal([]byte(raw[i]), &l) != nil {
			continue
		}
		locs = append(locs, l)
	}
	return locs, true, nil
}

// Forget drops the cached track, used when a device is removed.
func (c *RedisTrackCache) Forget(ctx context.Context, deviceID string) error {
	return c.client.Del(ctx, trackKey(deviceID)).Err()
}
