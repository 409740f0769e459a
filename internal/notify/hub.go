package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const subscriberBuffer = 16

// Hub fans events out to local subscribers keyed by device id. A subscriber whose buffer
// is full misses the event; Deliver never blocks.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Event
	nextID int

	delivered atomic.Uint64
	dropped   atomic.Uint64

	startOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Event)}
}

// Subscribe returns a channel of events for deviceID and a cancel func that closes it.
func (h *Hub) Subscribe(deviceID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[deviceID] == nil {
		h.subs[deviceID] = make(map[int]chan Event)
	}
	h.subs[deviceID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[deviceID], id)
			if len(h.subs[deviceID]) == 0 {
				delete(h.subs, deviceID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Deliver(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[e.DeviceID] {
		select {
		case ch <- e:
			h.delivered.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

// Stats reports delivered and dropped counts since start.
func (h *Hub) Stats() (delivered, dropped uint64) {
	return h.delivered.Load(), h.dropped.Load()
}

// StartSubscriber ensures a single shared Redis listener per instance.
func (h *Hub) StartSubscriber(ctx context.Context, client *redis.Client) {
	if client == nil {
		log.Println("notify: Redis client not initialized; device subscriber not started")
		return
	}
	h.startOnce.Do(func() {
		go h.runSubscriber(ctx, client)
	})
}

func (h *Hub) runSubscriber(ctx context.Context, client *redis.Client) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			pubsub := client.PSubscribe(ctx, channelPattern)
			defer pubsub.Close()

			log.Printf("✅ Device event subscriber started (pattern: %s)", channelPattern)

			for {
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("notify: subscriber error: %v", err)
					time.Sleep(backoff)
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
					return
				}
				backoff = time.Second

				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					log.Printf("notify: bad event payload: %v", err)
					continue
				}
				if e.DeviceID == "" {
					e.DeviceID, _ = deviceFromChannel(msg.Channel)
				}
				h.Deliver(e)
			}
		}()
	}
}
