// Command agent heartbeats one device straight against the record store, standing in for a
// handset. Queued commands wake it immediately when Redis carries device events.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/safemobile-backend/internal/config"
	"github.com/AnshRaj112/safemobile-backend/internal/database"
	"github.com/AnshRaj112/safemobile-backend/internal/heartbeat"
	"github.com/AnshRaj112/safemobile-backend/internal/history"
	"github.com/AnshRaj112/safemobile-backend/internal/models"
	"github.com/AnshRaj112/safemobile-backend/internal/notify"
	"github.com/AnshRaj112/safemobile-backend/internal/store/mongostore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration:\n%v", err)
	}
	if cfg.Agent.DeviceID == "" {
		log.Fatal("AGENT_DEVICE_ID is required")
	}
	if cfg.MongoURI == "" {
		log.Fatal("MONGODB_URI is required: the agent shares the server's record store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, db, err := database.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer database.DisconnectMongo(client)
	st := mongostore.New(db)

	var (
		rdb       *redis.Client
		publisher notify.Publisher = notify.NopPublisher{}
		track     history.TrackCache
		wake      <-chan struct{}
	)
	if cfg.RedisURI != "" {
		rdb, err = database.ConnectRedis(ctx, cfg.RedisURI)
		if err != nil {
			log.Fatal("Failed to connect to Redis:", err)
		}
		defer rdb.Close()
		publisher = notify.NewRedisPublisher(rdb)
		track = history.NewRedisTrackCache(rdb)

		hub := notify.NewHub()
		hub.StartSubscriber(ctx, rdb)
		events, cancel := hub.Subscribe(cfg.Agent.DeviceID)
		defer cancel()
		wake = commandWakeups(ctx, events)
		log.Println("✅ Listening for queued commands")
	}

	recorder, err := history.NewRecorder(st, cfg.HistoryCapacity, track)
	if err != nil {
		log.Fatal(err)
	}
	fixes := &heartbeat.StaticFixSource{
		Lat:      cfg.Agent.Lat,
		Lng:      cfg.Agent.Lng,
		Accuracy: cfg.Agent.Accuracy,
		Jitter:   cfg.Agent.Jitter,
		Battery:  cfg.Agent.Battery,
		Network:  models.NetworkStatus(cfg.Agent.Network),
	}
	processor, err := heartbeat.NewProcessor(heartbeat.Options{
		Store:      st,
		Recorder:   recorder,
		FixSource:  fixes,
		Actuator:   heartbeat.LogActuator{},
		Notifier:   publisher,
		Threshold:  cfg.AccuracyThreshold,
		Bounds:     cfg.GeofenceBounds,
		FixTimeout: cfg.FixTimeout,
	})
	if err != nil {
		log.Fatal(err)
	}

	err = processor.Run(ctx, cfg.Agent.DeviceID, cfg.HeartbeatPeriod, wake)
	s := processor.Stats()
	log.Printf("Agent stopped: %d ticks, %d commits, %d commands run, %d failures", s.Ticks, s.Commits, s.Drains, s.Failures)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

// commandWakeups turns command_enqueued events into non-blocking wake signals.
func commandWakeups(ctx context.Context, events <-chan notify.Event) <-chan struct{} {
	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type != notify.EventCommandEnqueued {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()
	return wake
}
