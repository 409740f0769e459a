package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/safemobile-backend/internal/audit"
	"github.com/AnshRaj112/safemobile-backend/internal/commands"
	"github.com/AnshRaj112/safemobile-backend/internal/config"
	"github.com/AnshRaj112/safemobile-backend/internal/database"
	"github.com/AnshRaj112/safemobile-backend/internal/devicetoken"
	"github.com/AnshRaj112/safemobile-backend/internal/export"
	"github.com/AnshRaj112/safemobile-backend/internal/fleet"
	"github.com/AnshRaj112/safemobile-backend/internal/handlers"
	"github.com/AnshRaj112/safemobile-backend/internal/heartbeat"
	"github.com/AnshRaj112/safemobile-backend/internal/history"
	"github.com/AnshRaj112/safemobile-backend/internal/identity"
	"github.com/AnshRaj112/safemobile-backend/internal/middleware"
	"github.com/AnshRaj112/safemobile-backend/internal/notify"
	"github.com/AnshRaj112/safemobile-backend/internal/routes"
	"github.com/AnshRaj112/safemobile-backend/internal/store"
	"github.com/AnshRaj112/safemobile-backend/internal/store/memstore"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Record store
	var st store.Store
	if cfg.MongoURI != "" {
		log.Printf("Connecting to MongoDB...")
		client, db, err := database.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			log.Fatal("Failed to connect to MongoDB:", err)
		}
		defer database.DisconnectMongo(client)
		ms := mongostore.New(db)
		if err := ms.EnsureIndexes(ctx); err != nil {
			log.Printf("⚠️  WARNING: failed to ensure MongoDB indexes: %v", err)
		} else {
			log.Println("✅ MongoDB indexes ensured")
		}
		st = ms
	} else {
		log.Println("⚠️  MONGODB_URI not set, using the in-memory store (data is lost on restart)")
		st = memstore.New(memstore.WithMaxDevices(cfg.MaxDevices))
	}

	// Audit trail
	var auditRepo audit.Repository
	if cfg.PostgresURI != "" {
		log.Printf("Connecting to PostgreSQL...")
		pg, err := database.ConnectPostgres(ctx, cfg.PostgresURI, audit.Schema)
		if err != nil {
			log.Fatal("Failed to connect to PostgreSQL:", err)
		}
		defer closeQuietly(pg)
		auditRepo = audit.NewPostgresRepository(pg)
	} else {
		log.Println("⚠️  POSTGRES_URI not set, audit logs are kept in memory")
		auditRepo = audit.NewMemoryRepository()
	}
	auditLog := audit.NewLogger(auditRepo)

	// Sessions, device events and the track cache
	hub := notify.NewHub()
	var (
		rdb       *redis.Client
		sessions  identity.Sessions
		publisher notify.Publisher
		track     history.TrackCache
	)
	if cfg.RedisURI != "" {
		log.Printf("Connecting to Redis...")
		var err error
		rdb, err = database.ConnectRedis(ctx, cfg.RedisURI)
		if err != nil {
			log.Fatal("Failed to connect to Redis:", err)
		}
		defer rdb.Close()
		sessions = identity.NewRedisSessions(rdb)
		publisher = notify.NewRedisPublisher(rdb)
		track = history.NewRedisTrackCache(rdb)
		hub.StartSubscriber(ctx, rdb)
		log.Println("✅ Device event subscriber started")
	} else {
		log.Println("⚠️  REDIS_URI not set, sessions and device events stay in this process")
		sessions = identity.NewMemorySessions()
		publisher = notify.LocalPublisher{Hub: hub}
	}

	var uploader export.Uploader
	if cfg.CloudinaryEnabled() {
		up, err := export.NewCloudinaryUploader(cfg.CloudinaryName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.ExportFolder)
		if err != nil {
			log.Printf("⚠️  WARNING: failed to initialize Cloudinary: %v", err)
		} else {
			uploader = up
			log.Println("✅ Cloudinary export uploads enabled")
		}
	} else {
		log.Println("Cloudinary credentials not found, exports are returned inline")
	}

	tokens, err := devicetoken.NewIssuer(cfg.DeviceSecret, 0)
	if err != nil {
		log.Fatal("Invalid device token secret:", err)
	}
	ident := identity.NewService(identity.Options{
		Store:                st,
		Audit:                auditLog,
		Sessions:             sessions,
		Tokens:               tokens,
		Publisher:            publisher,
		LoginHistoryCapacity: cfg.LoginHistoryCapacity,
	})
	if cfg.AdminEmail != "" {
		created, err := ident.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
		switch {
		case err != nil:
			log.Printf("⚠️  WARNING: failed to create bootstrap admin: %v", err)
		case created:
			log.Printf("✅ Bootstrap admin %s created", cfg.AdminEmail)
		}
	}

	recorder, err := history.NewRecorder(st, cfg.HistoryCapacity, track)
	if err != nil {
		log.Fatal(err)
	}
	processor, err := heartbeat.NewProcessor(heartbeat.Options{
		Store:      st,
		Recorder:   recorder,
		Notifier:   publisher,
		Threshold:  cfg.AccuracyThreshold,
		Bounds:     cfg.GeofenceBounds,
		FixTimeout: cfg.FixTimeout,
	})
	if err != nil {
		log.Fatal(err)
	}
	if cfg.GeofenceBounds != nil {
		log.Printf("Service region: %s", cfg.GeofenceBounds)
	}

	h := &handlers.Handler{
		Store:     st,
		Identity:  ident,
		Commands:  commands.NewDispatcher(st, auditLog, publisher),
		Recorder:  recorder,
		Processor: processor,
		Fleet:     fleet.NewAggregator(st, cfg.ActivityWindow),
		Audit:     auditLog,
		Exporter:  export.NewExporter(st, auditLog, uploader),
		Hub:       hub,
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	if cfg.IsProduction() {
		r.Use(middleware.SecurityHeaders)
		log.Println("✅ Production security headers enabled")
	}
	routes.SetupRoutes(r, h, routes.Options{
		Sessions:           ident,
		DeviceTokens:       tokens,
		HeartbeatLimiter:   middleware.NewKeyedLimiter(cfg.HeartbeatRatePerSec, 3),
		LoginLimiter:       middleware.NewKeyedLimiter(0.2, 5),
		Redis:              rdb,
		CommandBurstPerMin: cfg.CommandBurstPerMin,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️  shutdown: %v", err)
		}
	}()

	log.Printf("🚀 SafeMobile backend running on :%s (%s)", cfg.Port, strings.ToUpper(cfg.Environment))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Failed to start server:", err)
	}
	log.Println("Server stopped")
}

func closeQuietly(db *sql.DB) {
	if err := db.Close(); err != nil {
		log.Printf("⚠️  closing PostgreSQL: %v", err)
	}
}
