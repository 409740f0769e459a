package routes

import (
	"github.com/AnshRaj112/safemobile-backend/internal/handlers"
	"github.com/AnshRaj112/safemobile-backend/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

type Options struct {
	Sessions     middleware.SessionResolver
	DeviceTokens middleware.TokenValidator

	// HeartbeatLimiter is keyed by device id, LoginLimiter by client IP.
	HeartbeatLimiter *middleware.KeyedLimiter
	LoginLimiter     *middleware.KeyedLimiter

	// Redis backs the command burst counter; nil disables it.
	Redis              *redis.Client
	CommandBurstPerMin int
}

func SetupRoutes(r chi.Router, h *handlers.Handler, o Options) {
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		if o.LoginLimiter != nil {
			r.Use(middleware.PerIP(o.LoginLimiter))
		}
		r.Post("/api/auth/signup", h.Signup)
		r.Post("/api/auth/signin", h.Signin)
	})

	// Handset heartbeat
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireDevice(o.DeviceTokens))
		if o.HeartbeatLimiter != nil {
			r.Use(middleware.PerDevice(o.HeartbeatLimiter))
		}
		r.Post("/api/device/heartbeat", h.Heartbeat)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(o.Sessions))

		r.Post("/api/devices", h.RegisterDevice)
		r.Get("/api/devices", h.ListDevices)
		r.Get("/api/devices/{id}", h.GetDevice)
		r.Get("/api/devices/{id}/history", h.DeviceHistory)
		r.With(middleware.CommandBurst(o.Redis, o.CommandBurstPerMin)).
			Post("/api/devices/{id}/commands", h.SendCommand)
		r.Put("/api/devices/{id}/power", h.SetPower)

		r.Get("/ws/devices/{id}", h.DeviceFeed)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/fleet", h.FleetOverview)
			r.Get("/audit-logs", h.AuditLogs)
			r.Get("/users/{id}", h.GetUser)
			r.Put("/users/{id}/block", h.BlockUser)
			r.Put("/users/{id}/unblock", h.UnblockUser)
			r.Delete("/users/{id}", h.DeleteUser)
			r.Post("/export", h.Export)
		})
	})
}
