package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/location"
)

type Config struct {
	MongoURI       string
	PostgresURI    string
	RedisURI       string
	DeviceSecret   string // signs device heartbeat tokens
	Port           string
	FrontendURL    string
	AllowedOrigins []string // CORS: from ALLOWED_ORIGINS or FRONTEND_URL(s)
	Environment    string   // ENV: production, development, etc.

	CloudinaryName      string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	ExportFolder        string

	// Engine knobs.
	HeartbeatPeriod      time.Duration
	FixTimeout           time.Duration
	AccuracyThreshold    float64 // meters
	HistoryCapacity      int
	ActivityWindow       time.Duration
	GeofenceBounds       *location.Bounds
	LoginHistoryCapacity int
	MaxDevices           int // in-memory store only; 0 means unlimited

	// Rate limits.
	HeartbeatRatePerSec float64
	CommandBurstPerMin  int

	// First administrator, created at startup when the email is not registered yet.
	AdminEmail    string
	AdminPassword string

	Agent AgentConfig

	errs []error
}

// AgentConfig drives cmd/agent, which heartbeats one device from a fixed position.
type AgentConfig struct {
	DeviceID string
	Lat, Lng float64
	Accuracy float64
	Jitter   float64
	Battery  int
	Network  string
}

func Load() *Config {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))

	allowedOrigins := parseOrigins(getEnv("ALLOWED_ORIGINS", ""))
	if len(allowedOrigins) == 0 {
		for _, u := range []string{getEnv("FRONTEND_URL", "http://localhost:3000"), getEnv("FRONTEND_URL_2", "")} {
			if u = strings.TrimSpace(u); u != "" {
				allowedOrigins = append(allowedOrigins, u)
			}
		}
	}

	c := &Config{
		MongoURI:            getEnv("MONGODB_URI", getEnv("MONGO_URI", "")),
		PostgresURI:         getEnv("POSTGRES_URI", ""),
		RedisURI:            getEnv("REDIS_URI", ""),
		DeviceSecret:        getEnv("DEVICE_TOKEN_SECRET", getEnv("JWT_SECRET", "dev-device-secret-change-in-production")),
		Port:                getEnv("PORT", "8080"),
		FrontendURL:         getEnv("FRONTEND_URL", "http://localhost:3000"),
		AllowedOrigins:      allowedOrigins,
		Environment:         env,
		CloudinaryName:      getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		ExportFolder:        getEnv("EXPORT_FOLDER", "safemobile/exports"),
	}

	c.HeartbeatPeriod = c.envDuration("HEARTBEAT_PERIOD", 15*time.Second)
	c.FixTimeout = c.envDuration("FIX_TIMEOUT", 8*time.Second)
	c.AccuracyThreshold = c.envFloat("ACCURACY_THRESHOLD_M", location.DefaultThreshold)
	c.HistoryCapacity = c.envInt("HISTORY_CAPACITY", 500)
	c.ActivityWindow = c.envDuration("ACTIVITY_WINDOW", 5*time.Minute)
	c.LoginHistoryCapacity = c.envInt("LOGIN_HISTORY_CAPACITY", 50)
	c.MaxDevices = c.envInt("MAX_DEVICES", 0)
	c.HeartbeatRatePerSec = c.envFloat("HEARTBEAT_RATE_PER_SEC", 1)
	c.CommandBurstPerMin = c.envInt("COMMAND_BURST_PER_MIN", 30)

	c.AdminEmail = getEnv("ADMIN_EMAIL", "")
	c.AdminPassword = getEnv("ADMIN_PASSWORD", "")

	c.Agent = AgentConfig{
		DeviceID: getEnv("AGENT_DEVICE_ID", ""),
		Lat:      c.envFloat("AGENT_LAT", 12.9716),
		Lng:      c.envFloat("AGENT_LNG", 77.5946),
		Accuracy: c.envFloat("AGENT_ACCURACY_M", 12),
		Jitter:   c.envFloat("AGENT_JITTER_DEG", 0.0005),
		Battery:  c.envInt("AGENT_BATTERY", 100),
		Network:  getEnv("AGENT_NETWORK", "wifi"),
	}

	bounds, err := location.ParseBounds(getEnv("GEOFENCE_BOUNDS", ""))
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("GEOFENCE_BOUNDS: %w", err))
	}
	c.GeofenceBounds = bounds

	return c
}

// Validate reports every unparsable or out-of-range knob at once.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.errs...)
	if c.HeartbeatPeriod <= 0 {
		errs = append(errs, errors.New("HEARTBEAT_PERIOD must be positive"))
	}
	if c.FixTimeout <= 0 {
		errs = append(errs, errors.New("FIX_TIMEOUT must be positive"))
	}
	if !(c.AccuracyThreshold > 0) || !finite(c.AccuracyThreshold) {
		errs = append(errs, errors.New("ACCURACY_THRESHOLD_M must be positive"))
	}
	if c.HistoryCapacity < 1 || c.HistoryCapacity > 10000 {
		errs = append(errs, fmt.Errorf("HISTORY_CAPACITY %d out of range 1..10000", c.HistoryCapacity))
	}
	if c.ActivityWindow <= 0 {
		errs = append(errs, errors.New("ACTIVITY_WINDOW must be positive"))
	}
	if c.LoginHistoryCapacity < 1 {
		errs = append(errs, errors.New("LOGIN_HISTORY_CAPACITY must be at least 1"))
	}
	if !(c.HeartbeatRatePerSec > 0) || !finite(c.HeartbeatRatePerSec) || c.CommandBurstPerMin < 1 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together"))
	}
	if c.IsProduction() && strings.HasPrefix(c.DeviceSecret, "dev-") {
		errs = append(errs, errors.New("DEVICE_TOKEN_SECRET must be set in production"))
	}
	return errors.Join(errs...)
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// CloudinaryEnabled is true when all three Cloudinary credentials are present.
func (c *Config) CloudinaryEnabled() bool {
	return c.CloudinaryName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

func (c *Config) envDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (c *Config) envInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (c *Config) envFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	if !finite(f) {
		c.errs = append(c.errs, fmt.Errorf("%s: %q is not a finite number", key, v))
		return def
	}
	return f
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
