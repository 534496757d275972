// README: Config loader with env defaults for HTTP, DB, bus, sweeper and logging settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Bus selects what backs event fan-out between processes.
type Bus string

const (
	BusMemory Bus = "memory"
	BusRedis  Bus = "redis"
	BusNATS   Bus = "nats"
)

type SweepConfig struct {
	Interval  time.Duration
	Threshold time.Duration
}

type Config struct {
	HTTP struct {
		Addr string
	}
	DB struct {
		// DSN empty means the in-memory store.
		DSN string
	}
	Redis struct {
		Addr    string
		Channel string
	}
	NATS struct {
		URL     string
		Subject string
	}
	Bus              Bus
	SubscriberBuffer int
	Sweep            SweepConfig
	Log              struct {
		Level  string
		Format string
	}
}

// Load reads FLOOR_* variables, after a .env file in the working directory
// when there is one.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	cfg.HTTP.Addr = envOrDefault("FLOOR_HTTP_ADDR", ":8080")
	cfg.DB.DSN = os.Getenv("FLOOR_DB_DSN")
	cfg.Redis.Addr = envOrDefault("FLOOR_REDIS_ADDR", "localhost:6379")
	cfg.Redis.Channel = envOrDefault("FLOOR_REDIS_CHANNEL", "floortwin:events")
	cfg.NATS.URL = envOrDefault("FLOOR_NATS_URL", "nats://localhost:4222")
	cfg.NATS.Subject = envOrDefault("FLOOR_NATS_SUBJECT", "floortwin.events")
	cfg.Bus = Bus(strings.ToLower(envOrDefault("FLOOR_BUS", string(BusMemory))))
	cfg.SubscriberBuffer = envOrDefaultInt("FLOOR_SUBSCRIBER_BUFFER", 64)
	cfg.Sweep.Interval = envOrDefaultDuration("FLOOR_SWEEP_INTERVAL", time.Minute)
	cfg.Sweep.Threshold = envOrDefaultDuration("FLOOR_WAIT_THRESHOLD", 15*time.Minute)
	cfg.Log.Level = envOrDefault("FLOOR_LOG_LEVEL", "info")
	cfg.Log.Format = envOrDefault("FLOOR_LOG_FORMAT", "text")

	switch cfg.Bus {
	case BusMemory, BusRedis, BusNATS:
	default:
		return cfg, fmt.Errorf("FLOOR_BUS: unknown bus %q", cfg.Bus)
	}
	if cfg.SubscriberBuffer <= 0 {
		return cfg, fmt.Errorf("FLOOR_SUBSCRIBER_BUFFER must be positive, got %d", cfg.SubscriberBuffer)
	}
	if cfg.Sweep.Threshold <= 0 {
		return cfg, fmt.Errorf("FLOOR_WAIT_THRESHOLD must be positive, got %s", cfg.Sweep.Threshold)
	}
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// envOrDefaultDuration accepts Go durations ("90s") or plain minutes ("15").
func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Minute
	}
	return def
}
