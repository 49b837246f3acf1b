package app

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/PeladoCollado/cpuload/load"
	"github.com/PeladoCollado/cpuload/server/sessions"
)

const (
	HistoryStoreMemory = "memory"
	HistoryStoreRedis  = "redis"
)

type Config struct {
	ListenPort int

	Iterations         int
	Interval           time.Duration
	Workers            int
	ClampUtilization   bool
	CancelOnDisconnect bool

	MaxSessions           int
	SessionAcquireTimeout time.Duration
	IntenseRPS            float64
	IntenseBurst          int

	HistoryStore  string
	HistorySize   int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
	RedisTTL      time.Duration

	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ListenPort: 8000,

		Iterations:       load.DefaultIterations,
		Interval:         load.DefaultInterval,
		ClampUtilization: true,

		IntenseBurst: 1,

		HistoryStore: HistoryStoreMemory,
		HistorySize:  sessions.DefaultHistorySize,
		RedisKey:     sessions.DefaultRedisKey,
		RedisTTL:     24 * time.Hour,

		ShutdownTimeout: 10 * time.Second,
	}
}

func BindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.ListenPort, "listen-port", cfg.ListenPort, "HTTP listen port (PORT env var is used when the flag is not set)")

	fs.IntVar(&cfg.Iterations, "iterations", cfg.Iterations, "Busy/sleep iterations per load session")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Length of one busy/sleep iteration")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Workers per load session, 0 for one per logical CPU")
	fs.BoolVar(&cfg.ClampUtilization, "clamp-utilization", cfg.ClampUtilization, "Clamp utilization to [0,100]")
	fs.BoolVar(&cfg.CancelOnDisconnect, "cancel-on-disconnect", cfg.CancelOnDisconnect, "Stop a load session when its client disconnects")

	fs.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "Maximum concurrent load sessions, 0 for unlimited")
	fs.DurationVar(&cfg.SessionAcquireTimeout, "session-acquire-timeout", cfg.SessionAcquireTimeout, "How long a load request waits for a session slot, 0 to wait indefinitely")
	fs.Float64Var(&cfg.IntenseRPS, "intense-rps", cfg.IntenseRPS, "Admitted load requests per second, 0 to disable rate limiting")
	fs.IntVar(&cfg.IntenseBurst, "intense-burst", cfg.IntenseBurst, "Load request burst allowed by the rate limiter")

	fs.StringVar(&cfg.HistoryStore, "history-store", cfg.HistoryStore, "Session history store: memory or redis")
	fs.IntVar(&cfg.HistorySize, "history-size", cfg.HistorySize, "Number of finished sessions kept in history")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the redis history store")
	fs.StringVar(&cfg.RedisPassword, "redis-password", cfg.RedisPassword, "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database number")
	fs.StringVar(&cfg.RedisKey, "redis-key", cfg.RedisKey, "Redis list key holding session history")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", cfg.RedisTTL, "Expiry of the session history key, 0 to keep forever")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")
}

func ParseConfig(args []string) (Config, error) {
	cfg := DefaultConfig()
	if port, ok := os.LookupEnv("PORT"); ok && port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.ListenPort = p
	}
	fs := flag.NewFlagSet("cpuload", flag.ContinueOnError)
	BindFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if cfg.ListenPort < 0 || cfg.ListenPort > 65535 {
		return fmt.Errorf("listen-port must be between 0 and 65535")
	}
	if cfg.Iterations <= 0 {
		return fmt.Errorf("iterations must be > 0")
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	if cfg.MaxSessions < 0 {
		return fmt.Errorf("max-sessions must be >= 0")
	}
	if cfg.SessionAcquireTimeout < 0 {
		return fmt.Errorf("session-acquire-timeout must be >= 0")
	}
	if cfg.IntenseRPS < 0 {
		return fmt.Errorf("intense-rps must be >= 0")
	}
	if cfg.IntenseRPS > 0 && cfg.IntenseBurst <= 0 {
		return fmt.Errorf("intense-burst must be > 0 when intense-rps is set")
	}
	if cfg.HistoryStore == "" {
		return fmt.Errorf("history-store is required")
	}
	if cfg.HistorySize <= 0 {
		return fmt.Errorf("history-size must be > 0")
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown-timeout must be > 0")
	}
	return nil
}

func (c Config) LoadConfig() load.Config {
	return load.Config{
		Iterations: c.Iterations,
		Interval:   c.Interval,
		Workers:    c.Workers,
		Clamp:      c.ClampUtilization,
	}
}
