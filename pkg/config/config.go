// Package config loads the relay's runtime configuration the way the rest
// of the corpus does it: defaults, then an optional .env file via
// github.com/joho/godotenv, then the process environment, then
// command-line flags — each source overriding the last.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// ServerConfig is the full set of knobs spec.md §6 enumerates, plus the
// concurrency knobs the Rust original left as hardcoded/runtime defaults
// (BatchSize, ShardCount, FanoutWorkers — see SPEC_FULL.md §6).
type ServerConfig struct {
	ListenAddress       string
	MetricsBindAddress  string
	MaxSessions         int
	MaxFanoutPerSession int
	BufferSize          int
	SessionTimeoutSecs  int
	BatchSize           int
	ShardCount          int
	FanoutWorkers       int
	EnableMetrics       bool
}

// Defaults returns the configuration's baseline values, used before any
// env/flag override is applied.
func Defaults() ServerConfig {
	return ServerConfig{
		ListenAddress:       "0.0.0.0:5004",
		MetricsBindAddress:  "0.0.0.0:9090",
		MaxSessions:         10000,
		MaxFanoutPerSession: 1000,
		BufferSize:          65536,
		SessionTimeoutSecs:  300,
		BatchSize:           256,
		ShardCount:          32,
		FanoutWorkers:       1,
		EnableMetrics:       true,
	}
}

// Load builds a ServerConfig from defaults, an optional .env file, the
// process environment (RTPFANOUT_-prefixed), and finally command-line
// flags parsed from args (typically os.Args[1:]). Each source overrides
// the previous one.
func Load(args []string) (ServerConfig, error) {
	cfg := Defaults()

	// A missing .env file is not an error — it's the common case outside
	// of local development.
	_ = godotenv.Load()

	applyEnv(&cfg)

	if err := applyFlags(&cfg, args); err != nil {
		return ServerConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *ServerConfig) {
	cfg.ListenAddress = getEnv("RTPFANOUT_LISTEN_ADDRESS", cfg.ListenAddress)
	cfg.MetricsBindAddress = getEnv("RTPFANOUT_METRICS_BIND_ADDRESS", cfg.MetricsBindAddress)
	cfg.MaxSessions = getEnvInt("RTPFANOUT_MAX_SESSIONS", cfg.MaxSessions)
	cfg.MaxFanoutPerSession = getEnvInt("RTPFANOUT_MAX_FANOUT_PER_SESSION", cfg.MaxFanoutPerSession)
	cfg.BufferSize = getEnvInt("RTPFANOUT_BUFFER_SIZE", cfg.BufferSize)
	cfg.SessionTimeoutSecs = getEnvInt("RTPFANOUT_SESSION_TIMEOUT_SECS", cfg.SessionTimeoutSecs)
	cfg.BatchSize = getEnvInt("RTPFANOUT_BATCH_SIZE", cfg.BatchSize)
	cfg.ShardCount = getEnvInt("RTPFANOUT_SHARD_COUNT", cfg.ShardCount)
	cfg.FanoutWorkers = getEnvInt("RTPFANOUT_FANOUT_WORKERS", cfg.FanoutWorkers)
	cfg.EnableMetrics = getEnvBool("RTPFANOUT_ENABLE_METRICS", cfg.EnableMetrics)
}

func applyFlags(cfg *ServerConfig, args []string) error {
	fs := flag.NewFlagSet("rtpfanout", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddress, "listen-address", cfg.ListenAddress, "UDP address to receive RTP on")
	fs.StringVar(&cfg.MetricsBindAddress, "metrics-bind-address", cfg.MetricsBindAddress, "HTTP address to serve /metrics on")
	fs.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "maximum concurrent sessions")
	fs.IntVar(&cfg.MaxFanoutPerSession, "max-fanout-per-session", cfg.MaxFanoutPerSession, "maximum subscribers per session")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "packet queue capacity")
	fs.IntVar(&cfg.SessionTimeoutSecs, "session-timeout-secs", cfg.SessionTimeoutSecs, "seconds of inactivity before a session expires")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "packets drained per fan-out batch")
	fs.IntVar(&cfg.ShardCount, "shard-count", cfg.ShardCount, "number of registry SSRC-index shards")
	fs.IntVar(&cfg.FanoutWorkers, "fanout-workers", cfg.FanoutWorkers, "number of fan-out worker goroutines")
	fs.BoolVar(&cfg.EnableMetrics, "enable-metrics", cfg.EnableMetrics, "serve Prometheus metrics over HTTP")
	return fs.Parse(args)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Validate rejects configurations that would make the relay unable to
// start or behave nonsensically.
func (c ServerConfig) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("config: max sessions must be positive, got %d", c.MaxSessions)
	}
	if c.MaxFanoutPerSession <= 0 {
		return fmt.Errorf("config: max fanout per session must be positive, got %d", c.MaxFanoutPerSession)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("config: buffer size must be positive, got %d", c.BufferSize)
	}
	if c.SessionTimeoutSecs <= 0 {
		return fmt.Errorf("config: session timeout must be positive, got %d", c.SessionTimeoutSecs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch size must be positive, got %d", c.BatchSize)
	}
	if c.ShardCount <= 0 {
		return fmt.Errorf("config: shard count must be positive, got %d", c.ShardCount)
	}
	if c.FanoutWorkers <= 0 {
		return fmt.Errorf("config: fanout workers must be positive, got %d", c.FanoutWorkers)
	}
	return nil
}
