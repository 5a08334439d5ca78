// Package config loads the director's INI configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientAbortAction names what happens to an in-flight upstream call when
// the client disconnects before a response is ready.
type ClientAbortAction string

const (
	AbortIgnore ClientAbortAction = "ignore"
	AbortClose  ClientAbortAction = "close"
	AbortNotify ClientAbortAction = "notify"
)

// ParseClientAbortAction parses the on-client-abort config value.
func ParseClientAbortAction(s string) (ClientAbortAction, error) {
	switch ClientAbortAction(strings.ToLower(s)) {
	case AbortIgnore, "":
		return AbortIgnore, nil
	case AbortClose:
		return AbortClose, nil
	case AbortNotify:
		return AbortNotify, nil
	default:
		return "", fmt.Errorf("invalid on-client-abort value %q", s)
	}
}

// SchedulerName selects a BackendPool selection policy.
type SchedulerName string

const (
	SchedulerRoundRobin SchedulerName = "rr"
	SchedulerChance     SchedulerName = "chance"
)

// Director holds the [director] section.
type Director struct {
	Enabled               bool          `mapstructure:"enabled"`
	QueueLimit            int           `mapstructure:"queue-limit"`
	QueueTimeout          time.Duration `mapstructure:"queue-timeout"`
	OnClientAbort         string        `mapstructure:"on-client-abort"`
	RetryAfter            time.Duration `mapstructure:"retry-after"`
	ConnectTimeout        time.Duration `mapstructure:"connect-timeout"`
	ReadTimeout           time.Duration `mapstructure:"read-timeout"`
	WriteTimeout          time.Duration `mapstructure:"write-timeout"`
	MaxRetryCount         int           `mapstructure:"max-retry-count"`
	StickyOfflineMode     bool          `mapstructure:"sticky-offline-mode"`
	AllowXSendfile        bool          `mapstructure:"allow-x-sendfile"`
	EnqueueOnUnavailable  bool          `mapstructure:"enqueue-on-unavailable"`
	HealthCheckHostHeader string        `mapstructure:"health-check-host-header"`
	HealthCheckReqPath    string        `mapstructure:"health-check-request-path"`
	HealthCheckFcgiScript string        `mapstructure:"health-check-fcgi-script-filename"`
	Scheduler             string        `mapstructure:"scheduler"`
}

// Bucket holds one [bucket=NAME] section.
type Bucket struct {
	Name   string  `mapstructure:"-"`
	Parent string  `mapstructure:"parent"`
	Rate   float64 `mapstructure:"rate"`
	Ceil   float64 `mapstructure:"ceil"`
}

// Backend holds one [backend=NAME] section.
type Backend struct {
	Name                string        `mapstructure:"-"`
	Role                string        `mapstructure:"role"`
	Capacity            int           `mapstructure:"capacity"`
	Protocol            string        `mapstructure:"protocol"`
	Enabled             bool          `mapstructure:"enabled"`
	HealthCheckInterval time.Duration `mapstructure:"health-check-interval"`
	HealthCheckMode     string        `mapstructure:"health-check-mode"`
	Path                string        `mapstructure:"path"`
	Host                string        `mapstructure:"host"`
	Port                int           `mapstructure:"port"`
}

// Cache holds the optional [cache] section.
type Cache struct {
	Enabled         bool          `mapstructure:"enabled"`
	LockOnUpdate    bool          `mapstructure:"lock-on-update"`
	DefaultTTL      time.Duration `mapstructure:"default-ttl"`
	MaxObjectSize   int64         `mapstructure:"max-object-size"`
	CompressMinSize int64         `mapstructure:"compress-min-size"`
	NoCachePaths    []string      `mapstructure:"no-cache-paths"`
	Backend         string        `mapstructure:"backend"`
	RedisAddr       string        `mapstructure:"redis-addr"`
}

// Observability mirrors the ambient metrics/logging/tracing knobs.
type Observability struct {
	MetricsPort int     `mapstructure:"metrics-port"`
	LogLevel    string  `mapstructure:"log-level"`
	LogFile     string  `mapstructure:"log-file"`
	Tracing     Tracing `mapstructure:"tracing"`
}

type Tracing struct {
	Enabled          bool    `mapstructure:"enabled"`
	Endpoint         string  `mapstructure:"endpoint"`
	Environment      string  `mapstructure:"environment"`
	SamplingStrategy string  `mapstructure:"sampling-strategy"`
	SamplingRate     float64 `mapstructure:"sampling-rate"`
}

// Config is the fully parsed director configuration for one cluster.
type Config struct {
	Director      Director           `mapstructure:"director"`
	Cache         Cache              `mapstructure:"cache"`
	Observability Observability      `mapstructure:"observability"`
	Buckets       map[string]Bucket  `mapstructure:"bucket"`
	Backends      map[string]Backend `mapstructure:"backend"`
}

func defaultConfig() *Config {
	return &Config{
		Director: Director{
			Enabled:              true,
			QueueLimit:           100,
			QueueTimeout:         10 * time.Second,
			OnClientAbort:        "ignore",
			RetryAfter:           0,
			ConnectTimeout:       5 * time.Second,
			ReadTimeout:          30 * time.Second,
			WriteTimeout:         30 * time.Second,
			MaxRetryCount:        3,
			StickyOfflineMode:    false,
			AllowXSendfile:       false,
			EnqueueOnUnavailable: true,
			Scheduler:            "rr",
		},
		Cache: Cache{
			Enabled:         false,
			LockOnUpdate:    true,
			DefaultTTL:      60 * time.Second,
			MaxObjectSize:   8 << 20,
			CompressMinSize: 4 << 10,
			Backend:         "memory",
		},
		Observability: Observability{
			MetricsPort: 9191,
			LogLevel:    "info",
		},
		Buckets:  map[string]Bucket{},
		Backends: map[string]Backend{},
	}
}

// Load reads configuration from an INI file and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("director.enabled", def.Director.Enabled)
	v.SetDefault("director.queue-limit", def.Director.QueueLimit)
	v.SetDefault("director.queue-timeout", def.Director.QueueTimeout)
	v.SetDefault("director.on-client-abort", def.Director.OnClientAbort)
	v.SetDefault("director.retry-after", def.Director.RetryAfter)
	v.SetDefault("director.connect-timeout", def.Director.ConnectTimeout)
	v.SetDefault("director.read-timeout", def.Director.ReadTimeout)
	v.SetDefault("director.write-timeout", def.Director.WriteTimeout)
	v.SetDefault("director.max-retry-count", def.Director.MaxRetryCount)
	v.SetDefault("director.sticky-offline-mode", def.Director.StickyOfflineMode)
	v.SetDefault("director.allow-x-sendfile", def.Director.AllowXSendfile)
	v.SetDefault("director.enqueue-on-unavailable", def.Director.EnqueueOnUnavailable)
	v.SetDefault("director.scheduler", def.Director.Scheduler)

	v.SetDefault("cache.enabled", def.Cache.Enabled)
	v.SetDefault("cache.lock-on-update", def.Cache.LockOnUpdate)
	v.SetDefault("cache.default-ttl", def.Cache.DefaultTTL)
	v.SetDefault("cache.max-object-size", def.Cache.MaxObjectSize)
	v.SetDefault("cache.compress-min-size", def.Cache.CompressMinSize)
	v.SetDefault("cache.backend", def.Cache.Backend)

	v.SetDefault("observability.metrics-port", def.Observability.MetricsPort)
	v.SetDefault("observability.log-level", def.Observability.LogLevel)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Buckets == nil {
		cfg.Buckets = map[string]Bucket{}
	}
	if cfg.Backends == nil {
		cfg.Backends = map[string]Backend{}
	}
	for name, b := range cfg.Backends {
		b.Name = name
		cfg.Backends[name] = b
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Director.QueueLimit < 0 {
		return fmt.Errorf("director.queue-limit must be >= 0")
	}
	if cfg.Director.MaxRetryCount < 0 {
		return fmt.Errorf("director.max-retry-count must be >= 0")
	}
	if _, err := ParseClientAbortAction(cfg.Director.OnClientAbort); err != nil {
		return err
	}
	switch SchedulerName(cfg.Director.Scheduler) {
	case SchedulerRoundRobin, SchedulerChance, "":
	default:
		return fmt.Errorf("director.scheduler must be rr or chance, got %q", cfg.Director.Scheduler)
	}
	for name, b := range cfg.Backends {
		if b.Capacity < 0 {
			return fmt.Errorf("backend %q: capacity must be >= 0", name)
		}
		switch b.Protocol {
		case "http", "fastcgi":
		default:
			return fmt.Errorf("backend %q: protocol must be http or fastcgi, got %q", name, b.Protocol)
		}
		if b.Path == "" && (b.Host == "" || b.Port == 0) {
			return fmt.Errorf("backend %q: requires path= or host=+port=", name)
		}
	}
	for name, bucket := range cfg.Buckets {
		if bucket.Ceil < bucket.Rate && bucket.Ceil != 0 {
			return fmt.Errorf("bucket %q: ceil must be >= rate", name)
		}
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics-port must be 1..65535")
	}
	return nil
}
