package config

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Refresh  RefreshConfig
	Watcher  WatcherConfig
	Store    StoreConfig
	Display  DisplayConfig
	Mimir    MimirConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type ProviderConfig struct {
	BaseURL    string
	APIVersion int
	Fields     []string
	Limit      int
	Timeout    time.Duration
	RateLimit  float64
	Burst      int
	APIKey     string
}

type RefreshConfig struct {
	Interval     time.Duration
	FetchTimeout time.Duration
}

type WatcherConfig struct {
	PollInterval time.Duration
}

type StoreConfig struct {
	Driver      string
	RedisURL    string
	KeyPrefix   string
	DatabaseURL string
	Sites       []SiteConfig
}

type SiteConfig struct {
	Domain string
	Label  string
	APIKey string
}

type DisplayConfig struct {
	Mode             string
	DefaultTimeRange string
}

type MimirConfig struct {
	URL           string
	TenantHeader  string
	Tenant        string
	BatchSize     int
	FlushInterval time.Duration
	AuthToken     string
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file instead of the search path.
func LoadFile(path string) (*Config, error) {
	// .env is optional; only a malformed file is an error
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("SITESTATS")
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return fromViper(v)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("provider.baseurl", "https://simpleanalytics.com")
	v.SetDefault("provider.apiversion", 6)
	v.SetDefault("provider.fields", []string{"pageviews", "visitors", "seconds_on_page", "pages", "referrers"})
	v.SetDefault("provider.limit", 5)
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("provider.ratelimit", 5.0)
	v.SetDefault("provider.burst", 5)
	v.SetDefault("refresh.interval", "5m")
	v.SetDefault("refresh.fetchtimeout", "15s")
	v.SetDefault("watcher.pollinterval", "2s")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.keyprefix", "sitestats:")
	v.SetDefault("display.mode", "both")
	v.SetDefault("display.defaulttimerange", "today")
	v.SetDefault("mimir.tenantheader", "X-Scope-OrgID")
	v.SetDefault("mimir.tenant", "sitestats")
	v.SetDefault("mimir.batchsize", 1000)
	v.SetDefault("mimir.flushinterval", "10s")
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Store.DatabaseURL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Store.RedisURL = url
	}
	if url := os.Getenv("MIMIR_URL"); url != "" {
		cfg.Mimir.URL = url
	}
	if token := os.Getenv("MIMIR_AUTH_TOKEN"); token != "" {
		cfg.Mimir.AuthToken = token
	}
	if key := os.Getenv("SIMPLE_ANALYTICS_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "redis", "postgres":
	default:
		return errors.New("store.driver must be one of memory, redis, postgres")
	}
	if c.Store.Driver == "redis" && c.Store.RedisURL == "" {
		return errors.New("store.redisurl is required for the redis driver")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return errors.New("store.databaseurl is required for the postgres driver")
	}
	switch c.Display.Mode {
	case "visitors", "pageviews", "both":
	default:
		return errors.New("display.mode must be one of visitors, pageviews, both")
	}
	if c.Watcher.PollInterval <= 0 {
		return errors.New("watcher.pollinterval must be positive")
	}
	if c.Refresh.FetchTimeout <= 0 {
		return errors.New("refresh.fetchtimeout must be positive")
	}
	return nil
}
