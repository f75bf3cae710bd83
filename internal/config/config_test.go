package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	SetDefaults(v)
	if yaml != "" {
		require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	}
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := fromViper(newViper(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "https://simpleanalytics.com", cfg.Provider.BaseURL)
	assert.Equal(t, 6, cfg.Provider.APIVersion)
	assert.Equal(t, []string{"pageviews", "visitors", "seconds_on_page", "pages", "referrers"}, cfg.Provider.Fields)
	assert.Equal(t, 5, cfg.Provider.Limit)
	assert.Equal(t, 2*time.Second, cfg.Watcher.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.Refresh.FetchTimeout)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "both", cfg.Display.Mode)
	assert.Equal(t, "today", cfg.Display.DefaultTimeRange)
}

func TestSeedSitesFromYAML(t *testing.T) {
	cfg, err := fromViper(newViper(t, `
store:
  driver: memory
  sites:
    - domain: example.com
      label: Example
    - domain: blog.example.com
      apikey: sa_key
watcher:
  pollinterval: 500ms
`))
	require.NoError(t, err)

	require.Len(t, cfg.Store.Sites, 2)
	assert.Equal(t, "example.com", cfg.Store.Sites[0].Domain)
	assert.Equal(t, "Example", cfg.Store.Sites[0].Label)
	assert.Equal(t, "sa_key", cfg.Store.Sites[1].APIKey)
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.PollInterval)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("SIMPLE_ANALYTICS_API_KEY", "sa_env")

	cfg, err := fromViper(newViper(t, "store:\n  driver: redis\n"))
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/1", cfg.Store.RedisURL)
	assert.Equal(t, "sa_env", cfg.Provider.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown driver", "store:\n  driver: sqlite\n", "store.driver"},
		{"redis without url", "store:\n  driver: redis\n", "redisurl"},
		{"postgres without url", "store:\n  driver: postgres\n", "databaseurl"},
		{"bad display mode", "display:\n  mode: sessions\n", "display.mode"},
		{"zero poll interval", "watcher:\n  pollinterval: 0s\n", "pollinterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fromViper(newViper(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
