package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
port: 8080
mode: dev
machine_id: 3
dashboard:
  cache_ttl_ms: 1500
  rate_limit_rps: 5
  rate_limit_burst: 10
`

func TestInitFromFileAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o600))
	require.NoError(t, InitFromFile(path))

	assert.Equal(t, 8080, Conf.Port)
	assert.EqualValues(t, 3, Conf.MachineID)
	assert.Equal(t, 1500*time.Millisecond, Conf.DashboardConfig.CacheTTL())
	// optional sections are filled in
	require.NotNil(t, Conf.TerminalConfig)
	assert.Equal(t, "ssh", Conf.TerminalConfig.Mode)
	assert.Equal(t, "routergate", Conf.StatusConfig.KeyPrefix)
	assert.Equal(t, 5*time.Second, Conf.RouterOSConfig.DialTimeout())

	var got *AppConfig
	OnChange(func(c *AppConfig) { got = c })

	viper.Set("dashboard.rate_limit_rps", 9.0)
	reload(fsnotify.Event{Name: path, Op: fsnotify.Write})

	require.NotNil(t, got)
	assert.Equal(t, 9.0, got.DashboardConfig.RateLimitRPS)
	assert.Equal(t, 10, got.DashboardConfig.RateLimitBurst)
	assert.Equal(t, 5.0, Conf.DashboardConfig.RateLimitRPS, "startup values stay put")
}
