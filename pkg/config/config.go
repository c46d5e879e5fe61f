package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Conf holds the values read at startup and is never written afterwards.
// Settings that can change at runtime reach their owners through OnChange;
// everything else needs a restart.
var Conf = new(AppConfig)

var (
	watchMu  sync.Mutex
	watchers []func(*AppConfig)
)

// OnChange registers fn to receive a freshly loaded copy of the config each
// time the file changes. fn runs on the file watcher goroutine.
func OnChange(fn func(*AppConfig)) {
	watchMu.Lock()
	watchers = append(watchers, fn)
	watchMu.Unlock()
}

type AppConfig struct {
	Port      int    `mapstructure:"port"`
	Name      string `mapstructure:"name"`
	Mode      string `mapstructure:"mode"`
	Version   string `mapstructure:"version"`
	StartTime string `mapstructure:"start_time"`
	MachineID int64  `mapstructure:"machine_id"`

	*LogConfig       `mapstructure:"log"`
	*MySQLConfig     `mapstructure:"mysql"`
	*RedisConfig     `mapstructure:"redis"`
	*JWTConfig       `mapstructure:"jwt"`
	*RouterOSConfig  `mapstructure:"routeros"`
	*TerminalConfig  `mapstructure:"terminal"`
	*DashboardConfig `mapstructure:"dashboard"`
	*StatusConfig    `mapstructure:"status"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret         string `mapstructure:"secret"`
	ExpireDuration int    `mapstructure:"expire_duration"`
}

// RouterOSConfig tunes the polling session manager.
type RouterOSConfig struct {
	DialTimeoutMs    int  `mapstructure:"dial_timeout_ms"`
	CommandTimeoutMs int  `mapstructure:"command_timeout_ms"`
	IdleTimeout      int  `mapstructure:"idle_timeout_seconds"`
	ReapInterval     int  `mapstructure:"reap_interval_seconds"`
	RetryBackoffMs   int  `mapstructure:"retry_backoff_ms"`
	QueueSize        int  `mapstructure:"queue_size"`
	TLSSkipVerify    bool `mapstructure:"tls_skip_verify"`
}

type TerminalConfig struct {
	Mode        string `mapstructure:"mode"` // ssh or api
	Term        string `mapstructure:"term"`
	Cols        int    `mapstructure:"cols"`
	Rows        int    `mapstructure:"rows"`
	MaxChannels int    `mapstructure:"max_channels"`
	PongWait    int    `mapstructure:"pong_wait_seconds"`
	WriteWait   int    `mapstructure:"write_wait_seconds"`
	// IdleTimeout applies to the dedicated API sessions behind api-mode terminals.
	IdleTimeout int `mapstructure:"idle_timeout_seconds"`
}

type DashboardConfig struct {
	CacheTTLMs     int     `mapstructure:"cache_ttl_ms"`
	LogLimit       int     `mapstructure:"log_limit"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type StatusConfig struct {
	KeyPrefix string `mapstructure:"key_prefix"`
	TTL       int    `mapstructure:"ttl_seconds"`
}

func (c *RouterOSConfig) DialTimeout() time.Duration {
	return msOrDefault(c.DialTimeoutMs, 5*time.Second)
}

func (c *RouterOSConfig) CommandTimeout() time.Duration {
	return msOrDefault(c.CommandTimeoutMs, 5*time.Second)
}

func (c *RouterOSConfig) IdleTimeoutDuration() time.Duration {
	return secOrDefault(c.IdleTimeout, 120*time.Second)
}

func (c *RouterOSConfig) ReapIntervalDuration() time.Duration {
	return secOrDefault(c.ReapInterval, 15*time.Second)
}

func (c *RouterOSConfig) RetryBackoff() time.Duration {
	return msOrDefault(c.RetryBackoffMs, 500*time.Millisecond)
}

func (c *TerminalConfig) PongWaitDuration() time.Duration {
	return secOrDefault(c.PongWait, 60*time.Second)
}

func (c *TerminalConfig) WriteWaitDuration() time.Duration {
	return secOrDefault(c.WriteWait, 10*time.Second)
}

func (c *TerminalConfig) IdleTimeoutDuration() time.Duration {
	return secOrDefault(c.IdleTimeout, 30*time.Second)
}

func (c *DashboardConfig) CacheTTL() time.Duration {
	return msOrDefault(c.CacheTTLMs, time.Second)
}

func msOrDefault(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func secOrDefault(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

// setDefaults keeps every optional section non-nil so callers can dereference freely.
func setDefaults(c *AppConfig) {
	if c.LogConfig == nil {
		c.LogConfig = &LogConfig{Level: "info"}
	}
	if c.JWTConfig == nil {
		c.JWTConfig = &JWTConfig{}
	}
	if c.RouterOSConfig == nil {
		c.RouterOSConfig = &RouterOSConfig{}
	}
	if c.TerminalConfig == nil {
		c.TerminalConfig = &TerminalConfig{}
	}
	if c.TerminalConfig.Mode == "" {
		c.TerminalConfig.Mode = "ssh"
	}
	if c.DashboardConfig == nil {
		c.DashboardConfig = &DashboardConfig{}
	}
	if c.StatusConfig == nil {
		c.StatusConfig = &StatusConfig{}
	}
	if c.StatusConfig.KeyPrefix == "" {
		c.StatusConfig.KeyPrefix = "routergate"
	}
}

func Init() (err error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	return load()
}

// InitFromFile reads the given YAML file instead of ./config.yaml.
func InitFromFile(path string) (err error) {
	viper.SetConfigFile(path)
	return load()
}

func load() (err error) {
	if err = viper.ReadInConfig(); err != nil {
		return fmt.Errorf("viper.ReadInConfig failed: %w", err)
	}
	if err = viper.Unmarshal(Conf); err != nil {
		return fmt.Errorf("viper.Unmarshal failed: %w", err)
	}
	setDefaults(Conf)
	viper.WatchConfig()
	viper.OnConfigChange(reload)
	return nil
}

func reload(in fsnotify.Event) {
	zap.L().Info("config file changed", zap.String("file", in.Name))
	next := new(AppConfig)
	if err := viper.Unmarshal(next); err != nil {
		zap.L().Error("viper.Unmarshal failed", zap.Error(err))
		return
	}
	setDefaults(next)

	watchMu.Lock()
	fns := append(([]func(*AppConfig))(nil), watchers...)
	watchMu.Unlock()
	for _, fn := range fns {
		fn(next)
	}
}
