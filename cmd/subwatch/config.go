package main

import (
	"os"
	"path/filepath"
	"time"

	"subwatch/internal/common/cache"
	"subwatch/internal/common/config"
	commonmw "subwatch/internal/common/http/middleware"
	"subwatch/internal/tracker/service"
	"subwatch/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "127.0.0.1:17411"
	defaultProxyAddr       = "127.0.0.1:17412"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultJudgeTimeout     = 15 * time.Second
	defaultUserAgent        = "subwatch/1.0"
	defaultRetention        = 6 * time.Hour
	defaultJanitorInterval  = time.Minute
	defaultPageStaleAfter   = 30 * time.Minute
	defaultStatusTTL        = 30 * 24 * time.Hour
	defaultNotifierPriority = string(service.PriorityHigh)
)

// ServerConfig holds control API server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr" env:"SUBWATCH_ADDR"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`

	CORS commonmw.CORSConfig `yaml:"cors"`
}

// ProxyConfig holds forward proxy settings.
type ProxyConfig struct {
	Disabled bool   `yaml:"disabled" env:"SUBWATCH_PROXY_DISABLED"`
	Addr     string `yaml:"addr" env:"SUBWATCH_PROXY_ADDR"`
	// CertsDir holds the interception CA. The judge host is tunnelled blind
	// (and so never observed over HTTPS) when NoIntercept is set.
	CertsDir    string `yaml:"certsDir" env:"SUBWATCH_PROXY_CERTS_DIR"`
	NoIntercept bool   `yaml:"noIntercept"`
}

// JudgeConfig describes the judge site being watched.
type JudgeConfig struct {
	Host                string        `yaml:"host" env:"SUBWATCH_JUDGE_HOST"`
	TokenHeader         string        `yaml:"tokenHeader"`
	StatusTableTemplate string        `yaml:"statusTableTemplate"`
	UserAgent           string        `yaml:"userAgent"`
	RequestTimeout      time.Duration `yaml:"requestTimeout"`
}

// TrackerConfig holds polling and housekeeping settings.
type TrackerConfig struct {
	PollInterval       time.Duration `yaml:"pollInterval" env:"SUBWATCH_POLL_INTERVAL"`
	AttemptTimeout     time.Duration `yaml:"attemptTimeout"`
	MaxAttempts        int           `yaml:"maxAttempts" env:"SUBWATCH_MAX_ATTEMPTS"`
	MaxConcurrentPolls int           `yaml:"maxConcurrentPolls"`
	EnrichTimeout      time.Duration `yaml:"enrichTimeout"`
	// Retention is how long finished submissions stay listed. Negative disables eviction.
	Retention        time.Duration `yaml:"retention"`
	JanitorInterval  time.Duration `yaml:"janitorInterval"`
	PageStaleAfter   time.Duration `yaml:"pageStaleAfter"`
	FetchProblemPage bool          `yaml:"fetchProblemPage"`
}

// NotifierConfig holds notification settings.
type NotifierConfig struct {
	DesktopDisabled bool          `yaml:"desktopDisabled" env:"SUBWATCH_DESKTOP_DISABLED"`
	Title           string        `yaml:"title"`
	IconPath        string        `yaml:"iconPath"`
	Priority        string        `yaml:"priority"`
	StatusTTL       time.Duration `yaml:"statusTTL"`
}

// AppConfig holds the daemon configuration.
type AppConfig struct {
	Server   ServerConfig      `yaml:"server"`
	Proxy    ProxyConfig       `yaml:"proxy"`
	Logger   logger.Config     `yaml:"logger"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Judge    JudgeConfig       `yaml:"judge"`
	Tracker  TrackerConfig     `yaml:"tracker"`
	Notifier NotifierConfig    `yaml:"notifier"`
}

func loadAppConfig(path string, optional bool) (*AppConfig, error) {
	return config.Load(path, optional, applyDefaults)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Proxy.Addr == "" {
		cfg.Proxy.Addr = defaultProxyAddr
	}
	if cfg.Proxy.CertsDir == "" {
		cfg.Proxy.CertsDir = defaultCertsDir()
	}

	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "console"
	}
	applyRedisDefaults(&cfg.Redis)

	if cfg.Judge.Host == "" {
		cfg.Judge.Host = service.DefaultJudgeHost
	}
	if cfg.Judge.TokenHeader == "" {
		cfg.Judge.TokenHeader = service.DefaultTokenHeader
	}
	if cfg.Judge.StatusTableTemplate == "" {
		cfg.Judge.StatusTableTemplate = service.DefaultStatusTableTemplate
	}
	if cfg.Judge.UserAgent == "" {
		cfg.Judge.UserAgent = defaultUserAgent
	}
	if cfg.Judge.RequestTimeout == 0 {
		cfg.Judge.RequestTimeout = defaultJudgeTimeout
	}

	if len(cfg.Server.CORS.AllowedOrigins) == 0 {
		cfg.Server.CORS.AllowedOrigins = []string{
			"https://" + cfg.Judge.Host,
			"chrome-extension://*",
			"moz-extension://*",
		}
	}
	if len(cfg.Server.CORS.AllowedHeaders) == 0 {
		cfg.Server.CORS.AllowedHeaders = []string{"Content-Type", "X-Trace-Id", "X-Request-Id"}
	}
	if cfg.Server.CORS.MaxAge == "" {
		cfg.Server.CORS.MaxAge = "600"
	}

	if cfg.Tracker.PollInterval == 0 {
		cfg.Tracker.PollInterval = service.DefaultPollInterval
	}
	if cfg.Tracker.AttemptTimeout == 0 {
		cfg.Tracker.AttemptTimeout = service.DefaultAttemptTimeout
	}
	if cfg.Tracker.MaxConcurrentPolls == 0 {
		cfg.Tracker.MaxConcurrentPolls = service.DefaultMaxConcurrentPolls
	}
	if cfg.Tracker.EnrichTimeout == 0 {
		cfg.Tracker.EnrichTimeout = service.DefaultEnrichTimeout
	}
	if cfg.Tracker.Retention == 0 {
		cfg.Tracker.Retention = defaultRetention
	}
	if cfg.Tracker.JanitorInterval == 0 {
		cfg.Tracker.JanitorInterval = defaultJanitorInterval
	}
	if cfg.Tracker.PageStaleAfter == 0 {
		cfg.Tracker.PageStaleAfter = defaultPageStaleAfter
	}

	if cfg.Notifier.Title == "" {
		cfg.Notifier.Title = service.DefaultNotificationTitle
	}
	if cfg.Notifier.IconPath == "" {
		cfg.Notifier.IconPath = service.DefaultNotificationIcon
	}
	if cfg.Notifier.Priority == "" {
		cfg.Notifier.Priority = defaultNotifierPriority
	}
	if cfg.Notifier.StatusTTL == 0 {
		cfg.Notifier.StatusTTL = defaultStatusTTL
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
}

func defaultCertsDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".subwatch", "certs")
	}
	return filepath.Join(dir, "subwatch", "certs")
}
