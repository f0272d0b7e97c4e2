package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"tasksync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RemoteConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Mode         string        `yaml:"mode"`
	APIKey       string        `yaml:"api_key"`
	APIExtra     string        `yaml:"api_extra"`
	Timeout      time.Duration `yaml:"timeout"`
	HealthPath   string        `yaml:"health_path"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	Burst        int           `yaml:"burst"`
}

type SyncConfig struct {
	BatchSize           int           `yaml:"batch_size"`
	MaxAttempts         int           `yaml:"max_attempts"`
	ConnectivityTimeout time.Duration `yaml:"connectivity_timeout"`
	Interval            time.Duration `yaml:"interval"`
	MaxEntriesPerCycle  int           `yaml:"max_entries_per_cycle"`
	CollapseSuperseded  bool          `yaml:"collapse_superseded"`
	OfflineBackoffMax   time.Duration `yaml:"offline_backoff_max"`
	Probe               ProbeConfig   `yaml:"probe"`
}

type ProbeConfig struct {
	Mode        string `yaml:"mode"`
	DNSHost     string `yaml:"dns_host"`
	GRPCAddress string `yaml:"grpc_address"`
	GRPCService string `yaml:"grpc_service"`
}

type RedisConfig struct {
	Address       string        `yaml:"address"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size"`
	LockKey       string        `yaml:"lock_key"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
	DeadLetterKey string        `yaml:"deadletter_key"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type TelegramConfig struct {
	BotToken        string `yaml:"bot_token"`
	AlertChatID     int64  `yaml:"alert_chat_id"`
	CommandsEnabled bool   `yaml:"commands_enabled"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Dispatch modes accepted by remote.mode.
const (
	RemoteModeBatch  = "batch"
	RemoteModeSingle = "single"
)

// Probe modes accepted by sync.probe.mode.
const (
	ProbeModeHealth = "health"
	ProbeModeDNS    = "dns"
	ProbeModeGRPC   = "grpc"
	ProbeModeAny    = "any"
)

func Load(configPath string) (*Config, error) {
	// .env is optional; only a malformed one is an error
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if u, err := url.Parse(c.Remote.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("remote base_url %q is not an absolute URL", c.Remote.BaseURL)
	}

	if c.Remote.Mode != RemoteModeBatch && c.Remote.Mode != RemoteModeSingle {
		return fmt.Errorf("unknown remote.mode %q", c.Remote.Mode)
	}

	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be positive, got %d", c.Sync.MaxAttempts)
	}

	switch c.Sync.Probe.Mode {
	case ProbeModeHealth, ProbeModeAny:
	case ProbeModeDNS:
		if c.Sync.Probe.DNSHost == "" {
			return errors.New("sync.probe.mode=dns requires sync.probe.dns_host")
		}
	case ProbeModeGRPC:
		if c.Sync.Probe.GRPCAddress == "" {
			return errors.New("sync.probe.mode=grpc requires sync.probe.grpc_address")
		}
	default:
		return fmt.Errorf("unknown sync.probe.mode %q", c.Sync.Probe.Mode)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tasksync"
	}

	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = models.DefaultRemoteTimeout
	}
	if c.Remote.HealthPath == "" {
		c.Remote.HealthPath = "/health"
	}
	c.Remote.BaseURL = strings.TrimRight(c.Remote.BaseURL, "/")
	if c.Remote.Mode == "" {
		c.Remote.Mode = RemoteModeBatch
	}

	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = models.DefaultBatchSize
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Sync.ConnectivityTimeout == 0 {
		c.Sync.ConnectivityTimeout = models.DefaultConnectivityTimeout
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = models.DefaultSyncInterval
	}
	if c.Sync.MaxEntriesPerCycle == 0 {
		c.Sync.MaxEntriesPerCycle = models.DefaultMaxEntriesPerCycle
	}
	if c.Sync.OfflineBackoffMax == 0 {
		c.Sync.OfflineBackoffMax = 5 * time.Minute
	}
	if c.Sync.Probe.Mode == "" {
		c.Sync.Probe.Mode = ProbeModeHealth
	}

	if c.Redis.LockKey == "" {
		c.Redis.LockKey = "tasksync:cycle_lock"
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 5 * time.Minute
	}
	if c.Redis.DeadLetterKey == "" {
		c.Redis.DeadLetterKey = "tasksync:deadletter"
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
