package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"fieldsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Logging       LoggingConfig       `yaml:"logging"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Backup        BackupConfig        `yaml:"backup"`
	Sync          SyncConfig          `yaml:"sync"`
	Reminders     RemindersConfig     `yaml:"reminders"`
	Directory     DirectoryConfig     `yaml:"directory"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

// ServerConfig configures the remote record service HTTP surface.
type ServerConfig struct {
	Port      int             `yaml:"port"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Ticketing TicketingConfig `yaml:"ticketing"`
}

type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
	AdminRole string `yaml:"admin_role"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type TicketingConfig struct {
	Seed int64 `yaml:"seed"`
}

type DatabaseConfig struct {
	// Path is the device-local SQLite file used by the agent.
	Path             string         `yaml:"path"`
	Postgres         PostgresConfig `yaml:"postgres"`
	RecoveryInterval time.Duration  `yaml:"recovery_interval"`
}

type PostgresConfig struct {
	DSN            string        `yaml:"dsn"`
	Migrate        bool          `yaml:"migrate"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

// SyncConfig configures the agent's reconciliation with the remote record service.
type SyncConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	User          string        `yaml:"user"`
	Timeout       time.Duration `yaml:"timeout"`
	PullLimit     int           `yaml:"pull_limit"`
	Interval      time.Duration `yaml:"interval"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeMaxDelay time.Duration `yaml:"probe_max_delay"`
}

type RemindersConfig struct {
	ClientInterval  time.Duration `yaml:"client_interval"`
	Window          time.Duration `yaml:"window"`
	Cooldown        time.Duration `yaml:"cooldown"`
	ServerInterval  time.Duration `yaml:"server_interval"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	Claim           ClaimConfig   `yaml:"claim"`
}

// ClaimConfig enables the Redis claim taken before a reminder is dispatched,
// needed only when several server replicas scan the same collection.
type ClaimConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

type DirectoryConfig struct {
	Source   string        `yaml:"source"`
	URL      string        `yaml:"url"`
	Token    string        `yaml:"token"`
	File     string        `yaml:"file"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type NotificationsConfig struct {
	Transport string         `yaml:"transport"`
	RPS       float64        `yaml:"rps"`
	WhatsApp  WhatsAppConfig `yaml:"whatsapp"`
	Telegram  TelegramConfig `yaml:"telegram"`
	FCM       FCMConfig      `yaml:"fcm"`
}

type WhatsAppConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIVersion    string `yaml:"api_version"`
	PhoneNumberID string `yaml:"phone_number_id"`
	AccessToken   string `yaml:"access_token"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

// FCMConfig configures Firebase Cloud Messaging pushes to the technician app.
type FCMConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	ProjectID       string `yaml:"project_id"`
	TopicPrefix     string `yaml:"topic_prefix"`
}

func Load(configPath string) (*Config, error) {
	// .env необязателен
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	return &config, nil
}

// ValidateServer checks settings required by cmd/server.
func (c *Config) ValidateServer() error {
	if c.Server.Auth.Enabled && strings.TrimSpace(c.Server.Auth.JWTSecret) == "" {
		return errors.New("server.auth.jwt_secret is required when auth is enabled")
	}

	switch c.Directory.Source {
	case "http":
		if c.Directory.URL == "" {
			return errors.New("directory.url is required for the http directory")
		}
	case "file":
		if c.Directory.File == "" {
			return errors.New("directory.file is required for the file directory")
		}
	default:
		return fmt.Errorf("unknown directory source %q", c.Directory.Source)
	}

	switch c.Notifications.Transport {
	case "whatsapp":
		wa := c.Notifications.WhatsApp
		if wa.PhoneNumberID == "" || wa.AccessToken == "" {
			return errors.New("notifications.whatsapp requires phone_number_id and access_token")
		}
	case "telegram":
		if c.Notifications.Telegram.BotToken == "" {
			return errors.New("notifications.telegram.bot_token is required")
		}
	case "fcm":
		if c.Notifications.FCM.CredentialsFile == "" && c.Notifications.FCM.ProjectID == "" {
			return errors.New("notifications.fcm requires credentials_file or project_id")
		}
	case "log":
	default:
		return fmt.Errorf("unknown notification transport %q", c.Notifications.Transport)
	}

	if c.Reminders.Claim.Enabled && c.Redis.Address == "" {
		return errors.New("reminders.claim requires redis.address")
	}

	return nil
}

// ValidateAgent checks settings required by cmd/agent.
func (c *Config) ValidateAgent() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Sync.BaseURL == "" {
		return errors.New("sync.base_url is required")
	}
	if strings.TrimSpace(c.Sync.User) == "" {
		return errors.New("sync.user is required")
	}
	if c.Reminders.Window <= 0 {
		return errors.New("reminders.window must be positive")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "fieldsync"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Auth.AdminRole == "" {
		c.Server.Auth.AdminRole = "admin"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Database.RecoveryInterval == 0 {
		c.Database.RecoveryInterval = models.DefaultRecoveryInterval
	}
	if c.Database.Postgres.ConnectTimeout == 0 {
		c.Database.Postgres.ConnectTimeout = 5 * time.Second
	}

	// Sync defaults
	if c.Sync.Timeout == 0 {
		c.Sync.Timeout = models.DefaultHTTPTimeout
	}
	if c.Sync.PullLimit == 0 {
		c.Sync.PullLimit = models.DefaultPullLimit
	}
	if c.Sync.ProbeInterval == 0 {
		c.Sync.ProbeInterval = 10 * time.Second
	}
	if c.Sync.ProbeMaxDelay == 0 {
		c.Sync.ProbeMaxDelay = 2 * time.Minute
	}

	// Reminder defaults
	if c.Reminders.ClientInterval == 0 {
		c.Reminders.ClientInterval = models.DefaultClientReminderInterval
	}
	if c.Reminders.Window == 0 {
		c.Reminders.Window = models.DefaultReminderWindow
	}
	if c.Reminders.Cooldown == 0 {
		c.Reminders.Cooldown = models.DefaultReminderCooldown
	}
	if c.Reminders.ServerInterval == 0 {
		c.Reminders.ServerInterval = models.DefaultServerReminderInterval
	}
	if c.Reminders.DispatchTimeout == 0 {
		c.Reminders.DispatchTimeout = models.DefaultHTTPTimeout
	}
	if c.Reminders.Claim.TTL == 0 {
		c.Reminders.Claim.TTL = 10 * time.Minute
	}

	if c.Directory.Source == "" {
		c.Directory.Source = "file"
	}
	if c.Directory.Timeout == 0 {
		c.Directory.Timeout = models.DefaultHTTPTimeout
	}
	if c.Notifications.Transport == "" {
		c.Notifications.Transport = "log"
	}
	if c.Notifications.WhatsApp.BaseURL == "" {
		c.Notifications.WhatsApp.BaseURL = "https://graph.facebook.com"
	}
	if c.Notifications.WhatsApp.APIVersion == "" {
		c.Notifications.WhatsApp.APIVersion = "v19.0"
	}
}
