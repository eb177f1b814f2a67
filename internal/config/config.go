package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/CanopyNet/canopy-core/internal/progress"
	"github.com/CanopyNet/canopy-core/internal/transfer"
	workerpool "github.com/CanopyNet/canopy-core/internal/worker"
	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"
)

// Config holds the base configuration
type Config struct {
	Server   ServerConfig
	Transfer TransferConfig
	Storage  StorageConfig
	Redis    RedisConfig
	App      AppConfig
	Mirror   MirrorConfig
	Telegram TelegramConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	PublicURL    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type TransferConfig struct {
	Workers       int
	QueueSize     int
	ChunkSize     int64
	LookAhead     int
	TaskTimeout   time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

type StorageConfig struct {
	Dir             string
	HistoryDB       string
	MaxFileBytes    int64
	MaxSessionBytes int64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TokenTTL time.Duration
}

type AppConfig struct {
	LogLevel    string
	FileLogging bool
	GeoIPPath   string
}

type MirrorConfig struct {
	SSHKeyPath    string `yaml:"ssh_key_path"`
	Owner         string `yaml:"owner"`
	Repo          string `yaml:"repo"`
	EncryptionKey string `yaml:"encryption_key"`
}

type TelegramConfig struct {
	BotToken        string
	Channel         string
	Template        string
	SendingInterval time.Duration
}

// Enabled reports whether the mirror has everything it needs to push.
func (m MirrorConfig) Enabled() bool {
	return m.SSHKeyPath != "" && m.Owner != "" && m.Repo != ""
}

func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.Channel != ""
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Host:         "",
			PublicURL:    "http://localhost:8080",
			ReadTimeout:  5 * time.Minute,
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Transfer: TransferConfig{
			Workers:       workerpool.DefaultWorkers,
			QueueSize:     workerpool.DefaultQueueSize,
			ChunkSize:     transfer.DefaultChunkSize,
			LookAhead:     transfer.DefaultLookAhead,
			TaskTimeout:   workerpool.DefaultTaskTimeout,
			RetryAttempts: workerpool.DefaultRetryAttempts,
			RetryBackoff:  workerpool.DefaultRetryBackoff,
		},
		Storage: StorageConfig{
			Dir:       "./uploads",
			HistoryDB: "./canopy-history.db",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TokenTTL: 24 * time.Hour,
		},
		App: AppConfig{
			LogLevel: "info",
		},
		Telegram: TelegramConfig{
			SendingInterval: 10 * time.Second,
		},
	}
}

// yamlConfig mirrors Config for file parsing, with durations and byte
// sizes as human-readable strings.
type yamlConfig struct {
	Server struct {
		Port         string `yaml:"port"`
		Host         string `yaml:"host"`
		PublicURL    string `yaml:"public_url"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
		IdleTimeout  string `yaml:"idle_timeout"`
	} `yaml:"server"`
	Transfer struct {
		Workers       int    `yaml:"workers"`
		QueueSize     int    `yaml:"queue_size"`
		ChunkSize     string `yaml:"chunk_size"`
		LookAhead     int    `yaml:"look_ahead"`
		TaskTimeout   string `yaml:"task_timeout"`
		RetryAttempts int    `yaml:"retry_attempts"`
		RetryBackoff  string `yaml:"retry_backoff"`
	} `yaml:"transfer"`
	Storage struct {
		Dir            string `yaml:"dir"`
		HistoryDB      string `yaml:"history_db"`
		MaxFileSize    string `yaml:"max_file_size"`
		MaxSessionSize string `yaml:"max_session_size"`
	} `yaml:"storage"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"redis"`
	App struct {
		LogLevel    string `yaml:"log_level"`
		FileLogging bool   `yaml:"file_logging"`
		GeoIPPath   string `yaml:"geoip_path"`
	} `yaml:"app"`
	Mirror   MirrorConfig `yaml:"mirror"`
	Telegram struct {
		BotToken        string `yaml:"bot_token"`
		Channel         string `yaml:"channel"`
		Template        string `yaml:"template"`
		SendingInterval string `yaml:"sending_interval"`
	} `yaml:"telegram"`
}

func (yc yamlConfig) apply(cfg *Config) error {
	if yc.Server.Port != "" {
		cfg.Server.Port = yc.Server.Port
	}
	if yc.Server.Host != "" {
		cfg.Server.Host = yc.Server.Host
	}
	if yc.Server.PublicURL != "" {
		cfg.Server.PublicURL = yc.Server.PublicURL
	}
	if yc.Server.ReadTimeout != "" {
		d, err := time.ParseDuration(yc.Server.ReadTimeout)
		if err != nil {
			return fmt.Errorf("parse server.read_timeout: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}
	if yc.Server.WriteTimeout != "" {
		d, err := time.ParseDuration(yc.Server.WriteTimeout)
		if err != nil {
			return fmt.Errorf("parse server.write_timeout: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}
	if yc.Server.IdleTimeout != "" {
		d, err := time.ParseDuration(yc.Server.IdleTimeout)
		if err != nil {
			return fmt.Errorf("parse server.idle_timeout: %w", err)
		}
		cfg.Server.IdleTimeout = d
	}

	if yc.Transfer.Workers != 0 {
		cfg.Transfer.Workers = yc.Transfer.Workers
	}
	if yc.Transfer.QueueSize != 0 {
		cfg.Transfer.QueueSize = yc.Transfer.QueueSize
	}
	if yc.Transfer.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.Transfer.ChunkSize)
		if err != nil {
			return fmt.Errorf("parse transfer.chunk_size: %w", err)
		}
		cfg.Transfer.ChunkSize = size
	}
	if yc.Transfer.LookAhead != 0 {
		cfg.Transfer.LookAhead = yc.Transfer.LookAhead
	}
	if yc.Transfer.TaskTimeout != "" {
		d, err := time.ParseDuration(yc.Transfer.TaskTimeout)
		if err != nil {
			return fmt.Errorf("parse transfer.task_timeout: %w", err)
		}
		cfg.Transfer.TaskTimeout = d
	}
	if yc.Transfer.RetryAttempts != 0 {
		cfg.Transfer.RetryAttempts = yc.Transfer.RetryAttempts
	}
	if yc.Transfer.RetryBackoff != "" {
		d, err := time.ParseDuration(yc.Transfer.RetryBackoff)
		if err != nil {
			return fmt.Errorf("parse transfer.retry_backoff: %w", err)
		}
		cfg.Transfer.RetryBackoff = d
	}

	if yc.Storage.Dir != "" {
		cfg.Storage.Dir = yc.Storage.Dir
	}
	if yc.Storage.HistoryDB != "" {
		cfg.Storage.HistoryDB = yc.Storage.HistoryDB
	}
	if yc.Storage.MaxFileSize != "" {
		size, err := progress.ParseBytes(yc.Storage.MaxFileSize)
		if err != nil {
			return fmt.Errorf("parse storage.max_file_size: %w", err)
		}
		cfg.Storage.MaxFileBytes = size
	}
	if yc.Storage.MaxSessionSize != "" {
		size, err := progress.ParseBytes(yc.Storage.MaxSessionSize)
		if err != nil {
			return fmt.Errorf("parse storage.max_session_size: %w", err)
		}
		cfg.Storage.MaxSessionBytes = size
	}

	if yc.Redis.Addr != "" {
		cfg.Redis.Addr = yc.Redis.Addr
	}
	if yc.Redis.Password != "" {
		cfg.Redis.Password = yc.Redis.Password
	}
	if yc.Redis.DB != 0 {
		cfg.Redis.DB = yc.Redis.DB
	}
	if yc.Redis.TokenTTL != "" {
		d, err := time.ParseDuration(yc.Redis.TokenTTL)
		if err != nil {
			return fmt.Errorf("parse redis.token_ttl: %w", err)
		}
		cfg.Redis.TokenTTL = d
	}

	if yc.App.LogLevel != "" {
		cfg.App.LogLevel = yc.App.LogLevel
	}
	if yc.App.FileLogging {
		cfg.App.FileLogging = true
	}
	if yc.App.GeoIPPath != "" {
		cfg.App.GeoIPPath = yc.App.GeoIPPath
	}

	if yc.Mirror.SSHKeyPath != "" {
		cfg.Mirror.SSHKeyPath = yc.Mirror.SSHKeyPath
	}
	if yc.Mirror.Owner != "" {
		cfg.Mirror.Owner = yc.Mirror.Owner
	}
	if yc.Mirror.Repo != "" {
		cfg.Mirror.Repo = yc.Mirror.Repo
	}
	if yc.Mirror.EncryptionKey != "" {
		cfg.Mirror.EncryptionKey = yc.Mirror.EncryptionKey
	}

	if yc.Telegram.BotToken != "" {
		cfg.Telegram.BotToken = yc.Telegram.BotToken
	}
	if yc.Telegram.Channel != "" {
		cfg.Telegram.Channel = yc.Telegram.Channel
	}
	if yc.Telegram.Template != "" {
		cfg.Telegram.Template = yc.Telegram.Template
	}
	if yc.Telegram.SendingInterval != "" {
		d, err := time.ParseDuration(yc.Telegram.SendingInterval)
		if err != nil {
			return fmt.Errorf("parse telegram.sending_interval: %w", err)
		}
		cfg.Telegram.SendingInterval = d
	}

	return nil
}

// applyEnv overrides the current values with CANOPY_* environment
// variables.
func (c *Config) applyEnv() {
	c.Server.Port = getEnv("CANOPY_SERVER_PORT", c.Server.Port)
	c.Server.Host = getEnv("CANOPY_SERVER_HOST", c.Server.Host)
	c.Server.PublicURL = getEnv("CANOPY_PUBLIC_URL", c.Server.PublicURL)
	c.Server.ReadTimeout = getEnvDuration("CANOPY_SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("CANOPY_SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("CANOPY_SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)

	c.Transfer.Workers = getEnvInt("CANOPY_WORKERS", c.Transfer.Workers)
	c.Transfer.QueueSize = getEnvInt("CANOPY_QUEUE_SIZE", c.Transfer.QueueSize)
	c.Transfer.ChunkSize = getEnvBytes("CANOPY_CHUNK_SIZE", c.Transfer.ChunkSize)
	c.Transfer.LookAhead = getEnvInt("CANOPY_LOOK_AHEAD", c.Transfer.LookAhead)
	c.Transfer.TaskTimeout = getEnvDuration("CANOPY_TASK_TIMEOUT", c.Transfer.TaskTimeout)
	c.Transfer.RetryAttempts = getEnvInt("CANOPY_RETRY_ATTEMPTS", c.Transfer.RetryAttempts)
	c.Transfer.RetryBackoff = getEnvDuration("CANOPY_RETRY_BACKOFF", c.Transfer.RetryBackoff)

	c.Storage.Dir = getEnv("CANOPY_STORAGE_DIR", c.Storage.Dir)
	c.Storage.HistoryDB = getEnv("CANOPY_HISTORY_DB", c.Storage.HistoryDB)
	c.Storage.MaxFileBytes = getEnvBytes("CANOPY_MAX_FILE_SIZE", c.Storage.MaxFileBytes)
	c.Storage.MaxSessionBytes = getEnvBytes("CANOPY_MAX_SESSION_SIZE", c.Storage.MaxSessionBytes)

	c.Redis.Addr = getEnv("CANOPY_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("CANOPY_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("CANOPY_REDIS_DB", c.Redis.DB)
	c.Redis.TokenTTL = getEnvDuration("CANOPY_TOKEN_TTL", c.Redis.TokenTTL)

	c.App.LogLevel = getEnv("CANOPY_LOG_LEVEL", c.App.LogLevel)
	c.App.FileLogging = getEnvBool("CANOPY_FILE_LOGGING", c.App.FileLogging)
	c.App.GeoIPPath = getEnv("CANOPY_GEOIP_PATH", c.App.GeoIPPath)

	c.Mirror.SSHKeyPath = getEnv("CANOPY_MIRROR_SSH_KEY_PATH", c.Mirror.SSHKeyPath)
	c.Mirror.Owner = getEnv("CANOPY_MIRROR_OWNER", c.Mirror.Owner)
	c.Mirror.Repo = getEnv("CANOPY_MIRROR_REPO", c.Mirror.Repo)
	c.Mirror.EncryptionKey = getEnv("CANOPY_MIRROR_ENCRYPTION_KEY", c.Mirror.EncryptionKey)

	c.Telegram.BotToken = getEnv("CANOPY_TELEGRAM_BOT_TOKEN", c.Telegram.BotToken)
	c.Telegram.Channel = getEnv("CANOPY_TELEGRAM_CHANNEL", c.Telegram.Channel)
	c.Telegram.Template = getEnv("CANOPY_TELEGRAM_TEMPLATE", c.Telegram.Template)
	c.Telegram.SendingInterval = getEnvDuration("CANOPY_TELEGRAM_SENDING_INTERVAL", c.Telegram.SendingInterval)
}

// Load builds the configuration from defaults and environment variables.
func Load() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile layers an optional YAML file between the defaults and the
// environment: defaults first, then the file, then CANOPY_* variables.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		var yc yamlConfig
		if err := yaml.Unmarshal(data, &yc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if err := yc.apply(cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvBytes understands human sizes like "4MB" or "1.5GiB".
func getEnvBytes(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if bytes, err := progress.ParseBytes(value); err == nil {
			return bytes
		}
	}
	return defaultValue
}
