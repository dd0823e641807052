package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// EnvPrefix is the prefix of every environment override (FACEATT_THRESHOLD, ...).
const EnvPrefix = "FACEATT_"

// ConfigPathEnv names the environment variable holding an optional YAML config path.
const ConfigPathEnv = "FACEATT_CONFIG"

// ErrInvalidConfig is returned by Validate when a value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Cooldown seeding policies applied at startup.
const (
	SeedNone  = "none"  // cooldown state starts empty on every restart
	SeedToday = "today" // cooldown state is re-seeded from today's persisted events
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Config keeps a flat key space (threshold, cooldown_seconds, ...) split into
// groups on the Go side.
type Config struct {
	Recognition  RecognitionConfig  `yaml:",inline" koanf:",squash"`
	Camera       CameraConfig       `yaml:",inline" koanf:",squash"`
	Embedding    EmbeddingConfig    `yaml:",inline" koanf:",squash"`
	Database     DatabaseConfig     `yaml:",inline" koanf:",squash"`
	Storage      StorageConfig      `yaml:",inline" koanf:",squash"`
	Notification NotificationConfig `yaml:",inline" koanf:",squash"`
	Web          WebConfig          `yaml:",inline" koanf:",squash"`
	Log          LogConfig          `yaml:",inline" koanf:",squash"`
}

type RecognitionConfig struct {
	Threshold              float64 `yaml:"threshold" koanf:"threshold"`
	CooldownSeconds        int     `yaml:"cooldown_seconds" koanf:"cooldown_seconds"`
	ProcessInterval        int     `yaml:"process_interval" koanf:"process_interval"`
	ResizeFactor           float64 `yaml:"resize_factor" koanf:"resize_factor"`
	EnableCooldown         bool    `yaml:"enable_cooldown" koanf:"enable_cooldown"`
	EnableLiveness         bool    `yaml:"enable_liveness" koanf:"enable_liveness"`
	EnableNotification     bool    `yaml:"enable_notification" koanf:"enable_notification"`
	LivenessTimeoutSeconds int     `yaml:"liveness_timeout_seconds" koanf:"liveness_timeout_seconds"`
	PollIntervalMS         int     `yaml:"poll_interval_ms" koanf:"poll_interval_ms"`
	CooldownSeed           string  `yaml:"cooldown_seed" koanf:"cooldown_seed"`
}

// Cooldown returns the cooldown window.
func (c RecognitionConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// LivenessTimeout returns how long a confirmed blink stays valid.
func (c RecognitionConfig) LivenessTimeout() time.Duration {
	return time.Duration(c.LivenessTimeoutSeconds) * time.Second
}

// PollInterval returns the sleep between empty mailbox polls.
func (c RecognitionConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

type CameraConfig struct {
	URL      string `yaml:"camera_url" koanf:"camera_url"` // MJPEG stream URL
	Dir      string `yaml:"camera_dir" koanf:"camera_dir"` // replay frames from a directory instead
	Loop     bool   `yaml:"camera_loop" koanf:"camera_loop"`
	FPS      int    `yaml:"camera_fps" koanf:"camera_fps"`
	LockFile string `yaml:"lock_file" koanf:"lock_file"`
}

type EmbeddingConfig struct {
	URL string `yaml:"embedding_url" koanf:"embedding_url"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"database_driver" koanf:"database_driver"`
	URL          string `yaml:"database_url" koanf:"database_url"` // DSN or file path for sqlite
	MaxOpenConns int    `yaml:"database_max_open_conns" koanf:"database_max_open_conns"`
	MaxIdleConns int    `yaml:"database_max_idle_conns" koanf:"database_max_idle_conns"`
}

type StorageConfig struct {
	EvidenceDir string `yaml:"evidence_dir" koanf:"evidence_dir"`
	ImageDir    string `yaml:"image_dir" koanf:"image_dir"` // base directory of reference images
}

type NotificationConfig struct {
	FirstOnly        bool     `yaml:"notify_first_only" koanf:"notify_first_only"`
	TimeoutSeconds   int      `yaml:"notify_timeout_seconds" koanf:"notify_timeout_seconds"`
	TelegramBotToken string   `yaml:"telegram_bot_token" koanf:"telegram_bot_token"`
	TelegramChatID   string   `yaml:"telegram_chat_id" koanf:"telegram_chat_id"`
	ShoutrrrURLs     []string `yaml:"shoutrrr_urls" koanf:"shoutrrr_urls"`
	MQTTBroker       string   `yaml:"mqtt_broker" koanf:"mqtt_broker"`
	MQTTTopic        string   `yaml:"mqtt_topic" koanf:"mqtt_topic"`
	MQTTClientID     string   `yaml:"mqtt_client_id" koanf:"mqtt_client_id"`
}

// Timeout returns the per-sink delivery timeout.
func (c NotificationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type WebConfig struct {
	Host     string `yaml:"web_host" koanf:"web_host"`
	Port     int    `yaml:"web_port" koanf:"web_port"`
	APIToken string `yaml:"web_api_token" koanf:"web_api_token"` // empty disables auth on mutating routes

	// Browser origins allowed by CORS; "*" allows any. Comma separated in env.
	AllowedOrigins []string `yaml:"web_allowed_origins" koanf:"web_allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"log_level" koanf:"log_level"`
	Format string `yaml:"log_format" koanf:"log_format"`
}

// Defaults returns the configuration embedded in the binary.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load layers configuration sources, lowest precedence first:
//  1. embedded defaults.yaml
//  2. YAML file at path (or $FACEATT_CONFIG when path is empty)
//  3. FACEATT_* environment variables
func Load(path string) (*Config, error) {
	base := Defaults()
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	r := c.Recognition
	switch {
	case r.Threshold <= 0 || r.Threshold > 2:
		return fmt.Errorf("%w: threshold must be in (0, 2], got %v", ErrInvalidConfig, r.Threshold)
	case r.CooldownSeconds < 0:
		return fmt.Errorf("%w: cooldown_seconds must not be negative", ErrInvalidConfig)
	case r.ProcessInterval < 1:
		return fmt.Errorf("%w: process_interval must be at least 1", ErrInvalidConfig)
	case r.ResizeFactor <= 0 || r.ResizeFactor > 1:
		return fmt.Errorf("%w: resize_factor must be in (0, 1], got %v", ErrInvalidConfig, r.ResizeFactor)
	case r.LivenessTimeoutSeconds < 1:
		return fmt.Errorf("%w: liveness_timeout_seconds must be at least 1", ErrInvalidConfig)
	case r.PollIntervalMS < 1:
		return fmt.Errorf("%w: poll_interval_ms must be at least 1", ErrInvalidConfig)
	}

	switch r.CooldownSeed {
	case SeedNone, SeedToday:
	default:
		return fmt.Errorf("%w: cooldown_seed must be %q or %q, got %q", ErrInvalidConfig, SeedNone, SeedToday, r.CooldownSeed)
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("%w: unsupported database_driver %q", ErrInvalidConfig, c.Database.Driver)
	}

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("%w: web_port out of range: %d", ErrInvalidConfig, c.Web.Port)
	}
	return nil
}

// TelegramEnabled reports whether both Telegram credentials are present.
func (c NotificationConfig) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}
