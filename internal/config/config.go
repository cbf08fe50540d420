package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingToken is returned by Load when no Telegram bot token is configured.
var ErrMissingToken = errors.New("TELEGRAM_TOKEN is required")

// DefaultServices is the service catalog offered on the service step.
var DefaultServices = []string{
	"Caries treatment",
	"Teeth whitening",
	"Veneers",
	"Teeth cleaning",
	"Tooth extraction",
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// GetDSN returns the lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// StoreConfig selects the Record Store backend.
type StoreConfig struct {
	Driver     string         `yaml:"driver"` // sqlite | postgres | memory
	SQLitePath string         `yaml:"sqlite_path"`
	Postgres   DatabaseConfig `yaml:"postgres"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SessionConfig controls where per-conversation scratch state lives.
type SessionConfig struct {
	Backend   string        `yaml:"backend"` // memory | redis
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// TelegramConfig Bot API 配置
type TelegramConfig struct {
	Token       string        `yaml:"token"`
	APIURL      string        `yaml:"api_url"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	Workers     int           `yaml:"workers"`
}

// ExportConfig controls where spreadsheet exports are written.
type ExportConfig struct {
	Dir      string `yaml:"dir"`
	FileName string `yaml:"file_name"`
}

// MQTTConfig MQTT 配置（用于发布已保存的就诊记录）
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// NotifyConfig controls publication of committed visits.
type NotifyConfig struct {
	MQTT   MQTTConfig `yaml:"mqtt"`
	Stream string     `yaml:"stream"` // Redis stream name, empty disables it
}

// Config dental-bot 配置
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Session  SessionConfig  `yaml:"session"`
	Export   ExportConfig   `yaml:"export"`
	Notify   NotifyConfig   `yaml:"notify"`
	HTTP     struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"http"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Services []string `yaml:"services"`
}

// Load 加载配置: defaults, then the optional CONFIG_FILE, then environment
// variables. A missing Telegram token is an error.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	if err := applyQoS(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, ErrMissingToken
	}
	if len(cfg.Services) == 0 {
		cfg.Services = append([]string(nil), DefaultServices...)
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Telegram.APIURL = "https://api.telegram.org"
	cfg.Telegram.PollTimeout = 30 * time.Second
	cfg.Telegram.Workers = 8

	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "patients.db"
	cfg.Store.Postgres = DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "dental",
		SSLMode:  "disable",
	}

	cfg.Redis.Addr = "localhost:6379"

	cfg.Session.Backend = "memory"
	cfg.Session.TTL = 24 * time.Hour
	cfg.Session.KeyPrefix = "dental-bot:session:"

	cfg.Export.Dir = "exports"
	cfg.Export.FileName = "patients_export.xlsx"

	cfg.Notify.MQTT.Broker = "tcp://localhost:1883"
	cfg.Notify.MQTT.ClientID = "dental-bot"
	cfg.Notify.MQTT.Topic = "dental/visits"
	cfg.Notify.MQTT.QoS = 1

	cfg.HTTP.Addr = "127.0.0.1:8080"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Telegram.Token = getEnv("TELEGRAM_TOKEN", cfg.Telegram.Token)
	cfg.Telegram.APIURL = getEnv("TELEGRAM_API_URL", cfg.Telegram.APIURL)
	cfg.Telegram.PollTimeout = parseDuration(os.Getenv("TELEGRAM_POLL_TIMEOUT"), cfg.Telegram.PollTimeout)
	cfg.Telegram.Workers = parseInt(os.Getenv("TELEGRAM_WORKERS"), cfg.Telegram.Workers)

	cfg.Store.Driver = strings.ToLower(getEnv("STORE_DRIVER", cfg.Store.Driver))
	cfg.Store.SQLitePath = getEnv("SQLITE_PATH", cfg.Store.SQLitePath)
	pg := &cfg.Store.Postgres
	pg.Host = getEnv("DB_HOST", pg.Host)
	pg.Port = parseInt(os.Getenv("DB_PORT"), pg.Port)
	pg.User = getEnv("DB_USER", pg.User)
	pg.Password = getEnv("DB_PASSWORD", pg.Password)
	pg.Database = getEnv("DB_NAME", pg.Database)
	pg.SSLMode = getEnv("DB_SSLMODE", pg.SSLMode)
	pg.MaxConns = parseInt(os.Getenv("DB_MAX_CONNS"), pg.MaxConns)
	pg.MaxIdle = parseInt(os.Getenv("DB_MAX_IDLE"), pg.MaxIdle)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = parseInt(os.Getenv("REDIS_DB"), cfg.Redis.DB)

	cfg.Session.Backend = strings.ToLower(getEnv("SESSION_BACKEND", cfg.Session.Backend))
	cfg.Session.TTL = parseDuration(os.Getenv("SESSION_TTL"), cfg.Session.TTL)
	cfg.Session.KeyPrefix = getEnv("SESSION_KEY_PREFIX", cfg.Session.KeyPrefix)

	cfg.Export.Dir = getEnv("EXPORT_DIR", cfg.Export.Dir)
	cfg.Export.FileName = getEnv("EXPORT_FILENAME", cfg.Export.FileName)

	m := &cfg.Notify.MQTT
	m.Enabled = parseBool(os.Getenv("MQTT_ENABLED"), m.Enabled)
	m.Broker = getEnv("MQTT_BROKER", m.Broker)
	m.ClientID = getEnv("MQTT_CLIENT_ID", m.ClientID)
	m.Username = getEnv("MQTT_USERNAME", m.Username)
	m.Password = getEnv("MQTT_PASSWORD", m.Password)
	m.Topic = getEnv("MQTT_TOPIC", m.Topic)
	cfg.Notify.Stream = getEnv("NOTIFY_STREAM", cfg.Notify.Stream)

	cfg.HTTP.Enabled = parseBool(os.Getenv("HTTP_ENABLED"), cfg.HTTP.Enabled)
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

// applyQoS reads MQTT_QOS; the level must be 0, 1 or 2 wherever it came from.
func applyQoS(cfg *Config) error {
	if v := os.Getenv("MQTT_QOS"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil || q < 0 || q > 2 {
			return fmt.Errorf("invalid MQTT_QOS %q: must be 0, 1 or 2", v)
		}
		cfg.Notify.MQTT.QoS = byte(q)
	}
	if cfg.Notify.MQTT.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos %d: must be 0, 1 or 2", cfg.Notify.MQTT.QoS)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseBool(s string, def bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
