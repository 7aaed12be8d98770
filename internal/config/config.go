package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration for the gateway.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Backend     BackendConfig             `json:"backend"`
	Google      GoogleConfig              `json:"google"`
	Kafka       KafkaConfig               `json:"kafka"`
}

type BasicConfig struct {
	ServerAddress      string `json:"server_address"`
	SessionTTLHours    int    `json:"session_ttl_hours"`
	PollIntervalMillis int    `json:"poll_interval_ms"`
	DisplayDelayMillis int    `json:"display_delay_ms"`
	MaxPollFailures    int    `json:"max_poll_failures"`
	AutoAttachUploads  *bool  `json:"auto_attach_uploads"`
	MaxUploadMegabytes int    `json:"max_upload_mb"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// BackendConfig locates the remote analytics service.
type BackendConfig struct {
	APIURL     string `json:"api_url"`
	APIBaseURL string `json:"api_base_url"`
	WSProtocol string `json:"ws_protocol"`
	WSHost     string `json:"ws_host"`
	TimeoutSec int    `json:"timeout_sec"`
}

type GoogleConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultDisplayDelay    = 2 * time.Second
	DefaultMaxPollFailures = 5
	DefaultSessionTTL      = 24 * time.Hour
	DefaultServerAddress   = ":8090"

	wsQueryPath = "/v2/api/chat/ws/query"
)

// Load reads configuration from the provided path (defaults to config.json)
// and applies environment overrides. A missing file is not an error when the
// environment supplies the backend location.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv()

	if cfg.Backend.BaseURL() == "" {
		return nil, fmt.Errorf("backend api_base_url must be configured")
	}
	if dsn := cfg.Databases["sqlite3"].DSN; dsn != "" && dsn != ":memory:" && !filepath.IsAbs(dsn) {
		db := cfg.Databases["sqlite3"]
		db.DSN = filepath.Join(filepath.Dir(absPath), dsn)
		cfg.Databases["sqlite3"] = db
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Backend.APIURL = getEnv("NEXT_PUBLIC_API_URL", c.Backend.APIURL)
	c.Backend.APIBaseURL = getEnv("NEXT_PUBLIC_API_BASE_URL", c.Backend.APIBaseURL)
	c.Backend.WSProtocol = getEnv("NEXT_PUBLIC_BACKEND_WS_PROTOCOL", c.Backend.WSProtocol)
	c.Backend.WSHost = getEnv("NEXT_PUBLIC_BACKEND_WS_HOST", c.Backend.WSHost)
	c.Google.ClientID = getEnv("NEXT_PUBLIC_GOOGLE_CLIENT_ID", c.Google.ClientID)
	c.BasicConfig.ServerAddress = getEnv("UREKA_ADDR", c.BasicConfig.ServerAddress)

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		host, port, ok := strings.Cut(addr, ":")
		c.Redis.Host = host
		if ok {
			c.Redis.Port = atoiOr(port, c.Redis.Port)
		}
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if dsn := os.Getenv("UREKA_SQLITE_DSN"); dsn != "" {
		if c.Databases == nil {
			c.Databases = make(map[string]DatabaseConfig)
		}
		db := c.Databases["sqlite3"]
		db.DSN = dsn
		c.Databases["sqlite3"] = db
	}
}

// BaseURL is the REST base of the backend; API_BASE_URL wins over API_URL.
func (b BackendConfig) BaseURL() string {
	base := b.APIBaseURL
	if base == "" {
		base = b.APIURL
	}
	return strings.TrimRight(base, "/")
}

// WebSocketQueryURL builds the streaming query endpoint.
func (b BackendConfig) WebSocketQueryURL() string {
	proto := b.WSProtocol
	if proto == "" {
		proto = "wss"
	}
	host := b.WSHost
	if host == "" {
		if u, err := url.Parse(b.BaseURL()); err == nil {
			host = u.Host
		}
	}
	if host == "" {
		return ""
	}
	proto = strings.TrimSuffix(proto, "://")
	proto = strings.TrimSuffix(proto, ":")
	return proto + "://" + strings.TrimRight(host, "/") + wsQueryPath
}

// Timeout returns the REST request timeout.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutSec <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(b.TimeoutSec) * time.Second
}

func (b BasicConfig) PollInterval() time.Duration {
	return millisOr(b.PollIntervalMillis, DefaultPollInterval)
}

func (b BasicConfig) DisplayDelay() time.Duration {
	return millisOr(b.DisplayDelayMillis, DefaultDisplayDelay)
}

func (b BasicConfig) MaxFailures() int {
	if b.MaxPollFailures <= 0 {
		return DefaultMaxPollFailures
	}
	return b.MaxPollFailures
}

func (b BasicConfig) SessionTTL() time.Duration {
	if b.SessionTTLHours <= 0 {
		return DefaultSessionTTL
	}
	return time.Duration(b.SessionTTLHours) * time.Hour
}

// AutoAttach defaults to true: a finished upload lands in the chat it came from.
func (b BasicConfig) AutoAttach() bool {
	if b.AutoAttachUploads == nil {
		return true
	}
	return *b.AutoAttachUploads
}

func (b BasicConfig) MaxUploadBytes() int64 {
	if b.MaxUploadMegabytes <= 0 {
		return 10 << 20
	}
	return int64(b.MaxUploadMegabytes) << 20
}

func (b BasicConfig) Address() string {
	if b.ServerAddress == "" {
		return DefaultServerAddress
	}
	return b.ServerAddress
}

func millisOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func atoiOr(raw string, defaultValue int) int {
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	return defaultValue
}
