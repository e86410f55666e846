package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	BoiPrint BoiPrintConfig `yaml:"boiprint"`
	Pathao   PathaoConfig   `yaml:"pathao" envPrefix:"PATHAO_"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	// URL wins over the discrete fields when set.
	URL      string `yaml:"url" env:"DATABASE_URL"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password" env:"DATABASE_PASSWORD"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`

	StatusUpdatedTopicName string `yaml:"status_updated_topic_name"`
	ReconcileTopicName     string `yaml:"reconcile_topic_name"`
	ConsumerGroup          string `yaml:"consumer_group"`
}

type RedisConfig struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type BoiPrintConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// Port mirrors the PORT convention of PaaS hosts; it overrides HTTPAddr.
	Port int `yaml:"-" env:"PORT"`

	DispatchLeaseSeconds    int `yaml:"dispatch_lease_seconds"`
	LocationCacheTTLSeconds int `yaml:"location_cache_ttl_seconds"`
	ConfirmAttempts         int `yaml:"confirm_attempts"`
	ConfirmBackoffMillis    int `yaml:"confirm_backoff_millis"`
	FirstSyncDelaySeconds   int `yaml:"first_sync_delay_seconds"`

	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerConcurrency         int    `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int    `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int    `yaml:"worker_rate_limit_per_minute"`

	// Worker scheduling (optional). Defaults: in transit 30..120 minutes, unknown 90 minutes,
	// backoff 5/15/30/60 minutes.
	WorkerNextSyncInTransitMinSeconds int `yaml:"worker_next_sync_in_transit_min_seconds"`
	WorkerNextSyncInTransitMaxSeconds int `yaml:"worker_next_sync_in_transit_max_seconds"`
	WorkerNextSyncUnknownSeconds      int `yaml:"worker_next_sync_unknown_seconds"`
	WorkerBackoff1Seconds             int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds             int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds             int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds             int `yaml:"worker_backoff_4_seconds"`
}

type PathaoConfig struct {
	Mode         string `yaml:"mode" env:"MODE"` // "pathao" | "fake"
	BaseURL      string `yaml:"base_url" env:"BASE_URL"`
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	GrantType    string `yaml:"grant_type" env:"GRANT_TYPE"`
	Username     string `yaml:"username" env:"USERNAME"`
	Password     string `yaml:"password" env:"PASSWORD"`
	StoreID      int64  `yaml:"store_id" env:"STORE_ID"`

	TimeoutSeconds            int     `yaml:"timeout_seconds"`
	CreateOrderTimeoutSeconds int     `yaml:"create_order_timeout_seconds"`
	SafetyMarginSeconds       int     `yaml:"safety_margin_seconds"`
	RateLimitPerSecond        float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst            int     `yaml:"rate_limit_burst"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// LoadConfig reads the YAML file (skipped when filename is empty) and applies environment overrides.
func LoadConfig(filename string) (*Config, error) {
	var config Config
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
		}
	}
	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse env: %w", err)
	}
	return &config, nil
}

// ConnString returns an empty string when no database is configured.
func (c DatabaseConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Host == "" {
		return ""
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// BrokerList returns nil when Kafka is not configured.
func (c KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range c.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	if len(out) > 0 {
		return out
	}
	if c.Host == "" {
		return nil
	}
	port := c.Port
	if port == 0 {
		port = 9092
	}
	return []string{fmt.Sprintf("%s:%d", c.Host, port)}
}

func (c KafkaConfig) StatusUpdatedTopic() string {
	if c.StatusUpdatedTopicName == "" {
		return "courier.status.updated"
	}
	return c.StatusUpdatedTopicName
}

func (c KafkaConfig) ReconcileTopic() string {
	if c.ReconcileTopicName == "" {
		return "courier.dispatch.reconcile"
	}
	return c.ReconcileTopicName
}

func (c KafkaConfig) Group(def string) string {
	if c.ConsumerGroup == "" {
		return def
	}
	return c.ConsumerGroup
}

// Address returns an empty string when Redis is not configured.
func (c RedisConfig) Address() string {
	if c.Addr != "" {
		return c.Addr
	}
	if c.Host == "" {
		return ""
	}
	port := c.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

func (c BoiPrintConfig) ListenAddr() string {
	if c.Port > 0 {
		return fmt.Sprintf(":%d", c.Port)
	}
	if c.HTTPAddr == "" {
		return ":3000"
	}
	return c.HTTPAddr
}

func (c BoiPrintConfig) WorkerListenAddr() string {
	if c.WorkerHTTPAddr == "" {
		return ":8082"
	}
	return c.WorkerHTTPAddr
}

func (c PathaoConfig) UseFake() bool {
	return strings.EqualFold(c.Mode, "fake")
}

func (c PathaoConfig) Grant() string {
	if c.GrantType == "" {
		return "password"
	}
	return c.GrantType
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c PathaoConfig) Timeout() time.Duration            { return seconds(c.TimeoutSeconds) }
func (c PathaoConfig) CreateOrderTimeout() time.Duration { return seconds(c.CreateOrderTimeoutSeconds) }
func (c PathaoConfig) SafetyMargin() time.Duration       { return seconds(c.SafetyMarginSeconds) }
