// internal/config/config.go
package config

import (
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/YaganovValera/livefeed/pkg/backoff"
	"github.com/YaganovValera/livefeed/pkg/configloader"
	"github.com/YaganovValera/livefeed/pkg/feed"
	"github.com/YaganovValera/livefeed/pkg/httpserver"
	"github.com/YaganovValera/livefeed/pkg/kafka"
	"github.com/YaganovValera/livefeed/pkg/logger"
	"github.com/YaganovValera/livefeed/pkg/redis"
	"github.com/YaganovValera/livefeed/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. LIVEFEED_FEED_URL.
const EnvPrefix = "LIVEFEED"

// Config holds every service setting.
type Config struct {
	ServiceName    string            `mapstructure:"service_name"`
	ServiceVersion string            `mapstructure:"service_version"`
	Feed           FeedConfig        `mapstructure:"feed"`
	Window         WindowConfig      `mapstructure:"window"`
	Rate           RateConfig        `mapstructure:"rate"`
	Restart        RestartConfig     `mapstructure:"restart"`
	Kafka          KafkaConfig       `mapstructure:"kafka"`
	Redis          RedisConfig       `mapstructure:"redis"`
	Telemetry      telemetry.Config  `mapstructure:"telemetry"`
	Logging        logger.Config     `mapstructure:"logging"`
	HTTP           httpserver.Config `mapstructure:"http"`
}

// FeedConfig describes the upstream stream and how frames are decoded.
type FeedConfig struct {
	URL                  string           `mapstructure:"url"`
	Decoder              DecoderConfig    `mapstructure:"decoder"`
	Validation           ValidationConfig `mapstructure:"validation"`
	FrameBuffer          int              `mapstructure:"frame_buffer"`
	WarnLimit            float64          `mapstructure:"warn_limit"` // decode warnings per second, 0 = no cap
	WarnBurst            int              `mapstructure:"warn_burst"`
	feed.WebSocketConfig `mapstructure:",squash"`
}

// DecoderConfig selects a frame decoder.
type DecoderConfig struct {
	Kind         string   `mapstructure:"kind"` // text | json | presence | binary
	Field        string   `mapstructure:"field"`
	Match        []string `mapstructure:"match"`
	Width        int      `mapstructure:"width"`
	LittleEndian bool     `mapstructure:"little_endian"`
}

// ValidationConfig bounds accepted values. Min and Max are optional.
type ValidationConfig struct {
	AllowNonFinite bool     `mapstructure:"allow_non_finite"`
	Min            *float64 `mapstructure:"min"`
	Max            *float64 `mapstructure:"max"`
}

// WindowConfig sizes the recency window.
type WindowConfig struct {
	Capacity  int  `mapstructure:"capacity"`
	Snapshots bool `mapstructure:"snapshots"`
}

// RateConfig switches the pipeline to events-per-second mode.
type RateConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// RestartConfig controls reconnecting after a failed session.
type RestartConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Backoff backoff.Config `mapstructure:"backoff"`
}

// KafkaConfig enables republishing values to a topic.
type KafkaConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Topic        string `mapstructure:"topic"`
	QueueSize    int    `mapstructure:"queue_size"`
	kafka.Config `mapstructure:",squash"`
}

// RedisConfig enables caching the latest value under a key.
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Key          string `mapstructure:"key"`
	redis.Config `mapstructure:",squash"`
}

func init() {
	d := configloader.RegisterDefaults

	d("service_name", "livefeed")
	d("service_version", "v1.0.0")

	d("feed.url", "")
	d("feed.decoder.kind", "text")
	d("feed.decoder.field", "")
	d("feed.decoder.match", []string{})
	d("feed.decoder.width", 8)
	d("feed.decoder.little_endian", false)
	d("feed.handshake_timeout", "10s")
	d("feed.read_timeout", "60s")
	d("feed.ping_interval", "20s")
	d("feed.write_timeout", "1s")
	d("feed.frame_buffer", 64)
	d("feed.warn_limit", 0.0)
	d("feed.warn_burst", 10)
	d("feed.validation.allow_non_finite", false)

	d("window.capacity", 20)
	d("window.snapshots", false)

	d("rate.enabled", false)
	d("rate.interval", "5s")

	d("restart.enabled", true)
	d("restart.backoff.initial_interval", "1s")
	d("restart.backoff.max_interval", "30s")
	d("restart.backoff.multiplier", 2.0)
	d("restart.backoff.randomization_factor", 0.5)
	d("restart.backoff.max_elapsed_time", "0s")

	d("kafka.enabled", false)
	d("kafka.brokers", []string{})
	d("kafka.topic", "livefeed.values")
	d("kafka.acks", "all")
	d("kafka.compression", "none")
	d("kafka.timeout", "5s")
	d("kafka.queue_size", 1024)
	d("kafka.backoff.max_elapsed_time", "10s")

	d("redis.enabled", false)
	d("redis.url", "redis://localhost:6379/0")
	d("redis.key", "livefeed:latest")
	d("redis.ttl", "0s")
	d("redis.backoff.max_elapsed_time", "5s")

	d("telemetry.enabled", false)
	d("telemetry.otel_endpoint", "otel-collector:4317")
	d("telemetry.insecure", true)
	d("telemetry.sampler_ratio", 1.0)

	d("logging.level", "info")
	d("logging.dev_mode", false)

	d("http.port", 8080)
	d("http.read_timeout", "10s")
	d("http.write_timeout", "15s")
	d("http.idle_timeout", "60s")
	d("http.shutdown_timeout", "5s")
	d("http.metrics_path", "/metrics")
	d("http.healthz_path", "/healthz")
	d("http.readyz_path", "/readyz")
}

// Load reads defaults, the optional YAML file at path and LIVEFEED_*
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := configloader.Load(path, EnvPrefix, &cfg); err != nil {
		return nil, err
	}
	cfg.Telemetry.ServiceName = cfg.ServiceName
	cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	return &cfg, nil
}

// Validate checks cross-field rules the loaders cannot express.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required")
	}
	if err := c.Feed.validate(); err != nil {
		return err
	}
	if c.Window.Capacity <= 0 {
		return fmt.Errorf("window.capacity must be > 0")
	}
	if c.Rate.Enabled && c.Rate.Interval <= 0 {
		return fmt.Errorf("rate.interval must be > 0 when rate.enabled")
	}
	if err := c.Restart.Backoff.Validate(); err != nil {
		return fmt.Errorf("restart.%w", err)
	}
	if c.Kafka.Enabled {
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka.enabled")
		}
		if c.Kafka.QueueSize <= 0 {
			return fmt.Errorf("kafka.queue_size must be > 0")
		}
		if err := c.Kafka.Config.Validate(); err != nil {
			return err
		}
	}
	if c.Redis.Enabled {
		if c.Redis.Key == "" {
			return fmt.Errorf("redis.key is required when redis.enabled")
		}
		if err := c.Redis.Config.Validate(); err != nil {
			return err
		}
	}
	tel := c.Telemetry
	tel.ServiceName, tel.ServiceVersion = c.ServiceName, c.ServiceVersion
	if err := tel.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

func (f FeedConfig) validate() error {
	if f.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	u, err := url.Parse(f.URL)
	if err != nil {
		return fmt.Errorf("feed.url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("feed.url scheme must be ws or wss, got %q", u.Scheme)
	}
	switch strings.ToLower(f.Decoder.Kind) {
	case "text", "presence":
	case "json":
		if f.Decoder.Field == "" && len(f.Decoder.Match) > 0 {
			return fmt.Errorf("feed.decoder.match needs feed.decoder.field for the json decoder")
		}
	case "binary":
		if f.Decoder.Width != 4 && f.Decoder.Width != 8 {
			return fmt.Errorf("feed.decoder.width must be 4 or 8")
		}
	default:
		return fmt.Errorf("feed.decoder.kind must be one of [text, json, presence, binary]")
	}
	if _, err := feed.ParseMatch(f.Decoder.Match); err != nil {
		return err
	}
	if v := f.Validation; v.Min != nil && v.Max != nil && *v.Min > *v.Max {
		return fmt.Errorf("feed.validation.min must not exceed feed.validation.max")
	}
	if f.WarnLimit < 0 || f.WarnBurst < 0 {
		return fmt.Errorf("feed.warn_limit and feed.warn_burst must not be negative")
	}
	if f.FrameBuffer <= 0 {
		return fmt.Errorf("feed.frame_buffer must be > 0")
	}
	if f.HandshakeTimeout < 0 || f.ReadTimeout < 0 || f.PingInterval < 0 || f.WriteTimeout < 0 {
		return fmt.Errorf("feed timeouts must not be negative")
	}
	if f.ReadTimeout > 0 && f.PingInterval >= f.ReadTimeout {
		return fmt.Errorf("feed.ping_interval must be shorter than feed.read_timeout")
	}
	return nil
}

// BuildDecoder returns the decoder selected by the config.
func (f FeedConfig) BuildDecoder() (feed.Decoder, error) {
	match, err := feed.ParseMatch(f.Decoder.Match)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(f.Decoder.Kind) {
	case "", "text":
		return feed.TextDecoder{}, nil
	case "json":
		return feed.JSONDecoder{Field: f.Decoder.Field, Match: match}, nil
	case "presence":
		return feed.PresenceDecoder{Match: match}, nil
	case "binary":
		var order binary.ByteOrder = binary.BigEndian
		if f.Decoder.LittleEndian {
			order = binary.LittleEndian
		}
		return feed.BinaryDecoder{Width: f.Decoder.Width, Order: order}, nil
	default:
		return nil, fmt.Errorf("unknown decoder kind %q", f.Decoder.Kind)
	}
}

// BuildValidation converts the config into the connector's policy.
func (f FeedConfig) BuildValidation() feed.Validation {
	return feed.Validation{
		AllowNonFinite: f.Validation.AllowNonFinite,
		Min:            f.Validation.Min,
		Max:            f.Validation.Max,
	}
}
