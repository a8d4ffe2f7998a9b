package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every setting of the matching engine process. Load reads a
// YAML file over Default() and then applies BLITZ_* environment overrides.
type Config struct {
	Engine struct {
		// Multiplier applied to the best price when quoting holds.
		HoldBuffer decimal.Decimal `yaml:"hold_buffer"`
		// Serial lanes used by the intake adapters. Orders for one
		// instrument always land on the same lane.
		Lanes      int `yaml:"lanes"`
		DepthLevel int `yaml:"depth_level"`
	} `yaml:"engine"`

	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		GroupID string   `yaml:"group_id"`
		Topics  Topics   `yaml:"topics"`
	} `yaml:"kafka"`

	Gateway struct {
		Enabled     bool          `yaml:"enabled"`
		Address     string        `yaml:"address"`
		Port        int           `yaml:"port"`
		ReadTimeout time.Duration `yaml:"read_timeout"`
	} `yaml:"gateway"`

	HTTP struct {
		Address     string   `yaml:"address"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"http"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "console" or "json"
		File   string `yaml:"file"`   // empty disables file output
		// Rotation, see lumberjack.Logger.
		MaxSizeMB  int  `yaml:"max_size_mb"`
		MaxBackups int  `yaml:"max_backups"`
		MaxAgeDays int  `yaml:"max_age_days"`
		Compress   bool `yaml:"compress"`
	} `yaml:"logging"`
}

type Topics struct {
	OrderCreated   string `yaml:"order_created"`
	OrderCancel    string `yaml:"order_cancel"`
	OrderExecuted  string `yaml:"order_executed"`
	OrderRejected  string `yaml:"order_rejected"`
	OrderCancelled string `yaml:"order_cancelled"`
	LTPUpdated     string `yaml:"ltp_updated"`
}

func Default() *Config {
	cfg := &Config{}

	cfg.Engine.HoldBuffer = decimal.RequireFromString("1.1")
	cfg.Engine.Lanes = 16
	cfg.Engine.DepthLevel = 5

	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.GroupID = "matching-engine"
	cfg.Kafka.Topics = Topics{
		OrderCreated:   "order-service.order-created",
		OrderCancel:    "order-service.order-cancel",
		OrderExecuted:  "matching-engine.order-executed",
		OrderRejected:  "matching-engine.order-rejected",
		OrderCancelled: "matching-engine.order-cancelled",
		LTPUpdated:     "matching-engine.ltp-updated",
	}

	cfg.Gateway.Address = "0.0.0.0"
	cfg.Gateway.Port = 9001
	cfg.Gateway.ReadTimeout = 30 * time.Second

	cfg.HTTP.Address = ":8080"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"
	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28
	return cfg
}

// Load starts from Default, so a missing key in the file keeps its default.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if !c.Engine.HoldBuffer.IsPositive() {
		return invalid("engine.hold_buffer must be positive")
	}
	if c.Engine.Lanes <= 0 {
		return invalid("engine.lanes must be positive")
	}
	if c.Engine.DepthLevel <= 0 {
		return invalid("engine.depth_level must be positive")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return invalid("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topics.OrderCreated == "" {
			return invalid("kafka.topics.order_created is required")
		}
	}
	if c.Gateway.Enabled && (c.Gateway.Port <= 0 || c.Gateway.Port > 65535) {
		return invalid("gateway.port %d out of range", c.Gateway.Port)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return invalid("logging.format %q", c.Logging.Format)
	}
	return nil
}

func overrideWithEnv(cfg *Config) error {
	if v := os.Getenv("BLITZ_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("BLITZ_KAFKA_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: BLITZ_KAFKA_ENABLED: %v", ErrInvalidConfig, err)
		}
		cfg.Kafka.Enabled = enabled
	}
	if v := os.Getenv("BLITZ_HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("BLITZ_GATEWAY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: BLITZ_GATEWAY_PORT: %v", ErrInvalidConfig, err)
		}
		cfg.Gateway.Port = port
	}
	if v := os.Getenv("BLITZ_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
