package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// RetryPolicy is the {attempts, delay} pair every retried remote call is configured with.
type RetryPolicy struct {
	Attempts int           `yaml:"attempts" validate:"min=1"`
	Delay    time.Duration `yaml:"delay" validate:"min=0"`
}

type Selectors struct {
	Username string `yaml:"username" default:"input#userid" validate:"required"`
	Password string `yaml:"password" default:"input#password" validate:"required"`
	Continue string `yaml:"continue" default:"button[type=submit]" validate:"required"`
	Pin      string `yaml:"pin" default:"input#pin" validate:"required"`
	Login    string `yaml:"login" default:"button[type=submit]" validate:"required"`
}

type Config struct {
	Exchange    string   `yaml:"exchange" default:"NSE" validate:"oneof=NSE BSE NFO BFO MCX CDS"`
	Instruments []string `yaml:"instruments" validate:"required,min=1,dive,required"`

	Login struct {
		// DriverPath points at a Chrome/Chromium binary; empty means look it up on PATH.
		DriverPath      string        `yaml:"driver_path"`
		Headful         bool          `yaml:"headful"`
		ElementTimeout  time.Duration `yaml:"element_timeout" default:"10s" validate:"min=1ms"`
		RedirectTimeout time.Duration `yaml:"redirect_timeout" default:"30s" validate:"min=1ms"`
		RedirectPoll    time.Duration `yaml:"redirect_poll" default:"500ms" validate:"min=1ms"`
		Selectors       Selectors     `yaml:"selectors"`
	} `yaml:"login"`

	Session struct {
		Cache      string `yaml:"cache" default:"memory" validate:"oneof=memory redis"`
		ExpiryHour int    `yaml:"expiry_hour" default:"6" validate:"min=0,max=23"`
	} `yaml:"session"`

	Retry struct {
		Session     RetryPolicy `yaml:"session" default:"{\"Attempts\":3,\"Delay\":10000000000}"`
		Instruments RetryPolicy `yaml:"instruments" default:"{\"Attempts\":3,\"Delay\":10000000000}"`
		Portfolio   RetryPolicy `yaml:"portfolio" default:"{\"Attempts\":3,\"Delay\":5000000000}"`
		Historical  RetryPolicy `yaml:"historical" default:"{\"Attempts\":3,\"Delay\":5000000000}"`
		Connect     RetryPolicy `yaml:"connect" default:"{\"Attempts\":5,\"Delay\":10000000000}"`
	} `yaml:"retry"`

	Historical struct {
		MaxWindowDays int     `yaml:"max_window_days" default:"100" validate:"min=1"`
		Interval      string  `yaml:"interval" default:"day" validate:"oneof=minute 3minute 5minute 10minute 15minute 30minute 60minute day"`
		RatePerSecond float64 `yaml:"rate_per_second" default:"3" validate:"gt=0"`
		Burst         int     `yaml:"burst" default:"1" validate:"min=1"`
	} `yaml:"historical"`

	Market struct {
		Open               string        `yaml:"open" default:"09:15" validate:"datetime=15:04"`
		Close              string        `yaml:"close" default:"15:30" validate:"datetime=15:04"`
		PollInterval       time.Duration `yaml:"poll_interval" default:"1s" validate:"min=1ms"`
		LegacyClockCompare bool          `yaml:"legacy_clock_compare"`
		AllowWeekends      bool          `yaml:"allow_weekends"`
	} `yaml:"market"`

	Stream struct {
		ConnectTimeout            time.Duration `yaml:"connect_timeout" default:"30s" validate:"min=1ms"`
		BatchBuffer               int           `yaml:"batch_buffer" default:"256" validate:"min=1"`
		MaxConsecutiveStoreErrors int           `yaml:"max_consecutive_store_errors" default:"50" validate:"min=1"`
	} `yaml:"stream"`

	Storage struct {
		Backend    string `yaml:"backend" default:"postgres" validate:"oneof=postgres clickhouse"`
		Schema     string `yaml:"schema" default:"ticks" validate:"required"`
		ClickHouse struct {
			Addr     string        `yaml:"addr" default:"localhost:9000"`
			Database string        `yaml:"database" default:"autokite"`
			User     string        `yaml:"user" default:"default"`
			Timeout  time.Duration `yaml:"timeout" default:"10s"`
		} `yaml:"clickhouse"`
	} `yaml:"storage"`

	Redis struct {
		Addr string `yaml:"addr" default:"localhost:6379"`
		DB   int    `yaml:"db"`
		Key  string `yaml:"key" default:"autokite:session"`
	} `yaml:"redis"`

	Kafka struct {
		Enabled        bool          `yaml:"enabled"`
		Brokers        []string      `yaml:"brokers"`
		Topic          string        `yaml:"topic" default:"autokite.ticks"`
		QueueDepth     int           `yaml:"queue_depth" default:"64" validate:"min=1"`
		PublishTimeout time.Duration `yaml:"publish_timeout" default:"5s" validate:"min=1ms"`
	} `yaml:"kafka"`

	Status struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr" default:":9090"`
	} `yaml:"status"`
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	open, _ := time.Parse("15:04", c.Market.Open)
	closeAt, _ := time.Parse("15:04", c.Market.Close)
	if !open.Before(closeAt) {
		return fmt.Errorf("market.open %s must be before market.close %s", c.Market.Open, c.Market.Close)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
