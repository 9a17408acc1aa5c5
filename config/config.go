package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	FactoryID string          `yaml:"factory_id"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Units     []UnitConfig    `yaml:"units"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Messaging MessagingConfig `yaml:"messaging"`
	Web       WebConfig       `yaml:"web"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type SchedulerConfig struct {
	Mode         string        `yaml:"mode"` // "discrete" or "realtime"
	TickInterval time.Duration `yaml:"tick_interval"`
	// Step is the logical time added per tick in discrete mode.
	Step time.Duration `yaml:"step"`
}

type DispatchConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	// JournalBuffer bounds the events waiting for the store worker.
	JournalBuffer int `yaml:"journal_buffer"`
}

type UnitConfig struct {
	ID            string        `yaml:"id"`
	Kind          string        `yaml:"kind"`
	CycleDuration time.Duration `yaml:"cycle_duration"`
	Capacity      int           `yaml:"capacity"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MessagingConfig struct {
	Backend             string        `yaml:"backend"` // "kafka", "mqtt" or "none"
	Kafka               KafkaConfig   `yaml:"kafka"`
	MQTT                MQTTConfig    `yaml:"mqtt"`
	OrdersTopic         string        `yaml:"orders_topic"`
	EventsTopic         string        `yaml:"events_topic"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

type WebConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	SessionSecret     string `yaml:"session_secret"`
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"` // bcrypt
}

func Defaults() *Config {
	return &Config{
		FactoryID: "plant-1",
		Log:       LogConfig{Level: "info"},
		Scheduler: SchedulerConfig{
			Mode:         "realtime",
			TickInterval: 250 * time.Millisecond,
			Step:         time.Second,
		},
		Dispatch: DispatchConfig{
			MaxAttempts:   3,
			JournalBuffer: 1024,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "floorcore.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "floorcore",
				User:     "floorcore",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{Address: "localhost:6379"},
		Messaging: MessagingConfig{
			Backend:             "none",
			Kafka:               KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "floorcore"},
			MQTT:                MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "floorcore", QoS: 1},
			OrdersTopic:         "floorcore.orders",
			EventsTopic:         "floorcore.events",
			OutboxDrainInterval: 2 * time.Second,
		},
		Web: WebConfig{
			Host:      "0.0.0.0",
			Port:      8083,
			AdminUser: "admin",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config back as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) Validate() error {
	switch c.Scheduler.Mode {
	case "discrete", "realtime":
	default:
		return fmt.Errorf("scheduler.mode must be discrete or realtime, got %q", c.Scheduler.Mode)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	if c.Scheduler.Mode == "discrete" && c.Scheduler.Step <= 0 {
		return fmt.Errorf("scheduler.step must be positive in discrete mode")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be at least 1")
	}

	seen := make(map[string]bool, len(c.Units))
	for i, u := range c.Units {
		if u.ID == "" {
			return fmt.Errorf("units[%d]: id is required", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("units[%d]: duplicate id %q", i, u.ID)
		}
		seen[u.ID] = true
		if u.Kind != "machine" && u.Kind != "warehouse" {
			return fmt.Errorf("units[%d] %s: kind must be machine or warehouse", i, u.ID)
		}
		if u.Capacity < 0 {
			return fmt.Errorf("units[%d] %s: capacity must not be negative", i, u.ID)
		}
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.Messaging.Backend {
	case "kafka", "mqtt", "none":
	default:
		return fmt.Errorf("unsupported messaging backend: %s", c.Messaging.Backend)
	}
	return nil
}
