package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	SourceTopic      string   `yaml:"source_topic"`
	Group            string   `yaml:"group"`
	DestinationTopic string   `yaml:"destination_topic"`
	DeadLetterTopic  string   `yaml:"dead_letter_topic"`
	QueueDepth       int      `yaml:"queue_depth"`
}

type RegistryConfig struct {
	URL      string `yaml:"url"`
	SchemaID int    `yaml:"schema_id"`
}

type EmbedConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Normalize  bool   `yaml:"normalize"`
	VectorSize int    `yaml:"vector_size"`
}

type RetryConfig struct {
	MaxAttempts       int `yaml:"max_attempts"`
	InitialIntervalMs int `yaml:"initial_interval_ms"`
	MaxIntervalMs     int `yaml:"max_interval_ms"`
}

func (r RetryConfig) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMs) * time.Millisecond
}

func (r RetryConfig) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMs) * time.Millisecond
}

// Mapping describes how a row payload becomes a document: which column
// identifies the row, which columns carry the text, and which columns ride
// along as metadata. One pipeline syncs one table's topic, so there is a
// single mapping per process.
type Mapping struct {
	KeyColumn       string   `yaml:"key_column"`
	TextColumns     []string `yaml:"text_columns"`
	MetadataColumns []string `yaml:"metadata_columns"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	Kafka    KafkaConfig    `yaml:"kafka"`
	Registry RegistryConfig `yaml:"registry"`
	Embed    EmbedConfig    `yaml:"embed"`
	Retry    RetryConfig    `yaml:"retry"`
	Mapping  Mapping        `yaml:"mapping"`
	HTTP     HTTPConfig     `yaml:"http"`
}

func LoadFromEnv() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		return Config{}, errors.New("CONFIG_PATH is not set")
	}
	return LoadFile(path)
}

func LoadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, err
	}

	// Apply defaults
	if c.Kafka.QueueDepth <= 0 {
		c.Kafka.QueueDepth = 64
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialIntervalMs <= 0 {
		c.Retry.InitialIntervalMs = 200
	}
	if c.Retry.MaxIntervalMs <= 0 {
		c.Retry.MaxIntervalMs = 5000
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if c.Kafka.SourceTopic == "" {
		return errors.New("kafka.source_topic is required")
	}
	if c.Kafka.Group == "" {
		return errors.New("kafka.group is required")
	}
	if c.Kafka.DestinationTopic == "" {
		return errors.New("kafka.destination_topic is required")
	}
	if c.Kafka.DeadLetterTopic == "" {
		return errors.New("kafka.dead_letter_topic is required")
	}
	if c.Registry.URL == "" {
		return errors.New("registry.url is required")
	}
	if c.Registry.SchemaID <= 0 {
		return fmt.Errorf("registry.schema_id must be positive, got %d", c.Registry.SchemaID)
	}
	if c.Embed.Provider == "" {
		return errors.New("embed.provider is required")
	}
	return nil
}
