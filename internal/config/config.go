// Package config provides configuration loading and validation for reclaimd.
// Supports YAML files with environment variable overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path
// used by Load.
const EnvConfigPath = "RECLAIM_CONFIG"

// Config holds all configuration for reclaimd.
type Config struct {
	Director      DirectorConfig      `yaml:"director"`
	Cleanup       CleanupConfig       `yaml:"cleanup"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	Blobstore     BlobstoreConfig     `yaml:"blobstore"`
	Cloud         CloudConfig         `yaml:"cloud"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Observability ObservabilityConfig `yaml:"observability"`
	EventLog      EventLogConfig      `yaml:"eventLog"`
}

type DirectorConfig struct {
	Name string `yaml:"name" env:"RECLAIM_DIRECTOR_NAME"`

	// MaxThreads bounds how many deletions run at once.
	MaxThreads int `yaml:"maxThreads" env:"RECLAIM_MAX_THREADS"`
}

type CleanupConfig struct {
	ReleaseLockTimeoutMs int64 `yaml:"releaseLockTimeoutMs" env:"RECLAIM_RELEASE_LOCK_TIMEOUT_MS"`

	// Schedule is a cron spec for periodic cleanup in serve mode. Empty disables it.
	Schedule          string `yaml:"schedule" env:"RECLAIM_CLEANUP_SCHEDULE"`
	ScheduleRemoveAll bool   `yaml:"scheduleRemoveAll" env:"RECLAIM_CLEANUP_SCHEDULE_REMOVE_ALL"`
}

// ReleaseLockTimeout returns the release lock timeout as a duration.
func (c CleanupConfig) ReleaseLockTimeout() time.Duration {
	return time.Duration(c.ReleaseLockTimeoutMs) * time.Millisecond
}

type MetadataConfig struct {
	OxiaEndpoint string `yaml:"oxiaEndpoint" env:"RECLAIM_OXIA_ENDPOINT"`
	Namespace    string `yaml:"namespace" env:"RECLAIM_OXIA_NAMESPACE"`
}

type BlobstoreConfig struct {
	Endpoint  string `yaml:"endpoint" env:"RECLAIM_S3_ENDPOINT"`
	Bucket    string `yaml:"bucket" env:"RECLAIM_S3_BUCKET"`
	Region    string `yaml:"region" env:"RECLAIM_S3_REGION"`
	AccessKey string `yaml:"accessKey" env:"RECLAIM_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"RECLAIM_S3_SECRET_KEY"`
	PathStyle bool   `yaml:"pathStyle" env:"RECLAIM_S3_PATH_STYLE"`
}

// Cloud provider names.
const (
	CloudProviderEC2  = "ec2"
	CloudProviderNone = "none"
)

type CloudConfig struct {
	Provider  string `yaml:"provider" env:"RECLAIM_CLOUD_PROVIDER"`
	Region    string `yaml:"region" env:"RECLAIM_CLOUD_REGION"`
	Endpoint  string `yaml:"endpoint" env:"RECLAIM_CLOUD_ENDPOINT"`
	AccessKey string `yaml:"accessKey" env:"RECLAIM_CLOUD_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"RECLAIM_CLOUD_SECRET_KEY"`
}

type JobsConfig struct {
	// Brokers enables the Kafka request consumer when non-empty.
	Brokers       []string `yaml:"brokers" env:"RECLAIM_KAFKA_BROKERS"`
	RequestTopic  string   `yaml:"requestTopic" env:"RECLAIM_KAFKA_REQUEST_TOPIC"`
	ResultTopic   string   `yaml:"resultTopic" env:"RECLAIM_KAFKA_RESULT_TOPIC"`
	ConsumerGroup string   `yaml:"consumerGroup" env:"RECLAIM_KAFKA_CONSUMER_GROUP"`
	CreateTopics  bool     `yaml:"createTopics" env:"RECLAIM_KAFKA_CREATE_TOPICS"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"RECLAIM_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"RECLAIM_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"RECLAIM_LOG_FORMAT"`
}

type EventLogConfig struct {
	Archive bool   `yaml:"archive" env:"RECLAIM_EVENT_LOG_ARCHIVE"`
	Prefix  string `yaml:"prefix" env:"RECLAIM_EVENT_LOG_PREFIX"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Director: DirectorConfig{
			Name:       "reclaim",
			MaxThreads: 32,
		},
		Cleanup: CleanupConfig{
			ReleaseLockTimeoutMs: 10000, // 10s
		},
		Metadata: MetadataConfig{
			OxiaEndpoint: "localhost:6648",
			Namespace:    "reclaim",
		},
		Blobstore: BlobstoreConfig{
			Region: "us-east-1",
		},
		Cloud: CloudConfig{
			Provider: CloudProviderNone,
			Region:   "us-east-1",
		},
		Jobs: JobsConfig{
			RequestTopic:  "reclaim.jobs.requests",
			ResultTopic:   "reclaim.jobs.results",
			ConsumerGroup: "reclaimd",
			CreateTopics:  true,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		EventLog: EventLogConfig{
			Prefix: "event-logs",
		},
	}
}

// Load reads the file named by RECLAIM_CONFIG, if set, over the defaults,
// then applies environment overrides and validates.
func Load() (*Config, error) {
	return LoadFromPath(os.Getenv(EnvConfigPath))
}

// LoadFromPath reads path over the defaults, then applies environment
// overrides and validates. An empty path skips the file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Keys absent from data keep their current
// values; unknown keys are an error.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Validate checks cfg for values reclaimd cannot run with.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Director.MaxThreads <= 0 {
		invalid("director.maxThreads must be positive, got %d", c.Director.MaxThreads)
	}
	if c.Cleanup.ReleaseLockTimeoutMs <= 0 {
		invalid("cleanup.releaseLockTimeoutMs must be positive, got %d", c.Cleanup.ReleaseLockTimeoutMs)
	}
	if c.Metadata.OxiaEndpoint == "" {
		invalid("metadata.oxiaEndpoint is required")
	}
	if c.Metadata.Namespace == "" {
		invalid("metadata.namespace is required")
	}
	if c.Blobstore.Bucket == "" {
		invalid("blobstore.bucket is required")
	}
	switch c.Cloud.Provider {
	case CloudProviderEC2, CloudProviderNone:
	default:
		invalid("cloud.provider must be %q or %q, got %q", CloudProviderEC2, CloudProviderNone, c.Cloud.Provider)
	}
	if len(c.Jobs.Brokers) > 0 {
		if c.Jobs.RequestTopic == "" || c.Jobs.ResultTopic == "" {
			invalid("jobs.requestTopic and jobs.resultTopic are required with brokers")
		}
		if c.Jobs.RequestTopic == c.Jobs.ResultTopic {
			invalid("jobs.requestTopic and jobs.resultTopic must differ")
		}
		if c.Jobs.ConsumerGroup == "" {
			invalid("jobs.consumerGroup is required with brokers")
		}
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "json", "text":
	default:
		invalid("observability.logFormat must be json or text, got %q", c.Observability.LogFormat)
	}
	return errors.Join(errs...)
}
