package core

import (
	"fmt"
	"strings"
)

type WebhookConfig struct {
	Secret             string `koanf:"secret" mapstructure:"secret"`
	MaxRequestsPerHour int    `koanf:"max_requests_per_hour" mapstructure:"max_requests_per_hour"`
	MaxBodyBytes       int    `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	ProjectKey         string `koanf:"project_key" mapstructure:"project_key"`
	IssueType          string `koanf:"issue_type" mapstructure:"issue_type"`
}

type QueueConfig struct {
	BaseURL           string  `koanf:"base_url" mapstructure:"base_url"`
	InitialDelayMS    int     `koanf:"initial_delay_ms" mapstructure:"initial_delay_ms"`
	PollIntervalMS    int     `koanf:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	MaxPollIntervalMS int     `koanf:"max_poll_interval_ms" mapstructure:"max_poll_interval_ms"`
	PollMultiplier    float64 `koanf:"poll_multiplier" mapstructure:"poll_multiplier"`
	MaxPollAttempts   int     `koanf:"max_poll_attempts" mapstructure:"max_poll_attempts"`
}

type TrackerConfig struct {
	BaseURL        string  `koanf:"base_url" mapstructure:"base_url"`
	MaxRetries     int     `koanf:"max_retries" mapstructure:"max_retries"`
	InitialDelayMS int     `koanf:"initial_delay_ms" mapstructure:"initial_delay_ms"`
	MaxDelayMS     int     `koanf:"max_delay_ms" mapstructure:"max_delay_ms"`
	Multiplier     float64 `koanf:"multiplier" mapstructure:"multiplier"`
	JitterFactor   float64 `koanf:"jitter_factor" mapstructure:"jitter_factor"`
}

type StorageConfig struct {
	MaxRetries     int     `koanf:"max_retries" mapstructure:"max_retries"`
	InitialDelayMS int     `koanf:"initial_delay_ms" mapstructure:"initial_delay_ms"`
	MaxDelayMS     int     `koanf:"max_delay_ms" mapstructure:"max_delay_ms"`
	Multiplier     float64 `koanf:"multiplier" mapstructure:"multiplier"`
	JitterFactor   float64 `koanf:"jitter_factor" mapstructure:"jitter_factor"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	Webhook     WebhookConfig `koanf:"webhook" mapstructure:"webhook"`
	Queue       QueueConfig   `koanf:"queue" mapstructure:"queue"`
	Tracker     TrackerConfig `koanf:"tracker" mapstructure:"tracker"`
	Storage     StorageConfig `koanf:"storage" mapstructure:"storage"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "vault-bridge",
		Webhook: WebhookConfig{
			MaxRequestsPerHour: 50,
			MaxBodyBytes:       100 * 1024,
			IssueType:          "Task",
		},
		Queue: QueueConfig{
			InitialDelayMS:    500,
			PollIntervalMS:    1000,
			MaxPollIntervalMS: 5000,
			PollMultiplier:    1.5,
			MaxPollAttempts:   60,
		},
		Tracker: TrackerConfig{
			MaxRetries:     3,
			InitialDelayMS: 1000,
			MaxDelayMS:     30000,
			Multiplier:     2,
			JitterFactor:   0.2,
		},
		Storage: StorageConfig{
			MaxRetries:     3,
			InitialDelayMS: 500,
			MaxDelayMS:     10000,
			Multiplier:     2,
			JitterFactor:   0.2,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Webhook.MaxRequestsPerHour < 0 {
		return fmt.Errorf("core: webhook.max_requests_per_hour must not be negative")
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("core: webhook.max_body_bytes must be greater than zero")
	}
	if c.Queue.MaxPollAttempts <= 0 {
		return fmt.Errorf("core: queue.max_poll_attempts must be greater than zero")
	}
	if c.Queue.PollMultiplier < 1 {
		return fmt.Errorf("core: queue.poll_multiplier must be at least 1")
	}
	if c.Tracker.MaxRetries < 0 || c.Storage.MaxRetries < 0 {
		return fmt.Errorf("core: retry budgets must not be negative")
	}
	return nil
}
