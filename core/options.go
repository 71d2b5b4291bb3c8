package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

// ConfigProvider loads configuration over the supplied defaults.
type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

// RawConfigLoader surfaces raw key/value config data from any source.
type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

// OptionsResolver merges defaults, loaded config, and runtime overrides.
type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// NewStaticRawConfigLoader wraps fixed values as a raw loader, mostly for
// tests and embedded setups.
func NewStaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	webhook := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Webhook.Secret) != "" {
		webhook["secret"] = cfg.Webhook.Secret
	}
	if includeZero || cfg.Webhook.MaxRequestsPerHour != 0 {
		webhook["max_requests_per_hour"] = cfg.Webhook.MaxRequestsPerHour
	}
	if includeZero || cfg.Webhook.MaxBodyBytes != 0 {
		webhook["max_body_bytes"] = cfg.Webhook.MaxBodyBytes
	}
	if includeZero || strings.TrimSpace(cfg.Webhook.ProjectKey) != "" {
		webhook["project_key"] = cfg.Webhook.ProjectKey
	}
	if includeZero || strings.TrimSpace(cfg.Webhook.IssueType) != "" {
		webhook["issue_type"] = cfg.Webhook.IssueType
	}
	if len(webhook) > 0 {
		layer["webhook"] = webhook
	}

	queue := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Queue.BaseURL) != "" {
		queue["base_url"] = cfg.Queue.BaseURL
	}
	if includeZero || cfg.Queue.InitialDelayMS != 0 {
		queue["initial_delay_ms"] = cfg.Queue.InitialDelayMS
	}
	if includeZero || cfg.Queue.PollIntervalMS != 0 {
		queue["poll_interval_ms"] = cfg.Queue.PollIntervalMS
	}
	if includeZero || cfg.Queue.MaxPollIntervalMS != 0 {
		queue["max_poll_interval_ms"] = cfg.Queue.MaxPollIntervalMS
	}
	if includeZero || cfg.Queue.PollMultiplier != 0 {
		queue["poll_multiplier"] = cfg.Queue.PollMultiplier
	}
	if includeZero || cfg.Queue.MaxPollAttempts != 0 {
		queue["max_poll_attempts"] = cfg.Queue.MaxPollAttempts
	}
	if len(queue) > 0 {
		layer["queue"] = queue
	}

	if tracker := retryLayerMap(
		cfg.Tracker.BaseURL,
		cfg.Tracker.MaxRetries,
		cfg.Tracker.InitialDelayMS,
		cfg.Tracker.MaxDelayMS,
		cfg.Tracker.Multiplier,
		cfg.Tracker.JitterFactor,
		includeZero,
	); len(tracker) > 0 {
		layer["tracker"] = tracker
	}
	if storage := retryLayerMap(
		"",
		cfg.Storage.MaxRetries,
		cfg.Storage.InitialDelayMS,
		cfg.Storage.MaxDelayMS,
		cfg.Storage.Multiplier,
		cfg.Storage.JitterFactor,
		includeZero,
	); len(storage) > 0 {
		delete(storage, "base_url")
		layer["storage"] = storage
	}
	return layer
}

func retryLayerMap(
	baseURL string,
	maxRetries int,
	initialDelayMS int,
	maxDelayMS int,
	multiplier float64,
	jitterFactor float64,
	includeZero bool,
) map[string]any {
	out := map[string]any{}
	if includeZero || strings.TrimSpace(baseURL) != "" {
		out["base_url"] = baseURL
	}
	if includeZero || maxRetries != 0 {
		out["max_retries"] = maxRetries
	}
	if includeZero || initialDelayMS != 0 {
		out["initial_delay_ms"] = initialDelayMS
	}
	if includeZero || maxDelayMS != 0 {
		out["max_delay_ms"] = maxDelayMS
	}
	if includeZero || multiplier != 0 {
		out["multiplier"] = multiplier
	}
	if includeZero || jitterFactor != 0 {
		out["jitter_factor"] = jitterFactor
	}
	return out
}
