package vaultbridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-vault-bridge/command"
	"github.com/goliatone/go-vault-bridge/core"
	"github.com/goliatone/go-vault-bridge/jobs"
	"github.com/goliatone/go-vault-bridge/retry"
	"github.com/goliatone/go-vault-bridge/store"
	sqlstore "github.com/goliatone/go-vault-bridge/store/sql"
	"github.com/goliatone/go-vault-bridge/tracker"
	"github.com/goliatone/go-vault-bridge/transport"
	"github.com/goliatone/go-vault-bridge/vaultjob"
	"github.com/goliatone/go-vault-bridge/webhook"
)

// Commands groups the bridge command handlers for registration on a
// command bus.
type Commands struct {
	RunVaultCommand *command.RunVaultCommand
	ReplayDelivery  *command.ReplayDeliveryCommand
	SweepClaims     *command.SweepClaimsCommand
}

// Bridge wires the full delivery path: webhook ingestion, the async vault
// command client, the tracker client, shared storage, and the claim
// janitor.
type Bridge struct {
	config   core.Config
	logger   core.Logger
	store    core.KVStore
	vault    *vaultjob.Client
	tracker  *tracker.Client
	pipeline *webhook.Pipeline
	handler  *webhook.Handler
	janitor  *jobs.Janitor
	commands Commands
}

type Option func(*bridgeOptions)

type bridgeOptions struct {
	configLoader core.RawConfigLoader
	runtime      core.Config
	logger       core.Logger
	store        core.KVStore
	cache        repositorycache.CacheService
	transport    core.TransportAdapter
	httpClient   transport.HTTPDoer
	details      core.DetailFetcher
	assignees    core.AssigneeResolver
	claimTTL     time.Duration
}

// WithConfigLoader sources configuration from a raw loader (file, env,
// remote) before runtime overrides apply.
func WithConfigLoader(loader core.RawConfigLoader) Option {
	return func(o *bridgeOptions) { o.configLoader = loader }
}

// WithRuntimeConfig applies programmatic overrides on top of loaded
// configuration. Zero fields are ignored.
func WithRuntimeConfig(cfg core.Config) Option {
	return func(o *bridgeOptions) { o.runtime = cfg }
}

func WithLogger(logger core.Logger) Option {
	return func(o *bridgeOptions) { o.logger = logger }
}

// WithStore supplies the shared KV backend. Required: claims and rate
// limits must be visible to every node.
func WithStore(kv core.KVStore) Option {
	return func(o *bridgeOptions) { o.store = kv }
}

// WithCacheService layers a read-through cache over the shared store.
// Writes still invalidate, so claims and rate-limit windows stay coherent.
func WithCacheService(cache repositorycache.CacheService) Option {
	return func(o *bridgeOptions) { o.cache = cache }
}

// WithTransport replaces the default REST adapter, mostly for tests.
func WithTransport(adapter core.TransportAdapter) Option {
	return func(o *bridgeOptions) { o.transport = adapter }
}

func WithHTTPClient(client transport.HTTPDoer) Option {
	return func(o *bridgeOptions) { o.httpClient = client }
}

func WithDetailFetcher(fetcher core.DetailFetcher) Option {
	return func(o *bridgeOptions) { o.details = fetcher }
}

func WithAssigneeResolver(resolver core.AssigneeResolver) Option {
	return func(o *bridgeOptions) { o.assignees = resolver }
}

// WithClaimTTL tunes how long a processing claim may sit before the
// janitor releases it.
func WithClaimTTL(ttl time.Duration) Option {
	return func(o *bridgeOptions) { o.claimTTL = ttl }
}

func New(opts ...Option) (*Bridge, error) {
	var options bridgeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	if options.store == nil {
		return nil, fmt.Errorf("vaultbridge: shared kv store is required")
	}

	cfg, err := resolveConfig(options)
	if err != nil {
		return nil, err
	}

	logger := glog.Ensure(options.logger)

	adapter := options.transport
	if adapter == nil {
		adapter = transport.NewRESTAdapter(options.httpClient)
	}

	kv := options.store
	if options.cache != nil {
		cached, err := sqlstore.NewCachedKVStore(kv, options.cache)
		if err != nil {
			return nil, err
		}
		kv = cached
	}

	retried := store.NewRetriedWithPolicy(kv, retry.Policy{
		MaxRetries:   cfg.Storage.MaxRetries,
		InitialDelay: time.Duration(cfg.Storage.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Storage.MaxDelayMS) * time.Millisecond,
		Multiplier:   cfg.Storage.Multiplier,
		JitterFactor: cfg.Storage.JitterFactor,
	}, logger)

	trackerClient, err := tracker.NewClient(adapter, tracker.Options{
		BaseURL: cfg.Tracker.BaseURL,
		Policy: retry.Policy{
			MaxRetries:   cfg.Tracker.MaxRetries,
			InitialDelay: time.Duration(cfg.Tracker.InitialDelayMS) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Tracker.MaxDelayMS) * time.Millisecond,
			Multiplier:   cfg.Tracker.Multiplier,
			JitterFactor: cfg.Tracker.JitterFactor,
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	bridge := &Bridge{
		config:  cfg,
		logger:  logger,
		store:   retried,
		tracker: trackerClient,
	}

	details := options.details
	if cfg.Queue.BaseURL != "" {
		vaultClient, err := vaultjob.NewClient(adapter, vaultjob.Options{
			BaseURL:         cfg.Queue.BaseURL,
			InitialDelay:    time.Duration(cfg.Queue.InitialDelayMS) * time.Millisecond,
			PollInterval:    time.Duration(cfg.Queue.PollIntervalMS) * time.Millisecond,
			MaxPollInterval: time.Duration(cfg.Queue.MaxPollIntervalMS) * time.Millisecond,
			PollMultiplier:  cfg.Queue.PollMultiplier,
			MaxPollAttempts: cfg.Queue.MaxPollAttempts,
		}, logger)
		if err != nil {
			return nil, err
		}
		bridge.vault = vaultClient
		if details == nil {
			fetcher, err := vaultjob.NewDetailFetcher(vaultClient, "")
			if err != nil {
				return nil, err
			}
			details = fetcher
		}
	}

	pipeline, err := webhook.NewPipeline(webhook.Dependencies{
		Store:     retried,
		Tickets:   trackerClient,
		Details:   details,
		Assignees: options.assignees,
		Logger:    logger,
		Defaults:  cfg.Webhook,
	})
	if err != nil {
		return nil, err
	}
	bridge.pipeline = pipeline
	bridge.handler = webhook.NewHandler(pipeline, logger)

	janitor, err := jobs.NewJanitor(retried, options.claimTTL, logger)
	if err != nil {
		return nil, err
	}
	bridge.janitor = janitor

	bridge.commands = Commands{
		ReplayDelivery: command.NewReplayDeliveryCommand(pipeline),
		SweepClaims:    command.NewSweepClaimsCommand(janitor),
	}
	if bridge.vault != nil {
		bridge.commands.RunVaultCommand = command.NewRunVaultCommand(bridge.vault)
	}

	return bridge, nil
}

func resolveConfig(options bridgeOptions) (core.Config, error) {
	defaults := core.DefaultConfig()
	loaded := defaults
	if options.configLoader != nil {
		provider := core.NewCfgxConfigProvider(options.configLoader)
		cfg, err := provider.Load(context.Background(), defaults)
		if err != nil {
			return core.Config{}, fmt.Errorf("vaultbridge: load config: %w", err)
		}
		loaded = cfg
	}
	resolved, err := core.GoOptionsResolver{}.Resolve(defaults, loaded, options.runtime)
	if err != nil {
		return core.Config{}, fmt.Errorf("vaultbridge: resolve config: %w", err)
	}
	if resolved.Tracker.BaseURL == "" {
		return core.Config{}, fmt.Errorf("vaultbridge: tracker base url is required")
	}
	return resolved, nil
}

func (b *Bridge) Config() core.Config {
	if b == nil {
		return core.Config{}
	}
	return b.config
}

func (b *Bridge) Store() core.KVStore {
	if b == nil {
		return nil
	}
	return b.store
}

// Vault returns the async command client, nil when no queue base URL was
// configured.
func (b *Bridge) Vault() *vaultjob.Client {
	if b == nil {
		return nil
	}
	return b.vault
}

func (b *Bridge) Tracker() *tracker.Client {
	if b == nil {
		return nil
	}
	return b.tracker
}

func (b *Bridge) Pipeline() *webhook.Pipeline {
	if b == nil {
		return nil
	}
	return b.pipeline
}

// Handler is the webhook HTTP endpoint, ready to mount on a mux.
func (b *Bridge) Handler() http.Handler {
	if b == nil {
		return nil
	}
	return b.handler
}

func (b *Bridge) Janitor() *jobs.Janitor {
	if b == nil {
		return nil
	}
	return b.janitor
}

func (b *Bridge) Commands() Commands {
	if b == nil {
		return Commands{}
	}
	return b.commands
}

// AuditTrail reads the shared delivery audit ring, newest first.
func (b *Bridge) AuditTrail(ctx context.Context) ([]core.AuditEntry, error) {
	if b == nil || b.pipeline == nil {
		return nil, fmt.Errorf("vaultbridge: bridge is not configured")
	}
	return b.pipeline.AuditTrail(ctx)
}
