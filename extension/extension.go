// Package extension provides the Forge extension adapter for the market
// ledger.
//
// It implements the forge.Extension interface to integrate the ledger
// into a Forge application with store selection, DI registration, event
// relays and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.market" or "market" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/market"
	"github.com/xraph/market/observability"
	"github.com/xraph/market/relay/kafkarelay"
	"github.com/xraph/market/relay/redisrelay"
	"github.com/xraph/market/settlement"
	"github.com/xraph/market/settlement/memory"
	"github.com/xraph/market/store"
	memstore "github.com/xraph/market/store/memory"
	"github.com/xraph/market/store/mongo"
	"github.com/xraph/market/store/postgres"
	"github.com/xraph/market/store/sqlite"
	"github.com/xraph/market/types"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "market"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Produce marketplace ledger with platform fees"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Supported StoreDriver values.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the market ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	ledger     *market.Ledger
	store      store.Store
	rail       settlement.Rail
	groveDB    *grove.DB
	redis      *redis.Client
	ledgerOpts []market.Option
}

// New creates a new market Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ledger returns the underlying ledger.
// This is nil until Register is called.
func (e *Extension) Ledger() *market.Ledger { return e.ledger }

// Register implements [forge.Extension]. It loads configuration,
// builds the ledger and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := e.buildStore()
		if err != nil {
			return err
		}
		e.store = s
	}

	if e.rail == nil {
		e.rail = memory.New(e.config.Currency)
	}

	e.ledger = market.New(e.store, e.buildLedgerOpts()...)

	return vessel.Provide(fapp.Container(), func() (*market.Ledger, error) {
		return e.ledger, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.ledger == nil {
		return errors.New("market: extension not initialized")
	}

	if err := e.ledger.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	var errs []error
	if e.ledger != nil {
		errs = append(errs, e.ledger.Stop())
	}
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	e.MarkStopped()
	return errors.Join(errs...)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("market: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildStore constructs the backend named by StoreDriver.
func (e *Extension) buildStore() (store.Store, error) {
	if e.groveDB == nil {
		return memstore.New(), nil
	}

	switch e.config.StoreDriver {
	case DriverPostgres:
		return postgres.New(e.groveDB), nil
	case DriverSQLite:
		return sqlite.New(e.groveDB), nil
	case DriverMongo:
		return mongo.New(e.groveDB), nil
	case "", DriverMemory:
		return nil, errors.New("market: a grove database requires store_driver postgres, sqlite or mongo")
	default:
		return nil, fmt.Errorf("market: unknown store_driver %q", e.config.StoreDriver)
	}
}

// buildLedgerOpts constructs market.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []market.Option {
	opts := make([]market.Option, 0, len(e.ledgerOpts)+10)

	opts = append(opts,
		market.WithRail(e.rail),
		market.WithCurrency(e.config.Currency),
		market.WithVault(types.Address(e.config.Vault)),
		market.WithLockTimeout(e.config.LockTimeout),
		market.WithTransferTimeout(e.config.TransferTimeout),
		market.WithAutoMigrate(!e.config.DisableMigrate),
	)
	if e.config.Owner != "" {
		opts = append(opts, market.WithOwner(types.Address(e.config.Owner)))
	}

	if len(e.config.KafkaBrokers) > 0 && e.config.KafkaTopic != "" {
		opts = append(opts, market.WithPlugin(kafkarelay.New(e.config.KafkaBrokers, e.config.KafkaTopic)))
	}
	if e.config.RedisAddr != "" {
		r, client := redisrelay.Dial(e.config.RedisAddr, e.config.RedisPassword, e.config.RedisDB,
			redisrelay.WithStream(e.config.RedisStream),
		)
		e.redis = client
		opts = append(opts, market.WithPlugin(r))
	}
	if e.config.EnableMetrics {
		opts = append(opts, market.WithPlugin(
			observability.NewMetricsExtension(observability.NewPrometheusFactory(nil)),
		))
	}

	// Append any pass-through ledger options.
	opts = append(opts, e.ledgerOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("market: configuration is required but not found in config files; " +
				"ensure 'extensions.market' or 'market' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("market: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("currency", e.config.Currency),
		forge.F("vault", e.config.Vault),
		forge.F("store_driver", e.config.StoreDriver),
		forge.F("lock_timeout", e.config.LockTimeout),
		forge.F("transfer_timeout", e.config.TransferTimeout),
		forge.F("kafka_topic", e.config.KafkaTopic),
		forge.F("redis_stream", e.config.RedisStream),
		forge.F("metrics", e.config.EnableMetrics),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.market" first (namespaced pattern).
	if cm.IsSet("extensions.market") {
		if err := cm.Bind("extensions.market", &cfg); err == nil {
			e.Logger().Debug("market: loaded config from file",
				forge.F("key", "extensions.market"),
			)
			return cfg, true
		}
		e.Logger().Warn("market: failed to bind extensions.market config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "market" key.
	if cm.IsSet("market") {
		if err := cm.Bind("market", &cfg); err == nil {
			e.Logger().Debug("market: loaded config from file",
				forge.F("key", "market"),
			)
			return cfg, true
		}
		e.Logger().Warn("market: failed to bind market config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.Vault == "" {
		cfg.Vault = defaults.Vault
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = defaults.LockTimeout
	}
	if cfg.TransferTimeout == 0 {
		cfg.TransferTimeout = defaults.TransferTimeout
	}
	if cfg.RedisStream == "" {
		cfg.RedisStream = defaults.RedisStream
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.EnableMetrics {
		yamlConfig.EnableMetrics = true
	}

	// String fields: YAML takes precedence.
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
		}
	}
	fill(&yamlConfig.Owner, programmaticConfig.Owner)
	fill(&yamlConfig.Currency, programmaticConfig.Currency)
	fill(&yamlConfig.Vault, programmaticConfig.Vault)
	fill(&yamlConfig.StoreDriver, programmaticConfig.StoreDriver)
	fill(&yamlConfig.KafkaTopic, programmaticConfig.KafkaTopic)
	fill(&yamlConfig.RedisAddr, programmaticConfig.RedisAddr)
	fill(&yamlConfig.RedisPassword, programmaticConfig.RedisPassword)
	fill(&yamlConfig.RedisStream, programmaticConfig.RedisStream)

	if len(yamlConfig.KafkaBrokers) == 0 {
		yamlConfig.KafkaBrokers = programmaticConfig.KafkaBrokers
	}
	if yamlConfig.RedisDB == 0 {
		yamlConfig.RedisDB = programmaticConfig.RedisDB
	}

	// Duration fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.LockTimeout == 0 {
		yamlConfig.LockTimeout = programmaticConfig.LockTimeout
	}
	if yamlConfig.TransferTimeout == 0 {
		yamlConfig.TransferTimeout = programmaticConfig.TransferTimeout
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
