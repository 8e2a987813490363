package extension

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/market"
	"github.com/xraph/market/plugin"
	"github.com/xraph/market/settlement"
	"github.com/xraph/market/store"
)

// Option configures the market Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store from db using the configured StoreDriver.
func WithGroveDB(db *grove.DB, driver string) Option {
	return func(e *Extension) {
		e.groveDB = db
		e.config.StoreDriver = driver
	}
}

// WithRail sets the settlement rail. Without one the extension uses an
// in-memory bank.
func WithRail(r settlement.Rail) Option {
	return func(e *Extension) {
		e.rail = r
	}
}

// WithLedgerOption passes a market.Option through to the underlying ledger.
func WithLedgerOption(opt market.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, market.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithOwner sets the owner used to initialise an empty store.
func WithOwner(owner string) Option {
	return func(e *Extension) { e.config.Owner = owner }
}

// WithCurrency sets the ledger currency.
func WithCurrency(currency string) Option {
	return func(e *Extension) { e.config.Currency = currency }
}

// WithVault sets the custody account.
func WithVault(vault string) Option {
	return func(e *Extension) { e.config.Vault = vault }
}

// WithLockTimeout sets the ledger lock wait bound.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.LockTimeout = d }
}

// WithTransferTimeout sets the settlement call bound.
func WithTransferTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.TransferTimeout = d }
}

// WithKafkaRelay enables the Kafka event relay.
func WithKafkaRelay(brokers []string, topic string) Option {
	return func(e *Extension) {
		e.config.KafkaBrokers = brokers
		e.config.KafkaTopic = topic
	}
}

// WithRedisRelay enables the Redis stream relay.
func WithRedisRelay(addr, stream string) Option {
	return func(e *Extension) {
		e.config.RedisAddr = addr
		e.config.RedisStream = stream
	}
}

// WithMetrics registers the Prometheus metrics plugin.
func WithMetrics() Option {
	return func(e *Extension) { e.config.EnableMetrics = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
