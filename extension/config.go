package extension

import "time"

// Config holds the market extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.market" or "market" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// Owner is the platform owner recorded when the store is first
	// initialised. Ignored once ledger state exists.
	Owner string `json:"owner" mapstructure:"owner" yaml:"owner"`

	// Currency is the single currency the ledger trades in (default: "usd").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// Vault is the custody account on the settlement rail (default: "market:vault").
	Vault string `json:"vault" mapstructure:"vault" yaml:"vault"`

	// LockTimeout bounds how long an operation waits for the ledger lock
	// (default: 5s).
	LockTimeout time.Duration `json:"lock_timeout" mapstructure:"lock_timeout" yaml:"lock_timeout"`

	// TransferTimeout bounds one settlement rail call (default: 10s).
	TransferTimeout time.Duration `json:"transfer_timeout" mapstructure:"transfer_timeout" yaml:"transfer_timeout"`

	// StoreDriver selects the backend built around a grove.DB passed with
	// WithGroveDB: "postgres", "sqlite" or "mongo". Without a grove.DB the
	// memory store is used.
	StoreDriver string `json:"store_driver" mapstructure:"store_driver" yaml:"store_driver"`

	// KafkaBrokers and KafkaTopic enable the Kafka event relay when both are set.
	KafkaBrokers []string `json:"kafka_brokers" mapstructure:"kafka_brokers" yaml:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic" mapstructure:"kafka_topic" yaml:"kafka_topic"`

	// RedisAddr enables the Redis stream relay when set.
	RedisAddr     string `json:"redis_addr" mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" mapstructure:"redis_db" yaml:"redis_db"`
	RedisStream   string `json:"redis_stream" mapstructure:"redis_stream" yaml:"redis_stream"`

	// EnableMetrics registers the Prometheus metrics plugin.
	EnableMetrics bool `json:"enable_metrics" mapstructure:"enable_metrics" yaml:"enable_metrics"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Currency:        "usd",
		Vault:           "market:vault",
		LockTimeout:     5 * time.Second,
		TransferTimeout: 10 * time.Second,
		RedisStream:     "market:events",
	}
}
