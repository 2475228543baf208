// Package config provides configuration loading for erc20kit.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Bidon15/erc20kit/internal/units"
)

// EnvPrefix prefixes every environment override, e.g. ERC20KIT_NETWORK.
const EnvPrefix = "ERC20KIT"

// ErrUnknownNetwork is returned by Config.NetworkConfig for names missing from networks.
var ErrUnknownNetwork = errors.New("config: unknown network")

// Config holds all configuration for the application.
type Config struct {
	Log       LogConfig                `mapstructure:"log"`
	Network   string                   `mapstructure:"network" validate:"required"`
	Networks  map[string]NetworkConfig `mapstructure:"networks" validate:"required,min=1,dive"`
	Deployer  DeployerConfig           `mapstructure:"deployer"`
	Artifacts ArtifactsConfig          `mapstructure:"artifacts"`
	Migrate   MigrateConfig            `mapstructure:"migrate"`
	Token     TokenConfig              `mapstructure:"token"`
	RPC       RPCConfig                `mapstructure:"rpc"`
	Tx        TxConfig                 `mapstructure:"tx"`
	Store     StoreConfig              `mapstructure:"store"`
	Monitor   MonitorConfig            `mapstructure:"monitor"`
	Server    ServerConfig             `mapstructure:"server"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// NetworkConfig describes one target chain.
type NetworkConfig struct {
	RPCURL string `mapstructure:"rpc_url" validate:"required,url"`
	// ChainID is checked against eth_chainId when non-zero.
	ChainID int64 `mapstructure:"chain_id" validate:"gte=0"`
	// GasPrice accepts a unit suffix ("20gwei"); empty means node-suggested.
	GasPrice       string        `mapstructure:"gas_price"`
	GasLimit       uint64        `mapstructure:"gas_limit"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
}

// GasPriceWei parses GasPrice. It returns nil when no gas price is configured.
func (n NetworkConfig) GasPriceWei() (*big.Int, error) {
	if strings.TrimSpace(n.GasPrice) == "" {
		return nil, nil
	}
	wei, err := units.ParseBaseUnits(n.GasPrice, units.Wei)
	if err != nil {
		return nil, fmt.Errorf("gas_price: %w", err)
	}
	return wei, nil
}

// DeployerConfig holds the signing account. Either PrivateKey or Keyfile may be set.
type DeployerConfig struct {
	PrivateKey string `mapstructure:"private_key" validate:"excluded_with=Keyfile"`
	Keyfile    string `mapstructure:"keyfile"`
	Password   string `mapstructure:"password"`
}

// HasKey reports whether a signing key is configured.
func (d DeployerConfig) HasKey() bool {
	return d.PrivateKey != "" || d.Keyfile != ""
}

// ArtifactsConfig locates compiled contract artifacts.
type ArtifactsConfig struct {
	Dir        string `mapstructure:"dir" validate:"required"`
	Migrations string `mapstructure:"migrations" validate:"required"`
	Token      string `mapstructure:"token" validate:"required"`
}

// MigrateConfig holds the deploy-and-verify workflow parameters.
type MigrateConfig struct {
	// Account receives the assigned tokens; empty means the deployer.
	Account       string `mapstructure:"account" validate:"omitempty,eth_addr"`
	Tokens        string `mapstructure:"tokens" validate:"required"`
	AddressFile   string `mapstructure:"address_file"`
	MarkCompleted bool   `mapstructure:"mark_completed"`
}

// TokenConfig points the token SDK at an ERC20 contract.
type TokenConfig struct {
	Contract string `mapstructure:"contract" validate:"omitempty,eth_addr"`
	// ABIFile overrides the embedded ERC20 ABI.
	ABIFile string `mapstructure:"abi_file"`
}

// RPCConfig tunes the JSON-RPC HTTP transport.
type RPCConfig struct {
	RetryAttempts        int           `mapstructure:"retry_attempts" validate:"min=1"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
}

// TxConfig tunes transaction submission.
type TxConfig struct {
	NonceRetryAttempts int           `mapstructure:"nonce_retry_attempts" validate:"gte=0"`
	NonceRetryDelay    time.Duration `mapstructure:"nonce_retry_delay"`
}

// StoreConfig selects where deployment records are kept.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver" validate:"oneof=memory postgres redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int    `mapstructure:"max_conns"`
}

// URL returns the postgres:// connection URL accepted by both pgx and golang-migrate.
func (c PostgresConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MonitorConfig tunes the transfer monitor.
type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ServerConfig holds the read-only HTTP API configuration.
type ServerConfig struct {
	Listen      string        `mapstructure:"listen"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
}

// NetworkConfig returns the named network, or the default network when name is empty.
func (c *Config) NetworkConfig(name string) (string, NetworkConfig, error) {
	if name == "" {
		name = c.Network
	}
	n, ok := c.Networks[name]
	if !ok {
		known := make([]string, 0, len(c.Networks))
		for k := range c.Networks {
			known = append(known, k)
		}
		sort.Strings(known)
		return name, NetworkConfig{}, fmt.Errorf("%w %q (configured: %s)", ErrUnknownNetwork, name, strings.Join(known, ", "))
	}
	return name, n, nil
}

// Load reads configuration from an optional .env file, a config file and environment
// variables, in increasing order of precedence. An empty path searches the default
// locations; a missing file there is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("erc20kit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/erc20kit")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, _, err := c.NetworkConfig(""); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name, n := range c.Networks {
		if _, err := n.GasPriceWei(); err != nil {
			return fmt.Errorf("invalid config: networks.%s.%w", name, err)
		}
	}
	return nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Network defaults: a local development node
	v.SetDefault("network", "development")
	v.SetDefault("networks.development.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("networks.development.chain_id", 0)
	v.SetDefault("networks.development.gas_price", "")
	v.SetDefault("networks.development.gas_limit", 0)
	v.SetDefault("networks.development.confirm_timeout", "2m")

	// Deployer defaults: no key, so the CLI is read-only until one is configured
	v.SetDefault("deployer.private_key", "")
	v.SetDefault("deployer.keyfile", "")
	v.SetDefault("deployer.password", "")

	// Artifacts defaults (truffle layout)
	v.SetDefault("artifacts.dir", "build/contracts")
	v.SetDefault("artifacts.migrations", "Migrations")
	v.SetDefault("artifacts.token", "TestToken")

	// Migrate defaults
	v.SetDefault("migrate.account", "")
	v.SetDefault("migrate.tokens", "1000")
	v.SetDefault("migrate.address_file", "")
	v.SetDefault("migrate.mark_completed", true)

	// Token defaults: resolved from the store when unset
	v.SetDefault("token.contract", "")
	v.SetDefault("token.abi_file", "")

	// RPC defaults
	v.SetDefault("rpc.retry_attempts", 4)
	v.SetDefault("rpc.retry_initial_interval", "200ms")
	v.SetDefault("rpc.retry_max_interval", "5s")
	v.SetDefault("rpc.request_timeout", "30s")

	// Tx defaults
	v.SetDefault("tx.nonce_retry_attempts", 3)
	v.SetDefault("tx.nonce_retry_delay", "300ms")

	// Store defaults
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "erc20kit")
	v.SetDefault("store.postgres.password", "erc20kit")
	v.SetDefault("store.postgres.database", "erc20kit")
	v.SetDefault("store.postgres.ssl_mode", "disable")
	v.SetDefault("store.postgres.max_conns", 5)
	v.SetDefault("store.redis.host", "localhost")
	v.SetDefault("store.redis.port", 6379)
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key_prefix", "erc20kit")

	// Monitor defaults
	v.SetDefault("monitor.poll_interval", "1s")

	// Server defaults
	v.SetDefault("server.listen", ":9090")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{})
}
