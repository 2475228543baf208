package config

import (
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "erc20kit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "development", cfg.Network)
	assert.Equal(t, "http://127.0.0.1:8545", cfg.Networks["development"].RPCURL)
	assert.Equal(t, 2*time.Minute, cfg.Networks["development"].ConfirmTimeout)
	assert.Equal(t, "build/contracts", cfg.Artifacts.Dir)
	assert.Equal(t, "TestToken", cfg.Artifacts.Token)
	assert.Equal(t, "1000", cfg.Migrate.Tokens)
	assert.True(t, cfg.Migrate.MarkCompleted)
	assert.Equal(t, 4, cfg.RPC.RetryAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.RPC.RetryInitialInterval)
	assert.Equal(t, 3, cfg.Tx.NonceRetryAttempts)
	assert.Equal(t, 300*time.Millisecond, cfg.Tx.NonceRetryDelay)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr())
	assert.Equal(t, time.Second, cfg.Monitor.PollInterval)
	assert.False(t, cfg.Deployer.HasKey())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
network: sepolia
networks:
  sepolia:
    rpc_url: https://rpc.sepolia.org
    chain_id: 11155111
    gas_price: 20gwei
    confirm_timeout: 5m
deployer:
  keyfile: /secrets/deployer.json
migrate:
  account: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
  tokens: "250"
store:
  driver: postgres
  postgres:
    host: db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	name, network, err := cfg.NetworkConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sepolia", name)
	assert.Equal(t, int64(11155111), network.ChainID)
	assert.Equal(t, 5*time.Minute, network.ConfirmTimeout)

	gasPrice, err := network.GasPriceWei()
	require.NoError(t, err)
	assert.Equal(t, 0, big.NewInt(20_000_000_000).Cmp(gasPrice))

	assert.True(t, cfg.Deployer.HasKey())
	assert.Equal(t, "250", cfg.Migrate.Tokens)
	assert.Equal(t, "postgres://erc20kit:erc20kit@db:5432/erc20kit?sslmode=disable", cfg.Store.Postgres.URL())

	_, ok := cfg.Networks["development"]
	assert.True(t, ok, "default network stays available")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ERC20KIT_LOG_LEVEL", "debug")
	t.Setenv("ERC20KIT_NETWORKS_DEVELOPMENT_RPC_URL", "http://anvil:8545")
	t.Setenv("ERC20KIT_DEPLOYER_PRIVATE_KEY", "0xabc")
	t.Setenv("ERC20KIT_MIGRATE_TOKENS", "42")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://anvil:8545", cfg.Networks["development"].RPCURL)
	assert.Equal(t, "0xabc", cfg.Deployer.PrivateKey)
	assert.Equal(t, "42", cfg.Migrate.Tokens)
}

func TestLoad_EnvOverridesKeysWithoutFileValues(t *testing.T) {
	t.Setenv("ERC20KIT_TOKEN_CONTRACT", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	t.Setenv("ERC20KIT_TOKEN_ABI_FILE", "/etc/erc20kit/token.abi")
	t.Setenv("ERC20KIT_DEPLOYER_KEYFILE", "/secrets/deployer.json")
	t.Setenv("ERC20KIT_DEPLOYER_PASSWORD", "s3cret")
	t.Setenv("ERC20KIT_SERVER_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("ERC20KIT_MIGRATE_TOKENS", "250")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0x5FbDB2315678afecb367f032d93F642f64180aa3", cfg.Token.Contract)
	assert.Equal(t, "/etc/erc20kit/token.abi", cfg.Token.ABIFile)
	assert.Equal(t, "/secrets/deployer.json", cfg.Deployer.Keyfile)
	assert.Equal(t, "s3cret", cfg.Deployer.Password)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "250", cfg.Migrate.Tokens)
	assert.True(t, cfg.Deployer.HasKey())
}

func TestPostgresURL_EscapesCredentials(t *testing.T) {
	c := PostgresConfig{
		Host:     "db",
		Port:     5432,
		User:     "erc20kit",
		Password: "p@ss/w?rd#1",
		Database: "erc20kit",
		SSLMode:  "require",
	}

	u, err := url.Parse(c.URL())
	require.NoError(t, err)

	password, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, "p@ss/w?rd#1", password)
	assert.Equal(t, "erc20kit", u.User.Username())
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/erc20kit", u.Path)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown store driver", body: "store:\n  driver: sqlite\n"},
		{name: "unknown default network", body: "network: mainnet\n"},
		{name: "bad log level", body: "log:\n  level: verbose\n"},
		{name: "bad account", body: "migrate:\n  account: not-an-address\n"},
		{name: "bad gas price", body: "networks:\n  development:\n    gas_price: lots\n"},
		{name: "key and keyfile", body: "deployer:\n  private_key: abc\n  keyfile: k.json\n"},
		{name: "no retry attempts", body: "rpc:\n  retry_attempts: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNetworkConfig_Unknown(t *testing.T) {
	cfg := &Config{Network: "development", Networks: map[string]NetworkConfig{
		"development": {RPCURL: "http://127.0.0.1:8545"},
		"sepolia":     {RPCURL: "https://rpc.sepolia.org"},
	}}

	_, _, err := cfg.NetworkConfig("mainnet")
	require.ErrorIs(t, err, ErrUnknownNetwork)
	assert.Contains(t, err.Error(), "development, sepolia")
}
