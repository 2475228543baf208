package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bidon15/erc20kit/internal/chain"
	"github.com/Bidon15/erc20kit/internal/config"
	"github.com/Bidon15/erc20kit/internal/repository"
	"github.com/Bidon15/erc20kit/internal/token"
)

// app carries the state shared by all commands.
type app struct {
	// Global flags
	cfgFile string
	network string
	jsonOut bool

	cfg    *config.Config
	logger *slog.Logger
	stderr io.Writer

	// dial connects to a network. Tests replace it with an in-memory backend.
	dial func(ctx context.Context, rawURL string, retry chain.RetryConfig, logger *slog.Logger) (chain.Backend, error)
}

func newApp() *app {
	return &app{
		stderr: os.Stderr,
		dial: func(ctx context.Context, rawURL string, retry chain.RetryConfig, logger *slog.Logger) (chain.Backend, error) {
			client, err := chain.Dial(ctx, rawURL, retry, logger)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "erc20kit",
		Short: "Deploy and exercise ERC20 test tokens",
		Long: `erc20kit deploys the Migrations ledger and the TestToken contract to a network,
assigns test tokens to an account and verifies the balance. It also checks balances,
sends ether and tokens, inspects transactions and watches transfers.

Configuration is read from erc20kit.yaml (., ./config, /etc/erc20kit) or --config,
and can be overridden with ERC20KIT_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: search for erc20kit.yaml)")
	root.PersistentFlags().StringVarP(&a.network, "network", "n", "", "network name from the config (default: config network)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print JSON output")

	root.AddCommand(
		newMigrateCmd(a),
		newBalanceCmd(a),
		newSendCmd(a),
		newTxCmd(a),
		newWatchCmd(a),
		newKeyfileCmd(a),
	)
	return root
}

// init loads the configuration and sets up logging.
func (a *app) init() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cfg.Log, a.stderr)
	slog.SetDefault(a.logger)
	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// env is a connection to one configured network.
type env struct {
	name    string
	network config.NetworkConfig
	backend chain.Backend
	client  *chain.Client
}

func (a *app) retryConfig() chain.RetryConfig {
	return chain.RetryConfig{
		MaxAttempts:     a.cfg.RPC.RetryAttempts,
		InitialInterval: a.cfg.RPC.RetryInitialInterval,
		MaxInterval:     a.cfg.RPC.RetryMaxInterval,
		RequestTimeout:  a.cfg.RPC.RequestTimeout,
	}
}

func (a *app) chainOptions(n config.NetworkConfig) (chain.Options, error) {
	gasPrice, err := n.GasPriceWei()
	if err != nil {
		return chain.Options{}, err
	}
	opts := chain.DefaultOptions()
	opts.GasPrice = gasPrice
	opts.GasLimit = n.GasLimit
	if n.ConfirmTimeout > 0 {
		opts.ConfirmTimeout = n.ConfirmTimeout
	}
	opts.NonceRetryAttempts = a.cfg.Tx.NonceRetryAttempts
	opts.NonceRetryDelay = a.cfg.Tx.NonceRetryDelay
	return opts, nil
}

// connect dials the selected network and loads the deployer key when one is configured.
// With requireSigner set a missing key is an error.
func (a *app) connect(ctx context.Context, requireSigner bool) (*env, error) {
	name, n, err := a.cfg.NetworkConfig(a.network)
	if err != nil {
		return nil, err
	}

	backend, err := a.dial(ctx, n.RPCURL, a.retryConfig(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", name, err)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", name, err)
	}

	signer, err := a.signer(chainID)
	if err != nil {
		return nil, err
	}
	if signer == nil && requireSigner {
		return nil, errors.New("no deployer key configured: set deployer.private_key or deployer.keyfile")
	}

	opts, err := a.chainOptions(n)
	if err != nil {
		return nil, err
	}
	client := chain.NewClient(backend, signer, opts, a.logger)
	if err := client.VerifyChainID(ctx, big.NewInt(n.ChainID)); err != nil {
		return nil, err
	}

	a.logger.Debug("connected",
		slog.String("network", name),
		slog.String("chain_id", chainID.String()),
		slog.String("from", client.From().Hex()),
	)
	return &env{name: name, network: n, backend: backend, client: client}, nil
}

func (a *app) signer(chainID *big.Int) (chain.TransactionSigner, error) {
	d := a.cfg.Deployer
	switch {
	case d.Keyfile != "":
		key, err := chain.LoadKeyfile(d.Keyfile, d.Password)
		if err != nil {
			return nil, fmt.Errorf("load deployer keyfile: %w", err)
		}
		return chain.NewLocalSignerFromKey(key, chainID), nil
	case d.PrivateKey != "":
		s, err := chain.NewLocalSigner(d.PrivateKey, chainID)
		if err != nil {
			return nil, fmt.Errorf("load deployer key: %w", err)
		}
		return s, nil
	default:
		return nil, nil
	}
}

// tokenSDK builds a token SDK for the contract given by flag, config, or the latest
// recorded TestToken deployment on the network, in that order.
func (a *app) tokenSDK(ctx context.Context, e *env, contract string) (*token.SDK, error) {
	if contract == "" {
		contract = a.cfg.Token.Contract
	}
	if contract == "" {
		addr, err := a.recordedToken(ctx, e.name)
		if err != nil {
			return nil, err
		}
		contract = addr
	}

	var abiJSON []byte
	if a.cfg.Token.ABIFile != "" {
		data, err := os.ReadFile(a.cfg.Token.ABIFile)
		if err != nil {
			return nil, fmt.Errorf("read token abi: %w", err)
		}
		abiJSON = data
	}

	opts, err := a.chainOptions(e.network)
	if err != nil {
		return nil, err
	}
	return token.New(ctx, token.Config{
		Backend:         e.backend,
		ContractAddress: contract,
		ABI:             abiJSON,
		PrivateKey:      a.cfg.Deployer.PrivateKey,
		Keyfile:         a.cfg.Deployer.Keyfile,
		Password:        a.cfg.Deployer.Password,
		Options:         opts,
		PollInterval:    a.cfg.Monitor.PollInterval,
		Logger:          a.logger,
	})
}

func (a *app) recordedToken(ctx context.Context, network string) (string, error) {
	repo, err := repository.Open(ctx, a.cfg.Store)
	if err != nil {
		return "", err
	}
	defer repo.Close()

	rec, err := repo.Latest(ctx, network, a.cfg.Artifacts.Token)
	if errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("no token contract: pass --token, set token.contract or run migrate with a persistent store")
	}
	if err != nil {
		return "", err
	}
	return rec.Address.Hex(), nil
}

func (a *app) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
