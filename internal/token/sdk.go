// Package token is a client for an ERC20 token contract: balances, ether and token
// transfers, transaction status lookups and transfer monitoring.
package token

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/Bidon15/erc20kit/internal/artifacts"
	"github.com/Bidon15/erc20kit/internal/chain"
	"github.com/Bidon15/erc20kit/internal/units"
)

// DefaultPollInterval is how often monitors look for new blocks.
const DefaultPollInterval = time.Second

// Config configures an SDK. Either Backend or RPCURL must be set. Without PrivateKey
// or Keyfile the SDK is read-only.
type Config struct {
	Backend chain.Backend
	RPCURL  string
	Retry   chain.RetryConfig

	ContractAddress string
	// ABI is the contract ABI JSON. Empty selects the standard ERC20 ABI.
	ABI []byte

	PrivateKey string
	Keyfile    string
	Password   string

	Options      chain.Options
	PollInterval time.Duration
	Logger       *slog.Logger
}

// SDK is bound to one token contract and, optionally, one wallet.
type SDK struct {
	backend      chain.Backend
	client       *chain.Client
	contract     *chain.DeploymentRecord
	chainID      *big.Int
	pollInterval time.Duration
	logger       *slog.Logger
}

// New validates cfg, connects to the node and loads the wallet.
// Configuration problems are reported as *ConfigError.
func New(ctx context.Context, cfg Config) (*SDK, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Backend == nil && cfg.RPCURL == "" {
		return nil, configError("either backend or rpc endpoint must be provided", nil)
	}

	address, err := ParseAddress(cfg.ContractAddress)
	if err != nil {
		return nil, configError("invalid token contract address", err)
	}

	contractABI, err := parseABI(cfg.ABI)
	if err != nil {
		return nil, configError("invalid token contract abi", err)
	}

	backend := cfg.Backend
	if backend == nil {
		retry := cfg.Retry
		if retry.MaxAttempts == 0 {
			retry = chain.DefaultRetryConfig()
		}
		client, err := chain.Dial(ctx, cfg.RPCURL, retry, logger)
		if err != nil {
			return nil, configError("cannot connect to provider endpoint", err)
		}
		backend = client
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, configError("cannot connect to provider endpoint", err)
	}

	var signer chain.TransactionSigner
	switch {
	case cfg.Keyfile != "":
		key, err := chain.LoadKeyfile(cfg.Keyfile, cfg.Password)
		if err != nil {
			return nil, configError("cannot load keyfile", err)
		}
		signer = chain.NewLocalSignerFromKey(key, chainID)
	case cfg.PrivateKey != "":
		local, err := chain.NewLocalSigner(cfg.PrivateKey, chainID)
		if err != nil {
			return nil, configError("cannot load private key", err)
		}
		signer = local
	}

	opts := cfg.Options
	if opts == (chain.Options{}) {
		opts = chain.DefaultOptions()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &SDK{
		backend:      backend,
		client:       chain.NewClient(backend, signer, opts, logger),
		contract:     chain.Bind("ERC20", address, contractABI),
		chainID:      chainID,
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

func parseABI(data []byte) (abi.ABI, error) {
	var (
		parsed abi.ABI
		err    error
	)
	if len(bytes.TrimSpace(data)) == 0 {
		parsed, err = artifacts.EmbeddedABI("ERC20")
	} else {
		parsed, err = abi.JSON(bytes.NewReader(data))
	}
	if err != nil {
		return abi.ABI{}, err
	}
	for _, name := range []string{"transfer", "balanceOf"} {
		if _, ok := parsed.Methods[name]; !ok {
			return abi.ABI{}, fmt.Errorf("missing method %q", name)
		}
	}
	if outputs := parsed.Methods["balanceOf"].Outputs; len(outputs) != 1 || outputs[0].Type.T != abi.UintTy {
		return abi.ABI{}, errors.New("balanceOf must return a single uint")
	}
	return parsed, nil
}

// ContractAddress returns the token contract address.
func (s *SDK) ContractAddress() common.Address {
	return s.contract.Address
}

// Address returns the wallet address.
func (s *SDK) Address() (common.Address, error) {
	if s.client.Signer() == nil {
		return common.Address{}, ErrNotConfigured
	}
	return s.client.From(), nil
}

// EtherBalance returns the wallet's ether balance.
func (s *SDK) EtherBalance(ctx context.Context) (decimal.Decimal, error) {
	addr, err := s.Address()
	if err != nil {
		return decimal.Zero, err
	}
	return s.AddressEtherBalance(ctx, addr)
}

// TokenBalance returns the wallet's token balance.
func (s *SDK) TokenBalance(ctx context.Context) (decimal.Decimal, error) {
	addr, err := s.Address()
	if err != nil {
		return decimal.Zero, err
	}
	return s.AddressTokenBalance(ctx, addr)
}

// AddressEtherBalance returns the ether balance of any address.
func (s *SDK) AddressEtherBalance(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	wei, err := s.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return units.FromBaseUnits(wei, units.Ether), nil
}

// AddressTokenBalance returns the token balance of any address.
func (s *SDK) AddressTokenBalance(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	out, err := s.client.Call(ctx, s.contract, "balanceOf", addr)
	if err != nil {
		return decimal.Zero, err
	}
	if len(out) == 0 {
		return decimal.Zero, fmt.Errorf("balanceOf returned no values")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("balanceOf returned %T", out[0])
	}
	return units.FromBaseUnits(balance, units.Ether), nil
}

// SendEther transfers ether from the wallet and returns the transaction hash
// without waiting for it to be mined.
func (s *SDK) SendEther(ctx context.Context, to common.Address, amount decimal.Decimal) (common.Hash, error) {
	if _, err := s.Address(); err != nil {
		return common.Hash{}, err
	}
	value, err := positiveBaseUnits(amount)
	if err != nil {
		return common.Hash{}, err
	}

	tx, err := s.client.Submit(ctx, to, value, nil)
	if err != nil {
		return common.Hash{}, err
	}
	s.logger.Info("ether sent",
		slog.String("to", to.Hex()),
		slog.String("amount", amount.String()),
		slog.String("tx_hash", tx.Hash().Hex()),
	)
	return tx.Hash(), nil
}

// SendTokens transfers tokens from the wallet and returns the transaction hash
// without waiting for it to be mined.
func (s *SDK) SendTokens(ctx context.Context, to common.Address, amount decimal.Decimal) (common.Hash, error) {
	if _, err := s.Address(); err != nil {
		return common.Hash{}, err
	}
	value, err := positiveBaseUnits(amount)
	if err != nil {
		return common.Hash{}, err
	}

	data, err := s.contract.ABI.Pack("transfer", to, value)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack transfer: %w", err)
	}
	tx, err := s.client.Submit(ctx, s.contract.Address, nil, data)
	if err != nil {
		return common.Hash{}, err
	}
	s.logger.Info("tokens sent",
		slog.String("to", to.Hex()),
		slog.String("amount", amount.String()),
		slog.String("tx_hash", tx.Hash().Hex()),
	)
	return tx.Hash(), nil
}

func positiveBaseUnits(amount decimal.Decimal) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	value, err := units.ToBaseUnits(amount, units.Ether)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	return value, nil
}

// TransactionStatus looks up a transaction. Unknown hashes yield StatusUnknown.
func (s *SDK) TransactionStatus(ctx context.Context, hash common.Hash) (Status, error) {
	tx, pending, err := s.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return StatusUnknown, nil
	}
	if err != nil {
		return StatusUnknown, fmt.Errorf("get transaction: %w", err)
	}
	if pending {
		return StatusPending, nil
	}
	status, _, err := s.minedStatus(ctx, tx)
	return status, err
}

// TransactionData decodes a transaction. Calls to the token's transfer method report
// the token recipient and amount.
func (s *SDK) TransactionData(ctx context.Context, hash common.Hash) (*TransactionData, error) {
	data := &TransactionData{
		Hash:          hash,
		Status:        StatusUnknown,
		Confirmations: -1,
	}

	tx, pending, err := s.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	if from, err := types.Sender(types.LatestSignerForChainID(s.chainID), tx); err == nil {
		data.From = from
	}
	if tx.To() != nil {
		data.To = *tx.To()
	}
	data.EtherAmount = units.FromBaseUnits(tx.Value(), units.Ether)

	if pending {
		data.Status = StatusPending
		data.Confirmations = 0
	} else {
		status, block, err := s.minedStatus(ctx, tx)
		if err != nil {
			return nil, err
		}
		data.Status = status
		if status == StatusPending {
			data.Confirmations = 0
		} else {
			head, err := s.backend.BlockNumber(ctx)
			if err != nil {
				return nil, fmt.Errorf("get block number: %w", err)
			}
			data.Confirmations = int64(head) - int64(block) + 1
		}
	}

	if recipient, amount, ok := s.decodeTransfer(tx.Data()); ok {
		data.To = recipient
		data.TokenAmount = units.FromBaseUnits(amount, units.Ether)
	}
	return data, nil
}

// minedStatus reads the receipt of a transaction that is no longer in the pool.
func (s *SDK) minedStatus(ctx context.Context, tx *types.Transaction) (Status, uint64, error) {
	receipt, err := s.backend.TransactionReceipt(ctx, tx.Hash())
	if errors.Is(err, ethereum.NotFound) {
		return StatusPending, 0, nil
	}
	if err != nil {
		return StatusUnknown, 0, fmt.Errorf("get receipt: %w", err)
	}
	return receiptStatus(tx, receipt), receipt.BlockNumber.Uint64(), nil
}

func receiptStatus(tx *types.Transaction, receipt *types.Receipt) Status {
	// Pre-Byzantium receipts carry a state root instead of a status; a failed
	// transaction consumes all of its gas.
	if len(receipt.PostState) > 0 {
		if receipt.GasUsed < tx.Gas() {
			return StatusSuccess
		}
		return StatusFail
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return StatusSuccess
	}
	return StatusFail
}

// decodeTransfer extracts recipient and amount from transfer(address,uint256) calldata.
func (s *SDK) decodeTransfer(input []byte) (common.Address, *big.Int, bool) {
	method := s.contract.ABI.Methods["transfer"]
	if len(input) < 4 || !bytes.Equal(input[:4], method.ID) {
		return common.Address{}, nil, false
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil || len(args) != 2 {
		return common.Address{}, nil, false
	}
	to, ok1 := args[0].(common.Address)
	amount, ok2 := args[1].(*big.Int)
	if !ok1 || !ok2 {
		return common.Address{}, nil, false
	}
	return to, amount, true
}
