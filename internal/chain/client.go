package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Bidon15/erc20kit/internal/artifacts"
	"github.com/Bidon15/erc20kit/internal/metrics"
)

// DefaultConfirmTimeout bounds how long Deploy and Transact wait for a receipt.
const DefaultConfirmTimeout = 2 * time.Minute

// Transaction kinds used as metric labels.
const (
	KindDeploy = "deploy"
	KindCall   = "call"
	KindRaw    = "raw"
)

// DeploymentRecord identifies a contract instance created by Deploy.
type DeploymentRecord struct {
	ContractName string         `json:"contract_name"`
	Address      common.Address `json:"address"`
	TxHash       common.Hash    `json:"tx_hash"`
	BlockNumber  uint64         `json:"block_number"`
	DeployedAt   time.Time      `json:"deployed_at"`
	ABI          abi.ABI        `json:"-"`
}

// Bind returns a record for a contract that was deployed elsewhere.
func Bind(name string, address common.Address, contractABI abi.ABI) *DeploymentRecord {
	return &DeploymentRecord{ContractName: name, Address: address, ABI: contractABI}
}

// Options configures a Client.
type Options struct {
	GasPrice           *big.Int
	GasLimit           uint64
	ConfirmTimeout     time.Duration
	NonceRetryAttempts int
	NonceRetryDelay    time.Duration
}

// DefaultOptions returns Options with node-suggested gas and the default retry policy.
func DefaultOptions() Options {
	return Options{
		ConfirmTimeout:     DefaultConfirmTimeout,
		NonceRetryAttempts: DefaultNonceRetryAttempts,
		NonceRetryDelay:    DefaultNonceRetryDelay,
	}
}

// Client deploys contracts and calls their methods through a Backend.
// Without a signer it is read-only.
type Client struct {
	backend Backend
	signer  TransactionSigner
	txm     *TxManager
	opts    Options
	logger  *slog.Logger
}

// NewClient creates a Client. signer may be nil.
func NewClient(backend Backend, signer TransactionSigner, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultConfirmTimeout
	}

	c := &Client{
		backend: backend,
		signer:  signer,
		opts:    opts,
		logger:  logger,
	}
	if signer != nil {
		c.txm = NewTxManager(backend, signer, TxOptions{
			GasPrice:           opts.GasPrice,
			GasLimit:           opts.GasLimit,
			NonceRetryAttempts: opts.NonceRetryAttempts,
			NonceRetryDelay:    opts.NonceRetryDelay,
		}, logger)
	}
	return c
}

// Signer returns the configured signer, or nil.
func (c *Client) Signer() TransactionSigner {
	return c.signer
}

// From returns the signer address, or the zero address for read-only clients.
func (c *Client) From() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// VerifyChainID checks that the endpoint serves the expected chain and that the signer
// signs for it. A nil expected value only checks the signer.
func (c *Client) VerifyChainID(ctx context.Context, expected *big.Int) error {
	actual, err := c.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain ID: %w", err)
	}
	if expected != nil && expected.Sign() > 0 && actual.Cmp(expected) != 0 {
		return fmt.Errorf("%w: endpoint reports %s, configured %s", ErrChainIDMismatch, actual, expected)
	}
	if c.signer != nil && c.signer.ChainID().Cmp(actual) != 0 {
		return fmt.Errorf("%w: endpoint reports %s, signer uses %s", ErrChainIDMismatch, actual, c.signer.ChainID())
	}
	return nil
}

// Deploy submits a contract-creation transaction for artifact and waits for it to be
// mined. The deployment fails if the receipt reports failure or no code was stored.
func (c *Client) Deploy(ctx context.Context, artifact *artifacts.ContractArtifact, args ...any) (*DeploymentRecord, error) {
	if c.txm == nil {
		return nil, ErrNoSigner
	}
	name := artifact.ContractName

	parsed, err := artifact.ParsedABI()
	if err != nil {
		return nil, err
	}
	data, err := artifact.CreationData(args...)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("deploying contract",
		slog.String("contract", name),
		slog.Int("bytecode_size", len(data)),
	)

	tx, err := c.txm.Send(ctx, TxRequest{Data: data})
	if err != nil {
		c.countDeploy(name, metrics.ResultError)
		return nil, fmt.Errorf("deploy %s: %w", name, err)
	}

	receipt, err := c.WaitMined(ctx, tx)
	if err != nil {
		c.countDeploy(name, metrics.ResultError)
		return nil, fmt.Errorf("deploy %s: %w", name, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		c.countDeploy(name, metrics.ResultReverted)
		return nil, fmt.Errorf("deploy %s: %w", name, &RevertError{
			TxHash:      tx.Hash(),
			BlockNumber: receipt.BlockNumber.Uint64(),
		})
	}

	code, err := c.backend.CodeAt(ctx, receipt.ContractAddress, nil)
	if err != nil {
		c.countDeploy(name, metrics.ResultError)
		return nil, fmt.Errorf("deploy %s: get code: %w", name, err)
	}
	if len(code) == 0 {
		c.countDeploy(name, metrics.ResultError)
		return nil, fmt.Errorf("deploy %s at %s: %w", name, receipt.ContractAddress.Hex(), ErrNoCode)
	}

	c.countDeploy(name, metrics.ResultSuccess)
	c.logger.Info("contract deployed",
		slog.String("contract", name),
		slog.String("address", receipt.ContractAddress.Hex()),
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)

	return &DeploymentRecord{
		ContractName: name,
		Address:      receipt.ContractAddress,
		TxHash:       tx.Hash(),
		BlockNumber:  receipt.BlockNumber.Uint64(),
		DeployedAt:   time.Now().UTC(),
		ABI:          parsed,
	}, nil
}

// Transact invokes a state-mutating method and waits for the receipt. A failed receipt
// yields a *RevertError carrying the revert reason when the node can reproduce it.
func (c *Client) Transact(ctx context.Context, rec *DeploymentRecord, method string, args ...any) (*types.Receipt, error) {
	if c.txm == nil {
		return nil, ErrNoSigner
	}
	data, err := pack(rec, method, args...)
	if err != nil {
		return nil, err
	}

	tx, err := c.txm.Send(ctx, TxRequest{To: &rec.Address, Data: data})
	if err != nil {
		c.countTx(KindCall, metrics.ResultError)
		return nil, fmt.Errorf("%s.%s: %w", rec.ContractName, method, err)
	}

	receipt, err := c.WaitMined(ctx, tx)
	if err != nil {
		c.countTx(KindCall, metrics.ResultError)
		return nil, fmt.Errorf("%s.%s: %w", rec.ContractName, method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		c.countTx(KindCall, metrics.ResultReverted)
		return receipt, fmt.Errorf("%s.%s: %w", rec.ContractName, method, &RevertError{
			TxHash:      tx.Hash(),
			BlockNumber: receipt.BlockNumber.Uint64(),
			Reason:      c.revertReason(ctx, tx, receipt),
		})
	}

	c.countTx(KindCall, metrics.ResultSuccess)
	c.logger.Debug("transaction mined",
		slog.String("contract", rec.ContractName),
		slog.String("method", method),
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return receipt, nil
}

// Call executes a read-only method against the latest state and unpacks its outputs.
func (c *Client) Call(ctx context.Context, rec *DeploymentRecord, method string, args ...any) ([]any, error) {
	data, err := pack(rec, method, args...)
	if err != nil {
		return nil, err
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From: c.From(),
		To:   &rec.Address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", rec.ContractName, method, err)
	}

	values, err := rec.ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s.%s: %w", rec.ContractName, method, err)
	}
	return values, nil
}

// Submit signs and broadcasts a transaction without waiting for it to be mined.
func (c *Client) Submit(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	if c.txm == nil {
		return nil, ErrNoSigner
	}
	tx, err := c.txm.Send(ctx, TxRequest{To: &to, Value: value, Data: data})
	if err != nil {
		c.countTx(KindRaw, metrics.ResultError)
		return nil, err
	}
	c.countTx(KindRaw, metrics.ResultSuccess)
	return tx, nil
}

// WaitMined blocks until tx has a receipt or the confirm timeout elapses.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for receipt of %s: %w", tx.Hash().Hex(), err)
	}
	metrics.ConfirmationSeconds.Observe(time.Since(start).Seconds())
	return receipt, nil
}

// revertReason replays a failed transaction as eth_call on the parent block state.
func (c *Client) revertReason(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) string {
	var block *big.Int
	if receipt.BlockNumber != nil && receipt.BlockNumber.Sign() > 0 {
		block = new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From:     c.From(),
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}, block)
	if err != nil {
		return err.Error()
	}
	if reason, uerr := abi.UnpackRevert(out); uerr == nil {
		return reason
	}
	return ""
}

func (c *Client) countDeploy(name, result string) {
	metrics.DeploymentsTotal.WithLabelValues(name, result).Inc()
	metrics.TransactionsTotal.WithLabelValues(KindDeploy, result).Inc()
}

func (c *Client) countTx(kind, result string) {
	metrics.TransactionsTotal.WithLabelValues(kind, result).Inc()
}

func pack(rec *DeploymentRecord, method string, args ...any) ([]byte, error) {
	if _, ok := rec.ABI.Methods[method]; !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, rec.ContractName, method)
	}
	data, err := rec.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", rec.ContractName, method, err)
	}
	return data, nil
}
