package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/Bidon15/erc20kit/internal/metrics"
)

// Transaction defaults applied when neither configuration nor the node supplies a value.
const (
	DefaultGasPerTx           uint64 = 60_000
	DefaultCreationGas        uint64 = 10_000_000
	DefaultNonceRetryAttempts        = 3
	DefaultNonceRetryDelay           = 300 * time.Millisecond
)

// DefaultGasPrice is used when the node cannot suggest one.
var DefaultGasPrice = big.NewInt(10 * params.GWei)

// TxOptions tunes gas selection and nonce recovery.
type TxOptions struct {
	// GasPrice overrides eth_gasPrice when set.
	GasPrice *big.Int
	// GasLimit overrides gas estimation when non-zero.
	GasLimit uint64
	// NonceRetryAttempts is the number of resubmissions after a nonce collision.
	NonceRetryAttempts int
	NonceRetryDelay    time.Duration
}

// TxRequest describes an unsigned legacy transaction. A nil To creates a contract.
type TxRequest struct {
	To    *common.Address
	Value *big.Int
	Data  []byte
	// Gas overrides both TxOptions.GasLimit and estimation.
	Gas uint64
}

// TxManager serialises transaction submission for one signer. Nonces are tracked
// locally and reconciled with the node's pending nonce before every send.
type TxManager struct {
	backend Backend
	signer  TransactionSigner
	opts    TxOptions
	logger  *slog.Logger

	mu        sync.Mutex
	nextNonce uint64
}

// NewTxManager creates a TxManager.
func NewTxManager(backend Backend, signer TransactionSigner, opts TxOptions, logger *slog.Logger) *TxManager {
	if opts.NonceRetryAttempts < 0 {
		opts.NonceRetryAttempts = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TxManager{
		backend: backend,
		signer:  signer,
		opts:    opts,
		logger:  logger,
	}
}

// Send signs and broadcasts req. It does not wait for the transaction to be mined.
func (m *TxManager) Send(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	gasPrice := m.gasPrice(ctx)
	gasLimit := m.gasLimit(ctx, req, value, gasPrice)

	for attempt := 0; ; attempt++ {
		nonce, err := m.nonce(ctx)
		if err != nil {
			return nil, err
		}

		tx := types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       req.To,
			Value:    value,
			Data:     req.Data,
		})
		signedTx, err := m.signer.SignTransaction(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("sign transaction: %w", err)
		}

		err = m.backend.SendTransaction(ctx, signedTx)
		if err == nil || isAlreadyKnown(err) {
			m.nextNonce = nonce + 1
			return signedTx, nil
		}
		if isNonceError(err) && m.landed(ctx, signedTx) {
			m.logger.Warn("nonce error for a transaction the node already has",
				slog.String("tx_hash", signedTx.Hash().Hex()),
				slog.Uint64("nonce", nonce),
			)
			m.nextNonce = nonce + 1
			return signedTx, nil
		}
		if !isNonceError(err) || attempt >= m.opts.NonceRetryAttempts {
			return nil, fmt.Errorf("send transaction: %w", err)
		}

		m.nextNonce = nonce + 1
		metrics.NonceRetriesTotal.Inc()
		m.logger.Warn("nonce collision, resubmitting",
			slog.Uint64("nonce", nonce),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.opts.NonceRetryDelay):
		}
	}
}

// landed reports whether the node already holds tx. A retried eth_sendRawTransaction
// whose first attempt went through is answered with a nonce error.
func (m *TxManager) landed(ctx context.Context, tx *types.Transaction) bool {
	_, _, err := m.backend.TransactionByHash(ctx, tx.Hash())
	return err == nil
}

// nonce returns max(local, pending). Caller holds mu.
func (m *TxManager) nonce(ctx context.Context) (uint64, error) {
	pending, err := m.backend.PendingNonceAt(ctx, m.signer.Address())
	if err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	return max(pending, m.nextNonce), nil
}

func (m *TxManager) gasPrice(ctx context.Context) *big.Int {
	if m.opts.GasPrice != nil && m.opts.GasPrice.Sign() > 0 {
		return new(big.Int).Set(m.opts.GasPrice)
	}
	suggested, err := m.backend.SuggestGasPrice(ctx)
	if err != nil || suggested == nil || suggested.Sign() == 0 {
		fallback := new(big.Int).Set(DefaultGasPrice)
		if err != nil {
			m.logger.Warn("gas price suggestion failed, using default",
				slog.String("gas_price", fallback.String()),
				slog.String("error", err.Error()),
			)
		}
		return fallback
	}
	return suggested
}

func (m *TxManager) gasLimit(ctx context.Context, req TxRequest, value, gasPrice *big.Int) uint64 {
	if req.Gas > 0 {
		return req.Gas
	}
	if m.opts.GasLimit > 0 {
		return m.opts.GasLimit
	}

	estimated, err := m.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     m.signer.Address(),
		To:       req.To,
		GasPrice: gasPrice,
		Value:    value,
		Data:     req.Data,
	})
	if err == nil {
		// 20% buffer
		return estimated * 120 / 100
	}

	fallback := DefaultGasPerTx
	if req.To == nil {
		fallback = DefaultCreationGas
	}
	m.logger.Warn("gas estimation failed, using default",
		slog.Uint64("gas_limit", fallback),
		slog.String("error", err.Error()),
	)
	return fallback
}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "replacement transaction underpriced")
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}
