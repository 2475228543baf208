package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/erc20kit/internal/chain/chaintest"
)

var recipient = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

func newTestTxManager(t *testing.T, opts TxOptions) (*TxManager, *chaintest.Backend) {
	t.Helper()
	backend := chaintest.New()
	signer := NewLocalSignerFromKey(chaintest.DevKey, chaintest.ChainID)
	if opts.NonceRetryDelay == 0 {
		opts.NonceRetryDelay = time.Millisecond
	}
	return NewTxManager(backend, signer, opts, nil), backend
}

func TestTxManager_SequentialNonces(t *testing.T) {
	m, _ := newTestTxManager(t, TxOptions{NonceRetryAttempts: DefaultNonceRetryAttempts})
	ctx := context.Background()

	for want := uint64(0); want < 3; want++ {
		tx, err := m.Send(ctx, TxRequest{To: &recipient, Value: big.NewInt(1)})
		require.NoError(t, err)
		assert.Equal(t, want, tx.Nonce())
	}
}

func TestTxManager_NonceCollision(t *testing.T) {
	t.Run("resubmits with next nonce", func(t *testing.T) {
		m, backend := newTestTxManager(t, TxOptions{NonceRetryAttempts: 3})
		backend.InjectNonceCollision(1)

		tx, err := m.Send(context.Background(), TxRequest{To: &recipient, Value: big.NewInt(1)})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), tx.Nonce())

		_, err = backend.TransactionReceipt(context.Background(), tx.Hash())
		assert.NoError(t, err)
	})

	t.Run("gives up after retry budget", func(t *testing.T) {
		m, backend := newTestTxManager(t, TxOptions{NonceRetryAttempts: 2})
		backend.InjectNonceCollision(3)

		_, err := m.Send(context.Background(), TxRequest{To: &recipient, Value: big.NewInt(1)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nonce too low")
	})

	t.Run("honours cancellation while waiting", func(t *testing.T) {
		m, backend := newTestTxManager(t, TxOptions{NonceRetryAttempts: 3, NonceRetryDelay: time.Hour})
		backend.InjectNonceCollision(1)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := m.Send(ctx, TxRequest{To: &recipient})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

// lostResponseBackend applies the first send but answers it like a retried request
// whose original already went through.
type lostResponseBackend struct {
	*chaintest.Backend
	lost bool
}

func (b *lostResponseBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := b.Backend.SendTransaction(ctx, tx); err != nil {
		return err
	}
	if !b.lost {
		b.lost = true
		return errors.New("nonce too low: next nonce 1, tx nonce 0")
	}
	return nil
}

func TestTxManager_RetriedSendIsNotDuplicated(t *testing.T) {
	backend := &lostResponseBackend{Backend: chaintest.New()}
	signer := NewLocalSignerFromKey(chaintest.DevKey, chaintest.ChainID)
	m := NewTxManager(backend, signer, TxOptions{NonceRetryAttempts: 3, NonceRetryDelay: time.Millisecond}, nil)
	ctx := context.Background()

	tx, err := m.Send(ctx, TxRequest{To: &recipient, Value: big.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tx.Nonce())

	nonce, err := backend.PendingNonceAt(ctx, chaintest.DevAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce, "exactly one transaction was broadcast")

	balance, err := backend.BalanceAt(ctx, recipient, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance.Int64())

	next, err := m.Send(ctx, TxRequest{To: &recipient, Value: big.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next.Nonce())
}

func TestTxManager_OtherErrorsAreNotRetried(t *testing.T) {
	m, backend := newTestTxManager(t, TxOptions{NonceRetryAttempts: 3})
	backend.FailNextSend(errors.New("connection refused"))

	_, err := m.Send(context.Background(), TxRequest{To: &recipient, Value: big.NewInt(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	tx, err := m.Send(context.Background(), TxRequest{To: &recipient, Value: big.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tx.Nonce())
}

func TestTxManager_AlreadyKnownIsSuccess(t *testing.T) {
	m, backend := newTestTxManager(t, TxOptions{})
	backend.FailNextSend(errors.New("already known"))

	tx, err := m.Send(context.Background(), TxRequest{To: &recipient})
	require.NoError(t, err)
	assert.NotNil(t, tx)
}

func TestTxManager_GasSelection(t *testing.T) {
	ctx := context.Background()
	estimateErr := errors.New("execution reverted")

	tests := []struct {
		name       string
		opts       TxOptions
		req        TxRequest
		failEst    bool
		failPrice  bool
		wantGas    uint64
		wantGasWei *big.Int
	}{
		{
			name:       "estimate plus buffer",
			req:        TxRequest{To: &recipient, Data: []byte{0x01}},
			wantGas:    chaintest.GasCall * 120 / 100,
			wantGasWei: big.NewInt(1_000_000_000),
		},
		{
			name:       "call default on estimate failure",
			req:        TxRequest{To: &recipient, Data: []byte{0x01}},
			failEst:    true,
			wantGas:    DefaultGasPerTx,
			wantGasWei: big.NewInt(1_000_000_000),
		},
		{
			name:       "creation default on estimate failure",
			req:        TxRequest{Data: []byte{0x60, 0x80}},
			failEst:    true,
			wantGas:    DefaultCreationGas,
			wantGasWei: big.NewInt(1_000_000_000),
		},
		{
			name:       "configured values win",
			opts:       TxOptions{GasLimit: 90_000, GasPrice: big.NewInt(7)},
			req:        TxRequest{To: &recipient},
			wantGas:    90_000,
			wantGasWei: big.NewInt(7),
		},
		{
			name:       "request gas wins over config",
			opts:       TxOptions{GasLimit: 90_000},
			req:        TxRequest{To: &recipient, Gas: 30_000},
			wantGas:    30_000,
			wantGasWei: big.NewInt(1_000_000_000),
		},
		{
			name:       "default gas price when node cannot suggest",
			req:        TxRequest{To: &recipient},
			failPrice:  true,
			wantGas:    chaintest.GasTransfer * 120 / 100,
			wantGasWei: DefaultGasPrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, backend := newTestTxManager(t, tt.opts)
			if tt.failEst {
				backend.FailEstimate(estimateErr)
			}
			if tt.failPrice {
				backend.Fail("SuggestGasPrice", errors.New("method not found"))
			}

			tx, err := m.Send(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantGas, tx.Gas())
			assert.Equal(t, 0, tt.wantGasWei.Cmp(tx.GasPrice()), "gas price %s", tx.GasPrice())
		})
	}
}
