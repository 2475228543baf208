// Package chain is the client side of an EVM network: it dials JSON-RPC endpoints,
// signs and submits transactions, deploys contract artifacts and reads contract state.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the subset of *ethclient.Client the package relies on.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// RetryConfig controls how HTTP JSON-RPC requests are retried.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per request, including the first one.
	MaxAttempts int
	// InitialInterval is the first backoff delay; later delays grow exponentially.
	InitialInterval time.Duration
	// MaxInterval caps a single backoff delay.
	MaxInterval time.Duration
	// RequestTimeout bounds one JSON-RPC request, retries and backoff included.
	RequestTimeout time.Duration
}

// DefaultRetryConfig returns the default retry policy: 4 tries, 200ms initial backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     4,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		RequestTimeout:  30 * time.Second,
	}
}

// Dial connects to an Ethereum JSON-RPC endpoint. HTTP(S) endpoints are wrapped in a
// transport that retries connection failures and 5xx responses with exponential backoff.
func Dial(ctx context.Context, rawURL string, cfg RetryConfig, logger *slog.Logger) (*ethclient.Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse rpc url: %w", err)
	}

	var rpcClient *rpc.Client
	switch u.Scheme {
	case "http", "https":
		httpClient := &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: NewRetryTransport(http.DefaultTransport, cfg, logger),
		}
		rpcClient, err = rpc.DialOptions(ctx, rawURL, rpc.WithHTTPClient(httpClient))
	default:
		rpcClient, err = rpc.DialContext(ctx, rawURL)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return ethclient.NewClient(rpcClient), nil
}
