package token

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/erc20kit/internal/artifacts"
	"github.com/Bidon15/erc20kit/internal/chain"
	"github.com/Bidon15/erc20kit/internal/chain/chaintest"
	"github.com/Bidon15/erc20kit/internal/units"
)

var recipient = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

type fixture struct {
	backend *chaintest.Backend
	token   common.Address
}

// newFixture deploys a TestToken and assigns 1000 tokens to the dev account.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	backend := chaintest.New()

	opts := chain.DefaultOptions()
	opts.NonceRetryDelay = 0
	deployer := chain.NewClient(backend, chain.NewLocalSignerFromKey(chaintest.DevKey, chaintest.ChainID), opts, nil)

	rec, err := deployer.Deploy(ctx, chaintest.Artifact(artifacts.TestTokenName))
	require.NoError(t, err)
	_, err = deployer.Transact(ctx, rec, "assign", chaintest.DevAddress, units.MustToBaseUnits(decimal.NewFromInt(1000), units.Ether))
	require.NoError(t, err)

	return &fixture{backend: backend, token: rec.Address}
}

func (f *fixture) config() Config {
	opts := chain.DefaultOptions()
	opts.NonceRetryDelay = 0
	return Config{
		Backend:         f.backend,
		ContractAddress: f.token.Hex(),
		PrivateKey:      chaintest.DevKeyHex,
		Options:         opts,
	}
}

func (f *fixture) sdk(t *testing.T) *SDK {
	t.Helper()
	s, err := New(context.Background(), f.config())
	require.NoError(t, err)
	return s
}

func (f *fixture) readOnly(t *testing.T) *SDK {
	t.Helper()
	cfg := f.config()
	cfg.PrivateKey = ""
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return s
}

// breakChecksum flips the case of the first letter of a checksummed address.
func breakChecksum(addr string) string {
	body := []rune(addr[2:])
	for i, r := range body {
		if unicode.IsLetter(r) {
			if unicode.IsUpper(r) {
				body[i] = unicode.ToLower(r)
			} else {
				body[i] = unicode.ToUpper(r)
			}
			break
		}
	}
	return "0x" + string(body)
}

func TestNew_ConfigErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "no backend",
			mutate:  func(c *Config) { c.Backend = nil },
			wantMsg: "either backend or rpc endpoint must be provided",
		},
		{
			name:    "malformed address",
			mutate:  func(c *Config) { c.ContractAddress = "0x1234" },
			wantMsg: "invalid token contract address: '0x1234' is not an address",
		},
		{
			name:    "bad checksum",
			mutate:  func(c *Config) { c.ContractAddress = breakChecksum(f.token.Hex()) },
			wantMsg: "invalid EIP55 checksum",
		},
		{
			name:    "abi not json",
			mutate:  func(c *Config) { c.ABI = []byte("not json") },
			wantMsg: "invalid token contract abi",
		},
		{
			name:    "abi without transfer",
			mutate:  func(c *Config) { c.ABI = []byte("[]") },
			wantMsg: "invalid token contract abi: missing method",
		},
		{
			name: "balanceOf without outputs",
			mutate: func(c *Config) {
				c.ABI = []byte(`[
					{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
					{"type":"function","name":"balanceOf","inputs":[{"name":"owner","type":"address"}],"outputs":[]}
				]`)
			},
			wantMsg: "balanceOf must return a single uint",
		},
		{
			name:    "bad rpc url",
			mutate:  func(c *Config) { c.Backend = nil; c.RPCURL = "://nowhere" },
			wantMsg: "cannot connect to provider endpoint",
		},
		{
			name:    "bad private key",
			mutate:  func(c *Config) { c.PrivateKey = "zz" },
			wantMsg: "cannot load private key",
		},
		{
			name:    "missing keyfile",
			mutate:  func(c *Config) { c.Keyfile = filepath.Join(t.TempDir(), "missing.json") },
			wantMsg: "cannot load keyfile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := f.config()
			tt.mutate(&cfg)

			_, err := New(context.Background(), cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.wantMsg)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestNew_EndpointUnreachable(t *testing.T) {
	f := newFixture(t)
	f.backend.Fail("ChainID", errors.New("connection refused"))

	_, err := New(context.Background(), f.config())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "cannot connect to provider endpoint")
}

func TestNew_Keyfile(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "key.json")
	_, err := chain.CreateKeyfile(chaintest.DevKey, "secret", path, chain.LightKeyfileParams)
	require.NoError(t, err)

	cfg := f.config()
	cfg.PrivateKey = ""
	cfg.Keyfile = path
	cfg.Password = "secret"

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	addr, err := s.Address()
	require.NoError(t, err)
	assert.Equal(t, chaintest.DevAddress, addr)

	cfg.Password = "wrong"
	_, err = New(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNew_LowercaseAddressAccepted(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.ContractAddress = strings.ToLower(f.token.Hex())

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, f.token, s.ContractAddress())
}

func TestSDK_ReadOnly(t *testing.T) {
	f := newFixture(t)
	s := f.readOnly(t)
	ctx := context.Background()

	_, err := s.Address()
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = s.EtherBalance(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = s.TokenBalance(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = s.SendEther(ctx, recipient, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = s.SendTokens(ctx, recipient, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrNotConfigured)

	balance, err := s.AddressTokenBalance(ctx, chaintest.DevAddress)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(balance), balance.String())
}

func TestSDK_Balances(t *testing.T) {
	f := newFixture(t)
	s := f.sdk(t)
	ctx := context.Background()

	tokens, err := s.TokenBalance(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(tokens), tokens.String())

	ether, err := s.EtherBalance(ctx)
	require.NoError(t, err)
	assert.True(t, ether.GreaterThan(decimal.NewFromInt(9999)), ether.String())
	assert.True(t, ether.LessThan(decimal.NewFromInt(10_000)), ether.String())

	f.backend.Fund(recipient, big.NewInt(1_500_000_000_000_000_000))
	other, err := s.AddressEtherBalance(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, "1.5", other.String())

	none, err := s.AddressTokenBalance(ctx, recipient)
	require.NoError(t, err)
	assert.True(t, none.IsZero())

	f.backend.Fail("BalanceAt", errors.New("boom"))
	_, err = s.AddressEtherBalance(ctx, recipient)
	assert.ErrorContains(t, err, "boom")
}

func TestSDK_SendEther(t *testing.T) {
	f := newFixture(t)
	s := f.sdk(t)
	ctx := context.Background()

	hash, err := s.SendEther(ctx, recipient, decimal.RequireFromString("0.25"))
	require.NoError(t, err)

	balance, err := s.AddressEtherBalance(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, "0.25", balance.String())

	status, err := s.TransactionStatus(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
}

func TestSDK_SendTokens(t *testing.T) {
	f := newFixture(t)
	s := f.sdk(t)
	ctx := context.Background()

	hash, err := s.SendTokens(ctx, recipient, decimal.NewFromInt(40))
	require.NoError(t, err)

	assert.Equal(t, units.MustToBaseUnits(decimal.NewFromInt(40), units.Ether), f.backend.TokenBalance(f.token, recipient))
	status, err := s.TransactionStatus(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)

	mine, err := s.TokenBalance(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(960).Equal(mine), mine.String())
}

func TestSDK_SendTokensFailsOnChain(t *testing.T) {
	f := newFixture(t)
	s := f.sdk(t)
	ctx := context.Background()

	hash, err := s.SendTokens(ctx, recipient, decimal.NewFromInt(5000))
	require.NoError(t, err)

	status, err := s.TransactionStatus(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, status)
}

func TestSDK_SendRejectsNonPositiveAmounts(t *testing.T) {
	f := newFixture(t)
	s := f.sdk(t)
	ctx := context.Background()

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		_, err := s.SendEther(ctx, recipient, amount)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = s.SendTokens(ctx, recipient, amount)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestSDK_SendRejectsAmountsBeyondUint256(t *testing.T) {
	f := newFixture(t)
	s := f.sdk(t)
	ctx := context.Background()
	huge := decimal.New(1, 60)

	_, err := s.SendTokens(ctx, recipient, huge)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.ErrorIs(t, err, units.ErrOutOfRange)

	_, err = s.SendEther(ctx, recipient, huge)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	balance, err := s.AddressTokenBalance(ctx, recipient)
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "nothing was sent")
}

func TestSDK_TransactionStatus(t *testing.T) {
	f := newFixture(t)
	s := f.sdk(t)
	ctx := context.Background()

	status, err := s.TransactionStatus(ctx, common.HexToHash("0xdead"))
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, status)

	f.backend.SetAutoMine(false)
	hash, err := s.SendEther(ctx, recipient, decimal.NewFromInt(1))
	require.NoError(t, err)

	status, err = s.TransactionStatus(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	f.backend.Mine()
	status, err = s.TransactionStatus(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)

	f.backend.Fail("TransactionByHash", errors.New("rpc down"))
	_, err = s.TransactionStatus(ctx, hash)
	assert.ErrorContains(t, err, "rpc down")
}

func TestSDK_TransactionData(t *testing.T) {
	f := newFixture(t)
	s := f.sdk(t)
	ctx := context.Background()

	t.Run("unknown", func(t *testing.T) {
		data, err := s.TransactionData(ctx, common.HexToHash("0xbeef"))
		require.NoError(t, err)
		assert.Equal(t, StatusUnknown, data.Status)
		assert.Equal(t, int64(-1), data.Confirmations)
	})

	t.Run("ether transfer", func(t *testing.T) {
		hash, err := s.SendEther(ctx, recipient, decimal.NewFromInt(2))
		require.NoError(t, err)
		f.backend.Mine()

		data, err := s.TransactionData(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, hash, data.Hash)
		assert.Equal(t, chaintest.DevAddress, data.From)
		assert.Equal(t, recipient, data.To)
		assert.Equal(t, "2", data.EtherAmount.String())
		assert.True(t, data.TokenAmount.IsZero())
		assert.Equal(t, StatusSuccess, data.Status)
		assert.Equal(t, int64(2), data.Confirmations)
	})

	t.Run("token transfer", func(t *testing.T) {
		hash, err := s.SendTokens(ctx, recipient, decimal.RequireFromString("12.5"))
		require.NoError(t, err)

		data, err := s.TransactionData(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, chaintest.DevAddress, data.From)
		assert.Equal(t, recipient, data.To)
		assert.Equal(t, "12.5", data.TokenAmount.String())
		assert.True(t, data.EtherAmount.IsZero())
		assert.Equal(t, StatusSuccess, data.Status)
		assert.Equal(t, int64(1), data.Confirmations)
	})

	t.Run("pending", func(t *testing.T) {
		f.backend.SetAutoMine(false)
		defer f.backend.SetAutoMine(true)

		hash, err := s.SendEther(ctx, recipient, decimal.NewFromInt(1))
		require.NoError(t, err)

		data, err := s.TransactionData(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, data.Status)
		assert.Equal(t, int64(0), data.Confirmations)
		f.backend.Mine()
	})
}

func TestReceiptStatus(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{Gas: 100_000, GasPrice: big.NewInt(1)})

	tests := []struct {
		name    string
		receipt *types.Receipt
		want    Status
	}{
		{"byzantium success", &types.Receipt{Status: types.ReceiptStatusSuccessful}, StatusSuccess},
		{"byzantium failure", &types.Receipt{Status: types.ReceiptStatusFailed}, StatusFail},
		{"pre-byzantium gas left", &types.Receipt{PostState: []byte{1}, GasUsed: 21_000}, StatusSuccess},
		{"pre-byzantium all gas used", &types.Receipt{PostState: []byte{1}, GasUsed: 100_000}, StatusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, receiptStatus(tx, tt.receipt))
		})
	}
}

func TestParseAddress(t *testing.T) {
	checksummed := crypto.PubkeyToAddress(chaintest.DevKey.PublicKey).Hex()

	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"checksummed", checksummed, ""},
		{"lower case", strings.ToLower(checksummed), ""},
		{"upper case body", "0x" + strings.ToUpper(checksummed[2:]), ""},
		{"bad checksum", breakChecksum(checksummed), "invalid EIP55 checksum"},
		{"too short", "0xabc", "is not an address"},
		{"not hex", "hello", "is not an address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseAddress(tt.input)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, chaintest.DevAddress, addr)
		})
	}
}

func TestFilter(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")

	assert.ErrorIs(t, Filter{}.Validate(), ErrInvalidFilter)
	assert.NoError(t, Filter{From: &a}.Validate())

	assert.True(t, Filter{From: &a}.Match(a, b))
	assert.False(t, Filter{From: &a}.Match(b, a))
	assert.True(t, Filter{To: &b}.Match(a, b))
	assert.True(t, Filter{From: &a, To: &b}.Match(a, b))
	assert.False(t, Filter{From: &a, To: &a}.Match(a, b))
	assert.False(t, Filter{}.Match(a, b))
}
