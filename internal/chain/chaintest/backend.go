// Package chaintest provides an in-memory chain.Backend for tests.
//
// The backend does not run EVM bytecode. Every deployed contract behaves like the
// TestToken and Migrations contracts the migration workflow deploys: it keeps token
// balances, supports assign/transfer/balanceOf and the Migrations bookkeeping methods,
// and reverts on any other selector.
package chaintest

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Bidon15/erc20kit/internal/artifacts"
)

// DevKeyHex is the first anvil/hardhat development account key.
const DevKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcaf784d7bf4f2ff80"

// Bytecode is placeholder creation code accepted by the backend.
const Bytecode = "0x6080604052348015600f57600080fd5b50603f80601d6000396000f3fe6080604052600080fdfea164736f6c6343000813000a"

// Constructor can be passed to RevertOn to make contract creation fail.
const Constructor = "constructor"

// Gas charged per operation.
const (
	GasTransfer uint64 = 21_000
	GasCall     uint64 = 50_000
	GasCreate   uint64 = 200_000
)

var (
	// ChainID is the chain ID served by every Backend.
	ChainID = big.NewInt(1337)

	// DevKey and DevAddress are prefunded with 10000 ether.
	DevKey     = mustKey(DevKeyHex)
	DevAddress = crypto.PubkeyToAddress(DevKey.PublicKey)
)

// Artifact returns an embedded-ABI artifact with placeholder bytecode.
func Artifact(name string) *artifacts.ContractArtifact {
	a, err := artifacts.EmbeddedArtifact(name, Bytecode)
	if err != nil {
		panic(err)
	}
	return a
}

type contract struct {
	creator       common.Address
	balances      map[common.Address]*big.Int
	totalSupply   *big.Int
	lastCompleted *big.Int
}

type txEntry struct {
	tx      *types.Transaction
	block   uint64
	pending bool
}

// Backend is an in-memory implementation of chain.Backend.
type Backend struct {
	mu sync.Mutex

	signer    types.Signer
	balances  map[common.Address]*big.Int
	nonces    map[common.Address]uint64
	code      map[common.Address][]byte
	contracts map[common.Address]*contract
	blocks    []*types.Block
	txs       map[common.Hash]*txEntry
	receipts  map[common.Hash]*types.Receipt
	pending   []*types.Transaction

	autoMine   bool
	gasPrice   *big.Int
	sendErrs   []error
	collisions int
	estimate   error
	faults     map[string]error
	reverts    map[string]string
	calls      map[string]int
}

// New returns a Backend with a genesis block and a funded DevAddress.
func New() *Backend {
	b := &Backend{
		signer:    types.LatestSignerForChainID(ChainID),
		balances:  make(map[common.Address]*big.Int),
		nonces:    make(map[common.Address]uint64),
		code:      make(map[common.Address][]byte),
		contracts: make(map[common.Address]*contract),
		txs:       make(map[common.Hash]*txEntry),
		receipts:  make(map[common.Hash]*types.Receipt),
		faults:    make(map[string]error),
		reverts:   make(map[string]string),
		calls:     make(map[string]int),
		autoMine:  true,
		gasPrice:  big.NewInt(params.GWei),
	}
	b.appendBlock(nil)
	b.balances[DevAddress] = new(big.Int).Mul(big.NewInt(10_000), big.NewInt(params.Ether))
	return b
}

// Fund adds wei to account.
func (b *Backend) Fund(account common.Address, wei *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[account] = new(big.Int).Add(b.balanceLocked(account), wei)
}

// TokenBalance returns the token balance of account in the contract at token.
func (b *Backend) TokenBalance(token, account common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.contracts[token]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(c.balanceOf(account))
}

// LastCompletedMigration returns the Migrations ledger value of the contract at addr.
func (b *Backend) LastCompletedMigration(addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.contracts[addr]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(c.lastCompleted)
}

// SetAutoMine controls whether each transaction is mined into its own block on send.
// With auto-mining off, transactions stay pending until Mine is called.
func (b *Backend) SetAutoMine(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoMine = on
}

// Mine seals all pending transactions into one block. With nothing pending it adds an
// empty block.
func (b *Backend) Mine() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mineLocked()
}

// PendingCount returns the number of transactions waiting to be mined.
func (b *Backend) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Calls returns how many eth_call requests targeted the named contract method.
func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// SetGasPrice changes the suggested gas price.
func (b *Backend) SetGasPrice(price *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gasPrice = price
}

// FailNextSend makes the next len(errs) SendTransaction calls fail, in order.
func (b *Backend) FailNextSend(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErrs = append(b.sendErrs, errs...)
}

// InjectNonceCollision makes the next n sends fail with "nonce too low" after another
// party consumed the sender's nonce.
func (b *Backend) InjectNonceCollision(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collisions += n
}

// FailEstimate makes EstimateGas return err. A nil err restores estimation.
func (b *Backend) FailEstimate(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.estimate = err
}

// Fail makes the named Backend method (e.g. "CallContract", "BalanceAt") return err.
// A nil err clears the fault.
func (b *Backend) Fail(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.faults, method)
		return
	}
	b.faults[method] = err
}

// RevertOn makes every execution of method revert with reason, both in mined
// transactions and eth_call.
func (b *Backend) RevertOn(method, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reverts[method] = reason
}

// ChainID implements chain.Backend.
func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault("ChainID"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(ChainID), nil
}

// BlockNumber implements chain.Backend.
func (b *Backend) BlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault("BlockNumber"); err != nil {
		return 0, err
	}
	return b.head(), nil
}

var pendingBlockNumber = big.NewInt(int64(rpc.PendingBlockNumber))

// BlockByNumber implements chain.Backend. A nil number selects the latest block and
// rpc.PendingBlockNumber a block holding the unmined transactions.
func (b *Backend) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault("BlockByNumber"); err != nil {
		return nil, err
	}
	if number == nil {
		return b.blocks[len(b.blocks)-1], nil
	}
	if number.Cmp(pendingBlockNumber) == 0 {
		header := &types.Header{
			Number:     new(big.Int).SetUint64(b.head() + 1),
			ParentHash: b.blocks[len(b.blocks)-1].Hash(),
			Difficulty: new(big.Int),
		}
		return types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: append([]*types.Transaction(nil), b.pending...)}), nil
	}
	if !number.IsUint64() || number.Uint64() >= uint64(len(b.blocks)) {
		return nil, ethereum.NotFound
	}
	return b.blocks[number.Uint64()], nil
}

// BalanceAt implements chain.Backend. Only the latest state is kept.
func (b *Backend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault("BalanceAt"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(b.balanceLocked(account)), nil
}

// CodeAt implements chain.Backend.
func (b *Backend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault("CodeAt"); err != nil {
		return nil, err
	}
	return common.CopyBytes(b.code[account]), nil
}

// CallContract implements chain.Backend. State changes are discarded.
func (b *Backend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault("CallContract"); err != nil {
		return nil, err
	}
	if call.To == nil {
		return nil, nil
	}
	if len(call.Data) >= 4 {
		var id [4]byte
		copy(id[:], call.Data[:4])
		if method, ok := methodsByID[id]; ok {
			b.calls[method.Name]++
		}
	}
	out, _, err := b.exec(call.From, *call.To, call.Data, false)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PendingNonceAt implements chain.Backend.
func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault("PendingNonceAt"); err != nil {
		return 0, err
	}
	return b.nonces[account], nil
}

// SuggestGasPrice implements chain.Backend.
func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault("SuggestGasPrice"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(b.gasPrice), nil
}

// EstimateGas implements chain.Backend.
func (b *Backend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.estimate != nil {
		return 0, b.estimate
	}
	return gasFor(call.To, call.Data), nil
}

// SendTransaction implements chain.Backend.
func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.sendErrs) > 0 {
		err := b.sendErrs[0]
		b.sendErrs = b.sendErrs[1:]
		return err
	}

	from, err := types.Sender(b.signer, tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if b.collisions > 0 {
		b.collisions--
		b.nonces[from]++
		return errors.New("nonce too low")
	}
	if _, ok := b.txs[tx.Hash()]; ok {
		return errors.New("already known")
	}

	expected := b.nonces[from]
	switch {
	case tx.Nonce() < expected:
		return fmt.Errorf("nonce too low: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), expected)
	case tx.Nonce() > expected:
		return fmt.Errorf("nonce too high: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), expected)
	}

	cost := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasPrice())
	cost.Add(cost, tx.Value())
	if b.balanceLocked(from).Cmp(cost) < 0 {
		return fmt.Errorf("insufficient funds for gas * price + value: address %s", from.Hex())
	}

	b.nonces[from]++
	b.txs[tx.Hash()] = &txEntry{tx: tx, pending: true}
	b.pending = append(b.pending, tx)
	if b.autoMine {
		b.mineLocked()
	}
	return nil
}

// TransactionByHash implements chain.Backend.
func (b *Backend) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault("TransactionByHash"); err != nil {
		return nil, false, err
	}
	entry, ok := b.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return entry.tx, entry.pending, nil
}

// TransactionReceipt implements chain.Backend.
func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fault("TransactionReceipt"); err != nil {
		return nil, err
	}
	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (b *Backend) fault(method string) error {
	return b.faults[method]
}

func (b *Backend) head() uint64 {
	return uint64(len(b.blocks) - 1)
}

func (b *Backend) balanceLocked(account common.Address) *big.Int {
	if bal, ok := b.balances[account]; ok {
		return bal
	}
	return new(big.Int)
}

func (b *Backend) appendBlock(txs []*types.Transaction) *types.Block {
	number := uint64(len(b.blocks))
	header := &types.Header{
		Number:     new(big.Int).SetUint64(number),
		GasLimit:   30_000_000,
		Difficulty: new(big.Int),
		Time:       uint64(time.Now().Unix()),
	}
	if number > 0 {
		header.ParentHash = b.blocks[number-1].Hash()
	}
	block := types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: txs})
	b.blocks = append(b.blocks, block)
	return block
}

func (b *Backend) mineLocked() {
	txs := b.pending
	b.pending = nil
	block := b.appendBlock(txs)

	var cumulative uint64
	for i, tx := range txs {
		receipt := b.apply(tx)
		cumulative += receipt.GasUsed
		receipt.CumulativeGasUsed = cumulative
		receipt.BlockNumber = block.Number()
		receipt.BlockHash = block.Hash()
		receipt.TransactionIndex = uint(i)
		for _, l := range receipt.Logs {
			l.BlockNumber = block.NumberU64()
			l.BlockHash = block.Hash()
			l.TxIndex = uint(i)
		}
		b.receipts[tx.Hash()] = receipt
		b.txs[tx.Hash()].pending = false
		b.txs[tx.Hash()].block = block.NumberU64()
	}
}

// apply executes a transaction whose nonce and funds were checked on send.
func (b *Backend) apply(tx *types.Transaction) *types.Receipt {
	from, _ := types.Sender(b.signer, tx)
	receipt := &types.Receipt{
		Type:   tx.Type(),
		TxHash: tx.Hash(),
		Status: types.ReceiptStatusFailed,
	}

	needed := gasFor(tx.To(), tx.Data())
	receipt.GasUsed = min(needed, tx.Gas())
	fee := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), tx.GasPrice())
	b.balances[from] = new(big.Int).Sub(b.balanceLocked(from), fee)
	if tx.Gas() < needed {
		return receipt
	}

	if tx.To() == nil {
		nonce := tx.Nonce()
		addr := crypto.CreateAddress(from, nonce)
		if _, revert := b.reverts[Constructor]; revert || len(tx.Data()) == 0 {
			return receipt
		}
		b.code[addr] = common.CopyBytes(tx.Data())
		b.contracts[addr] = &contract{
			creator:       from,
			balances:      make(map[common.Address]*big.Int),
			totalSupply:   new(big.Int),
			lastCompleted: new(big.Int),
		}
		b.transferValue(from, addr, tx.Value())
		receipt.ContractAddress = addr
		receipt.Status = types.ReceiptStatusSuccessful
		return receipt
	}

	to := *tx.To()
	if _, isContract := b.contracts[to]; isContract && len(tx.Data()) > 0 {
		_, logs, err := b.exec(from, to, tx.Data(), true)
		if err != nil {
			return receipt
		}
		for i, l := range logs {
			l.TxHash = tx.Hash()
			l.Index = uint(i)
		}
		receipt.Logs = logs
	}
	b.transferValue(from, to, tx.Value())
	receipt.Status = types.ReceiptStatusSuccessful
	return receipt
}

func (b *Backend) transferValue(from, to common.Address, value *big.Int) {
	if value == nil || value.Sign() == 0 {
		return
	}
	b.balances[from] = new(big.Int).Sub(b.balanceLocked(from), value)
	b.balances[to] = new(big.Int).Add(b.balanceLocked(to), value)
}

func gasFor(to *common.Address, data []byte) uint64 {
	switch {
	case to == nil:
		return GasCreate
	case len(data) > 0:
		return GasCall
	default:
		return GasTransfer
	}
}

func mustKey(hexKey string) *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		panic(err)
	}
	return key
}

var (
	tokenABI      = artifacts.MustEmbeddedABI(artifacts.TestTokenName)
	migrationsABI = artifacts.MustEmbeddedABI(artifacts.MigrationsName)
	methodsByID   = indexMethods(tokenABI, migrationsABI)
)

func indexMethods(abis ...abi.ABI) map[[4]byte]abi.Method {
	index := make(map[[4]byte]abi.Method)
	for _, parsed := range abis {
		for _, m := range parsed.Methods {
			var id [4]byte
			copy(id[:], m.ID)
			index[id] = m
		}
	}
	return index
}
