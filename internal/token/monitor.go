package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Bidon15/erc20kit/internal/metrics"
	"github.com/Bidon15/erc20kit/internal/units"
)

// Callback receives every transfer a Monitor matches. It runs on the monitor goroutine.
type Callback func(Transfer)

var pendingBlock = big.NewInt(int64(rpc.PendingBlockNumber))

// Monitor polls the chain for transfers matching a Filter. A transfer is reported once
// as pending when it shows up in the pending block and once more with its final status
// when it is mined.
type Monitor struct {
	sdk      *SDK
	asset    string
	filter   Filter
	callback Callback
	signer   types.Signer
	interval time.Duration
	logger   *slog.Logger

	next    uint64
	pending map[common.Hash]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// MonitorEtherTransactions reports plain ether transfers, i.e. transactions without calldata.
func (s *SDK) MonitorEtherTransactions(ctx context.Context, filter Filter, cb Callback) (*Monitor, error) {
	return s.monitor(ctx, AssetEther, filter, cb)
}

// MonitorTokenTransactions reports calls to the token contract's transfer method.
func (s *SDK) MonitorTokenTransactions(ctx context.Context, filter Filter, cb Callback) (*Monitor, error) {
	return s.monitor(ctx, AssetToken, filter, cb)
}

func (s *SDK) monitor(ctx context.Context, asset string, filter Filter, cb Callback) (*Monitor, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, fmt.Errorf("monitor: nil callback")
	}

	head, err := s.backend.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("get block number: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &Monitor{
		sdk:      s,
		asset:    asset,
		filter:   filter,
		callback: cb,
		signer:   types.LatestSignerForChainID(s.chainID),
		interval: s.pollInterval,
		logger:   s.logger.With(slog.String("asset", asset)),
		next:     head + 1,
		pending:  make(map[common.Hash]struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go m.run(ctx)

	m.logger.Info("transfer monitor started", slog.Uint64("from_block", m.next))
	return m, nil
}

// Stop ends polling and waits for the monitor goroutine to exit.
func (m *Monitor) Stop() {
	m.cancel()
	<-m.done
}

// Done is closed once the monitor has stopped, either through Stop or because the
// context passed at creation was cancelled.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if err := m.poll(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("monitor poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll processes every block mined since the last poll, then the pending block.
func (m *Monitor) poll(ctx context.Context) error {
	head, err := m.sdk.backend.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get block number: %w", err)
	}

	for m.next <= head {
		block, err := m.sdk.backend.BlockByNumber(ctx, new(big.Int).SetUint64(m.next))
		if err != nil {
			return fmt.Errorf("get block %d: %w", m.next, err)
		}
		transfers, err := m.mined(ctx, block)
		if err != nil {
			return fmt.Errorf("scan block %d: %w", m.next, err)
		}
		m.emit(transfers)
		m.next++
	}

	block, err := m.sdk.backend.BlockByNumber(ctx, pendingBlock)
	if err != nil {
		// Not every node serves the pending block.
		if !errors.Is(err, ethereum.NotFound) {
			m.logger.Debug("pending block unavailable", slog.String("error", err.Error()))
		}
		return nil
	}
	m.emit(m.unmined(block))
	return nil
}

// mined collects matching transfers of block with their receipt status. Nothing is
// emitted unless every receipt could be read, so a retried block is not reported twice.
func (m *Monitor) mined(ctx context.Context, block *types.Block) ([]Transfer, error) {
	var transfers []Transfer
	for _, tx := range block.Transactions() {
		t, ok := m.match(tx)
		if !ok {
			continue
		}
		receipt, err := m.sdk.backend.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			return nil, fmt.Errorf("get receipt of %s: %w", tx.Hash().Hex(), err)
		}
		t.Status = receiptStatus(tx, receipt)
		t.BlockNumber = block.NumberU64()
		transfers = append(transfers, t)
	}
	for _, t := range transfers {
		delete(m.pending, t.TxHash)
	}
	return transfers, nil
}

// unmined reports matching transfers of the pending block not reported before. Hashes
// that left the pending block were either mined, and are reported by mined, or dropped
// from the pool, so they are forgotten.
func (m *Monitor) unmined(block *types.Block) []Transfer {
	inPool := make(map[common.Hash]struct{}, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		inPool[tx.Hash()] = struct{}{}
	}
	for hash := range m.pending {
		if _, ok := inPool[hash]; !ok {
			delete(m.pending, hash)
		}
	}

	var transfers []Transfer
	for _, tx := range block.Transactions() {
		if _, seen := m.pending[tx.Hash()]; seen {
			continue
		}
		t, ok := m.match(tx)
		if !ok {
			continue
		}
		t.Status = StatusPending
		m.pending[tx.Hash()] = struct{}{}
		transfers = append(transfers, t)
	}
	return transfers
}

// match decodes tx as a transfer of the monitored asset and applies the filter.
func (m *Monitor) match(tx *types.Transaction) (Transfer, bool) {
	if tx.To() == nil {
		return Transfer{}, false
	}
	from, err := types.Sender(m.signer, tx)
	if err != nil {
		return Transfer{}, false
	}

	t := Transfer{TxHash: tx.Hash(), Asset: m.asset, From: from}
	switch m.asset {
	case AssetEther:
		if len(tx.Data()) > 0 {
			return Transfer{}, false
		}
		t.To = *tx.To()
		t.Amount = units.FromBaseUnits(tx.Value(), units.Ether)
	case AssetToken:
		if *tx.To() != m.sdk.contract.Address {
			return Transfer{}, false
		}
		recipient, amount, ok := m.sdk.decodeTransfer(tx.Data())
		if !ok {
			return Transfer{}, false
		}
		t.To = recipient
		t.Amount = units.FromBaseUnits(amount, units.Ether)
	default:
		return Transfer{}, false
	}

	if !m.filter.Match(t.From, t.To) {
		return Transfer{}, false
	}
	return t, true
}

func (m *Monitor) emit(transfers []Transfer) {
	for _, t := range transfers {
		metrics.MonitorEventsTotal.WithLabelValues(t.Asset, t.Status.String()).Inc()
		m.logger.Debug("transfer observed",
			slog.String("tx_hash", t.TxHash.Hex()),
			slog.String("status", t.Status.String()),
			slog.String("from", t.From.Hex()),
			slog.String("to", t.To.Hex()),
			slog.String("amount", t.Amount.String()),
		)
		m.callback(t)
	}
}
