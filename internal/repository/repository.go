// Package repository persists deployment records so later runs, the HTTP API and the
// test harness can find contracts by network and name.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Bidon15/erc20kit/internal/chain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Record is a persisted chain.DeploymentRecord.
type Record struct {
	ID           uuid.UUID      `json:"id"`
	RunID        string         `json:"run_id"`
	Network      string         `json:"network"`
	ContractName string         `json:"contract_name"`
	Address      common.Address `json:"address"`
	TxHash       common.Hash    `json:"tx_hash"`
	BlockNumber  uint64         `json:"block_number"`
	CreatedAt    time.Time      `json:"created_at"`
}

// NewRecord converts a deployment into a Record.
func NewRecord(runID, network string, d *chain.DeploymentRecord) *Record {
	createdAt := d.DeployedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return &Record{
		ID:           uuid.New(),
		RunID:        runID,
		Network:      network,
		ContractName: d.ContractName,
		Address:      d.Address,
		TxHash:       d.TxHash,
		BlockNumber:  d.BlockNumber,
		CreatedAt:    createdAt,
	}
}

// Repository defines the interface for deployment record storage.
type Repository interface {
	// Save stores a record, assigning an ID and timestamp when missing.
	Save(ctx context.Context, r *Record) error
	// Latest returns the most recent record for a contract on a network.
	Latest(ctx context.Context, network, contract string) (*Record, error)
	// List returns all records for a network, oldest first.
	List(ctx context.Context, network string) ([]*Record, error)
	Close() error
}

func prepare(r *Record) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}
