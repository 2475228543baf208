package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors - Chain client
var (
	ErrNoSigner        = errors.New("chain: no signer configured")
	ErrReverted        = errors.New("chain: transaction reverted")
	ErrNoCode          = errors.New("chain: no contract code at deployed address")
	ErrChainIDMismatch = errors.New("chain: chain ID mismatch")
	ErrUnknownMethod   = errors.New("chain: unknown contract method")
)

// RevertError describes a mined transaction whose receipt reports failure.
type RevertError struct {
	TxHash      common.Hash
	BlockNumber uint64
	Reason      string
}

// Error implements the error interface.
func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transaction %s reverted in block %d", e.TxHash.Hex(), e.BlockNumber)
	}
	return fmt.Sprintf("transaction %s reverted in block %d: %s", e.TxHash.Hex(), e.BlockNumber, e.Reason)
}

// Is lets errors.Is match ErrReverted.
func (e *RevertError) Is(target error) bool {
	return target == ErrReverted
}
