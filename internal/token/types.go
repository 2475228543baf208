package token

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a transaction.
type Status int

// Transaction statuses.
const (
	StatusUnknown Status = iota
	StatusPending
	StatusSuccess
	StatusFail
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// TransactionData is the decoded view of a transaction.
// For token transfers To is the token recipient, not the contract.
type TransactionData struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          common.Address  `json:"to"`
	EtherAmount decimal.Decimal `json:"ether_amount"`
	TokenAmount decimal.Decimal `json:"token_amount"`
	Status      Status          `json:"status"`
	// Confirmations is -1 for unknown transactions and 0 for pending ones.
	Confirmations int64 `json:"confirmations"`
}

// Asset labels for monitored transfers.
const (
	AssetEther = "ether"
	AssetToken = "token"
)

// Transfer is reported by a Monitor for every matching transaction.
type Transfer struct {
	TxHash      common.Hash
	Asset       string
	Status      Status
	From        common.Address
	To          common.Address
	Amount      decimal.Decimal
	BlockNumber uint64
}

// Filter selects transfers by sender and/or recipient. Every field that is set must match.
type Filter struct {
	From *common.Address
	To   *common.Address
}

// Validate requires at least one address.
func (f Filter) Validate() error {
	if f.From == nil && f.To == nil {
		return ErrInvalidFilter
	}
	return nil
}

// Match reports whether a transfer from -> to passes the filter.
func (f Filter) Match(from, to common.Address) bool {
	if f.From != nil && *f.From != from {
		return false
	}
	if f.To != nil && *f.To != to {
		return false
	}
	return f.From != nil || f.To != nil
}

// ParseAddress validates a hex address. Mixed-case input must carry a valid EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("'%s' is not an address", s)
	}
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		mixed, err := common.NewMixedcaseAddressFromString("0x" + body)
		if err != nil {
			return common.Address{}, fmt.Errorf("'%s' is not an address", s)
		}
		if !mixed.ValidChecksum() {
			return common.Address{}, fmt.Errorf("'%s' has an invalid EIP55 checksum", s)
		}
	}
	return common.HexToAddress(s), nil
}
