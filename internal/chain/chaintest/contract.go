package chaintest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ExecutionReverted is returned by CallContract when execution reverts, with the
// message format geth uses.
type ExecutionReverted struct {
	Reason string
}

func (e *ExecutionReverted) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

func (c *contract) balanceOf(account common.Address) *big.Int {
	if bal, ok := c.balances[account]; ok {
		return bal
	}
	return new(big.Int)
}

// exec runs one contract call. With commit false the state is left untouched.
func (b *Backend) exec(from, to common.Address, data []byte, commit bool) ([]byte, []*types.Log, error) {
	c, ok := b.contracts[to]
	if !ok {
		return nil, nil, nil
	}
	if len(data) < 4 {
		return nil, nil, &ExecutionReverted{}
	}

	var id [4]byte
	copy(id[:], data[:4])
	method, ok := methodsByID[id]
	if !ok {
		return nil, nil, &ExecutionReverted{Reason: "unsupported method"}
	}
	if reason, ok := b.reverts[method.Name]; ok {
		return nil, nil, &ExecutionReverted{Reason: reason}
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, &ExecutionReverted{Reason: err.Error()}
	}

	var (
		out  []any
		logs []*types.Log
	)
	switch method.Name {
	case "name":
		out = []any{"TestToken"}
	case "symbol":
		out = []any{"TT"}
	case "decimals":
		out = []any{uint8(18)}
	case "totalSupply":
		out = []any{new(big.Int).Set(c.totalSupply)}
	case "balanceOf":
		out = []any{new(big.Int).Set(c.balanceOf(args[0].(common.Address)))}
	case "assign":
		account, amount := args[0].(common.Address), args[1].(*big.Int)
		if commit {
			c.balances[account] = new(big.Int).Add(c.balanceOf(account), amount)
			c.totalSupply = new(big.Int).Add(c.totalSupply, amount)
		}
		logs = append(logs, transferLog(to, common.Address{}, account, amount))
		out = []any{true}
	case "transfer":
		recipient, amount := args[0].(common.Address), args[1].(*big.Int)
		if c.balanceOf(from).Cmp(amount) < 0 {
			return nil, nil, &ExecutionReverted{Reason: "insufficient balance"}
		}
		if commit {
			c.balances[from] = new(big.Int).Sub(c.balanceOf(from), amount)
			c.balances[recipient] = new(big.Int).Add(c.balanceOf(recipient), amount)
		}
		logs = append(logs, transferLog(to, from, recipient, amount))
		out = []any{true}
	case "owner":
		out = []any{c.creator}
	case "last_completed_migration":
		out = []any{new(big.Int).Set(c.lastCompleted)}
	case "setCompleted":
		// Migrations.restricted silently skips callers other than the owner.
		if commit && from == c.creator {
			c.lastCompleted = new(big.Int).Set(args[0].(*big.Int))
		}
	default:
		return nil, nil, &ExecutionReverted{Reason: "unsupported method"}
	}

	packed, err := method.Outputs.Pack(out...)
	if err != nil {
		return nil, nil, &ExecutionReverted{Reason: err.Error()}
	}
	return packed, logs, nil
}

var transferEvent = tokenABI.Events["Transfer"]

func transferLog(token, from, to common.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			transferEvent.ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}
}
