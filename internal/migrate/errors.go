package migrate

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors - one per failure kind of the workflow.
var (
	ErrDeployment    = errors.New("deployment failed")
	ErrTransaction   = errors.New("transaction failed")
	ErrQuery         = errors.New("query failed")
	ErrAssertion     = errors.New("assertion failed")
	ErrInvalidParams = errors.New("invalid parameters")
)

// Workflow step names.
const (
	StepDeployMigrations = "deploy_migrations"
	StepDeployToken      = "deploy_token"
	StepAssign           = "assign"
	StepBalanceOf        = "balance_of"
	StepVerify           = "verify"
	StepMarkCompleted    = "mark_completed"
)

// StepError reports which step of the workflow failed and why.
type StepError struct {
	Kind     error
	Step     string
	Contract string
	Err      error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Contract == "" {
		return fmt.Sprintf("%s: %v: %v", e.Step, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Step, e.Contract, e.Kind, e.Err)
}

// Is matches the failure kind.
func (e *StepError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause.
func (e *StepError) Unwrap() error {
	return e.Err
}

// AssertionError is returned when the queried balance differs from the assigned amount.
type AssertionError struct {
	Account  common.Address
	Expected *big.Int
	Actual   *big.Int
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	if e.Account == (common.Address{}) {
		return fmt.Sprintf("%v: expected balance %s, got %s", ErrAssertion, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%v: expected balance %s for %s, got %s", ErrAssertion, e.Expected, e.Account.Hex(), e.Actual)
}

// Is lets errors.Is match ErrAssertion.
func (e *AssertionError) Is(target error) bool {
	return target == ErrAssertion
}
