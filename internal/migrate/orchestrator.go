// Package migrate deploys the Migrations ledger and the TestToken contract to a network,
// funds a test account with tokens and verifies the resulting balance.
package migrate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/Bidon15/erc20kit/internal/artifacts"
	"github.com/Bidon15/erc20kit/internal/chain"
	"github.com/Bidon15/erc20kit/internal/metrics"
	"github.com/Bidon15/erc20kit/internal/repository"
	"github.com/Bidon15/erc20kit/internal/units"
)

// Chain is the part of chain.Client the orchestrator uses.
type Chain interface {
	From() common.Address
	Deploy(ctx context.Context, artifact *artifacts.ContractArtifact, args ...any) (*chain.DeploymentRecord, error)
	Transact(ctx context.Context, rec *chain.DeploymentRecord, method string, args ...any) (*types.Receipt, error)
	Call(ctx context.Context, rec *chain.DeploymentRecord, method string, args ...any) ([]any, error)
}

var _ Chain = (*chain.Client)(nil)

// ProgressCallback is invoked as the workflow advances.
type ProgressCallback func(step string, progress float64, message string)

// Artifacts are the two contracts the workflow deploys.
type Artifacts struct {
	Migrations *artifacts.ContractArtifact
	Token      *artifacts.ContractArtifact
}

// Config contains optional collaborators of the Orchestrator.
type Config struct {
	// Logger for structured logging
	Logger *slog.Logger

	// Out receives the human-readable console lines. Defaults to os.Stdout.
	Out io.Writer

	// Repo, when set, stores every deployment record.
	Repo repository.Repository

	// AddressFile, when set, receives the token contract address.
	AddressFile string

	// MarkCompleted records the migration in the Migrations ledger after verification.
	MarkCompleted bool

	OnProgress ProgressCallback
}

// Params are the explicit inputs of one run.
type Params struct {
	// Network names the target network in records and logs.
	Network string
	// Account receives the tokens. The zero address selects the deployer.
	Account common.Address
	// Tokens is the human-scale amount to assign.
	Tokens decimal.Decimal
}

// Result describes a successful run.
type Result struct {
	RunID      ulid.ULID
	Network    string
	Account    common.Address
	Migrations *chain.DeploymentRecord
	Token      *chain.DeploymentRecord
	Assigned   *big.Int
	Balance    *big.Int
	Duration   time.Duration
}

// Orchestrator runs the deploy-assign-verify workflow. Every step waits for the previous
// one to be confirmed, and the first failure aborts the run.
type Orchestrator struct {
	chain     Chain
	artifacts Artifacts
	config    Config
	logger    *slog.Logger
}

// New creates an Orchestrator.
func New(c Chain, arts Artifacts, config Config) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Out == nil {
		config.Out = os.Stdout
	}
	return &Orchestrator{
		chain:     c,
		artifacts: arts,
		config:    config,
		logger:    logger,
	}
}

// DeployMigrationsLedger deploys the Migrations contract.
func (o *Orchestrator) DeployMigrationsLedger(ctx context.Context) (*chain.DeploymentRecord, error) {
	return o.deploy(ctx, StepDeployMigrations, o.artifacts.Migrations)
}

// DeployToken deploys the token contract.
func (o *Orchestrator) DeployToken(ctx context.Context) (*chain.DeploymentRecord, error) {
	return o.deploy(ctx, StepDeployToken, o.artifacts.Token)
}

func (o *Orchestrator) deploy(ctx context.Context, step string, artifact *artifacts.ContractArtifact) (*chain.DeploymentRecord, error) {
	if artifact == nil {
		return nil, &StepError{Kind: ErrDeployment, Step: step, Err: fmt.Errorf("no artifact configured")}
	}
	rec, err := o.chain.Deploy(ctx, artifact)
	if err != nil {
		return nil, &StepError{Kind: ErrDeployment, Step: step, Contract: artifact.ContractName, Err: err}
	}
	return rec, nil
}

// Assign grants amount base units to account and waits for confirmation. The call is
// simulated first so the contract's boolean result is known before gas is spent.
func (o *Orchestrator) Assign(ctx context.Context, token *chain.DeploymentRecord, account common.Address, amount *big.Int) (bool, error) {
	fail := func(err error) (bool, error) {
		return false, &StepError{Kind: ErrTransaction, Step: StepAssign, Contract: token.ContractName, Err: err}
	}

	out, err := o.chain.Call(ctx, token, "assign", account, amount)
	if err != nil {
		return fail(err)
	}
	if ok, isBool := firstBool(out); isBool && !ok {
		return fail(fmt.Errorf("assign returned false"))
	}

	if _, err := o.chain.Transact(ctx, token, "assign", account, amount); err != nil {
		return fail(err)
	}
	return true, nil
}

// BalanceOf reads the token balance of account in base units.
func (o *Orchestrator) BalanceOf(ctx context.Context, token *chain.DeploymentRecord, account common.Address) (*big.Int, error) {
	out, err := o.chain.Call(ctx, token, "balanceOf", account)
	if err != nil {
		return nil, &StepError{Kind: ErrQuery, Step: StepBalanceOf, Contract: token.ContractName, Err: err}
	}
	if len(out) != 1 {
		return nil, &StepError{Kind: ErrQuery, Step: StepBalanceOf, Contract: token.ContractName,
			Err: fmt.Errorf("expected 1 return value, got %d", len(out))}
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, &StepError{Kind: ErrQuery, Step: StepBalanceOf, Contract: token.ContractName,
			Err: fmt.Errorf("unexpected return type %T", out[0])}
	}
	return balance, nil
}

// VerifyAssignment returns an *AssertionError unless expected equals actual.
func VerifyAssignment(expected, actual *big.Int) error {
	if expected == nil || actual == nil || expected.Cmp(actual) != 0 {
		return &AssertionError{Expected: expected, Actual: actual}
	}
	return nil
}

// Run executes the whole workflow: deploy Migrations, deploy the token, assign
// p.Tokens to p.Account, read the balance back and verify it.
func (o *Orchestrator) Run(ctx context.Context, p Params) (result *Result, err error) {
	start := time.Now()
	runID := ulid.Make()
	logger := o.logger.With(
		slog.String("run_id", runID.String()),
		slog.String("network", p.Network),
	)

	defer func() {
		outcome := metrics.ResultSuccess
		if err != nil {
			outcome = metrics.ResultError
			logger.Error("migration failed", slog.String("error", err.Error()))
		}
		metrics.MigrationRunsTotal.WithLabelValues(outcome).Inc()
	}()

	report := func(step string, progress float64, message string) {
		if o.config.OnProgress != nil {
			o.config.OnProgress(step, progress, message)
		}
		logger.Info(message,
			slog.String("step", step),
			slog.Float64("progress", progress),
		)
	}

	if p.Tokens.IsNegative() {
		return nil, fmt.Errorf("%w: negative token amount %s", ErrInvalidParams, p.Tokens)
	}
	amount, err := units.ToBaseUnits(p.Tokens, units.Ether)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	account := p.Account
	if account == (common.Address{}) {
		account = o.chain.From()
	}

	report(StepDeployMigrations, 0.0, "Deploying Migrations ledger")
	migrations, err := o.DeployMigrationsLedger(ctx)
	if err != nil {
		return nil, err
	}
	o.persist(ctx, logger, runID, p.Network, migrations)

	report(StepDeployToken, 0.2, "Deploying token contract")
	token, err := o.DeployToken(ctx)
	if err != nil {
		return nil, err
	}
	o.persist(ctx, logger, runID, p.Network, token)
	fmt.Fprintf(o.config.Out, "%s contract deployed at %s\n", token.ContractName, token.Address.Hex())

	if o.config.AddressFile != "" {
		if err := os.WriteFile(o.config.AddressFile, []byte(token.Address.Hex()), 0o644); err != nil {
			return nil, fmt.Errorf("write address file: %w", err)
		}
	}

	report(StepAssign, 0.4, "Assigning tokens")
	if _, err := o.Assign(ctx, token, account, amount); err != nil {
		return nil, err
	}

	report(StepBalanceOf, 0.6, "Reading balance")
	balance, err := o.BalanceOf(ctx, token, account)
	if err != nil {
		return nil, err
	}

	report(StepVerify, 0.8, "Verifying balance")
	if err := VerifyAssignment(amount, balance); err != nil {
		if ae, ok := err.(*AssertionError); ok {
			ae.Account = account
		}
		return nil, err
	}
	fmt.Fprintf(o.config.Out, "Assigned %s tokens to account %s ...\n", p.Tokens.String(), account.Hex())

	if o.config.MarkCompleted {
		if _, err := o.chain.Transact(ctx, migrations, "setCompleted", big.NewInt(1)); err != nil {
			return nil, &StepError{Kind: ErrTransaction, Step: StepMarkCompleted, Contract: migrations.ContractName, Err: err}
		}
	}

	report("complete", 1.0, "Migration complete")
	return &Result{
		RunID:      runID,
		Network:    p.Network,
		Account:    account,
		Migrations: migrations,
		Token:      token,
		Assigned:   amount,
		Balance:    balance,
		Duration:   time.Since(start),
	}, nil
}

// persist stores rec when a repository is configured. Storage failures are logged
// and do not abort the run.
func (o *Orchestrator) persist(ctx context.Context, logger *slog.Logger, runID ulid.ULID, network string, rec *chain.DeploymentRecord) {
	if o.config.Repo == nil {
		return
	}
	if err := o.config.Repo.Save(ctx, repository.NewRecord(runID.String(), network, rec)); err != nil {
		logger.Warn("failed to persist deployment record",
			slog.String("contract", rec.ContractName),
			slog.String("error", err.Error()),
		)
	}
}

func firstBool(out []any) (bool, bool) {
	if len(out) == 0 {
		return false, false
	}
	b, ok := out[0].(bool)
	return b, ok
}
