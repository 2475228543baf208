package main

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Bidon15/erc20kit/internal/artifacts"
	"github.com/Bidon15/erc20kit/internal/migrate"
	"github.com/Bidon15/erc20kit/internal/repository"
	"github.com/Bidon15/erc20kit/internal/token"
)

func newMigrateCmd(a *app) *cobra.Command {
	var (
		account     string
		tokens      string
		addressFile string
		noMark      bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Deploy Migrations and TestToken, assign tokens and verify the balance",
		Long: `Deploys the Migrations ledger and the TestToken contract, assigns tokens to an
account and reads the balance back. Each step waits for confirmation and the first
failure aborts the run with exit status 1.

Examples:
  erc20kit migrate
  erc20kit migrate --network sepolia --account 0x70997970C51812dc3A010C7d01b50e0d17dc79C8
  erc20kit migrate --tokens 250 --address-file token_contract_address.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg

			if !cmd.Flags().Changed("account") {
				account = cfg.Migrate.Account
			}
			if !cmd.Flags().Changed("tokens") {
				tokens = cfg.Migrate.Tokens
			}
			if !cmd.Flags().Changed("address-file") {
				addressFile = cfg.Migrate.AddressFile
			}

			params := migrate.Params{}
			if account != "" {
				addr, err := token.ParseAddress(account)
				if err != nil {
					return fmt.Errorf("%w: account %v", migrate.ErrInvalidParams, err)
				}
				params.Account = addr
			}
			amount, err := decimal.NewFromString(tokens)
			if err != nil {
				return fmt.Errorf("%w: tokens %q", migrate.ErrInvalidParams, tokens)
			}
			params.Tokens = amount

			arts, err := artifacts.LoadSet(cfg.Artifacts.Dir, cfg.Artifacts.Migrations, cfg.Artifacts.Token)
			if err != nil {
				return err
			}

			e, err := a.connect(ctx, true)
			if err != nil {
				return err
			}
			params.Network = e.name

			repo, err := repository.Open(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer repo.Close()

			// With --json, stdout carries only the JSON document.
			console := cmd.OutOrStdout()
			if a.jsonOut {
				console = cmd.ErrOrStderr()
			}

			orch := migrate.New(e.client, migrate.Artifacts{
				Migrations: arts[cfg.Artifacts.Migrations],
				Token:      arts[cfg.Artifacts.Token],
			}, migrate.Config{
				Logger:        a.logger,
				Out:           console,
				Repo:          repo,
				AddressFile:   addressFile,
				MarkCompleted: cfg.Migrate.MarkCompleted && !noMark,
			})

			result, err := orch.Run(ctx, params)
			if err != nil {
				return err
			}

			a.logger.Info("migration finished",
				slog.String("run_id", result.RunID.String()),
				slog.String("token", result.Token.Address.Hex()),
				slog.Duration("duration", result.Duration),
			)
			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), migrateOutput{
					RunID:      result.RunID.String(),
					Network:    result.Network,
					Account:    result.Account,
					Migrations: result.Migrations.Address,
					Token:      result.Token.Address,
					Balance:    result.Balance.String(),
				})
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account that receives the tokens (default: deployer)")
	cmd.Flags().StringVar(&tokens, "tokens", "1000", "number of whole tokens to assign")
	cmd.Flags().StringVar(&addressFile, "address-file", "", "write the token contract address to this file")
	cmd.Flags().BoolVar(&noMark, "no-mark", false, "do not record the migration in the Migrations ledger")
	return cmd
}

type migrateOutput struct {
	RunID      string         `json:"run_id"`
	Network    string         `json:"network"`
	Account    common.Address `json:"account"`
	Migrations common.Address `json:"migrations"`
	Token      common.Address `json:"token"`
	Balance    string         `json:"balance"`
}
