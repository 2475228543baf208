package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Bidon15/erc20kit/internal/token"
	"github.com/Bidon15/erc20kit/internal/units"
)

func newBalanceCmd(a *app) *cobra.Command {
	var contract string

	cmd := &cobra.Command{
		Use:   "balance [address]",
		Short: "Show ether and token balances",
		Long: `Shows the ether and token balance of an address, or of the deployer account when
no address is given.

Examples:
  erc20kit balance
  erc20kit balance 0x70997970C51812dc3A010C7d01b50e0d17dc79C8 --token 0x5FbDB2315678afecb367f032d93F642f64180aa3`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.connect(ctx, false)
			if err != nil {
				return err
			}
			sdk, err := a.tokenSDK(ctx, e, contract)
			if err != nil {
				return err
			}

			var addr common.Address
			if len(args) == 1 {
				addr, err = token.ParseAddress(args[0])
				if err != nil {
					return err
				}
			} else {
				addr, err = sdk.Address()
				if err != nil {
					return err
				}
			}

			ether, err := sdk.AddressEtherBalance(ctx, addr)
			if err != nil {
				return err
			}
			tokens, err := sdk.AddressTokenBalance(ctx, addr)
			if err != nil {
				return err
			}

			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), map[string]any{
					"address": addr,
					"ether":   ether.String(),
					"tokens":  tokens.String(),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Address: %s\n", addr.Hex())
			fmt.Fprintf(out, "Ether:   %s\n", ether.String())
			fmt.Fprintf(out, "Tokens:  %s\n", tokens.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&contract, "token", "", "token contract address (default: token.contract)")
	return cmd
}

func newSendCmd(a *app) *cobra.Command {
	var contract string

	cmd := &cobra.Command{
		Use:   "send ether|tokens <to> <amount>",
		Short: "Send ether or tokens from the deployer account",
		Long: `Signs and broadcasts a transfer from the deployer account and prints the
transaction hash without waiting for it to be mined. Ether amounts accept a unit
suffix (1ether, 0.5gwei, 21000wei); token amounts are in whole tokens.

Examples:
  erc20kit send ether 0x70997970C51812dc3A010C7d01b50e0d17dc79C8 0.1
  erc20kit send tokens 0x70997970C51812dc3A010C7d01b50e0d17dc79C8 25`,
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{token.AssetEther, "tokens"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			asset, rawTo, rawAmount := args[0], args[1], args[2]

			to, err := token.ParseAddress(rawTo)
			if err != nil {
				return err
			}

			e, err := a.connect(ctx, true)
			if err != nil {
				return err
			}
			sdk, err := a.tokenSDK(ctx, e, contract)
			if err != nil {
				return err
			}

			var hash common.Hash
			switch asset {
			case token.AssetEther:
				amount, unit, err := units.ParseAmount(rawAmount, units.Ether)
				if err != nil {
					return err
				}
				wei, err := units.ToBaseUnits(amount, unit)
				if err != nil {
					return err
				}
				hash, err = sdk.SendEther(ctx, to, units.FromBaseUnits(wei, units.Ether))
				if err != nil {
					return err
				}
			case "tokens", token.AssetToken:
				amount, err := decimal.NewFromString(rawAmount)
				if err != nil {
					return fmt.Errorf("%w: %q", units.ErrInvalidAmount, rawAmount)
				}
				hash, err = sdk.SendTokens(ctx, to, amount)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown asset %q: want ether or tokens", asset)
			}

			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), map[string]any{"tx_hash": hash})
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash.Hex())
			return nil
		},
	}

	cmd.Flags().StringVar(&contract, "token", "", "token contract address (default: token.contract)")
	return cmd
}

func newTxCmd(a *app) *cobra.Command {
	var contract string

	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Inspect transactions",
	}
	cmd.PersistentFlags().StringVar(&contract, "token", "", "token contract address used to decode transfers")

	status := &cobra.Command{
		Use:   "status <hash>",
		Short: "Print the status of a transaction: unknown, pending, success or fail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := a.connect(ctx, false)
			if err != nil {
				return err
			}
			sdk, err := a.tokenSDK(ctx, e, contract)
			if err != nil {
				return err
			}

			st, err := sdk.TransactionStatus(ctx, hash)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), map[string]string{"status": st.String()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), st.String())
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <hash>",
		Short: "Decode a transaction, including token transfer recipient and amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, err := a.connect(ctx, false)
			if err != nil {
				return err
			}
			sdk, err := a.tokenSDK(ctx, e, contract)
			if err != nil {
				return err
			}

			data, err := sdk.TransactionData(ctx, hash)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), map[string]any{
					"hash":          data.Hash,
					"from":          data.From,
					"to":            data.To,
					"ether_amount":  data.EtherAmount.String(),
					"token_amount":  data.TokenAmount.String(),
					"status":        data.Status.String(),
					"confirmations": data.Confirmations,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Hash:          %s\n", data.Hash.Hex())
			fmt.Fprintf(out, "Status:        %s\n", data.Status)
			fmt.Fprintf(out, "From:          %s\n", data.From.Hex())
			fmt.Fprintf(out, "To:            %s\n", data.To.Hex())
			fmt.Fprintf(out, "Ether:         %s\n", data.EtherAmount.String())
			fmt.Fprintf(out, "Tokens:        %s\n", data.TokenAmount.String())
			fmt.Fprintf(out, "Confirmations: %d\n", data.Confirmations)
			return nil
		},
	}

	cmd.AddCommand(status, show)
	return cmd
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q", s)
	}
	return common.BytesToHash(b), nil
}
