package main

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/Bidon15/erc20kit/internal/chain"
)

func newKeyfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyfile",
		Short: "Manage encrypted key files",
	}

	var (
		out        string
		privateKey string
		password   string
		light      bool
	)

	create := &cobra.Command{
		Use:   "create",
		Short: "Write a private key to an encrypted JSON key file",
		Long: `Encrypts a private key with a password and writes it as a version 3 JSON key file
usable as deployer.keyfile. Without --private-key a new key is generated. The
password defaults to deployer.password (ERC20KIT_DEPLOYER_PASSWORD).

Examples:
  erc20kit keyfile create --out deployer.json --password s3cret
  erc20kit keyfile create --out deployer.json --private-key 0xac09...ff80`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = a.cfg.Deployer.Password
			}
			if password == "" {
				return errors.New("a password is required: pass --password or set deployer.password")
			}

			var (
				key *ecdsa.PrivateKey
				err error
			)
			if privateKey != "" {
				key, err = crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKey), "0x"))
				if err != nil {
					return fmt.Errorf("invalid private key: %w", err)
				}
			} else {
				key, err = crypto.GenerateKey()
				if err != nil {
					return fmt.Errorf("generate key: %w", err)
				}
			}

			params := chain.StandardKeyfileParams
			if light {
				params = chain.LightKeyfileParams
			}
			addr, err := chain.CreateKeyfile(key, password, out, params)
			if err != nil {
				return err
			}

			if a.jsonOut {
				return a.printJSON(cmd.OutOrStdout(), map[string]any{"address": addr, "path": out})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key file for %s written to %s\n", addr.Hex(), out)
			return nil
		},
	}

	create.Flags().StringVar(&out, "out", "", "path of the key file to create")
	create.Flags().StringVar(&privateKey, "private-key", "", "hex private key to encrypt (default: generate one)")
	create.Flags().StringVar(&password, "password", "", "encryption password (default: deployer.password)")
	create.Flags().BoolVar(&light, "light", false, "use light scrypt parameters (faster, weaker)")
	_ = create.MarkFlagRequired("out")

	cmd.AddCommand(create)
	return cmd
}
