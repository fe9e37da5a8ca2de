package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gateway-fm/txbench/internal/account"
	"github.com/gateway-fm/txbench/internal/config"
	"github.com/gateway-fm/txbench/internal/pipeline"
	"github.com/gateway-fm/txbench/internal/txbuilder"
	"github.com/gateway-fm/txbench/pkg/types"
)

func newCreateContractCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-contract",
		Short: "Create a sub account of the signer and deploy a contract to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.cfg
			if err := cfg.ValidateContract(); err != nil {
				return err
			}
			pinSetupLevels(cfg)
			deposit, err := txbuilder.ParseAmount(cfg.Deposit)
			if err != nil {
				return err
			}
			code, err := txbuilder.ReadWasm(cfg.WasmPath)
			if err != nil {
				return err
			}

			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			signer, err := a.loadSigner(cmd)
			if err != nil {
				return err
			}
			if !strings.HasSuffix(cfg.NewAccountID, "."+signer.ID) {
				return fmt.Errorf("new account id %s must be a sub account of %s", cfg.NewAccountID, signer.ID)
			}
			contractAcc, err := account.Generate(cfg.NewAccountID)
			if err != nil {
				return err
			}

			w := pipeline.StaticWorkload{{
				Signer:     signer,
				ReceiverID: contractAcc.ID,
				Actions:    txbuilder.CreateContractActions(account.PublicKeyBytes(&contractAcc.PrivateKey.PublicKey), deposit, code),
			}}
			report, runErr := a.run(cmd.Context(), types.KindCreateContract, w)
			if report != nil {
				if err := a.persistSigner(cmd, signer); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if report.Status != types.StatusCompleted {
				return fmt.Errorf("contract account %s was not confirmed", contractAcc.ID)
			}

			created := []*account.Account{contractAcc}
			if err := account.SyncNonces(cmd.Context(), a.client, created, a.syncConfig()); err != nil {
				return fmt.Errorf("query nonce of %s: %w", contractAcc.ID, err)
			}
			if err := account.PersistAll(cfg.UserDataDir, created); err != nil {
				return err
			}
			a.logger.Info("contract deployed",
				slog.String("account", contractAcc.ID),
				slog.Int("code_bytes", len(code)),
			)
			return nil
		},
	}

	f := cmd.Flags()
	f.String(config.KeySignerKeyPath, "", "signer account record")
	f.String(config.KeyNewAccountID, "", "sub account of the signer the contract is deployed to")
	f.String(config.KeyWasmPath, "", "contract code")
	f.String(config.KeyUserDataDir, "", "directory the contract account record is written to")
	f.String(config.KeyDeposit, config.DefaultDeposit, "deposit of the contract account in yocto")
	addPipelineFlags(cmd.Flags())
	return cmd
}

func newCallContractCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call-contract",
		Short: "Call a contract method from the signer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.cfg
			if err := cfg.ValidateCall(); err != nil {
				return err
			}
			pinSetupLevels(cfg)
			deposit, err := txbuilder.ParseAmount(cfg.Deposit)
			if err != nil {
				return err
			}

			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			signer, err := a.loadSigner(cmd)
			if err != nil {
				return err
			}

			w := pipeline.StaticWorkload{{
				Signer:     signer,
				ReceiverID: cfg.ReceiverID,
				Actions:    txbuilder.FunctionCallActions(cfg.MethodName, []byte(cfg.Args), cfg.Gas, deposit),
			}}
			report, runErr := a.run(cmd.Context(), types.KindCallContract, w)
			if report != nil {
				if err := a.persistSigner(cmd, signer); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if report.Status != types.StatusCompleted {
				return fmt.Errorf("call to %s.%s was not confirmed", cfg.ReceiverID, cfg.MethodName)
			}
			a.logger.Info("contract called",
				slog.String("receiver", cfg.ReceiverID),
				slog.String("method", cfg.MethodName),
			)
			return nil
		},
	}

	f := cmd.Flags()
	f.String(config.KeySignerKeyPath, "", "signer account record")
	f.String(config.KeyReceiverID, "", "contract account")
	f.String(config.KeyMethodName, "", "method to call")
	f.String(config.KeyArgs, config.DefaultArgs, "method arguments, a JSON object")
	f.Uint64(config.KeyGas, config.DefaultGas, "gas attached to the call")
	f.String(config.KeyDeposit, config.DefaultCallDeposit, "deposit attached to the call in yocto")
	addPipelineFlags(cmd.Flags())
	return cmd
}
