package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gateway-fm/txbench/internal/account"
	"github.com/gateway-fm/txbench/internal/config"
	"github.com/gateway-fm/txbench/internal/pipeline"
	"github.com/gateway-fm/txbench/internal/rpc"
	"github.com/gateway-fm/txbench/internal/txbuilder"
	"github.com/gateway-fm/txbench/internal/verification"
	"github.com/gateway-fm/txbench/pkg/types"
)

// setupRun pins the levels used by commands whose results later runs depend on.
func pinSetupLevels(cfg *config.Config) {
	cfg.Severity = verification.SeverityAssert
	cfg.WaitUntil = rpc.StatusExecutedOptimistic
}

// loadSigner reads the signer record and refreshes its nonce.
func (a *app) loadSigner(cmd *cobra.Command) (*account.Account, error) {
	signer, err := account.LoadFile(a.cfg.SignerKeyPath)
	if err != nil {
		return nil, err
	}
	if err := a.refreshNonces(cmd.Context(), []*account.Account{signer}); err != nil {
		return nil, err
	}
	return signer, nil
}

// persistSigner reconciles and writes back the signer record so later commands
// never reuse a nonce this one consumed.
func (a *app) persistSigner(cmd *cobra.Command, signer *account.Account) error {
	a.reconcile(cmd.Context(), []*account.Account{signer})
	if err := signer.PersistFile(a.cfg.SignerKeyPath); err != nil {
		return fmt.Errorf("persist signer: %w", err)
	}
	return nil
}

func newCreateSubAccountsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-sub-accounts",
		Short: "Create funded sub accounts of the signer and store their records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.cfg
			if err := cfg.ValidateSubAccounts(); err != nil {
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
			w, err := pipeline.NewSubAccountWorkload(signer, cfg.NumSubAccounts, cfg.SubAccountPrefix, deposit)
			if err != nil {
				return err
			}

			report, runErr := a.run(cmd.Context(), types.KindCreateSubAccounts, w)
			if report != nil {
				if err := a.persistSigner(cmd, signer); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if report.Status != types.StatusCompleted {
				return fmt.Errorf("only %d of %d sub accounts were confirmed", report.Succeeded, report.Expected)
			}

			// New access keys start at a nonce the node picks.
			created := w.Created()
			if err := account.SyncNonces(cmd.Context(), a.client, created, a.syncConfig()); err != nil {
				return fmt.Errorf("query nonces of new accounts: %w", err)
			}
			if err := account.PersistAll(cfg.UserDataDir, created); err != nil {
				return err
			}
			a.logger.Info("sub accounts created",
				slog.Int("accounts", len(created)),
				slog.String("dir", cfg.UserDataDir),
			)
			return nil
		},
	}

	f := cmd.Flags()
	f.String(config.KeySignerKeyPath, "", "signer account record")
	f.String(config.KeyUserDataDir, "", "directory the new account records are written to")
	f.Int(config.KeyNumSubAccounts, config.DefaultNumSubAccounts, "number of sub accounts to create")
	f.String(config.KeySubAccountPrefix, "", "optional prefix of the sub account names")
	f.String(config.KeyDeposit, config.DefaultDeposit, "deposit of each sub account in yocto")
	addPipelineFlags(cmd.Flags())
	return cmd
}
