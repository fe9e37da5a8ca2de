package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gateway-fm/txbench/internal/account"
	"github.com/gateway-fm/txbench/internal/config"
	"github.com/gateway-fm/txbench/internal/pipeline"
	"github.com/gateway-fm/txbench/internal/txbuilder"
	"github.com/gateway-fm/txbench/pkg/types"
)

func newBenchmarkCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchmark-native-transfers",
		Short: "Send native transfers between the accounts of a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.cfg
			if err := cfg.ValidateBenchmark(); err != nil {
				return err
			}
			amount, err := txbuilder.ParseAmount(cfg.Amount)
			if err != nil {
				return err
			}

			accounts, err := account.LoadDir(cfg.UserDataDir)
			if err != nil {
				return err
			}
			w, err := pipeline.NewTransferWorkload(accounts, cfg.NumTransfers, amount, cfg.Selection, cfg.Seed)
			if err != nil {
				return err
			}
			if warning := config.CheckPoolSufficiency(len(accounts), cfg.ChannelBufferSize); warning != "" {
				c.logger.Warn(warning)
			}

			a, err := c.newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.refreshNonces(cmd.Context(), accounts); err != nil {
				return err
			}

			report, runErr := a.run(cmd.Context(), types.KindNativeTransfers, w)
			if report != nil {
				a.reconcile(cmd.Context(), accounts)
				if err := account.PersistAll(cfg.UserDataDir, accounts); err != nil {
					return err
				}
				a.logger.Debug("account records updated",
					slog.Int("accounts", len(accounts)),
					slog.String("dir", cfg.UserDataDir),
				)
			}
			return runErr
		},
	}

	f := cmd.Flags()
	f.String(config.KeyUserDataDir, "", "directory of sender and receiver account records")
	f.Int(config.KeyNumTransfers, config.DefaultNumTransfers, "number of transfers to send")
	f.String(config.KeyAmount, config.DefaultAmount, "amount of each transfer in yocto")
	f.String(config.KeySelection, config.DefaultSelection, "sender and receiver selection (round-robin, random)")
	f.Uint64(config.KeySeed, config.DefaultSeed, "seed of the random selection")
	f.String(config.KeyWaitUntil, config.DefaultWaitUntil, "completion level every submission waits for")
	f.String(config.KeySeverity, config.DefaultSeverity, "violation handling (assert aborts, log warns)")
	addPipelineFlags(cmd.Flags())
	return cmd
}
