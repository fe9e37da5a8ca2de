package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gateway-fm/txbench/internal/config"
	"github.com/gateway-fm/txbench/internal/storage"
)

func newRunsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List stored runs, or show one run with its violation samples",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			if cfg.DatabasePath == "" {
				return errors.New("--db is required to read run history")
			}
			store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				detail, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if detail == nil {
					return fmt.Errorf("run %s not found", args[0])
				}
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(detail)
			}

			page, err := store.ListRuns(cmd.Context(), cfg.RunsLimit, cfg.RunsOffset)
			if err != nil {
				return err
			}
			if len(page.Runs) == 0 {
				fmt.Fprintln(c.out, "no runs stored")
				return nil
			}

			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tSTARTED\tOBSERVED\tVIOLATIONS\tTPS")
			for _, r := range page.Runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%s\n",
					r.ID, r.Kind, r.Status, r.StartedAt.Local().Format(time.DateTime),
					r.Observed, r.Expected, r.Violations, formatTPS(r.Observed, r.ObservedTPS))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%d of %d runs\n", len(page.Runs), page.Total)
			return nil
		},
	}

	f := cmd.Flags()
	f.Int(config.KeyRunsLimit, config.DefaultRunsLimit, "maximum runs to list")
	f.Int(config.KeyRunsOffset, 0, "runs to skip, newest first")
	return cmd
}
