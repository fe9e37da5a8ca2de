package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gateway-fm/txbench/internal/config"
)

// cli carries the state every command shares once flags are parsed.
type cli struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "txbench",
		Short:         "Paced transaction dispatch and verification against a node",
		Long:          "txbench creates accounts and contracts and benchmarks native transfers by submitting signed transactions at a fixed pace, bounding outstanding requests, and checking every response against the requested completion level.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String(config.KeyRPCURL, config.DefaultRPCURL, "JSON-RPC URL of a node accepting txbench-encoded transactions")
	pf.String(config.KeyLogLevel, config.DefaultLogLevel, "log level (debug, info, warn, error)")
	pf.String(config.KeyDatabasePath, config.DefaultDatabasePath, "SQLite database for run history (empty disables history)")
	pf.String(config.KeyListenAddr, config.DefaultListenAddr, "monitor listen address while a run is active (empty disables the monitor)")
	pf.String(config.KeyCORSAllowedOrigins, config.DefaultCORSAllowedOrigins, "comma separated origins allowed by the monitor")
	pf.Duration(config.KeyRequestTimeout, config.DefaultRequestTimeout, "per-submission timeout (0 waits as long as the RPC client)")
	pf.Bool(config.KeyRefreshNonces, config.DefaultRefreshNonces, "query account nonces from the node before and after a run")
	pf.Duration(config.KeyNonceQueryInterval, config.DefaultNonceQueryInterval, "pacing interval between nonce queries")
	pf.Int(config.KeyNonceQueryConcurrency, config.DefaultNonceQueryConcurrency, "maximum outstanding nonce queries")
	pf.Duration(config.KeyBlockRefreshInterval, config.DefaultBlockRefreshInterval, "block hash refresh interval (0 fetches it once)")

	rootCmd.AddCommand(
		newCreateSubAccountsCmd(c),
		newCreateContractCmd(c),
		newCallContractCmd(c),
		newBenchmarkCmd(c),
		newRunsCmd(c),
	)

	return rootCmd
}

// addPipelineFlags registers the pacing and admission knobs of commands that run the pipeline.
func addPipelineFlags(f *pflag.FlagSet) {
	f.Duration(config.KeyInterval, config.DefaultInterval, "pacing interval between dispatched transactions")
	f.Int64(config.KeyIntervalMicros, 0, "pacing interval in microseconds, overrides --interval when set")
	f.Int(config.KeyChannelBufferSize, config.DefaultChannelBufferSize, "maximum outstanding submissions")
}

// load binds the flags of the command being run and loads the configuration.
func (c *cli) load(cmd *cobra.Command) error {
	v := config.NewViper()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.out = cmd.OutOrStdout()
	c.logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	slog.SetDefault(c.logger)
	return nil
}

func newLogger(w io.Writer, logLevel string) *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
