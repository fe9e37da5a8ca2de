package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/txbench/internal/ratelimit"
	"github.com/gateway-fm/txbench/internal/rpc"
)

// NonceQuerier reads authoritative nonces from the network.
type NonceQuerier interface {
	ViewAccessKey(ctx context.Context, accountID, publicKey string) (*rpc.AccessKeyView, error)
}

// SyncConfig configures SyncNonces.
type SyncConfig struct {
	// Interval paces queries so a large directory does not flood the node.
	Interval time.Duration
	// Concurrency bounds outstanding queries.
	Concurrency int
	Logger      *slog.Logger
}

// DefaultSyncConfig mirrors the pacing nodes tolerate for view queries.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Interval:    150 * time.Microsecond,
		Concurrency: 32,
	}
}

// SyncNonces replaces each account's nonce with the value the network reports.
// It runs after dispatch has finished, so it never races the pacing loop.
func SyncNonces(ctx context.Context, q NonceQuerier, accounts []*Account, cfg SyncConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultSyncConfig().Concurrency
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSyncConfig().Interval
	}

	pacer := ratelimit.New(cfg.Interval)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	start := time.Now()
	for _, acc := range accounts {
		if err := pacer.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			view, err := q.ViewAccessKey(gctx, acc.ID, acc.PublicKey())
			if err != nil {
				return fmt.Errorf("query nonce of %s: %w", acc.ID, err)
			}
			if view.Nonce != acc.Nonce() {
				logger.Debug("nonce corrected",
					slog.String("account", acc.ID),
					slog.Uint64("local", acc.Nonce()),
					slog.Uint64("network", view.Nonce),
				)
			}
			acc.SetNonce(view.Nonce)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	logger.Info("nonces synced",
		slog.Int("accounts", len(accounts)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
