package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// BlockService keeps a recent final block hash for use as the transaction validity anchor.
type BlockService struct {
	client   Client
	interval time.Duration
	hash     atomic.Pointer[string]
	height   atomic.Uint64
	logger   *slog.Logger

	started  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewBlockService fetches the current final block. A zero interval disables refreshing.
func NewBlockService(ctx context.Context, client Client, interval time.Duration, logger *slog.Logger) (*BlockService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &BlockService{
		client:   client,
		interval: interval,
		logger:   logger.With(slog.String("component", "block-service")),
		done:     make(chan struct{}),
	}
	if err := b.refresh(ctx); err != nil {
		return nil, fmt.Errorf("fetch final block: %w", err)
	}
	return b, nil
}

// BlockHash returns the most recently fetched final block hash.
func (b *BlockService) BlockHash() string {
	return *b.hash.Load()
}

// Height returns the height of the block behind BlockHash.
func (b *BlockService) Height() uint64 {
	return b.height.Load()
}

// Start begins periodic refreshing until Stop or ctx cancellation.
// Refresh failures are logged and the previous hash stays in use.
func (b *BlockService) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	if b.interval <= 0 {
		close(b.done)
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := b.refresh(ctx); err != nil && ctx.Err() == nil {
					b.logger.Warn("block refresh failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop halts refreshing and waits for the refresh loop to exit.
func (b *BlockService) Stop() {
	if !b.started.Load() {
		return
	}
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
	})
	<-b.done
}

func (b *BlockService) refresh(ctx context.Context) error {
	block, err := b.client.GetBlock(ctx, FinalBlock())
	if err != nil {
		return err
	}
	hash := block.Header.Hash
	b.hash.Store(&hash)
	b.height.Store(block.Header.Height)
	b.logger.Debug("block hash refreshed",
		slog.String("hash", hash),
		slog.Uint64("height", block.Header.Height),
	)
	return nil
}
