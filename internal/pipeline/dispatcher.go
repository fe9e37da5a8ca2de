// Package pipeline paces, signs and dispatches work items and collects their outcomes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gateway-fm/txbench/internal/metrics"
	"github.com/gateway-fm/txbench/internal/ratelimit"
	"github.com/gateway-fm/txbench/internal/rpc"
	"github.com/gateway-fm/txbench/internal/sender"
	"github.com/gateway-fm/txbench/internal/txbuilder"
)

// BlockHashSource provides the validity anchor for new transactions.
type BlockHashSource interface {
	BlockHash() string
}

// StaticBlockHash is a BlockHashSource that never changes.
type StaticBlockHash string

func (h StaticBlockHash) BlockHash() string { return string(h) }

// Dispatcher runs the pacing loop. It is the only writer of account nonces
// during a run: for each item it waits for a tick, reads the signer's next
// nonce, signs, commits the nonce and hands the item to a submission unit.
type Dispatcher struct {
	pacer     *ratelimit.Limiter
	sender    *sender.Sender
	blocks    BlockHashSource
	waitUntil rpc.TxExecutionStatus
	kind      string
	metrics   *metrics.PipelineMetrics
	logger    *slog.Logger

	dispatched  atomic.Int64
	buildErrors atomic.Int64
}

// DispatcherConfig for creating a Dispatcher.
type DispatcherConfig struct {
	Pacer     *ratelimit.Limiter
	Sender    *sender.Sender
	Blocks    BlockHashSource
	WaitUntil rpc.TxExecutionStatus
	Kind      string
	Metrics   *metrics.PipelineMetrics
	Logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		pacer:     cfg.Pacer,
		sender:    cfg.Sender,
		blocks:    cfg.Blocks,
		waitUntil: cfg.WaitUntil,
		kind:      cfg.Kind,
		metrics:   cfg.Metrics,
		logger:    logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch issues every item of w and returns how many were handed to a unit.
// It stops early when ctx is done. An item that cannot be built is logged and
// skipped without consuming a nonce.
func (d *Dispatcher) Dispatch(ctx context.Context, w Workload) (int, error) {
	total := w.Len()
	for i := 0; i < total; i++ {
		if err := d.pacer.Wait(ctx); err != nil {
			return d.Dispatched(), err
		}

		req, err := d.prepare(i, w)
		if err != nil {
			d.buildErrors.Add(1)
			if d.metrics != nil {
				d.metrics.RecordBuildError(d.kind)
			}
			d.logger.Error("skipping work item", slog.Int("index", i), slog.String("error", err.Error()))
			continue
		}

		d.sender.SubmitAsync(ctx, req)
		d.dispatched.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatched(d.kind)
		}
	}
	return d.Dispatched(), nil
}

func (d *Dispatcher) prepare(i int, w Workload) (sender.Request, error) {
	spec, err := w.Spec(i)
	if err != nil {
		return sender.Request{}, fmt.Errorf("work item: %w", err)
	}

	nonce := spec.Signer.NextNonce()
	signed, err := txbuilder.Build(txbuilder.TxParams{
		Signer:     spec.Signer,
		Nonce:      nonce,
		ReceiverID: spec.ReceiverID,
		BlockHash:  d.blocks.BlockHash(),
		Actions:    spec.Actions,
	})
	if err != nil {
		return sender.Request{}, err
	}
	payload, err := signed.Base64()
	if err != nil {
		return sender.Request{}, err
	}
	if err := spec.Signer.CommitNonce(nonce); err != nil {
		return sender.Request{}, err
	}

	return sender.Request{
		Index:     i,
		Signer:    spec.Signer.ID,
		Nonce:     nonce,
		TxHash:    signed.Hash().Hex(),
		Payload:   payload,
		WaitUntil: d.waitUntil,
	}, nil
}

// Dispatched returns the number of items handed to submission units so far.
func (d *Dispatcher) Dispatched() int { return int(d.dispatched.Load()) }

// BuildErrors returns the number of skipped items.
func (d *Dispatcher) BuildErrors() int { return int(d.buildErrors.Load()) }
