// Package sender submits signed transactions asynchronously behind an admission gate.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gateway-fm/txbench/internal/rpc"
)

// ErrRequestTimeout is the transport error reported when a submission exceeds its deadline.
var ErrRequestTimeout = errors.New("request timed out")

// Submitter is the part of the RPC client a submission unit needs.
type Submitter interface {
	SendTransaction(ctx context.Context, signedTxBase64 string, waitUntil rpc.TxExecutionStatus) (*rpc.TxResponse, error)
}

// Request is one signed transaction ready for submission.
type Request struct {
	Index     int
	Signer    string
	Nonce     uint64
	TxHash    string
	Payload   string // base64 signed transaction
	WaitUntil rpc.TxExecutionStatus
}

// Observer is notified around each submission. Implementations must be safe for concurrent use.
type Observer interface {
	OnSubmitted(latency time.Duration, err error)
}

// Sender runs one unit per request: acquire a permit, submit, resolve with the outcome.
type Sender struct {
	client   Submitter
	gate     *Gate
	timeout  time.Duration
	observer Observer
	logger   *slog.Logger

	wg     sync.WaitGroup
	closed sync.Once
}

// Config for creating a Sender.
type Config struct {
	Client         Submitter
	Concurrency    int           // gate capacity (default: 1000)
	RequestTimeout time.Duration // zero waits as long as the client does
	Observer       Observer
	Logger         *slog.Logger
}

// New creates a new Sender.
func New(cfg Config) *Sender {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1000
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{
		client:   cfg.Client,
		gate:     NewGate(concurrency),
		timeout:  cfg.RequestTimeout,
		observer: cfg.Observer,
		logger:   logger.With(slog.String("component", "sender")),
	}
}

// Gate returns the admission gate the collector reads outcomes from.
func (s *Sender) Gate() *Gate { return s.gate }

// SubmitAsync starts the unit for req and returns immediately.
// The permit is acquired inside the unit, never by the caller.
func (s *Sender) SubmitAsync(ctx context.Context, req Request) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, req)
	}()
}

func (s *Sender) run(ctx context.Context, req Request) {
	permit, err := s.gate.Acquire(ctx)
	if err != nil {
		// Run cancelled before a slot freed up; nobody is waiting for this outcome.
		s.logger.Debug("submission abandoned before admission",
			slog.Int("index", req.Index),
			slog.String("error", err.Error()),
		)
		return
	}
	if ctx.Err() != nil {
		// Admitted after the run was cancelled; do not start a new submission.
		permit.Abandon()
		return
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.client.SendTransaction(callCtx, req.Payload, req.WaitUntil)
	latency := time.Since(start)
	if err != nil && s.timeout > 0 && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w after %v: %v", ErrRequestTimeout, s.timeout, err)
	}
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if s.observer != nil {
		s.observer.OnSubmitted(latency, err)
	}

	permit.Resolve(Outcome{
		Index:     req.Index,
		Signer:    req.Signer,
		Nonce:     req.Nonce,
		TxHash:    req.TxHash,
		Requested: req.WaitUntil,
		Response:  resp,
		Err:       err,
		Latency:   latency,
	})
}

// Close waits for every started unit to finish, then closes the gate.
// Call it after the last SubmitAsync.
func (s *Sender) Close() {
	s.closed.Do(func() {
		s.wg.Wait()
		s.gate.Close()
	})
}

// Capacity returns the gate capacity.
func (s *Sender) Capacity() int { return s.gate.Capacity() }

// InFlight returns the number of submissions not yet resolved.
func (s *Sender) InFlight() int { return s.gate.Outstanding() }
