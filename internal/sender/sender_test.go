package sender

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gateway-fm/txbench/internal/rpc"
)

// mockClient implements Submitter for testing.
type mockClient struct {
	delay     time.Duration
	sendCount atomic.Int32
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

var _ Submitter = (*mockClient)(nil)

func (m *mockClient) SendTransaction(ctx context.Context, payload string, waitUntil rpc.TxExecutionStatus) (*rpc.TxResponse, error) {
	m.sendCount.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxFlight.Load()
		if n <= cur || m.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if payload == "fail" {
		return nil, errors.New("connection refused")
	}
	return &rpc.TxResponse{FinalExecutionStatus: waitUntil}, nil
}

type countingObserver struct {
	calls  atomic.Int32
	errors atomic.Int32
}

func (o *countingObserver) OnSubmitted(_ time.Duration, err error) {
	o.calls.Add(1)
	if err != nil {
		o.errors.Add(1)
	}
}

func drain(t *testing.T, g *Gate) []Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []Outcome
	for {
		o, ok := g.Next(ctx)
		if !ok {
			if ctx.Err() != nil {
				t.Error("timed out draining gate")
			}
			return out
		}
		out = append(out, o)
	}
}

func TestSenderDefaults(t *testing.T) {
	s := New(Config{Client: &mockClient{}})
	if s.Capacity() != 1000 {
		t.Errorf("expected default capacity 1000, got %d", s.Capacity())
	}
	if s.InFlight() != 0 {
		t.Errorf("expected 0 in flight, got %d", s.InFlight())
	}
}

func TestSenderDeliversEveryOutcome(t *testing.T) {
	client := &mockClient{delay: time.Millisecond}
	obs := &countingObserver{}
	s := New(Config{Client: client, Concurrency: 4, Observer: obs})
	ctx := context.Background()

	const n = 50
	done := make(chan []Outcome)
	go func() { done <- drain(t, s.Gate()) }()

	for i := 0; i < n; i++ {
		s.SubmitAsync(ctx, Request{Index: i, Nonce: uint64(i + 1), Payload: "ok", WaitUntil: rpc.StatusExecuted})
	}
	s.Close()
	outcomes := <-done

	if len(outcomes) != n {
		t.Fatalf("expected %d outcomes, got %d", n, len(outcomes))
	}
	seen := make(map[int]bool)
	for _, o := range outcomes {
		if seen[o.Index] {
			t.Errorf("outcome %d delivered twice", o.Index)
		}
		seen[o.Index] = true
		if o.Err != nil || o.Response == nil || o.Response.FinalExecutionStatus != rpc.StatusExecuted {
			t.Errorf("unexpected outcome %+v", o)
		}
		if o.Requested != rpc.StatusExecuted {
			t.Errorf("Requested = %v", o.Requested)
		}
	}
	if obs.calls.Load() != n {
		t.Errorf("observer saw %d submissions, want %d", obs.calls.Load(), n)
	}
}

func TestSenderRespectsCapacity(t *testing.T) {
	client := &mockClient{delay: 5 * time.Millisecond}
	s := New(Config{Client: client, Concurrency: 3})
	ctx := context.Background()

	done := make(chan []Outcome)
	go func() { done <- drain(t, s.Gate()) }()
	for i := 0; i < 30; i++ {
		s.SubmitAsync(ctx, Request{Index: i, Payload: "ok"})
	}
	s.Close()
	<-done

	if got := client.maxFlight.Load(); got > 3 {
		t.Errorf("client saw %d concurrent requests, capacity is 3", got)
	}
	if got := s.Gate().PeakOutstanding(); got > 3 {
		t.Errorf("peak outstanding %d exceeds capacity 3", got)
	}
}

func TestSenderSlowCollectorBlocksAdmission(t *testing.T) {
	client := &mockClient{}
	s := New(Config{Client: client, Concurrency: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.SubmitAsync(ctx, Request{Index: i, Payload: "ok"})
	}
	// Nobody reads outcomes: only two units may get past the gate.
	time.Sleep(30 * time.Millisecond)
	if got := client.sendCount.Load(); got != 2 {
		t.Errorf("expected 2 submissions before the collector reads, got %d", got)
	}

	outcomes := drain(t, startClose(s))
	if len(outcomes) != 5 {
		t.Errorf("expected 5 outcomes, got %d", len(outcomes))
	}
}

// startClose closes s in the background and returns its gate for draining.
func startClose(s *Sender) *Gate {
	go s.Close()
	return s.Gate()
}

func TestSenderTransportErrorIsReported(t *testing.T) {
	obs := &countingObserver{}
	s := New(Config{Client: &mockClient{}, Concurrency: 2, Observer: obs})
	s.SubmitAsync(context.Background(), Request{Index: 7, Payload: "fail"})
	outcomes := drain(t, startClose(s))

	if len(outcomes) != 1 || outcomes[0].Err == nil {
		t.Fatalf("expected one failed outcome, got %+v", outcomes)
	}
	if outcomes[0].Index != 7 {
		t.Errorf("Index = %d, want 7", outcomes[0].Index)
	}
	if obs.errors.Load() != 1 {
		t.Errorf("observer errors = %d, want 1", obs.errors.Load())
	}
}

func TestSenderRequestTimeout(t *testing.T) {
	s := New(Config{Client: &mockClient{delay: time.Second}, Concurrency: 1, RequestTimeout: 10 * time.Millisecond})
	s.SubmitAsync(context.Background(), Request{Index: 0, Payload: "ok"})
	outcomes := drain(t, startClose(s))

	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	if !errors.Is(outcomes[0].Err, ErrRequestTimeout) {
		t.Errorf("expected ErrRequestTimeout, got %v", outcomes[0].Err)
	}
}

func TestSenderCancelledWaitersExit(t *testing.T) {
	client := &mockClient{}
	s := New(Config{Client: client, Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 4; i++ {
		s.SubmitAsync(ctx, Request{Index: i, Payload: "ok"})
	}
	time.Sleep(10 * time.Millisecond)
	cancel()

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after cancellation")
	}
	if got := client.sendCount.Load(); got != 1 {
		t.Errorf("expected only the admitted unit to submit, got %d", got)
	}
}

// admittedThenCancelled never signals Done, so the semaphore admits the unit,
// but reports itself cancelled once admitted.
type admittedThenCancelled struct{ context.Context }

func (admittedThenCancelled) Done() <-chan struct{} { return nil }
func (admittedThenCancelled) Err() error            { return context.Canceled }

func TestSenderAbandonsPermitAdmittedAfterCancel(t *testing.T) {
	client := &mockClient{}
	s := New(Config{Client: client, Concurrency: 1})

	s.SubmitAsync(admittedThenCancelled{context.Background()}, Request{Index: 0, Payload: "ok"})
	s.Close()

	if got := client.sendCount.Load(); got != 0 {
		t.Errorf("expected no submission after cancellation, got %d", got)
	}
	if outcomes := drain(t, s.Gate()); len(outcomes) != 0 {
		t.Errorf("expected no outcomes, got %d", len(outcomes))
	}
	if got := s.InFlight(); got != 0 {
		t.Errorf("InFlight = %d, want 0", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := s.Gate().Acquire(ctx); err != nil {
		t.Errorf("abandoned slot not freed: %v", err)
	}
}

func TestPermitResolvesOnce(t *testing.T) {
	g := NewGate(1)
	p, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.Resolve(Outcome{Index: i})
		}(i)
	}
	wg.Wait()
	p.Abandon()
	g.Close()

	outcomes := drain(t, g)
	if len(outcomes) != 1 {
		t.Errorf("expected exactly one outcome, got %d", len(outcomes))
	}
	if g.Outstanding() != 0 {
		t.Errorf("Outstanding = %d, want 0", g.Outstanding())
	}
}

func TestPermitAbandonFreesSlot(t *testing.T) {
	g := NewGate(1)
	p, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p.Abandon()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := g.Acquire(ctx); err != nil {
		t.Errorf("slot not freed by Abandon: %v", err)
	}
}

func TestGateNextHonoursContext(t *testing.T) {
	g := NewGate(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := g.Next(ctx); ok {
		t.Error("Next should report !ok when ctx expires")
	}
}
