package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gateway-fm/txbench/internal/account"
	"github.com/gateway-fm/txbench/internal/rpc"
	"github.com/gateway-fm/txbench/internal/txbuilder"
	"github.com/gateway-fm/txbench/internal/verification"
	"github.com/gateway-fm/txbench/pkg/types"
)

type submission struct {
	signer string
	nonce  uint64
}

// fakeNode decodes submitted transactions and answers at the requested level.
type fakeNode struct {
	delay  time.Duration
	failAt int32 // 1-based call number that fails with a transport error, 0 for none
	level  *rpc.TxExecutionStatus

	calls     atomic.Int32
	inFlight  atomic.Int32
	maxFlight atomic.Int32

	mu   sync.Mutex
	seen []submission
}

func (f *fakeNode) SendTransaction(ctx context.Context, payload string, waitUntil rpc.TxExecutionStatus) (*rpc.TxResponse, error) {
	call := f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxFlight.Load()
		if n <= cur || f.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	st, err := txbuilder.DecodeSigned(raw)
	if err != nil {
		return nil, err
	}
	if err := st.Verify(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.seen = append(f.seen, submission{signer: st.Transaction.SignerID, nonce: st.Transaction.Nonce})
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failAt > 0 && call == f.failAt {
		return nil, errors.New("connection reset by peer")
	}

	level := waitUntil
	if f.level != nil {
		level = *f.level
	}
	resp := &rpc.TxResponse{FinalExecutionStatus: level}
	if level.Executed() {
		resp.Outcome = &rpc.FinalExecutionOutcome{
			Status: rpc.FinalExecutionStatus{Kind: rpc.FinalSuccessValue},
			ReceiptsOutcome: []rpc.OutcomeWithID{
				{ID: "r1", Outcome: rpc.ExecutionOutcome{Status: rpc.ExecutionStatus{Kind: rpc.StepSuccessValue}}},
			},
		}
	}
	return resp, nil
}

func (f *fakeNode) submissions() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.seen...)
}

func testAccounts(t *testing.T, n int, nonce uint64) []*account.Account {
	t.Helper()
	accs := make([]*account.Account, n)
	for i := range accs {
		key, err := account.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		accs[i] = account.New(string(rune('a'+i))+".test", key, nonce)
	}
	return accs
}

func newTestRunner(node *fakeNode, interval time.Duration, concurrency int, severity verification.Severity) *Runner {
	return NewRunner(Config{
		Client:      node,
		Blocks:      StaticBlockHash("9zYbRkXw7S6hCjGc7bWbJzMgXnP64E9fZoH7vXjq2mBb"),
		Interval:    interval,
		Concurrency: concurrency,
		WaitUntil:   rpc.StatusExecutedOptimistic,
		Severity:    severity,
	})
}

func TestRunTransfers(t *testing.T) {
	accs := testAccounts(t, 3, 5)
	w, err := NewTransferWorkload(accs, 4, big.NewInt(1), account.PolicyRoundRobin, 1)
	if err != nil {
		t.Fatalf("workload: %v", err)
	}
	node := &fakeNode{delay: 5 * time.Millisecond}
	r := newTestRunner(node, 10*time.Millisecond, 2, verification.SeverityAssert)

	report, err := r.Run(context.Background(), types.KindNativeTransfers, w)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != types.StatusCompleted {
		t.Errorf("Status = %q, want completed", report.Status)
	}
	if report.Dispatched != 4 || report.Observed != 4 || report.Succeeded != 4 {
		t.Errorf("dispatched/observed/succeeded = %d/%d/%d, want 4/4/4", report.Dispatched, report.Observed, report.Succeeded)
	}
	if report.ID == "" {
		t.Error("expected a run ID")
	}

	// Round robin: a sends twice (items 0 and 3), b and c once.
	want := map[string]uint64{"a.test": 7, "b.test": 6, "c.test": 6}
	for _, acc := range accs {
		if got := acc.Nonce(); got != want[acc.ID] {
			t.Errorf("%s nonce = %d, want %d", acc.ID, got, want[acc.ID])
		}
	}

	subs := node.submissions()
	if len(subs) != 4 {
		t.Fatalf("node saw %d submissions, want 4", len(subs))
	}
	if subs[0] != (submission{"a.test", 6}) {
		t.Errorf("first submission = %+v, want a.test nonce 6", subs[0])
	}
}

func TestRunNonceMonotonicPerSigner(t *testing.T) {
	accs := testAccounts(t, 2, 0)
	w, err := NewTransferWorkload(accs, 20, big.NewInt(1), account.PolicyRandom, 42)
	if err != nil {
		t.Fatalf("workload: %v", err)
	}
	node := &fakeNode{}
	r := newTestRunner(node, time.Millisecond, 4, verification.SeverityAssert)

	if _, err := r.Run(context.Background(), types.KindNativeTransfers, w); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Arrival order at the node is up to the scheduler, the set per signer is not.
	perSigner := make(map[string]map[uint64]bool)
	for _, s := range node.submissions() {
		if perSigner[s.signer] == nil {
			perSigner[s.signer] = make(map[uint64]bool)
		}
		if perSigner[s.signer][s.nonce] {
			t.Errorf("%s nonce %d submitted twice", s.signer, s.nonce)
		}
		perSigner[s.signer][s.nonce] = true
	}
	total := 0
	for _, acc := range accs {
		nonces := perSigner[acc.ID]
		for n := uint64(1); n <= acc.Nonce(); n++ {
			if !nonces[n] {
				t.Errorf("%s nonce %d never submitted", acc.ID, n)
			}
		}
		total += len(nonces)
	}
	if total != 20 {
		t.Errorf("total submissions = %d, want 20", total)
	}
}

func TestRunGateBound(t *testing.T) {
	accs := testAccounts(t, 4, 0)
	w, err := NewTransferWorkload(accs, 30, big.NewInt(1), account.PolicyRoundRobin, 1)
	if err != nil {
		t.Fatalf("workload: %v", err)
	}
	node := &fakeNode{delay: 20 * time.Millisecond}
	r := newTestRunner(node, 100*time.Microsecond, 3, verification.SeverityLog)

	report, err := r.Run(context.Background(), types.KindNativeTransfers, w)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := node.maxFlight.Load(); got > 3 {
		t.Errorf("max concurrent submissions = %d, want <= 3", got)
	}
	if report.PeakInFlight > 3 {
		t.Errorf("PeakInFlight = %d, want <= 3", report.PeakInFlight)
	}
	if report.Observed != 30 {
		t.Errorf("Observed = %d, want 30", report.Observed)
	}
}

func TestRunTransportErrorAborts(t *testing.T) {
	accs := testAccounts(t, 2, 0)
	w, err := NewTransferWorkload(accs, 10, big.NewInt(1), account.PolicyRoundRobin, 1)
	if err != nil {
		t.Fatalf("workload: %v", err)
	}
	node := &fakeNode{failAt: 3}
	r := newTestRunner(node, 20*time.Millisecond, 2, verification.SeverityLog)

	report, err := r.Run(context.Background(), types.KindNativeTransfers, w)
	if !errors.Is(err, verification.ErrTransport) {
		t.Fatalf("Run() error = %v, want ErrTransport", err)
	}
	if report.Status != types.StatusFailed {
		t.Errorf("Status = %q, want failed", report.Status)
	}
	if report.Dispatched >= 10 {
		t.Errorf("Dispatched = %d, dispatch should stop after the failure", report.Dispatched)
	}
	if report.Observed != 3 {
		t.Errorf("Observed = %d, want 3", report.Observed)
	}
}

func TestRunAssertAbortsOnShortfall(t *testing.T) {
	accs := testAccounts(t, 2, 0)
	w, err := NewTransferWorkload(accs, 5, big.NewInt(1), account.PolicyRoundRobin, 1)
	if err != nil {
		t.Fatalf("workload: %v", err)
	}
	included := rpc.StatusIncluded
	node := &fakeNode{level: &included}
	r := newTestRunner(node, 5*time.Millisecond, 2, verification.SeverityAssert)

	report, err := r.Run(context.Background(), types.KindNativeTransfers, w)
	if !errors.Is(err, verification.ErrViolation) {
		t.Fatalf("Run() error = %v, want ErrViolation", err)
	}
	if report.Violations != 1 {
		t.Errorf("Violations = %d, want 1", report.Violations)
	}
	detail := report.Detail()
	if len(detail.Samples) == 0 || detail.Samples[0].Kind != string(verification.ViolationLevelShortfall) {
		t.Errorf("Samples = %+v, want a level shortfall", detail.Samples)
	}
	if detail.ErrorMessage == "" {
		t.Error("expected an error message in the detail")
	}
}

func TestRunLogSeverityCompletes(t *testing.T) {
	accs := testAccounts(t, 2, 0)
	w, err := NewTransferWorkload(accs, 5, big.NewInt(1), account.PolicyRoundRobin, 1)
	if err != nil {
		t.Fatalf("workload: %v", err)
	}
	included := rpc.StatusIncluded
	node := &fakeNode{level: &included}
	r := newTestRunner(node, time.Millisecond, 2, verification.SeverityLog)

	report, err := r.Run(context.Background(), types.KindNativeTransfers, w)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != types.StatusCompleted || report.Violations != 5 {
		t.Errorf("Status = %q violations = %d, want completed with 5", report.Status, report.Violations)
	}
}

func TestRunBuildFailureDegrades(t *testing.T) {
	accs := testAccounts(t, 2, 0)
	w := StaticWorkload{
		{Signer: accs[0], ReceiverID: "b.test", Actions: txbuilder.TransferActions(big.NewInt(1))},
		{Signer: accs[0], ReceiverID: "", Actions: txbuilder.TransferActions(big.NewInt(1))},
		{Signer: accs[0], ReceiverID: "b.test", Actions: txbuilder.TransferActions(big.NewInt(1))},
	}
	node := &fakeNode{}
	r := newTestRunner(node, time.Millisecond, 2, verification.SeverityAssert)

	report, err := r.Run(context.Background(), types.KindNativeTransfers, w)
	if err != nil {
		t.Fatalf("Run() error = %v, early close is not fatal", err)
	}
	if report.Status != types.StatusDegraded {
		t.Errorf("Status = %q, want degraded", report.Status)
	}
	if report.BuildErrors != 1 || report.Dispatched != 2 || report.Observed != 2 {
		t.Errorf("build errors/dispatched/observed = %d/%d/%d, want 1/2/2", report.BuildErrors, report.Dispatched, report.Observed)
	}
	// The skipped item must not consume a nonce.
	if got := accs[0].Nonce(); got != 2 {
		t.Errorf("nonce = %d, want 2", got)
	}
}

func TestRunContextCancelled(t *testing.T) {
	accs := testAccounts(t, 2, 0)
	w, err := NewTransferWorkload(accs, 100, big.NewInt(1), account.PolicyRoundRobin, 1)
	if err != nil {
		t.Fatalf("workload: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r := newTestRunner(&fakeNode{}, 10*time.Millisecond, 2, verification.SeverityAssert)

	report, err := r.Run(ctx, types.KindNativeTransfers, w)
	if err == nil {
		t.Fatal("expected an error")
	}
	if report.Status != types.StatusFailed {
		t.Errorf("Status = %q, want failed", report.Status)
	}
	if report.Dispatched >= 100 {
		t.Errorf("Dispatched = %d, want fewer than 100", report.Dispatched)
	}
}

func TestRunZeroItems(t *testing.T) {
	r := newTestRunner(&fakeNode{}, time.Millisecond, 2, verification.SeverityAssert)
	report, err := r.Run(context.Background(), types.KindCreateContract, StaticWorkload{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != types.StatusCompleted || report.ObservedTPS != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestRunnerRejectsConcurrentRuns(t *testing.T) {
	accs := testAccounts(t, 2, 0)
	w, err := NewTransferWorkload(accs, 5, big.NewInt(1), account.PolicyRoundRobin, 1)
	if err != nil {
		t.Fatalf("workload: %v", err)
	}
	r := newTestRunner(&fakeNode{}, 20*time.Millisecond, 2, verification.SeverityAssert)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(context.Background(), types.KindNativeTransfers, w)
	}()
	deadline := time.Now().Add(time.Second)
	for r.Snapshot().Status == types.StatusIdle && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if _, err := r.Run(context.Background(), types.KindNativeTransfers, StaticWorkload{}); !errors.Is(err, ErrRunActive) {
		t.Errorf("second Run() error = %v, want ErrRunActive", err)
	}
	snap := r.Snapshot()
	if snap.Status != types.StatusRunning && snap.Status != types.StatusDraining {
		t.Errorf("Snapshot().Status = %q during a run", snap.Status)
	}
	if snap.TargetTPS != 50 {
		t.Errorf("Snapshot().TargetTPS = %v, want 50 for a 20ms interval", snap.TargetTPS)
	}
	<-done
	if got := r.Snapshot().Status; got != types.StatusCompleted {
		t.Errorf("Snapshot().Status = %q after the run, want completed", got)
	}
}

func TestSnapshotIdle(t *testing.T) {
	r := newTestRunner(&fakeNode{}, time.Millisecond, 7, verification.SeverityLog)
	snap := r.Snapshot()
	if snap.Status != types.StatusIdle || snap.Capacity != 7 {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestNewTransferWorkloadNeedsTwoAccounts(t *testing.T) {
	_, err := NewTransferWorkload(testAccounts(t, 1, 0), 5, big.NewInt(1), account.PolicyRoundRobin, 1)
	if !errors.Is(err, ErrInsufficientAccounts) {
		t.Errorf("error = %v, want ErrInsufficientAccounts", err)
	}
}

func TestSubAccountWorkload(t *testing.T) {
	signer := testAccounts(t, 1, 0)[0]
	w, err := NewSubAccountWorkload(signer, 3, "bench", big.NewInt(10))
	if err != nil {
		t.Fatalf("workload: %v", err)
	}
	if w.Len() != 3 {
		t.Fatalf("Len() = %d", w.Len())
	}
	spec, err := w.Spec(2)
	if err != nil {
		t.Fatalf("Spec(2): %v", err)
	}
	if spec.ReceiverID != "bench_user_2.a.test" || spec.Signer != signer {
		t.Errorf("spec = %+v", spec)
	}
	if len(spec.Actions) != 3 {
		t.Errorf("actions = %d, want create+transfer+add key", len(spec.Actions))
	}
}

func TestBarrier(t *testing.T) {
	b := NewBarrier(3)
	t0 := time.Unix(100, 0)
	b.Observe(t0)
	b.Observe(t0.Add(500 * time.Millisecond))
	b.Observe(t0.Add(time.Second))
	b.Finish(false)

	res, err := b.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if res.Degraded {
		t.Error("expected not degraded")
	}
	if res.Elapsed != time.Second {
		t.Errorf("Elapsed = %v, want 1s", res.Elapsed)
	}
	if got := res.Throughput(); got != 3 {
		t.Errorf("Throughput() = %v, want 3", got)
	}
}

func TestBarrierShortIsDegraded(t *testing.T) {
	b := NewBarrier(3)
	b.Observe(time.Now())
	b.Finish(false)
	res, _ := b.Wait(context.Background())
	if !res.Degraded {
		t.Error("expected degraded with fewer outcomes than expected")
	}
	if res.Throughput() != 0 {
		t.Errorf("Throughput() = %v, want 0 for zero elapsed", res.Throughput())
	}
}
