package ratelimit

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiterNew(t *testing.T) {
	l := New(10 * time.Millisecond)
	if l.Interval() != 10*time.Millisecond {
		t.Errorf("expected interval 10ms, got %v", l.Interval())
	}
	if math.Abs(l.Rate()-100) > 1e-9 {
		t.Errorf("expected rate 100, got %v", l.Rate())
	}
}

func TestLimiterNewMinimum(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		l := New(d)
		if l.Interval() != MinInterval {
			t.Errorf("New(%v): expected interval %v, got %v", d, MinInterval, l.Interval())
		}
	}
}

func TestLimiterWaitImmediate(t *testing.T) {
	l := New(time.Second)

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("expected near-instant first tick, got %v", elapsed)
	}
}

func TestLimiterWaitCancellation(t *testing.T) {
	l := New(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	_ = l.Wait(ctx)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := l.Wait(ctx); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestLimiterSteadySpacing(t *testing.T) {
	const interval = 10 * time.Millisecond
	l := New(interval)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)

	// First tick is immediate, then nine intervals.
	if elapsed < 85*time.Millisecond {
		t.Errorf("ticks faster than the interval: 10 ticks in %v", elapsed)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("ticks far slower than the interval: 10 ticks in %v", elapsed)
	}
}

func TestLimiterNoCatchUpBurst(t *testing.T) {
	const interval = 10 * time.Millisecond
	l := New(interval)
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	// Consumer stalls for five intervals.
	time.Sleep(5 * interval)

	// Only one tick was buffered during the stall.
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Millisecond {
		t.Errorf("buffered tick should be immediate, took %v", elapsed)
	}

	start = time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("missed ticks were replayed as a burst: 3 ticks in %v", elapsed)
	}
}

func TestLimiterCancelledWaitReturnsTick(t *testing.T) {
	l := New(10 * time.Millisecond)

	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Waits that give up must not consume future ticks.
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		_ = l.Wait(ctx)
		cancel()
	}

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("cancelled waits leaked ticks: 5 ticks took %v", elapsed)
	}
}

func TestLimiterConcurrentWaiters(t *testing.T) {
	const interval = 5 * time.Millisecond
	l := New(interval)
	ctx := context.Background()

	var ticks atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if err := l.Wait(ctx); err != nil {
					return
				}
				ticks.Add(1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if ticks.Load() != 20 {
		t.Fatalf("expected 20 ticks, got %d", ticks.Load())
	}
	// 20 ticks need at least 19 intervals no matter how many goroutines wait.
	if elapsed < 19*interval-5*time.Millisecond {
		t.Errorf("rate exceeded 1/interval: 20 ticks in %v", elapsed)
	}
}
