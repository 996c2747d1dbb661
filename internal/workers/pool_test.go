package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsTasks(t *testing.T) {
	pool := NewPool(3, 16)
	pool.Start()
	defer pool.Stop()

	var counter atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		key := string(rune('a' + i))
		if !pool.Submit(key, func(ctx context.Context) {
			counter.Add(1)
			wg.Done()
		}) {
			t.Fatalf("submit %s rejected", key)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for tasks")
	}

	if counter.Load() != 10 {
		t.Errorf("expected 10 tasks, got %d", counter.Load())
	}
}

func TestPoolDeduplicatesKeys(t *testing.T) {
	pool := NewPool(1, 4)
	pool.Start()
	defer pool.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	if !pool.Submit("NIFTY:2026-03-26:0", func(ctx context.Context) {
		close(started)
		<-release
	}) {
		t.Fatal("first submit rejected")
	}
	<-started

	if pool.Submit("NIFTY:2026-03-26:0", func(ctx context.Context) {}) {
		t.Error("duplicate key should be rejected while running")
	}
	if !pool.Busy("NIFTY:2026-03-26:0") {
		t.Error("key should be busy")
	}

	jobs := pool.Jobs()
	if len(jobs) != 1 || !jobs[0].Running {
		t.Errorf("jobs = %+v, want one running", jobs)
	}

	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for pool.Busy("NIFTY:2026-03-26:0") {
		if time.Now().After(deadline) {
			t.Fatal("key never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !pool.Submit("NIFTY:2026-03-26:0", func(ctx context.Context) {}) {
		t.Error("key should be reusable after completion")
	}
}

func TestPoolStopCancelsTasks(t *testing.T) {
	pool := NewPool(1, 4)
	pool.Start()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	pool.Submit("slow", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	<-started

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("task was not cancelled")
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	if pool.Submit("late", func(ctx context.Context) {}) {
		t.Error("submit after stop should fail")
	}
	if stats := pool.Stats(); stats.Running || stats.Active != 0 {
		t.Errorf("stats after stop = %+v", stats)
	}
}

func TestPoolRejectsWhenFull(t *testing.T) {
	pool := NewPool(1, 1)
	pool.Start()
	defer pool.Stop()

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	pool.Submit("a", func(ctx context.Context) {
		close(started)
		select {
		case <-block:
		case <-ctx.Done():
		}
	})
	<-started

	if !pool.Submit("b", func(ctx context.Context) {}) {
		t.Fatal("queue slot should accept one task")
	}
	if pool.Submit("c", func(ctx context.Context) {}) {
		t.Error("full queue should reject")
	}
}
