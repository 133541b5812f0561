package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllSubmittedJobs(t *testing.T) {
	p := New(3)
	var count int32
	const n = 100
	for i := 0; i < n; i++ {
		p.Submit(func() { atomic.AddInt32(&count, 1) })
	}
	p.Close()
	if got := atomic.LoadInt32(&count); got != n {
		t.Fatalf("count = %d, want %d", got, n)
	}
}

func TestPoolSubmitCtxCancelled(t *testing.T) {
	p := New(1)
	defer p.Close()

	block := make(chan struct{})
	p.Submit(func() { <-block })

	for i := 0; i < cap(p.jobs); i++ {
		p.Submit(func() {})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.SubmitCtx(ctx, func() {})
	if err == nil {
		t.Fatal("expected context deadline error")
	}
	close(block)
}

func TestPoolMinimumOneWorker(t *testing.T) {
	p := New(0)
	done := make(chan struct{})
	p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
	p.Close()
}
