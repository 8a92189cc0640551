package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubmit_ReturnsValue(t *testing.T) {
	p := New(2, 4, nil)
	defer p.Shutdown()

	v, err := p.Submit(context.Background(), func() (any, error) { return 42, nil })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if v != 42 {
		t.Fatalf("got %v want 42", v)
	}
}

func TestSubmit_PropagatesError(t *testing.T) {
	p := New(1, 0, nil)
	defer p.Shutdown()

	sentinel := errors.New("boom")
	_, err := p.Submit(context.Background(), func() (any, error) { return nil, sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("err=%v want %v", err, sentinel)
	}
}

func TestSubmit_CancelWhileQueued(t *testing.T) {
	p := New(1, 0, nil)
	defer p.Shutdown()

	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = p.Submit(context.Background(), func() (any, error) {
			<-block
			return nil, nil
		})
	}()

	// wait for the single worker to be occupied
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Submit(ctx, func() (any, error) { return nil, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}

	close(block)
	wg.Wait()
}

func TestShutdown_WaitsForInFlight(t *testing.T) {
	p := New(2, 4, nil)

	var mu sync.Mutex
	done := 0
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Submit(context.Background(), func() (any, error) {
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				done++
				mu.Unlock()
				return nil, nil
			})
		}()
	}
	wg.Wait()
	p.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	if done != 4 {
		t.Fatalf("done=%d want 4", done)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	p := New(1, 0, nil)
	p.Shutdown()
	p.Shutdown()
}
