package loop

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPostRunsInOrderOnOneGoroutine(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		l.Post(func() {
			// No lock: only the loop goroutine touches got.
			got = append(got, i)
			wg.Done()
		})
	}
	wg.Wait()

	if !l.Call(func() {}) {
		t.Fatal("loop stopped unexpectedly")
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d]=%d", i, v)
		}
	}
}

func TestPostFromConcurrentGoroutines(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Go(func() {
			for j := 0; j < 250; j++ {
				l.Post(func() { count++ })
			}
		})
	}
	wg.Wait()

	var final int
	l.Call(func() { final = count })
	if final != 2000 {
		t.Fatalf("count=%d want 2000", final)
	}
}

func TestStopDropsLaterPosts(t *testing.T) {
	l := New()
	go l.Run(context.Background())

	l.Stop()
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	ran := false
	l.Post(func() { ran = true })
	if l.Call(func() { ran = true }) {
		t.Fatal("Call reported success on a stopped loop")
	}
	if ran {
		t.Fatal("function ran after Stop")
	}
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCallOnLoopStoppedBeforeRun(t *testing.T) {
	l := New()
	l.Stop()

	done := make(chan bool, 1)
	go func() { done <- l.Call(func() {}) }()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("Call reported success on a loop that never ran")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call blocked on a loop that never ran")
	}
}
