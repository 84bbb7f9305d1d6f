package testutil

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

// ConnDeadline bounds every connection accepted by the test servers.
const ConnDeadline = 5 * time.Second

// StartSingleAcceptServer serves exactly one connection with handler on a
// loopback port. The returned func closes the listener and waits for the
// handler; it also runs at test cleanup.
func StartSingleAcceptServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg   sync.WaitGroup
		once sync.Once
	)
	wg.Go(func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.SetDeadline(time.Now().Add(ConnDeadline))
		handler(c)
	})

	wait := func() {
		once.Do(func() { _ = ln.Close() })
		wg.Wait()
	}
	t.Cleanup(wait)

	return ln, wait
}
