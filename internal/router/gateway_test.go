package router

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sh4dak/dotnet/internal/clock"
	"github.com/sh4dak/dotnet/internal/dialer"
	"github.com/sh4dak/dotnet/internal/socks5"
	"github.com/sh4dak/dotnet/internal/testutil"
)

func startGateway(t *testing.T, cfg Config, opts ...Option) *Gateway {
	t.Helper()

	cfg.Dialer = dialer.Config{DialTimeout: 2 * time.Second}
	g := New(cfg, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("run: %v", err)
		}
	})
	return g
}

func TestReadinessFollowsProbes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	fake := clock.Fake(time.Unix(0, 0))
	g := startGateway(t, Config{SOCKSAddr: ln.Addr().String(), ProbeInterval: time.Second}, WithClock(fake))

	testutil.WaitFor(t, "ready", g.IsReady)
	testutil.WaitFor(t, "next probe scheduled", func() bool { return fake.PendingCount() == 1 })

	_ = ln.Close()
	fake.Advance(time.Second)

	testutil.WaitFor(t, "not ready", func() bool { return !g.IsReady() })
}

func TestNotReadyWithoutRouter(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	fake := clock.Fake(time.Unix(0, 0))
	g := startGateway(t, Config{SOCKSAddr: addr, ProbeInterval: time.Second}, WithClock(fake))

	testutil.WaitFor(t, "first probe", func() bool { return fake.PendingCount() == 1 })
	if g.IsReady() {
		t.Fatal("ready without a router")
	}
}

func TestCreateStreamConnectsToB32(t *testing.T) {
	target, _ := testutil.RandomAddress(t)

	type request struct {
		host string
		port int
	}
	got := make(chan request, 1)
	ln, _ := testutil.StartSingleAcceptServer(t, context.Background(), func(c net.Conn) {
		if err := socks5.ServerNegotiate(c, socks5.Auth{Username: "u", Password: "p"}); err != nil {
			return
		}
		req, err := socks5.ServerReadRequest(c)
		if err != nil {
			return
		}
		got <- request{req.Host, req.Port}
		if err := socks5.WriteSuccessReply(c, c.LocalAddr()); err != nil {
			return
		}
		_, _ = io.Copy(c, c)
	})

	g := New(Config{
		SOCKSAddr: ln.Addr().String(),
		Auth:      socks5.Auth{Username: "u", Password: "p"},
		Dialer:    dialer.Config{DialTimeout: 2 * time.Second},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := g.CreateStream(ctx, target, 8080)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	req := <-got
	if req.host != target.B32() || req.port != 8080 {
		t.Fatalf("CONNECT %s:%d", req.host, req.port)
	}
	testutil.AssertEcho(t, conn, conn, []byte("through the router"))
}

func TestStopsProbingOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	fake := clock.Fake(time.Unix(0, 0))
	g := New(Config{SOCKSAddr: ln.Addr().String(), ProbeInterval: time.Second}, WithClock(fake))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	testutil.WaitFor(t, "ready", g.IsReady)
	testutil.WaitFor(t, "next probe scheduled", func() bool { return fake.PendingCount() == 1 })

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if g.IsReady() {
		t.Fatal("ready after stop")
	}
	if n := fake.PendingCount(); n != 0 {
		t.Fatalf("pending probes after stop: %d", n)
	}
}
