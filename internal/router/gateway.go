// Package router reaches a running anonymous router through its local
// SOCKS5 port and presents it as a local destination.
package router

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sh4dak/dotnet/internal/addressbook"
	"github.com/sh4dak/dotnet/internal/clock"
	"github.com/sh4dak/dotnet/internal/dialer"
	"github.com/sh4dak/dotnet/internal/loop"
	"github.com/sh4dak/dotnet/internal/service"
	"github.com/sh4dak/dotnet/internal/socks5"
)

const DefaultProbeInterval = 10 * time.Second

type Config struct {
	// SOCKSAddr is the router's SOCKS5 host:port.
	SOCKSAddr string
	Auth      socks5.Auth

	// ProbeInterval is the time between readiness probes.
	ProbeInterval time.Duration

	Dialer dialer.Config
}

var _ service.Destination = (*Gateway)(nil)

// Gateway is a destination whose streams are SOCKS5 CONNECTs to
// <b32>:port on the router. It is ready when the latest probe reached the
// router's port.
type Gateway struct {
	cfg    Config
	loop   *loop.Loop
	clock  clock.Clock
	logger *slog.Logger

	socks  *dialer.SOCKS5ProxyDialer
	direct dialer.Dialer

	ready atomic.Bool

	// loop only
	timer clock.Timer
	seen  bool
}

type Option func(*Gateway)

func WithClock(c clock.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func New(cfg Config, opts ...Option) *Gateway {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	g := &Gateway{
		cfg:    cfg,
		loop:   loop.New(),
		clock:  clock.Real(),
		logger: slog.Default(),
		socks:  dialer.NewSOCKS5ProxyDialer(cfg.Dialer, cfg.SOCKSAddr, cfg.Auth),
		direct: dialer.NewDirectDialer(cfg.Dialer),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("router", cfg.SOCKSAddr)
	return g
}

func (g *Gateway) Loop() *loop.Loop { return g.loop }

func (g *Gateway) IsReady() bool { return g.ready.Load() }

// CreateStream asks the router for a stream to addr:port.
func (g *Gateway) CreateStream(ctx context.Context, addr *addressbook.Address, port int) (net.Conn, error) {
	return g.socks.DialContext(ctx, "tcp", net.JoinHostPort(addr.B32(), strconv.Itoa(port)))
}

// Run probes the router and drives the destination's loop until ctx is
// done.
func (g *Gateway) Run(ctx context.Context) error {
	g.loop.Post(func() { g.probe(ctx) })
	g.loop.Run(ctx)

	// Run has returned, so nothing else touches the timer.
	if g.timer != nil {
		g.timer.Stop()
	}
	g.ready.Store(false)
	return nil
}

// probe dials the router off the loop and reports back to it.
func (g *Gateway) probe(ctx context.Context) {
	go func() {
		err := g.reach(ctx)
		g.loop.Post(func() { g.probed(ctx, err) })
	}()
}

func (g *Gateway) reach(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ProbeInterval)
	defer cancel()

	conn, err := g.direct.DialContext(ctx, "tcp", g.cfg.SOCKSAddr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (g *Gateway) probed(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}

	was := g.ready.Swap(err == nil)
	switch {
	case err == nil && (!was || !g.seen):
		g.logger.Info("router reachable")
	case err != nil && (was || !g.seen):
		g.logger.Warn("router unreachable", "err", err)
	}
	g.seen = true

	g.timer = g.clock.AfterFunc(g.cfg.ProbeInterval, func() {
		g.loop.Post(func() { g.probe(ctx) })
	})
}
