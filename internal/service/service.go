package service

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sh4dak/dotnet/internal/addressbook"
	"github.com/sh4dak/dotnet/internal/clock"
	"github.com/sh4dak/dotnet/internal/loop"
)

// Destination is the local endpoint through which in-network streams are
// opened.
type Destination interface {
	// IsReady reports whether the destination can originate streams.
	IsReady() bool

	// CreateStream opens a stream to addr on the given port.
	CreateStream(ctx context.Context, addr *addressbook.Address, port int) (net.Conn, error)

	// Loop is the execution context that owns the destination's state.
	Loop() *loop.Loop
}

// Resolver maps in-network host names to addresses.
type Resolver interface {
	GetAddress(name string) (*addressbook.Address, bool)
}

// Service is a set of live handlers rooted at one local destination.
type Service struct {
	name           string
	dest           Destination
	resolver       Resolver
	loop           *loop.Loop
	clock          clock.Clock
	logger         *slog.Logger
	connectTimeout time.Duration

	mu       sync.Mutex
	handlers map[Handler]struct{}

	// Owned by loop.
	ready readyScheduler
}

type Option func(*Service)

// WithConnectTimeout makes CreateStream wait up to d for the destination
// to become ready instead of failing immediately. Zero disables waiting.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Service) { s.connectTimeout = d }
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(name string, dest Destination, resolver Resolver, opts ...Option) *Service {
	s := &Service{
		name:     name,
		dest:     dest,
		resolver: resolver,
		loop:     dest.Loop(),
		clock:    clock.Real(),
		logger:   slog.Default(),
		handlers: make(map[Handler]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("service", name)
	s.ready.svc = s
	return s
}

func (s *Service) Name() string { return s.name }

func (s *Service) Logger() *slog.Logger { return s.logger }

func (s *Service) Destination() Destination { return s.dest }

func (s *Service) Loop() *loop.Loop { return s.loop }

func (s *Service) ConnectTimeout() time.Duration { return s.connectTimeout }

// AddHandler registers h as live.
func (s *Service) AddHandler(h Handler) {
	s.mu.Lock()
	s.handlers[h] = struct{}{}
	s.mu.Unlock()
}

// Done deregisters h. Removing a handler that is not registered is a no-op.
func (s *Service) Done(h Handler) {
	s.mu.Lock()
	delete(s.handlers, h)
	s.mu.Unlock()
}

// HandlerCount returns the number of live handlers.
func (s *Service) HandlerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// ClearHandlers cancels the readiness timer, failing every pending ready
// callback with ErrCancelled, and terminates every live handler. The
// callbacks have run by the time it returns. It must not be called from
// the destination's loop.
func (s *Service) ClearHandlers() {
	if !s.loop.Call(s.ready.cancel) {
		// The loop has stopped and runs nothing more.
		s.ready.cancel()
	}

	s.mu.Lock()
	live := make([]Handler, 0, len(s.handlers))
	for h := range s.handlers {
		live = append(live, h)
	}
	clear(s.handlers)
	s.mu.Unlock()

	for _, h := range live {
		h.Terminate()
	}
}

// AddReadyCallback arranges for cb to run on the destination's loop once
// the destination is ready (nil error), the connect timeout elapses
// (ErrTimedOut), or the service is cleared (ErrCancelled). cb runs exactly
// once.
func (s *Service) AddReadyCallback(cb func(error)) {
	s.loop.Post(func() { s.ready.add(cb) })
}

// CreateStream resolves host and opens a stream to it.
func (s *Service) CreateStream(ctx context.Context, host string, port int) (net.Conn, error) {
	addr, ok := s.resolver.GetAddress(host)
	if !ok {
		s.logger.Warn("remote destination not found", "host", host)
		return nil, fmt.Errorf("%s: %w", host, ErrHostNotFound)
	}
	return s.CreateStreamTo(ctx, addr, port)
}

// CreateStreamTo opens a stream to addr. With a connect timeout configured
// and the destination not yet ready, it first waits for readiness.
func (s *Service) CreateStreamTo(ctx context.Context, addr *addressbook.Address, port int) (net.Conn, error) {
	if s.connectTimeout > 0 && !s.dest.IsReady() {
		ready := make(chan error, 1)
		s.AddReadyCallback(func(err error) { ready <- err })

		select {
		case err := <-ready:
			if err != nil {
				return nil, fmt.Errorf("create stream to %s: %w", addr.B32(), err)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	conn, err := s.dest.CreateStream(ctx, addr, port)
	if err != nil {
		return nil, fmt.Errorf("create stream to %s: %w", addr.B32(), err)
	}
	return conn, nil
}
