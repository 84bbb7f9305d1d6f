package service

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// HandlerFactory builds the handler for a freshly accepted connection.
// Returning nil declines the connection, which is then closed.
type HandlerFactory interface {
	CreateHandler(conn net.Conn) Handler
}

// HandlerFactoryFunc adapts a function to HandlerFactory.
type HandlerFactoryFunc func(conn net.Conn) Handler

func (f HandlerFactoryFunc) CreateHandler(conn net.Conn) Handler { return f(conn) }

// Acceptor is a Service that takes its handlers from a TCP listener.
type Acceptor struct {
	*Service

	factory   HandlerFactory
	keepAlive net.KeepAliveConfig

	mu      sync.Mutex
	address string
	ln      net.Listener
	wg      sync.WaitGroup
}

func NewAcceptor(svc *Service, address string, factory HandlerFactory, keepAlive net.KeepAliveConfig) *Acceptor {
	return &Acceptor{
		Service:   svc,
		factory:   factory,
		keepAlive: keepAlive,
		address:   address,
	}
}

// Start binds the listener and begins accepting. A port of 0 is replaced
// by the port the kernel assigned.
func (a *Acceptor) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ln != nil {
		return fmt.Errorf("%s: already started", a.name)
	}

	ln, err := ListenTCP("tcp", a.address, a.keepAlive)
	if err != nil {
		return err
	}
	a.ln = ln
	a.address = ln.Addr().String()
	a.logger.Info("accepting connections", "address", a.address)

	a.wg.Go(func() { a.accept(ln) })
	return nil
}

// Addr returns the bound address once started, or the configured one.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.address
}

// Stop closes the listener, waits for the accept loop to exit and tears
// down every live handler.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	ln := a.ln
	a.ln = nil
	a.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
		a.wg.Wait()
	}
	a.ClearHandlers()
}

func (a *Acceptor) accept(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.logger.Error("accept failed", "err", err)
			}
			return
		}

		a.logger.Debug("accepted", "remote", conn.RemoteAddr())

		h := a.factory.CreateHandler(conn)
		if h == nil {
			_ = conn.Close()
			continue
		}
		a.AddHandler(h)
		h.Handle()
	}
}
