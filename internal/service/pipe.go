package service

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pipe relays bytes between an upstream connection (an in-network stream
// or an outproxy) and a downstream client until either side fails.
type Pipe struct {
	*HandlerBase

	preamble []byte

	mu         sync.Mutex
	upstream   net.Conn
	downstream net.Conn

	g errgroup.Group
}

// NewPipe returns a Pipe owning both connections. It does nothing until
// Start is called.
func NewPipe(owner *Service, upstream, downstream net.Conn) *Pipe {
	return &Pipe{
		HandlerBase: NewHandlerBase(owner),
		upstream:    upstream,
		downstream:  downstream,
	}
}

// NewTunnelConnection returns a Pipe that writes preamble to the stream
// before relaying anything the client sends.
func NewTunnelConnection(owner *Service, stream, client net.Conn, preamble []byte) *Pipe {
	p := NewPipe(owner, stream, client)
	p.preamble = preamble
	return p
}

func (p *Pipe) Handle() { p.Start() }

// Start begins relaying in both directions. Each direction has its own
// buffer and at most one outstanding read and one outstanding write.
func (p *Pipe) Start() {
	p.mu.Lock()
	up, down := p.upstream, p.downstream
	p.mu.Unlock()

	if up == nil || down == nil {
		p.Terminate()
		return
	}

	p.g.Go(func() error {
		if len(p.preamble) > 0 {
			if _, err := up.Write(p.preamble); err != nil {
				return p.fail("upstream write", err)
			}
		}
		return p.relay(up, down, "upstream")
	})
	p.g.Go(func() error {
		return p.relay(down, up, "downstream")
	})
}

// Wait blocks until both directions have stopped.
func (p *Pipe) Wait() error {
	return p.g.Wait()
}

func (p *Pipe) relay(dst, src net.Conn, dir string) error {
	bp := pipeBuffers.Get()
	defer pipeBuffers.Put(bp)
	buf := *bp
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return p.fail(dir+" write", werr)
			}
		}
		if err != nil {
			return p.fail(dir+" read", err)
		}
	}
}

func (p *Pipe) fail(op string, err error) error {
	if IsCancelled(err) {
		return nil
	}
	if isPeerClosed(err) {
		p.owner.logger.Debug("pipe closed", "op", op, "err", err)
	} else {
		p.owner.logger.Error("pipe failed", "op", op, "err", err)
	}
	p.Terminate()
	return fmt.Errorf("%s: %w", op, err)
}

// Terminate closes both connections and deregisters the pipe.
func (p *Pipe) Terminate() {
	if p.Kill() {
		return
	}

	p.mu.Lock()
	if p.upstream != nil {
		_ = p.upstream.Close()
		p.upstream = nil
	}
	if p.downstream != nil {
		_ = p.downstream.Close()
		p.downstream = nil
	}
	p.mu.Unlock()

	p.Done(p)
}
