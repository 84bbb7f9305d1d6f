// Package tunnel bridges local TCP ports to fixed in-network destinations.
package tunnel

import (
	"context"
	"net"
	"sync"

	"github.com/sh4dak/dotnet/internal/service"
)

// ClientTunnel accepts local connections and bridges each one to
// Host:Port inside the network.
type ClientTunnel struct {
	*service.Acceptor

	host string
	port int
}

// NewClientTunnel returns a tunnel listening on address. host may be an
// address book name or a .b32 name.
func NewClientTunnel(svc *service.Service, address, host string, port int, keepAlive net.KeepAliveConfig) *ClientTunnel {
	t := &ClientTunnel{host: host, port: port}
	t.Acceptor = service.NewAcceptor(svc, address, t, keepAlive)
	return t
}

func (t *ClientTunnel) Target() (string, int) { return t.host, t.port }

func (t *ClientTunnel) CreateHandler(conn net.Conn) service.Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		HandlerBase: service.NewHandlerBase(t.Service),
		tunnel:      t,
		ctx:         ctx,
		cancel:      cancel,
		sock:        conn,
	}
}

// connection waits for the stream and then hands the client socket to a
// Pipe.
type connection struct {
	*service.HandlerBase

	tunnel *ClientTunnel
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	sock net.Conn
}

func (c *connection) Handle() { go c.connect() }

func (c *connection) Terminate() {
	if c.Kill() {
		return
	}
	c.cancel()

	c.mu.Lock()
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
	c.mu.Unlock()

	c.Done(c)
}

func (c *connection) connect() {
	defer c.Terminate()

	owner := c.Owner()
	stream, err := owner.CreateStream(c.ctx, c.tunnel.host, c.tunnel.port)
	if err != nil {
		if !c.Dead() && !service.IsCancelled(err) {
			owner.Logger().Warn("tunnel stream failed", "host", c.tunnel.host, "port", c.tunnel.port, "err", err)
		}
		return
	}

	c.mu.Lock()
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if sock == nil {
		_ = stream.Close()
		return
	}

	p := service.NewPipe(owner, stream, sock)
	owner.AddHandler(p)
	p.Start()
}
