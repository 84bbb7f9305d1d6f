package socksproxy

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sh4dak/dotnet/internal/addressbook"
	"github.com/sh4dak/dotnet/internal/service"
	"github.com/sh4dak/dotnet/internal/socks5"
)

type Config struct {
	// Auth, when Username is set, requires clients to authenticate.
	Auth socks5.Auth

	// HandshakeTimeout bounds negotiation and the CONNECT request. Zero
	// means no limit.
	HandshakeTimeout time.Duration
}

// Proxy creates a SOCKS5 handler for each accepted connection.
type Proxy struct {
	svc *service.Service
	cfg Config
}

func New(svc *service.Service, cfg Config) *Proxy {
	return &Proxy{svc: svc, cfg: cfg}
}

func (p *Proxy) CreateHandler(conn net.Conn) service.Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &handler{
		HandlerBase: service.NewHandlerBase(p.svc),
		proxy:       p,
		ctx:         ctx,
		cancel:      cancel,
		sock:        conn,
	}
}

type handler struct {
	*service.HandlerBase

	proxy  *Proxy
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	sock net.Conn
}

func (h *handler) Handle() { go h.serve() }

func (h *handler) Terminate() {
	if h.Kill() {
		return
	}
	h.cancel()

	h.mu.Lock()
	if h.sock != nil {
		_ = h.sock.Close()
		h.sock = nil
	}
	h.mu.Unlock()

	h.Done(h)
}

func (h *handler) serve() {
	defer h.Terminate()

	h.mu.Lock()
	conn := h.sock
	h.mu.Unlock()
	if conn == nil {
		return
	}

	logger := h.Owner().Logger().With("remote", conn.RemoteAddr())

	if t := h.proxy.cfg.HandshakeTimeout; t > 0 {
		_ = conn.SetDeadline(time.Now().Add(t))
	}

	if err := socks5.ServerNegotiate(conn, h.proxy.cfg.Auth); err != nil {
		logger.Debug("socks negotiation failed", "err", err)
		return
	}

	req, err := socks5.ServerReadRequest(conn)
	if err != nil {
		logger.Debug("socks request failed", "err", err)
		return
	}

	if req.Cmd != socks5.CmdConnect {
		logger.Debug("socks command not supported", "cmd", req.Cmd)
		socks5.WriteCommandNotSupportedReply(conn, req.Atyp)
		return
	}

	host := req.Host
	if !addressbook.IsInNetwork(host) {
		logger.Info("refusing host outside the network", "host", host)
		socks5.WriteConnectionRefusedReply(conn, req.Atyp)
		return
	}

	stream, err := h.Owner().CreateStream(h.ctx, host, req.Port)
	if err != nil {
		if h.Dead() || service.IsCancelled(err) {
			return
		}
		logger.Warn("stream creation failed", "host", host, "port", req.Port, "err", err)
		if errors.Is(err, service.ErrHostNotFound) {
			socks5.WriteHostUnreachableReply(conn, req.Atyp)
		} else {
			socks5.WriteConnectionRefusedReply(conn, req.Atyp)
		}
		return
	}

	_ = conn.SetDeadline(time.Time{})
	if err := socks5.WriteSuccessReply(conn, stream.LocalAddr()); err != nil {
		logger.Debug("socks reply failed", "err", err)
		_ = stream.Close()
		return
	}

	h.handoff(stream)
}

// handoff moves the client socket into a Pipe with stream.
func (h *handler) handoff(stream net.Conn) {
	h.mu.Lock()
	sock := h.sock
	h.sock = nil
	h.mu.Unlock()

	if sock == nil {
		_ = stream.Close()
		return
	}

	owner := h.Owner()
	p := service.NewPipe(owner, stream, sock)
	owner.AddHandler(p)
	p.Start()
}
