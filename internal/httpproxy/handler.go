package httpproxy

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sh4dak/dotnet/internal/addressbook"
	"github.com/sh4dak/dotnet/internal/httpx"
	"github.com/sh4dak/dotnet/internal/service"
)

const readChunkSize = 8192

// reqHandler serves one client connection up to the point where it is
// answered or handed off to a Pipe.
type reqHandler struct {
	*service.HandlerBase

	proxy  *Proxy
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sock     net.Conn
	upstream net.Conn
}

func (h *reqHandler) Handle() {
	go h.serve()
}

func (h *reqHandler) Terminate() {
	if h.Kill() {
		return
	}
	h.cancel()

	h.mu.Lock()
	if h.sock != nil {
		_ = h.sock.Close()
		h.sock = nil
	}
	if h.upstream != nil {
		_ = h.upstream.Close()
		h.upstream = nil
	}
	h.mu.Unlock()

	h.Done(h)
}

func (h *reqHandler) logger() *slog.Logger {
	return h.Owner().Logger()
}

func (h *reqHandler) client() net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sock
}

// serve accumulates bytes until a full request head has arrived.
func (h *reqHandler) serve() {
	sock := h.client()
	if sock == nil {
		return
	}
	if t := h.proxy.cfg.RequestTimeout; t > 0 {
		_ = sock.SetReadDeadline(time.Now().Add(t))
	}

	var buf []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := sock.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)

			req, used, perr := httpx.ParseRequest(buf)
			if perr != nil {
				h.logger().Error("unable to parse request", "err", perr)
				h.fail(newError(KindParse, "Invalid request", "Proxy unable to parse your request", perr))
				return
			}
			if req != nil {
				_ = sock.SetReadDeadline(time.Time{})
				h.logger().Debug("requested", "method", req.Method, "uri", req.URI)
				if ferr := h.handleRequest(req, buf[used:]); ferr != nil {
					h.fail(ferr)
				}
				return
			}
		}
		if err != nil {
			if !service.IsCancelled(err) {
				h.logger().Warn("sock recv got error", "err", err)
			}
			h.Terminate()
			return
		}
	}
}

// handleRequest routes a complete request. A nil return means the
// connection was answered or handed off.
func (h *reqHandler) handleRequest(req *httpx.Request, rest []byte) *Error {
	if req.Method == "CONNECT" {
		host, port, err := httpx.SplitAuthority(req.URI)
		if err != nil {
			return newError(KindParse, "Invalid Request", "invalid request uri", err)
		}
		return h.route(req, nil, host, port, rest)
	}

	u, err := url.ParseRequestURI(req.URI)
	if err != nil {
		return newError(KindParse, "Invalid request", "Proxy unable to parse your request", err)
	}

	if encoded, update, ok := extractAddressHelper(u); ok {
		return h.addressHelper(req, u, encoded, update)
	}

	sanitize(req)

	host, port, err := httpx.HostPort(u)
	if err != nil {
		return newError(KindParse, "Invalid request", "Proxy unable to parse your request", err)
	}
	if port == 0 {
		port = httpx.DefaultPort(u.Scheme)
	}
	if host != "" {
		req.Set("Host", httpx.HostHeader(host, port))
	} else {
		hh := req.Get("Host")
		if hh == "" {
			return newError(KindParse, "Invalid request", "Can't detect destination host from request", nil)
		}
		hu, err := url.Parse("http://" + hh)
		if err != nil {
			return newError(KindParse, "Invalid request", "Can't detect destination host from request", err)
		}
		if host, port, err = httpx.HostPort(hu); err != nil || host == "" {
			return newError(KindParse, "Invalid request", "Can't detect destination host from request", err)
		}
		if port == 0 {
			port = 80
		}
	}

	return h.route(req, u, host, port, rest)
}

// route sends the request in-network or to the outproxy. u is nil for
// CONNECT.
func (h *reqHandler) route(req *httpx.Request, u *url.URL, host string, port int, rest []byte) *Error {
	host = strings.ToLower(host)

	if !addressbook.IsInNetwork(host) {
		return h.forwardToOutproxy(req, u, host, port, rest)
	}

	addr, ok := h.proxy.book.GetAddress(host)
	if !ok {
		h.logger().Info("host not found", "host", host)
		return &Error{Kind: KindHostNotFound, Title: "Host not found", Host: host}
	}

	h.logger().Debug("connecting", "host", host, "port", port)
	stream, err := h.Owner().CreateStreamTo(h.ctx, addr, port)

	if u == nil {
		if err != nil {
			return h.streamError("CONNECT error", "Failed to Connect", err)
		}
		sock := h.client()
		if sock == nil {
			_ = stream.Close()
			return nil
		}
		if _, err := sock.Write(connectEstablished); err != nil {
			_ = stream.Close()
			return newError(KindStreamCreation, "CONNECT error", "Failed to Connect", err)
		}
		h.handoff(stream, rest)
		return nil
	}

	if err != nil {
		h.logger().Error("error when creating the stream", "host", host, "err", err)
		return h.streamError("Host is down", "Can't create connection to requested host, it may be down. Please try again later.", err)
	}

	req.URI = httpx.Relative(u)
	h.handoff(stream, append(req.Bytes(), rest...))
	return nil
}

func (h *reqHandler) streamError(title, description string, err error) *Error {
	if h.Dead() || errors.Is(err, context.Canceled) {
		return newError(KindCancelled, title, description, err)
	}
	return newError(KindStreamCreation, title, description, err)
}

// adoptUpstream records conn as owned by this handler so Terminate closes
// it. It returns false, closing conn, if the handler is already gone.
func (h *reqHandler) adoptUpstream(conn net.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sock == nil {
		_ = conn.Close()
		return false
	}
	h.upstream = conn
	return true
}

// handoff moves the client socket and upstream into a Pipe, writing
// preamble to upstream first, and retires this handler.
func (h *reqHandler) handoff(upstream net.Conn, preamble []byte) {
	h.mu.Lock()
	sock := h.sock
	h.sock = nil
	if h.upstream == upstream {
		h.upstream = nil
	}
	h.mu.Unlock()

	if sock == nil {
		_ = upstream.Close()
		return
	}

	owner := h.Owner()
	p := service.NewTunnelConnection(owner, upstream, sock, preamble)
	owner.AddHandler(p)
	p.Start()
	h.Terminate()
}

// fail answers with the page for e and closes the connection.
func (h *reqHandler) fail(e *Error) {
	if e.Kind == KindCancelled || h.Dead() {
		h.Terminate()
		return
	}

	h.logger().Warn("request failed", "kind", e.Kind, "title", e.Title, "err", e.Err)
	h.sendPage(e.content(h.proxy.cfg.JumpServices))
}

func (h *reqHandler) info(title, description string) {
	h.sendPage(infoContent(title, description))
}

func (h *reqHandler) sendPage(content string) {
	if sock := h.client(); sock != nil {
		if _, err := sock.Write(proxyPage(content)); err != nil && !service.IsCancelled(err) {
			h.logger().Error("closing socket after sending failure", "err", err)
		}
	}
	h.Terminate()
}

// requestHost is the host an address helper applies to: the URL's host,
// else the Host header.
func requestHost(req *httpx.Request, u *url.URL) (host, authority string) {
	if u.Host != "" {
		return strings.ToLower(u.Hostname()), u.Host
	}
	hh := req.Get("Host")
	if hh == "" {
		return "", ""
	}
	if hu, err := url.Parse("http://" + hh); err == nil {
		return strings.ToLower(hu.Hostname()), hu.Host
	}
	return "", ""
}

func escapedHost(host string) string {
	return html.EscapeString(host)
}

func errorf(kind Kind, title string, err error, format string, args ...any) *Error {
	return newError(kind, title, html.EscapeString(fmt.Sprintf(format, args...)), err)
}
