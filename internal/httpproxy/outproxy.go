package httpproxy

import (
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/sh4dak/dotnet/internal/addressbook"
	"github.com/sh4dak/dotnet/internal/dialer"
	"github.com/sh4dak/dotnet/internal/httpx"
	"github.com/sh4dak/dotnet/internal/socks4"
	"github.com/sh4dak/dotnet/internal/socks5"
)

// forwardToOutproxy sends a request for a host outside the network through
// the configured outproxy. u is nil for CONNECT.
func (h *reqHandler) forwardToOutproxy(req *httpx.Request, u *url.URL, host string, port int, rest []byte) *Error {
	p := h.proxy
	if p.cfg.Outproxy == "" {
		h.logger().Warn("outproxy failure: no outproxy enabled", "host", host)
		return errorf(KindUpstreamUnavailable, "Outproxy failure", nil,
			"Host %s not inside .NET network, but outproxy is not enabled", host)
	}
	if p.outproxyErr != nil {
		if errors.Is(p.outproxyErr, dialer.ErrUnknownOutproxy) {
			return errorf(KindUpstreamUnavailable, "unknown outproxy url", p.outproxyErr, "%s", redactedOutproxy(p.cfg.Outproxy))
		}
		return newError(KindUpstreamUnavailable, "Outproxy failure", "bad outproxy settings", p.outproxyErr)
	}

	op := p.outproxy
	h.logger().Debug("use outproxy", "outproxy", op.String(), "host", host)

	connect := u == nil
	origURI := req.URI
	if !connect {
		req.URI = httpx.Relative(u)
		req.Set("User-Agent", outproxyUserAgent)
	}
	clientReq := append(req.Bytes(), rest...)

	switch op.Kind {
	case dialer.KindHTTP:
		if addressbook.IsInNetwork(op.Host) {
			req.URI = origURI
			if op.HasAuth() {
				req.RemovePrefix("Proxy-")
				req.Add("Proxy-Authorization", op.BasicAuth())
			}
			stream, err := h.Owner().CreateStream(h.ctx, op.Host, op.Port)
			if err != nil {
				return h.streamError("Host is down", "Can't create connection to requested host, it may be down. Please try again later.", err)
			}
			h.handoff(stream, append(req.Bytes(), rest...))
			return nil
		}

		conn, err := p.direct.DialContext(h.ctx, "tcp", op.Addr())
		if err != nil {
			return h.upstreamError(KindUpstreamConnect, "cannot connect to upstream http proxy", err)
		}
		_ = conn.Close()
		h.logger().Debug("connected to http upstream", "outproxy", op.String())
		return newError(KindNotImplemented, "cannot connect", "http out proxy not implemented", nil)

	case dialer.KindSOCKS4:
		conn, err := p.direct.DialContext(h.ctx, "tcp", op.Addr())
		if err != nil {
			return h.upstreamError(KindUpstreamConnect, "cannot connect to upstream socks proxy", err)
		}
		if !h.adoptUpstream(conn) {
			return newError(KindCancelled, "", "", nil)
		}
		if err := socks4.Connect(conn, host, uint16(port)); err != nil {
			var re *socks4.ReplyError
			switch {
			case errors.As(err, &re):
				return newError(KindUpstreamProtocol, "Socks Proxy error", fmt.Sprintf("error code: %d", re.Code), err)
			case errors.Is(err, socks4.ErrHostTooLong):
				return errorf(KindUpstreamProtocol, "hostname too long", err, "%s", host)
			default:
				return h.upstreamError(KindUpstreamProtocol, "No Reply From socks proxy", err)
			}
		}
		return h.socksProxySuccess(conn, connect, clientReq, rest)

	case dialer.KindSOCKS5:
		conn, err := p.direct.DialContext(h.ctx, "tcp", op.Addr())
		if err != nil {
			return h.upstreamError(KindUpstreamConnect, "cannot connect to upstream socks proxy", err)
		}
		if !h.adoptUpstream(conn) {
			return newError(KindCancelled, "", "", nil)
		}
		auth := socks5.Auth{Username: op.User, Password: op.Password}
		if err := socks5.ClientDial(conn, auth, host, port); err != nil {
			var re *socks5.ReplyError
			if errors.As(err, &re) {
				return newError(KindUpstreamProtocol, "Socks Proxy error", fmt.Sprintf("error code: %d", re.Code), err)
			}
			return h.upstreamError(KindUpstreamProtocol, "Cannot negotiate with socks proxy", err)
		}
		return h.socksProxySuccess(conn, connect, clientReq, rest)

	default:
		return errorf(KindUpstreamUnavailable, "unknown outproxy url", nil, "%s", op.String())
	}
}

// socksProxySuccess finishes a granted SOCKS request: CONNECT clients get
// 200, other requests are written to the outproxy, and the two sockets
// are joined.
func (h *reqHandler) socksProxySuccess(conn net.Conn, connect bool, clientReq, rest []byte) *Error {
	if connect {
		sock := h.client()
		if sock == nil {
			return newError(KindCancelled, "", "", nil)
		}
		if _, err := sock.Write(connectEstablished); err != nil {
			return h.upstreamError(KindUpstreamProtocol, "socks proxy error", err)
		}
		h.handoff(conn, rest)
		return nil
	}

	h.logger().Debug("send request to outproxy", "bytes", len(clientReq))
	if _, err := conn.Write(clientReq); err != nil {
		return h.upstreamError(KindUpstreamProtocol, "failed to send request to upstream", err)
	}
	h.handoff(conn, nil)
	return nil
}

func (h *reqHandler) upstreamError(kind Kind, title string, err error) *Error {
	if h.Dead() {
		return newError(KindCancelled, title, "", err)
	}
	return errorf(kind, title, err, "%s", err.Error())
}

func redactedOutproxy(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Redacted()
	}
	return raw
}
