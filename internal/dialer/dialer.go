package dialer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Dialer mirrors net.Dialer.DialContext.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Kind is the protocol spoken to an outproxy.
type Kind int

const (
	KindHTTP Kind = iota
	KindSOCKS4
	KindSOCKS5
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindSOCKS4:
		return "socks4"
	case KindSOCKS5:
		return "socks5"
	default:
		return "unknown"
	}
}

var (
	ErrBadOutproxy     = errors.New("bad outproxy settings")
	ErrUnknownOutproxy = errors.New("unknown outproxy url")
)

// Outproxy is a parsed outproxy URL.
type Outproxy struct {
	Kind     Kind
	Host     string
	Port     int
	User     string
	Password string

	url *url.URL
}

// ParseOutproxy parses an outproxy URL of the form
// [scheme://][user:pass@]host[:port]. A missing scheme means http.
// socks, socks4 and socks4a select SOCKS4; socks5 selects SOCKS5.
// Default ports are 80, 9050 and 1080 respectively.
func ParseOutproxy(raw string) (*Outproxy, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadOutproxy, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrBadOutproxy)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("%w: path should be empty", ErrBadOutproxy)
	}

	op := &Outproxy{Host: u.Hostname(), url: u}
	switch strings.ToLower(u.Scheme) {
	case "http":
		op.Kind, op.Port = KindHTTP, 80
	case "socks", "socks4", "socks4a":
		op.Kind, op.Port = KindSOCKS4, 9050
	case "socks5", "socks5h":
		op.Kind, op.Port = KindSOCKS5, 1080
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOutproxy, u.Redacted())
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("%w: bad port %q", ErrBadOutproxy, p)
		}
		op.Port = port
	}
	if u.User != nil {
		op.User = u.User.Username()
		op.Password, _ = u.User.Password()
	}
	return op, nil
}

// Addr returns host:port.
func (o *Outproxy) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// HasAuth reports whether the URL carried credentials.
func (o *Outproxy) HasAuth() bool {
	return o.User != "" || o.Password != ""
}

// BasicAuth returns a Proxy-Authorization value for the credentials.
func (o *Outproxy) BasicAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(o.User+":"+o.Password))
}

// String returns the URL with any password masked.
func (o *Outproxy) String() string {
	return o.url.Redacted()
}
