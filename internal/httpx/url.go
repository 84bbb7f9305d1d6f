package httpx

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is 443 for https and 80 for everything else.
func DefaultPort(scheme string) int {
	if strings.EqualFold(scheme, "https") {
		return 443
	}
	return 80
}

// HostPort splits u.Host. A missing port is reported as 0.
func HostPort(u *url.URL) (string, int, error) {
	host := u.Hostname()
	p := u.Port()
	if p == "" {
		return host, 0, nil
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("%w: bad port %q", ErrMalformed, p)
	}
	return host, port, nil
}

// HostHeader formats host and port for a Host header, omitting port 80.
func HostHeader(host string, port int) string {
	if port == 0 || port == 80 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Relative returns the origin-form request target of u.
func Relative(u *url.URL) string {
	rel := *u
	rel.Scheme = ""
	rel.Host = ""
	rel.User = nil
	rel.Fragment = ""
	rel.RawFragment = ""
	return rel.RequestURI()
}

// SplitAuthority parses the host:port authority of a CONNECT request. The
// port is required.
func SplitAuthority(authority string) (string, int, error) {
	i := strings.LastIndexByte(authority, ':')
	if i < 0 || i == len(authority)-1 {
		return "", 0, fmt.Errorf("%w: invalid request uri %q", ErrMalformed, authority)
	}
	host := strings.Trim(authority[:i], "[]")
	port, err := strconv.Atoi(authority[i+1:])
	if err != nil || port < 1 || port > 65535 || host == "" {
		return "", 0, fmt.Errorf("%w: invalid request uri %q", ErrMalformed, authority)
	}
	return host, port, nil
}
