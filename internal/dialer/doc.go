// Package dialer opens the router's outbound TCP connections: direct
// connections to outproxies, and connections tunnelled through a SOCKS5
// proxy. It also parses the outproxy URL setting.
package dialer
