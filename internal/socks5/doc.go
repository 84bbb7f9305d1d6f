// Package socks5 holds the SOCKS5 handshakes used on both sides of the
// router: the SOCKS proxy's server negotiation, and the client negotiation
// used to reach SOCKS5 outproxies and the router gateway.
//
// Wire encoding is delegated to github.com/txthinking/socks5; this package
// adds the negotiation flow, host/port addressing and error values.
package socks5
