// Package socksproxy is a SOCKS5 front end for in-network destinations.
//
// CONNECT targets are resolved through the address book and opened as
// anonymous streams. Names outside the network are refused; there is no
// outproxy on this path.
package socksproxy
