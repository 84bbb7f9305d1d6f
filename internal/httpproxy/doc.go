// Package httpproxy is the router's local HTTP proxy. Each accepted
// connection reads one request, then either answers it with a generated
// page (errors, host-not-found, address helper), or opens an in-network
// stream or outproxy connection and hands both sockets to a service.Pipe.
package httpproxy
