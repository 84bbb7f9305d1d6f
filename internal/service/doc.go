// Package service implements the connection-handling core shared by every
// client-side proxy: the per-connection handler lifecycle, the handler set
// of a service, the readiness scheduler that defers stream creation until
// the local destination can originate streams, the TCP acceptor, and the
// bidirectional pipe that relays bytes once a session is established.
//
// A Service is rooted at one local Destination. Readiness bookkeeping runs
// on the destination's loop; connection I/O runs on per-handler goroutines.
package service
