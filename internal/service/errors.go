package service

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

var (
	// ErrTimedOut is delivered to ready callbacks whose deadline passed
	// before the destination became ready.
	ErrTimedOut = errors.New("timed out waiting for destination")

	// ErrCancelled is delivered to ready callbacks when the service is
	// torn down.
	ErrCancelled = errors.New("operation cancelled")

	// ErrHostNotFound is returned by CreateStream for names the address
	// book cannot resolve.
	ErrHostNotFound = errors.New("remote destination not found")
)

// IsCancelled reports whether err is the result of local teardown rather
// than a peer or network failure. Such errors must not trigger another
// termination and are not logged as errors.
func IsCancelled(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrCancelled) ||
		errors.Is(err, io.ErrClosedPipe)
}

// isPeerClosed reports errors that just mean the other side went away.
func isPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
