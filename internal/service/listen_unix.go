//go:build unix

package service

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlReceiveBuffer sizes the listening socket's receive buffer before
// listen(2) so accepted sockets inherit it and advertise a matching window
// scale during the handshake.
func controlReceiveBuffer(network, address string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, PipeBufferSize)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
