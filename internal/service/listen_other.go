//go:build !unix

package service

import "syscall"

func controlReceiveBuffer(network, address string, c syscall.RawConn) error {
	return nil
}
