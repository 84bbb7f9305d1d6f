// Package socks4 speaks the client side of SOCKS4a: a CONNECT carrying the
// target as a host name that the proxy resolves.
package socks4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Version    = 0x04
	CmdConnect = 0x01

	// UserID is sent in every request.
	UserID = "i2pd"

	// MaxHostLen is the longest host name a request may carry.
	MaxHostLen = 255

	// ReplySize is the fixed size of a proxy reply.
	ReplySize = 8

	// Granted is the reply code for a successful request.
	Granted = 0x5A
)

var ErrHostTooLong = errors.New("socks4 host name too long")

// ReplyError is a reply whose code is not Granted.
type ReplyError struct {
	Code byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("socks4 request rejected: error code: %d", e.Code)
}

// AppendRequest appends a CONNECT request for host:port to dst. The IPv4
// field is 0.0.0.1, which tells the proxy to use the host name.
func AppendRequest(dst []byte, host string, port uint16) ([]byte, error) {
	if len(host) > MaxHostLen {
		return dst, fmt.Errorf("%w: %d bytes", ErrHostTooLong, len(host))
	}
	dst = append(dst, Version, CmdConnect)
	dst = binary.BigEndian.AppendUint16(dst, port)
	dst = append(dst, 0, 0, 0, 1)
	dst = append(dst, UserID...)
	dst = append(dst, 0)
	dst = append(dst, host...)
	dst = append(dst, 0)
	return dst, nil
}

// ReadReply reads one reply from r and returns a *ReplyError unless the
// request was granted.
func ReadReply(r io.Reader) error {
	var buf [ReplySize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("read socks4 reply: %w", err)
	}
	if buf[1] != Granted {
		return &ReplyError{Code: buf[1]}
	}
	return nil
}

// Connect sends a CONNECT request on rw and waits for the reply.
func Connect(rw io.ReadWriter, host string, port uint16) error {
	req, err := AppendRequest(make([]byte, 0, 8+len(UserID)+1+len(host)+1), host, port)
	if err != nil {
		return err
	}
	if _, err := rw.Write(req); err != nil {
		return fmt.Errorf("write socks4 request: %w", err)
	}
	return ReadReply(rw)
}
