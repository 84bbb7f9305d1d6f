package socks5

import (
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

const CmdConnect = txsocks5.CmdConnect

// Auth configures optional username/password authentication.
type Auth struct {
	Username string
	Password string
}

func WriteCommandNotSupportedReply(conn net.Conn, atyp byte) {
	_, _ = newZeroAddrReply(txsocks5.RepCommandNotSupported, atyp).WriteTo(conn)
}

func WriteConnectionRefusedReply(conn net.Conn, atyp byte) {
	_, _ = newZeroAddrReply(txsocks5.RepConnectionRefused, atyp).WriteTo(conn)
}

// WriteHostUnreachableReply reports a name that could not be resolved.
func WriteHostUnreachableReply(conn net.Conn, atyp byte) {
	_, _ = newZeroAddrReply(txsocks5.RepHostUnreachable, atyp).WriteTo(conn)
}

// WriteSuccessReply writes a success reply with localAddr as the bound
// address. In-memory streams have no IP address; a zero IPv4 address is
// sent for them.
func WriteSuccessReply(conn net.Conn, localAddr net.Addr) error {
	var rep *txsocks5.Reply
	if a, addr, port, err := txsocks5.ParseAddress(addrString(localAddr)); err == nil && a != txsocks5.ATYPDomain {
		rep = txsocks5.NewReply(txsocks5.RepSuccess, a, addr, port)
	} else {
		rep = newZeroAddrReply(txsocks5.RepSuccess, txsocks5.ATYPIPv4)
	}
	if _, err := rep.WriteTo(conn); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func newZeroAddrReply(rep, atyp byte) *txsocks5.Reply {
	if atyp == txsocks5.ATYPIPv6 {
		return txsocks5.NewReply(rep, txsocks5.ATYPIPv6, []byte(net.IPv6zero), []byte{0x00, 0x00})
	}
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}

func writeNoAcceptableMethods(conn net.Conn) {
	// RFC 1928: 0xFF indicates no acceptable methods.
	_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(conn)
}
