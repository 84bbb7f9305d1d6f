package service

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sh4dak/dotnet/internal/addressbook"
	"github.com/sh4dak/dotnet/internal/testutil"
)

// echoFactory turns each accepted connection into a Pipe whose upstream
// is an in-memory echo.
func echoFactory(s *Service) HandlerFactory {
	return HandlerFactoryFunc(func(conn net.Conn) Handler {
		local, remote := net.Pipe()
		go testutil.Echo(remote)
		return NewPipe(s, local, conn)
	})
}

func TestAcceptorResolvesEphemeralPort(t *testing.T) {
	s := New("test", testutil.NewDestination(t), addressbook.New())
	a := NewAcceptor(s, "127.0.0.1:0", echoFactory(s), net.KeepAliveConfig{})

	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()

	if strings.HasSuffix(a.Addr(), ":0") {
		t.Fatalf("port not resolved: %s", a.Addr())
	}
	if err := a.Start(); err == nil {
		t.Fatal("second Start succeeded")
	}
}

func TestAcceptorServesConnections(t *testing.T) {
	s := New("test", testutil.NewDestination(t), addressbook.New())
	a := NewAcceptor(s, "127.0.0.1:0", echoFactory(s), net.KeepAliveConfig{Enable: true, Idle: time.Minute})
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()

	for i := 0; i < 3; i++ {
		c, err := net.Dial("tcp", a.Addr())
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEcho(t, c, c, []byte("hello"))
		defer c.Close()
	}

	testutil.WaitFor(t, "three handlers", func() bool { return s.HandlerCount() == 3 })
}

func TestAcceptorFactoryDeclines(t *testing.T) {
	s := New("test", testutil.NewDestination(t), addressbook.New())
	a := NewAcceptor(s, "127.0.0.1:0", HandlerFactoryFunc(func(net.Conn) Handler { return nil }), net.KeepAliveConfig{})
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()

	c, err := net.Dial("tcp", a.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("declined connection read returned %v, want EOF", err)
	}
	if n := s.HandlerCount(); n != 0 {
		t.Fatalf("HandlerCount=%d", n)
	}
}

func TestAcceptorStopTearsDown(t *testing.T) {
	s := New("test", testutil.NewDestination(t), addressbook.New())
	a := NewAcceptor(s, "127.0.0.1:0", echoFactory(s), net.KeepAliveConfig{})
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	addr := a.Addr()

	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	testutil.AssertEcho(t, c, c, []byte("hello"))

	a.Stop()

	if n := s.HandlerCount(); n != 0 {
		t.Fatalf("HandlerCount=%d after Stop", n)
	}
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.Read(make([]byte, 1)); err == nil {
		t.Fatal("connection still open after Stop")
	}
	if c2, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		c2.Close()
		t.Fatal("listener still accepting after Stop")
	}
}
