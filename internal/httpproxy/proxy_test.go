package httpproxy

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sh4dak/dotnet/internal/addressbook"
	"github.com/sh4dak/dotnet/internal/httpx"
	"github.com/sh4dak/dotnet/internal/service"
	"github.com/sh4dak/dotnet/internal/testutil"
	"github.com/sh4dak/dotnet/internal/worker"
)

type env struct {
	t    *testing.T
	dest *testutil.Destination
	book *addressbook.Book
	svc  *service.Service
	acc  *service.Acceptor
}

func newEnv(t *testing.T, cfg Config, opts ...Option) *env {
	t.Helper()
	return newEnvWithBook(t, addressbook.New(), cfg, opts...)
}

func newEnvWithBook(t *testing.T, book *addressbook.Book, cfg Config, opts ...Option) *env {
	t.Helper()

	dest := testutil.NewDestination(t)
	svc := service.New("http-proxy", dest, book)
	acc := service.NewAcceptor(svc, "127.0.0.1:0", New(svc, book, cfg, opts...), net.KeepAliveConfig{})
	if err := acc.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(acc.Stop)

	return &env{t: t, dest: dest, book: book, svc: svc, acc: acc}
}

func (e *env) dial() net.Conn {
	e.t.Helper()
	c, err := net.Dial("tcp", e.acc.Addr())
	if err != nil {
		e.t.Fatal(err)
	}
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	e.t.Cleanup(func() { _ = c.Close() })
	return c
}

// roundTrip sends raw and returns everything received until the proxy
// closes the connection.
func (e *env) roundTrip(raw string) string {
	e.t.Helper()
	c := e.dial()
	if _, err := io.WriteString(c, raw); err != nil {
		e.t.Fatal(err)
	}
	got, err := io.ReadAll(c)
	if err != nil {
		e.t.Fatal(err)
	}
	return string(got)
}

func (e *env) addHost(name string) *addressbook.Address {
	e.t.Helper()
	addr, _ := testutil.RandomAddress(e.t)
	e.book.Insert(name, addr)
	return addr
}

// readHead reads one request head from c.
func readHead(c net.Conn) (*httpx.Request, error) {
	var buf []byte
	chunk := make([]byte, 512)
	for {
		n, err := c.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if req, _, perr := httpx.ParseRequest(buf); req != nil || perr != nil {
			return req, perr
		}
		if err != nil {
			return nil, err
		}
	}
}

func assertPage(t *testing.T, got string, wants ...string) {
	t.Helper()
	if !strings.HasPrefix(got, "HTTP/1.1 500 Internal Server Error\r\n") {
		t.Fatalf("not an error page: %q", got)
	}
	if !strings.Contains(got, "Content-Type: text/html; charset=UTF-8\r\n") || !strings.Contains(got, "Connection: close\r\n") {
		t.Fatalf("missing page headers: %q", got)
	}
	for _, w := range wants {
		if !strings.Contains(got, w) {
			t.Fatalf("page lacks %q:\n%s", w, got)
		}
	}
}

func TestHostNotFoundListsJumpServices(t *testing.T) {
	e := newEnv(t, Config{})

	got := e.roundTrip("GET http://foo.dotnet/ HTTP/1.1\r\nHost: foo.dotnet\r\n\r\n")

	assertPage(t, got,
		"Proxy error: Host not found",
		`href="http://f26brxp77ydqc7cnjctnj75ktcgjhh3tqqvrgf4a6l25aqk3vp3a.dot.net/search/?q=foo.dotnet"`)
	if d := e.dest.Dials(); len(d) != 0 {
		t.Fatalf("network contacted: %v", d)
	}
}

func TestAddressHelperInsertsUnknownHost(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "inline"},
		{name: "worker pool", opts: []Option{WithJobQueue(newPool(t))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, Config{AddressHelper: true}, tt.opts...)
			want, encoded := testutil.RandomAddress(t)

			got := e.roundTrip("GET /x?dotnetaddresshelper=" + encoded + " HTTP/1.1\r\nHost: new.dotnet\r\n\r\n")

			assertPage(t, got,
				"Proxy info: Addresshelper found",
				"added to router's addressbook from helper",
				`href="http://new.dotnet/x"`)
			addr, ok := e.book.GetAddress("new.dotnet")
			if !ok || addr.IdentHash != want.IdentHash {
				t.Fatal("address book lacks new.dotnet")
			}
			if d := e.dest.Dials(); len(d) != 0 {
				t.Fatalf("network contacted: %v", d)
			}
		})
	}
}

func newPool(t *testing.T) *worker.Pool {
	p := worker.New(2)
	t.Cleanup(p.Close)
	return p
}

func TestAddressHelperPersistsOffLoop(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	book := addressbook.New(addressbook.WithPersist(func(string, *addressbook.Address) error {
		close(entered)
		<-release
		return nil
	}))
	e := newEnvWithBook(t, book, Config{AddressHelper: true}, WithJobQueue(newPool(t)))
	_, encoded := testutil.RandomAddress(t)

	c := e.dial()
	if _, err := io.WriteString(c, "GET /?dotnetaddresshelper="+encoded+" HTTP/1.1\r\nHost: slow.dotnet\r\n\r\n"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("persist hook not called")
	}

	// The loop keeps running while the entry is being written.
	ran := make(chan struct{})
	go func() {
		e.dest.Loop().Call(func() {})
		close(ran)
	}()
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("loop blocked by persist hook")
	}

	close(release)
	got, err := io.ReadAll(c)
	if err != nil {
		t.Fatal(err)
	}
	assertPage(t, string(got), "Proxy info: Addresshelper found")
	if !book.FindAddress("slow.dotnet") {
		t.Fatal("address book lacks slow.dotnet")
	}
}

func TestAddressHelperKnownHost(t *testing.T) {
	e := newEnv(t, Config{AddressHelper: true})
	old := e.addHost("known.dotnet")
	replacement, encoded := testutil.RandomAddress(t)

	got := e.roundTrip("GET http://known.dotnet/p?a=1&dotnetaddresshelper=" + encoded + " HTTP/1.1\r\nHost: known.dotnet\r\n\r\n")
	assertPage(t, got, "already in router's addressbook", "update=true", "http://known.dotnet/p?a=1&amp;dotnetaddresshelper=")
	if addr, _ := e.book.GetAddress("known.dotnet"); addr.IdentHash != old.IdentHash {
		t.Fatal("mapping replaced without update=true")
	}

	got = e.roundTrip("GET http://known.dotnet/p?dotnetaddresshelper=" + encoded + "&update=true HTTP/1.1\r\nHost: known.dotnet\r\n\r\n")
	assertPage(t, got, "added to router's addressbook from helper", `href="http://known.dotnet/p"`)
	if addr, _ := e.book.GetAddress("known.dotnet"); addr.IdentHash != replacement.IdentHash {
		t.Fatal("mapping not replaced with update=true")
	}
}

func TestAddressHelperRejected(t *testing.T) {
	e := newEnv(t, Config{})
	_, encoded := testutil.RandomAddress(t)

	got := e.roundTrip("GET /x?dotnetaddresshelper=" + encoded + " HTTP/1.1\r\nHost: new.dotnet\r\n\r\n")
	assertPage(t, got, "addresshelper is not supported")
	if e.book.FindAddress("new.dotnet") {
		t.Fatal("inserted while disabled")
	}
}

func TestAddressHelperBadDescriptor(t *testing.T) {
	e := newEnv(t, Config{AddressHelper: true})

	got := e.roundTrip("GET /x?dotnetaddresshelper=AAAA HTTP/1.1\r\nHost: new.dotnet\r\n\r\n")
	assertPage(t, got, "not a valid destination")
	if e.book.FindAddress("new.dotnet") {
		t.Fatal("bad descriptor inserted")
	}
}

func TestInNetworkRequestIsRewritten(t *testing.T) {
	e := newEnv(t, Config{})
	addr := e.addHost("example.dotnet")

	seen := make(chan *httpx.Request, 1)
	e.dest.Serve(addr, 80, func(c net.Conn) {
		defer c.Close()
		req, err := readHead(c)
		if err != nil {
			return
		}
		seen <- req
		_, _ = io.WriteString(c, "HTTP/1.1 200 OK\r\n\r\nhello")
	})

	got := e.roundTrip("GET http://example.dotnet/a?b=1 HTTP/1.1\r\n" +
		"Host: wrong.example\r\n" +
		"User-Agent: curl/8.0\r\n" +
		"Referrer: http://leak.example/\r\n" +
		"Accept-Language: en\r\n" +
		"Accept-Encoding: gzip\r\n" +
		"Proxy-Connection: keep-alive\r\n" +
		"\r\n")

	if got != "HTTP/1.1 200 OK\r\n\r\nhello" {
		t.Fatalf("client got %q", got)
	}

	req := <-seen
	if req.URI != "/a?b=1" {
		t.Errorf("URI=%q", req.URI)
	}
	checks := map[string]string{
		"Host":             "example.dotnet",
		"User-Agent":       "MYOB/6.66 (AN/ON)",
		"Connection":       "close",
		"Accept-Encoding":  "gzip",
		"Referrer":         "",
		"Accept-Language":  "",
		"Proxy-Connection": "",
	}
	for name, want := range checks {
		if got := req.Get(name); got != want {
			t.Errorf("%s=%q want %q", name, got, want)
		}
	}
}

func TestInNetworkTransparentHostHeader(t *testing.T) {
	e := newEnv(t, Config{})
	addr := e.addHost("site.dotnet")

	seen := make(chan *httpx.Request, 1)
	e.dest.Serve(addr, 8080, func(c net.Conn) {
		defer c.Close()
		if req, err := readHead(c); err == nil {
			seen <- req
		}
	})

	e.roundTrip("GET /index.html HTTP/1.1\r\nHost: site.dotnet:8080\r\nConnection: Upgrade\r\n\r\n")

	req := <-seen
	if req.URI != "/index.html" || req.Get("Connection") != "Upgrade" {
		t.Fatalf("forwarded %+v", req)
	}
}

func TestInNetworkConnect(t *testing.T) {
	e := newEnv(t, Config{})
	addr := e.addHost("secure.dotnet")
	e.dest.Serve(addr, 443, testutil.Echo)

	c := e.dial()
	if _, err := io.WriteString(c, "CONNECT secure.dotnet:443 HTTP/1.1\r\nHost: secure.dotnet:443\r\n\r\n"); err != nil {
		t.Fatal(err)
	}

	want := "HTTP/1.1 200 OK\r\n\r\n"
	buf := make([]byte, len(want))
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != want {
		t.Fatalf("got %q", buf)
	}
	testutil.AssertEcho(t, c, c, []byte("tls bytes"))

	testutil.WaitFor(t, "request handler retired", func() bool { return e.svc.HandlerCount() == 1 })
}

func TestStreamFailure(t *testing.T) {
	e := newEnv(t, Config{})
	e.addHost("down.dotnet")

	got := e.roundTrip("GET http://down.dotnet/ HTTP/1.1\r\n\r\n")
	assertPage(t, got, "Proxy error: Host is down")

	got = e.roundTrip("CONNECT down.dotnet:443 HTTP/1.1\r\n\r\n")
	assertPage(t, got, "Proxy error: CONNECT error", "Failed to Connect")
}

func TestParseErrors(t *testing.T) {
	e := newEnv(t, Config{})

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"malformed", "NONSENSE\r\n\r\n", "Proxy unable to parse your request"},
		{"connect without port", "CONNECT example.dotnet HTTP/1.1\r\n\r\n", "invalid request uri"},
		{"no host", "GET / HTTP/1.1\r\n\r\n", "Can't detect destination host from request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertPage(t, e.roundTrip(tt.raw), tt.want)
		})
	}
}

func TestNoOutproxy(t *testing.T) {
	e := newEnv(t, Config{})

	got := e.roundTrip("GET http://example.com/ HTTP/1.1\r\n\r\n")
	assertPage(t, got, "Proxy error: Outproxy failure", "Host example.com not inside .NET network, but outproxy is not enabled")
}

func TestBadOutproxySettings(t *testing.T) {
	tests := []struct {
		outproxy string
		want     string
	}{
		{"ftp://proxy.example", "unknown outproxy url"},
		{"http://proxy.example:notaport", "bad outproxy settings"},
	}
	for _, tt := range tests {
		t.Run(tt.outproxy, func(t *testing.T) {
			e := newEnv(t, Config{Outproxy: tt.outproxy})
			assertPage(t, e.roundTrip("GET http://example.com/ HTTP/1.1\r\n\r\n"), tt.want)
		})
	}
}

func TestClientDisconnectBeforeRequest(t *testing.T) {
	e := newEnv(t, Config{})

	c := e.dial()
	_, _ = io.WriteString(c, "GET http://exam")
	testutil.WaitFor(t, "handler registered", func() bool { return e.svc.HandlerCount() == 1 })
	_ = c.Close()

	testutil.WaitFor(t, "handler gone", func() bool { return e.svc.HandlerCount() == 0 })
}

func TestRequestTimeout(t *testing.T) {
	e := newEnv(t, Config{RequestTimeout: 50 * time.Millisecond})

	c := e.dial()
	_, _ = io.WriteString(c, "GET http://exam")
	if _, err := io.ReadAll(c); err != nil {
		t.Fatalf("proxy never closed the idle connection: %v", err)
	}
	testutil.WaitFor(t, "handler gone", func() bool { return e.svc.HandlerCount() == 0 })
}

func TestTerminateDuringStreamWait(t *testing.T) {
	dest := testutil.NewDestination(t)
	dest.SetReady(false)
	book := addressbook.New()
	addr, _ := testutil.RandomAddress(t)
	book.Insert("slow.dotnet", addr)
	svc := service.New("http-proxy", dest, book, service.WithConnectTimeout(time.Hour))
	acc := service.NewAcceptor(svc, "127.0.0.1:0", New(svc, book, Config{}), net.KeepAliveConfig{})
	if err := acc.Start(); err != nil {
		t.Fatal(err)
	}

	c, err := net.Dial("tcp", acc.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	_, _ = io.WriteString(c, "GET http://slow.dotnet/ HTTP/1.1\r\n\r\n")
	testutil.WaitFor(t, "handler registered", func() bool { return svc.HandlerCount() == 1 })

	acc.Stop()

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, _ := io.ReadAll(c)
	if bytes.Contains(got, []byte("HTTP/1.1")) {
		t.Fatalf("cancelled request answered: %q", got)
	}
	if len(dest.Dials()) != 0 {
		t.Fatal("stream opened after teardown")
	}
}
