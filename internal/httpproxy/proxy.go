package httpproxy

import (
	"context"
	"net"
	"time"

	"github.com/sh4dak/dotnet/internal/addressbook"
	"github.com/sh4dak/dotnet/internal/dialer"
	"github.com/sh4dak/dotnet/internal/service"
	"github.com/sh4dak/dotnet/internal/worker"
)

// AddressBook is the name lookup the proxy needs.
type AddressBook interface {
	GetAddress(name string) (*addressbook.Address, bool)
	FindAddress(name string) bool
	Insert(name string, addr *addressbook.Address)
}

// JobQueue runs descriptor decoding off the handler goroutine.
type JobQueue interface {
	Offer(job worker.Job)
}

type Config struct {
	// Outproxy is the URL of the proxy used for hosts outside the
	// network. Empty disables outproxying.
	Outproxy string

	// AddressHelper enables the dotnetaddresshelper query parameter.
	AddressHelper bool

	// JumpServices are listed on the host-not-found page.
	JumpServices []JumpService

	// RequestTimeout bounds reading the request head. Zero means no limit.
	RequestTimeout time.Duration

	Dialer dialer.Config
}

// Proxy creates a request handler for each accepted connection.
type Proxy struct {
	svc  *service.Service
	book AddressBook
	jobs JobQueue
	cfg  Config

	outproxy    *dialer.Outproxy
	outproxyErr error
	direct      dialer.Dialer
}

type Option func(*Proxy)

// WithJobQueue decodes address helper descriptors on q.
func WithJobQueue(q JobQueue) Option {
	return func(p *Proxy) { p.jobs = q }
}

func New(svc *service.Service, book AddressBook, cfg Config, opts ...Option) *Proxy {
	if cfg.JumpServices == nil {
		cfg.JumpServices = DefaultJumpServices
	}
	p := &Proxy{
		svc:    svc,
		book:   book,
		cfg:    cfg,
		direct: dialer.NewDirectDialer(cfg.Dialer),
	}
	if cfg.Outproxy != "" {
		p.outproxy, p.outproxyErr = dialer.ParseOutproxy(cfg.Outproxy)
		if p.outproxyErr != nil {
			svc.Logger().Warn("outproxy disabled", "err", p.outproxyErr)
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Proxy) CreateHandler(conn net.Conn) service.Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &reqHandler{
		HandlerBase: service.NewHandlerBase(p.svc),
		proxy:       p,
		ctx:         ctx,
		cancel:      cancel,
		sock:        conn,
	}
}

// insertFromHelper decodes encoded, on the job queue when there is one.
// On success the address is inserted under host. The insert happens on
// the calling goroutine since it may write through to disk.
func (p *Proxy) insertFromHelper(ctx context.Context, host, encoded string) error {
	if p.jobs == nil {
		addr, err := addressbook.DecodeDescriptor(encoded)
		if err != nil {
			return err
		}
		p.book.Insert(host, addr)
		return nil
	}

	type decoded struct {
		addr *addressbook.Address
		err  error
	}
	done := make(chan decoded, 1)
	p.jobs.Offer(addressbook.DecodeJob(p.svc.Loop(), encoded, func(addr *addressbook.Address, err error) {
		done <- decoded{addr, err}
	}))

	select {
	case d := <-done:
		if d.err != nil {
			return d.err
		}
		p.book.Insert(host, d.addr)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
