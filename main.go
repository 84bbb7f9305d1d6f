package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/sh4dak/dotnet/internal/addressbook"
	"github.com/sh4dak/dotnet/internal/config"
	"github.com/sh4dak/dotnet/internal/dialer"
	"github.com/sh4dak/dotnet/internal/httpproxy"
	dnlog "github.com/sh4dak/dotnet/internal/log"
	"github.com/sh4dak/dotnet/internal/router"
	"github.com/sh4dak/dotnet/internal/service"
	"github.com/sh4dak/dotnet/internal/socks5"
	"github.com/sh4dak/dotnet/internal/socksproxy"
	"github.com/sh4dak/dotnet/internal/tunnel"
	"github.com/sh4dak/dotnet/internal/worker"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := config.NewFlags(os.Args[0])
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg, err := flags.Load()
	if err != nil {
		return err
	}

	logger := dnlog.NewLogger(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)

	ka, err := config.ParseTCPKeepAlive(cfg.TCPKeepAlive)
	if err != nil {
		return err
	}
	dialCfg := dialer.Config{DialTimeout: cfg.DialTimeout, KeepAlive: ka}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	book, closeBook, err := openAddressBook(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBook()

	pool := worker.New(cfg.Workers)
	defer pool.Close()

	// The gateway loop outlives the signal context so that acceptor
	// teardown and queued job results still have somewhere to run.
	gwCtx, stopGateway := context.WithCancel(context.Background())
	defer stopGateway()

	gw := router.New(router.Config{
		SOCKSAddr:     cfg.Router.SOCKSAddress,
		Auth:          socks5.Auth{Username: cfg.Router.Username, Password: cfg.Router.Password},
		ProbeInterval: cfg.Router.ProbeInterval,
		Dialer:        dialCfg,
	}, router.WithLogger(logger))

	newService := func(name string) *service.Service {
		return service.New(name, gw, book,
			service.WithConnectTimeout(cfg.ConnectTimeout),
			service.WithLogger(logger.With("service", name)))
	}

	var acceptors []*service.Acceptor
	defer func() {
		for _, a := range acceptors {
			a.Stop()
		}
	}()
	start := func(a *service.Acceptor) error {
		if err := a.Start(); err != nil {
			return fmt.Errorf("%s listen: %w", a.Name(), err)
		}
		acceptors = append(acceptors, a)
		return nil
	}

	if cfg.HTTPProxy.Listen != "" {
		svc := newService("http-proxy")
		var opts []httpproxy.Option
		if cfg.Workers > 0 {
			opts = append(opts, httpproxy.WithJobQueue(pool))
		}
		proxy := httpproxy.New(svc, book, httpproxy.Config{
			Outproxy:       cfg.HTTPProxy.Outproxy,
			AddressHelper:  cfg.HTTPProxy.AddressHelper,
			JumpServices:   jumpServices(cfg.JumpServices),
			RequestTimeout: cfg.HTTPProxy.RequestTimeout,
			Dialer:         dialCfg,
		}, opts...)
		if err := start(service.NewAcceptor(svc, cfg.HTTPProxy.Listen, proxy, ka)); err != nil {
			return err
		}
	}

	if cfg.SOCKSProxy.Listen != "" {
		svc := newService("socks-proxy")
		proxy := socksproxy.New(svc, socksproxy.Config{
			Auth:             socks5.Auth{Username: cfg.SOCKSProxy.Username, Password: cfg.SOCKSProxy.Password},
			HandshakeTimeout: cfg.SOCKSProxy.HandshakeTimeout,
		})
		if err := start(service.NewAcceptor(svc, cfg.SOCKSProxy.Listen, proxy, ka)); err != nil {
			return err
		}
	}

	for i, t := range cfg.Tunnels {
		name := t.Name
		if name == "" {
			name = fmt.Sprintf("tunnel-%d", i)
		}
		tun := tunnel.NewClientTunnel(newService(name), t.Listen, t.Destination, t.Port, ka)
		if err := start(tun.Acceptor); err != nil {
			return err
		}
	}

	var g errgroup.Group
	g.Go(func() error { return gw.Run(gwCtx) })

	<-ctx.Done()
	logger.Info("shutting down")
	for _, a := range acceptors {
		a.Stop()
	}
	acceptors = nil
	pool.Close()
	// Let the results posted by the last jobs run before the loop stops.
	gw.Loop().Call(func() {})
	stopGateway()

	return g.Wait()
}

// openAddressBook returns the book, backed by the configured database
// when there is one.
func openAddressBook(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*addressbook.Book, func(), error) {
	if cfg.AddressBook.Path == "" {
		return addressbook.New(addressbook.WithLogger(logger)), func() {}, nil
	}

	key, err := cfg.AddressBookKey()
	if err != nil {
		return nil, nil, err
	}
	store, err := addressbook.OpenStore(cfg.AddressBook.Path, key)
	if err != nil {
		return nil, nil, err
	}

	book := addressbook.New(addressbook.WithPersist(store.Save), addressbook.WithLogger(logger))
	n, err := store.Load(ctx, book)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	logger.Info("address book loaded", "path", cfg.AddressBook.Path, "entries", n)

	return book, func() { _ = store.Close() }, nil
}

func jumpServices(in []config.JumpService) []httpproxy.JumpService {
	if len(in) == 0 {
		return nil
	}
	out := make([]httpproxy.JumpService, 0, len(in))
	for _, js := range in {
		out = append(out, httpproxy.JumpService{Name: js.Name, URL: js.URL})
	}
	return out
}
