package config

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
)

// Flags holds the command-line overrides.
type Flags struct {
	fs   *pflag.FlagSet
	path string
	v    Config
}

// NewFlags defines every flag on a new FlagSet named name.
func NewFlags(name string) *Flags {
	f := &Flags{fs: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	d := Default()
	fs := f.fs

	fs.StringVar(&f.path, "config", "", "YAML configuration file (default "+DefaultPath()+" when present)")

	fs.StringVar(&f.v.HTTPProxy.Listen, "http-listen", d.HTTPProxy.Listen, "HTTP proxy listen address. Empty disables.")
	fs.StringVar(&f.v.HTTPProxy.Outproxy, "outproxy", "", "Outproxy URL for hosts outside the network: [http://][user:pass@]host[:port] | socks4://host[:port] | socks5://[user:pass@]host[:port]")
	fs.BoolVar(&f.v.HTTPProxy.AddressHelper, "address-helper", d.HTTPProxy.AddressHelper, "Accept dotnetaddresshelper links")
	fs.DurationVar(&f.v.HTTPProxy.RequestTimeout, "request-timeout", d.HTTPProxy.RequestTimeout, "Timeout for reading a request head (0 disables)")

	fs.StringVar(&f.v.SOCKSProxy.Listen, "socks5-listen", d.SOCKSProxy.Listen, "SOCKS5 proxy listen address. Empty disables.")

	fs.StringVar(&f.v.Router.SOCKSAddress, "router", d.Router.SOCKSAddress, "Router SOCKS5 address used to open streams")
	fs.DurationVar(&f.v.Router.ProbeInterval, "probe-interval", d.Router.ProbeInterval, "Interval between router readiness probes")

	fs.StringVar(&f.v.AddressBook.Path, "addressbook", d.AddressBook.Path, "Address book database. Empty keeps it in memory.")

	fs.IntVar(&f.v.Workers, "workers", d.Workers, "Crypto worker goroutines (0 decodes inline)")
	fs.DurationVar(&f.v.ConnectTimeout, "connect-timeout", d.ConnectTimeout, "Timeout waiting for the destination to become ready")
	fs.DurationVar(&f.v.DialTimeout, "dial-timeout", d.DialTimeout, "Timeout for outbound DNS lookup and TCP connect")
	fs.StringVar(&f.v.TCPKeepAlive, "tcp-keepalive", d.TCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.BoolVar(&f.v.Verbose, "verbose", false, "Enable per-connection debug logging")

	fs.SortFlags = false
	return f
}

func (f *Flags) FlagSet() *pflag.FlagSet { return f.fs }

func (f *Flags) Parse(args []string) error {
	return f.fs.Parse(args)
}

// Load reads the configuration file, applies every flag that was set and
// validates the result. A missing file is an error only when --config
// named it.
func (f *Flags) Load() (*Config, error) {
	path := f.path
	if path == "" {
		path = DefaultPath()
	}

	cfg, err := LoadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, ErrConfigNotFound) && f.path == "":
		cfg = Default()
	default:
		return nil, err
	}

	f.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (f *Flags) apply(cfg *Config) {
	set := func(name string, apply func()) {
		if f.fs.Changed(name) {
			apply()
		}
	}

	set("http-listen", func() { cfg.HTTPProxy.Listen = f.v.HTTPProxy.Listen })
	set("outproxy", func() { cfg.HTTPProxy.Outproxy = f.v.HTTPProxy.Outproxy })
	set("address-helper", func() { cfg.HTTPProxy.AddressHelper = f.v.HTTPProxy.AddressHelper })
	set("request-timeout", func() { cfg.HTTPProxy.RequestTimeout = f.v.HTTPProxy.RequestTimeout })
	set("socks5-listen", func() { cfg.SOCKSProxy.Listen = f.v.SOCKSProxy.Listen })
	set("router", func() { cfg.Router.SOCKSAddress = f.v.Router.SOCKSAddress })
	set("probe-interval", func() { cfg.Router.ProbeInterval = f.v.Router.ProbeInterval })
	set("addressbook", func() { cfg.AddressBook.Path = f.v.AddressBook.Path })
	set("workers", func() { cfg.Workers = f.v.Workers })
	set("connect-timeout", func() { cfg.ConnectTimeout = f.v.ConnectTimeout })
	set("dial-timeout", func() { cfg.DialTimeout = f.v.DialTimeout })
	set("tcp-keepalive", func() { cfg.TCPKeepAlive = f.v.TCPKeepAlive })
	set("verbose", func() { cfg.Verbose = f.v.Verbose })
}
