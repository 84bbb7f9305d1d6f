package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// AppName names the XDG directories.
const AppName = "dotnet"

const (
	DefaultHTTPListen     = "127.0.0.1:4444"
	DefaultSOCKSListen    = "127.0.0.1:4447"
	DefaultRouterSOCKS    = "127.0.0.1:4449"
	DefaultConnectTimeout = 30 * time.Second
	DefaultDialTimeout    = 10 * time.Second
	DefaultProbeInterval  = 10 * time.Second
	DefaultWorkers        = 2
	DefaultTCPKeepAlive   = "45:45:3"
)

type Config struct {
	HTTPProxy    HTTPProxy     `yaml:"http_proxy"`
	SOCKSProxy   SOCKSProxy    `yaml:"socks_proxy"`
	Tunnels      []Tunnel      `yaml:"tunnels"`
	Router       Router        `yaml:"router"`
	AddressBook  AddressBook   `yaml:"addressbook"`
	JumpServices []JumpService `yaml:"jump_services"`

	// Workers is the size of the crypto worker pool. Zero decodes
	// descriptors on the requesting goroutine.
	Workers int `yaml:"workers"`

	// ConnectTimeout bounds the wait for the destination to become ready.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	TCPKeepAlive   string        `yaml:"tcp_keepalive"`

	Verbose bool `yaml:"verbose"`
}

type HTTPProxy struct {
	// Listen is the proxy's host:port. Empty disables it.
	Listen         string        `yaml:"listen"`
	Outproxy       string        `yaml:"outproxy"`
	AddressHelper  bool          `yaml:"address_helper"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type SOCKSProxy struct {
	Listen           string        `yaml:"listen"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// Tunnel bridges Listen to Destination:Port inside the network.
type Tunnel struct {
	Name        string `yaml:"name"`
	Listen      string `yaml:"listen"`
	Destination string `yaml:"destination"`
	Port        int    `yaml:"port"`
}

type Router struct {
	SOCKSAddress  string        `yaml:"socks_address"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

type AddressBook struct {
	// Path is the SQLite database. Empty keeps the book in memory.
	Path string `yaml:"path"`

	// Key is a hex-encoded 32-byte key sealing stored descriptors.
	// Empty stores them in the clear.
	Key string `yaml:"key"`
}

type JumpService struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

func Default() *Config {
	return &Config{
		HTTPProxy: HTTPProxy{
			Listen:        DefaultHTTPListen,
			AddressHelper: true,
		},
		SOCKSProxy: SOCKSProxy{
			Listen:           DefaultSOCKSListen,
			HandshakeTimeout: DefaultDialTimeout,
		},
		Router: Router{
			SOCKSAddress:  DefaultRouterSOCKS,
			ProbeInterval: DefaultProbeInterval,
		},
		AddressBook: AddressBook{
			Path: DefaultAddressBookPath(),
		},
		Workers:        DefaultWorkers,
		ConnectTimeout: DefaultConnectTimeout,
		DialTimeout:    DefaultDialTimeout,
		TCPKeepAlive:   DefaultTCPKeepAlive,
	}
}

// DefaultPath is $XDG_CONFIG_HOME/dotnet/config.yaml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// DefaultAddressBookPath is $XDG_DATA_HOME/dotnet/addressbook.db.
func DefaultAddressBookPath() string {
	return filepath.Join(xdg.DataHome, AppName, "addressbook.db")
}

// LoadFile reads path over the defaults. Unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrConfigNotFound)
		}
		return nil, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTPProxy.Listen == "" && c.SOCKSProxy.Listen == "" && len(c.Tunnels) == 0 {
		return ErrNoListeners
	}
	if c.Router.SOCKSAddress == "" {
		return ErrNoRouter
	}
	if _, _, err := net.SplitHostPort(c.Router.SOCKSAddress); err != nil {
		return fmt.Errorf("router socks address: %w", err)
	}
	if c.Workers < 0 {
		return ErrInvalidWorkers
	}

	for _, d := range []time.Duration{
		c.ConnectTimeout, c.DialTimeout, c.HTTPProxy.RequestTimeout,
		c.SOCKSProxy.HandshakeTimeout, c.Router.ProbeInterval,
	} {
		if d < 0 {
			return ErrInvalidTimeout
		}
	}

	for i, t := range c.Tunnels {
		switch {
		case t.Listen == "":
			return fmt.Errorf("%w %d: listen address is required", ErrInvalidTunnel, i)
		case t.Destination == "":
			return fmt.Errorf("%w %d: destination is required", ErrInvalidTunnel, i)
		case t.Port <= 0 || t.Port > 65535:
			return fmt.Errorf("%w %d: port %d out of range", ErrInvalidTunnel, i, t.Port)
		}
	}

	if _, err := c.AddressBookKey(); err != nil {
		return err
	}
	if _, err := ParseTCPKeepAlive(c.TCPKeepAlive); err != nil {
		return err
	}
	return nil
}

// AddressBookKey decodes AddressBook.Key. It returns nil when no key is
// configured.
func (c *Config) AddressBookKey() ([]byte, error) {
	if c.AddressBook.Key == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AddressBook.Key)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// ParseTCPKeepAlive accepts on, off or keepidle:keepintvl:keepcnt with
// the first two in seconds.
func ParseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, ErrInvalidKeepAlive
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, ErrInvalidKeepAlive
	}
	idle, err := parsePositive(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("%w: keepidle: %w", ErrInvalidKeepAlive, err)
	}
	intvl, err := parsePositive(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("%w: keepintvl: %w", ErrInvalidKeepAlive, err)
	}
	cnt, err := parsePositive(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("%w: keepcnt: %w", ErrInvalidKeepAlive, err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(idle) * time.Second,
		Interval: time.Duration(intvl) * time.Second,
		Count:    cnt,
	}, nil
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
