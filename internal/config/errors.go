package config

import "errors"

var (
	ErrConfigNotFound = errors.New("configuration file not found")

	ErrNoListeners = errors.New("no listeners enabled: configure the http proxy, the socks proxy or a tunnel")

	ErrNoRouter = errors.New("router socks address is required")

	ErrInvalidTunnel = errors.New("invalid tunnel")

	// ErrInvalidKey is returned when the address book key is not 32 bytes
	// of hex.
	ErrInvalidKey = errors.New("invalid addressbook key: want 64 hex characters")

	ErrInvalidWorkers = errors.New("invalid workers: must be non-negative")

	ErrInvalidTimeout = errors.New("invalid timeout: must be non-negative")

	ErrInvalidKeepAlive = errors.New("invalid tcp keepalive: expected on|off|keepidle:keepintvl:keepcnt")
)
