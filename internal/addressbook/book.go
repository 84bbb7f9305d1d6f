// Package addressbook maps in-network host names to destination addresses.
package addressbook

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sh4dak/dotnet/internal/worker"
)

// Book is a concurrency-safe name to address map. Names are case
// insensitive.
type Book struct {
	mu      sync.RWMutex
	entries map[string]*Address

	// persist, when set, is called after every insert outside the lock.
	persist func(name string, addr *Address) error
	logger  *slog.Logger
}

type Option func(*Book)

// WithPersist registers a hook that stores every inserted entry.
func WithPersist(fn func(name string, addr *Address) error) Option {
	return func(b *Book) { b.persist = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Book) { b.logger = logger }
}

func New(opts ...Option) *Book {
	b := &Book{entries: make(map[string]*Address)}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// GetAddress resolves name. .b32 names resolve without an entry.
func (b *Book) GetAddress(name string) (*Address, bool) {
	if a, ok := parseB32(name); ok {
		return a, true
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.entries[strings.ToLower(name)]
	return a, ok
}

// FindAddress reports whether name resolves, the same way GetAddress
// does.
func (b *Book) FindAddress(name string) bool {
	if _, ok := parseB32(name); ok {
		return true
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.entries[strings.ToLower(name)]
	return ok
}

// InsertAddress decodes encoded and stores it under name, replacing any
// existing entry.
func (b *Book) InsertAddress(name, encoded string) error {
	addr, err := DecodeDescriptor(encoded)
	if err != nil {
		return fmt.Errorf("insert %s: %w", name, err)
	}
	b.Insert(name, addr)
	return nil
}

// Insert stores addr under name, replacing any existing entry.
func (b *Book) Insert(name string, addr *Address) {
	name = strings.ToLower(name)
	b.mu.Lock()
	b.entries[name] = addr
	b.mu.Unlock()

	if b.persist != nil {
		if err := b.persist(name, addr); err != nil {
			b.logger.Warn("addressbook: persist failed", "name", name, "err", err)
		}
	}
}

// load stores addr without calling the persist hook.
func (b *Book) load(name string, addr *Address) {
	b.mu.Lock()
	b.entries[strings.ToLower(name)] = addr
	b.mu.Unlock()
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// DecodeJob returns a pool job that decodes encoded off the owner's
// context and then calls done on it.
func DecodeJob(owner worker.Owner, encoded string, done func(*Address, error)) worker.Job {
	return worker.Job{
		Owner: owner,
		Work: func() func() {
			addr, err := DecodeDescriptor(encoded)
			return func() { done(addr, err) }
		},
	}
}
