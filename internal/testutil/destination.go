package testutil

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sh4dak/dotnet/internal/addressbook"
	"github.com/sh4dak/dotnet/internal/loop"
)

var ErrNoRoute = errors.New("no route to destination")

// Destination is an in-memory local destination. Streams are net.Pipe
// pairs whose far end is handed to the handler registered with Serve.
type Destination struct {
	loop  *loop.Loop
	ready atomic.Bool

	mu       sync.Mutex
	services map[string]func(net.Conn)
	dials    []string
}

// NewDestination returns a ready destination whose loop runs until the
// test ends.
func NewDestination(t *testing.T) *Destination {
	t.Helper()

	d := &Destination{
		loop:     loop.New(),
		services: make(map[string]func(net.Conn)),
	}
	d.ready.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	go d.loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-d.loop.Done()
	})
	return d
}

func (d *Destination) Loop() *loop.Loop { return d.loop }

func (d *Destination) IsReady() bool { return d.ready.Load() }

func (d *Destination) SetReady(ready bool) { d.ready.Store(ready) }

// Serve routes streams for addr:port to handler.
func (d *Destination) Serve(addr *addressbook.Address, port int, handler func(net.Conn)) {
	d.mu.Lock()
	d.services[streamKey(addr, port)] = handler
	d.mu.Unlock()
}

func (d *Destination) CreateStream(ctx context.Context, addr *addressbook.Address, port int) (net.Conn, error) {
	key := streamKey(addr, port)

	d.mu.Lock()
	d.dials = append(d.dials, key)
	handler, ok := d.services[key]
	d.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNoRoute)
	}
	local, remote := net.Pipe()
	go handler(remote)
	return local, nil
}

// Dials returns every b32:port that CreateStream was asked for.
func (d *Destination) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

func streamKey(addr *addressbook.Address, port int) string {
	return fmt.Sprintf("%s:%d", addr.B32(), port)
}

// RandomAddress returns a freshly generated address and its encoded
// descriptor.
func RandomAddress(t *testing.T) (*addressbook.Address, string) {
	t.Helper()

	raw := make([]byte, addressbook.MinDescriptorSize)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	addr, err := addressbook.FromDescriptor(raw)
	if err != nil {
		t.Fatal(err)
	}
	return addr, addr.Encode()
}

// WaitFor polls cond until it holds or a few seconds pass.
func WaitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
