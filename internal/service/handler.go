package service

import "sync/atomic"

// Handler is one accepted connection or proxied session.
//
// Handle starts the handler and must not block. Terminate releases every
// socket the handler still owns and removes it from its service; it is safe
// to call any number of times from any goroutine, and only the first call
// has an effect.
type Handler interface {
	Handle()
	Terminate()
	Owner() *Service
}

// HandlerBase carries the state every Handler needs. Embed a pointer
// obtained from NewHandlerBase.
type HandlerBase struct {
	owner *Service
	dead  atomic.Bool
}

func NewHandlerBase(owner *Service) *HandlerBase {
	return &HandlerBase{owner: owner}
}

// Kill claims termination. It reports true if termination had already
// been claimed, in which case the caller must return without touching the
// handler's resources.
func (b *HandlerBase) Kill() bool {
	return b.dead.Swap(true)
}

// Dead reports whether termination has been claimed.
func (b *HandlerBase) Dead() bool {
	return b.dead.Load()
}

// Done removes h from its owner's handler set.
func (b *HandlerBase) Done(h Handler) {
	b.owner.Done(h)
}

func (b *HandlerBase) Owner() *Service {
	return b.owner
}
