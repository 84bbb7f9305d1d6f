package service

import (
	"time"

	"github.com/sh4dak/dotnet/internal/clock"
)

// ReadyCheckInterval is how often a not-yet-ready destination is polled
// while ready callbacks are pending.
const ReadyCheckInterval = time.Second

type readyCallback struct {
	fn       func(error)
	deadline time.Time // zero means no deadline
}

// readyScheduler holds callbacks waiting for the destination to become
// ready. All of its methods run on the service loop.
type readyScheduler struct {
	svc       *Service
	callbacks []readyCallback
	timer     clock.Timer
	armed     bool
	gen       uint64 // bumped by cancel; stale checks are ignored
}

func (r *readyScheduler) add(cb func(error)) {
	var deadline time.Time
	if t := r.svc.connectTimeout; t > 0 {
		deadline = r.svc.clock.Now().Add(t)
	}
	r.callbacks = append(r.callbacks, readyCallback{fn: cb, deadline: deadline})
	if !r.armed {
		r.arm()
	}
}

func (r *readyScheduler) arm() {
	r.armed = true
	gen := r.gen
	r.timer = r.svc.clock.AfterFunc(ReadyCheckInterval, func() {
		r.svc.loop.Post(func() {
			if r.gen == gen {
				r.check(nil)
			}
		})
	})
}

// cancel stops the pending check and fails every waiting callback. A check
// already posted by a fired timer becomes a no-op.
func (r *readyScheduler) cancel() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.gen++
	r.check(ErrCancelled)
}

func (r *readyScheduler) check(err error) {
	r.timer = nil

	if err != nil || r.svc.dest.IsReady() {
		pending := r.callbacks
		r.callbacks = nil
		for _, cb := range pending {
			cb.fn(err)
		}
	} else {
		now := r.svc.clock.Now()
		var (
			keep    []readyCallback
			expired []readyCallback
		)
		for _, cb := range r.callbacks {
			if !cb.deadline.IsZero() && !now.Before(cb.deadline) {
				expired = append(expired, cb)
			} else {
				keep = append(keep, cb)
			}
		}
		r.callbacks = keep
		for _, cb := range expired {
			cb.fn(ErrTimedOut)
		}
	}

	if err == nil && len(r.callbacks) > 0 {
		r.arm()
	} else {
		r.armed = false
	}
}
