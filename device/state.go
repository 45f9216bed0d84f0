package device

import (
	"sync"
	"sync/atomic"

	"github.com/Barry-Xu-2018/spresense-camera/v4l2"
)

// rendezvous is the single-slot synchronous handoff between NotifyPath and
// a blocked dequeue (spec §3, §5: "binary-count rendezvous flag"). A
// dequeuer arms it, blocks in wait, and is released by exactly one post
// per arm cycle; a second post before the first is consumed overwrites the
// cause and payload rather than queuing a second wakeup — this is what
// implements the "later completion wins" race in spec §9.
type rendezvous struct {
	mu     sync.Mutex
	armed  bool
	posted bool
	cause  v4l2.WaitCause
	slot   v4l2.Buffer
	sem    chan struct{}
}

func newRendezvous() *rendezvous {
	return &rendezvous{sem: make(chan struct{}, 1)}
}

// arm registers waiting intent. Must be called with the owning stream's
// state lock held, before the lock is released to block in wait.
func (r *rendezvous) arm() {
	r.mu.Lock()
	r.armed = true
	r.posted = false
	r.mu.Unlock()
}

// hasWaiter reports whether a dequeue is currently armed on this
// rendezvous, used by cancel_dequeue (spec §4.5).
func (r *rendezvous) hasWaiter() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

// post records cause/slot and wakes the waiter, if any. It returns false
// if nothing is armed — the caller (NotifyPath with no dequeuer blocked,
// or cancel_dequeue with nothing to cancel) treats that as a no-op, not
// an error. A post that lands after an earlier post but before the
// waiter consumes it overwrites cause/slot without posting the semaphore
// a second time.
func (r *rendezvous) post(cause v4l2.WaitCause, slot v4l2.Buffer) bool {
	r.mu.Lock()
	if !r.armed {
		r.mu.Unlock()
		return false
	}
	r.cause = cause
	r.slot = slot
	already := r.posted
	r.posted = true
	r.mu.Unlock()

	if !already {
		r.sem <- struct{}{}
	}
	return true
}

// wait blocks until post is called, then returns the most recently
// posted cause and slot and disarms.
func (r *rendezvous) wait() (v4l2.WaitCause, v4l2.Buffer) {
	<-r.sem
	r.mu.Lock()
	cause, slot := r.cause, r.slot
	r.armed = false
	r.posted = false
	r.mu.Unlock()
	return cause, slot
}

// StreamState is the per-stream state variable of spec §3: the current
// variant (STREAMOFF/STREAMON/DMA), the remaining-captures counter, and
// the dequeue rendezvous.
//
// The embedded Mutex is the stream's state_lock (spec §5), guarding the
// Arbiter read-modify-write and the DMA apply step against concurrent
// user operations on the *same* stream; Remaining and ActiveFormat are
// only ever touched while it is held. variant is additionally stored with
// atomics: spec §5's lock-ordering rule lets a stream's own operations
// (VIDEO_START, VIDEO_DQBUF) peek the sibling stream's variant without
// acquiring its state_lock, which is what keeps the only nested-lock
// direction (still's STILL_START/STILL_STOP writing into video) from ever
// running in reverse — a Go port has no interrupt-disable primitive to
// fall back on for that peek, so it gets an atomic load instead.
type StreamState struct {
	sync.Mutex

	Kind         v4l2.StreamType
	variant      atomic.Uint32
	Remaining    int32
	ActiveFormat v4l2.PixFormat
	Wait         *rendezvous
}

func newStreamState(kind v4l2.StreamType) *StreamState {
	s := &StreamState{
		Kind:      kind,
		Remaining: v4l2.RemainingInfinite,
		Wait:      newRendezvous(),
	}
	s.variant.Store(uint32(v4l2.StreamOff))
	return s
}

// Variant returns the stream's current variant. Safe to call without
// holding the stream's own Mutex — this is how the sibling stream peeks
// it during Arbiter consultation.
func (s *StreamState) Variant() v4l2.StreamVariant {
	return v4l2.StreamVariant(s.variant.Load())
}

func (s *StreamState) setVariant(v v4l2.StreamVariant) {
	s.variant.Store(uint32(v))
}

// IsCapturing reports whether the stream currently holds or awaits DMA
// ownership (STREAMON or DMA) — the Arbiter's "still is capturing" test.
func (s *StreamState) IsCapturing() bool {
	v := s.Variant()
	return v == v4l2.StreamOn || v == v4l2.StreamDMA
}

// IsIdle reports whether the stream is fully stopped.
func (s *StreamState) IsIdle() bool {
	return s.Variant() == v4l2.StreamOff
}

// reset returns the stream to STREAMOFF with an infinite remaining count,
// as happens on last close (spec §3) and after a still burst completes
// (spec §4.6 step 4, §8 invariant 8). Caller must hold the stream's Mutex.
func (s *StreamState) reset() {
	s.setVariant(v4l2.StreamOff)
	s.Remaining = v4l2.RemainingInfinite
}
