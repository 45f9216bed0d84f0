package device

import (
	"fmt"

	"github.com/Barry-Xu-2018/spresense-camera/v4l2"
)

// slotState tracks which of the four sub-lists (free, queued, dma-current,
// done) a container slot currently belongs to. A slot occupies exactly one
// sub-list at a time (spec §4.1).
type slotState uint8

const (
	slotFree slotState = iota
	slotQueued
	slotDMA
	slotDone
)

type slotRecord struct {
	buf   v4l2.Buffer
	state slotState
}

// FrameBufferQueue is the per-stream ordered queue of buffer descriptors
// described in spec §4.1. It is not safe for concurrent use on its own —
// callers serialize access with the owning stream's state lock (or, from
// NotifyPath, by already running with interrupts disabled), exactly as
// spec §5 describes.
type FrameBufferQueue struct {
	stream v4l2.StreamType
	mode   v4l2.BufferMode

	slots []slotRecord
	free  []uint32
	// queued and done are FIFOs; a slice with a moving head index avoids
	// O(n) pops without pulling in a container library the way
	// go4vl/device/frame_pool.go keeps its own stats with sync/atomic
	// rather than a dependency.
	queued []uint32
	done   []uint32

	hasDMA   bool
	dmaIndex uint32
}

// NewFrameBufferQueue creates an empty queue for the given stream. Call
// Realloc to give it slots before use.
func NewFrameBufferQueue(stream v4l2.StreamType) *FrameBufferQueue {
	return &FrameBufferQueue{stream: stream}
}

// SetMode sets the ring/fifo overflow policy. It has no effect on slots
// already in flight.
func (q *FrameBufferQueue) SetMode(mode v4l2.BufferMode) {
	q.mode = mode
}

// Mode returns the current buffering mode.
func (q *FrameBufferQueue) Mode() v4l2.BufferMode {
	return q.mode
}

// Capacity returns the configured container slot count.
func (q *FrameBufferQueue) Capacity() uint32 {
	return uint32(len(q.slots))
}

// Realloc resizes the queue to n container slots. It fails with
// ErrorNotPermitted if a slot is currently dma-current (spec: "Fails with
// BUSY"; this core surfaces that as NotPermitted, the closest of the five
// kinds in spec §7). A successful realloc drops all queued/done state and
// rebuilds the free list from scratch — request-buffers is a
// configuration-time operation, not a live resize while slots are in
// flight for a stream that's already serving buffers.
func (q *FrameBufferQueue) Realloc(n uint32) error {
	if q.hasDMA {
		return fmt.Errorf("queue: realloc: stream %s: %w", q.stream, v4l2.ErrorNotPermitted)
	}

	q.slots = make([]slotRecord, n)
	q.free = make([]uint32, n)
	for i := range q.free {
		q.free[i] = uint32(i)
	}
	q.queued = nil
	q.done = nil
	q.hasDMA = false
	return nil
}

// AcquireFree removes and returns the index of a free slot, or
// ErrorOutOfMemory if none remain.
func (q *FrameBufferQueue) AcquireFree() (uint32, error) {
	if len(q.free) == 0 {
		return 0, fmt.Errorf("queue: acquire free: stream %s: %w", q.stream, v4l2.ErrorOutOfMemory)
	}
	idx := q.free[len(q.free)-1]
	q.free = q.free[:len(q.free)-1]
	return idx, nil
}

// Enqueue stores buf at idx (acquired via AcquireFree) and appends it to
// the tail of the queued sub-list.
func (q *FrameBufferQueue) Enqueue(idx uint32, buf v4l2.Buffer) {
	buf.Index = idx
	q.slots[idx] = slotRecord{buf: buf, state: slotQueued}
	q.queued = append(q.queued, idx)
}

// HasFreeOrQueued reports whether a new DMA could be started without
// stealing from done — used by fifo mode to refuse new captures rather
// than starting them over an already-full done list (spec §3).
func (q *FrameBufferQueue) HasFreeOrQueued() bool {
	return len(q.free) > 0 || len(q.queued) > 0
}

// PopForDMA moves the head queued slot to dma-current and returns its
// index. It returns ok=false if a slot is already dma-current or none is
// queued.
func (q *FrameBufferQueue) PopForDMA() (uint32, bool) {
	if q.hasDMA || len(q.queued) == 0 {
		return 0, false
	}
	idx := q.queued[0]
	q.queued = q.queued[1:]
	q.slots[idx].state = slotDMA
	q.hasDMA = true
	q.dmaIndex = idx
	return idx, true
}

// nextDMATarget is the chaining step used by the DMA controller and
// NotifyPath to pick the next buffer to capture into. It prefers an
// explicitly queued slot; in ring mode, when nothing is queued, it steals
// the oldest done slot instead of idling, which is what lets a ring-mode
// stream free-run on a fixed buffer count without further QBUF calls (see
// DESIGN.md, "ring-mode evict oldest done mechanics").
func (q *FrameBufferQueue) nextDMATarget() (uint32, bool) {
	if q.HasFreeOrQueued() {
		if idx, ok := q.PopForDMA(); ok {
			return idx, true
		}
	}
	if q.mode != v4l2.BufferModeRing || q.hasDMA || len(q.done) == 0 {
		return 0, false
	}
	idx := q.done[0]
	q.done = q.done[1:]
	q.slots[idx].state = slotDMA
	q.hasDMA = true
	q.dmaIndex = idx
	return idx, true
}

// DMADone moves the dma-current slot to the tail of done, stamping
// bytesUsed and the error flag. In ring mode, if done is non-empty and
// already holds capacity-1 slots — so appending this completion would
// fill the whole pool with undrained backlog — the oldest done slot is
// evicted to free first, so the ring keeps cycling. Slots popped from
// done but not yet released do not count toward that threshold.
func (q *FrameBufferQueue) DMADone(bytesUsed uint32, errFlag bool) (uint32, bool) {
	if !q.hasDMA {
		return 0, false
	}
	idx := q.dmaIndex
	q.hasDMA = false

	rec := &q.slots[idx]
	rec.buf.BytesUsed = bytesUsed
	if errFlag {
		rec.buf.Flags |= v4l2.BufFlagError
	} else {
		rec.buf.Flags &^= v4l2.BufFlagError
	}
	rec.state = slotDone

	if q.mode == v4l2.BufferModeRing && len(q.done) > 0 && len(q.done) >= len(q.slots)-1 {
		evictIdx := q.done[0]
		q.done = q.done[1:]
		q.slots[evictIdx].state = slotFree
		q.free = append(q.free, evictIdx)
	}

	q.done = append(q.done, idx)
	return idx, true
}

// PopDone removes and returns the head of the done sub-list. The slot is
// left outside all sub-lists until Release is called on it.
func (q *FrameBufferQueue) PopDone() (v4l2.Buffer, bool) {
	if len(q.done) == 0 {
		return v4l2.Buffer{}, false
	}
	idx := q.done[0]
	q.done = q.done[1:]
	return q.slots[idx].buf, true
}

// Release returns idx to the free sub-list.
func (q *FrameBufferQueue) Release(idx uint32) {
	q.slots[idx].state = slotFree
	q.free = append(q.free, idx)
}

// BufferAt returns the current stored buffer value for idx, primarily so
// the DMA controller can read the Ptr/Length of the slot it's about to
// program without the caller re-supplying them.
func (q *FrameBufferQueue) BufferAt(idx uint32) v4l2.Buffer {
	return q.slots[idx].buf
}

// Counts returns the number of slots in each sub-list, for invariant
// checks and metrics. free + queued + dma + done always equals Capacity().
func (q *FrameBufferQueue) Counts() (free, queued, dma, done int) {
	dmaCount := 0
	if q.hasDMA {
		dmaCount = 1
	}
	return len(q.free), len(q.queued), dmaCount, len(q.done)
}

// HasDMA reports whether a slot is currently dma-current.
func (q *FrameBufferQueue) HasDMA() bool {
	return q.hasDMA
}
