package device

import (
	"go.uber.org/zap"

	"github.com/Barry-Xu-2018/spresense-camera/v4l2"
)

// NotifyPath is the interrupt-context entry the image pipeline calls on
// each DMA completion (spec §4.6). stream is the buffer-type the sensor
// had last selected for the transfer that just completed; bytesUsed and
// errFlag describe the result.
//
// The original design has NotifyPath take no state lock at all, relying
// on interrupt-disable against the same-CPU user thread (spec §5). A Go
// port has no interrupt-disable primitive, so this port adapts that
// guarantee onto the same per-stream Mutex ordinary operations use —
// NotifyPath holds the resolved stream's own lock for the duration of
// steps 1–5, and never acquires the sibling stream's lock, only posting
// to its rendezvous (which has its own independent mutex). That keeps
// NotifyPath lock-free against the sibling while staying race-free under
// Go's memory model.
//
// NotifyPath cannot fail; an unrecognized stream is dropped with a debug
// trace (spec §7), and so is a completion with no dma-current slot to
// attribute it to.
func (m *Manager) NotifyPath(stream v4l2.StreamType, errFlag bool, bytesUsed uint32) {
	state, queue, _, err := m.resolve(stream)
	if err != nil {
		m.log.Debug("notify path: dropped completion for unrecognized buffer-type", zap.Uint32("stream", uint32(stream)))
		return
	}

	state.Lock()

	freeBefore, _, _, _ := queue.Counts()
	if _, ok := queue.DMADone(bytesUsed, errFlag); !ok {
		state.Unlock()
		m.log.Debug("notify path: dropped completion with no dma-current slot", zap.String("stream", stream.String()))
		return
	}
	if m.met != nil {
		// DMADone only grows free by evicting the oldest done slot.
		if freeAfter, _, _, _ := queue.Counts(); freeAfter > freeBefore {
			m.met.ringEvictions.WithLabelValues(stream.String()).Inc()
		}
	}

	if state.Remaining > 0 {
		state.Remaining--
	}

	if state.Wait.hasWaiter() {
		if buf, ok := queue.PopDone(); ok {
			state.Wait.post(v4l2.WaitCauseDMADone, buf)
		}
	}

	if state.Remaining == 0 {
		if err := m.image.CancelDMA(); err != nil {
			m.log.Debug("notify path: cancel dma on burst completion returned error",
				zap.String("stream", stream.String()), zap.Error(err))
		}
		state.reset()
		m.observeQueue(stream, queue)
		state.Unlock()

		if stream == v4l2.StreamStill {
			// Spurious wake: invites the video dequeue loop to
			// re-evaluate the Arbiter now that still has yielded.
			m.video.Wait.post(v4l2.WaitCauseStillStop, v4l2.Buffer{})
		}
		return
	}

	// A video completion can arrive after still has already preempted it
	// (the cancellation from apply's cur==DMA branch is acknowledged late).
	// Still always has priority, so video must not re-claim DMA here; it
	// yields to STREAMON and waits for STILL_STOP to resume it.
	if stream == v4l2.StreamVideo && m.still.IsCapturing() {
		state.setVariant(v4l2.StreamOn)
	} else if m.dma.chain(queue) {
		state.setVariant(v4l2.StreamDMA)
	} else {
		state.setVariant(v4l2.StreamOn)
	}
	m.observeQueue(stream, queue)
	state.Unlock()
}
