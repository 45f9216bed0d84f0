package device

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Barry-Xu-2018/spresense-camera/v4l2"
)

// dmaController issues start/cancel/chain operations on the image
// pipeline (spec §4.4). It is invoked from both user context (apply, via
// StreamManager operations) and interrupt context (chain, from
// NotifyPath) and holds no state of its own beyond its collaborators —
// all bookkeeping lives in the FrameBufferQueue and StreamState it is
// handed.
type dmaController struct {
	sensor v4l2.SensorCtl
	image  v4l2.ImageData
	log    *zap.Logger
	met    *metrics
}

func newDMAController(sensor v4l2.SensorCtl, image v4l2.ImageData, log *zap.Logger, met *metrics) *dmaController {
	return &dmaController{sensor: sensor, image: image, log: log, met: met}
}

// apply realizes a target variant computed by the Arbiter (or directly by
// take_picture_start/stop) against one stream's queue and state. Per spec
// §4.4:
//
//   - cur != DMA, next == DMA: pop the head queued slot; if none, demote
//     next to STREAMON. Otherwise program the sensor's buffer-type
//     selector, read back the active format, and start DMA.
//   - cur == DMA, next != DMA: cancel the in-flight DMA; the hardware may
//     report the cancellation as a normal completion with the error flag
//     set, or swallow it silently — both are handled by NotifyPath, not
//     here.
//   - otherwise: the variant change carries no DMA side effect.
func (c *dmaController) apply(state *StreamState, queue *FrameBufferQueue, next v4l2.StreamVariant) error {
	cur := state.Variant()

	switch {
	case cur != v4l2.StreamDMA && next == v4l2.StreamDMA:
		idx, ok := queue.PopForDMA()
		if !ok {
			state.setVariant(v4l2.StreamOn)
			return nil
		}
		if err := c.sensor.SetBufType(queue.stream); err != nil {
			return fmt.Errorf("dma: set buftype: stream %s: %w", queue.stream, err)
		}
		format, err := c.sensor.GetFormat()
		if err != nil {
			return fmt.Errorf("dma: get format: stream %s: %w", queue.stream, err)
		}
		buf := queue.BufferAt(idx)
		if err := c.image.StartDMA(format, buf.Ptr, buf.Length); err != nil {
			return fmt.Errorf("dma: start: stream %s: %w", queue.stream, err)
		}
		state.setVariant(v4l2.StreamDMA)
		if c.met != nil {
			c.met.dmaStarts.WithLabelValues(queue.stream.String()).Inc()
		}

	case cur == v4l2.StreamDMA && next != v4l2.StreamDMA:
		if err := c.image.CancelDMA(); err != nil {
			c.log.Debug("cancel dma returned error, treating as swallowed",
				zap.String("stream", queue.stream.String()), zap.Error(err))
		}
		state.setVariant(next)

	default:
		state.setVariant(next)
	}

	return nil
}

// chain is the interrupt-context "set_next_for_still_or_video" step of
// spec §4.4: it picks the next target slot (including, in ring mode, the
// done-stealing fallback of FrameBufferQueue.nextDMATarget) and arms it on
// the pipeline without disturbing a completion already in flight. If
// nothing can be chained, it cancels the stream and reports so the caller
// can drive the state to STREAMON.
func (c *dmaController) chain(queue *FrameBufferQueue) (chained bool) {
	idx, ok := queue.nextDMATarget()
	if !ok {
		if err := c.image.CancelDMA(); err != nil {
			c.log.Debug("cancel dma on empty chain returned error",
				zap.String("stream", queue.stream.String()), zap.Error(err))
		}
		return false
	}
	buf := queue.BufferAt(idx)
	if err := c.image.SetDMABuf(buf.Ptr, buf.Length); err != nil {
		c.log.Debug("chain dma buffer rejected by pipeline",
			zap.String("stream", queue.stream.String()), zap.Error(err))
	}
	if c.met != nil {
		c.met.dmaStarts.WithLabelValues(queue.stream.String()).Inc()
	}
	return true
}
