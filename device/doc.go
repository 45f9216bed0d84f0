// Package device implements the dual-stream capture core: a StreamManager
// that arbitrates DMA ownership between a continuous video stream and a
// bursty still stream over one shared image pipeline, plus the
// FrameBufferQueue, FormatCatalog, Arbiter, and NotifyPath pieces it
// composes.
//
// The core never touches real hardware. It is driven entirely through the
// v4l2.SensorCtl and v4l2.ImageData collaborator interfaces, injected at
// Open; callers own discovering, opening, and wiring the real sensor and
// DMA engine.
package device
