// Package v4l2 defines the data model shared between the capture core and
// its external collaborators: buffer descriptors, format and control
// records, stream/state enumerations, and the SensorCtl/ImageData
// interfaces the core drives. It holds no device logic of its own — that
// lives in package device.
package v4l2

import "errors"

// Error variables represent the error kinds surfaced by the capture core.
// Use errors.Is() to check for a specific kind; operations wrap these with
// operation-specific context via fmt.Errorf("...: %w", err).
var (
	// ErrorInvalidArg indicates a null input, unknown stream kind,
	// out-of-range index, or unsupported legacy control type.
	ErrorInvalidArg = errors.New("invalid argument")

	// ErrorNotPermitted indicates the operation is forbidden in the
	// current state (e.g. REQ_BUFS while a stream is mid-DMA, STREAMON
	// when already on, TAKEPICT_STOP when never started).
	ErrorNotPermitted = errors.New("not permitted")

	// ErrorOutOfMemory indicates the frame buffer queue is exhausted or
	// an allocation failed.
	ErrorOutOfMemory = errors.New("out of memory")

	// ErrorCanceled indicates a blocking dequeue was cancelled.
	ErrorCanceled = errors.New("canceled")

	// ErrorNotSupported indicates the sensor or image pipeline refused
	// the requested format or control.
	ErrorNotSupported = errors.New("not supported")
)
