package v4l2

// SensorCtl is the external collaborator that owns the image sensor: format
// and frame-size/interval capability enumeration, the currently active
// format, user/scene controls, and the half-push shutter pass-through.
// A systems-language port injects the sensor's operations table into the
// capture core at construction (spec §9); this interface is that table.
type SensorCtl interface {
	Open() error
	Close() error

	// GetRangeOfFmt returns the sensor's index'th advertised format. ok is
	// false once index walks past the sensor's terminal sentinel.
	GetRangeOfFmt(index uint32) (desc FormatDescriptor, ok bool, err error)
	// GetRangeOfFrameSize returns the sensor's index'th frame-size
	// capability for the given pixel format.
	GetRangeOfFrameSize(pixfmt FourCCType, index uint32) (size FrameSizeDescriptor, ok bool, err error)
	// GetRangeOfFrameInterval returns the sensor's index'th frame
	// interval capability for the given format and frame size; it is a
	// pure pass-through per spec §6.
	GetRangeOfFrameInterval(pixfmt FourCCType, width, height uint32, index uint32) (interval Fract, ok bool, err error)

	TryFormat(format PixFormat) (PixFormat, error)
	SetFormat(format PixFormat) error
	SetFrameInterval(interval Fract) error
	SetBufType(stream StreamType) error
	GetBufType() (StreamType, error)
	GetFormat() (PixFormat, error)
	DoHalfPush(on bool) error

	GetRangeOfCtrlValue(id CtrlID) (Control, error)
	GetMenuOfCtrlValue(id CtrlID, index uint32) (ControlMenuItem, bool, error)
	GetCtrlValue(id CtrlID) (CtrlValue, error)
	SetCtrlValue(id CtrlID, val CtrlValue) error

	GetRangeOfSceneParam(id SceneParamID) (SceneParam, error)
	GetMenuOfSceneParam(id SceneParamID, index uint32) (ControlMenuItem, bool, error)
	GetSceneParam(id SceneParamID) (SceneParamValue, error)
	SetSceneParam(id SceneParamID, val SceneParamValue) error
}

// ImageData is the external collaborator that owns the DMA-capable image
// pipeline: it accepts or rejects pixel formats the sensor advertises, and
// it is the only component that actually starts, chains, or cancels a DMA
// transfer.
type ImageData interface {
	Open() error
	Close() error

	// ChkPixelFormat reports whether the pipeline accepts the given
	// primary/sub-image pixel format pair (accepts_format, spec §4.2).
	ChkPixelFormat(pixfmt, subPixfmt FourCCType) bool
	// GetRangeOfFrameSize returns the pipeline's index'th frame-size
	// capability.
	GetRangeOfFrameSize(index uint32) (size FrameSizeDescriptor, ok bool, err error)
	// TryFormat validates (and may clamp) a candidate format against the
	// pipeline's own constraints (try_format, spec §4.2/§4.4).
	TryFormat(format PixFormat) (PixFormat, error)

	// StartDMA programs the pipeline to begin filling ptr (length bytes)
	// with data in the given format.
	StartDMA(format PixFormat, ptr uintptr, length uint32) error
	// SetDMABuf chains the next buffer for continuous capture without
	// interrupting the in-flight transfer (spec §4.4
	// set_next_for_still_or_video).
	SetDMABuf(ptr uintptr, length uint32) error
	// CancelDMA cancels any in-flight transfer. The pipeline may deliver
	// a completion with the error flag set, or silently swallow the
	// cancel; both are acceptable per spec §4.4.
	CancelDMA() error
}
