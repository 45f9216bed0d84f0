package device

import (
	"fmt"

	"github.com/Barry-Xu-2018/spresense-camera/v4l2"
)

// FormatCatalog is the intersection of a sensor's advertised pixel
// formats with the image pipeline's accepted formats, computed once at
// Open and held immutable thereafter (spec §3, §4.2).
type FormatCatalog struct {
	stream v4l2.StreamType
	descs  []v4l2.FormatDescriptor
	sensor v4l2.SensorCtl
	image  v4l2.ImageData
}

// buildFormatCatalog walks the sensor's advertised formats for stream,
// starting at index zero until the sensor returns its terminal sentinel,
// keeping only the ones the image pipeline's accepts_format predicate
// approves. Output descriptors are re-indexed to their position in the
// filtered sequence, not the sensor's raw advertisement index.
func buildFormatCatalog(sensor v4l2.SensorCtl, image v4l2.ImageData, stream v4l2.StreamType) (*FormatCatalog, error) {
	if err := sensor.SetBufType(stream); err != nil {
		return nil, fmt.Errorf("format: build catalog: stream %s: set buftype: %w", stream, err)
	}

	var descs []v4l2.FormatDescriptor
	for i := uint32(0); ; i++ {
		d, ok, err := sensor.GetRangeOfFmt(i)
		if err != nil {
			return nil, fmt.Errorf("format: build catalog: stream %s: %w", stream, err)
		}
		if !ok {
			break
		}
		if !image.ChkPixelFormat(d.PixelFormat, d.SubPixelFormat) {
			continue
		}
		d.Index = uint32(len(descs))
		descs = append(descs, d)
	}

	return &FormatCatalog{stream: stream, descs: descs, sensor: sensor, image: image}, nil
}

// EnumFormat returns the index'th entry of the catalog's own output
// sequence. Successive calls with the same index return an identical
// descriptor (spec §8, format enumeration stability).
func (c *FormatCatalog) EnumFormat(index uint32) (v4l2.FormatDescriptor, error) {
	if index >= uint32(len(c.descs)) {
		return v4l2.FormatDescriptor{}, fmt.Errorf("format: enum fmt: index %d: %w", index, v4l2.ErrorInvalidArg)
	}
	return c.descs[index], nil
}

// Len returns the number of formats in the catalog.
func (c *FormatCatalog) Len() int {
	return len(c.descs)
}

// EnumFrameSize computes the index'th frame-size capability for pixfmt,
// per spec §4.2: if the sensor advertises discrete sizes, only the ones
// the pipeline's try_format accepts are kept and re-indexed; if the
// sensor advertises a stepwise range, a single merged stepwise descriptor
// is returned (index must be 0), combining sensor and pipeline bounds via
// lcm(step)/max(min)/min(max). An empty intersection is ErrorInvalidArg.
func (c *FormatCatalog) EnumFrameSize(pixfmt v4l2.FourCCType, index uint32) (v4l2.FrameSizeDescriptor, error) {
	probe, ok, err := c.sensor.GetRangeOfFrameSize(pixfmt, 0)
	if err != nil {
		return v4l2.FrameSizeDescriptor{}, fmt.Errorf("format: enum framesizes: pixfmt %d: %w", pixfmt, err)
	}
	if !ok {
		return v4l2.FrameSizeDescriptor{}, fmt.Errorf("format: enum framesizes: pixfmt %d: %w", pixfmt, v4l2.ErrorInvalidArg)
	}

	if probe.Type == v4l2.FrameSizeDiscreteType {
		return c.enumDiscreteFrameSize(pixfmt, index)
	}
	return c.enumStepwiseFrameSize(pixfmt, index, probe)
}

func (c *FormatCatalog) enumDiscreteFrameSize(pixfmt v4l2.FourCCType, index uint32) (v4l2.FrameSizeDescriptor, error) {
	var accepted []v4l2.FrameSizeDescriptor
	for i := uint32(0); ; i++ {
		sd, ok, err := c.sensor.GetRangeOfFrameSize(pixfmt, i)
		if err != nil {
			return v4l2.FrameSizeDescriptor{}, fmt.Errorf("format: enum framesizes: pixfmt %d: %w", pixfmt, err)
		}
		if !ok {
			break
		}
		candidate := v4l2.PixFormat{Width: sd.Discrete.Width, Height: sd.Discrete.Height, PixelFormat: pixfmt}
		if _, err := c.image.TryFormat(candidate); err != nil {
			continue
		}
		sd.Index = uint32(len(accepted))
		accepted = append(accepted, sd)
	}
	if index >= uint32(len(accepted)) {
		return v4l2.FrameSizeDescriptor{}, fmt.Errorf("format: enum framesizes: pixfmt %d index %d: %w", pixfmt, index, v4l2.ErrorInvalidArg)
	}
	return accepted[index], nil
}

func (c *FormatCatalog) enumStepwiseFrameSize(pixfmt v4l2.FourCCType, index uint32, sensorRange v4l2.FrameSizeDescriptor) (v4l2.FrameSizeDescriptor, error) {
	if index != 0 {
		return v4l2.FrameSizeDescriptor{}, fmt.Errorf("format: enum framesizes: pixfmt %d index %d: %w", pixfmt, index, v4l2.ErrorInvalidArg)
	}

	pipeRange, ok, err := c.image.GetRangeOfFrameSize(0)
	if err != nil {
		return v4l2.FrameSizeDescriptor{}, fmt.Errorf("format: enum framesizes: pixfmt %d: %w", pixfmt, err)
	}
	if !ok {
		return v4l2.FrameSizeDescriptor{}, fmt.Errorf("format: enum framesizes: pixfmt %d: %w", pixfmt, v4l2.ErrorInvalidArg)
	}

	pipeStep := pipeRange.Stepwise
	if pipeRange.Type == v4l2.FrameSizeDiscreteType {
		// The pipeline expresses a fixed physical bound; treat it as a
		// zero-width stepwise range for the merge below.
		pipeStep = v4l2.FrameSizeStepwise{
			MinWidth: pipeRange.Discrete.Width, MaxWidth: pipeRange.Discrete.Width, StepWidth: 1,
			MinHeight: pipeRange.Discrete.Height, MaxHeight: pipeRange.Discrete.Height, StepHeight: 1,
		}
	}

	merged, err := mergeStepwise(sensorRange.Stepwise, pipeStep)
	if err != nil {
		return v4l2.FrameSizeDescriptor{}, fmt.Errorf("format: enum framesizes: pixfmt %d: %w", pixfmt, err)
	}

	return v4l2.FrameSizeDescriptor{
		Index:       0,
		Type:        v4l2.FrameSizeStepwiseType,
		PixelFormat: pixfmt,
		Stepwise:    merged,
	}, nil
}

// mergeStepwise intersects two stepwise frame-size ranges as spec §4.2
// describes: step sizes combine via lcm, bounds narrow via max(min)/
// min(max), independently for the primary and sub-image planes. A range
// left entirely at zero on one side (no sub-image support) passes through
// the other side unchanged, except that a max bound that is zero on both
// sides comes out as the maximum uint32 value (see nonZero).
func mergeStepwise(a, b v4l2.FrameSizeStepwise) (v4l2.FrameSizeStepwise, error) {
	out := v4l2.FrameSizeStepwise{
		StepWidth:  lcm(a.StepWidth, b.StepWidth),
		MinWidth:   max(a.MinWidth, b.MinWidth),
		MaxWidth:   min(nonZero(a.MaxWidth), nonZero(b.MaxWidth)),
		StepHeight: lcm(a.StepHeight, b.StepHeight),
		MinHeight:  max(a.MinHeight, b.MinHeight),
		MaxHeight:  min(nonZero(a.MaxHeight), nonZero(b.MaxHeight)),

		SubStepWidth:  lcm(a.SubStepWidth, b.SubStepWidth),
		SubMinWidth:   max(a.SubMinWidth, b.SubMinWidth),
		SubMaxWidth:   min(nonZero(a.SubMaxWidth), nonZero(b.SubMaxWidth)),
		SubStepHeight: lcm(a.SubStepHeight, b.SubStepHeight),
		SubMinHeight:  max(a.SubMinHeight, b.SubMinHeight),
		SubMaxHeight:  min(nonZero(a.SubMaxHeight), nonZero(b.SubMaxHeight)),
	}

	if out.MinWidth > out.MaxWidth || out.MinHeight > out.MaxHeight {
		return v4l2.FrameSizeStepwise{}, fmt.Errorf("format: merge stepwise: %w", v4l2.ErrorInvalidArg)
	}
	return out, nil
}

// nonZero maps an absent ("0 means unbounded") max back to the maximum
// representable value so min() doesn't collapse the merge to zero.
func nonZero(v uint32) uint32 {
	if v == 0 {
		return ^uint32(0)
	}
	return v
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// lcm returns the least common multiple of a and b, treating a zero step
// (unconstrained) as the identity of the other operand.
func lcm(a, b uint32) uint32 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	return a / gcd(a, b) * b
}
