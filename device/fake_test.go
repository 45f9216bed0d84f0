package device

import (
	"fmt"
	"sync"

	"github.com/Barry-Xu-2018/spresense-camera/v4l2"
)

// fakeSensor and fakeImage are in-memory stand-ins for the SensorCtl and
// ImageData collaborators, used across this package's tests in place of
// a real sensor driver and DMA engine.

type fakeSensor struct {
	mu sync.Mutex

	formats    []v4l2.FormatDescriptor
	frameSizes map[v4l2.FourCCType][]v4l2.FrameSizeDescriptor

	buftype v4l2.StreamType
	format  v4l2.PixFormat

	controls map[v4l2.CtrlID]v4l2.Control
	menus    map[v4l2.CtrlID][]v4l2.ControlMenuItem

	sceneParams map[v4l2.SceneParamID]v4l2.SceneParam
	sceneValues map[v4l2.SceneParamID]v4l2.SceneParamValue

	halfpush bool
}

func newFakeSensor() *fakeSensor {
	return &fakeSensor{
		frameSizes:  map[v4l2.FourCCType][]v4l2.FrameSizeDescriptor{},
		controls:    map[v4l2.CtrlID]v4l2.Control{},
		menus:       map[v4l2.CtrlID][]v4l2.ControlMenuItem{},
		sceneParams: map[v4l2.SceneParamID]v4l2.SceneParam{},
		sceneValues: map[v4l2.SceneParamID]v4l2.SceneParamValue{},
	}
}

func (s *fakeSensor) Open() error  { return nil }
func (s *fakeSensor) Close() error { return nil }

func (s *fakeSensor) GetRangeOfFmt(index uint32) (v4l2.FormatDescriptor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= uint32(len(s.formats)) {
		return v4l2.FormatDescriptor{}, false, nil
	}
	return s.formats[index], true, nil
}

func (s *fakeSensor) GetRangeOfFrameSize(pixfmt v4l2.FourCCType, index uint32) (v4l2.FrameSizeDescriptor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := s.frameSizes[pixfmt]
	if index >= uint32(len(sizes)) {
		return v4l2.FrameSizeDescriptor{}, false, nil
	}
	return sizes[index], true, nil
}

func (s *fakeSensor) GetRangeOfFrameInterval(pixfmt v4l2.FourCCType, width, height uint32, index uint32) (v4l2.Fract, bool, error) {
	if index != 0 {
		return v4l2.Fract{}, false, nil
	}
	return v4l2.Fract{Numerator: 1, Denominator: 30}, true, nil
}

func (s *fakeSensor) TryFormat(format v4l2.PixFormat) (v4l2.PixFormat, error) {
	return format, nil
}

func (s *fakeSensor) SetFormat(format v4l2.PixFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = format
	return nil
}

func (s *fakeSensor) SetFrameInterval(v4l2.Fract) error { return nil }

func (s *fakeSensor) SetBufType(stream v4l2.StreamType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buftype = stream
	return nil
}

func (s *fakeSensor) GetBufType() (v4l2.StreamType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buftype, nil
}

func (s *fakeSensor) GetFormat() (v4l2.PixFormat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format, nil
}

func (s *fakeSensor) DoHalfPush(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halfpush = on
	return nil
}

func (s *fakeSensor) GetRangeOfCtrlValue(id v4l2.CtrlID) (v4l2.Control, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctrl, ok := s.controls[id]
	if !ok {
		return v4l2.Control{}, fmt.Errorf("fake sensor: control %d: %w", id, v4l2.ErrorNotSupported)
	}
	return ctrl, nil
}

func (s *fakeSensor) GetMenuOfCtrlValue(id v4l2.CtrlID, index uint32) (v4l2.ControlMenuItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.menus[id]
	if index >= uint32(len(items)) {
		return v4l2.ControlMenuItem{}, false, nil
	}
	return items[index], true, nil
}

func (s *fakeSensor) GetCtrlValue(id v4l2.CtrlID) (v4l2.CtrlValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctrl, ok := s.controls[id]
	if !ok {
		return 0, fmt.Errorf("fake sensor: control %d: %w", id, v4l2.ErrorNotSupported)
	}
	return ctrl.Value, nil
}

func (s *fakeSensor) SetCtrlValue(id v4l2.CtrlID, val v4l2.CtrlValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctrl, ok := s.controls[id]
	if !ok {
		return fmt.Errorf("fake sensor: control %d: %w", id, v4l2.ErrorNotSupported)
	}
	ctrl.Value = val
	s.controls[id] = ctrl
	return nil
}

func (s *fakeSensor) GetRangeOfSceneParam(id v4l2.SceneParamID) (v4l2.SceneParam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sceneParams[id]
	if !ok {
		return v4l2.SceneParam{}, fmt.Errorf("fake sensor: scene param %d: %w", id, v4l2.ErrorNotSupported)
	}
	return p, nil
}

func (s *fakeSensor) GetMenuOfSceneParam(id v4l2.SceneParamID, index uint32) (v4l2.ControlMenuItem, bool, error) {
	return v4l2.ControlMenuItem{}, false, nil
}

func (s *fakeSensor) GetSceneParam(id v4l2.SceneParamID) (v4l2.SceneParamValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sceneValues[id]
	if !ok {
		return 0, fmt.Errorf("fake sensor: scene param %d: %w", id, v4l2.ErrorNotSupported)
	}
	return v, nil
}

func (s *fakeSensor) SetSceneParam(id v4l2.SceneParamID, val v4l2.SceneParamValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sceneParams[id]; !ok {
		return fmt.Errorf("fake sensor: scene param %d: %w", id, v4l2.ErrorNotSupported)
	}
	s.sceneValues[id] = val
	return nil
}

type fakeImage struct {
	mu sync.Mutex

	accepted   map[[2]v4l2.FourCCType]bool
	frameSizes []v4l2.FrameSizeDescriptor

	startCalls  int
	chainCalls  int
	cancelCalls int
}

func newFakeImage() *fakeImage {
	return &fakeImage{accepted: map[[2]v4l2.FourCCType]bool{}}
}

func (p *fakeImage) Open() error  { return nil }
func (p *fakeImage) Close() error { return nil }

func (p *fakeImage) ChkPixelFormat(pixfmt, subPixfmt v4l2.FourCCType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted[[2]v4l2.FourCCType{pixfmt, subPixfmt}]
}

func (p *fakeImage) GetRangeOfFrameSize(index uint32) (v4l2.FrameSizeDescriptor, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index >= uint32(len(p.frameSizes)) {
		return v4l2.FrameSizeDescriptor{}, false, nil
	}
	return p.frameSizes[index], true, nil
}

func (p *fakeImage) TryFormat(format v4l2.PixFormat) (v4l2.PixFormat, error) {
	return format, nil
}

func (p *fakeImage) StartDMA(format v4l2.PixFormat, ptr uintptr, length uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startCalls++
	return nil
}

func (p *fakeImage) SetDMABuf(ptr uintptr, length uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chainCalls++
	return nil
}

func (p *fakeImage) CancelDMA() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelCalls++
	return nil
}
