package device

import (
	"fmt"

	"github.com/Barry-Xu-2018/spresense-camera/v4l2"
)

// This file is the rest of the operation surface (spec §6): everything
// that isn't buffer queueing or stream/state transitions. Each exported
// method here corresponds to one ioctl-style command; a Go port expresses
// "discriminated by command code" as distinct typed methods rather than a
// single untyped dispatch function, the way go4vl exposes V4L2 ioctls.

// EnumFormat returns the index'th entry of stream's FormatCatalog
// (ENUM_FMT).
func (m *Manager) EnumFormat(stream v4l2.StreamType, index uint32) (v4l2.FormatDescriptor, error) {
	m.observeCommand(v4l2.CmdEnumFmt)
	_, _, catalog, err := m.resolve(stream)
	if err != nil {
		return v4l2.FormatDescriptor{}, err
	}
	return catalog.EnumFormat(index)
}

// EnumFrameSizes returns the index'th frame-size capability for pixfmt on
// stream (ENUM_FRAMESIZES).
func (m *Manager) EnumFrameSizes(stream v4l2.StreamType, pixfmt v4l2.FourCCType, index uint32) (v4l2.FrameSizeDescriptor, error) {
	m.observeCommand(v4l2.CmdEnumFrameSizes)
	_, _, catalog, err := m.resolve(stream)
	if err != nil {
		return v4l2.FrameSizeDescriptor{}, err
	}
	return catalog.EnumFrameSize(pixfmt, index)
}

// EnumFrameIntervals is a pure pass-through to the sensor (spec §6).
func (m *Manager) EnumFrameIntervals(pixfmt v4l2.FourCCType, width, height, index uint32) (v4l2.Fract, error) {
	m.observeCommand(v4l2.CmdEnumFrameIntervals)
	interval, ok, err := m.sensor.GetRangeOfFrameInterval(pixfmt, width, height, index)
	if err != nil {
		return v4l2.Fract{}, fmt.Errorf("device: enum frameintervals: %w", err)
	}
	if !ok {
		return v4l2.Fract{}, fmt.Errorf("device: enum frameintervals: index %d: %w", index, v4l2.ErrorInvalidArg)
	}
	return interval, nil
}

// TryFormat validates format against the image pipeline first (its
// physical constraints are the narrower of the two collaborators), then
// against the sensor, without committing it (TRY_FMT).
func (m *Manager) TryFormat(stream v4l2.StreamType, format v4l2.PixFormat) (v4l2.PixFormat, error) {
	m.observeCommand(v4l2.CmdTryFmt)
	if _, _, _, err := m.resolve(stream); err != nil {
		return v4l2.PixFormat{}, err
	}
	clamped, err := m.image.TryFormat(format)
	if err != nil {
		return v4l2.PixFormat{}, fmt.Errorf("device: try format: stream %s: %w", stream, err)
	}
	result, err := m.sensor.TryFormat(clamped)
	if err != nil {
		return v4l2.PixFormat{}, fmt.Errorf("device: try format: stream %s: %w", stream, err)
	}
	return result, nil
}

// SetFormat commits format to stream (S_FMT). It fails ErrorNotPermitted
// while the stream is DMA.
func (m *Manager) SetFormat(stream v4l2.StreamType, format v4l2.PixFormat) error {
	m.observeCommand(v4l2.CmdSFmt)
	state, _, _, err := m.resolve(stream)
	if err != nil {
		return err
	}
	result, err := m.TryFormat(stream, format)
	if err != nil {
		return err
	}

	state.Lock()
	defer state.Unlock()

	if state.Variant() == v4l2.StreamDMA {
		return fmt.Errorf("device: set format: stream %s: %w", stream, v4l2.ErrorNotPermitted)
	}
	if err := m.sensor.SetFormat(result); err != nil {
		return fmt.Errorf("device: set format: stream %s: %w", stream, err)
	}
	state.ActiveFormat = result
	return nil
}

// SetFrameInterval is a pass-through to the sensor (S_PARM).
func (m *Manager) SetFrameInterval(interval v4l2.Fract) error {
	m.observeCommand(v4l2.CmdSParm)
	if err := m.sensor.SetFrameInterval(interval); err != nil {
		return fmt.Errorf("device: s_parm: %w", err)
	}
	return nil
}

// QueryExtControl is the extended control query (QUERY_EXT_CTRL).
func (m *Manager) QueryExtControl(id v4l2.CtrlID) (v4l2.Control, error) {
	m.observeCommand(v4l2.CmdQueryExtCtrl)
	ctrl, err := m.sensor.GetRangeOfCtrlValue(id)
	if err != nil {
		return v4l2.Control{}, fmt.Errorf("device: query ext ctrl: id %d: %w", id, err)
	}
	return ctrl, nil
}

// QueryControl is the legacy QUERYCTRL: it delegates to the extended
// query and truncates, rejecting types the legacy form cannot carry
// (spec §6, §12 supplemented legacy behavior).
func (m *Manager) QueryControl(id v4l2.CtrlID) (v4l2.Control, error) {
	m.observeCommand(v4l2.CmdQueryCtrl)
	ctrl, err := m.QueryExtControl(id)
	if err != nil {
		return v4l2.Control{}, err
	}
	if ctrl.Type.IsLegacyIncompatible() {
		return v4l2.Control{}, fmt.Errorf("device: query ctrl: id %d: type %d unsupported by legacy form: %w", id, ctrl.Type, v4l2.ErrorInvalidArg)
	}
	return ctrl, nil
}

// QueryMenu returns the index'th menu item of a menu-typed control
// (QUERYMENU).
func (m *Manager) QueryMenu(id v4l2.CtrlID, index uint32) (v4l2.ControlMenuItem, error) {
	m.observeCommand(v4l2.CmdQueryMenu)
	ctrl, err := m.QueryExtControl(id)
	if err != nil {
		return v4l2.ControlMenuItem{}, err
	}
	if !ctrl.IsMenu() {
		return v4l2.ControlMenuItem{}, fmt.Errorf("device: query menu: id %d: not a menu control: %w", id, v4l2.ErrorInvalidArg)
	}
	item, ok, err := m.sensor.GetMenuOfCtrlValue(id, index)
	if err != nil {
		return v4l2.ControlMenuItem{}, fmt.Errorf("device: query menu: id %d: %w", id, err)
	}
	if !ok {
		return v4l2.ControlMenuItem{}, fmt.Errorf("device: query menu: id %d index %d: %w", id, index, v4l2.ErrorInvalidArg)
	}
	return item, nil
}

// GetExtControls reads a batch of controls (G_EXT_CTRLS).
func (m *Manager) GetExtControls(ids []v4l2.CtrlID) ([]v4l2.ExtControl, error) {
	m.observeCommand(v4l2.CmdGExtCtrls)
	out := make([]v4l2.ExtControl, len(ids))
	for i, id := range ids {
		val, err := m.sensor.GetCtrlValue(id)
		if err != nil {
			return nil, fmt.Errorf("device: g_ext_ctrls: id %d: %w", id, err)
		}
		out[i] = v4l2.ExtControl{ID: id, Value: val}
	}
	return out, nil
}

// GetControl is the legacy G_CTRL.
func (m *Manager) GetControl(id v4l2.CtrlID) (v4l2.CtrlValue, error) {
	m.observeCommand(v4l2.CmdGCtrl)
	ctrl, err := m.QueryExtControl(id)
	if err != nil {
		return 0, err
	}
	if ctrl.Type.IsLegacyIncompatible() {
		return 0, fmt.Errorf("device: g_ctrl: id %d: type %d unsupported by legacy form: %w", id, ctrl.Type, v4l2.ErrorInvalidArg)
	}
	val, err := m.sensor.GetCtrlValue(id)
	if err != nil {
		return 0, fmt.Errorf("device: g_ctrl: id %d: %w", id, err)
	}
	return val, nil
}

// SetExtControls applies a batch of controls one at a time (S_EXT_CTRLS).
// On failure it reports errorIdx, the number of controls successfully
// applied before the failing one — spec §7's "user-visible failure:
// partial control-set failures report error_idx", which go4vl's single
// SetExtControlValues call has no equivalent for (spec §12 supplement).
func (m *Manager) SetExtControls(controls []v4l2.ExtControl) (errorIdx int, err error) {
	m.observeCommand(v4l2.CmdSExtCtrls)
	for i, c := range controls {
		if err := m.sensor.SetCtrlValue(c.ID, c.Value); err != nil {
			return i, fmt.Errorf("device: s_ext_ctrls: id %d: %w", c.ID, err)
		}
	}
	return len(controls), nil
}

// SetControl is the legacy S_CTRL.
func (m *Manager) SetControl(id v4l2.CtrlID, val v4l2.CtrlValue) error {
	m.observeCommand(v4l2.CmdSCtrl)
	ctrl, err := m.QueryExtControl(id)
	if err != nil {
		return err
	}
	if ctrl.Type.IsLegacyIncompatible() {
		return fmt.Errorf("device: s_ctrl: id %d: type %d unsupported by legacy form: %w", id, ctrl.Type, v4l2.ErrorInvalidArg)
	}
	if err := m.sensor.SetCtrlValue(id, val); err != nil {
		return fmt.Errorf("device: s_ctrl: id %d: %w", id, err)
	}
	return nil
}

// QueryExtControlScene is the scene-mode counterpart of QueryExtControl
// (QUERY_EXT_CTRL_SCENE).
func (m *Manager) QueryExtControlScene(id v4l2.SceneParamID) (v4l2.SceneParam, error) {
	m.observeCommand(v4l2.CmdQueryExtCtrlScene)
	param, err := m.sensor.GetRangeOfSceneParam(id)
	if err != nil {
		return v4l2.SceneParam{}, fmt.Errorf("device: query ext ctrl scene: id %d: %w", id, err)
	}
	return param, nil
}

// QueryMenuScene is the scene-mode counterpart of QueryMenu
// (QUERYMENU_SCENE).
func (m *Manager) QueryMenuScene(id v4l2.SceneParamID, index uint32) (v4l2.ControlMenuItem, error) {
	m.observeCommand(v4l2.CmdQueryMenuScene)
	item, ok, err := m.sensor.GetMenuOfSceneParam(id, index)
	if err != nil {
		return v4l2.ControlMenuItem{}, fmt.Errorf("device: query menu scene: id %d: %w", id, err)
	}
	if !ok {
		return v4l2.ControlMenuItem{}, fmt.Errorf("device: query menu scene: id %d index %d: %w", id, index, v4l2.ErrorInvalidArg)
	}
	return item, nil
}

// GetExtControlsScene reads a batch of scene parameters
// (G_EXT_CTRLS_SCENE).
func (m *Manager) GetExtControlsScene(ids []v4l2.SceneParamID) ([]v4l2.SceneParamValue, error) {
	m.observeCommand(v4l2.CmdGExtCtrlsScene)
	out := make([]v4l2.SceneParamValue, len(ids))
	for i, id := range ids {
		val, err := m.sensor.GetSceneParam(id)
		if err != nil {
			return nil, fmt.Errorf("device: g_ext_ctrls_scene: id %d: %w", id, err)
		}
		out[i] = val
	}
	return out, nil
}

// SceneParamValuePair is one entry of a S_EXT_CTRLS_SCENE request.
type SceneParamValuePair struct {
	ID    v4l2.SceneParamID
	Value v4l2.SceneParamValue
}

// SetExtControlsScene applies a batch of scene parameters one at a time,
// reporting errorIdx on partial failure the same way SetExtControls does
// (S_EXT_CTRLS_SCENE).
func (m *Manager) SetExtControlsScene(params []SceneParamValuePair) (errorIdx int, err error) {
	m.observeCommand(v4l2.CmdSExtCtrlsScene)
	for i, p := range params {
		if err := m.sensor.SetSceneParam(p.ID, p.Value); err != nil {
			return i, fmt.Errorf("device: s_ext_ctrls_scene: id %d: %w", p.ID, err)
		}
	}
	return len(params), nil
}
